package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Rate is a tri-state duty rate: either a verified percentage (0 is a real,
// verified duty-free rate) or Unknown, meaning the rate has not been verified
// yet. Unknown must never collapse to zero anywhere in the pipeline.
type Rate struct {
	value    float64
	verified bool
}

// Verified returns a rate with a confirmed percentage value.
func Verified(pct float64) Rate {
	return Rate{value: pct, verified: true}
}

// Unknown returns a rate that has not been verified.
func Unknown() Rate {
	return Rate{}
}

// IsVerified reports whether the rate carries a confirmed value.
func (r Rate) IsVerified() bool {
	return r.verified
}

// Value returns the percentage and whether it is verified. Callers must
// check ok before using the value.
func (r Rate) Value() (pct float64, ok bool) {
	return r.value, r.verified
}

// Or returns the verified value, or fallback when the rate is Unknown.
func (r Rate) Or(fallback float64) float64 {
	if r.verified {
		return r.value
	}
	return fallback
}

func (r Rate) String() string {
	if !r.verified {
		return "unverified"
	}
	return fmt.Sprintf("%.2f%%", r.value)
}

// MarshalJSON encodes a verified rate as a number and Unknown as null.
func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.verified {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// UnmarshalJSON decodes null as Unknown and any number as a verified rate.
func (r *Rate) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*r = Unknown()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Verified(v)
	return nil
}

// TariffRateRecord is one row of the tariff reference table. MFN and USMCA
// rates are tri-state: Unknown means "not yet verified", which is distinct
// from a verified duty-free rate of zero.
type TariffRateRecord struct {
	HSCode      string `json:"hs_code"`
	Description string `json:"description"`
	MFNRate     Rate   `json:"mfn_rate"`
	USMCARate   Rate   `json:"usmca_rate"`
}
