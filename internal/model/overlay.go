package model

import (
	"strings"
	"time"
)

// AdjustmentType classifies the trade-remedy authority behind an overlay.
type AdjustmentType string

const (
	AdjustmentSection301      AdjustmentType = "section_301"
	AdjustmentSection232      AdjustmentType = "section_232"
	AdjustmentIEEPAReciprocal AdjustmentType = "ieepa_reciprocal"
	AdjustmentOther           AdjustmentType = "other"
)

// PolicyOverlay is a time-bounded additional tariff imposed under trade-remedy
// authority. An overlay is applicable only while active and inside its
// [EffectiveDate, ExpiresAt) window; expired overlays are stale and must be
// surfaced separately, never silently treated as live.
type PolicyOverlay struct {
	PolicyID             string         `json:"policy_id"`
	HSCodePattern        string         `json:"hs_code_pattern"`
	AffectedCountries    []string       `json:"affected_countries,omitempty"` // empty = all
	AdjustmentType       AdjustmentType `json:"adjustment_type"`
	AdjustmentPercentage float64        `json:"adjustment_percentage"`
	EffectiveDate        time.Time      `json:"effective_date"`
	ExpiresAt            time.Time      `json:"expires_at"`
	IsActive             bool           `json:"is_active"`
	VerifiedDate         time.Time      `json:"verified_date"`
	Description          string         `json:"description,omitempty"`
}

// MatchesCode reports whether the overlay's pattern matches the HS code,
// either exactly or as a prefix. Dots are ignored so "8544.30" matches a
// pattern of "854430" or "8544".
func (o PolicyOverlay) MatchesCode(hsCode string) bool {
	pattern := NormalizeHSCode(o.HSCodePattern)
	code := NormalizeHSCode(hsCode)
	if pattern == "" || code == "" {
		return false
	}
	return strings.HasPrefix(code, pattern)
}

// MatchesCountries reports whether the overlay applies to any of the given
// origin countries. An empty affected set means the overlay applies to all
// origins.
func (o PolicyOverlay) MatchesCountries(countries []string) bool {
	if len(o.AffectedCountries) == 0 {
		return true
	}
	for _, affected := range o.AffectedCountries {
		for _, c := range countries {
			if strings.EqualFold(affected, c) {
				return true
			}
		}
	}
	return false
}

// InWindow reports whether t falls inside [EffectiveDate, ExpiresAt).
func (o PolicyOverlay) InWindow(t time.Time) bool {
	if t.Before(o.EffectiveDate) {
		return false
	}
	if !o.ExpiresAt.IsZero() && !t.Before(o.ExpiresAt) {
		return false
	}
	return true
}

// NormalizeHSCode strips dots and whitespace from an HS code so codes from
// different sources compare consistently.
func NormalizeHSCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, ".", "")
	return code
}

// HSChapter returns the two-digit chapter prefix of an HS code, or "" when
// the code is too short.
func HSChapter(code string) string {
	n := NormalizeHSCode(code)
	if len(n) < 2 {
		return ""
	}
	return n[:2]
}
