// Package rvc computes regional value content for USMCA qualification.
package rvc

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
)

// ErrValueShareExceeded is returned when component value shares sum past
// 100% beyond the configured rounding tolerance.
var ErrValueShareExceeded = eris.New("rvc: component value shares exceed 100%")

// CalculatorConfig holds the tunables for the regional content calculation.
type CalculatorConfig struct {
	// AssemblyCreditCap is the maximum percentage-point credit granted for
	// final assembly in a USMCA territory.
	AssemblyCreditCap float64
	// ValueSumTolerance is how far past 100% the component sum may go before
	// the input is rejected as malformed.
	ValueSumTolerance float64
}

// DefaultConfig returns the documented calculation defaults.
func DefaultConfig() CalculatorConfig {
	return CalculatorConfig{
		AssemblyCreditCap: 15,
		ValueSumTolerance: 0.5,
	}
}

// Calculator computes regional content. It holds no mutable state and is
// safe for concurrent use.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a calculator with the given config.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	if cfg.AssemblyCreditCap < 0 {
		cfg.AssemblyCreditCap = 0
	}
	return &Calculator{cfg: cfg}
}

// Calculate computes the originating-content percentage for a bill of
// materials and manufacturing location. Input with value shares summing past
// 100% beyond tolerance is rejected before any computation.
func (c *Calculator) Calculate(components []model.Component, manufacturingLocation string) (*model.RegionalContent, error) {
	var total, originating float64
	qualified := make(map[string]bool)
	nonQualified := make(map[string]bool)

	for _, comp := range components {
		if comp.ValuePercentage < 0 {
			return nil, eris.Errorf("rvc: negative value share %.2f for %q", comp.ValuePercentage, comp.Description)
		}
		total += comp.ValuePercentage
		if model.IsUSMCACountry(comp.OriginCountry) {
			originating += comp.ValuePercentage
			qualified[comp.OriginCountry] = true
		} else if comp.OriginCountry != "" {
			nonQualified[comp.OriginCountry] = true
		}
	}

	if total > 100+c.cfg.ValueSumTolerance {
		return nil, eris.Wrapf(ErrValueShareExceeded, "sum %.2f", total)
	}

	if total == 0 {
		// No component data: report zero explicitly rather than dividing.
		return &model.RegionalContent{
			Percentage:            0,
			QualifiedCountries:    []string{},
			NonQualifiedCountries: []string{},
			NoComponentData:       true,
		}, nil
	}

	// Final assembly in a USMCA territory earns a transformation credit,
	// capped so the total never exceeds 100.
	var credit float64
	if model.IsUSMCACountry(manufacturingLocation) {
		headroom := 100 - originating
		if headroom < 0 {
			headroom = 0
		}
		credit = math.Min(c.cfg.AssemblyCreditCap, headroom)
		qualified[manufacturingLocation] = true
	}

	pct := (originating + credit) / total * 100
	pct = math.Round(pct*10) / 10
	if pct > 100 {
		pct = 100
	}

	return &model.RegionalContent{
		Percentage:            pct,
		OriginatingValue:      originating,
		NonOriginatingValue:   total - originating,
		AssemblyCredit:        credit,
		QualifiedCountries:    sortedKeys(qualified),
		NonQualifiedCountries: sortedKeys(nonQualified),
	}, nil
}

// Determination compares a percentage against a threshold with a
// near-qualified band: at or above threshold is QUALIFIED, within band
// points below is PARTIAL (a remediable gap), anything lower is
// NOT_QUALIFIED.
func Determination(percentage, threshold, nearBand float64) model.QualificationStatus {
	switch {
	case percentage >= threshold:
		return model.StatusQualified
	case nearBand > 0 && percentage >= threshold-nearBand:
		return model.StatusPartial
	default:
		return model.StatusNotQualified
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
