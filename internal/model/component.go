package model

// ClassificationSource identifies which search strategy produced a resolved
// HS code.
type ClassificationSource string

const (
	SourceReferenceTable ClassificationSource = "reference_table"
	SourceAIAssisted     ClassificationSource = "ai_assisted"
	SourceMerged         ClassificationSource = "merged"
	SourceDeclared       ClassificationSource = "declared"
)

// Component is one line of a product's bill of materials. Resolved fields are
// filled by the code candidate resolver; once a qualification run completes
// the record is treated as immutable and a re-run creates new records.
type Component struct {
	Description              string               `json:"description" yaml:"description"`
	DeclaredHSCode           string               `json:"declared_hs_code,omitempty" yaml:"declared_hs_code"`
	OriginCountry            string               `json:"origin_country" yaml:"origin_country"`
	ValuePercentage          float64              `json:"value_percentage" yaml:"value_percentage"`
	ResolvedHSCode           string               `json:"resolved_hs_code,omitempty" yaml:"resolved_hs_code"`
	ClassificationConfidence float64              `json:"classification_confidence,omitempty" yaml:"classification_confidence"`
	ClassificationSource     ClassificationSource `json:"classification_source,omitempty" yaml:"classification_source"`
}

// Product is the qualification input: a bill of materials plus manufacturing
// and trade-volume context.
type Product struct {
	ID                    string      `json:"id,omitempty" yaml:"id"`
	Name                  string      `json:"name" yaml:"name"`
	Components            []Component `json:"components" yaml:"components"`
	ManufacturingLocation string      `json:"manufacturing_location" yaml:"manufacturing_location"`
	BusinessCategory      string      `json:"business_category,omitempty" yaml:"business_category"`
	AnnualTradeVolumeUSD  float64     `json:"annual_trade_volume_usd,omitempty" yaml:"annual_trade_volume_usd"`
}

// usmcaCountries is the set of USMCA member territories.
var usmcaCountries = map[string]bool{
	"US": true,
	"CA": true,
	"MX": true,
}

// IsUSMCACountry reports whether the ISO country code is a USMCA member.
func IsUSMCACountry(code string) bool {
	return usmcaCountries[code]
}
