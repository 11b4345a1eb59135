package model

import "time"

// RunStatus represents the current state of a qualification run.
type RunStatus string

const (
	RunStatusPending         RunStatus = "pending"
	RunStatusClassifying     RunStatus = "classifying"
	RunStatusCalculatingRVC  RunStatus = "calculating_rvc"
	RunStatusResolvingPolicy RunStatus = "resolving_policy"
	RunStatusComplete        RunStatus = "complete"
	RunStatusFailed          RunStatus = "failed"
)

// QualificationStatus is the engine's determination for one run.
type QualificationStatus string

const (
	StatusQualified    QualificationStatus = "QUALIFIED"
	StatusNotQualified QualificationStatus = "NOT_QUALIFIED"
	StatusPartial      QualificationStatus = "PARTIAL"
	// StatusPendingVerification is emitted when a duty rate required for the
	// determination is Unknown. It is never a duty-free answer.
	StatusPendingVerification QualificationStatus = "PENDING_VERIFICATION"
)

// RegionalContent is the output of the regional value content calculation.
type RegionalContent struct {
	Percentage           float64  `json:"percentage"`
	OriginatingValue     float64  `json:"originating_value"`
	NonOriginatingValue  float64  `json:"non_originating_value"`
	AssemblyCredit       float64  `json:"assembly_credit"`
	QualifiedCountries   []string `json:"qualified_countries"`
	NonQualifiedCountries []string `json:"non_qualified_countries"`
	NoComponentData      bool     `json:"no_component_data,omitempty"`
}

// QualificationVerdict is the immutable output of one qualification run. A
// re-run produces a new verdict rather than mutating history.
type QualificationVerdict struct {
	ProductID                 string              `json:"product_id"`
	ResolvedHSCode            string              `json:"resolved_hs_code"`
	ClassificationConfidence  float64             `json:"classification_confidence"`
	ClassificationSource      ClassificationSource `json:"classification_source"`
	RegionalContentPercentage float64             `json:"regional_content_percentage"`
	RegionalContent           RegionalContent     `json:"regional_content"`
	ThresholdApplied          float64             `json:"threshold_applied"`
	Qualified                 QualificationStatus `json:"qualified"`
	BaseMFNRate               Rate                `json:"base_mfn_rate"`
	BaseUSMCARate             Rate                `json:"base_usmca_rate"`
	ActiveOverlays            []PolicyOverlay     `json:"active_overlays"`
	StaleOverlays             []PolicyOverlay     `json:"stale_overlays,omitempty"`
	StaleReasons              map[string]string   `json:"stale_reasons,omitempty"`
	EffectiveDutyRate         Rate                `json:"effective_duty_rate"`
	AnnualSavingsEstimate     float64             `json:"annual_savings_estimate"`
	RuleApplied               string              `json:"rule_applied"`
	GeneratedAt               time.Time           `json:"generated_at"`
}

// Run is one qualification run for a product.
type Run struct {
	ID        string                `json:"id"`
	Product   Product               `json:"product"`
	Status    RunStatus             `json:"status"`
	Reason    string                `json:"reason,omitempty"`
	Verdict   *QualificationVerdict `json:"verdict,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// PhaseResult captures the outcome of one engine phase for auditability.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PhaseStatus is the terminal state of an engine phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)
