// Package dosing is the rules engine: it evaluates an assembled patient
// context against guideline tables and emits flags for dosing problems.
// Evaluation is pure and fail-open; a module that cannot run contributes
// nothing rather than blocking the rest.
package dosing

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Severity orders findings for routing. Critical findings page the
// stewardship chat, high findings email, moderate findings wait in the
// review queue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
)

// Rank returns a comparable weight; unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityModerate:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// FlagType identifies the kind of finding. Alert deduplication keys on
// (patient, drug, flag type), so types are stable identifiers, not prose.
type FlagType string

const (
	FlagContraindicated          FlagType = "contraindicated"
	FlagCrossReactivity          FlagType = "cross_reactivity"
	FlagWrongRoute               FlagType = "wrong_route"
	FlagSubtherapeuticDose       FlagType = "subtherapeutic_dose"
	FlagSupratherapeuticDose     FlagType = "supratherapeutic_dose"
	FlagMaxDoseExceeded          FlagType = "max_dose_exceeded"
	FlagWrongInterval            FlagType = "wrong_interval"
	FlagAgeDoseMismatch          FlagType = "age_dose_mismatch"
	FlagDurationTooShort         FlagType = "duration_too_short"
	FlagDurationTooLong          FlagType = "duration_too_long"
	FlagMissingRenalAdjustment   FlagType = "missing_renal_adjustment"
	FlagExcessiveRenalAdjustment FlagType = "excessive_renal_adjustment"
	FlagWeightDoseMismatch       FlagType = "weight_dose_mismatch"
	FlagDrugInteraction          FlagType = "drug_interaction"
	FlagExtendedInfusion         FlagType = "extended_infusion_candidate"
)

// Flag is one finding against one order (or drug pair). Expected and
// Actual are display strings; Details carries any extra structured
// values a reviewer might filter on.
type Flag struct {
	Type       FlagType          `json:"type"`
	Severity   Severity          `json:"severity"`
	Drug       string            `json:"drug"`
	OrderID    string            `json:"order_id,omitempty"`
	Module     string            `json:"module"`
	Message    string            `json:"message"`
	Expected   string            `json:"expected,omitempty"`
	Actual     string            `json:"actual,omitempty"`
	RuleSource string            `json:"rule_source,omitempty"`
	Indication string            `json:"indication,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Assessment is the engine's verdict for one patient evaluation.
type Assessment struct {
	ID             uuid.UUID `json:"id"`
	PatientID      string    `json:"patient_id"`
	MRN            string    `json:"mrn"`
	PatientName    string    `json:"patient_name,omitempty"`
	Medications    []string  `json:"medications,omitempty"`
	Indication     string    `json:"indication,omitempty"`
	Flags          []Flag    `json:"flags"`
	MaxSeverity    Severity  `json:"max_severity,omitempty"`
	TruncatedDrugs []string  `json:"truncated_drugs,omitempty"`
	MissingData    []string  `json:"missing_data,omitempty"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	EngineVersion  string    `json:"engine_version"`
}

// HasFlags reports whether the evaluation produced any findings.
func (a *Assessment) HasFlags() bool {
	return len(a.Flags) > 0
}

// FlagsAtLeast returns the findings at or above the given severity.
func (a *Assessment) FlagsAtLeast(s Severity) []Flag {
	var out []Flag
	for _, f := range a.Flags {
		if f.Severity.AtLeast(s) {
			out = append(out, f)
		}
	}
	return out
}

// maxSeverity returns the highest severity present, or "".
func maxSeverity(flags []Flag) Severity {
	var max Severity
	for _, f := range flags {
		if f.Severity.Rank() > max.Rank() {
			max = f.Severity
		}
	}
	return max
}

// fmtMg renders a milligram quantity without trailing zeros.
func fmtMg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
