package monitor

import (
	"encoding/json"

	"github.com/abxguard/abxguard/internal/domain/dosealert"
	"github.com/abxguard/abxguard/internal/domain/dosing"
	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// buildRecord maps one engine flag onto a durable alert, snapshotting the
// patient factors and the full assessment for the dashboard detail view.
func buildRecord(a *dosing.Assessment, pc *patientcontext.Context, f dosing.Flag) *dosealert.Record {
	rec := &dosealert.Record{
		AssessmentID: a.ID,
		PatientID:    a.PatientID,
		PatientMRN:   a.MRN,
		PatientName:  a.PatientName,
		Drug:         f.Drug,
		Indication:   f.Indication,
		FlagType:     string(f.Type),
		Severity:     string(f.Severity),
		Message:      f.Message,
		Expected:     f.Expected,
		Actual:       f.Actual,
		RuleSource:   f.RuleSource,
	}
	if rec.Indication == "" {
		rec.Indication = a.Indication
	}
	if pf := patientFactors(pc); pf != nil {
		rec.PatientFactors = marshalJSON(pf)
	}
	rec.AssessmentDetail = marshalJSON(a)
	return rec
}

// patientFactors is the compact snapshot shown on the alert detail view.
func patientFactors(pc *patientcontext.Context) map[string]interface{} {
	out := map[string]interface{}{}
	if pc.AgeYears != nil {
		out["age_years"] = *pc.AgeYears
	}
	if pc.WeightKg != nil {
		out["weight_kg"] = *pc.WeightKg
	}
	if pc.SerumCreatinine != nil {
		out["serum_creatinine"] = *pc.SerumCreatinine
	}
	if pc.CrCl != nil {
		out["crcl"] = *pc.CrCl
	}
	if pc.EGFR != nil {
		out["egfr"] = *pc.EGFR
	}
	if pc.OnDialysis {
		out["on_dialysis"] = true
		if pc.DialysisModality != "" {
			out["dialysis_modality"] = pc.DialysisModality
		}
	}
	if len(pc.Allergies) > 0 {
		subs := make([]string, 0, len(pc.Allergies))
		for _, al := range pc.Allergies {
			subs = append(subs, al.Substance)
		}
		out["allergies"] = subs
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func marshalJSON(v interface{}) *string {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}
