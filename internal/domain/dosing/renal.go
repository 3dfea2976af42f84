package dosing

import (
	"fmt"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// RenalRule bounds a drug's daily dose at the extremes of renal function.
// ImpairedBelowCrCl/MaxImpairedDailyMg catch missed dose reductions;
// NormalAtLeastCrCl/MinNormalDailyMg catch reductions applied to patients
// who do not need them. A zero threshold disables that side of the check.
type RenalRule struct {
	Drug               string
	Route              string
	ImpairedBelowCrCl  float64
	MaxImpairedDailyMg float64
	NormalAtLeastCrCl  float64
	MinNormalDailyMg   float64
	Citation           string
}

// dialysisCrCl is the effective clearance assumed for any patient on
// renal replacement, placing them below every impairment threshold.
const dialysisCrCl = 10

func defaultRenalRules() []RenalRule {
	return []RenalRule{
		{
			Drug:               "levofloxacin",
			ImpairedBelowCrCl:  50,
			MaxImpairedDailyMg: 500,
			NormalAtLeastCrCl:  60,
			MinNormalDailyMg:   750,
			Citation:           "levofloxacin prescribing information",
		},
		{
			Drug:               "piperacillin-tazobactam",
			ImpairedBelowCrCl:  20,
			MaxImpairedDailyMg: 9000,
			NormalAtLeastCrCl:  40,
			MinNormalDailyMg:   12000,
			Citation:           "piperacillin-tazobactam prescribing information",
		},
		{
			Drug:               "cefepime",
			ImpairedBelowCrCl:  30,
			MaxImpairedDailyMg: 4000,
			NormalAtLeastCrCl:  60,
			MinNormalDailyMg:   2500,
			Citation:           "cefepime prescribing information",
		},
		{
			Drug:               "meropenem",
			ImpairedBelowCrCl:  25,
			MaxImpairedDailyMg: 2000,
			NormalAtLeastCrCl:  50,
			MinNormalDailyMg:   2000,
			Citation:           "meropenem prescribing information",
		},
		{
			Drug:               "vancomycin",
			Route:              "IV",
			ImpairedBelowCrCl:  30,
			MaxImpairedDailyMg: 2000,
			Citation:           "ASHP/IDSA vancomycin monitoring guideline 2020",
		},
		{
			Drug:               "trimethoprim-sulfamethoxazole",
			ImpairedBelowCrCl:  30,
			MaxImpairedDailyMg: 960,
			Citation:           "trimethoprim-sulfamethoxazole prescribing information",
		},
	}
}

// RenalModule checks daily doses against the patient's renal function.
// Dialysis is treated as an effective CrCl below every threshold; when no
// Cockcroft-Gault estimate exists (pediatrics, missing inputs) a reported
// eGFR substitutes.
type RenalModule struct {
	rules []RenalRule
}

func NewRenalModule() *RenalModule {
	return &RenalModule{rules: defaultRenalRules()}
}

func (m *RenalModule) Name() string { return "renal" }

func (m *RenalModule) Evaluate(pc *patientcontext.Context) []Flag {
	crcl, renalDesc, ok := effectiveCrCl(pc)
	if !ok {
		return nil
	}

	var flags []Flag
	for _, o := range pc.Orders {
		if o.DailyDoseMg <= 0 {
			continue
		}
		for i := range m.rules {
			r := &m.rules[i]
			if r.Drug != o.Drug {
				continue
			}
			if r.Route != "" && r.Route != o.Route {
				continue
			}
			if f := m.check(o, r, crcl, renalDesc); f != nil {
				flags = append(flags, *f)
			}
			break
		}
	}
	return flags
}

func (m *RenalModule) check(o patientcontext.Order, r *RenalRule, crcl float64, renalDesc string) *Flag {
	if r.ImpairedBelowCrCl > 0 && crcl < r.ImpairedBelowCrCl &&
		r.MaxImpairedDailyMg > 0 && o.DailyDoseMg > r.MaxImpairedDailyMg {
		return &Flag{
			Type:     FlagMissingRenalAdjustment,
			Severity: SeverityHigh,
			Drug:     o.Drug,
			OrderID:  o.OrderID,
			Module:   m.Name(),
			Message: fmt.Sprintf("%s requires dose reduction: %s, daily dose %s mg exceeds the %s mg/day adjusted maximum",
				o.Drug, renalDesc, fmtMg(o.DailyDoseMg), fmtMg(r.MaxImpairedDailyMg)),
			Expected:   fmt.Sprintf("at most %s mg/day below CrCl %s mL/min", fmtMg(r.MaxImpairedDailyMg), fmtMg(r.ImpairedBelowCrCl)),
			Actual:     fmt.Sprintf("%s mg/day with %s", fmtMg(o.DailyDoseMg), renalDesc),
			RuleSource: r.Citation,
			Details:    map[string]string{"effective_crcl": fmt.Sprintf("%.0f", crcl)},
		}
	}

	if r.NormalAtLeastCrCl > 0 && crcl >= r.NormalAtLeastCrCl &&
		r.MinNormalDailyMg > 0 && o.DailyDoseMg < r.MinNormalDailyMg {
		return &Flag{
			Type:     FlagExcessiveRenalAdjustment,
			Severity: SeverityModerate,
			Drug:     o.Drug,
			OrderID:  o.OrderID,
			Module:   m.Name(),
			Message: fmt.Sprintf("%s appears renally reduced (%s mg/day) but %s does not require it; underdosing risks treatment failure",
				o.Drug, fmtMg(o.DailyDoseMg), renalDesc),
			Expected:   fmt.Sprintf("at least %s mg/day at CrCl >= %s mL/min", fmtMg(r.MinNormalDailyMg), fmtMg(r.NormalAtLeastCrCl)),
			Actual:     fmt.Sprintf("%s mg/day with %s", fmtMg(o.DailyDoseMg), renalDesc),
			RuleSource: r.Citation,
			Details:    map[string]string{"effective_crcl": fmt.Sprintf("%.0f", crcl)},
		}
	}

	return nil
}

// effectiveCrCl resolves the clearance the rules compare against.
func effectiveCrCl(pc *patientcontext.Context) (float64, string, bool) {
	if pc.OnDialysis {
		desc := "on dialysis"
		if pc.DialysisModality != "" {
			desc = fmt.Sprintf("on %s dialysis", pc.DialysisModality)
		}
		return dialysisCrCl, desc, true
	}
	if pc.CrCl != nil {
		return *pc.CrCl, fmt.Sprintf("CrCl %.0f mL/min", *pc.CrCl), true
	}
	if pc.EGFR != nil {
		return *pc.EGFR, fmt.Sprintf("eGFR %.0f mL/min", *pc.EGFR), true
	}
	return 0, "", false
}
