package dosing

import (
	"fmt"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// WeightRule bounds a weight-dosed drug's per-dose mg/kg. The spread is
// wide on purpose: it catches order-entry errors (wrong units, adult dose
// for a child), not fine titration.
type WeightRule struct {
	Drug           string
	Route          string
	MinPerDoseMgKg float64
	MaxPerDoseMgKg float64
	Citation       string
}

func defaultWeightRules() []WeightRule {
	return []WeightRule{
		{Drug: "vancomycin", Route: "IV", MinPerDoseMgKg: 10, MaxPerDoseMgKg: 25, Citation: "ASHP/IDSA vancomycin monitoring guideline 2020"},
		{Drug: "gentamicin", MinPerDoseMgKg: 1, MaxPerDoseMgKg: 8, Citation: "aminoglycoside dosing reference"},
		{Drug: "tobramycin", MinPerDoseMgKg: 1, MaxPerDoseMgKg: 8, Citation: "aminoglycoside dosing reference"},
		{Drug: "amikacin", MinPerDoseMgKg: 5, MaxPerDoseMgKg: 20, Citation: "aminoglycoside dosing reference"},
		{Drug: "daptomycin", MinPerDoseMgKg: 4, MaxPerDoseMgKg: 12, Citation: "daptomycin prescribing information"},
	}
}

// WeightModule sanity-checks per-dose mg/kg for drugs that are always
// dosed by body weight.
type WeightModule struct {
	rules []WeightRule
}

func NewWeightModule() *WeightModule {
	return &WeightModule{rules: defaultWeightRules()}
}

func (m *WeightModule) Name() string { return "weight" }

func (m *WeightModule) Evaluate(pc *patientcontext.Context) []Flag {
	if pc.WeightKg == nil || *pc.WeightKg <= 0 {
		return nil
	}
	weight := *pc.WeightKg

	var flags []Flag
	for _, o := range pc.Orders {
		if o.DoseMg <= 0 {
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
			perDose := o.DoseMg / weight
			if f := m.check(o, r, perDose, weight); f != nil {
				flags = append(flags, *f)
			}
			break
		}
	}
	return flags
}

func (m *WeightModule) check(o patientcontext.Order, r *WeightRule, perDose, weight float64) *Flag {
	var direction string
	switch {
	case perDose < r.MinPerDoseMgKg:
		direction = fmt.Sprintf("below the %s mg/kg minimum", fmtMg(r.MinPerDoseMgKg))
	case perDose > r.MaxPerDoseMgKg:
		direction = fmt.Sprintf("above the %s mg/kg maximum", fmtMg(r.MaxPerDoseMgKg))
	default:
		return nil
	}
	return &Flag{
		Type:     FlagWeightDoseMismatch,
		Severity: SeverityHigh,
		Drug:     o.Drug,
		OrderID:  o.OrderID,
		Module:   m.Name(),
		Message: fmt.Sprintf("%s %s mg is %.1f mg/kg for this %s kg patient, %s",
			o.Drug, fmtMg(o.DoseMg), perDose, fmtMg(weight), direction),
		Expected:   fmt.Sprintf("%s-%s mg/kg per dose", fmtMg(r.MinPerDoseMgKg), fmtMg(r.MaxPerDoseMgKg)),
		Actual:     fmt.Sprintf("%.1f mg/kg per dose", perDose),
		RuleSource: r.Citation,
		Details:    map[string]string{"per_dose_mg_per_kg": fmt.Sprintf("%.1f", perDose)},
	}
}
