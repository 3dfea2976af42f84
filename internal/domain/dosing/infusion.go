package dosing

import (
	"fmt"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// extendedInfusionDrugs are time-dependent beta-lactams where prolonging
// the infusion improves time above MIC. Orders with unknown infusion
// duration are left alone.
var extendedInfusionDrugs = map[string]bool{
	"piperacillin-tazobactam": true,
	"cefepime":                true,
	"meropenem":               true,
}

const standardInfusionMinutes = 60

// InfusionModule suggests extended infusion for eligible IV beta-lactams
// currently run as standard short infusions.
type InfusionModule struct{}

func NewInfusionModule() *InfusionModule { return &InfusionModule{} }

func (m *InfusionModule) Name() string { return "infusion" }

func (m *InfusionModule) Evaluate(pc *patientcontext.Context) []Flag {
	var flags []Flag
	for _, o := range pc.Orders {
		if !extendedInfusionDrugs[o.Drug] || o.Route != "IV" {
			continue
		}
		if o.InfusionMinutes == nil || *o.InfusionMinutes > standardInfusionMinutes {
			continue
		}
		flags = append(flags, Flag{
			Type:     FlagExtendedInfusion,
			Severity: SeverityModerate,
			Drug:     o.Drug,
			OrderID:  o.OrderID,
			Module:   m.Name(),
			Message: fmt.Sprintf("%s is infused over %d minutes; extending to 3-4 hours improves time above MIC",
				o.Drug, *o.InfusionMinutes),
			Expected:   "extended infusion over 3-4 hours",
			Actual:     fmt.Sprintf("%d-minute infusion", *o.InfusionMinutes),
			RuleSource: "beta-lactam extended-infusion stewardship protocol",
		})
	}
	return flags
}
