package dosing

import (
	"fmt"

	"github.com/abxguard/abxguard/internal/domain/indication"
	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// RouteRule declares a drug/route combination that is wrong for an
// indication (or wrong anywhere, when Indications is empty). An empty
// BadRoutes list means the drug is inappropriate for the indication by
// any route.
type RouteRule struct {
	Drug        string
	Indications []string
	BadRoutes   []string
	Type        FlagType
	Severity    Severity
	Message     string
	Expected    string
	Citation    string
}

func defaultRouteRules() []RouteRule {
	return []RouteRule{
		{
			Drug:        "vancomycin",
			Indications: []string{indication.SyndromeCDI},
			BadRoutes:   []string{"IV"},
			Type:        FlagWrongRoute,
			Severity:    SeverityCritical,
			Message:     "IV vancomycin does not reach the colonic lumen and is ineffective for C. difficile infection",
			Expected:    "vancomycin PO (or PR when ileus precludes oral dosing)",
			Citation:    "IDSA/SHEA C. difficile Guideline 2021",
		},
		{
			Drug:        "daptomycin",
			Indications: []string{indication.SyndromePneumonia},
			Type:        FlagContraindicated,
			Severity:    SeverityCritical,
			Message:     "daptomycin is inactivated by pulmonary surfactant and must not be used for pneumonia",
			Expected:    "an agent with pulmonary activity (e.g. linezolid or ceftaroline for MRSA pneumonia)",
			Citation:    "IDSA MRSA Guideline 2011",
		},
		{
			Drug:        "nitrofurantoin",
			Indications: []string{indication.SyndromeBacteremia, indication.SyndromePyelonephritis},
			Type:        FlagContraindicated,
			Severity:    SeverityCritical,
			Message:     "nitrofurantoin does not achieve therapeutic serum or renal parenchymal concentrations",
			Expected:    "a systemically active agent for infection outside the bladder",
			Citation:    "IDSA Uncomplicated Cystitis and Pyelonephritis Guideline 2011",
		},
		{
			Drug:        "moxifloxacin",
			Indications: []string{indication.SyndromeCystitis, indication.SyndromePyelonephritis},
			Type:        FlagContraindicated,
			Severity:    SeverityHigh,
			Message:     "moxifloxacin achieves low urinary concentrations and is not recommended for urinary tract infection",
			Expected:    "ciprofloxacin or levofloxacin if a fluoroquinolone is needed",
			Citation:    "IDSA Uncomplicated Cystitis and Pyelonephritis Guideline 2011",
		},
		{
			Drug:      "gentamicin",
			BadRoutes: []string{"PO"},
			Type:      FlagWrongRoute,
			Severity:  SeverityHigh,
			Message:   "aminoglycosides are not absorbed from the gut; oral dosing gives no systemic activity",
			Expected:  "IV (or IM) administration",
			Citation:  "aminoglycoside prescribing reference",
		},
		{
			Drug:      "tobramycin",
			BadRoutes: []string{"PO"},
			Type:      FlagWrongRoute,
			Severity:  SeverityHigh,
			Message:   "aminoglycosides are not absorbed from the gut; oral dosing gives no systemic activity",
			Expected:  "IV (or IM) administration",
			Citation:  "aminoglycoside prescribing reference",
		},
		{
			Drug:      "amikacin",
			BadRoutes: []string{"PO"},
			Type:      FlagWrongRoute,
			Severity:  SeverityHigh,
			Message:   "aminoglycosides are not absorbed from the gut; oral dosing gives no systemic activity",
			Expected:  "IV (or IM) administration",
			Citation:  "aminoglycoside prescribing reference",
		},
	}
}

// RouteModule checks each order's route against indication-aware route
// rules.
type RouteModule struct {
	rules []RouteRule
}

func NewRouteModule() *RouteModule {
	return &RouteModule{rules: defaultRouteRules()}
}

func (m *RouteModule) Name() string { return "route" }

func (m *RouteModule) Evaluate(pc *patientcontext.Context) []Flag {
	var flags []Flag
	for _, o := range pc.Orders {
		for _, r := range m.rules {
			if !r.applies(o, pc) {
				continue
			}
			flags = append(flags, Flag{
				Type:       r.Type,
				Severity:   r.Severity,
				Drug:       o.Drug,
				OrderID:    o.OrderID,
				Module:     m.Name(),
				Message:    r.Message,
				Expected:   r.Expected,
				Actual:     fmt.Sprintf("%s ordered %s%s", o.Drug, o.Route, indicationSuffix(pc)),
				RuleSource: r.Citation,
				Indication: flagIndication(pc),
			})
			break
		}
	}
	return flags
}

func (r *RouteRule) applies(o patientcontext.Order, pc *patientcontext.Context) bool {
	if r.Drug != o.Drug {
		return false
	}
	if len(r.Indications) > 0 {
		if pc.Indication == nil {
			return false
		}
		found := false
		for _, syndrome := range r.Indications {
			if pc.Indication.Syndrome == syndrome {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.BadRoutes) == 0 {
		return true
	}
	if o.Route == "" {
		return false
	}
	for _, bad := range r.BadRoutes {
		if o.Route == bad {
			return true
		}
	}
	return false
}

func indicationSuffix(pc *patientcontext.Context) string {
	if pc.Indication == nil {
		return ""
	}
	return fmt.Sprintf(" for %s", pc.Indication.Syndrome)
}

// flagIndication is the syndrome carried on indication-driven flags, empty
// when none is documented.
func flagIndication(pc *patientcontext.Context) string {
	if pc.Indication == nil {
		return ""
	}
	return pc.Indication.Syndrome
}
