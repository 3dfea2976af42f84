package dosing

import (
	"fmt"
	"strings"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// crossReactivity maps a documented allergy class to the ordered-drug
// classes it puts at risk, with the incidence note quoted in messages.
// Monobactams are deliberately absent on both axes: aztreonam does not
// cross-react with other beta-lactams (ceftazidime side chain excepted).
var crossReactivity = buildCrossReactivity()

func buildCrossReactivity() map[string]map[string]string {
	m := make(map[string]map[string]string)
	add := func(allergyClass, orderClass, incidence string) {
		if m[allergyClass] == nil {
			m[allergyClass] = make(map[string]string)
		}
		m[allergyClass][orderClass] = incidence
	}

	add(patientcontext.ClassPenicillin, patientcontext.ClassCephalosporin, "1-3%")
	add(patientcontext.ClassPenicillin, patientcontext.ClassCarbapenem, "~1%")
	add(patientcontext.ClassCephalosporin, patientcontext.ClassPenicillin, "~2%")
	add(patientcontext.ClassCephalosporin, patientcontext.ClassCarbapenem, "~1%")
	add(patientcontext.ClassCarbapenem, patientcontext.ClassPenicillin, "~1%")

	return m
}

var severeReactionMarkers = []string{
	"anaphyla", "angioedema", "stevens-johnson", "sjs", "dress",
	"toxic epidermal", "laryngeal edema", "bronchospasm",
}

// severeReaction reports whether a documented reaction forbids same-class
// or cross-class exposure outright.
func severeReaction(a patientcontext.Allergy) bool {
	if a.Severity == "severe" {
		return true
	}
	for _, marker := range severeReactionMarkers {
		if strings.Contains(a.Reaction, marker) {
			return true
		}
	}
	return false
}

// AllergyModule flags orders for drugs the patient is allergic to,
// directly or through class cross-reactivity.
type AllergyModule struct{}

func NewAllergyModule() *AllergyModule { return &AllergyModule{} }

func (m *AllergyModule) Name() string { return "allergy" }

func (m *AllergyModule) Evaluate(pc *patientcontext.Context) []Flag {
	var flags []Flag
	for _, o := range pc.Orders {
		if f := m.checkOrder(o, pc.Allergies); f != nil {
			flags = append(flags, *f)
		}
	}
	return flags
}

// checkOrder returns the single worst finding for an order across all
// documented allergies.
func (m *AllergyModule) checkOrder(o patientcontext.Order, allergies []patientcontext.Allergy) *Flag {
	var best *Flag
	for _, a := range allergies {
		f := m.match(o, a)
		if f == nil {
			continue
		}
		if best == nil || f.Severity.Rank() > best.Severity.Rank() ||
			(f.Severity == best.Severity && f.Type == FlagContraindicated) {
			best = f
		}
	}
	return best
}

func (m *AllergyModule) match(o patientcontext.Order, a patientcontext.Allergy) *Flag {
	if a.Substance == "" {
		return nil
	}

	reaction := a.Reaction
	if reaction == "" {
		reaction = "reaction not documented"
	}

	// Direct hit: the ordered drug itself is on the allergy list.
	if a.Substance == o.Drug {
		return &Flag{
			Type:     FlagContraindicated,
			Severity: SeverityCritical,
			Drug:     o.Drug,
			OrderID:  o.OrderID,
			Module:   m.Name(),
			Message:  fmt.Sprintf("%s ordered despite documented %s allergy (%s)", o.Drug, a.Substance, reaction),
			Expected: "alternative agent from an unrelated class",
			Actual:   fmt.Sprintf("active order for %s", o.Drug),
		}
	}

	orderClass := patientcontext.DrugClass(o.Drug)
	if a.Class == "" || orderClass == "" {
		return nil
	}

	severity := SeverityHigh
	if severeReaction(a) {
		severity = SeverityCritical
	}

	// Same class, different member.
	if a.Class == orderClass {
		return &Flag{
			Type:     FlagCrossReactivity,
			Severity: severity,
			Drug:     o.Drug,
			OrderID:  o.OrderID,
			Module:   m.Name(),
			Message: fmt.Sprintf("%s is a %s; patient has a documented %s allergy in the same class (%s)",
				o.Drug, orderClass, a.Substance, reaction),
			Expected:   fmt.Sprintf("avoid %ss, or confirm prior tolerance", orderClass),
			Actual:     fmt.Sprintf("active order for %s", o.Drug),
			RuleSource: "JAMA 2019 beta-lactam allergy review",
			Details:    map[string]string{"allergy_class": a.Class},
		}
	}

	// Cross-class beta-lactam reactivity.
	incidence, ok := crossReactivity[a.Class][orderClass]
	if !ok {
		return nil
	}
	return &Flag{
		Type:     FlagCrossReactivity,
		Severity: severity,
		Drug:     o.Drug,
		OrderID:  o.OrderID,
		Module:   m.Name(),
		Message: fmt.Sprintf("%s (%s) carries %s cross-reactivity with the patient's %s allergy (%s)",
			o.Drug, orderClass, incidence, a.Substance, reaction),
		Expected:   fmt.Sprintf("non-cross-reacting alternative, or graded challenge given %s reaction history", a.Class),
		Actual:     fmt.Sprintf("active order for %s", o.Drug),
		RuleSource: "JAMA 2019 beta-lactam allergy review",
		Details:    map[string]string{"allergy_class": a.Class, "incidence": incidence},
	}
}
