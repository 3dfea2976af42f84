package dosing

import (
	"fmt"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// interactionClasses groups drugs for class-level interaction rules. A
// rule term is either one of these class names or an exact generic name;
// exact pairs outrank class pairs when both match.
var interactionClasses = buildInteractionClasses()

func buildInteractionClasses() map[string][]string {
	m := make(map[string][]string)
	add := func(class string, drugs ...string) {
		m[class] = drugs
	}

	add("ssri", "sertraline", "fluoxetine", "paroxetine", "citalopram", "escitalopram", "fluvoxamine")
	add("snri", "venlafaxine", "duloxetine", "desvenlafaxine")
	add("statin", "atorvastatin", "simvastatin", "lovastatin", "rosuvastatin", "pravastatin")
	add("qt_prolonging", "amiodarone", "sotalol", "dofetilide", "haloperidol", "ondansetron", "methadone", "ziprasidone")
	add("fluoroquinolone", "ciprofloxacin", "levofloxacin", "moxifloxacin")
	add("azole", "fluconazole", "voriconazole", "posaconazole", "itraconazole")
	add("aminoglycoside", "gentamicin", "tobramycin", "amikacin")

	return m
}

// InteractionRule pairs two terms (generic names or class names) with the
// clinical effect. A and B are unordered.
type InteractionRule struct {
	A        string
	B        string
	Severity Severity
	Effect   string
	Advice   string
	Citation string
}

func defaultInteractionRules() []InteractionRule {
	return []InteractionRule{
		{A: "linezolid", B: "ssri", Severity: SeverityHigh,
			Effect:   "serotonin syndrome risk from linezolid's MAO inhibition",
			Advice:   "hold the serotonergic agent or select an alternative antibiotic",
			Citation: "FDA linezolid drug safety communication 2011"},
		{A: "linezolid", B: "snri", Severity: SeverityHigh,
			Effect:   "serotonin syndrome risk from linezolid's MAO inhibition",
			Advice:   "hold the serotonergic agent or select an alternative antibiotic",
			Citation: "FDA linezolid drug safety communication 2011"},
		{A: "metronidazole", B: "warfarin", Severity: SeverityHigh,
			Effect:   "potentiates warfarin; expect INR rise and bleeding risk",
			Advice:   "reduce warfarin and recheck INR within 3 days",
			Citation: "warfarin interaction compendium"},
		{A: "trimethoprim-sulfamethoxazole", B: "warfarin", Severity: SeverityHigh,
			Effect:   "CYP2C9 inhibition markedly raises INR",
			Advice:   "avoid the combination or reduce warfarin with close INR monitoring",
			Citation: "warfarin interaction compendium"},
		{A: "rifampin", B: "warfarin", Severity: SeverityHigh,
			Effect:   "enzyme induction collapses INR; anticoagulation becomes subtherapeutic",
			Advice:   "anticipate large warfarin dose increases and monitor after rifampin stops",
			Citation: "warfarin interaction compendium"},
		{A: "rifampin", B: "tacrolimus", Severity: SeverityHigh,
			Effect:   "induction drops tacrolimus exposure and risks graft rejection",
			Advice:   "coordinate with transplant pharmacy before starting rifampin",
			Citation: "transplant drug interaction reference"},
		{A: "clarithromycin", B: "statin", Severity: SeverityHigh,
			Effect:   "CYP3A4 inhibition raises statin exposure; rhabdomyolysis reported",
			Advice:   "hold the statin for the duration of the macrolide course",
			Citation: "FDA statin interaction guidance"},
		{A: "azole", B: "statin", Severity: SeverityModerate,
			Effect:   "CYP3A4 inhibition raises statin exposure",
			Advice:   "hold or reduce the statin during azole therapy",
			Citation: "FDA statin interaction guidance"},
		{A: "daptomycin", B: "statin", Severity: SeverityModerate,
			Effect:   "additive CPK elevation and myopathy risk",
			Advice:   "consider holding the statin and monitor CPK weekly",
			Citation: "daptomycin prescribing information"},
		{A: "fluoroquinolone", B: "qt_prolonging", Severity: SeverityModerate,
			Effect:   "additive QT prolongation",
			Advice:   "obtain a baseline ECG and monitor QTc",
			Citation: "AHA QT-prolonging drug statement"},
		{A: "levofloxacin", B: "amiodarone", Severity: SeverityHigh,
			Effect:   "marked additive QT prolongation; torsades reported with the pair",
			Advice:   "use a non-QT-prolonging antibiotic or monitor with telemetry",
			Citation: "AHA QT-prolonging drug statement"},
		{A: "azole", B: "qt_prolonging", Severity: SeverityModerate,
			Effect:   "additive QT prolongation",
			Advice:   "obtain a baseline ECG and monitor QTc",
			Citation: "AHA QT-prolonging drug statement"},
		{A: "ciprofloxacin", B: "tizanidine", Severity: SeverityCritical,
			Effect:   "CYP1A2 inhibition multiplies tizanidine exposure; profound hypotension",
			Advice:   "combination is contraindicated in labeling; stop one agent",
			Citation: "ciprofloxacin prescribing information"},
		{A: "vancomycin", B: "piperacillin-tazobactam", Severity: SeverityHigh,
			Effect:   "combination carries a higher acute kidney injury incidence than either alone",
			Advice:   "reassess the need for dual therapy; consider cefepime in place of piperacillin-tazobactam",
			Citation: "Luther et al, Crit Care Med 2018 meta-analysis"},
		{A: "aminoglycoside", B: "vancomycin", Severity: SeverityModerate,
			Effect:   "additive nephrotoxicity",
			Advice:   "monitor creatinine daily and trough levels",
			Citation: "aminoglycoside prescribing reference"},
	}
}

// InteractionModule screens antimicrobial orders against co-medications
// and against each other.
type InteractionModule struct {
	rules []InteractionRule
}

func NewInteractionModule() *InteractionModule {
	return &InteractionModule{rules: defaultInteractionRules()}
}

func (m *InteractionModule) Name() string { return "interaction" }

func (m *InteractionModule) Evaluate(pc *patientcontext.Context) []Flag {
	var flags []Flag

	for _, o := range pc.Orders {
		for _, co := range pc.CoMedications {
			if f := m.bestMatch(o, o.Drug, co.Drug); f != nil {
				flags = append(flags, *f)
			}
		}
	}

	for i := 0; i < len(pc.Orders); i++ {
		for j := i + 1; j < len(pc.Orders); j++ {
			if f := m.bestMatch(pc.Orders[i], pc.Orders[i].Drug, pc.Orders[j].Drug); f != nil {
				flags = append(flags, *f)
			}
		}
	}

	return flags
}

// bestMatch returns the most specific matching rule for a drug pair;
// exact-name terms beat class terms.
func (m *InteractionModule) bestMatch(o patientcontext.Order, drugA, drugB string) *Flag {
	bestScore := -1
	var best *InteractionRule
	for i := range m.rules {
		r := &m.rules[i]
		score, ok := r.matchScore(drugA, drugB)
		if ok && score > bestScore {
			bestScore = score
			best = r
		}
	}
	if best == nil {
		return nil
	}
	return &Flag{
		Type:       FlagDrugInteraction,
		Severity:   best.Severity,
		Drug:       drugA,
		OrderID:    o.OrderID,
		Module:     m.Name(),
		Message:    fmt.Sprintf("%s with %s: %s", drugA, drugB, best.Effect),
		Expected:   best.Advice,
		Actual:     fmt.Sprintf("concurrent %s and %s", drugA, drugB),
		RuleSource: best.Citation,
		Details:    map[string]string{"interacting_drug": drugB},
	}
}

// matchScore reports whether the rule covers the pair and how exactly:
// each side scores 1 for an exact name match, 0 for a class match.
func (r *InteractionRule) matchScore(drugA, drugB string) (int, bool) {
	if s, ok := pairScore(r.A, r.B, drugA, drugB); ok {
		return s, true
	}
	return pairScore(r.A, r.B, drugB, drugA)
}

func pairScore(termA, termB, drugA, drugB string) (int, bool) {
	sa, ok := termMatch(termA, drugA)
	if !ok {
		return 0, false
	}
	sb, ok := termMatch(termB, drugB)
	if !ok {
		return 0, false
	}
	return sa + sb, true
}

func termMatch(term, drug string) (int, bool) {
	if term == drug {
		return 1, true
	}
	for _, member := range interactionClasses[term] {
		if member == drug {
			return 0, true
		}
	}
	return 0, false
}
