package patientcontext

import (
	"regexp"
	"strconv"
	"strings"
)

// Drug class names used by rule tables. Beta-lactam families get exported
// constants because cross-reactivity logic keys on them.
const (
	ClassPenicillin    = "penicillin"
	ClassCephalosporin = "cephalosporin"
	ClassCarbapenem    = "carbapenem"
	ClassMonobactam    = "monobactam"
)

var drugAliases = buildDrugAliases()

func buildDrugAliases() map[string]string {
	m := make(map[string]string)
	add := func(generic string, brands ...string) {
		for _, b := range brands {
			m[b] = generic
		}
	}

	add("piperacillin-tazobactam", "zosyn", "piperacillin/tazobactam", "pip-tazo", "pip/tazo")
	add("amoxicillin-clavulanate", "augmentin", "amoxicillin/clavulanate", "amoxicillin-clavulanic acid")
	add("ampicillin-sulbactam", "unasyn", "ampicillin/sulbactam")
	add("trimethoprim-sulfamethoxazole", "bactrim", "septra", "co-trimoxazole", "tmp-smx", "tmp/smx", "trimethoprim/sulfamethoxazole", "sulfamethoxazole-trimethoprim", "sulfamethoxazole/trimethoprim")
	add("imipenem-cilastatin", "primaxin", "imipenem", "imipenem/cilastatin")
	add("vancomycin", "vancocin")
	add("ceftriaxone", "rocephin")
	add("cefazolin", "ancef", "kefzol")
	add("cephalexin", "keflex")
	add("cefepime", "maxipime")
	add("meropenem", "merrem")
	add("ertapenem", "invanz")
	add("aztreonam", "azactam")
	add("ciprofloxacin", "cipro")
	add("levofloxacin", "levaquin")
	add("moxifloxacin", "avelox")
	add("azithromycin", "zithromax")
	add("clarithromycin", "biaxin")
	add("clindamycin", "cleocin")
	add("doxycycline", "vibramycin")
	add("linezolid", "zyvox")
	add("daptomycin", "cubicin")
	add("metronidazole", "flagyl")
	add("nitrofurantoin", "macrobid", "macrodantin")
	add("fidaxomicin", "dificid")
	add("rifampin", "rifadin", "rifampicin")
	add("fluconazole", "diflucan")
	add("voriconazole", "vfend")
	add("warfarin", "coumadin", "jantoven")
	add("sertraline", "zoloft")
	add("fluoxetine", "prozac")
	add("paroxetine", "paxil")
	add("escitalopram", "lexapro")
	add("citalopram", "celexa")
	add("venlafaxine", "effexor")
	add("duloxetine", "cymbalta")
	add("atorvastatin", "lipitor")
	add("simvastatin", "zocor")
	add("rosuvastatin", "crestor")
	add("amiodarone", "cordarone", "pacerone")
	add("ondansetron", "zofran")
	add("methadone", "dolophine")
	add("tizanidine", "zanaflex")
	add("tacrolimus", "prograf")
	add("cyclosporine", "neoral", "sandimmune", "ciclosporin")

	return m
}

// Salt and form suffixes stripped during normalization so that
// "Vancomycin HCl" and "vancomycin" compare equal.
var drugSuffixes = []string{
	" hcl", " hydrochloride", " sodium", " sulfate", " succinate",
	" injection", " for injection", " oral", " iv", " tablet", " tablets",
	" capsule", " capsules", " suspension", " solution",
}

// NormalizeDrug lowercases a drug name, strips salt/form suffixes, and maps
// brand names to generics. Unknown names pass through cleaned.
func NormalizeDrug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Join(strings.Fields(s), " ")
	for changed := true; changed; {
		changed = false
		for _, suf := range drugSuffixes {
			if strings.HasSuffix(s, suf) {
				s = strings.TrimSpace(strings.TrimSuffix(s, suf))
				changed = true
			}
		}
	}
	if g, ok := drugAliases[s]; ok {
		return g
	}
	return s
}

var antimicrobialClasses = buildAntimicrobialClasses()

func buildAntimicrobialClasses() map[string]string {
	m := make(map[string]string)
	add := func(class string, drugs ...string) {
		for _, d := range drugs {
			m[d] = class
		}
	}

	add(ClassPenicillin, "penicillin", "penicillin g", "penicillin v", "ampicillin",
		"amoxicillin", "amoxicillin-clavulanate", "ampicillin-sulbactam",
		"piperacillin-tazobactam", "nafcillin", "oxacillin", "dicloxacillin")
	add(ClassCephalosporin, "cefazolin", "cephalexin", "cefuroxime", "cefoxitin",
		"ceftriaxone", "cefotaxime", "ceftazidime", "cefepime", "cefdinir",
		"cefpodoxime", "ceftaroline")
	add(ClassCarbapenem, "meropenem", "imipenem-cilastatin", "ertapenem", "doripenem")
	add(ClassMonobactam, "aztreonam")
	add("glycopeptide", "vancomycin", "telavancin")
	add("aminoglycoside", "gentamicin", "tobramycin", "amikacin", "streptomycin")
	add("fluoroquinolone", "ciprofloxacin", "levofloxacin", "moxifloxacin")
	add("macrolide", "azithromycin", "clarithromycin", "erythromycin")
	add("lincosamide", "clindamycin")
	add("tetracycline", "doxycycline", "minocycline")
	add("sulfonamide", "trimethoprim-sulfamethoxazole", "sulfadiazine")
	add("nitrofuran", "nitrofurantoin")
	add("nitroimidazole", "metronidazole", "tinidazole")
	add("oxazolidinone", "linezolid", "tedizolid")
	add("rifamycin", "rifampin", "rifabutin")
	add("lipopeptide", "daptomycin")
	add("macrocyclic", "fidaxomicin")
	add("polymyxin", "colistin", "polymyxin b")
	add("azole", "fluconazole", "voriconazole", "posaconazole", "itraconazole")

	return m
}

var coMedicationClasses = buildCoMedicationClasses()

func buildCoMedicationClasses() map[string]string {
	m := make(map[string]string)
	add := func(class string, drugs ...string) {
		for _, d := range drugs {
			m[d] = class
		}
	}

	add("ssri", "sertraline", "fluoxetine", "paroxetine", "citalopram", "escitalopram", "fluvoxamine")
	add("snri", "venlafaxine", "duloxetine", "desvenlafaxine")
	add("statin", "atorvastatin", "simvastatin", "lovastatin", "rosuvastatin", "pravastatin")
	add("anticoagulant", "warfarin", "apixaban", "rivaroxaban", "dabigatran")
	add("antiarrhythmic", "amiodarone", "sotalol", "dofetilide")
	add("antiemetic", "ondansetron")
	add("antipsychotic", "haloperidol", "quetiapine", "ziprasidone")
	add("opioid", "methadone")
	add("muscle_relaxant", "tizanidine")
	add("immunosuppressant", "tacrolimus", "cyclosporine")

	return m
}

// DrugClass returns the pharmacologic class for a normalized generic name,
// or "" when unknown.
func DrugClass(generic string) string {
	if c, ok := antimicrobialClasses[generic]; ok {
		return c
	}
	if c, ok := coMedicationClasses[generic]; ok {
		return c
	}
	return ""
}

// IsAntimicrobial reports whether a normalized generic name is an
// antimicrobial the rules engine evaluates.
func IsAntimicrobial(generic string) bool {
	_, ok := antimicrobialClasses[generic]
	return ok
}

var frequencyAliases = buildFrequencyAliases()

func buildFrequencyAliases() map[string]int {
	m := make(map[string]int)
	add := func(hours int, spellings ...string) {
		for _, s := range spellings {
			m[s] = hours
		}
	}

	add(24, "qd", "qday", "daily", "once daily", "once a day", "every day", "nightly", "qhs")
	add(12, "bid", "twice daily", "twice a day")
	add(8, "tid", "three times daily", "three times a day")
	add(6, "qid", "four times daily", "four times a day")
	add(48, "qod", "every other day")
	add(168, "weekly", "qweek", "once weekly")

	return m
}

var (
	qhPattern    = regexp.MustCompile(`^q\s*(\d+)\s*h(?:r|rs|ours)?$`)
	everyPattern = regexp.MustCompile(`^every\s+(\d+)\s+h(?:r|rs|ours)?$`)
)

// ParseIntervalHours converts a free-text dosing frequency into hours
// between doses. Returns 0 when the frequency cannot be interpreted;
// interval-dependent checks skip in that case.
func ParseIntervalHours(frequency string) int {
	s := strings.ToLower(strings.TrimSpace(frequency))
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSuffix(s, " prn")
	s = strings.TrimSuffix(s, " scheduled")
	if s == "" {
		return 0
	}
	if h, ok := frequencyAliases[s]; ok {
		return h
	}
	m := qhPattern.FindStringSubmatch(s)
	if m == nil {
		m = everyPattern.FindStringSubmatch(s)
	}
	if m == nil {
		return 0
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h <= 0 {
		return 0
	}
	return h
}

var routeAliases = buildRouteAliases()

func buildRouteAliases() map[string]string {
	m := make(map[string]string)
	add := func(canonical string, spellings ...string) {
		for _, s := range spellings {
			m[s] = canonical
		}
	}

	add("IV", "iv", "intravenous", "intravenously", "iv push", "ivpb", "intravenous piggyback")
	add("PO", "po", "oral", "orally", "by mouth", "per os", "ng", "ngt", "og", "peg")
	add("IM", "im", "intramuscular", "intramuscularly")
	add("PR", "pr", "rectal", "per rectum")
	add("SC", "sc", "sq", "subq", "subcut", "subcutaneous")
	add("INH", "inh", "inhaled", "inhalation", "neb", "nebulized")
	add("TOP", "top", "topical")
	add("IT", "intrathecal")

	return m
}

// NormalizeRoute maps route spellings to canonical codes (IV, PO, IM, PR,
// SC, INH, TOP). Unknown routes pass through uppercased.
func NormalizeRoute(route string) string {
	s := strings.ToLower(strings.TrimSpace(route))
	s = strings.Join(strings.Fields(s), " ")
	if r, ok := routeAliases[s]; ok {
		return r
	}
	return strings.ToUpper(s)
}

// DoseToMg converts a dose quantity to milligrams. The second return is
// false for units that cannot be converted without more context (per-kg
// units, international units).
func DoseToMg(value float64, unit string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "mg", "milligram", "milligrams":
		return value, true
	case "g", "gm", "gram", "grams":
		return value * 1000, true
	case "mcg", "ug", "microgram", "micrograms":
		return value / 1000, true
	default:
		return 0, false
	}
}

// IsPerKgUnit reports whether a dose unit is weight-based and needs the
// patient's weight to resolve to milligrams.
func IsPerKgUnit(unit string) bool {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "mg/kg", "mg per kg":
		return true
	default:
		return false
	}
}
