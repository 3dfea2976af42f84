package dosing

import (
	"fmt"

	"github.com/abxguard/abxguard/internal/domain/indication"
	"github.com/abxguard/abxguard/internal/domain/patientcontext"
)

// DefaultTolerancePct is the accepted deviation around a guideline daily
// dose before a flag is raised.
const DefaultTolerancePct = 20

// DoseBracket is one age band of a guideline entry. Exactly one of
// MgPerKgPerDay and AbsoluteDailyMg is set; zero values disable a check.
type DoseBracket struct {
	MinAgeYears     *float64
	MaxAgeYears     *float64
	MgPerKgPerDay   float64
	AbsoluteDailyMg float64
	MaxDailyMg      float64
	IntervalHours   int
	MinDurationDays int
	MaxDurationDays int
}

// GuidelineEntry is the reference regimen for one indication/drug pair.
// Severity applies to dose deviations; interval and duration findings use
// fixed severities.
type GuidelineEntry struct {
	Indication string
	Drug       string
	Route      string
	Brackets   []DoseBracket
	Severity   Severity
	Citation   string
}

func agePtr(v float64) *float64 { return &v }

func defaultGuidelineEntries() []GuidelineEntry {
	return []GuidelineEntry{
		{
			Indication: indication.SyndromeMeningitis,
			Drug:       "ceftriaxone",
			Severity:   SeverityCritical,
			Citation:   "IDSA Bacterial Meningitis Guideline 2004",
			Brackets: []DoseBracket{
				{MaxAgeYears: agePtr(18), MgPerKgPerDay: 100, MaxDailyMg: 4000, IntervalHours: 12},
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 4000, IntervalHours: 12},
			},
		},
		{
			Indication: indication.SyndromeCDI,
			Drug:       "vancomycin",
			Route:      "PO",
			Severity:   SeverityHigh,
			Citation:   "IDSA/SHEA C. difficile Guideline 2021",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 500, IntervalHours: 6, MinDurationDays: 10, MaxDurationDays: 14},
			},
		},
		{
			Indication: indication.SyndromeCDI,
			Drug:       "fidaxomicin",
			Severity:   SeverityHigh,
			Citation:   "IDSA/SHEA C. difficile Guideline 2021",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 400, IntervalHours: 12, MinDurationDays: 10, MaxDurationDays: 14},
			},
		},
		{
			Indication: indication.SyndromePneumonia,
			Drug:       "azithromycin",
			Severity:   SeverityModerate,
			Citation:   "ATS/IDSA Community-Acquired Pneumonia Guideline 2019",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 500, IntervalHours: 24, MinDurationDays: 3, MaxDurationDays: 7},
			},
		},
		{
			Indication: indication.SyndromePyelonephritis,
			Drug:       "ciprofloxacin",
			Severity:   SeverityHigh,
			Citation:   "IDSA Uncomplicated Cystitis and Pyelonephritis Guideline 2011",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 1000, IntervalHours: 12, MinDurationDays: 5, MaxDurationDays: 7},
			},
		},
		{
			Indication: indication.SyndromeCystitis,
			Drug:       "nitrofurantoin",
			Severity:   SeverityModerate,
			Citation:   "IDSA Uncomplicated Cystitis and Pyelonephritis Guideline 2011",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 200, IntervalHours: 12, MinDurationDays: 5, MaxDurationDays: 7},
			},
		},
		{
			Indication: indication.SyndromeCellulitis,
			Drug:       "cephalexin",
			Severity:   SeverityModerate,
			Citation:   "IDSA Skin and Soft Tissue Infection Guideline 2014",
			Brackets: []DoseBracket{
				{MaxAgeYears: agePtr(18), MgPerKgPerDay: 50, MaxDailyMg: 2000, IntervalHours: 6},
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 2000, IntervalHours: 6, MinDurationDays: 5, MaxDurationDays: 10},
			},
		},
		{
			Indication: indication.SyndromeOsteomyelitis,
			Drug:       "cefazolin",
			Severity:   SeverityHigh,
			Citation:   "IDSA Native Vertebral Osteomyelitis Guideline 2015",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), AbsoluteDailyMg: 6000, IntervalHours: 8, MinDurationDays: 28, MaxDurationDays: 42},
			},
		},
		{
			Indication: indication.SyndromeEndocarditis,
			Drug:       "gentamicin",
			Severity:   SeverityHigh,
			Citation:   "AHA Infective Endocarditis Guideline 2015",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), MgPerKgPerDay: 3, IntervalHours: 8},
			},
		},
		{
			Indication: indication.SyndromeBacteremia,
			Drug:       "daptomycin",
			Severity:   SeverityHigh,
			Citation:   "IDSA MRSA Guideline 2011",
			Brackets: []DoseBracket{
				{MinAgeYears: agePtr(18), MgPerKgPerDay: 6, IntervalHours: 24},
			},
		},
	}
}

// GuidelineModule compares each order against the reference regimen for
// the documented indication: daily dose, ceiling, interval, age bracket,
// and planned duration.
type GuidelineModule struct {
	entries      []GuidelineEntry
	tolerancePct float64
}

func NewGuidelineModule(tolerancePct float64) *GuidelineModule {
	if tolerancePct <= 0 {
		tolerancePct = DefaultTolerancePct
	}
	return &GuidelineModule{
		entries:      defaultGuidelineEntries(),
		tolerancePct: tolerancePct,
	}
}

func (m *GuidelineModule) Name() string { return "guideline" }

func (m *GuidelineModule) Evaluate(pc *patientcontext.Context) []Flag {
	if pc.Indication == nil {
		return nil
	}
	var flags []Flag
	for _, o := range pc.Orders {
		entry := m.lookup(pc.Indication.Syndrome, o)
		if entry == nil {
			continue
		}
		flags = append(flags, m.checkOrder(pc, o, entry)...)
	}
	return flags
}

func (m *GuidelineModule) lookup(syndrome string, o patientcontext.Order) *GuidelineEntry {
	for i := range m.entries {
		e := &m.entries[i]
		if e.Indication != syndrome || e.Drug != o.Drug {
			continue
		}
		if e.Route != "" && e.Route != o.Route {
			continue
		}
		return e
	}
	return nil
}

// bracketFor picks the age band, defaulting to the adult bracket when age
// is unknown.
func bracketFor(e *GuidelineEntry, ageYears *float64) *DoseBracket {
	if ageYears == nil {
		for i := range e.Brackets {
			if e.Brackets[i].MaxAgeYears == nil {
				return &e.Brackets[i]
			}
		}
		return nil
	}
	for i := range e.Brackets {
		b := &e.Brackets[i]
		if b.MinAgeYears != nil && *ageYears < *b.MinAgeYears {
			continue
		}
		if b.MaxAgeYears != nil && *ageYears >= *b.MaxAgeYears {
			continue
		}
		return b
	}
	return nil
}

// adultBracket returns the entry's unbounded-age bracket, if any.
func adultBracket(e *GuidelineEntry) *DoseBracket {
	for i := range e.Brackets {
		if e.Brackets[i].MaxAgeYears == nil {
			return &e.Brackets[i]
		}
	}
	return nil
}

// expectedDaily resolves a bracket to a target daily dose in mg; ok is
// false when the bracket is weight-based and weight is unknown.
func expectedDaily(b *DoseBracket, weightKg *float64) (mg float64, describe string, ok bool) {
	if b.MgPerKgPerDay > 0 {
		if weightKg == nil || *weightKg <= 0 {
			return 0, "", false
		}
		mg = b.MgPerKgPerDay * *weightKg
		if b.MaxDailyMg > 0 && mg > b.MaxDailyMg {
			mg = b.MaxDailyMg
		}
		describe = fmt.Sprintf("%s mg/kg/day", fmtMg(b.MgPerKgPerDay))
		if b.IntervalHours > 0 {
			describe += fmt.Sprintf(" divided q%dh", b.IntervalHours)
		}
		return mg, describe, true
	}
	if b.AbsoluteDailyMg > 0 {
		describe = fmt.Sprintf("%s mg/day", fmtMg(b.AbsoluteDailyMg))
		if b.IntervalHours > 0 {
			describe += fmt.Sprintf(" divided q%dh", b.IntervalHours)
		}
		return b.AbsoluteDailyMg, describe, true
	}
	return 0, "", false
}

func (m *GuidelineModule) checkOrder(pc *patientcontext.Context, o patientcontext.Order, e *GuidelineEntry) []Flag {
	bracket := bracketFor(e, pc.AgeYears)
	if bracket == nil {
		return nil
	}

	var flags []Flag
	actualDose := fmt.Sprintf("%s mg %s = %s mg/day", fmtMg(o.DoseMg), o.Frequency, fmtMg(o.DailyDoseMg))

	target, targetDesc, haveTarget := expectedDaily(bracket, pc.WeightKg)
	doseWithinTolerance := true
	if haveTarget && o.DailyDoseMg > 0 {
		low := target * (1 - m.tolerancePct/100)
		high := target * (1 + m.tolerancePct/100)
		switch {
		case bracket.MaxDailyMg > 0 && o.DailyDoseMg > bracket.MaxDailyMg:
			doseWithinTolerance = false
			flags = append(flags, Flag{
				Type:     FlagMaxDoseExceeded,
				Severity: SeverityHigh,
				Drug:     o.Drug,
				OrderID:  o.OrderID,
				Module:   m.Name(),
				Message: fmt.Sprintf("%s daily dose %s mg exceeds the %s mg/day ceiling for %s",
					o.Drug, fmtMg(o.DailyDoseMg), fmtMg(bracket.MaxDailyMg), e.Indication),
				Expected:   fmt.Sprintf("at most %s mg/day", fmtMg(bracket.MaxDailyMg)),
				Actual:     actualDose,
				RuleSource: e.Citation,
				Indication: e.Indication,
			})
		case o.DailyDoseMg < low:
			doseWithinTolerance = false
			flags = append(flags, m.doseDeviationFlag(pc, o, e, target, targetDesc, actualDose, FlagSubtherapeuticDose))
		case o.DailyDoseMg > high:
			doseWithinTolerance = false
			flags = append(flags, m.doseDeviationFlag(pc, o, e, target, targetDesc, actualDose, FlagSupratherapeuticDose))
		}
	}

	if bracket.IntervalHours > 0 && o.IntervalHours > 0 &&
		o.IntervalHours != bracket.IntervalHours && doseWithinTolerance {
		flags = append(flags, Flag{
			Type:     FlagWrongInterval,
			Severity: SeverityModerate,
			Drug:     o.Drug,
			OrderID:  o.OrderID,
			Module:   m.Name(),
			Message: fmt.Sprintf("%s for %s is dosed q%dh; guideline divides the same daily dose q%dh",
				o.Drug, e.Indication, o.IntervalHours, bracket.IntervalHours),
			Expected:   fmt.Sprintf("q%dh dosing", bracket.IntervalHours),
			Actual:     fmt.Sprintf("q%dh dosing", o.IntervalHours),
			RuleSource: e.Citation,
			Indication: e.Indication,
		})
	}

	if o.PlannedDurationDays != nil {
		d := *o.PlannedDurationDays
		if bracket.MinDurationDays > 0 && d < bracket.MinDurationDays {
			flags = append(flags, Flag{
				Type:     FlagDurationTooShort,
				Severity: SeverityHigh,
				Drug:     o.Drug,
				OrderID:  o.OrderID,
				Module:   m.Name(),
				Message: fmt.Sprintf("planned %d-day course of %s for %s is shorter than the %d-day guideline minimum",
					d, o.Drug, e.Indication, bracket.MinDurationDays),
				Expected:   fmt.Sprintf("at least %d days", bracket.MinDurationDays),
				Actual:     fmt.Sprintf("%d days planned", d),
				RuleSource: e.Citation,
				Indication: e.Indication,
			})
		}
		if bracket.MaxDurationDays > 0 && d > bracket.MaxDurationDays {
			flags = append(flags, Flag{
				Type:     FlagDurationTooLong,
				Severity: SeverityModerate,
				Drug:     o.Drug,
				OrderID:  o.OrderID,
				Module:   m.Name(),
				Message: fmt.Sprintf("planned %d-day course of %s for %s exceeds the %d-day guideline maximum",
					d, o.Drug, e.Indication, bracket.MaxDurationDays),
				Expected:   fmt.Sprintf("at most %d days", bracket.MaxDurationDays),
				Actual:     fmt.Sprintf("%d days planned", d),
				RuleSource: e.Citation,
				Indication: e.Indication,
			})
		}
	}

	return flags
}

// doseDeviationFlag renders a sub/supratherapeutic finding, upgrading it
// to an age/dose mismatch when a child is receiving what would be a
// correct adult dose.
func (m *GuidelineModule) doseDeviationFlag(pc *patientcontext.Context, o patientcontext.Order, e *GuidelineEntry, target float64, targetDesc, actualDose string, ft FlagType) Flag {
	details := map[string]string{
		"target_daily_mg": fmtMg(target),
		"daily_dose_mg":   fmtMg(o.DailyDoseMg),
	}

	if pc.IsPediatric() {
		if adult := adultBracket(e); adult != nil {
			if adultTarget, _, ok := expectedDaily(adult, pc.WeightKg); ok {
				low := adultTarget * (1 - m.tolerancePct/100)
				high := adultTarget * (1 + m.tolerancePct/100)
				if o.DailyDoseMg >= low && o.DailyDoseMg <= high {
					return Flag{
						Type:     FlagAgeDoseMismatch,
						Severity: SeverityHigh,
						Drug:     o.Drug,
						OrderID:  o.OrderID,
						Module:   m.Name(),
						Message: fmt.Sprintf("%s dose for this %s-year-old matches the adult regimen; pediatric %s dosing is %s",
							o.Drug, fmtMg(*pc.AgeYears), e.Indication, targetDesc),
						Expected:   fmt.Sprintf("%s mg/day (%s)", fmtMg(target), targetDesc),
						Actual:     actualDose,
						RuleSource: e.Citation,
						Indication: e.Indication,
						Details:    details,
					}
				}
			}
		}
	}

	severity := e.Severity
	direction := "below"
	if ft == FlagSupratherapeuticDose {
		direction = "above"
	}
	return Flag{
		Type:     ft,
		Severity: severity,
		Drug:     o.Drug,
		OrderID:  o.OrderID,
		Module:   m.Name(),
		Message: fmt.Sprintf("%s daily dose %s mg is %s the guideline target %s mg/day (%s) for %s",
			o.Drug, fmtMg(o.DailyDoseMg), direction, fmtMg(target), targetDesc, e.Indication),
		Expected:   fmt.Sprintf("%s mg/day (%s)", fmtMg(target), targetDesc),
		Actual:     actualDose,
		RuleSource: e.Citation,
		Indication: e.Indication,
		Details:    details,
	}
}
