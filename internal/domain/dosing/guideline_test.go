package dosing

import (
	"strings"
	"testing"

	"github.com/abxguard/abxguard/internal/domain/indication"
)

func TestGuidelineModule_PediatricWeightBasedTarget(t *testing.T) {
	pc := withIndication(testContext(order("ceftriaxone", 450, 24, "IV")), indication.SyndromeMeningitis)
	pc.AgeYears = fp(4)
	pc.WeightKg = fp(18)

	flags := NewGuidelineModule(0).Evaluate(pc)

	f := findFlag(flags, FlagSubtherapeuticDose)
	if f == nil {
		t.Fatalf("no subtherapeutic flag: %+v", flags)
	}
	if !strings.Contains(f.Expected, "1800 mg/day") {
		t.Errorf("expected = %q, want 1800 mg/day target", f.Expected)
	}
}

func TestGuidelineModule_AdultAbsoluteTarget(t *testing.T) {
	// 500 mg q12h = 1000/day against a 4000/day meningitis target.
	pc := withIndication(testContext(order("ceftriaxone", 500, 12, "IV")), indication.SyndromeMeningitis)

	flags := NewGuidelineModule(0).Evaluate(pc)

	f := findFlag(flags, FlagSubtherapeuticDose)
	if f == nil {
		t.Fatalf("no subtherapeutic flag: %+v", flags)
	}
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Severity)
	}
}

func TestGuidelineModule_WithinToleranceClean(t *testing.T) {
	// 1800 mg/day target, 20% tolerance: 1600/day passes.
	pc := withIndication(testContext(order("ceftriaxone", 800, 12, "IV")), indication.SyndromeMeningitis)
	pc.AgeYears = fp(4)
	pc.WeightKg = fp(18)

	if flags := NewGuidelineModule(20).Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none within tolerance", flags)
	}
}

func TestGuidelineModule_MaxDoseExceeded(t *testing.T) {
	// 60 kg teenager: 100 mg/kg/day would be 6000 but the ceiling is 4000.
	pc := withIndication(testContext(order("ceftriaxone", 3000, 12, "IV")), indication.SyndromeMeningitis)
	pc.AgeYears = fp(15)
	pc.WeightKg = fp(60)

	flags := NewGuidelineModule(0).Evaluate(pc)

	f := findFlag(flags, FlagMaxDoseExceeded)
	if f == nil {
		t.Fatalf("no max_dose_exceeded flag: %+v", flags)
	}
	if !strings.Contains(f.Message, "4000") {
		t.Errorf("message = %q, want 4000 mg/day ceiling quoted", f.Message)
	}
	if findFlag(flags, FlagSupratherapeuticDose) != nil {
		t.Error("supratherapeutic flagged alongside the ceiling violation")
	}
}

func TestGuidelineModule_WrongIntervalOnlyWhenDoseCorrect(t *testing.T) {
	// 250 mg q12h = 500/day: right total, wrong division for CDI.
	o := order("vancomycin", 250, 12, "PO")
	o.PlannedDurationDays = ip(12)
	pc := withIndication(testContext(o), indication.SyndromeCDI)

	flags := NewGuidelineModule(0).Evaluate(pc)

	f := findFlag(flags, FlagWrongInterval)
	if f == nil {
		t.Fatalf("no wrong_interval flag: %+v", flags)
	}
	if f.Severity != SeverityModerate {
		t.Errorf("severity = %s, want moderate", f.Severity)
	}
	if findFlag(flags, FlagSubtherapeuticDose) != nil || findFlag(flags, FlagSupratherapeuticDose) != nil {
		t.Errorf("dose deviation flagged for a correct daily total: %+v", flags)
	}
}

func TestGuidelineModule_DurationBounds(t *testing.T) {
	short := order("vancomycin", 125, 6, "PO")
	short.PlannedDurationDays = ip(5)
	pc := withIndication(testContext(short), indication.SyndromeCDI)

	flags := NewGuidelineModule(0).Evaluate(pc)
	f := findFlag(flags, FlagDurationTooShort)
	if f == nil {
		t.Fatalf("no duration_too_short flag: %+v", flags)
	}
	if f.Severity != SeverityHigh {
		t.Errorf("too-short severity = %s, want high", f.Severity)
	}

	long := order("vancomycin", 125, 6, "PO")
	long.PlannedDurationDays = ip(28)
	pc = withIndication(testContext(long), indication.SyndromeCDI)

	flags = NewGuidelineModule(0).Evaluate(pc)
	f = findFlag(flags, FlagDurationTooLong)
	if f == nil {
		t.Fatalf("no duration_too_long flag: %+v", flags)
	}
	if f.Severity != SeverityModerate {
		t.Errorf("too-long severity = %s, want moderate", f.Severity)
	}
}

func TestGuidelineModule_AgeDoseMismatch(t *testing.T) {
	// A 30 kg 10-year-old on the full adult meningitis dose (2 g q12h):
	// correct for an adult, 33% over the pediatric target's ceiling band.
	pc := withIndication(testContext(order("ceftriaxone", 2000, 12, "IV")), indication.SyndromeMeningitis)
	pc.AgeYears = fp(10)
	pc.WeightKg = fp(30)

	flags := NewGuidelineModule(0).Evaluate(pc)

	f := findFlag(flags, FlagAgeDoseMismatch)
	if f == nil {
		t.Fatalf("no age_dose_mismatch flag: %+v", flags)
	}
	if f.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", f.Severity)
	}
	if !strings.Contains(f.Message, "adult regimen") {
		t.Errorf("message = %q, want adult-regimen rationale", f.Message)
	}
	if findFlag(flags, FlagSupratherapeuticDose) != nil {
		t.Error("plain supratherapeutic flag emitted alongside the age mismatch")
	}
}

func TestGuidelineModule_UnknownAgeUsesAdultBracket(t *testing.T) {
	pc := withIndication(testContext(order("ceftriaxone", 2000, 12, "IV")), indication.SyndromeMeningitis)
	pc.AgeYears = nil

	if flags := NewGuidelineModule(0).Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none for a correct adult dose", flags)
	}
}

func TestGuidelineModule_NoIndicationNoFlags(t *testing.T) {
	pc := testContext(order("ceftriaxone", 100, 24, "IV"))
	if flags := NewGuidelineModule(0).Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none without an indication", flags)
	}
}

func TestGuidelineModule_WeightBasedTargetNeedsWeight(t *testing.T) {
	pc := withIndication(testContext(order("gentamicin", 100, 8, "IV")), indication.SyndromeEndocarditis)
	pc.WeightKg = nil

	if flags := NewGuidelineModule(0).Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none when the mg/kg target cannot be resolved", flags)
	}
}
