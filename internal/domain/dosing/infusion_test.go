package dosing

import (
	"strings"
	"testing"
)

func TestInfusionModule_ShortInfusionFlagged(t *testing.T) {
	o := order("cefepime", 2000, 8, "IV")
	o.InfusionMinutes = ip(30)
	pc := testContext(o)

	flags := NewInfusionModule().Evaluate(pc)

	f := findFlag(flags, FlagExtendedInfusion)
	if f == nil {
		t.Fatalf("no extended_infusion_candidate flag: %+v", flags)
	}
	if f.Severity != SeverityModerate {
		t.Errorf("severity = %s, want moderate", f.Severity)
	}
	if !strings.Contains(f.Actual, "30-minute") {
		t.Errorf("actual = %q", f.Actual)
	}
}

func TestInfusionModule_AlreadyExtendedClean(t *testing.T) {
	o := order("piperacillin-tazobactam", 3375, 8, "IV")
	o.InfusionMinutes = ip(240)
	pc := testContext(o)

	if flags := NewInfusionModule().Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none for a 4-hour infusion", flags)
	}
}

func TestInfusionModule_UnknownDurationSkipped(t *testing.T) {
	pc := testContext(order("meropenem", 1000, 8, "IV"))

	if flags := NewInfusionModule().Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none without an infusion duration", flags)
	}
}

func TestInfusionModule_NonIVAndNonEligibleSkipped(t *testing.T) {
	po := order("cefepime", 2000, 8, "PO")
	po.InfusionMinutes = ip(30)
	other := order("vancomycin", 1000, 12, "IV")
	other.InfusionMinutes = ip(30)
	pc := testContext(po, other)

	if flags := NewInfusionModule().Evaluate(pc); len(flags) != 0 {
		t.Fatalf("flags = %+v, want none", flags)
	}
}
