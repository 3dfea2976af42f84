package dosealert

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusAcknowledged, true},
		{StatusPending, StatusResolved, true},
		{StatusPending, StatusPending, false},
		{StatusSent, StatusAcknowledged, true},
		{StatusSent, StatusResolved, true},
		{StatusSent, StatusPending, false},
		{StatusSent, StatusSent, false},
		{StatusAcknowledged, StatusResolved, true},
		{StatusAcknowledged, StatusPending, false},
		{StatusAcknowledged, StatusSent, false},
		{StatusAcknowledged, StatusAcknowledged, false},
		{StatusResolved, StatusPending, false},
		{StatusResolved, StatusSent, false},
		{StatusResolved, StatusAcknowledged, false},
		{StatusResolved, StatusResolved, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidResolutionReason(t *testing.T) {
	valid := []string{
		ReasonDoseAdjusted, ReasonIntervalAdjusted, ReasonRouteChanged,
		ReasonTherapyChanged, ReasonTherapyStopped, ReasonDiscussedWithTeam,
		ReasonJustificationDocumented, ReasonMessagedTeam, ReasonEscalated,
		ReasonNoActionNeeded, ReasonAutoAccepted, ReasonOther,
	}
	for _, reason := range valid {
		if !ValidResolutionReason(reason) {
			t.Errorf("ValidResolutionReason(%q) = false, want true", reason)
		}
	}
	for _, reason := range []string{"", "fixed", "Dose_Adjusted", "closed"} {
		if ValidResolutionReason(reason) {
			t.Errorf("ValidResolutionReason(%q) = true, want false", reason)
		}
	}
}

func TestRecordActive(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusSent, StatusAcknowledged} {
		rec := Record{Status: status}
		if !rec.Active() {
			t.Errorf("Record in %s should be active", status)
		}
	}
	rec := Record{Status: StatusResolved}
	if rec.Active() {
		t.Error("resolved record should not be active")
	}
}
