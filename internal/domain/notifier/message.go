package notifier

import (
	"fmt"
	"strings"

	"github.com/abxguard/abxguard/internal/domain/dosealert"
)

// chatMessage renders the single chat post for an alert.
func chatMessage(rec *dosealert.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s dose alert for %s", strings.ToUpper(rec.Severity), rec.Drug, rec.PatientMRN)
	if rec.PatientName != "" {
		fmt.Fprintf(&b, " (%s)", rec.PatientName)
	}
	fmt.Fprintf(&b, "\n%s: %s", rec.FlagType, rec.Message)
	if rec.Expected != "" || rec.Actual != "" {
		fmt.Fprintf(&b, "\nExpected: %s | Actual: %s", orNA(rec.Expected), orNA(rec.Actual))
	}
	if rec.RuleSource != "" {
		fmt.Fprintf(&b, "\nRule: %s", rec.RuleSource)
	}
	return b.String()
}

func emailSubject(rec *dosealert.Record) string {
	return fmt.Sprintf("[AbxGuard] %s dose alert: %s for %s",
		strings.ToUpper(rec.Severity), rec.Drug, rec.PatientMRN)
}

func emailBody(rec *dosealert.Record) string {
	patient := rec.PatientMRN
	if rec.PatientName != "" {
		patient = fmt.Sprintf("%s (%s)", rec.PatientName, rec.PatientMRN)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "A %s dosing finding needs review.\n\n", rec.Severity)
	fields := [][2]string{
		{"Patient", patient},
		{"Drug", rec.Drug},
		{"Indication", rec.Indication},
		{"Finding", rec.FlagType},
		{"Message", rec.Message},
		{"Expected", rec.Expected},
		{"Actual", rec.Actual},
		{"Rule", rec.RuleSource},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%-11s %s\n", f[0]+":", f[1])
	}
	fmt.Fprintf(&b, "\nAlert %s\n", rec.ID)
	b.WriteString("Acknowledge or resolve the alert on the stewardship dashboard.\n")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
