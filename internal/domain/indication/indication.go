// Package indication exposes the clinical indication attached to a patient's
// antimicrobial therapy. Indications are written by an upstream extraction
// pipeline (or seeded fixtures) and consumed read-only here; the dosing rules
// key their guideline lookups on the canonical syndrome token.
package indication

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Canonical syndrome tokens. Guideline and route tables key on these.
const (
	SyndromeCDI            = "cdi"
	SyndromeMeningitis     = "meningitis"
	SyndromeBacteremia     = "bacteremia"
	SyndromePyelonephritis = "pyelonephritis"
	SyndromeCystitis       = "cystitis"
	SyndromePneumonia      = "pneumonia"
	SyndromeEndocarditis   = "endocarditis"
	SyndromeCellulitis     = "cellulitis"
	SyndromeOsteomyelitis  = "osteomyelitis"
)

// Indication is the syndrome motivating a patient's antimicrobial therapy.
type Indication struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientMRN string    `db:"patient_mrn" json:"patient_mrn"`
	Syndrome   string    `db:"syndrome" json:"syndrome"`
	Confidence float64   `db:"confidence" json:"confidence"`
	Source     string    `db:"source" json:"source"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// Source yields the current indication for a patient. A patient without a
// documented indication returns (nil, nil); absence is not an error.
type Source interface {
	Current(ctx context.Context, patientMRN string) (*Indication, error)
}

var syndromeAliases = buildSyndromeAliases()

func buildSyndromeAliases() map[string]string {
	m := make(map[string]string)
	add := func(canonical string, aliases ...string) {
		m[canonical] = canonical
		for _, a := range aliases {
			m[a] = canonical
		}
	}

	add(SyndromeCDI, "cdad", "c diff", "cdiff", "c difficile",
		"c diff colitis", "cdiff colitis", "c difficile colitis",
		"clostridium difficile", "clostridioides difficile",
		"clostridioides difficile colitis", "pseudomembranous colitis")
	add(SyndromeMeningitis, "bacterial meningitis")
	add(SyndromeBacteremia, "bacteraemia", "bsi", "bloodstream infection")
	add(SyndromePyelonephritis, "acute pyelonephritis")
	add(SyndromeCystitis, "uti", "acute cystitis", "uncomplicated uti",
		"urinary tract infection")
	add(SyndromePneumonia, "cap", "hap", "vap",
		"community-acquired pneumonia", "community acquired pneumonia",
		"hospital-acquired pneumonia", "hospital acquired pneumonia",
		"ventilator-associated pneumonia", "ventilator associated pneumonia")
	add(SyndromeEndocarditis, "infective endocarditis")
	add(SyndromeCellulitis, "ssti", "skin and soft tissue infection")
	add(SyndromeOsteomyelitis)

	return m
}

// Canonical normalizes a free-text syndrome into its table token. Unknown
// syndromes pass through cleaned (lowercased, periods stripped, whitespace
// collapsed) so table lookups simply miss instead of mismatching on
// formatting.
func Canonical(syndrome string) string {
	key := strings.ToLower(strings.TrimSpace(syndrome))
	key = strings.ReplaceAll(key, ".", "")
	key = strings.Join(strings.Fields(key), " ")
	if canonical, ok := syndromeAliases[key]; ok {
		return canonical
	}
	return key
}
