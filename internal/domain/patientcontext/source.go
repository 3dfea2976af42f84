package patientcontext

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnreachable marks connectivity or authentication failures
// against the upstream clinical data source, as opposed to data that is
// legitimately absent.
var ErrSourceUnreachable = errors.New("patientcontext: clinical source unreachable")

// ErrPatientNotFound marks a patient identifier the source has no record
// for. Assembly fails with it only on the demographics fetch; every other
// category degrades to MissingData instead.
var ErrPatientNotFound = errors.New("patientcontext: patient not found")

// Demographics is the raw identity block for one patient.
type Demographics struct {
	PatientID           string
	MRN                 string
	Name                string
	Sex                 string
	AgeYears            *float64
	GestationalAgeWeeks *float64
}

// MedicationOrder is an unnormalized active medication as the source
// reports it. The assembler normalizes names, routes, and frequencies.
type MedicationOrder struct {
	OrderID             string
	Drug                string
	DoseValue           float64
	DoseUnit            string
	Frequency           string
	Route               string
	StartedAt           *time.Time
	PlannedDurationDays *int
	InfusionMinutes     *int
}

// RawAllergy is an unnormalized documented allergy.
type RawAllergy struct {
	Substance string
	Reaction  string
	Severity  string
}

// DialysisStatus reports whether the patient is on renal replacement.
type DialysisStatus struct {
	OnDialysis bool
	Modality   string
}

// ClinicalSource supplies raw patient data from either the live FHIR
// endpoint or local fixtures. Implementations return nil (not an error)
// for data that is simply not on record, and wrap connectivity failures
// in ErrSourceUnreachable.
type ClinicalSource interface {
	ListActivePatients(ctx context.Context) ([]string, error)
	Demographics(ctx context.Context, patientID string) (*Demographics, error)
	ActiveMedicationOrders(ctx context.Context, patientID string) ([]MedicationOrder, error)
	ActiveCoMedications(ctx context.Context, patientID string) ([]MedicationOrder, error)
	Allergies(ctx context.Context, patientID string) ([]RawAllergy, error)
	Weight(ctx context.Context, patientID string) (*float64, error)
	Height(ctx context.Context, patientID string) (*float64, error)
	Creatinine(ctx context.Context, patientID string) (*float64, error)
	EGFR(ctx context.Context, patientID string) (*float64, error)
	DialysisStatus(ctx context.Context, patientID string) (*DialysisStatus, error)
}
