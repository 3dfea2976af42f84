package patientcontext

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abxguard/abxguard/internal/domain/indication"
)

// StaticPatient is one fixture record served by StaticSource.
type StaticPatient struct {
	Demographics  Demographics
	WeightKg      *float64
	HeightCm      *float64
	Creatinine    *float64
	EGFR          *float64
	Dialysis      *DialysisStatus
	Orders        []MedicationOrder
	CoMedications []MedicationOrder
	Allergies     []RawAllergy
}

// StaticSource implements ClinicalSource over in-memory fixtures. It backs
// demo deployments and tests; no upstream connectivity is involved, so it
// never returns ErrSourceUnreachable.
type StaticSource struct {
	mu       sync.RWMutex
	patients map[string]*StaticPatient
	order    []string
}

func NewStaticSource(patients ...*StaticPatient) *StaticSource {
	s := &StaticSource{patients: make(map[string]*StaticPatient)}
	for _, p := range patients {
		s.Add(p)
	}
	return s
}

// Add registers a fixture patient, replacing any earlier record with the
// same patient ID.
func (s *StaticSource) Add(p *StaticPatient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.Demographics.PatientID]; !ok {
		s.order = append(s.order, p.Demographics.PatientID)
	}
	s.patients[p.Demographics.PatientID] = p
}

func (s *StaticSource) get(patientID string) (*StaticPatient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("%w: fixture %s", ErrPatientNotFound, patientID)
	}
	return p, nil
}

func (s *StaticSource) ListActivePatients(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if len(s.patients[id].Orders) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *StaticSource) Demographics(_ context.Context, patientID string) (*Demographics, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	d := p.Demographics
	return &d, nil
}

func (s *StaticSource) ActiveMedicationOrders(_ context.Context, patientID string) ([]MedicationOrder, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return append([]MedicationOrder(nil), p.Orders...), nil
}

func (s *StaticSource) ActiveCoMedications(_ context.Context, patientID string) ([]MedicationOrder, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return append([]MedicationOrder(nil), p.CoMedications...), nil
}

func (s *StaticSource) Allergies(_ context.Context, patientID string) ([]RawAllergy, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return append([]RawAllergy(nil), p.Allergies...), nil
}

func (s *StaticSource) Weight(_ context.Context, patientID string) (*float64, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return copyFloat(p.WeightKg), nil
}

func (s *StaticSource) Height(_ context.Context, patientID string) (*float64, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return copyFloat(p.HeightCm), nil
}

func (s *StaticSource) Creatinine(_ context.Context, patientID string) (*float64, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return copyFloat(p.Creatinine), nil
}

func (s *StaticSource) EGFR(_ context.Context, patientID string) (*float64, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	return copyFloat(p.EGFR), nil
}

func (s *StaticSource) DialysisStatus(_ context.Context, patientID string) (*DialysisStatus, error) {
	p, err := s.get(patientID)
	if err != nil {
		return nil, err
	}
	if p.Dialysis == nil {
		return nil, nil
	}
	d := *p.Dialysis
	return &d, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

// DefaultFixtures returns the demo ward: patients that exercise route,
// guideline, allergy, renal, and interaction checks, plus one on a clean
// regimen that should evaluate without findings.
func DefaultFixtures() []*StaticPatient {
	started := time.Now().UTC().Add(-36 * time.Hour)
	return []*StaticPatient{
		{
			Demographics: Demographics{
				PatientID: "fixture-001",
				MRN:       "MRN-740210",
				Name:      "Dana Whitfield",
				Sex:       "female",
				AgeYears:  floatPtr(67),
			},
			WeightKg:   floatPtr(72),
			HeightCm:   floatPtr(165),
			Creatinine: floatPtr(0.9),
			Orders: []MedicationOrder{{
				OrderID:   "ord-740210-1",
				Drug:      "Vancomycin",
				DoseValue: 1000,
				DoseUnit:  "mg",
				Frequency: "q12h",
				Route:     "IV",
				StartedAt: &started,
			}},
		},
		{
			Demographics: Demographics{
				PatientID: "fixture-002",
				MRN:       "MRN-583921",
				Name:      "Marcus Bell",
				Sex:       "male",
				AgeYears:  floatPtr(4),
			},
			WeightKg:   floatPtr(18),
			HeightCm:   floatPtr(104),
			Creatinine: floatPtr(0.4),
			Orders: []MedicationOrder{{
				OrderID:   "ord-583921-1",
				Drug:      "Rocephin",
				DoseValue: 450,
				DoseUnit:  "mg",
				Frequency: "q24h",
				Route:     "IV",
				StartedAt: &started,
			}},
		},
		{
			Demographics: Demographics{
				PatientID: "fixture-003",
				MRN:       "MRN-612044",
				Name:      "Priya Raman",
				Sex:       "female",
				AgeYears:  floatPtr(54),
			},
			WeightKg:   floatPtr(60),
			HeightCm:   floatPtr(158),
			Creatinine: floatPtr(0.8),
			Orders: []MedicationOrder{{
				OrderID:   "ord-612044-1",
				Drug:      "Ceftriaxone",
				DoseValue: 1,
				DoseUnit:  "g",
				Frequency: "q24h",
				Route:     "IV",
				StartedAt: &started,
			}},
			Allergies: []RawAllergy{{
				Substance: "Ceftriaxone",
				Reaction:  "Anaphylaxis",
				Severity:  "severe",
			}},
		},
		{
			Demographics: Demographics{
				PatientID: "fixture-004",
				MRN:       "MRN-448733",
				Name:      "Theo Alvarez",
				Sex:       "male",
				AgeYears:  floatPtr(45),
			},
			WeightKg:   floatPtr(82),
			HeightCm:   floatPtr(178),
			Creatinine: floatPtr(1.0),
			Orders: []MedicationOrder{{
				OrderID:             "ord-448733-1",
				Drug:                "Vancomycin",
				DoseValue:           125,
				DoseUnit:            "mg",
				Frequency:           "q6h",
				Route:               "PO",
				StartedAt:           &started,
				PlannedDurationDays: intPtr(10),
			}},
		},
		{
			Demographics: Demographics{
				PatientID: "fixture-005",
				MRN:       "MRN-221408",
				Name:      "Elaine Moss",
				Sex:       "female",
				AgeYears:  floatPtr(81),
			},
			WeightKg:   floatPtr(58),
			HeightCm:   floatPtr(160),
			Creatinine: floatPtr(2.4),
			Orders: []MedicationOrder{
				{
					OrderID:         "ord-221408-1",
					Drug:            "Maxipime",
					DoseValue:       2,
					DoseUnit:        "g",
					Frequency:       "q8h",
					Route:           "IV",
					StartedAt:       &started,
					InfusionMinutes: intPtr(30),
				},
				{
					OrderID:   "ord-221408-2",
					Drug:      "Linezolid",
					DoseValue: 600,
					DoseUnit:  "mg",
					Frequency: "q12h",
					Route:     "PO",
					StartedAt: &started,
				},
			},
			CoMedications: []MedicationOrder{
				{OrderID: "ord-221408-3", Drug: "Zoloft", DoseValue: 50, DoseUnit: "mg", Frequency: "daily", Route: "PO"},
			},
		},
	}
}

// FixtureIndications returns the documented indications matching
// DefaultFixtures, keyed by MRN.
func FixtureIndications() []*indication.Indication {
	now := time.Now().UTC()
	mk := func(mrn, syndrome string) *indication.Indication {
		return &indication.Indication{
			PatientMRN: mrn,
			Syndrome:   syndrome,
			Confidence: 1,
			Source:     "fixture",
			RecordedAt: now,
		}
	}
	return []*indication.Indication{
		mk("MRN-740210", indication.SyndromeCDI),
		mk("MRN-583921", indication.SyndromeMeningitis),
		mk("MRN-612044", indication.SyndromePneumonia),
		mk("MRN-448733", indication.SyndromeCDI),
		mk("MRN-221408", indication.SyndromeCystitis),
	}
}
