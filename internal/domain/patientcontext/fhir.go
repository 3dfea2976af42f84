package patientcontext

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/platform/fhir"
)

// LOINC codes for the observations the assembler consumes, passed to the
// FHIR server as system|code search tokens.
const (
	loincWeight     = "http://loinc.org|29463-7"
	loincHeight     = "http://loinc.org|8302-2"
	loincCreatinine = "http://loinc.org|2160-0"
	loincEGFR       = "http://loinc.org|33914-3"
)

const mrTypeSystem = "http://terminology.hl7.org/CodeSystem/v2-0203"

// FHIRSource implements ClinicalSource over a live FHIR R4 endpoint.
type FHIRSource struct {
	client *fhir.Client
	logger zerolog.Logger
}

func NewFHIRSource(client *fhir.Client, logger zerolog.Logger) *FHIRSource {
	return &FHIRSource{
		client: client,
		logger: logger.With().Str("component", "fhir_source").Logger(),
	}
}

// wrap marks transport failures as ErrSourceUnreachable so callers can
// distinguish a down EHR from data that is simply absent.
func (s *FHIRSource) wrap(err error) error {
	if err == nil || errors.Is(err, fhir.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
}

func (s *FHIRSource) ListActivePatients(ctx context.Context) ([]string, error) {
	ids, err := s.client.ListPatientIDsWithActiveMedications(ctx)
	if err != nil {
		return nil, s.wrap(err)
	}
	return ids, nil
}

func (s *FHIRSource) Demographics(ctx context.Context, patientID string) (*Demographics, error) {
	p, err := s.client.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, fhir.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
		}
		return nil, s.wrap(err)
	}
	d := &Demographics{
		PatientID: p.ID,
		MRN:       patientMRN(p),
		Name:      patientName(p),
		Sex:       p.Gender,
	}
	if age, ok := ageFromBirthDate(p.BirthDate, time.Now()); ok {
		d.AgeYears = &age
	}
	return d, nil
}

// patientMRN prefers an identifier typed MR, then any identifier value.
func patientMRN(p *fhir.Patient) string {
	for _, id := range p.Identifier {
		if id.Type.HasCoding(mrTypeSystem, "MR") && id.Value != "" {
			return id.Value
		}
	}
	for _, id := range p.Identifier {
		if id.Value != "" {
			return id.Value
		}
	}
	return ""
}

func patientName(p *fhir.Patient) string {
	if len(p.Name) == 0 {
		return ""
	}
	n := p.Name[0]
	parts := append([]string{}, n.Given...)
	if n.Family != "" {
		parts = append(parts, n.Family)
	}
	return strings.Join(parts, " ")
}

// ageFromBirthDate handles full and partial FHIR dates (YYYY, YYYY-MM,
// YYYY-MM-DD).
func ageFromBirthDate(birthDate string, now time.Time) (float64, bool) {
	if birthDate == "" {
		return 0, false
	}
	var born time.Time
	var err error
	switch len(birthDate) {
	case 4:
		born, err = time.Parse("2006", birthDate)
	case 7:
		born, err = time.Parse("2006-01", birthDate)
	default:
		born, err = time.Parse("2006-01-02", birthDate)
	}
	if err != nil {
		return 0, false
	}
	age := now.Sub(born).Hours() / 24 / 365.25
	if age < 0 {
		return 0, false
	}
	return age, true
}

func (s *FHIRSource) ActiveMedicationOrders(ctx context.Context, patientID string) ([]MedicationOrder, error) {
	return s.listMedications(ctx, patientID, true)
}

func (s *FHIRSource) ActiveCoMedications(ctx context.Context, patientID string) ([]MedicationOrder, error) {
	return s.listMedications(ctx, patientID, false)
}

func (s *FHIRSource) listMedications(ctx context.Context, patientID string, antimicrobial bool) ([]MedicationOrder, error) {
	reqs, err := s.client.ListActiveMedicationRequests(ctx, patientID)
	if err != nil {
		return nil, s.wrap(err)
	}
	var out []MedicationOrder
	for _, m := range reqs {
		name := m.MedicationText()
		if name == "" {
			s.logger.Debug().Str("medication_request_id", m.ID).Msg("order without a medication name, skipping")
			continue
		}
		if IsAntimicrobial(NormalizeDrug(name)) != antimicrobial {
			continue
		}
		out = append(out, orderFromRequest(m))
	}
	return out, nil
}

func orderFromRequest(m fhir.MedicationRequest) MedicationOrder {
	o := MedicationOrder{
		OrderID:   m.ID,
		Drug:      m.MedicationText(),
		StartedAt: m.AuthoredOn,
	}
	if len(m.DosageInstruction) > 0 {
		d := m.DosageInstruction[0]
		if len(d.DoseAndRate) > 0 && d.DoseAndRate[0].DoseQuantity != nil {
			q := d.DoseAndRate[0].DoseQuantity
			if q.Value != nil {
				o.DoseValue = *q.Value
			}
			o.DoseUnit = q.Unit
			if o.DoseUnit == "" {
				o.DoseUnit = q.Code
			}
		}
		o.Route = d.Route.DisplayText()
		if d.Timing != nil {
			o.Frequency = frequencyFromTiming(d.Timing)
			o.InfusionMinutes = infusionMinutes(d.Timing.Repeat)
			if d.Timing.Repeat != nil && d.Timing.Repeat.BoundsPeriod != nil {
				o.PlannedDurationDays = periodDays(d.Timing.Repeat.BoundsPeriod)
			}
		}
	}
	if o.PlannedDurationDays == nil && m.DispenseRequest != nil {
		o.PlannedDurationDays = supplyDays(m.DispenseRequest)
	}
	return o
}

// frequencyFromTiming prefers the coded timing abbreviation (BID, Q8H)
// and otherwise renders the structured repeat as qNh.
func frequencyFromTiming(t *fhir.Timing) string {
	if s := t.Code.DisplayText(); s != "" {
		return s
	}
	if h := repeatIntervalHours(t.Repeat); h > 0 {
		return fmt.Sprintf("q%dh", h)
	}
	return ""
}

func repeatIntervalHours(r *fhir.TimingRepeat) int {
	if r == nil || r.Period == nil || r.Frequency <= 0 {
		return 0
	}
	var unitHours float64
	switch r.PeriodUnit {
	case "h":
		unitHours = 1
	case "d":
		unitHours = 24
	case "wk":
		unitHours = 168
	case "min":
		unitHours = 1.0 / 60
	default:
		return 0
	}
	h := *r.Period * unitHours / float64(r.Frequency)
	if h < 0.5 {
		return 0
	}
	return int(math.Round(h))
}

func infusionMinutes(r *fhir.TimingRepeat) *int {
	if r == nil || r.Duration == nil {
		return nil
	}
	var mins float64
	switch r.DurationUnit {
	case "h":
		mins = *r.Duration * 60
	case "min":
		mins = *r.Duration
	default:
		return nil
	}
	v := int(math.Round(mins))
	return &v
}

func periodDays(p *fhir.Period) *int {
	if p.Start == nil || p.End == nil {
		return nil
	}
	d := p.End.Sub(*p.Start).Hours() / 24
	if d <= 0 {
		return nil
	}
	v := int(math.Round(d))
	return &v
}

func supplyDays(dr *fhir.DispenseRequest) *int {
	if dr.ExpectedSupplyDuration != nil && dr.ExpectedSupplyDuration.Value != nil {
		switch strings.ToLower(dr.ExpectedSupplyDuration.Code + dr.ExpectedSupplyDuration.Unit) {
		case "d", "day", "days", "dd", "dday", "ddays":
			v := int(math.Round(*dr.ExpectedSupplyDuration.Value))
			return &v
		}
	}
	if dr.ValidityPeriod != nil {
		return periodDays(dr.ValidityPeriod)
	}
	return nil
}

func (s *FHIRSource) Allergies(ctx context.Context, patientID string) ([]RawAllergy, error) {
	list, err := s.client.ListActiveAllergies(ctx, patientID)
	if err != nil {
		return nil, s.wrap(err)
	}
	var out []RawAllergy
	for _, a := range list {
		substance := a.Code.DisplayText()
		if substance == "" {
			continue
		}
		ra := RawAllergy{Substance: substance}
		if len(a.Reaction) > 0 {
			r := a.Reaction[0]
			ra.Severity = r.Severity
			ra.Reaction = r.Description
			if ra.Reaction == "" && len(r.Manifestation) > 0 {
				ra.Reaction = r.Manifestation[0].DisplayText()
			}
		}
		if ra.Severity == "" {
			switch a.Criticality {
			case "high":
				ra.Severity = "severe"
			case "low":
				ra.Severity = "mild"
			}
		}
		out = append(out, ra)
	}
	return out, nil
}

func (s *FHIRSource) Weight(ctx context.Context, patientID string) (*float64, error) {
	return s.observe(ctx, patientID, loincWeight, func(v float64, unit string) (float64, bool) {
		switch strings.ToLower(unit) {
		case "kg", "":
			return v, true
		case "g":
			return v / 1000, true
		case "lb", "lbs", "[lb_av]":
			return v * 0.45359237, true
		default:
			return 0, false
		}
	})
}

func (s *FHIRSource) Height(ctx context.Context, patientID string) (*float64, error) {
	return s.observe(ctx, patientID, loincHeight, func(v float64, unit string) (float64, bool) {
		switch strings.ToLower(unit) {
		case "cm", "":
			return v, true
		case "m":
			return v * 100, true
		case "in", "[in_i]":
			return v * 2.54, true
		default:
			return 0, false
		}
	})
}

func (s *FHIRSource) Creatinine(ctx context.Context, patientID string) (*float64, error) {
	return s.observe(ctx, patientID, loincCreatinine, func(v float64, unit string) (float64, bool) {
		switch strings.ToLower(unit) {
		case "mg/dl", "":
			return v, true
		case "umol/l", "µmol/l":
			return v / 88.4, true
		default:
			return 0, false
		}
	})
}

func (s *FHIRSource) EGFR(ctx context.Context, patientID string) (*float64, error) {
	return s.observe(ctx, patientID, loincEGFR, func(v float64, unit string) (float64, bool) {
		return v, true
	})
}

func (s *FHIRSource) observe(ctx context.Context, patientID, code string, convert func(float64, string) (float64, bool)) (*float64, error) {
	obs, err := s.client.LatestObservation(ctx, patientID, code)
	if err != nil {
		return nil, s.wrap(err)
	}
	if obs == nil {
		return nil, nil
	}
	raw, ok := obs.Value()
	if !ok {
		return nil, nil
	}
	unit := obs.ValueQuantity.Unit
	if unit == "" {
		unit = obs.ValueQuantity.Code
	}
	v, ok := convert(raw, unit)
	if !ok {
		s.logger.Warn().
			Str("patient_id", patientID).
			Str("code", code).
			Str("unit", unit).
			Msg("observation in unrecognized unit, treating as missing")
		return nil, nil
	}
	return &v, nil
}

func (s *FHIRSource) DialysisStatus(ctx context.Context, patientID string) (*DialysisStatus, error) {
	conditions, err := s.client.ListActiveConditions(ctx, patientID)
	if err != nil {
		return nil, s.wrap(err)
	}
	for _, c := range conditions {
		text := strings.ToLower(c.Code.DisplayText())
		switch {
		case strings.Contains(text, "peritoneal dialysis"):
			return &DialysisStatus{OnDialysis: true, Modality: "PD"}, nil
		case strings.Contains(text, "hemodialysis"), strings.Contains(text, "haemodialysis"):
			return &DialysisStatus{OnDialysis: true, Modality: "HD"}, nil
		case strings.Contains(text, "continuous renal replacement"), strings.Contains(text, "crrt"):
			return &DialysisStatus{OnDialysis: true, Modality: "CRRT"}, nil
		case strings.Contains(text, "dialysis"), strings.Contains(text, "end stage renal"), strings.Contains(text, "esrd"):
			return &DialysisStatus{OnDialysis: true}, nil
		}
	}
	return &DialysisStatus{OnDialysis: false}, nil
}
