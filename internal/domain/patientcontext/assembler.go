package patientcontext

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/domain/indication"
)

// DefaultFetchTimeout bounds each upstream fetch during assembly.
const DefaultFetchTimeout = 5 * time.Second

// Assembler builds evaluation-ready Contexts from a raw clinical source.
// A demographics failure aborts assembly; every other category is
// best-effort and lands in MissingData when unavailable.
type Assembler struct {
	source       ClinicalSource
	indications  indication.Source
	fetchTimeout time.Duration
	logger       zerolog.Logger
}

func NewAssembler(source ClinicalSource, indications indication.Source, fetchTimeout time.Duration, logger zerolog.Logger) *Assembler {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Assembler{
		source:       source,
		indications:  indications,
		fetchTimeout: fetchTimeout,
		logger:       logger.With().Str("component", "patientcontext").Logger(),
	}
}

// ActivePatients returns the IDs of patients with at least one active
// medication order, the population each monitoring sweep covers.
func (a *Assembler) ActivePatients(ctx context.Context) ([]string, error) {
	ids, err := a.source.ListActivePatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active patients: %w", err)
	}
	return ids, nil
}

// Assemble fetches, normalizes, and derives one patient's Context.
func (a *Assembler) Assemble(ctx context.Context, patientID string) (*Context, error) {
	fctx, cancel := a.withTimeout(ctx)
	demo, err := a.source.Demographics(fctx, patientID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("demographics for patient %s: %w", patientID, err)
	}
	if demo == nil {
		return nil, fmt.Errorf("demographics for patient %s: no record", patientID)
	}

	pc := &Context{
		PatientID:           patientID,
		MRN:                 demo.MRN,
		Name:                demo.Name,
		Sex:                 strings.ToLower(demo.Sex),
		AgeYears:            demo.AgeYears,
		GestationalAgeWeeks: demo.GestationalAgeWeeks,
		AssembledAt:         time.Now().UTC(),
	}
	if pc.MRN == "" {
		// Alerts key on MRN; fall back to the source ID rather than drop
		// the patient from coverage.
		pc.MRN = patientID
	}
	if pc.AgeYears == nil {
		pc.MissingData = append(pc.MissingData, CategoryAge)
	}

	pc.WeightKg = a.measure(ctx, pc, CategoryWeight, a.source.Weight)
	pc.HeightCm = a.measure(ctx, pc, CategoryHeight, a.source.Height)
	pc.SerumCreatinine = a.measure(ctx, pc, CategoryCreatinine, a.source.Creatinine)
	pc.EGFR = a.measure(ctx, pc, CategoryEGFR, a.source.EGFR)

	fctx, cancel = a.withTimeout(ctx)
	ds, err := a.source.DialysisStatus(fctx, patientID)
	cancel()
	switch {
	case err != nil:
		a.warn(pc, CategoryDialysis, err)
	case ds == nil:
		pc.MissingData = append(pc.MissingData, CategoryDialysis)
	default:
		pc.OnDialysis = ds.OnDialysis
		pc.DialysisModality = ds.Modality
	}

	fctx, cancel = a.withTimeout(ctx)
	rawOrders, err := a.source.ActiveMedicationOrders(fctx, patientID)
	cancel()
	if err != nil {
		a.warn(pc, CategoryOrders, err)
	} else {
		pc.Orders = normalizeOrders(rawOrders, pc.WeightKg)
	}

	fctx, cancel = a.withTimeout(ctx)
	rawCo, err := a.source.ActiveCoMedications(fctx, patientID)
	cancel()
	if err != nil {
		a.warn(pc, CategoryCoMedications, err)
	} else {
		for _, r := range rawCo {
			g := NormalizeDrug(r.Drug)
			pc.CoMedications = append(pc.CoMedications, CoMedication{Drug: g, Class: DrugClass(g)})
		}
	}

	fctx, cancel = a.withTimeout(ctx)
	rawAllergies, err := a.source.Allergies(fctx, patientID)
	cancel()
	if err != nil {
		a.warn(pc, CategoryAllergies, err)
	} else {
		for _, r := range rawAllergies {
			sub := NormalizeDrug(r.Substance)
			pc.Allergies = append(pc.Allergies, Allergy{
				Substance: sub,
				Class:     DrugClass(sub),
				Reaction:  strings.ToLower(strings.TrimSpace(r.Reaction)),
				Severity:  strings.ToLower(strings.TrimSpace(r.Severity)),
			})
		}
	}

	if pc.WeightKg != nil && pc.HeightCm != nil {
		bsa := MostellerBSA(*pc.HeightCm, *pc.WeightKg)
		pc.BSA = &bsa
	}
	if pc.AgeYears != nil && *pc.AgeYears >= 18 &&
		pc.WeightKg != nil && pc.SerumCreatinine != nil && *pc.SerumCreatinine > 0 {
		crcl := CockcroftGault(*pc.AgeYears, *pc.WeightKg, *pc.SerumCreatinine, pc.Sex)
		pc.CrCl = &crcl
	}

	if a.indications == nil {
		pc.MissingData = append(pc.MissingData, CategoryIndication)
	} else {
		fctx, cancel = a.withTimeout(ctx)
		ind, err := a.indications.Current(fctx, pc.MRN)
		cancel()
		switch {
		case err != nil:
			a.warn(pc, CategoryIndication, err)
		case ind == nil:
			pc.MissingData = append(pc.MissingData, CategoryIndication)
		default:
			ind.Syndrome = indication.Canonical(ind.Syndrome)
			pc.Indication = ind
		}
	}

	a.logger.Debug().
		Str("patient_id", patientID).
		Str("mrn", pc.MRN).
		Int("orders", len(pc.Orders)).
		Strs("missing_data", pc.MissingData).
		Msg("patient context assembled")
	return pc, nil
}

func (a *Assembler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.fetchTimeout)
}

func (a *Assembler) measure(ctx context.Context, pc *Context, category string, fetch func(context.Context, string) (*float64, error)) *float64 {
	fctx, cancel := a.withTimeout(ctx)
	defer cancel()
	v, err := fetch(fctx, pc.PatientID)
	if err != nil {
		a.warn(pc, category, err)
		return nil
	}
	if v == nil {
		pc.MissingData = append(pc.MissingData, category)
	}
	return v
}

func (a *Assembler) warn(pc *Context, category string, err error) {
	a.logger.Warn().Err(err).
		Str("patient_id", pc.PatientID).
		Str("category", category).
		Msg("context fetch failed, continuing without")
	pc.MissingData = append(pc.MissingData, category)
}

func normalizeOrders(raw []MedicationOrder, weightKg *float64) []Order {
	orders := make([]Order, 0, len(raw))
	for _, r := range raw {
		o := Order{
			OrderID:             r.OrderID,
			Drug:                NormalizeDrug(r.Drug),
			DoseValue:           r.DoseValue,
			DoseUnit:            r.DoseUnit,
			Route:               NormalizeRoute(r.Route),
			Frequency:           r.Frequency,
			IntervalHours:       ParseIntervalHours(r.Frequency),
			StartedAt:           r.StartedAt,
			PlannedDurationDays: r.PlannedDurationDays,
			InfusionMinutes:     r.InfusionMinutes,
		}
		if mg, ok := DoseToMg(r.DoseValue, r.DoseUnit); ok {
			o.DoseMg = mg
		} else if IsPerKgUnit(r.DoseUnit) && weightKg != nil {
			o.DoseMg = r.DoseValue * *weightKg
		}
		if o.DoseMg > 0 && o.IntervalHours > 0 {
			o.DailyDoseMg = o.DoseMg * 24 / float64(o.IntervalHours)
			if weightKg != nil && *weightKg > 0 {
				perKg := o.DailyDoseMg / *weightKg
				o.DailyDoseMgPerKg = &perKg
			}
		}
		orders = append(orders, o)
	}
	return orders
}
