package patientcontext

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/domain/indication"
)

func testPatient(id, mrn string) *StaticPatient {
	return &StaticPatient{
		Demographics: Demographics{
			PatientID: id,
			MRN:       mrn,
			Name:      "Test Patient",
			Sex:       "male",
			AgeYears:  floatPtr(60),
		},
	}
}

func newTestAssembler(src ClinicalSource, ind indication.Source) *Assembler {
	return NewAssembler(src, ind, time.Second, zerolog.Nop())
}

func assembleOne(t *testing.T, src ClinicalSource, ind indication.Source, patientID string) *Context {
	t.Helper()
	pc, err := newTestAssembler(src, ind).Assemble(context.Background(), patientID)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return pc
}

func hasMissing(pc *Context, category string) bool {
	for _, m := range pc.MissingData {
		if m == category {
			return true
		}
	}
	return false
}

func TestAssemble_NormalizesOrders(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	p.WeightKg = floatPtr(81)
	p.Orders = []MedicationOrder{{
		OrderID:   "o1",
		Drug:      "Zosyn",
		DoseValue: 3.375,
		DoseUnit:  "g",
		Frequency: "q8h",
		Route:     "IVPB",
	}}

	pc := assembleOne(t, NewStaticSource(p), nil, "p1")

	if len(pc.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(pc.Orders))
	}
	o := pc.Orders[0]
	if o.Drug != "piperacillin-tazobactam" {
		t.Errorf("drug = %q, want piperacillin-tazobactam", o.Drug)
	}
	if o.DoseMg != 3375 {
		t.Errorf("dose mg = %v, want 3375", o.DoseMg)
	}
	if o.Route != "IV" {
		t.Errorf("route = %q, want IV", o.Route)
	}
	if o.IntervalHours != 8 {
		t.Errorf("interval = %d, want 8", o.IntervalHours)
	}
	if o.DailyDoseMg != 10125 {
		t.Errorf("daily dose = %v, want 10125", o.DailyDoseMg)
	}
	if o.DailyDoseMgPerKg == nil || math.Abs(*o.DailyDoseMgPerKg-125) > 1e-9 {
		t.Errorf("daily dose per kg = %v, want 125", o.DailyDoseMgPerKg)
	}
}

func TestAssemble_ResolvesPerKgDoseAgainstWeight(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	p.WeightKg = floatPtr(80)
	p.Orders = []MedicationOrder{{
		OrderID:   "o1",
		Drug:      "vancomycin",
		DoseValue: 15,
		DoseUnit:  "mg/kg",
		Frequency: "q12h",
		Route:     "IV",
	}}

	pc := assembleOne(t, NewStaticSource(p), nil, "p1")

	if pc.Orders[0].DoseMg != 1200 {
		t.Errorf("dose mg = %v, want 1200", pc.Orders[0].DoseMg)
	}
	if pc.Orders[0].DailyDoseMg != 2400 {
		t.Errorf("daily dose = %v, want 2400", pc.Orders[0].DailyDoseMg)
	}
}

func TestAssemble_DerivesBSAAndCrCl(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	p.WeightKg = floatPtr(80)
	p.HeightCm = floatPtr(180)
	p.Creatinine = floatPtr(1.0)

	pc := assembleOne(t, NewStaticSource(p), nil, "p1")

	if pc.BSA == nil || math.Abs(*pc.BSA-2.0) > 1e-9 {
		t.Errorf("bsa = %v, want 2.0", pc.BSA)
	}
	if pc.CrCl == nil || math.Abs(*pc.CrCl-88.888) > 0.01 {
		t.Errorf("crcl = %v, want ~88.89", pc.CrCl)
	}
}

func TestAssemble_PediatricSkipsCockcroftGault(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	p.Demographics.AgeYears = floatPtr(4)
	p.WeightKg = floatPtr(18)
	p.Creatinine = floatPtr(0.4)
	p.EGFR = floatPtr(110)

	pc := assembleOne(t, NewStaticSource(p), nil, "p1")

	if pc.CrCl != nil {
		t.Errorf("crcl = %v, want nil for pediatric patient", *pc.CrCl)
	}
	if pc.EGFR == nil || *pc.EGFR != 110 {
		t.Errorf("egfr = %v, want 110", pc.EGFR)
	}
}

func TestAssemble_RecordsMissingData(t *testing.T) {
	pc := assembleOne(t, NewStaticSource(testPatient("p1", "MRN-1")), nil, "p1")

	for _, category := range []string{
		CategoryWeight, CategoryHeight, CategoryCreatinine,
		CategoryEGFR, CategoryDialysis, CategoryIndication,
	} {
		if !hasMissing(pc, category) {
			t.Errorf("missing data does not include %q: %v", category, pc.MissingData)
		}
	}
	if hasMissing(pc, CategoryAge) {
		t.Errorf("age recorded missing despite being present: %v", pc.MissingData)
	}
}

func TestAssemble_DemographicsFailureFails(t *testing.T) {
	src := NewStaticSource()
	if _, err := newTestAssembler(src, nil).Assemble(context.Background(), "nobody"); err == nil {
		t.Fatal("Assemble with unknown patient: expected error")
	}
}

type flakySource struct {
	*StaticSource
	weightErr error
}

func (f *flakySource) Weight(ctx context.Context, patientID string) (*float64, error) {
	return nil, f.weightErr
}

func TestAssemble_PartialFailureContinues(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	p.Orders = []MedicationOrder{{OrderID: "o1", Drug: "cefepime", DoseValue: 2, DoseUnit: "g", Frequency: "q8h", Route: "IV"}}
	src := &flakySource{
		StaticSource: NewStaticSource(p),
		weightErr:    errors.New("lab interface down"),
	}

	pc := assembleOne(t, src, nil, "p1")

	if !hasMissing(pc, CategoryWeight) {
		t.Errorf("missing data does not include weight: %v", pc.MissingData)
	}
	if len(pc.Orders) != 1 {
		t.Errorf("orders = %d, want 1", len(pc.Orders))
	}
}

func TestAssemble_NormalizesAllergiesAndCoMedications(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	p.Allergies = []RawAllergy{{Substance: "Vancocin", Reaction: "Rash", Severity: "Mild"}}
	p.CoMedications = []MedicationOrder{{OrderID: "c1", Drug: "Zoloft"}}

	pc := assembleOne(t, NewStaticSource(p), nil, "p1")

	if len(pc.Allergies) != 1 {
		t.Fatalf("allergies = %d, want 1", len(pc.Allergies))
	}
	al := pc.Allergies[0]
	if al.Substance != "vancomycin" || al.Class != "glycopeptide" || al.Reaction != "rash" || al.Severity != "mild" {
		t.Errorf("allergy = %+v, want normalized vancomycin/glycopeptide/rash/mild", al)
	}

	if len(pc.CoMedications) != 1 {
		t.Fatalf("co-medications = %d, want 1", len(pc.CoMedications))
	}
	if pc.CoMedications[0].Drug != "sertraline" || pc.CoMedications[0].Class != "ssri" {
		t.Errorf("co-medication = %+v, want sertraline/ssri", pc.CoMedications[0])
	}
}

func TestAssemble_CanonicalizesIndication(t *testing.T) {
	p := testPatient("p1", "MRN-1")
	inds := indication.NewStaticSource()
	inds.Set(&indication.Indication{
		PatientMRN: "MRN-1",
		Syndrome:   "C. diff colitis",
		Source:     "test",
		RecordedAt: time.Now(),
	})

	pc := assembleOne(t, NewStaticSource(p), inds, "p1")

	if pc.Indication == nil {
		t.Fatal("indication = nil, want cdi")
	}
	if pc.Indication.Syndrome != indication.SyndromeCDI {
		t.Errorf("syndrome = %q, want %q", pc.Indication.Syndrome, indication.SyndromeCDI)
	}
	if hasMissing(pc, CategoryIndication) {
		t.Errorf("indication recorded missing despite being present: %v", pc.MissingData)
	}
}

func TestAssemble_MRNFallsBackToPatientID(t *testing.T) {
	p := testPatient("p1", "")
	pc := assembleOne(t, NewStaticSource(p), nil, "p1")
	if pc.MRN != "p1" {
		t.Errorf("mrn = %q, want patient ID fallback p1", pc.MRN)
	}
}

func TestActivePatients_DefaultFixtures(t *testing.T) {
	src := NewStaticSource(DefaultFixtures()...)
	ids, err := newTestAssembler(src, nil).ActivePatients(context.Background())
	if err != nil {
		t.Fatalf("ActivePatients: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("active patients = %d, want 5", len(ids))
	}
	if ids[0] != "fixture-001" {
		t.Errorf("first patient = %q, want fixture-001", ids[0])
	}
}

func TestDaysOnTherapy(t *testing.T) {
	now := time.Now()
	started := now.Add(-72 * time.Hour)
	o := Order{StartedAt: &started}
	if got := o.DaysOnTherapy(now); got != 3 {
		t.Errorf("DaysOnTherapy = %d, want 3", got)
	}
	if got := (&Order{}).DaysOnTherapy(now); got != -1 {
		t.Errorf("DaysOnTherapy without start = %d, want -1", got)
	}
}
