// Package patientcontext builds the point-in-time clinical snapshot the
// dosing rules evaluate. A Context is assembled fresh for each evaluation
// pass, is never mutated by rule modules, and is never persisted; only the
// findings derived from it become durable alerts.
package patientcontext

import (
	"time"

	"github.com/abxguard/abxguard/internal/domain/indication"
)

// Missing-data categories recorded on a Context when an optional input could
// not be retrieved. Absence of data is not an error; rules skip the checks
// that need the missing category.
const (
	CategoryAge           = "age"
	CategoryWeight        = "weight"
	CategoryHeight        = "height"
	CategoryCreatinine    = "creatinine"
	CategoryEGFR          = "egfr"
	CategoryDialysis      = "dialysis"
	CategoryOrders        = "orders"
	CategoryCoMedications = "co_medications"
	CategoryAllergies     = "allergies"
	CategoryIndication    = "indication"
)

// Context is one patient's clinically-relevant state at assembly time.
type Context struct {
	PatientID           string                 `json:"patient_id"`
	MRN                 string                 `json:"mrn"`
	Name                string                 `json:"name"`
	Sex                 string                 `json:"sex,omitempty"`
	AgeYears            *float64               `json:"age_years,omitempty"`
	GestationalAgeWeeks *float64               `json:"gestational_age_weeks,omitempty"`
	WeightKg            *float64               `json:"weight_kg,omitempty"`
	HeightCm            *float64               `json:"height_cm,omitempty"`
	BSA                 *float64               `json:"bsa,omitempty"`
	SerumCreatinine     *float64               `json:"serum_creatinine,omitempty"`
	EGFR                *float64               `json:"egfr,omitempty"`
	CrCl                *float64               `json:"crcl,omitempty"`
	OnDialysis          bool                   `json:"on_dialysis"`
	DialysisModality    string                 `json:"dialysis_modality,omitempty"`
	Orders              []Order                `json:"orders"`
	CoMedications       []CoMedication         `json:"co_medications,omitempty"`
	Allergies           []Allergy              `json:"allergies,omitempty"`
	Indication          *indication.Indication `json:"indication,omitempty"`
	AssembledAt         time.Time              `json:"assembled_at"`
	MissingData         []string               `json:"missing_data,omitempty"`
}

// Order is one active antimicrobial order, normalized by the assembler.
type Order struct {
	OrderID             string     `json:"order_id"`
	Drug                string     `json:"drug"`
	DoseValue           float64    `json:"dose_value"`
	DoseUnit            string     `json:"dose_unit"`
	DoseMg              float64    `json:"dose_mg"`
	Route               string     `json:"route"`
	Frequency           string     `json:"frequency"`
	IntervalHours       int        `json:"interval_hours"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	PlannedDurationDays *int       `json:"planned_duration_days,omitempty"`
	InfusionMinutes     *int       `json:"infusion_minutes,omitempty"`
	DailyDoseMg         float64    `json:"daily_dose_mg"`
	DailyDoseMgPerKg    *float64   `json:"daily_dose_mg_per_kg,omitempty"`
}

// CoMedication is an active non-antimicrobial medication.
type CoMedication struct {
	Drug  string `json:"drug"`
	Class string `json:"class,omitempty"`
}

// Allergy is one documented allergy, substance normalized to a generic name.
type Allergy struct {
	Substance string `json:"substance"`
	Class     string `json:"class,omitempty"`
	Reaction  string `json:"reaction,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// IsPediatric reports whether the patient is under 18. Unknown age is not
// pediatric; age-bracketed rules skip instead.
func (c *Context) IsPediatric() bool {
	return c.AgeYears != nil && *c.AgeYears < 18
}

// DaysOnTherapy returns whole days elapsed since the order started, or -1
// when the start date is unknown.
func (o *Order) DaysOnTherapy(now time.Time) int {
	if o.StartedAt == nil {
		return -1
	}
	d := now.Sub(*o.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
