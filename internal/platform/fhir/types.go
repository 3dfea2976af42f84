// Package fhir is a minimal, read-only FHIR R4 REST client. It fetches the
// handful of resources the patient context assembler needs (Patient,
// MedicationRequest, AllergyIntolerance, Observation, Condition) and stays
// deliberately ignorant of everything else in the specification.
package fhir

import (
	"encoding/json"
	"time"
)

// Meta carries the server-assigned resource metadata.
type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// DisplayText returns the concept's text, falling back to the first coding's
// display, then code.
func (c *CodeableConcept) DisplayText() string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	for _, cd := range c.Coding {
		if cd.Display != "" {
			return cd.Display
		}
	}
	for _, cd := range c.Coding {
		if cd.Code != "" {
			return cd.Code
		}
	}
	return ""
}

// HasCoding reports whether the concept carries the given system/code pair.
func (c *CodeableConcept) HasCoding(system, code string) bool {
	if c == nil {
		return false
	}
	for _, cd := range c.Coding {
		if cd.System == system && cd.Code == code {
			return true
		}
	}
	return false
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

type Quantity struct {
	Value  *float64 `json:"value,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	System string   `json:"system,omitempty"`
	Code   string   `json:"code,omitempty"`
}

// ---------------------------------------------------------------------------
// Bundle (searchset subset)
// ---------------------------------------------------------------------------

type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NextLink returns the URL of the bundle's "next" link, or "".
func (b *Bundle) NextLink() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// OperationOutcome is the FHIR error payload.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Diagnostics flattens the first issue's diagnostics for error messages.
func (o *OperationOutcome) Diagnostics() string {
	for _, is := range o.Issue {
		if is.Diagnostics != "" {
			return is.Diagnostics
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Patient
// ---------------------------------------------------------------------------

type Patient struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id"`
	Meta         *Meta        `json:"meta,omitempty"`
	Identifier   []Identifier `json:"identifier,omitempty"`
	Name         []HumanName  `json:"name,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	BirthDate    string       `json:"birthDate,omitempty"` // YYYY-MM-DD, may be partial
}

// IdentifierValue returns the value of the first identifier in the given
// system, or "" when absent.
func (p *Patient) IdentifierValue(system string) string {
	for _, id := range p.Identifier {
		if id.System == system {
			return id.Value
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// MedicationRequest
// ---------------------------------------------------------------------------

type MedicationRequest struct {
	ResourceType              string            `json:"resourceType"`
	ID                        string            `json:"id"`
	Status                    string            `json:"status"`
	Intent                    string            `json:"intent,omitempty"`
	MedicationCodeableConcept *CodeableConcept  `json:"medicationCodeableConcept,omitempty"`
	MedicationReference       *Reference        `json:"medicationReference,omitempty"`
	Subject                   Reference         `json:"subject"`
	AuthoredOn                *time.Time        `json:"authoredOn,omitempty"`
	ReasonCode                []CodeableConcept `json:"reasonCode,omitempty"`
	DosageInstruction         []Dosage          `json:"dosageInstruction,omitempty"`
	DispenseRequest           *DispenseRequest  `json:"dispenseRequest,omitempty"`
}

// MedicationText returns the best available drug name for the order.
func (m *MedicationRequest) MedicationText() string {
	if s := m.MedicationCodeableConcept.DisplayText(); s != "" {
		return s
	}
	if m.MedicationReference != nil {
		return m.MedicationReference.Display
	}
	return ""
}

type Dosage struct {
	Text        string           `json:"text,omitempty"`
	Timing      *Timing          `json:"timing,omitempty"`
	Route       *CodeableConcept `json:"route,omitempty"`
	DoseAndRate []DoseAndRate    `json:"doseAndRate,omitempty"`
}

type Timing struct {
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"` // e.g. BID, TID, Q8H
}

type TimingRepeat struct {
	Frequency    int      `json:"frequency,omitempty"`
	Period       *float64 `json:"period,omitempty"`
	PeriodUnit   string   `json:"periodUnit,omitempty"` // s | min | h | d | wk | mo
	Duration     *float64 `json:"duration,omitempty"`   // infusion duration
	DurationUnit string   `json:"durationUnit,omitempty"`
	BoundsPeriod *Period  `json:"boundsPeriod,omitempty"`
}

type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
}

type DispenseRequest struct {
	ExpectedSupplyDuration *Quantity `json:"expectedSupplyDuration,omitempty"`
	ValidityPeriod         *Period   `json:"validityPeriod,omitempty"`
}

// ---------------------------------------------------------------------------
// AllergyIntolerance
// ---------------------------------------------------------------------------

type AllergyIntolerance struct {
	ResourceType   string            `json:"resourceType"`
	ID             string            `json:"id"`
	ClinicalStatus *CodeableConcept  `json:"clinicalStatus,omitempty"`
	Code           *CodeableConcept  `json:"code,omitempty"` // substance
	Patient        Reference         `json:"patient"`
	Criticality    string            `json:"criticality,omitempty"`
	Reaction       []AllergyReaction `json:"reaction,omitempty"`
}

type AllergyReaction struct {
	Manifestation []CodeableConcept `json:"manifestation,omitempty"`
	Severity      string            `json:"severity,omitempty"` // mild | moderate | severe
	Description   string            `json:"description,omitempty"`
}

// IsActive reports whether the allergy's clinical status is active (or
// unstated, which FHIR treats as current).
func (a *AllergyIntolerance) IsActive() bool {
	if a.ClinicalStatus == nil {
		return true
	}
	const system = "http://terminology.hl7.org/CodeSystem/allergyintolerance-clinical"
	if len(a.ClinicalStatus.Coding) == 0 {
		return true
	}
	return a.ClinicalStatus.HasCoding(system, "active")
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

type Observation struct {
	ResourceType      string          `json:"resourceType"`
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Code              CodeableConcept `json:"code"`
	Subject           Reference       `json:"subject"`
	EffectiveDateTime *time.Time      `json:"effectiveDateTime,omitempty"`
	Issued            *time.Time      `json:"issued,omitempty"`
	ValueQuantity     *Quantity       `json:"valueQuantity,omitempty"`
	ValueString       string          `json:"valueString,omitempty"`
}

// Value returns the numeric value when present.
func (o *Observation) Value() (float64, bool) {
	if o.ValueQuantity == nil || o.ValueQuantity.Value == nil {
		return 0, false
	}
	return *o.ValueQuantity.Value, true
}

// ---------------------------------------------------------------------------
// Condition
// ---------------------------------------------------------------------------

type Condition struct {
	ResourceType   string           `json:"resourceType"`
	ID             string           `json:"id"`
	ClinicalStatus *CodeableConcept `json:"clinicalStatus,omitempty"`
	Code           *CodeableConcept `json:"code,omitempty"`
	Subject        Reference        `json:"subject"`
	RecordedDate   *time.Time       `json:"recordedDate,omitempty"`
}
