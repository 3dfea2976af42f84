// Package dosealert persists dosing findings as durable alerts with a
// four-state lifecycle and a transactional audit trail. At most one
// unresolved alert exists per (patient MRN, drug, flag type); the database
// enforces this with a partial unique index and the service surfaces
// collisions as ErrDuplicateAlert.
package dosealert

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports an alert id with no record behind it.
	ErrNotFound = errors.New("dose alert not found")

	// ErrDuplicateAlert reports a save that collided with an unresolved
	// alert for the same (patient MRN, drug, flag type). Routine during
	// monitor cycles; callers skip and move on.
	ErrDuplicateAlert = errors.New("duplicate active alert")

	// ErrInvalidTransition reports a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the alert lifecycle state. Resolved is terminal.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// transitions lists the legal moves out of each status. Acknowledging a
// pending alert is legal: acknowledgment implies receipt even when the
// dispatch never went out. Resolving a pending alert closes out a failed
// dispatch manually.
var transitions = map[Status][]Status{
	StatusPending:      {StatusSent, StatusAcknowledged, StatusResolved},
	StatusSent:         {StatusAcknowledged, StatusResolved},
	StatusAcknowledged: {StatusResolved},
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Resolution reasons recorded when an alert is closed.
const (
	ReasonDoseAdjusted            = "dose_adjusted"
	ReasonIntervalAdjusted        = "interval_adjusted"
	ReasonRouteChanged            = "route_changed"
	ReasonTherapyChanged          = "therapy_changed"
	ReasonTherapyStopped          = "therapy_stopped"
	ReasonDiscussedWithTeam       = "discussed_with_team"
	ReasonJustificationDocumented = "justification_documented"
	ReasonMessagedTeam            = "messaged_team"
	ReasonEscalated               = "escalated"
	ReasonNoActionNeeded          = "no_action_needed"
	ReasonAutoAccepted            = "auto_accepted"
	ReasonOther                   = "other"
)

var validResolutionReasons = map[string]bool{
	ReasonDoseAdjusted: true, ReasonIntervalAdjusted: true,
	ReasonRouteChanged: true, ReasonTherapyChanged: true,
	ReasonTherapyStopped: true, ReasonDiscussedWithTeam: true,
	ReasonJustificationDocumented: true, ReasonMessagedTeam: true,
	ReasonEscalated: true, ReasonNoActionNeeded: true,
	ReasonAutoAccepted: true, ReasonOther: true,
}

// ValidResolutionReason reports whether the reason is one of the documented
// resolution codes.
func ValidResolutionReason(reason string) bool {
	return validResolutionReasons[reason]
}

// SystemPerformer is recorded as the actor on lifecycle changes the service
// makes on its own, such as auto-accepting stale alerts.
const SystemPerformer = "system"

// Record is one persisted dose alert. The finding fields (drug, flag type,
// severity, message, expected, actual, rule source) are copied from the
// engine flag at save time; patient factors and the full assessment are
// kept as JSON snapshots so the dashboard can show the evidence the flag
// was raised on, even after the live clinical picture moves on.
type Record struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AssessmentID     uuid.UUID  `db:"assessment_id" json:"assessment_id"`
	PatientID        string     `db:"patient_id" json:"patient_id"`
	PatientMRN       string     `db:"patient_mrn" json:"patient_mrn"`
	PatientName      string     `db:"patient_name" json:"patient_name,omitempty"`
	Drug             string     `db:"drug" json:"drug"`
	Indication       string     `db:"indication" json:"indication,omitempty"`
	FlagType         string     `db:"flag_type" json:"flag_type"`
	Severity         string     `db:"severity" json:"severity"`
	Message          string     `db:"message" json:"message"`
	Expected         string     `db:"expected" json:"expected,omitempty"`
	Actual           string     `db:"actual" json:"actual,omitempty"`
	RuleSource       string     `db:"rule_source" json:"rule_source,omitempty"`
	PatientFactors   *string    `db:"patient_factors" json:"patient_factors,omitempty"`
	AssessmentDetail *string    `db:"assessment_detail" json:"assessment_detail,omitempty"`
	Status           Status     `db:"status" json:"status"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	ResolutionReason *string    `db:"resolution_reason" json:"resolution_reason,omitempty"`
	AcknowledgedBy   *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	ResolvedBy       *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	SentAt           *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the alert still demands attention.
func (r *Record) Active() bool {
	return r.Status != StatusResolved
}

// Audit trail actions.
const (
	AuditCreated      = "created"
	AuditSent         = "sent"
	AuditAcknowledged = "acknowledged"
	AuditResolved     = "resolved"
	AuditNoteAdded    = "note_added"
)

// AuditEntry is one row of an alert's transactional audit trail. Entries are
// written in the same transaction as the state change they describe.
type AuditEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	AlertID   uuid.UUID `db:"alert_id" json:"alert_id"`
	Action    string    `db:"action" json:"action"`
	Performer string    `db:"performer" json:"performer"`
	Details   *string   `db:"details" json:"details,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Filter narrows alert listings. Zero values match everything.
type Filter struct {
	Severity   string
	FlagType   string
	Drug       string
	PatientMRN string
}

// Analytics summarises alert activity inside a reporting window.
type Analytics struct {
	WindowDays            int            `json:"window_days"`
	Since                 time.Time      `json:"since"`
	TotalCreated          int            `json:"total_created"`
	ByStatus              map[string]int `json:"by_status"`
	BySeverity            map[string]int `json:"by_severity"`
	ByFlagType            map[string]int `json:"by_flag_type"`
	Resolved              int            `json:"resolved"`
	AutoAccepted          int            `json:"auto_accepted"`
	MeanResolutionHours   *float64       `json:"mean_resolution_hours,omitempty"`
	MedianResolutionHours *float64       `json:"median_resolution_hours,omitempty"`
}
