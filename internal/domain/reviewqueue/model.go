// Package reviewqueue is the shared cross-module worklist. Alert-producing
// modules mirror their high-priority findings here so reviewers work a
// single queue; the dosing module feeds it through the notification router.
package reviewqueue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports a review alert id with no record behind it.
	ErrNotFound = errors.New("review alert not found")

	// ErrAlreadyReviewed reports a review decision against an alert that
	// has already left the new status.
	ErrAlreadyReviewed = errors.New("review alert already reviewed")
)

// Status is the queue state of a review alert.
type Status string

const (
	StatusNew       Status = "new"
	StatusReviewed  Status = "reviewed"
	StatusDismissed Status = "dismissed"
)

// ModuleDosing tags queue entries mirrored from the dosing pipeline.
const ModuleDosing = "dosing"

// ReviewAlert is one entry in the shared queue. Content carries the source
// module's full payload as JSON; the queue itself stays module-agnostic.
type ReviewAlert struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Module      string     `db:"module" json:"module"`
	AlertType   string     `db:"alert_type" json:"alert_type"`
	Severity    string     `db:"severity" json:"severity"`
	PatientMRN  string     `db:"patient_mrn" json:"patient_mrn"`
	PatientName string     `db:"patient_name" json:"patient_name,omitempty"`
	Title       string     `db:"title" json:"title"`
	Summary     string     `db:"summary" json:"summary,omitempty"`
	Content     *string    `db:"content" json:"content,omitempty"`
	Status      Status     `db:"status" json:"status"`
	ReviewedBy  *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Filter narrows queue listings. Zero values match everything.
type Filter struct {
	Module   string
	Severity string
	Status   string
}
