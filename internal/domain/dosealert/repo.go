package dosealert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	// FindActiveByKey returns the unresolved alert for the dedup key, or
	// (nil, nil) when there is none.
	FindActiveByKey(ctx context.Context, patientMRN, drug, flagType string) (*Record, error)
	ListActive(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error)
	ListResolved(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error)
	ListByPatient(ctx context.Context, patientMRN string) ([]*Record, error)
	// ListPendingBySeverity returns pending alerts at the given severities,
	// oldest first, for redelivery.
	ListPendingBySeverity(ctx context.Context, severities []string) ([]*Record, error)
	// ListStale returns alerts in the given statuses created before the
	// cutoff, oldest first, for auto-accept.
	ListStale(ctx context.Context, statuses []Status, before time.Time) ([]*Record, error)
	CountActive(ctx context.Context) (int64, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Analytics(ctx context.Context, since time.Time) (*Analytics, error)
}

type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByAlert(ctx context.Context, alertID uuid.UUID) ([]*AuditEntry, error)
}
