package dosealert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/platform/db"
	"github.com/abxguard/abxguard/internal/platform/telemetry"
)

// Maintenance fallbacks, used when the caller passes a zero threshold.
const (
	DefaultAutoAcceptAge       = 72 * time.Hour
	DefaultRetention           = 90 * 24 * time.Hour
	DefaultAnalyticsWindowDays = 30
)

// Service owns the alert lifecycle. Every mutating operation appends an
// audit entry in the same transaction as the state change; activity events
// and counters are advisory and emitted after commit.
type Service struct {
	alerts   Repository
	audit    AuditRepository
	pool     *pgxpool.Pool
	logger   zerolog.Logger
	tp       *telemetry.TelemetryProvider
	activity *telemetry.ActivityLog
}

func NewService(pool *pgxpool.Pool, alerts Repository, audit AuditRepository, logger zerolog.Logger) *Service {
	return &Service{
		alerts: alerts,
		audit:  audit,
		pool:   pool,
		logger: logger.With().Str("component", "dosealert").Logger(),
	}
}

// SetTelemetry wires the metrics provider; without it the service just
// skips instrumentation.
func (s *Service) SetTelemetry(tp *telemetry.TelemetryProvider) {
	s.tp = tp
}

// SetActivityLog wires the fire-and-forget activity sink.
func (s *Service) SetActivityLog(a *telemetry.ActivityLog) {
	s.activity = a
}

// inTx runs fn inside one transaction so a state change and its audit entry
// commit together. A nil pool (unit tests over in-memory repositories) runs
// fn directly.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

func (s *Service) recordActivity(actor, action string, alertID uuid.UUID) {
	if s.activity != nil {
		s.activity.Record(actor, action, "dose_alert:"+alertID.String(), "ok")
	}
}

func detailsJSON(kv map[string]string) *string {
	b, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	str := string(b)
	return &str
}

// Save persists a new alert in pending status. A second unresolved alert for
// the same (patient MRN, drug, flag type) is rejected with ErrDuplicateAlert.
func (s *Service) Save(ctx context.Context, rec *Record) error {
	if rec.PatientMRN == "" {
		return fmt.Errorf("patient_mrn is required")
	}
	if rec.Drug == "" {
		return fmt.Errorf("drug is required")
	}
	if rec.FlagType == "" {
		return fmt.Errorf("flag_type is required")
	}
	if rec.Severity == "" {
		return fmt.Errorf("severity is required")
	}
	rec.Status = StatusPending

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.alerts.Create(ctx, rec); err != nil {
			return err
		}
		return s.audit.Append(ctx, &AuditEntry{
			AlertID:   rec.ID,
			Action:    AuditCreated,
			Performer: SystemPerformer,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("alert_id", rec.ID.String()).
		Str("patient_mrn", rec.PatientMRN).
		Str("drug", rec.Drug).
		Str("flag_type", rec.FlagType).
		Str("severity", rec.Severity).
		Msg("dose alert saved")
	if s.tp != nil {
		s.tp.AlertCounter(rec.Severity, rec.FlagType)
	}
	s.recordActivity(SystemPerformer, "alert.created", rec.ID)
	return nil
}

// CheckIfAlerted reports whether an unresolved alert already exists for the
// dedup key.
func (s *Service) CheckIfAlerted(ctx context.Context, patientMRN, drug, flagType string) (bool, error) {
	rec, err := s.alerts.FindActiveByKey(ctx, patientMRN, drug, flagType)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// transition is the shared path for every status change: load, check the
// lifecycle, apply, persist, and append the audit entry, all in one
// transaction.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, performer, action string, details *string, apply func(rec *Record, now time.Time)) (*Record, error) {
	var rec *Record
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.alerts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(rec.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, rec.Status, to)
		}
		rec.Status = to
		apply(rec, time.Now())
		if err := s.alerts.Update(ctx, rec); err != nil {
			return err
		}
		return s.audit.Append(ctx, &AuditEntry{
			AlertID:   rec.ID,
			Action:    action,
			Performer: performer,
			Details:   details,
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkSent moves a pending alert to sent after a successful dispatch.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) error {
	rec, err := s.transition(ctx, id, StatusSent, SystemPerformer, AuditSent, nil,
		func(rec *Record, now time.Time) {
			rec.SentAt = &now
		})
	if err != nil {
		return err
	}
	s.logger.Info().Str("alert_id", rec.ID.String()).Str("severity", rec.Severity).Msg("dose alert sent")
	s.recordActivity(SystemPerformer, "alert.sent", rec.ID)
	return nil
}

// Acknowledge records that a reviewer has seen the alert. Acknowledging a
// pending alert is legal.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, by string) (*Record, error) {
	if by == "" {
		return nil, fmt.Errorf("performer is required")
	}
	rec, err := s.transition(ctx, id, StatusAcknowledged, by, AuditAcknowledged, nil,
		func(rec *Record, now time.Time) {
			rec.AcknowledgedAt = &now
			rec.AcknowledgedBy = &by
		})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("alert_id", rec.ID.String()).Str("by", by).Msg("dose alert acknowledged")
	s.recordActivity(by, "alert.acknowledged", rec.ID)
	return rec, nil
}

// Resolve closes the alert with one of the documented resolution reasons.
// Resolution is terminal.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, by, reason, notes string) (*Record, error) {
	if by == "" {
		return nil, fmt.Errorf("performer is required")
	}
	if !ValidResolutionReason(reason) {
		return nil, fmt.Errorf("invalid resolution reason: %q", reason)
	}
	rec, err := s.transition(ctx, id, StatusResolved, by, AuditResolved,
		detailsJSON(map[string]string{"reason": reason}),
		func(rec *Record, now time.Time) {
			rec.ResolvedAt = &now
			rec.ResolvedBy = &by
			rec.ResolutionReason = &reason
			if notes != "" {
				appendNote(rec, notes)
			}
		})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("alert_id", rec.ID.String()).
		Str("by", by).
		Str("reason", reason).
		Msg("dose alert resolved")
	s.recordActivity(by, "alert.resolved", rec.ID)
	return rec, nil
}

// AddNote appends a free-text note without changing status. Notes are legal
// in every state, resolved included.
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, by, text string) (*Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("note text is required")
	}
	if by == "" {
		by = SystemPerformer
	}

	var rec *Record
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.alerts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		appendNote(rec, text)
		if err := s.alerts.Update(ctx, rec); err != nil {
			return err
		}
		return s.audit.Append(ctx, &AuditEntry{
			AlertID:   rec.ID,
			Action:    AuditNoteAdded,
			Performer: by,
			Details:   detailsJSON(map[string]string{"text": text}),
		})
	})
	if err != nil {
		return nil, err
	}
	s.recordActivity(by, "alert.note_added", rec.ID)
	return rec, nil
}

func appendNote(rec *Record, text string) {
	if rec.Notes == nil || *rec.Notes == "" {
		rec.Notes = &text
		return
	}
	joined := *rec.Notes + "\n" + text
	rec.Notes = &joined
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.alerts.GetByID(ctx, id)
}

// History returns the alert's audit trail, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*AuditEntry, error) {
	if _, err := s.alerts.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListByAlert(ctx, id)
}

func (s *Service) ListActive(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	return s.alerts.ListActive(ctx, f, limit, offset)
}

func (s *Service) ListResolved(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	return s.alerts.ListResolved(ctx, f, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientMRN string) ([]*Record, error) {
	return s.alerts.ListByPatient(ctx, patientMRN)
}

// ListPending returns pending alerts at the given severities, oldest first.
// The monitor redelivers these each cycle.
func (s *Service) ListPending(ctx context.Context, severities ...string) ([]*Record, error) {
	return s.alerts.ListPendingBySeverity(ctx, severities)
}

// CountActive feeds the active-alerts gauge.
func (s *Service) CountActive(ctx context.Context) (int64, error) {
	return s.alerts.CountActive(ctx)
}

// Analytics aggregates alert activity over the trailing window.
func (s *Service) Analytics(ctx context.Context, windowDays int) (*Analytics, error) {
	if windowDays <= 0 {
		windowDays = DefaultAnalyticsWindowDays
	}
	since := time.Now().AddDate(0, 0, -windowDays)
	a, err := s.alerts.Analytics(ctx, since)
	if err != nil {
		return nil, err
	}
	a.WindowDays = windowDays
	return a, nil
}

// AutoAccept resolves pending and sent alerts older than the threshold with
// reason auto_accepted, attributed to the system. Returns how many were
// closed.
func (s *Service) AutoAccept(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultAutoAcceptAge
	}
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.alerts.ListStale(ctx, []Status{StatusPending, StatusSent}, cutoff)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, rec := range stale {
		if _, err := s.Resolve(ctx, rec.ID, SystemPerformer, ReasonAutoAccepted, ""); err != nil {
			s.logger.Warn().Err(err).Str("alert_id", rec.ID.String()).Msg("auto-accept failed")
			continue
		}
		accepted++
	}
	if accepted > 0 {
		s.logger.Info().Int("count", accepted).Msg("auto-accepted stale alerts")
	}
	return accepted, nil
}

// PurgeResolved deletes resolved alerts older than the retention window,
// audit rows included via the cascade.
func (s *Service) PurgeResolved(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := time.Now().Add(-retention)
	purged, err := s.alerts.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info().Int64("count", purged).Time("cutoff", cutoff).Msg("purged resolved alerts")
	}
	return purged, nil
}
