package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/domain/dosing"
	"github.com/abxguard/abxguard/internal/domain/reviewqueue"
	"github.com/abxguard/abxguard/internal/platform/telemetry"
)

// ReviewQueue is the slice of the review queue service the mirror pushes into.
type ReviewQueue interface {
	Push(ctx context.Context, a *reviewqueue.ReviewAlert) error
}

// QueueMirror copies critical and high alerts onto the shared review worklist
// after their first successful dispatch.
type QueueMirror struct {
	queue  ReviewQueue
	logger zerolog.Logger
	tp     *telemetry.TelemetryProvider
}

func NewQueueMirror(queue ReviewQueue, logger zerolog.Logger) *QueueMirror {
	return &QueueMirror{
		queue:  queue,
		logger: logger.With().Str("component", "queue_mirror").Logger(),
	}
}

func (m *QueueMirror) SetTelemetry(tp *telemetry.TelemetryProvider) {
	m.tp = tp
}

// OnDispatch mirrors the alert into the shared queue. Moderate findings are
// never dispatched, the severity check here keeps the listener safe to reuse
// regardless of who emits the event.
func (m *QueueMirror) OnDispatch(ctx context.Context, ev DispatchEvent) error {
	rec := ev.Alert
	if rec.Severity != string(dosing.SeverityCritical) && rec.Severity != string(dosing.SeverityHigh) {
		return nil
	}

	entry := &reviewqueue.ReviewAlert{
		Module:      reviewqueue.ModuleDosing,
		AlertType:   rec.FlagType,
		Severity:    rec.Severity,
		PatientMRN:  rec.PatientMRN,
		PatientName: rec.PatientName,
		Title:       fmt.Sprintf("%s: %s", rec.Drug, rec.FlagType),
		Summary:     rec.Message,
	}
	if raw, err := json.Marshal(rec); err == nil {
		s := string(raw)
		entry.Content = &s
	}

	if err := m.queue.Push(ctx, entry); err != nil {
		m.count("failed")
		return fmt.Errorf("mirror to review queue: %w", err)
	}
	m.count("ok")
	m.logger.Debug().
		Str("alert_id", rec.ID.String()).
		Str("severity", rec.Severity).
		Msg("alert mirrored to review queue")
	return nil
}

func (m *QueueMirror) count(outcome string) {
	if m.tp != nil {
		m.tp.NotificationCounter(ChannelQueue, outcome)
	}
}
