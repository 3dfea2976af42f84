// Package monitor drives the surveillance loop: select patients on active
// antimicrobials, assemble and evaluate each with bounded parallelism,
// persist new findings, dispatch notifications, then redeliver and run
// maintenance. A failing patient never takes the pass down.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abxguard/abxguard/internal/domain/dosealert"
	"github.com/abxguard/abxguard/internal/domain/dosing"
	"github.com/abxguard/abxguard/internal/domain/patientcontext"
	"github.com/abxguard/abxguard/internal/platform/telemetry"
)

const (
	DefaultInterval = 15 * time.Minute
	DefaultWorkers  = 4
)

// Source lists and assembles the patients to evaluate.
type Source interface {
	ActivePatients(ctx context.Context) ([]string, error)
	Assemble(ctx context.Context, patientID string) (*patientcontext.Context, error)
}

// Evaluator runs the rule engine over one assembled context.
type Evaluator interface {
	Evaluate(pc *patientcontext.Context) *dosing.Assessment
}

// AlertStore is the slice of the dose alert service the monitor writes
// through.
type AlertStore interface {
	CheckIfAlerted(ctx context.Context, patientMRN, drug, flagType string) (bool, error)
	Save(ctx context.Context, rec *dosealert.Record) error
	ListPending(ctx context.Context, severities ...string) ([]*dosealert.Record, error)
	AutoAccept(ctx context.Context, olderThan time.Duration) (int, error)
	PurgeResolved(ctx context.Context, retention time.Duration) (int64, error)
	CountActive(ctx context.Context) (int64, error)
}

// Dispatcher routes persisted alerts to their channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *dosealert.Record) error
}

// Config tunes the loop. Zero values fall back to the defaults.
type Config struct {
	Interval      time.Duration
	Workers       int
	AutoAcceptAge time.Duration
	Retention     time.Duration
	DryRun        bool
}

// PassStats summarizes one monitor pass.
type PassStats struct {
	Patients     int   `json:"patients"`
	Evaluated    int   `json:"evaluated"`
	Skipped      int   `json:"skipped"`
	Flags        int   `json:"flags"`
	NewAlerts    int   `json:"new_alerts"`
	Dispatched   int   `json:"dispatched"`
	Redelivered  int   `json:"redelivered"`
	AutoAccepted int   `json:"auto_accepted"`
	Purged       int64 `json:"purged"`
	DryRun       bool  `json:"dry_run"`
}

// Monitor owns the periodic pass.
type Monitor struct {
	source Source
	engine Evaluator
	alerts AlertStore
	router Dispatcher
	cfg    Config
	logger zerolog.Logger
	tp     *telemetry.TelemetryProvider
}

func New(source Source, engine Evaluator, alerts AlertStore, router Dispatcher, cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.AutoAcceptAge <= 0 {
		cfg.AutoAcceptAge = dosealert.DefaultAutoAcceptAge
	}
	if cfg.Retention <= 0 {
		cfg.Retention = dosealert.DefaultRetention
	}
	return &Monitor{
		source: source,
		engine: engine,
		alerts: alerts,
		router: router,
		cfg:    cfg,
		logger: logger.With().Str("component", "monitor").Logger(),
	}
}

// SetTelemetry wires the health gauges. Evaluation timing is observed by the
// engine itself.
func (m *Monitor) SetTelemetry(tp *telemetry.TelemetryProvider) {
	m.tp = tp
}

// WithDryRun returns a copy that evaluates and logs without writing or
// dispatching.
func (m *Monitor) WithDryRun() *Monitor {
	cp := *m
	cp.cfg.DryRun = true
	return &cp
}

// Run executes one pass immediately, then one per tick until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("workers", m.cfg.Workers).
		Msg("monitor loop started")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("monitor loop stopped")
			return ctx.Err()
		case <-ticker.C:
			m.runPass(ctx)
		}
	}
}

func (m *Monitor) runPass(ctx context.Context) {
	if _, err := m.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().Err(err).Msg("monitor pass failed")
	}
}

// RunOnce executes a single full pass: evaluate every active patient, then
// redeliver still-pending critical and high alerts from earlier cycles, then
// auto-accept and purge.
func (m *Monitor) RunOnce(ctx context.Context) (*PassStats, error) {
	started := time.Now()
	stats := &PassStats{DryRun: m.cfg.DryRun}

	ids, err := m.source.ActivePatients(ctx)
	if err != nil {
		return stats, fmt.Errorf("list active patients: %w", err)
	}
	stats.Patients = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ps, err := m.evaluatePatient(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Skipped++
				return nil
			}
			stats.Evaluated++
			stats.Flags += ps.flags
			stats.NewAlerts += ps.newAlerts
			stats.Dispatched += ps.dispatched
			return nil
		})
	}
	// Workers swallow their own errors; Wait only fences the pool.
	_ = g.Wait()

	if !m.cfg.DryRun {
		stats.Redelivered = m.redeliver(ctx, started)
		m.maintenance(ctx, stats)
	}

	m.logger.Info().
		Int("patients", stats.Patients).
		Int("evaluated", stats.Evaluated).
		Int("skipped", stats.Skipped).
		Int("flags", stats.Flags).
		Int("new_alerts", stats.NewAlerts).
		Int("dispatched", stats.Dispatched).
		Int("redelivered", stats.Redelivered).
		Int("auto_accepted", stats.AutoAccepted).
		Int64("purged", stats.Purged).
		Bool("dry_run", m.cfg.DryRun).
		Dur("elapsed", time.Since(started)).
		Msg("monitor pass complete")
	return stats, nil
}

// RunPatient evaluates one patient on demand. Redelivery and maintenance
// stay with the scheduled passes.
func (m *Monitor) RunPatient(ctx context.Context, patientID string) (*PassStats, error) {
	stats := &PassStats{Patients: 1, DryRun: m.cfg.DryRun}
	ps, err := m.evaluatePatient(ctx, patientID)
	if err != nil {
		stats.Skipped = 1
		return stats, err
	}
	stats.Evaluated = 1
	stats.Flags = ps.flags
	stats.NewAlerts = ps.newAlerts
	stats.Dispatched = ps.dispatched
	return stats, nil
}

type patientStats struct {
	flags      int
	newAlerts  int
	dispatched int
}

// evaluatePatient runs assemble, evaluate, persist, dispatch for one
// patient. Nothing is written until the assessment completed, and a panic
// anywhere in the chain is contained here.
func (m *Monitor) evaluatePatient(ctx context.Context, patientID string) (ps patientStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("patient_id", patientID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("patient evaluation panicked; patient skipped")
			err = fmt.Errorf("evaluate patient %s: panic: %v", patientID, r)
		}
	}()

	pc, err := m.source.Assemble(ctx, patientID)
	if err != nil {
		if errors.Is(err, patientcontext.ErrSourceUnreachable) {
			m.logger.Warn().
				Str("patient_id", patientID).
				Msg("clinical source unreachable, patient skipped")
		} else {
			m.logger.Error().Err(err).
				Str("patient_id", patientID).
				Msg("patient assembly failed")
		}
		return ps, err
	}

	a := m.engine.Evaluate(pc)
	ps.flags = len(a.Flags)
	if !a.HasFlags() {
		return ps, nil
	}

	if m.cfg.DryRun {
		for _, f := range a.Flags {
			m.logger.Info().
				Str("patient_mrn", a.MRN).
				Str("drug", f.Drug).
				Str("flag_type", string(f.Type)).
				Str("severity", string(f.Severity)).
				Str("message", f.Message).
				Msg("dry run finding")
		}
		return ps, nil
	}

	for _, f := range a.Flags {
		created, rec, err := m.persistFlag(ctx, a, pc, f)
		if err != nil {
			m.logger.Error().Err(err).
				Str("patient_mrn", a.MRN).
				Str("drug", f.Drug).
				Str("flag_type", string(f.Type)).
				Msg("alert save failed")
			continue
		}
		if !created {
			continue
		}
		ps.newAlerts++
		if err := m.router.Dispatch(ctx, rec); err != nil {
			m.logger.Warn().Err(err).
				Str("alert_id", rec.ID.String()).
				Msg("dispatch failed, alert stays pending")
			continue
		}
		ps.dispatched++
	}
	return ps, nil
}

// persistFlag stores one finding unless an active alert already covers its
// (patient, drug, flag type) key. Reports whether a new record was created.
func (m *Monitor) persistFlag(ctx context.Context, a *dosing.Assessment, pc *patientcontext.Context, f dosing.Flag) (bool, *dosealert.Record, error) {
	exists, err := m.alerts.CheckIfAlerted(ctx, a.MRN, f.Drug, string(f.Type))
	if err != nil {
		return false, nil, err
	}
	if exists {
		return false, nil, nil
	}

	rec := buildRecord(a, pc, f)
	if err := m.alerts.Save(ctx, rec); err != nil {
		// A concurrent pass won the index race; the finding is covered.
		if errors.Is(err, dosealert.ErrDuplicateAlert) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, rec, nil
}

// redeliver retries pending critical and high alerts created before this
// pass. Alerts whose dispatch failed moments ago wait for the next cycle.
func (m *Monitor) redeliver(ctx context.Context, passStart time.Time) int {
	pending, err := m.alerts.ListPending(ctx, string(dosing.SeverityCritical), string(dosing.SeverityHigh))
	if err != nil {
		m.logger.Error().Err(err).Msg("pending alert listing failed")
		return 0
	}

	n := 0
	for _, rec := range pending {
		if rec.CreatedAt.After(passStart) {
			continue
		}
		if err := m.router.Dispatch(ctx, rec); err != nil {
			m.logger.Warn().Err(err).
				Str("alert_id", rec.ID.String()).
				Msg("redelivery failed")
			continue
		}
		n++
	}
	return n
}

func (m *Monitor) maintenance(ctx context.Context, stats *PassStats) {
	accepted, err := m.alerts.AutoAccept(ctx, m.cfg.AutoAcceptAge)
	if err != nil {
		m.logger.Error().Err(err).Msg("auto-accept failed")
	}
	stats.AutoAccepted = accepted

	purged, err := m.alerts.PurgeResolved(ctx, m.cfg.Retention)
	if err != nil {
		m.logger.Error().Err(err).Msg("retention purge failed")
	}
	stats.Purged = purged

	if m.tp != nil {
		if active, err := m.alerts.CountActive(ctx); err == nil {
			m.tp.HealthMetrics().SetActiveAlerts(active)
		}
		m.tp.HealthMetrics().SetMonitorLastRun(time.Now().Unix())
	}
}
