package dosing

import (
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abxguard/abxguard/internal/domain/patientcontext"
	"github.com/abxguard/abxguard/internal/platform/telemetry"
)

// EngineVersion tags every assessment; bump when rule tables or engine
// semantics change so stored alerts can be traced to the rules that
// produced them.
const EngineVersion = "2.3.0"

// Module is one rule family. Evaluate must be pure: no I/O, no context
// mutation. A panicking module forfeits its findings for that patient;
// it never takes the evaluation down.
type Module interface {
	Name() string
	Evaluate(pc *patientcontext.Context) []Flag
}

// DefaultModules returns the rule families in evaluation order. Order
// matters twice: a critical contraindication or wrong-route finding stops
// further checks for that drug, and deduplication keeps the earlier flag
// on a severity tie.
func DefaultModules(tolerancePct float64) []Module {
	return []Module{
		NewAllergyModule(),
		NewRouteModule(),
		NewGuidelineModule(tolerancePct),
		NewRenalModule(),
		NewWeightModule(),
		NewInteractionModule(),
		NewInfusionModule(),
	}
}

// Engine runs the modules over a patient context and consolidates their
// flags into an Assessment. Evaluation never returns an error.
type Engine struct {
	modules   []Module
	telemetry *telemetry.TelemetryProvider
	logger    zerolog.Logger
}

func NewEngine(modules []Module, logger zerolog.Logger) *Engine {
	return &Engine{
		modules: modules,
		logger:  logger.With().Str("component", "dosing_engine").Logger(),
	}
}

// SetTelemetry wires the metrics provider; without it the engine just
// skips instrumentation.
func (e *Engine) SetTelemetry(tp *telemetry.TelemetryProvider) {
	e.telemetry = tp
}

type dedupKey struct {
	drug string
	typ  FlagType
}

// Evaluate runs every module in order against the context.
func (e *Engine) Evaluate(pc *patientcontext.Context) *Assessment {
	started := time.Now()
	a := &Assessment{
		ID:            uuid.New(),
		PatientID:     pc.PatientID,
		MRN:           pc.MRN,
		PatientName:   pc.Name,
		Medications:   orderedDrugs(pc.Orders),
		Indication:    flagIndication(pc),
		MissingData:   pc.MissingData,
		EvaluatedAt:   started.UTC(),
		EngineVersion: EngineVersion,
	}

	stopped := make(map[string]bool)
	var collected []Flag
	for _, m := range e.modules {
		batch := e.runModule(m, pc)

		var kept []Flag
		for _, f := range batch {
			if f.Drug != "" && stopped[f.Drug] {
				continue
			}
			kept = append(kept, f)
		}
		for _, f := range kept {
			if f.Severity == SeverityCritical &&
				(f.Type == FlagContraindicated || f.Type == FlagWrongRoute) {
				stopped[f.Drug] = true
			}
		}
		collected = append(collected, kept...)

		if e.telemetry != nil {
			outcome := "clean"
			if len(kept) > 0 {
				outcome = "flagged"
			}
			e.telemetry.RuleModuleCounter(m.Name(), outcome)
		}
	}

	a.Flags = dedupe(collected)
	a.MaxSeverity = maxSeverity(a.Flags)
	for drug := range stopped {
		a.TruncatedDrugs = append(a.TruncatedDrugs, drug)
	}
	sort.Strings(a.TruncatedDrugs)

	if e.telemetry != nil {
		e.telemetry.ObserveEvaluation(time.Since(started))
	}
	e.logger.Debug().
		Str("patient_id", pc.PatientID).
		Str("mrn", pc.MRN).
		Int("flags", len(a.Flags)).
		Str("max_severity", string(a.MaxSeverity)).
		Dur("elapsed", time.Since(started)).
		Msg("evaluation complete")
	return a
}

// runModule isolates a module panic to that module's findings.
func (e *Engine) runModule(m Module, pc *patientcontext.Context) (flags []Flag) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("rule_module", m.Name()).
				Str("patient_id", pc.PatientID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("rule module panicked; its findings are skipped")
			if e.telemetry != nil {
				e.telemetry.RuleModuleCounter(m.Name(), "panic")
			}
			flags = nil
		}
	}()
	return m.Evaluate(pc)
}

// orderedDrugs lists the distinct drugs under evaluation, in order.
func orderedDrugs(orders []patientcontext.Order) []string {
	var drugs []string
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if o.Drug == "" || seen[o.Drug] {
			continue
		}
		seen[o.Drug] = true
		drugs = append(drugs, o.Drug)
	}
	return drugs
}

// dedupe collapses flags sharing (drug, type), keeping the most severe;
// on a tie the earlier (higher-priority module) flag wins.
func dedupe(flags []Flag) []Flag {
	if len(flags) == 0 {
		return nil
	}
	out := make([]Flag, 0, len(flags))
	index := make(map[dedupKey]int, len(flags))
	for _, f := range flags {
		k := dedupKey{drug: f.Drug, typ: f.Type}
		if i, ok := index[k]; ok {
			if f.Severity.Rank() > out[i].Severity.Rank() {
				out[i] = f
			}
			continue
		}
		index[k] = len(out)
		out = append(out, f)
	}
	return out
}
