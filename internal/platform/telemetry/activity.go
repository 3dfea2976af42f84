package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ActivityEvent is one record of who did what to which entity. Events are
// advisory: they feed the structured log and the activity counters, never
// the audit trail, which is written transactionally by the alert store.
type ActivityEvent struct {
	Time    time.Time `json:"time"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Entity  string    `json:"entity"`
	Outcome string    `json:"outcome"`
}

// maxRecentEvents bounds the in-memory window kept for introspection.
const maxRecentEvents = 128

// ActivityLog is a fire-and-forget event sink. Record never blocks and never
// returns an error; when the queue is full the event is counted as dropped
// and discarded. A single drain goroutine emits accepted events through the
// structured logger.
type ActivityLog struct {
	ch     chan ActivityEvent
	logger zerolog.Logger
	tp     *TelemetryProvider

	mu     sync.Mutex
	recent []ActivityEvent

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

// NewActivityLog starts the drain goroutine and returns the log. The provider
// may be nil; counters are then skipped.
func NewActivityLog(logger zerolog.Logger, tp *TelemetryProvider, buffer int) *ActivityLog {
	if buffer <= 0 {
		buffer = 256
	}
	a := &ActivityLog{
		ch:      make(chan ActivityEvent, buffer),
		logger:  logger,
		tp:      tp,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go a.drain()
	return a
}

// Record enqueues an activity event. It never blocks: a full queue or a
// closed log drops the event and bumps the dropped counter.
func (a *ActivityLog) Record(actor, action, entity, outcome string) {
	ev := ActivityEvent{
		Time:    time.Now(),
		Actor:   actor,
		Action:  action,
		Entity:  entity,
		Outcome: outcome,
	}

	select {
	case <-a.done:
		a.countDropped()
		return
	default:
	}

	select {
	case a.ch <- ev:
	default:
		a.countDropped()
	}
}

// Recent returns a copy of the most recent emitted events, oldest first.
func (a *ActivityLog) Recent() []ActivityEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]ActivityEvent, len(a.recent))
	copy(cp, a.recent)
	return cp
}

// Close stops accepting events, flushes the queue, and waits for the drain
// goroutine to exit.
func (a *ActivityLog) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	<-a.drained
}

func (a *ActivityLog) drain() {
	defer close(a.drained)
	for {
		select {
		case ev := <-a.ch:
			a.emit(ev)
		case <-a.done:
			// Flush whatever is still buffered, then exit.
			for {
				select {
				case ev := <-a.ch:
					a.emit(ev)
				default:
					return
				}
			}
		}
	}
}

func (a *ActivityLog) emit(ev ActivityEvent) {
	a.logger.Info().
		Str("actor", ev.Actor).
		Str("action", ev.Action).
		Str("entity", ev.Entity).
		Str("outcome", ev.Outcome).
		Msg("activity")

	a.mu.Lock()
	a.recent = append(a.recent, ev)
	if len(a.recent) > maxRecentEvents {
		a.recent = a.recent[len(a.recent)-maxRecentEvents:]
	}
	a.mu.Unlock()

	if a.tp != nil {
		a.tp.counters.inc("activity.events.emitted")
	}
}

func (a *ActivityLog) countDropped() {
	if a.tp != nil {
		a.tp.counters.inc("activity.events.dropped")
	}
}
