// Package valence tracks a single mood-like scalar in [-1, 1] fed by run
// events. The orchestrator may consult it to bias retry tolerance; with the
// module disabled (the default) every query reports neutral.
package valence

import (
	"math"
	"sync"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/storage"
)

// EventKind names a state-moving occurrence.
type EventKind string

const (
	// ActionCompleted is emitted after every executed tool call.
	ActionCompleted EventKind = "action-completed"
	// HealthCritical is emitted when the run hits a fatal-class condition
	// (circuit open on the mandatory path, page crash loop).
	HealthCritical EventKind = "health-critical"
	// UserFrustrated is emitted when the goal text or a follow-up signals
	// frustration (repeated identical goals, explicit complaint wording).
	UserFrustrated EventKind = "user-frustrated"
)

// Event is one typed occurrence.
type Event struct {
	Kind    EventKind
	Success bool
	Domain  string

	// ack, when set, marks a flush barrier instead of a real event.
	ack chan struct{}
}

// deltas per event kind; ActionCompleted splits on Success.
const (
	deltaActionSuccess  = 0.05
	deltaActionFailure  = -0.10
	deltaHealthCritical = -0.30
	deltaUserFrustrated = -0.20
)

// Config tunes the engine.
type Config struct {
	Enabled bool
	// Path is where the state snapshot is persisted on Close. Empty
	// disables persistence.
	Path string
	// HalfLife is the decay half-life toward neutral (default 5 min).
	HalfLife time.Duration
	// Buffer is the event channel capacity (default 64). A full buffer
	// drops events rather than blocking the emitter.
	Buffer int
	Clock  ports.Clock
	Logger logging.Logger
}

// persistedState is the valence_state.json shape.
type persistedState struct {
	State     float64   `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Engine consumes events on a single goroutine and exposes the decayed
// state. A disabled engine accepts and discards everything.
type Engine struct {
	enabled  bool
	path     string
	halfLife time.Duration
	clock    ports.Clock
	logger   logging.Logger

	events chan Event
	done   chan struct{}

	mu        sync.RWMutex
	state     float64
	updatedAt time.Time
}

// New creates the engine and, when enabled, restores any persisted state and
// starts the consumer.
func New(cfg Config) *Engine {
	e := &Engine{
		enabled:  cfg.Enabled,
		path:     cfg.Path,
		halfLife: cfg.HalfLife,
		clock:    cfg.Clock,
		logger:   logging.OrNop(cfg.Logger),
	}
	if e.halfLife <= 0 {
		e.halfLife = 5 * time.Minute
	}
	if !e.enabled {
		return e
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	e.events = make(chan Event, buffer)
	e.done = make(chan struct{})
	e.updatedAt = e.now()

	if e.path != "" {
		var saved persistedState
		if err := storage.ReadJSONFile(e.path, &saved); err == nil {
			e.state = clamp(saved.State)
			if !saved.UpdatedAt.IsZero() {
				e.updatedAt = saved.UpdatedAt
			}
		}
	}
	go e.consume()
	return e
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}

// Record submits an event. It never blocks: with the consumer behind, the
// event is dropped. Disabled engines discard silently.
func (e *Engine) Record(ev Event) {
	if !e.enabled {
		return
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("valence buffer full, dropping %s", ev.Kind)
	}
}

func (e *Engine) consume() {
	for {
		select {
		case ev := <-e.events:
			if ev.ack != nil {
				close(ev.ack)
				continue
			}
			e.apply(ev)
		case <-e.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-e.events:
					if ev.ack != nil {
						close(ev.ack)
						continue
					}
					e.apply(ev)
				default:
					return
				}
			}
		}
	}
}

// Flush blocks until every event submitted before the call has been applied.
func (e *Engine) Flush() {
	if !e.enabled {
		return
	}
	ack := make(chan struct{})
	select {
	case e.events <- Event{ack: ack}:
		<-ack
	case <-e.done:
	}
}

func (e *Engine) apply(ev Event) {
	var delta float64
	switch ev.Kind {
	case ActionCompleted:
		if ev.Success {
			delta = deltaActionSuccess
		} else {
			delta = deltaActionFailure
		}
	case HealthCritical:
		delta = deltaHealthCritical
	case UserFrustrated:
		delta = deltaUserFrustrated
	default:
		return
	}

	now := e.now()
	e.mu.Lock()
	e.state = clamp(decay(e.state, now.Sub(e.updatedAt), e.halfLife) + delta)
	e.updatedAt = now
	e.mu.Unlock()
}

// Snapshot returns the current state with decay applied. Disabled engines
// are always neutral.
func (e *Engine) Snapshot() float64 {
	if !e.enabled {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return decay(e.state, e.now().Sub(e.updatedAt), e.halfLife)
}

// RetryBias maps the state onto extra or fewer retry attempts: a confident
// engine grants one more, a battered one gives up one sooner.
func (e *Engine) RetryBias() int {
	s := e.Snapshot()
	switch {
	case s > 0.3:
		return 1
	case s < -0.3:
		return -1
	default:
		return 0
	}
}

// Close stops the consumer, persists the state, and leaves the engine
// answering neutrally. Safe to call on a disabled engine.
func (e *Engine) Close() error {
	if !e.enabled {
		return nil
	}
	e.Flush()
	close(e.done)
	e.enabled = false
	if e.path == "" {
		return nil
	}
	e.mu.RLock()
	snap := persistedState{State: e.state, UpdatedAt: e.updatedAt}
	e.mu.RUnlock()
	return storage.WriteJSONFile(e.path, snap)
}

func decay(state float64, elapsed time.Duration, halfLife time.Duration) float64 {
	if elapsed <= 0 || state == 0 {
		return state
	}
	return state * math.Exp2(-float64(elapsed)/float64(halfLife))
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
