package reliability

import (
	"sync"
	"sync/atomic"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

const (
	defaultFailureThreshold = 3
	defaultFailureWindow    = 30 * time.Second
	defaultCoolOff          = 60 * time.Second
)

// BreakerConfig tunes the per-domain circuit breaker.
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many failures inside the
	// window. Default 3.
	FailureThreshold int
	// FailureWindow bounds how close together the failures must be. Default 30s.
	FailureWindow time.Duration
	// CoolOff is how long an open circuit rejects calls. Default 60s.
	CoolOff time.Duration
}

func (c *BreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = defaultFailureWindow
	}
	if c.CoolOff <= 0 {
		c.CoolOff = defaultCoolOff
	}
}

type domainState struct {
	consecutive int
	lastError   time.Time
	openUntil   time.Time
}

// BreakerSet tracks one circuit per domain. A domain enters cool-off after
// FailureThreshold failures within FailureWindow; while open, Allow rejects
// without touching the driver. A single success closes the circuit and
// clears the failure count, even mid-cool-off.
type BreakerSet struct {
	cfg    BreakerConfig
	clock  ports.Clock
	logger logging.Logger

	mu      sync.Mutex
	domains map[string]*domainState
	opens   atomic.Int64
}

// NewBreakerSet builds an empty breaker map.
func NewBreakerSet(cfg BreakerConfig, clock ports.Clock, logger logging.Logger) *BreakerSet {
	cfg.applyDefaults()
	return &BreakerSet{
		cfg:     cfg,
		clock:   clock,
		logger:  logging.OrNop(logger),
		domains: make(map[string]*domainState),
	}
}

// Allow reports whether a call to domain may proceed, and when it may not,
// how long until the cool-off expires.
func (b *BreakerSet) Allow(domain string) (bool, time.Duration) {
	if domain == "" {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.domains[domain]
	if !ok {
		return true, 0
	}
	now := b.clock.Now()
	if now.Before(state.openUntil) {
		return false, state.openUntil.Sub(now)
	}
	return true, 0
}

// MarkFailure records one failed call. Failures older than the window do not
// accumulate: a fresh failure after a quiet period restarts the count at 1.
func (b *BreakerSet) MarkFailure(domain string) {
	if domain == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.domains[domain]
	if !ok {
		state = &domainState{}
		b.domains[domain] = state
	}

	now := b.clock.Now()
	if !state.lastError.IsZero() && now.Sub(state.lastError) > b.cfg.FailureWindow {
		state.consecutive = 0
	}
	state.consecutive++
	state.lastError = now

	if state.consecutive >= b.cfg.FailureThreshold && now.After(state.openUntil) {
		state.openUntil = now.Add(b.cfg.CoolOff)
		b.opens.Add(1)
		b.logger.Warn("circuit opened for %s after %d failures, cooling off %s",
			domain, state.consecutive, b.cfg.CoolOff)
	}
}

// MarkSuccess records one successful call, closing the circuit.
func (b *BreakerSet) MarkSuccess(domain string) {
	if domain == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.domains[domain]; ok {
		if !state.openUntil.IsZero() {
			b.logger.Info("circuit closed for %s after success", domain)
		}
		state.consecutive = 0
		state.openUntil = time.Time{}
	}
}

// Stats reports the process-wide count of circuit opens.
func (b *BreakerSet) Stats() BreakerStats {
	b.mu.Lock()
	tracked := len(b.domains)
	open := 0
	now := b.clock.Now()
	for _, state := range b.domains {
		if now.Before(state.openUntil) {
			open++
		}
	}
	b.mu.Unlock()
	return BreakerStats{
		Opens:          b.opens.Load(),
		TrackedDomains: tracked,
		CurrentlyOpen:  open,
	}
}

// BreakerStats is an observability snapshot of the breaker map.
type BreakerStats struct {
	Opens          int64 `json:"opens"`
	TrackedDomains int   `json:"tracked_domains"`
	CurrentlyOpen  int   `json:"currently_open"`
}
