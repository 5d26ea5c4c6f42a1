package reliability

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/snapshot"
	"surf/internal/tools"
)

// Invoker executes one tool call; tools.Registry is the production
// implementation.
type Invoker interface {
	Invoke(ctx context.Context, call *tools.Call) (any, error)
}

// Executor is the single entry point for running tool calls. Callers never
// wrap functions in retry helpers themselves; every policy decision lives in
// the table this executor consults.
type Executor struct {
	invoker      Invoker
	driver       ports.PageDriver
	snaps        *snapshot.Service
	validator    *Validator
	obstructions *ObstructionHandler
	breakers     *BreakerSet
	policies     PolicyTable
	clock        ports.Clock
	logger       logging.Logger
	rng          *rand.Rand

	// retryBias, when set, adds (or removes) attempts for retryable kinds.
	// The valence module feeds this; neutral valence contributes zero.
	retryBias func() int
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Invoker      Invoker
	Driver       ports.PageDriver
	Snapshots    *snapshot.Service
	Obstructions *ObstructionHandler
	Breakers     *BreakerSet
	Policies     PolicyTable
	Clock        ports.Clock
	Logger       logging.Logger
	// RetryBias is optional; see Executor.retryBias.
	RetryBias func() int
	// Seed fixes the jitter source for tests. Zero seeds from the clock.
	Seed int64
}

// NewExecutor builds the fabric around one page.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := logging.OrNop(cfg.Logger)
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.Obstructions == nil {
		cfg.Obstructions = NewObstructionHandler(cfg.Driver, logger)
	}
	if cfg.Breakers == nil {
		cfg.Breakers = NewBreakerSet(BreakerConfig{}, cfg.Clock, logger)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = cfg.Clock.Now().UnixNano()
	}
	return &Executor{
		invoker:      cfg.Invoker,
		driver:       cfg.Driver,
		snaps:        cfg.Snapshots,
		validator:    NewValidator(cfg.Driver, cfg.Snapshots, cfg.Obstructions, logger),
		obstructions: cfg.Obstructions,
		breakers:     cfg.Breakers,
		policies:     cfg.Policies,
		clock:        cfg.Clock,
		logger:       logger,
		rng:          rand.New(rand.NewSource(seed)),
		retryBias:    cfg.RetryBias,
	}
}

// Breakers exposes the circuit breaker map for observability.
func (e *Executor) Breakers() *BreakerSet { return e.breakers }

// Execute runs one tool call through the full state machine:
//
//	classify domain → circuit check → pre-action validation (with
//	remediation) → attempt → classify error → backoff → retry | fail
//
// It never returns an error; every outcome is an ActionResult.
func (e *Executor) Execute(ctx context.Context, call *tools.Call) ActionResult {
	start := e.clock.Now()
	domain := e.callDomain(ctx, call)

	if allowed, remaining := e.breakers.Allow(domain); !allowed {
		e.logger.Warn("circuit open for %s, rejecting %s (%s left)", domain, call.Name, remaining.Round(time.Second))
		return failure(KindCircuitOpen,
			fmt.Sprintf("domain %s is cooling off for another %s", domain, remaining.Round(time.Second)),
			0, e.clock.Now().Sub(start))
	}

	// Pre-action validation for element-targeting calls. One remediation
	// pass happens inside the validator; a stale ref earns one re-snapshot
	// and a second validation before giving up.
	if kind, reason := e.validator.Validate(ctx, call); kind != KindNone {
		if kind == KindStaleElement && e.resnapshot(ctx) {
			kind, reason = e.validator.Validate(ctx, call)
		}
		if kind != KindNone {
			e.breakers.MarkFailure(domain)
			return failure(kind, reason, 0, e.clock.Now().Sub(start))
		}
	}

	var lastKind ErrorKind
	var lastErr error
	attempts := 0

	for {
		attempts++
		data, err := e.invoker.Invoke(ctx, call)
		if err == nil {
			e.breakers.MarkSuccess(domain)
			if call.Name == tools.NameNavigate {
				e.obstructions.ResetPage()
			}
			return success(data, attempts, e.clock.Now().Sub(start))
		}

		lastErr = err
		lastKind = Classify(err)
		policy := e.policies.Get(lastKind)
		maxAttempts := e.biasedAttempts(policy)

		e.logger.Debug("%s attempt %d/%d failed as %s: %v", call.Name, attempts, maxAttempts, lastKind, err)

		if !policy.Retryable || attempts >= maxAttempts {
			break
		}
		if !e.remediate(ctx, call, policy.Remediation) {
			break
		}
		if !e.backoff(ctx, policy, attempts-1) {
			return failure(lastKind, fmt.Sprintf("cancelled during backoff: %v", lastErr),
				attempts, e.clock.Now().Sub(start))
		}
	}

	e.breakers.MarkFailure(domain)
	return failure(lastKind, lastErr.Error(), attempts, e.clock.Now().Sub(start))
}

// biasedAttempts applies the valence retry bias, never dropping below one
// attempt or exceeding twice the table value.
func (e *Executor) biasedAttempts(p Policy) int {
	max := p.MaxAttempts
	if e.retryBias != nil && p.Retryable {
		max += e.retryBias()
	}
	if max < 1 {
		max = 1
	}
	if max > 2*p.MaxAttempts {
		max = 2 * p.MaxAttempts
	}
	return max
}

// remediate runs the policy's recovery action. Returning false aborts the
// retry loop (the remediation itself proved the call unsalvageable).
func (e *Executor) remediate(ctx context.Context, call *tools.Call, r Remediation) bool {
	switch r {
	case RemediateSnapshot:
		return e.resnapshot(ctx)
	case RemediateReload:
		if err := e.driver.Reload(ctx); err != nil {
			e.logger.Warn("reload remediation failed: %v", err)
			return false
		}
		if err := e.driver.WaitLoad(ctx, ports.LoadDOMContentLoaded); err != nil {
			e.logger.Debug("load wait after reload: %v", err)
		}
		e.obstructions.ResetPage()
		return e.resnapshot(ctx)
	case RemediateDismiss:
		// The obstruction was detected mid-attempt (the driver refused the
		// click); re-validating runs the dismissal catalog.
		kind, _ := e.validator.Validate(ctx, call)
		return kind == KindNone
	default:
		return true
	}
}

// resnapshot force-refreshes the accessibility view so ref resolution sees
// the current page.
func (e *Executor) resnapshot(ctx context.Context) bool {
	if e.snaps == nil {
		return false
	}
	if _, err := e.snaps.Capture(ctx, snapshot.Options{Force: true}); err != nil {
		e.logger.Warn("re-snapshot remediation failed: %v", err)
		return false
	}
	return true
}

// backoff sleeps the policy delay for retry n. Returns false on context
// cancellation.
func (e *Executor) backoff(ctx context.Context, p Policy, n int) bool {
	delay := p.Delay(n, e.rng)
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-e.clock.After(delay):
		return true
	}
}

// callDomain resolves the domain a call targets: the navigation URL's host
// for navigate, the current page's host for everything else.
func (e *Executor) callDomain(ctx context.Context, call *tools.Call) string {
	if target, ok := call.TargetURL(); ok {
		return hostOf(target)
	}
	current, err := e.driver.URL(ctx)
	if err != nil {
		return ""
	}
	return hostOf(current)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
