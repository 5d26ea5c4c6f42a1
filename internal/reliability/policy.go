package reliability

import (
	"math/rand"
	"time"
)

// BackoffStrategy selects the delay curve between attempts.
type BackoffStrategy string

const (
	BackoffNone        BackoffStrategy = "none"
	BackoffImmediate   BackoffStrategy = "immediate"   // first retry instant, then exponential
	BackoffLinear      BackoffStrategy = "linear"      // base·(n+1)
	BackoffExponential BackoffStrategy = "exponential" // base·2ⁿ
	BackoffExpJitter   BackoffStrategy = "exp-jitter"  // min(base·2ⁿ, max) + uniform(0, 0.25·base·2ⁿ)
)

// Remediation names the recovery action run before the next attempt.
type Remediation string

const (
	RemediateNone     Remediation = ""
	RemediateSnapshot Remediation = "re-snapshot"
	RemediateReload   Remediation = "reload"
	RemediateDismiss  Remediation = "dismiss-obstruction"
)

// Policy is the retry rule for one ErrorKind.
type Policy struct {
	MaxAttempts int
	Strategy    BackoffStrategy
	BaseDelay   time.Duration
	Retryable   bool
	Remediation Remediation
}

// maxBackoff caps every computed delay.
const maxBackoff = 60 * time.Second

// PolicyTable maps every ErrorKind to its retry rule.
type PolicyTable map[ErrorKind]Policy

// DefaultPolicies returns the standard table. Attempt counts include the
// first try.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		KindTransientTimeout: {MaxAttempts: 3, Strategy: BackoffImmediate, BaseDelay: time.Second, Retryable: true},
		KindRateLimit:        {MaxAttempts: 3, Strategy: BackoffExpJitter, BaseDelay: 30 * time.Second, Retryable: true},
		KindServer5xx:        {MaxAttempts: 4, Strategy: BackoffExpJitter, BaseDelay: 5 * time.Second, Retryable: true},
		KindSelectorMissing:  {MaxAttempts: 3, Strategy: BackoffLinear, BaseDelay: time.Second, Retryable: true, Remediation: RemediateSnapshot},
		KindStaleElement:     {MaxAttempts: 3, Strategy: BackoffNone, BaseDelay: 500 * time.Millisecond, Retryable: true, Remediation: RemediateSnapshot},
		KindConnectionReset:  {MaxAttempts: 3, Strategy: BackoffExpJitter, BaseDelay: time.Second, Retryable: true},
		KindPageCrash:        {MaxAttempts: 2, Strategy: BackoffLinear, BaseDelay: 2 * time.Second, Retryable: true, Remediation: RemediateReload},
		KindObstruction:      {MaxAttempts: 2, Strategy: BackoffNone, Retryable: true, Remediation: RemediateDismiss},
		KindCaptcha:          {MaxAttempts: 1, Retryable: false},
		KindNotFound4xx:      {MaxAttempts: 1, Retryable: false},
		KindAuthRequired:     {MaxAttempts: 1, Retryable: false},
		KindUnknown:          {MaxAttempts: 2, Strategy: BackoffExponential, BaseDelay: time.Second, Retryable: true},
	}
}

// Get returns the rule for kind, falling back to the unknown rule.
func (t PolicyTable) Get(kind ErrorKind) Policy {
	if p, ok := t[kind]; ok {
		return p
	}
	return t[KindUnknown]
}

// Delay computes the sleep before retry attempt n (0-based: n=0 is the delay
// after the first failure). rng may be nil for jitter-free delays.
func (p Policy) Delay(n int, rng *rand.Rand) time.Duration {
	var d time.Duration
	switch p.Strategy {
	case BackoffNone:
		d = p.BaseDelay
	case BackoffImmediate:
		if n == 0 {
			return 0
		}
		d = p.BaseDelay << (n - 1)
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(n+1)
	case BackoffExponential:
		d = p.BaseDelay << n
	case BackoffExpJitter:
		d = p.BaseDelay << n
		if d > maxBackoff {
			d = maxBackoff
		}
		if rng != nil {
			jitterCeil := float64(p.BaseDelay<<n) * 0.25
			d += time.Duration(rng.Float64() * jitterCeil)
		}
	default:
		d = p.BaseDelay
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	if d < 0 {
		d = maxBackoff // shift overflow
	}
	return d
}
