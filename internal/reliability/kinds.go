// Package reliability makes tool calls robust against browser flakiness,
// transient network failures and hostile page state. Its single entry point,
// Executor.Execute, layers typed error classification, per-kind retry with
// backoff, a per-domain circuit breaker, pre-action validation and
// obstruction dismissal around one tool invocation.
package reliability

import (
	"fmt"
	"time"
)

// ErrorKind is the closed taxonomy of classified failures. No other kinds
// cross component boundaries; anything unrecognized coerces to KindUnknown.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindTransientTimeout ErrorKind = "transient-timeout"
	KindRateLimit        ErrorKind = "rate-limit"
	KindServer5xx        ErrorKind = "server-5xx"
	KindCaptcha          ErrorKind = "captcha"
	KindSelectorMissing  ErrorKind = "selector-missing"
	KindStaleElement     ErrorKind = "stale-element"
	KindNotFound4xx      ErrorKind = "not-found-4xx"
	KindAuthRequired     ErrorKind = "auth-required"
	KindConnectionReset  ErrorKind = "connection-reset"
	KindPageCrash        ErrorKind = "page-crash"
	KindObstruction      ErrorKind = "obstruction"
	KindUnknown          ErrorKind = "unknown"

	// KindCircuitOpen is synthetic: produced by the breaker without touching
	// the driver, never by the classifier.
	KindCircuitOpen ErrorKind = "circuit-open"
)

// ActionResult is the outcome of one executed tool call.
type ActionResult struct {
	Success  bool          `json:"success"`
	Data     any           `json:"data,omitempty"`
	Kind     ErrorKind     `json:"error_kind,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Attempts int           `json:"attempts"`
	Latency  time.Duration `json:"latency"`
}

// Observation renders the result the way the model sees it in a step.
func (r ActionResult) Observation() string {
	if r.Success {
		switch data := r.Data.(type) {
		case string:
			return data
		case nil:
			return "ok"
		default:
			return fmt.Sprintf("%v", data)
		}
	}
	if r.Reason != "" {
		return fmt.Sprintf("failed (%s): %s", r.Kind, r.Reason)
	}
	return fmt.Sprintf("failed (%s)", r.Kind)
}

func success(data any, attempts int, latency time.Duration) ActionResult {
	return ActionResult{Success: true, Data: data, Attempts: attempts, Latency: latency}
}

func failure(kind ErrorKind, reason string, attempts int, latency time.Duration) ActionResult {
	return ActionResult{Kind: kind, Reason: reason, Attempts: attempts, Latency: latency}
}
