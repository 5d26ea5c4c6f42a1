package reliability

import (
	"context"
	"errors"
	"strings"

	"surf/internal/snapshot"
)

// StatusError lets boundary adapters attach an HTTP-like status code to an
// error so classification does not depend on message text.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "status error"
}

func (e *StatusError) Unwrap() error { return e.Err }

// Classify maps any error to exactly one ErrorKind. Typed signals (sentinel
// errors, status codes, context errors) win over message sniffing; the
// fragment tables below are the fallback for the string soup browsers and
// model runtimes produce.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientTimeout
	}
	if errors.Is(err, snapshot.ErrStaleRef) {
		return KindStaleElement
	}
	if errors.Is(err, snapshot.ErrUnknownRef) {
		return KindSelectorMissing
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if kind := classifyStatus(statusErr.Code); kind != KindNone {
			return kind
		}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range fragmentRules {
		for _, frag := range rule.fragments {
			if strings.Contains(msg, frag) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindRateLimit
	case code >= 500 && code < 600:
		return KindServer5xx
	case code == 401 || code == 403:
		return KindAuthRequired
	case code == 404 || code == 410:
		return KindNotFound4xx
	default:
		return KindNone
	}
}

// fragmentRules are checked in order; the first matching fragment decides.
// Specific phrasings come before generic ones: "element not found" must win
// over the bare "not found" that belongs to the 4xx rule.
var fragmentRules = []struct {
	kind      ErrorKind
	fragments []string
}{
	{KindCaptcha, []string{"captcha", "recaptcha", "hcaptcha", "are you a robot", "challenge-form"}},
	{KindStaleElement, []string{"stale element", "detached from document", "node is detached", "no longer attached"}},
	{KindSelectorMissing, []string{
		"element not found", "no such element", "selector matched nothing",
		"no node found", "cannot find element", "unknown element ref",
	}},
	{KindObstruction, []string{
		"intercepts pointer events", "element is obscured", "obscures it",
		"not clickable at point", "element is covered", "overlay blocks",
	}},
	{KindPageCrash, []string{
		"page crashed", "target crashed", "target closed", "session closed",
		"browser has disconnected", "page has been closed", "context was destroyed",
	}},
	{KindConnectionReset, []string{
		"connection reset", "econnreset", "connection refused", "econnrefused",
		"broken pipe", "unexpected eof", "socket hang up", "connection closed",
	}},
	{KindRateLimit, []string{"rate limit", "too many requests", "429", "quota exceeded", "throttled"}},
	{KindServer5xx, []string{
		"internal server error", "bad gateway", "service unavailable",
		"gateway timeout", "502", "503", "504", "500",
	}},
	{KindAuthRequired, []string{
		"unauthorized", "forbidden", "authentication required", "login required",
		"401", "403", "sign in to continue",
	}},
	{KindNotFound4xx, []string{"404", "410", "not found", "gone"}},
	{KindTransientTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
}
