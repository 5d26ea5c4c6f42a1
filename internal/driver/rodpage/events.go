package rodpage

import (
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

// tapCapacity bounds each buffer; chatty pages drop their oldest entries.
const tapCapacity = 200

// eventTaps buffers console messages and request outcomes from CDP events.
// Buffers are cleared on every explicit navigation so diagnostics always
// describe the current page.
type eventTaps struct {
	mu       sync.Mutex
	consoles []ports.ConsoleEntry
	requests []ports.NetworkEvent
	methods  map[proto.NetworkRequestID]string
}

func newEventTaps(page *rod.Page, logger logging.Logger) *eventTaps {
	t := &eventTaps{methods: make(map[proto.NetworkRequestID]string)}

	wait := page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			t.addConsole(consoleLevel(e.Type), consoleText(e.Args))
		},
		func(e *proto.NetworkRequestWillBeSent) {
			t.mu.Lock()
			if e.Request != nil {
				t.methods[e.RequestID] = e.Request.Method
			}
			t.mu.Unlock()
		},
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			t.addNetwork(ports.NetworkEvent{
				URL:    e.Response.URL,
				Method: t.methodFor(e.RequestID),
				Status: e.Response.Status,
				Time:   time.Now(),
			})
		},
		func(e *proto.NetworkLoadingFailed) {
			t.addNetwork(ports.NetworkEvent{
				Method:    t.methodFor(e.RequestID),
				Failed:    true,
				ErrorText: e.ErrorText,
				Time:      time.Now(),
			})
		},
	)
	go func() {
		wait()
		logger.Debug("event taps stopped")
	}()
	return t
}

func (t *eventTaps) methodFor(id proto.NetworkRequestID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.methods[id]; ok {
		return m
	}
	return "GET"
}

func (t *eventTaps) addConsole(level, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consoles = append(t.consoles, ports.ConsoleEntry{Level: level, Text: text, Time: time.Now()})
	if len(t.consoles) > tapCapacity {
		t.consoles = t.consoles[len(t.consoles)-tapCapacity:]
	}
}

func (t *eventTaps) addNetwork(ev ports.NetworkEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, ev)
	if len(t.requests) > tapCapacity {
		t.requests = t.requests[len(t.requests)-tapCapacity:]
	}
}

func (t *eventTaps) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consoles = nil
	t.requests = nil
	t.methods = make(map[proto.NetworkRequestID]string)
}

func (t *eventTaps) console() []ports.ConsoleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ports.ConsoleEntry, len(t.consoles))
	copy(out, t.consoles)
	return out
}

func (t *eventTaps) network() []ports.NetworkEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ports.NetworkEvent, len(t.requests))
	copy(out, t.requests)
	return out
}

func consoleLevel(t proto.RuntimeConsoleAPICalledType) string {
	switch t {
	case proto.RuntimeConsoleAPICalledTypeError, proto.RuntimeConsoleAPICalledTypeAssert:
		return "error"
	case proto.RuntimeConsoleAPICalledTypeWarning:
		return "warning"
	default:
		return string(t)
	}
}

func consoleText(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if a.Value.Val() != nil {
			parts = append(parts, a.Value.String())
		} else if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}
