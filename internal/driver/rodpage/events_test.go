package rodpage

import (
	"fmt"
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"surf/internal/agent/ports"
)

func newTestTaps() *eventTaps {
	return &eventTaps{methods: make(map[proto.NetworkRequestID]string)}
}

func TestTapsBufferAndReset(t *testing.T) {
	taps := newTestTaps()
	taps.addConsole("error", "boom")
	taps.addNetwork(ports.NetworkEvent{URL: "https://example.test/api", Method: "POST", Status: 500})

	if got := taps.console(); len(got) != 1 || got[0].Text != "boom" {
		t.Fatalf("console %+v", got)
	}
	if got := taps.network(); len(got) != 1 || got[0].Status != 500 {
		t.Fatalf("network %+v", got)
	}

	taps.reset()
	if len(taps.console()) != 0 || len(taps.network()) != 0 {
		t.Fatalf("reset must clear both buffers")
	}
}

func TestTapsDropOldestBeyondCapacity(t *testing.T) {
	taps := newTestTaps()
	for i := 0; i < tapCapacity+10; i++ {
		taps.addConsole("log", fmt.Sprintf("msg-%d", i))
	}
	got := taps.console()
	if len(got) != tapCapacity {
		t.Fatalf("len = %d, want %d", len(got), tapCapacity)
	}
	if got[0].Text != "msg-10" {
		t.Fatalf("oldest surviving entry %q", got[0].Text)
	}
}

func TestTapsMethodFallback(t *testing.T) {
	taps := newTestTaps()
	taps.methods["r1"] = "PUT"
	if got := taps.methodFor("r1"); got != "PUT" {
		t.Fatalf("method %q", got)
	}
	if got := taps.methodFor("unknown"); got != "GET" {
		t.Fatalf("fallback %q", got)
	}
}
