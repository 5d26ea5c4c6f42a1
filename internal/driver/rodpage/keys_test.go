package rodpage

import (
	"testing"

	"github.com/go-rod/rod/lib/input"
)

func TestParseChordNamedKey(t *testing.T) {
	mods, main, err := parseChord("Enter")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mods) != 0 || main != input.Enter {
		t.Fatalf("mods=%v main=%v", mods, main)
	}
}

func TestParseChordWithModifiers(t *testing.T) {
	mods, main, err := parseChord("Control+Shift+a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mods) != 2 || mods[0] != input.ControlLeft || mods[1] != input.ShiftLeft {
		t.Fatalf("mods %v", mods)
	}
	if main != input.Key('a') {
		t.Fatalf("main %v", main)
	}
}

func TestParseChordControlOrMeta(t *testing.T) {
	mods, main, err := parseChord("ControlOrMeta+a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(mods) != 1 {
		t.Fatalf("mods %v", mods)
	}
	if mods[0] != input.ControlLeft && mods[0] != input.MetaLeft {
		t.Fatalf("modifier %v", mods[0])
	}
	if main != input.Key('a') {
		t.Fatalf("main %v", main)
	}
}

func TestParseChordRejectsBadInput(t *testing.T) {
	for _, chord := range []string{"", "Bogus+a", "Control+NotAKey"} {
		if _, _, err := parseChord(chord); err == nil {
			t.Errorf("chord %q must fail", chord)
		}
	}
}

func TestWrapJSVariants(t *testing.T) {
	cases := map[string]string{
		"document.title":             "() => (document.title)",
		"() => document.title":       "() => document.title",
		"function f() { return 1; }": "function f() { return 1; }",
		"(a, b) => a + b":            "(a, b) => a + b",
	}
	for in, want := range cases {
		if got := wrapJS(in); got != want {
			t.Errorf("wrapJS(%q) = %q, want %q", in, got, want)
		}
	}
}
