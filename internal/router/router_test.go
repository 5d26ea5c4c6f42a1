package router

import (
	"testing"

	"surf/internal/logging"
	"surf/internal/tools"
)

func loaded() PageState {
	return PageState{URL: "https://example.test/", Loaded: true}
}

func TestRouteExtractionTriggers(t *testing.T) {
	r := New(logging.Nop())
	cases := []struct {
		text string
		want tools.Name
	}{
		{"extract all links", tools.NameExtractLinks},
		{"list the links on this page", tools.NameExtractLinks},
		{"get every anchor href", tools.NameExtractLinks},
		{"extract all forms", tools.NameExtractForms},
		{"what inputs does this page have", tools.NameExtractInputs},
		{"extract the table data", tools.NameExtractTables},
		{"is there a contact form on this page", tools.NameDetectContactForm},
		{"show me the console errors", tools.NameConsoleErrors},
		{"list failed network requests", tools.NameFailedRequests},
		{"dump the console log", tools.NameConsoleLogs},
		{"show the page source html", tools.NameInspectHTML},
	}
	for _, tc := range cases {
		call, ok := r.Route(tc.text, loaded())
		if !ok {
			t.Errorf("%q: expected a trigger match", tc.text)
			continue
		}
		if call.Name != tc.want {
			t.Errorf("%q routed to %s, want %s", tc.text, call.Name, tc.want)
		}
		if call.Origin != tools.OriginTrigger {
			t.Errorf("%q: origin = %s, want trigger", tc.text, call.Origin)
		}
	}
}

func TestRouteFirstMatchWins(t *testing.T) {
	r := New(logging.Nop())
	// Both the links and forms triggers match; contact-form outranks forms,
	// links outranks both in table order after it.
	call, ok := r.Route("extract all forms and links", loaded())
	if !ok {
		t.Fatalf("expected a match")
	}
	if call.Name != tools.NameExtractLinks {
		t.Fatalf("first match must win, got %s", call.Name)
	}
}

func TestRouteContactFormOutranksForms(t *testing.T) {
	r := New(logging.Nop())
	call, ok := r.Route("find the contact form", loaded())
	if !ok || call.Name != tools.NameDetectContactForm {
		t.Fatalf("got %v, want detect_contact_form", call)
	}
}

func TestRouteAttachExtractsPort(t *testing.T) {
	r := New(logging.Nop())
	call, ok := r.Route("attach to the running chrome browser on port 9222", PageState{})
	if !ok {
		t.Fatalf("expected attach trigger")
	}
	args, isAttach := call.Args.(tools.AttachBrowserArgs)
	if !isAttach || args.Port != 9222 {
		t.Fatalf("got %+v, want port 9222", call.Args)
	}
}

func TestRouteAttachWithoutPortFallsThrough(t *testing.T) {
	r := New(logging.Nop())
	if _, ok := r.Route("attach to my browser", PageState{}); ok {
		t.Fatalf("attach without a port must fall through to the model")
	}
}

func TestRouteMutatingIntentFallsThrough(t *testing.T) {
	r := New(logging.Nop())
	cases := []string{
		"fill the contact form with my details",
		"submit the form",
		"navigate to https://example.test and log in",
		"click the first link",
		"book a flight to berlin",
	}
	for _, text := range cases {
		if call, ok := r.Route(text, loaded()); ok {
			t.Errorf("%q must go to the model, routed to %s", text, call.Name)
		}
	}
}

func TestRouteNeedsLoadedPageForExtraction(t *testing.T) {
	r := New(logging.Nop())
	if _, ok := r.Route("extract all links", PageState{Loaded: false}); ok {
		t.Fatalf("extraction triggers need a loaded page")
	}
}

func TestRouteEmptyText(t *testing.T) {
	r := New(logging.Nop())
	if _, ok := r.Route("   ", loaded()); ok {
		t.Fatalf("blank prompt must not match")
	}
}

func TestRoutePanicBecomesNoMatch(t *testing.T) {
	r := New(logging.Nop())
	r.triggers = append([]trigger{{
		name:  "bomb",
		match: func(string) bool { panic("boom") },
		build: func(string, PageState) *tools.Call { return nil },
	}}, r.triggers...)

	call, ok := r.Route("extract all links", loaded())
	if ok || call != nil {
		t.Fatalf("panicking trigger must degrade to no match, got %v", call)
	}
}
