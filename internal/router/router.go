// Package router short-circuits the model for prompts whose intent is
// unambiguous. A matched trigger produces a ready tool call and saves a full
// model round-trip; anything else falls through to planning, so a miss here
// is never an error.
package router

import (
	"regexp"
	"strconv"
	"strings"

	"surf/internal/logging"
	"surf/internal/tools"
)

// PageState is what the router may inspect about the current page when
// deciding whether a trigger applies.
type PageState struct {
	URL    string
	Loaded bool
}

// trigger pairs a predicate on the lowercased prompt with a call builder.
// Triggers are ordered; the first match wins.
type trigger struct {
	name     string
	match    func(text string) bool
	build    func(text string, page PageState) *tools.Call
	needPage bool
}

// Router dispatches natural-language triggers.
type Router struct {
	logger   logging.Logger
	triggers []trigger
}

// New builds the standard trigger table.
func New(logger logging.Logger) *Router {
	return &Router{logger: logging.OrNop(logger), triggers: standardTriggers()}
}

// Route returns a direct tool call when the text matches a trigger. It never
// panics: a fault inside trigger dispatch is logged and reported as no
// match, keeping the model path as the safety net.
func (r *Router) Route(text string, page PageState) (call *tools.Call, matched bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("trigger dispatch panicked on %q: %v", text, rec)
			call, matched = nil, false
		}
	}()

	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil, false
	}
	for _, tr := range r.triggers {
		if tr.needPage && !page.Loaded {
			continue
		}
		if tr.match(lowered) {
			c := tr.build(lowered, page)
			if c == nil {
				continue
			}
			c.Origin = tools.OriginTrigger
			r.logger.Debug("trigger %q matched, bypassing model with %s", tr.name, c)
			return c, true
		}
	}
	return nil, false
}

// extractVerbs are the words that signal a read-only extraction intent.
// "fill the contact form" must not trigger extraction, so verbs are
// mandatory for the structured-extraction triggers.
var extractVerbs = []string{
	"extract", "list", "get", "show", "find", "grab", "collect", "scrape", "dump",
	"what", "which", "are there", "is there",
}

func hasExtractVerb(text string) bool {
	for _, v := range extractVerbs {
		if strings.Contains(text, v) {
			return true
		}
	}
	return false
}

func wants(text string, nouns ...string) bool {
	if !hasExtractVerb(text) {
		return false
	}
	for _, noun := range nouns {
		if strings.Contains(text, noun) {
			return true
		}
	}
	return false
}

var portPattern = regexp.MustCompile(`\b(\d{4,5})\b`)

func standardTriggers() []trigger {
	return []trigger{
		// Session reuse comes first: "attach to the browser on port 9222"
		// mentions no extraction noun, but check it before anything else so
		// a prompt like "attach and list links" attaches first.
		{
			name: "attach-debugger",
			match: func(text string) bool {
				return (strings.Contains(text, "attach") || strings.Contains(text, "connect")) &&
					(strings.Contains(text, "browser") || strings.Contains(text, "debug port") ||
						strings.Contains(text, "cdp") || strings.Contains(text, "chrome"))
			},
			build: func(text string, _ PageState) *tools.Call {
				m := portPattern.FindStringSubmatch(text)
				if m == nil {
					return nil // no port named: the model has to ask
				}
				port, err := strconv.Atoi(m[1])
				if err != nil || port < 1024 || port > 65535 {
					return nil
				}
				return &tools.Call{Name: tools.NameAttachBrowser, Args: tools.AttachBrowserArgs{Port: port}}
			},
		},

		// Structured extraction. Contact-form detection outranks the generic
		// form inventory so "find the contact form" routes precisely.
		{
			name:     "contact-form",
			needPage: true,
			match: func(text string) bool {
				return wants(text, "contact form", "contact-form")
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameDetectContactForm, Args: tools.DetectContactFormArgs{}}
			},
		},
		{
			name:     "extract-links",
			needPage: true,
			match: func(text string) bool {
				return wants(text, "link", "href", "anchor")
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameExtractLinks, Args: tools.ExtractLinksArgs{}}
			},
		},
		{
			name:     "extract-forms",
			needPage: true,
			match: func(text string) bool {
				return wants(text, "form")
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameExtractForms, Args: tools.ExtractFormsArgs{}}
			},
		},
		{
			name:     "extract-inputs",
			needPage: true,
			match: func(text string) bool {
				return wants(text, "input", "field", "text box", "textbox")
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameExtractInputs, Args: tools.ExtractInputsArgs{}}
			},
		},
		{
			name:     "extract-tables",
			needPage: true,
			match: func(text string) bool {
				return wants(text, "table")
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameExtractTables, Args: tools.ExtractTablesArgs{}}
			},
		},

		// Diagnostics.
		{
			name:     "console-errors",
			needPage: true,
			match: func(text string) bool {
				return (strings.Contains(text, "console error") || strings.Contains(text, "js error") ||
					strings.Contains(text, "javascript error")) ||
					(strings.Contains(text, "console") && strings.Contains(text, "error"))
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameConsoleErrors, Args: tools.ConsoleErrorsArgs{}}
			},
		},
		{
			name:     "failed-requests",
			needPage: true,
			match: func(text string) bool {
				return (strings.Contains(text, "failed") || strings.Contains(text, "failing")) &&
					(strings.Contains(text, "request") || strings.Contains(text, "network"))
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameFailedRequests, Args: tools.FailedRequestsArgs{}}
			},
		},
		{
			name:     "console-logs",
			needPage: true,
			match: func(text string) bool {
				return strings.Contains(text, "console log") ||
					(strings.Contains(text, "console") && strings.Contains(text, "dump"))
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameConsoleLogs, Args: tools.ConsoleLogsArgs{}}
			},
		},

		// Fast HTML inspection: parse the DOM we already have, no navigation.
		{
			name:     "inspect-html",
			needPage: true,
			match: func(text string) bool {
				return wants(text, "html", "page source", "dom", "markup")
			},
			build: func(string, PageState) *tools.Call {
				return &tools.Call{Name: tools.NameInspectHTML, Args: tools.InspectHTMLArgs{}}
			},
		},
	}
}
