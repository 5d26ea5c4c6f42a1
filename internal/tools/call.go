// Package tools defines the closed set of actions the agent can take and the
// registry that executes them against a page. Tool calls are tagged variants:
// one typed argument struct per tool, bound from model JSON by Parse, so the
// router, the orchestrator and the reliability fabric all dispatch over an
// enumerable set instead of duck-typed names.
package tools

import (
	"encoding/json"
	"fmt"

	"surf/internal/agent/ports"
)

// Name identifies one tool.
type Name string

const (
	// Navigation and interaction.
	NameNavigate Name = "navigate"
	NameClick    Name = "click"
	NameType     Name = "type"
	NameHover    Name = "hover"
	NamePress    Name = "press"
	NameScroll   Name = "scroll"
	NameWait     Name = "wait"

	// Page observation.
	NameSnapshot   Name = "snapshot"
	NameScreenshot Name = "screenshot"

	// Structured extraction.
	NameExtractLinks      Name = "extract_links"
	NameExtractForms      Name = "extract_forms"
	NameExtractInputs     Name = "extract_inputs"
	NameExtractTables     Name = "extract_tables"
	NameDetectContactForm Name = "detect_contact_form"

	// Diagnostics.
	NameConsoleErrors  Name = "console_errors"
	NameFailedRequests Name = "failed_requests"
	NameConsoleLogs    Name = "console_logs"

	// Session and inspection.
	NameAttachBrowser Name = "attach_browser"
	NameInspectHTML   Name = "inspect_html"

	// Element location by description. Resolved by the kernel itself (site
	// memory, then vision), never by the registry.
	NameLocate Name = "locate"
)

// Origin records who produced a call.
type Origin string

const (
	OriginTrigger  Origin = "trigger"
	OriginModel    Origin = "model"
	OriginRecovery Origin = "recovery"
	OriginReplay   Origin = "replay"
)

// Call is one intended action: a tool name plus its typed arguments. A Call
// is consumed by the reliability fabric exactly once.
type Call struct {
	Name   Name
	Args   Args
	Origin Origin
}

// Args is the closed sum of per-tool argument structs.
type Args interface{ isArgs() }

// NavigateArgs loads a URL.
type NavigateArgs struct {
	URL string `json:"url"`
}

// ClickArgs clicks the element behind a snapshot ref.
type ClickArgs struct {
	Ref string `json:"ref"`
}

// TypeArgs types text into the element behind a snapshot ref.
type TypeArgs struct {
	Ref   string `json:"ref"`
	Text  string `json:"text"`
	Clear bool   `json:"clear,omitempty"`
}

// HoverArgs moves the pointer over the element behind a snapshot ref.
type HoverArgs struct {
	Ref string `json:"ref"`
}

// PressArgs sends one key (for example "Enter" or "Escape").
type PressArgs struct {
	Key string `json:"key"`
}

// ScrollArgs scrolls the viewport by a pixel delta.
type ScrollArgs struct {
	DeltaX float64 `json:"delta_x,omitempty"`
	DeltaY float64 `json:"delta_y"`
}

// WaitArgs waits for a page load state.
type WaitArgs struct {
	State string `json:"state,omitempty"` // domcontentloaded (default) | networkidle
}

// SnapshotArgs captures the accessibility view.
type SnapshotArgs struct {
	Scope   string   `json:"scope,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
	Diff    bool     `json:"diff,omitempty"`
	Force   bool     `json:"force,omitempty"`
}

// ScreenshotArgs captures viewport pixels.
type ScreenshotArgs struct{}

// ExtractLinksArgs lists every anchor on the page.
type ExtractLinksArgs struct{}

// ExtractFormsArgs inventories every form.
type ExtractFormsArgs struct{}

// ExtractInputsArgs inventories every input control.
type ExtractInputsArgs struct{}

// ExtractTablesArgs extracts table contents.
type ExtractTablesArgs struct{}

// DetectContactFormArgs looks for a contact form on the page.
type DetectContactFormArgs struct{}

// ConsoleErrorsArgs returns console entries at error level.
type ConsoleErrorsArgs struct{}

// FailedRequestsArgs returns network requests that failed or returned >= 400.
type FailedRequestsArgs struct{}

// ConsoleLogsArgs dumps the console buffer.
type ConsoleLogsArgs struct {
	Limit int `json:"limit,omitempty"`
}

// AttachBrowserArgs attaches to an externally running browser.
type AttachBrowserArgs struct {
	Port int `json:"port"`
}

// InspectHTMLArgs returns the current DOM, optionally scoped to a selector,
// without a new navigation.
type InspectHTMLArgs struct {
	Selector string `json:"selector,omitempty"`
}

// LocateArgs finds one element by natural-language description and returns
// its snapshot ref.
type LocateArgs struct {
	Description string `json:"description"`
}

func (NavigateArgs) isArgs()          {}
func (ClickArgs) isArgs()             {}
func (TypeArgs) isArgs()              {}
func (HoverArgs) isArgs()             {}
func (PressArgs) isArgs()             {}
func (ScrollArgs) isArgs()            {}
func (WaitArgs) isArgs()              {}
func (SnapshotArgs) isArgs()          {}
func (ScreenshotArgs) isArgs()        {}
func (ExtractLinksArgs) isArgs()      {}
func (ExtractFormsArgs) isArgs()      {}
func (ExtractInputsArgs) isArgs()     {}
func (ExtractTablesArgs) isArgs()     {}
func (DetectContactFormArgs) isArgs() {}
func (ConsoleErrorsArgs) isArgs()     {}
func (FailedRequestsArgs) isArgs()    {}
func (ConsoleLogsArgs) isArgs()       {}
func (AttachBrowserArgs) isArgs()     {}
func (InspectHTMLArgs) isArgs()       {}
func (LocateArgs) isArgs()            {}

// TargetRef returns the snapshot ref an interaction call addresses. Calls
// without an element target return false; those skip pre-action validation.
func (c *Call) TargetRef() (string, bool) {
	switch a := c.Args.(type) {
	case ClickArgs:
		return a.Ref, true
	case TypeArgs:
		return a.Ref, true
	case HoverArgs:
		return a.Ref, true
	default:
		return "", false
	}
}

// TargetURL returns the URL a call navigates to, when it has one.
func (c *Call) TargetURL() (string, bool) {
	if a, ok := c.Args.(NavigateArgs); ok {
		return a.URL, true
	}
	return "", false
}

// String renders the call for logs and step summaries.
func (c *Call) String() string {
	switch a := c.Args.(type) {
	case NavigateArgs:
		return fmt.Sprintf("%s(%s)", c.Name, a.URL)
	case ClickArgs:
		return fmt.Sprintf("%s(%s)", c.Name, a.Ref)
	case TypeArgs:
		return fmt.Sprintf("%s(%s, %q)", c.Name, a.Ref, a.Text)
	case HoverArgs:
		return fmt.Sprintf("%s(%s)", c.Name, a.Ref)
	case PressArgs:
		return fmt.Sprintf("%s(%s)", c.Name, a.Key)
	case AttachBrowserArgs:
		return fmt.Sprintf("%s(:%d)", c.Name, a.Port)
	case InspectHTMLArgs:
		if a.Selector != "" {
			return fmt.Sprintf("%s(%s)", c.Name, a.Selector)
		}
	case LocateArgs:
		return fmt.Sprintf("%s(%q)", c.Name, a.Description)
	}
	return string(c.Name)
}

// ArgsJSON renders a call's arguments as compact JSON for step records and
// skill persistence. Marshal cannot fail on the closed argument structs; a
// broken invariant degrades to "{}".
func ArgsJSON(c *Call) string {
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Definitions returns the tool schemas offered to the model. The attach and
// screenshot tools are deliberately absent: attaching is a session decision
// made by the router or the CLI, and screenshots are requested by the kernel
// itself when vision is needed, never planned by the text model.
func Definitions() []ports.ToolDefinition {
	return []ports.ToolDefinition{
		{
			Name:        string(NameNavigate),
			Description: "Load a URL in the current page.",
			Parameters: objectSchema(map[string]any{
				"url": prop("string", "Absolute URL to open"),
			}, "url"),
		},
		{
			Name:        string(NameClick),
			Description: "Click the element with the given snapshot ref.",
			Parameters: objectSchema(map[string]any{
				"ref": prop("string", "Element ref from the latest snapshot, e.g. e12"),
			}, "ref"),
		},
		{
			Name:        string(NameType),
			Description: "Type text into the element with the given snapshot ref.",
			Parameters: objectSchema(map[string]any{
				"ref":   prop("string", "Element ref from the latest snapshot"),
				"text":  prop("string", "Text to type"),
				"clear": prop("boolean", "Clear the field first"),
			}, "ref", "text"),
		},
		{
			Name:        string(NameHover),
			Description: "Hover over the element with the given snapshot ref.",
			Parameters: objectSchema(map[string]any{
				"ref": prop("string", "Element ref from the latest snapshot"),
			}, "ref"),
		},
		{
			Name:        string(NamePress),
			Description: "Press a single key, e.g. Enter, Escape, Tab.",
			Parameters: objectSchema(map[string]any{
				"key": prop("string", "Key name"),
			}, "key"),
		},
		{
			Name:        string(NameScroll),
			Description: "Scroll the viewport by a pixel delta.",
			Parameters: objectSchema(map[string]any{
				"delta_x": prop("number", "Horizontal delta in pixels"),
				"delta_y": prop("number", "Vertical delta in pixels, positive scrolls down"),
			}, "delta_y"),
		},
		{
			Name:        string(NameWait),
			Description: "Wait for the page to reach a load state.",
			Parameters: objectSchema(map[string]any{
				"state": prop("string", "domcontentloaded (default) or networkidle"),
			}),
		},
		{
			Name:        string(NameSnapshot),
			Description: "Capture the accessibility snapshot of the current page.",
			Parameters: objectSchema(map[string]any{
				"scope": prop("string", "CSS selector limiting the tree"),
				"diff":  prop("boolean", "Return only changes since the previous snapshot"),
				"force": prop("boolean", "Bypass the snapshot cache"),
			}),
		},
		{
			Name:        string(NameExtractLinks),
			Description: "List every link on the page with its text and href.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameExtractForms),
			Description: "Inventory every form with its fields and submit controls.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameExtractInputs),
			Description: "Inventory every input control on the page.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameExtractTables),
			Description: "Extract every table as headers plus rows.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameDetectContactForm),
			Description: "Find a contact form on the page, if any.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameConsoleErrors),
			Description: "Return console errors recorded since the last navigation.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameFailedRequests),
			Description: "Return network requests that failed or returned status >= 400.",
			Parameters:  objectSchema(nil),
		},
		{
			Name:        string(NameConsoleLogs),
			Description: "Dump the console log buffer.",
			Parameters: objectSchema(map[string]any{
				"limit": prop("integer", "Maximum number of entries, newest last"),
			}),
		},
		{
			Name:        string(NameLocate),
			Description: "Find one element by describing it, e.g. \"the blue Sign up button\". Returns its snapshot ref.",
			Parameters: objectSchema(map[string]any{
				"description": prop("string", "Natural-language description of the element"),
			}, "description"),
		},
		{
			Name:        string(NameInspectHTML),
			Description: "Return the current DOM as HTML without navigating, optionally scoped to a selector.",
			Parameters: objectSchema(map[string]any{
				"selector": prop("string", "CSS selector scoping the returned HTML"),
			}),
		},
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object"}
	if len(props) > 0 {
		schema["properties"] = props
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
