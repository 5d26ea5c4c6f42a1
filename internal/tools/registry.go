package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/snapshot"
)

// AttachFunc reconnects the registry's driver to an externally running
// browser on a debug port. Wired by the CLI; nil disables the tool.
type AttachFunc func(ctx context.Context, port int) error

// Registry executes tool calls against one page. It owns no retry logic: the
// reliability fabric wraps Invoke and is the only caller that should reach
// it directly.
type Registry struct {
	driver ports.PageDriver
	snaps  *snapshot.Service
	attach AttachFunc
	logger logging.Logger
}

// NewRegistry builds the dispatch surface for one page.
func NewRegistry(driver ports.PageDriver, snaps *snapshot.Service, attach AttachFunc, logger logging.Logger) *Registry {
	return &Registry{
		driver: driver,
		snaps:  snaps,
		attach: attach,
		logger: logging.OrNop(logger),
	}
}

// Known reports whether name is a registered tool.
func Known(name string) bool {
	_, ok := argPrototypes[name]
	return ok
}

// argPrototypes maps tool names to zero-value argument structs for Parse.
var argPrototypes = map[string]func() Args{
	string(NameNavigate):          func() Args { return NavigateArgs{} },
	string(NameClick):             func() Args { return ClickArgs{} },
	string(NameType):              func() Args { return TypeArgs{} },
	string(NameHover):             func() Args { return HoverArgs{} },
	string(NamePress):             func() Args { return PressArgs{} },
	string(NameScroll):            func() Args { return ScrollArgs{} },
	string(NameWait):              func() Args { return WaitArgs{} },
	string(NameSnapshot):          func() Args { return SnapshotArgs{} },
	string(NameScreenshot):        func() Args { return ScreenshotArgs{} },
	string(NameExtractLinks):      func() Args { return ExtractLinksArgs{} },
	string(NameExtractForms):      func() Args { return ExtractFormsArgs{} },
	string(NameExtractInputs):     func() Args { return ExtractInputsArgs{} },
	string(NameExtractTables):     func() Args { return ExtractTablesArgs{} },
	string(NameDetectContactForm): func() Args { return DetectContactFormArgs{} },
	string(NameConsoleErrors):     func() Args { return ConsoleErrorsArgs{} },
	string(NameFailedRequests):    func() Args { return FailedRequestsArgs{} },
	string(NameConsoleLogs):       func() Args { return ConsoleLogsArgs{} },
	string(NameAttachBrowser):     func() Args { return AttachBrowserArgs{} },
	string(NameInspectHTML):       func() Args { return InspectHTMLArgs{} },
	string(NameLocate):            func() Args { return LocateArgs{} },
}

// Parse binds a model tool invocation to a typed Call. Malformed JSON gets
// one repair pass before failing; local models emit single quotes and
// trailing commas often enough that rejecting outright would burn a loop
// iteration for nothing.
func Parse(inv ports.ToolInvocation) (*Call, error) {
	proto, ok := argPrototypes[inv.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", inv.Name)
	}

	raw := []byte("{}")
	if len(inv.Args) > 0 {
		raw = inv.Args
	}

	args := proto()
	if err := bindArgs(raw, &args); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(string(raw))
		if repErr != nil {
			return nil, fmt.Errorf("tool %s arguments unparseable: %w", inv.Name, err)
		}
		args = proto()
		if err := bindArgs([]byte(repaired), &args); err != nil {
			return nil, fmt.Errorf("tool %s arguments unparseable after repair: %w", inv.Name, err)
		}
	}

	return &Call{Name: Name(inv.Name), Args: args, Origin: OriginModel}, nil
}

// bindArgs unmarshals into the concrete struct behind the Args interface and
// checks required fields.
func bindArgs(raw []byte, args *Args) error {
	switch a := (*args).(type) {
	case NavigateArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.URL == "" {
			return fmt.Errorf("navigate requires a url")
		}
		*args = a
	case ClickArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.Ref == "" {
			return fmt.Errorf("click requires a ref")
		}
		*args = a
	case TypeArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.Ref == "" {
			return fmt.Errorf("type requires a ref")
		}
		*args = a
	case HoverArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.Ref == "" {
			return fmt.Errorf("hover requires a ref")
		}
		*args = a
	case PressArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.Key == "" {
			return fmt.Errorf("press requires a key")
		}
		*args = a
	case ScrollArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		*args = a
	case WaitArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		*args = a
	case SnapshotArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		*args = a
	case ConsoleLogsArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		*args = a
	case AttachBrowserArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.Port <= 0 {
			return fmt.Errorf("attach_browser requires a port")
		}
		*args = a
	case InspectHTMLArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		*args = a
	case LocateArgs:
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		if a.Description == "" {
			return fmt.Errorf("locate requires a description")
		}
		*args = a
	default:
		// Argument-free tools accept anything, including junk objects.
	}
	return nil
}

// PageTimeout is the per-action driver budget; the classifier turns an
// overrun into transient-timeout.
const PageTimeout = 5 * time.Second

// Invoke runs one call and returns its observation payload. Raw errors flow
// up to the classifier untouched.
func (r *Registry) Invoke(ctx context.Context, call *Call) (any, error) {
	switch args := call.Args.(type) {
	case NavigateArgs:
		if err := r.driver.Navigate(ctx, args.URL); err != nil {
			return nil, err
		}
		if err := r.driver.WaitLoad(ctx, ports.LoadDOMContentLoaded); err != nil {
			r.logger.Warn("load wait after navigate failed: %v", err)
		}
		return fmt.Sprintf("Navigated to %s", args.URL), nil

	case ClickArgs:
		nodeID, err := r.snaps.Resolve(args.Ref)
		if err != nil {
			return nil, err
		}
		if err := r.driver.Click(ctx, nodeID); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Clicked %s", args.Ref), nil

	case TypeArgs:
		nodeID, err := r.snaps.Resolve(args.Ref)
		if err != nil {
			return nil, err
		}
		if args.Clear {
			// Select-all then overtype clears the field without a separate
			// clear primitive on the driver.
			if err := r.driver.Click(ctx, nodeID); err != nil {
				return nil, err
			}
			if err := r.driver.Press(ctx, "ControlOrMeta+a"); err != nil {
				return nil, err
			}
		}
		if err := r.driver.Type(ctx, nodeID, args.Text); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Typed into %s", args.Ref), nil

	case HoverArgs:
		nodeID, err := r.snaps.Resolve(args.Ref)
		if err != nil {
			return nil, err
		}
		if err := r.driver.Hover(ctx, nodeID); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Hovering %s", args.Ref), nil

	case PressArgs:
		if err := r.driver.Press(ctx, args.Key); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Pressed %s", args.Key), nil

	case ScrollArgs:
		if err := r.driver.Scroll(ctx, args.DeltaX, args.DeltaY); err != nil {
			return nil, err
		}
		return "Scrolled", nil

	case WaitArgs:
		state := ports.LoadDOMContentLoaded
		if args.State == string(ports.LoadNetworkIdle) {
			state = ports.LoadNetworkIdle
		}
		if err := r.driver.WaitLoad(ctx, state); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Page reached %s", state), nil

	case SnapshotArgs:
		res, err := r.snaps.Capture(ctx, snapshot.Options{
			Scope:   args.Scope,
			Exclude: args.Exclude,
			Diff:    args.Diff,
			Force:   args.Force,
		})
		if err != nil {
			return nil, err
		}
		return res, nil

	case ScreenshotArgs:
		img, err := r.driver.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return img, nil

	case ExtractLinksArgs:
		return r.extractLinks(ctx)
	case ExtractFormsArgs:
		return r.extractForms(ctx)
	case ExtractInputsArgs:
		return r.extractInputs(ctx)
	case ExtractTablesArgs:
		return r.extractTables(ctx)
	case DetectContactFormArgs:
		return r.detectContactForm(ctx)

	case ConsoleErrorsArgs:
		entries, err := r.driver.ConsoleEntries(ctx)
		if err != nil {
			return nil, err
		}
		errs := make([]ports.ConsoleEntry, 0, len(entries))
		for _, e := range entries {
			if e.Level == "error" {
				errs = append(errs, e)
			}
		}
		return errs, nil

	case FailedRequestsArgs:
		events, err := r.driver.NetworkEvents(ctx)
		if err != nil {
			return nil, err
		}
		failed := make([]ports.NetworkEvent, 0, len(events))
		for _, ev := range events {
			if ev.Failed || ev.Status >= 400 {
				failed = append(failed, ev)
			}
		}
		return failed, nil

	case ConsoleLogsArgs:
		entries, err := r.driver.ConsoleEntries(ctx)
		if err != nil {
			return nil, err
		}
		if args.Limit > 0 && len(entries) > args.Limit {
			entries = entries[len(entries)-args.Limit:]
		}
		return entries, nil

	case AttachBrowserArgs:
		if r.attach == nil {
			return nil, fmt.Errorf("attaching to an external browser is not available in this session")
		}
		if err := r.attach(ctx, args.Port); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Attached to browser on port %d", args.Port), nil

	case InspectHTMLArgs:
		return r.inspectHTML(ctx, args.Selector)

	case LocateArgs:
		// The kernel resolves locate through site memory and vision before the
		// call ever reaches the fabric.
		return nil, fmt.Errorf("locate must be handled by the planner")

	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
}
