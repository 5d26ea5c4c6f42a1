// Package rodpage implements the PageDriver port over a Chrome DevTools
// session. It either attaches to an already-running browser on a debug port
// or launches a headless one of its own.
package rodpage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

// Options configures the browser session.
type Options struct {
	// DebugPort attaches to an external browser when non-zero; otherwise a
	// headless instance is launched and owned by this driver.
	DebugPort int
	ViewportW int
	ViewportH int
	Logger    logging.Logger
}

// Driver drives one page. It satisfies ports.PageDriver.
type Driver struct {
	browser  *rod.Browser
	page     *rod.Page
	owned    bool
	logger   logging.Logger
	taps     *eventTaps
	stopTaps context.CancelFunc
}

var _ ports.PageDriver = (*Driver)(nil)

// New connects (or launches) a browser and opens a blank page.
func New(ctx context.Context, opts Options) (*Driver, error) {
	logger := logging.OrNop(opts.Logger)

	var controlURL string
	owned := false
	if opts.DebugPort > 0 {
		resolved, err := launcher.ResolveURL(fmt.Sprintf("127.0.0.1:%d", opts.DebugPort))
		if err != nil {
			return nil, fmt.Errorf("resolve debug port %d: %w", opts.DebugPort, err)
		}
		controlURL = resolved
		logger.Info("attached to external browser on port %d", opts.DebugPort)
	} else {
		launched, err := launcher.New().Headless(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = launched
		owned = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	w, h := opts.ViewportW, opts.ViewportH
	if w <= 0 {
		w = 1280
	}
	if h <= 0 {
		h = 800
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: w, Height: h, DeviceScaleFactor: 1,
	}); err != nil {
		logger.Warn("viewport override failed: %v", err)
	}

	d := &Driver{browser: browser, page: page, owned: owned, logger: logger}
	tapCtx, cancel := context.WithCancel(context.Background())
	d.stopTaps = cancel
	d.taps = newEventTaps(page.Context(tapCtx), logger)
	return d, nil
}

// Close tears the session down. An attached browser is left running; an
// owned one is closed.
func (d *Driver) Close() error {
	if d.stopTaps != nil {
		d.stopTaps()
	}
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.owned && d.browser != nil {
		return d.browser.Close()
	}
	return nil
}

// Navigate opens url. The console and network taps reset: buffered entries
// belong to the page being left.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.taps.reset()
	return d.page.Context(ctx).Navigate(url)
}

// Reload reloads the current page.
func (d *Driver) Reload(ctx context.Context) error {
	d.taps.reset()
	return d.page.Context(ctx).Reload()
}

// URL returns the current page URL.
func (d *Driver) URL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Title returns the current page title.
func (d *Driver) Title(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// WaitLoad blocks until the page reaches the requested readiness.
func (d *Driver) WaitLoad(ctx context.Context, state ports.LoadState) error {
	p := d.page.Context(ctx)
	switch state {
	case ports.LoadNetworkIdle:
		if err := p.WaitLoad(); err != nil {
			return err
		}
		wait := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		wait()
		return nil
	default:
		return p.WaitLoad()
	}
}

// AXTree returns the page's accessibility tree rooted at the document.
func (d *Driver) AXTree(ctx context.Context) (*ports.AXNode, error) {
	p := d.page.Context(ctx)
	res, err := proto.AccessibilityGetFullAXTree{}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("accessibility tree: %w", err)
	}
	if len(res.Nodes) == 0 {
		return nil, errors.New("accessibility tree: empty")
	}

	byID := make(map[proto.AccessibilityAXNodeID]*ports.AXNode, len(res.Nodes))
	raw := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(res.Nodes))
	for _, n := range res.Nodes {
		if n.Ignored {
			continue
		}
		node := &ports.AXNode{
			NodeID: strconv.FormatInt(int64(n.BackendDOMNodeID), 10),
			Role:   axValue(n.Role),
			Name:   axValue(n.Name),
			Value:  axValue(n.Value),
		}
		for _, prop := range n.Properties {
			switch prop.Name {
			case proto.AccessibilityAXPropertyNameDisabled:
				node.Disabled = prop.Value != nil && prop.Value.Value.Bool()
			case proto.AccessibilityAXPropertyNameFocusable:
				node.Focusable = prop.Value != nil && prop.Value.Value.Bool()
			case proto.AccessibilityAXPropertyNameEditable:
				node.Editable = prop.Value != nil && prop.Value.Value.String() != ""
			}
		}
		if n.BackendDOMNodeID != 0 {
			if box, err := d.nodeBox(p, n.BackendDOMNodeID); err == nil {
				node.Box = box
			}
		}
		byID[n.NodeID] = node
		raw[n.NodeID] = n
	}

	var root *ports.AXNode
	for id, n := range raw {
		for _, childID := range n.ChildIDs {
			if child, ok := byID[childID]; ok {
				byID[id].Children = append(byID[id].Children, child)
			}
		}
		if n.ParentID == "" && root == nil {
			root = byID[id]
		}
	}
	if root == nil {
		root = byID[res.Nodes[0].NodeID]
	}
	return root, nil
}

func axValue(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	return v.Value.String()
}

func (d *Driver) nodeBox(p *rod.Page, id proto.DOMBackendNodeID) (ports.Box, error) {
	res, err := proto.DOMGetBoxModel{BackendNodeID: id}.Call(p)
	if err != nil || res.Model == nil || len(res.Model.Content) < 8 {
		return ports.Box{}, fmt.Errorf("box model: %w", err)
	}
	q := res.Model.Content
	return ports.Box{X: q[0], Y: q[1], Width: q[2] - q[0], Height: q[5] - q[1]}, nil
}

// describeJS pulls everything validation needs from an element in one
// round-trip.
const describeJS = `() => {
	const el = this;
	const style = window.getComputedStyle(el);
	const rect = el.getBoundingClientRect();
	return JSON.stringify({
		tag: el.tagName.toLowerCase(),
		id: el.id || "",
		classes: Array.from(el.classList),
		attrs: Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value])),
		text: (el.innerText || "").slice(0, 500),
		box: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
		visible: rect.width > 0 && rect.height > 0 && style.visibility !== "hidden" && style.display !== "none",
		disabled: !!el.disabled,
		read_only: !!el.readOnly,
		pointer_events: style.pointerEvents !== "none",
		z_index: parseInt(style.zIndex, 10) || 0,
		position: style.position
	});
}`

// DescribeNode inspects one node by its backend id.
func (d *Driver) DescribeNode(ctx context.Context, nodeID string) (*ports.NodeInfo, error) {
	el, err := d.elementByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(describeJS)
	if err != nil {
		return nil, fmt.Errorf("describe node %s: %w", nodeID, err)
	}
	var info ports.NodeInfo
	if err := json.Unmarshal([]byte(res.Value.Str()), &info); err != nil {
		return nil, fmt.Errorf("describe node %s: %w", nodeID, err)
	}
	info.NodeID = nodeID
	return &info, nil
}

// NodeAtPoint returns the id of the topmost node at viewport coordinates.
func (d *Driver) NodeAtPoint(ctx context.Context, x, y float64) (string, error) {
	res, err := proto.DOMGetNodeForLocation{X: int(x), Y: int(y)}.Call(d.page.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("node at (%v, %v): %w", x, y, err)
	}
	return strconv.FormatInt(int64(res.BackendNodeID), 10), nil
}

// QuerySelector returns the id of the first match, or an error when nothing
// matches.
func (d *Driver) QuerySelector(ctx context.Context, selector string) (string, error) {
	el, err := d.page.Context(ctx).Element(selector)
	if err != nil {
		return "", fmt.Errorf("selector %q: %w", selector, err)
	}
	return d.backendID(el)
}

// QuerySelectorAll returns the ids of every match.
func (d *Driver) QuerySelectorAll(ctx context.Context, selector string) ([]string, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", selector, err)
	}
	ids := make([]string, 0, len(els))
	for _, el := range els {
		id, err := d.backendID(el)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// QueryXPath returns the id of the first xpath match.
func (d *Driver) QueryXPath(ctx context.Context, xpath string) (string, error) {
	el, err := d.page.Context(ctx).ElementX(xpath)
	if err != nil {
		return "", fmt.Errorf("xpath %q: %w", xpath, err)
	}
	return d.backendID(el)
}

// ViewportSize returns the layout viewport dimensions.
func (d *Driver) ViewportSize(ctx context.Context) (float64, float64, error) {
	res, err := proto.PageGetLayoutMetrics{}.Call(d.page.Context(ctx))
	if err != nil {
		return 0, 0, err
	}
	if res.CSSLayoutViewport == nil {
		return 0, 0, errors.New("layout metrics unavailable")
	}
	return float64(res.CSSLayoutViewport.ClientWidth), float64(res.CSSLayoutViewport.ClientHeight), nil
}

// Click clicks the node's center with the left button.
func (d *Driver) Click(ctx context.Context, nodeID string) error {
	el, err := d.elementByID(ctx, nodeID)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// ClickPoint clicks raw viewport coordinates.
func (d *Driver) ClickPoint(ctx context.Context, x, y float64) error {
	m := d.page.Context(ctx).Mouse
	if err := m.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return m.Click(proto.InputMouseButtonLeft, 1)
}

// Type focuses the node and inputs text.
func (d *Driver) Type(ctx context.Context, nodeID, text string) error {
	el, err := d.elementByID(ctx, nodeID)
	if err != nil {
		return err
	}
	return el.Input(text)
}

// Hover moves the pointer over the node.
func (d *Driver) Hover(ctx context.Context, nodeID string) error {
	el, err := d.elementByID(ctx, nodeID)
	if err != nil {
		return err
	}
	return el.Hover()
}

// Press sends one key or chord (e.g. "Enter", "ControlOrMeta+a") to the
// focused element. Modifiers are held while the main key fires.
func (d *Driver) Press(ctx context.Context, key string) error {
	mods, main, err := parseChord(key)
	if err != nil {
		return err
	}
	kb := d.page.Context(ctx).Keyboard
	for _, m := range mods {
		if err := kb.Press(m); err != nil {
			return err
		}
	}
	typeErr := kb.Type(main)
	for i := len(mods) - 1; i >= 0; i-- {
		if err := kb.Release(mods[i]); err != nil && typeErr == nil {
			typeErr = err
		}
	}
	return typeErr
}

// Scroll scrolls the page by the given deltas.
func (d *Driver) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	return d.page.Context(ctx).Mouse.Scroll(deltaX, deltaY, 1)
}

// ScrollIntoView brings the node into the viewport.
func (d *Driver) ScrollIntoView(ctx context.Context, nodeID string) error {
	el, err := d.elementByID(ctx, nodeID)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

// Screenshot captures the viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	return d.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Eval runs a JS expression or function in the page and returns its result
// as a string.
func (d *Driver) Eval(ctx context.Context, js string) (string, error) {
	res, err := d.page.Context(ctx).Eval(wrapJS(js))
	if err != nil {
		return "", fmt.Errorf("eval: %w", err)
	}
	return res.Value.String(), nil
}

// HTML returns the full serialized DOM.
func (d *Driver) HTML(ctx context.Context) (string, error) {
	return d.page.Context(ctx).HTML()
}

// ConsoleEntries returns the console messages buffered since the last
// navigation.
func (d *Driver) ConsoleEntries(context.Context) ([]ports.ConsoleEntry, error) {
	return d.taps.console(), nil
}

// NetworkEvents returns the request outcomes buffered since the last
// navigation.
func (d *Driver) NetworkEvents(context.Context) ([]ports.NetworkEvent, error) {
	return d.taps.network(), nil
}

// elementByID resolves a backend node id string to a live element handle.
func (d *Driver) elementByID(ctx context.Context, nodeID string) (*rod.Element, error) {
	id, err := strconv.ParseInt(nodeID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("node id %q: %w", nodeID, err)
	}
	p := d.page.Context(ctx)
	res, err := proto.DOMResolveNode{BackendNodeID: proto.DOMBackendNodeID(id)}.Call(p)
	if err != nil {
		return nil, fmt.Errorf("resolve node %s: %w", nodeID, err)
	}
	return p.ElementFromObject(res.Object)
}

func (d *Driver) backendID(el *rod.Element) (string, error) {
	node, err := el.Describe(0, false)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(node.BackendNodeID), 10), nil
}

// wrapJS turns a bare expression into the function form the protocol wants.
func wrapJS(js string) string {
	trimmed := js
	if len(trimmed) > 0 && (trimmed[0] == '(' || hasFunctionPrefix(trimmed)) {
		return trimmed
	}
	return "() => (" + trimmed + ")"
}

func hasFunctionPrefix(js string) bool {
	const fn = "function"
	return len(js) >= len(fn) && js[:len(fn)] == fn
}
