package ports

import (
	"context"
	"time"
)

// PageDriver is a handle to one open browser page. It is the only way the
// kernel touches a browser; everything above it addresses elements through
// snapshot refs, which the snapshot subsystem resolves to driver node ids
// before calling down here.
//
// Drivers may return raw errors; the reliability fabric classifies them.
type PageDriver interface {
	// Navigation and page state.
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	WaitLoad(ctx context.Context, state LoadState) error

	// Tree and node inspection.
	AXTree(ctx context.Context) (*AXNode, error)
	DescribeNode(ctx context.Context, nodeID string) (*NodeInfo, error)
	NodeAtPoint(ctx context.Context, x, y float64) (string, error)
	QuerySelector(ctx context.Context, selector string) (string, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]string, error)
	QueryXPath(ctx context.Context, xpath string) (string, error)
	ViewportSize(ctx context.Context) (width, height float64, err error)

	// Interaction by driver node id.
	Click(ctx context.Context, nodeID string) error
	ClickPoint(ctx context.Context, x, y float64) error
	Type(ctx context.Context, nodeID, text string) error
	Hover(ctx context.Context, nodeID string) error
	Press(ctx context.Context, key string) error
	Scroll(ctx context.Context, deltaX, deltaY float64) error
	ScrollIntoView(ctx context.Context, nodeID string) error

	// Pixels and scripts.
	Screenshot(ctx context.Context) ([]byte, error)
	Eval(ctx context.Context, js string) (string, error)
	HTML(ctx context.Context) (string, error)

	// Event taps; both return the buffered entries since the last navigation.
	ConsoleEntries(ctx context.Context) ([]ConsoleEntry, error)
	NetworkEvents(ctx context.Context) ([]NetworkEvent, error)
}

// LoadState names a page readiness condition for WaitLoad.
type LoadState string

const (
	LoadDOMContentLoaded LoadState = "domcontentloaded"
	LoadNetworkIdle      LoadState = "networkidle"
)

// AXNode is one node of the accessibility tree as reported by the driver.
// NodeID is driver-native and opaque to everything except the driver itself.
type AXNode struct {
	NodeID    string            `json:"node_id"`
	Role      string            `json:"role"`
	Name      string            `json:"name"`
	Value     string            `json:"value,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Box       Box               `json:"box"`
	Disabled  bool              `json:"disabled,omitempty"`
	Focusable bool              `json:"focusable,omitempty"`
	Editable  bool              `json:"editable,omitempty"`
	Children  []*AXNode         `json:"children,omitempty"`
}

// NodeInfo describes one concrete DOM node for validation and obstruction
// analysis.
type NodeInfo struct {
	NodeID        string            `json:"node_id"`
	Tag           string            `json:"tag"`
	ID            string            `json:"id,omitempty"`
	Classes       []string          `json:"classes,omitempty"`
	Attrs         map[string]string `json:"attrs,omitempty"`
	Text          string            `json:"text,omitempty"`
	Box           Box               `json:"box"`
	Visible       bool              `json:"visible"`
	Disabled      bool              `json:"disabled"`
	ReadOnly      bool              `json:"read_only"`
	PointerEvents bool              `json:"pointer_events"`
	ZIndex        int               `json:"z_index"`
	Position      string            `json:"position,omitempty"`
}

// Box is an element bounding box in viewport coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the geometric center of the box.
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Empty reports whether the box has no rendered area.
func (b Box) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Intersects reports whether the box overlaps the given viewport rectangle.
func (b Box) Intersects(width, height float64) bool {
	if b.Empty() {
		return false
	}
	return b.X < width && b.Y < height && b.X+b.Width > 0 && b.Y+b.Height > 0
}

// ConsoleEntry is one captured console message.
type ConsoleEntry struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	URL   string    `json:"url,omitempty"`
	Line  int       `json:"line,omitempty"`
	Time  time.Time `json:"time"`
}

// NetworkEvent is one captured request outcome.
type NetworkEvent struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Status    int       `json:"status,omitempty"`
	Failed    bool      `json:"failed"`
	ErrorText string    `json:"error_text,omitempty"`
	Time      time.Time `json:"time"`
}
