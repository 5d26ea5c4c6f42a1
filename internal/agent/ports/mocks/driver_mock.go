// Package mocks provides hand-rolled fakes for the kernel's ports, in the
// func-field style: set only the hooks the test cares about, everything else
// returns a benign default.
package mocks

import (
	"context"

	"surf/internal/agent/ports"
)

// MockPageDriver implements ports.PageDriver with overridable hooks.
type MockPageDriver struct {
	NavigateFunc         func(ctx context.Context, url string) error
	ReloadFunc           func(ctx context.Context) error
	URLFunc              func(ctx context.Context) (string, error)
	TitleFunc            func(ctx context.Context) (string, error)
	WaitLoadFunc         func(ctx context.Context, state ports.LoadState) error
	AXTreeFunc           func(ctx context.Context) (*ports.AXNode, error)
	DescribeNodeFunc     func(ctx context.Context, nodeID string) (*ports.NodeInfo, error)
	NodeAtPointFunc      func(ctx context.Context, x, y float64) (string, error)
	QuerySelectorFunc    func(ctx context.Context, selector string) (string, error)
	QuerySelectorAllFunc func(ctx context.Context, selector string) ([]string, error)
	QueryXPathFunc       func(ctx context.Context, xpath string) (string, error)
	ViewportSizeFunc     func(ctx context.Context) (float64, float64, error)
	ClickFunc            func(ctx context.Context, nodeID string) error
	ClickPointFunc       func(ctx context.Context, x, y float64) error
	TypeFunc             func(ctx context.Context, nodeID, text string) error
	HoverFunc            func(ctx context.Context, nodeID string) error
	PressFunc            func(ctx context.Context, key string) error
	ScrollFunc           func(ctx context.Context, dx, dy float64) error
	ScrollIntoViewFunc   func(ctx context.Context, nodeID string) error
	ScreenshotFunc       func(ctx context.Context) ([]byte, error)
	EvalFunc             func(ctx context.Context, js string) (string, error)
	HTMLFunc             func(ctx context.Context) (string, error)
	ConsoleEntriesFunc   func(ctx context.Context) ([]ports.ConsoleEntry, error)
	NetworkEventsFunc    func(ctx context.Context) ([]ports.NetworkEvent, error)
}

func (m *MockPageDriver) Navigate(ctx context.Context, url string) error {
	if m.NavigateFunc != nil {
		return m.NavigateFunc(ctx, url)
	}
	return nil
}

func (m *MockPageDriver) Reload(ctx context.Context) error {
	if m.ReloadFunc != nil {
		return m.ReloadFunc(ctx)
	}
	return nil
}

func (m *MockPageDriver) URL(ctx context.Context) (string, error) {
	if m.URLFunc != nil {
		return m.URLFunc(ctx)
	}
	return "https://example.test/", nil
}

func (m *MockPageDriver) Title(ctx context.Context) (string, error) {
	if m.TitleFunc != nil {
		return m.TitleFunc(ctx)
	}
	return "Example", nil
}

func (m *MockPageDriver) WaitLoad(ctx context.Context, state ports.LoadState) error {
	if m.WaitLoadFunc != nil {
		return m.WaitLoadFunc(ctx, state)
	}
	return nil
}

func (m *MockPageDriver) AXTree(ctx context.Context) (*ports.AXNode, error) {
	if m.AXTreeFunc != nil {
		return m.AXTreeFunc(ctx)
	}
	return &ports.AXNode{NodeID: "root", Role: "RootWebArea"}, nil
}

func (m *MockPageDriver) DescribeNode(ctx context.Context, nodeID string) (*ports.NodeInfo, error) {
	if m.DescribeNodeFunc != nil {
		return m.DescribeNodeFunc(ctx, nodeID)
	}
	return &ports.NodeInfo{
		NodeID:        nodeID,
		Tag:           "div",
		Visible:       true,
		PointerEvents: true,
		Box:           ports.Box{X: 10, Y: 10, Width: 100, Height: 20},
	}, nil
}

func (m *MockPageDriver) NodeAtPoint(ctx context.Context, x, y float64) (string, error) {
	if m.NodeAtPointFunc != nil {
		return m.NodeAtPointFunc(ctx, x, y)
	}
	return "", nil
}

func (m *MockPageDriver) QuerySelector(ctx context.Context, selector string) (string, error) {
	if m.QuerySelectorFunc != nil {
		return m.QuerySelectorFunc(ctx, selector)
	}
	return "", nil
}

func (m *MockPageDriver) QuerySelectorAll(ctx context.Context, selector string) ([]string, error) {
	if m.QuerySelectorAllFunc != nil {
		return m.QuerySelectorAllFunc(ctx, selector)
	}
	return nil, nil
}

func (m *MockPageDriver) QueryXPath(ctx context.Context, xpath string) (string, error) {
	if m.QueryXPathFunc != nil {
		return m.QueryXPathFunc(ctx, xpath)
	}
	return "", nil
}

func (m *MockPageDriver) ViewportSize(ctx context.Context) (float64, float64, error) {
	if m.ViewportSizeFunc != nil {
		return m.ViewportSizeFunc(ctx)
	}
	return 1280, 800, nil
}

func (m *MockPageDriver) Click(ctx context.Context, nodeID string) error {
	if m.ClickFunc != nil {
		return m.ClickFunc(ctx, nodeID)
	}
	return nil
}

func (m *MockPageDriver) ClickPoint(ctx context.Context, x, y float64) error {
	if m.ClickPointFunc != nil {
		return m.ClickPointFunc(ctx, x, y)
	}
	return nil
}

func (m *MockPageDriver) Type(ctx context.Context, nodeID, text string) error {
	if m.TypeFunc != nil {
		return m.TypeFunc(ctx, nodeID, text)
	}
	return nil
}

func (m *MockPageDriver) Hover(ctx context.Context, nodeID string) error {
	if m.HoverFunc != nil {
		return m.HoverFunc(ctx, nodeID)
	}
	return nil
}

func (m *MockPageDriver) Press(ctx context.Context, key string) error {
	if m.PressFunc != nil {
		return m.PressFunc(ctx, key)
	}
	return nil
}

func (m *MockPageDriver) Scroll(ctx context.Context, dx, dy float64) error {
	if m.ScrollFunc != nil {
		return m.ScrollFunc(ctx, dx, dy)
	}
	return nil
}

func (m *MockPageDriver) ScrollIntoView(ctx context.Context, nodeID string) error {
	if m.ScrollIntoViewFunc != nil {
		return m.ScrollIntoViewFunc(ctx, nodeID)
	}
	return nil
}

func (m *MockPageDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if m.ScreenshotFunc != nil {
		return m.ScreenshotFunc(ctx)
	}
	return []byte("png"), nil
}

func (m *MockPageDriver) Eval(ctx context.Context, js string) (string, error) {
	if m.EvalFunc != nil {
		return m.EvalFunc(ctx, js)
	}
	return "", nil
}

func (m *MockPageDriver) HTML(ctx context.Context) (string, error) {
	if m.HTMLFunc != nil {
		return m.HTMLFunc(ctx)
	}
	return "<html><body></body></html>", nil
}

func (m *MockPageDriver) ConsoleEntries(ctx context.Context) ([]ports.ConsoleEntry, error) {
	if m.ConsoleEntriesFunc != nil {
		return m.ConsoleEntriesFunc(ctx)
	}
	return nil, nil
}

func (m *MockPageDriver) NetworkEvents(ctx context.Context) ([]ports.NetworkEvent, error) {
	if m.NetworkEventsFunc != nil {
		return m.NetworkEventsFunc(ctx)
	}
	return nil, nil
}

var _ ports.PageDriver = (*MockPageDriver)(nil)
