package reliability

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

// ObstructionCategory names a known class of occluding UI.
type ObstructionCategory string

const (
	ObstructionCookieBanner ObstructionCategory = "cookie-banner"
	ObstructionModal        ObstructionCategory = "modal"
	ObstructionChatWidget   ObstructionCategory = "chat-widget"
	ObstructionNotification ObstructionCategory = "notification-banner"
	ObstructionAgeGate      ObstructionCategory = "age-gate"
)

// categoryOrder is the dismissal priority: cookie banners first because they
// are the most common and the cheapest to clear.
var categoryOrder = []ObstructionCategory{
	ObstructionCookieBanner,
	ObstructionModal,
	ObstructionChatWidget,
	ObstructionNotification,
	ObstructionAgeGate,
}

// categorySignals maps a category to the id/class/attribute vocabulary that
// identifies it.
var categorySignals = map[ObstructionCategory][]string{
	ObstructionCookieBanner: {"cookie", "consent", "gdpr", "privacy-banner", "onetrust", "cmp", "didomi"},
	ObstructionModal:        {"modal", "dialog", "popup", "lightbox", "overlay", "interstitial"},
	ObstructionChatWidget:   {"chat", "intercom", "drift", "messenger", "zendesk", "livechat", "crisp"},
	ObstructionNotification: {"notification", "toast", "alert-banner", "promo-bar", "newsletter", "subscribe"},
	ObstructionAgeGate:      {"age-gate", "age-verify", "agecheck", "verify-age", "adult"},
}

// dismissSelectors lists, per category, the close/accept controls to try in
// order before falling back to Escape and a backdrop click.
var dismissSelectors = map[ObstructionCategory][]string{
	ObstructionCookieBanner: {
		"#onetrust-accept-btn-handler",
		"button[id*='accept']",
		"button[class*='accept']",
		"button[aria-label*='ccept']",
		"button[class*='agree']",
		"[class*='cookie'] button",
	},
	ObstructionModal: {
		"[aria-label='Close']",
		"[aria-label='close']",
		"button[class*='close']",
		"[class*='modal'] [class*='close']",
		"[data-dismiss]",
	},
	ObstructionChatWidget: {
		"[aria-label*='inimize']",
		"[aria-label*='lose chat']",
		"[class*='chat'] [class*='close']",
	},
	ObstructionNotification: {
		"[class*='notification'] [class*='close']",
		"[class*='banner'] [class*='close']",
		"[class*='toast'] [class*='close']",
	},
	ObstructionAgeGate: {
		"button[class*='confirm']",
		"button[id*='yes']",
		"button[class*='enter']",
	},
}

// Obstruction is one detected occluder.
type Obstruction struct {
	Category ObstructionCategory
	NodeID   string
	Info     *ports.NodeInfo
}

// signature identifies an obstruction across retries on the same page:
// category plus rounded geometry.
func (o *Obstruction) signature() string {
	box := o.Info.Box
	return fmt.Sprintf("%s@%.0f,%.0f,%.0f,%.0f", o.Category, box.X, box.Y, box.Width, box.Height)
}

// ObstructionHandler classifies and dismisses occluding UI. Dismissal never
// returns an error: failure is logged, recorded, and the caller reports the
// obstruction kind so the model path can reason about it.
type ObstructionHandler struct {
	driver ports.PageDriver
	logger logging.Logger

	mu        sync.Mutex
	dismissed map[string]bool
}

// NewObstructionHandler builds a handler for one page.
func NewObstructionHandler(driver ports.PageDriver, logger logging.Logger) *ObstructionHandler {
	return &ObstructionHandler{
		driver:    driver,
		logger:    logging.OrNop(logger),
		dismissed: make(map[string]bool),
	}
}

// ResetPage clears the dismissed set; called on navigation, because the same
// banner on a new page is a new obstruction.
func (h *ObstructionHandler) ResetPage() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dismissed = make(map[string]bool)
}

// Classify decides whether the node occluding a target is a known
// obstruction type. Unrecognized occluders return false: clicking into a
// random overlay is worse than surfacing the failure.
func (h *ObstructionHandler) Classify(info *ports.NodeInfo) (*Obstruction, bool) {
	if info == nil {
		return nil, false
	}
	hay := strings.ToLower(info.ID + " " + strings.Join(info.Classes, " ") + " " +
		info.Attrs["role"] + " " + info.Attrs["aria-label"] + " " + info.Attrs["data-testid"])

	for _, category := range categoryOrder {
		for _, signal := range categorySignals[category] {
			if strings.Contains(hay, signal) {
				return &Obstruction{Category: category, NodeID: info.NodeID, Info: info}, true
			}
		}
	}
	// A fixed full-width element pinned to the top behaves like a
	// notification banner even without the vocabulary.
	if info.Position == "fixed" && info.Box.Y <= 0 && info.Box.Width > 0 {
		return &Obstruction{Category: ObstructionNotification, NodeID: info.NodeID, Info: info}, true
	}
	return nil, false
}

// AlreadyTried reports whether this obstruction was dismissed (or failed
// dismissal) earlier in the page's lifetime.
func (h *ObstructionHandler) AlreadyTried(o *Obstruction) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dismissed[o.signature()]
}

// Dismiss runs the strategy catalog for the obstruction: known close/accept
// control, Escape key, then a backdrop click. It records the attempt either
// way and reports whether the occluder is gone.
func (h *ObstructionHandler) Dismiss(ctx context.Context, o *Obstruction) bool {
	h.mu.Lock()
	h.dismissed[o.signature()] = true
	h.mu.Unlock()

	for _, selector := range dismissSelectors[o.Category] {
		nodeID, err := h.driver.QuerySelector(ctx, selector)
		if err != nil || nodeID == "" {
			continue
		}
		if err := h.driver.Click(ctx, nodeID); err != nil {
			h.logger.Debug("dismiss click %q failed: %v", selector, err)
			continue
		}
		if h.gone(ctx, o) {
			h.logger.Info("dismissed %s via %q", o.Category, selector)
			return true
		}
	}

	if err := h.driver.Press(ctx, "Escape"); err == nil && h.gone(ctx, o) {
		h.logger.Info("dismissed %s via Escape", o.Category)
		return true
	}

	// Backdrop click: the top-left corner is the least likely spot to hit a
	// control inside the obstruction.
	if err := h.driver.ClickPoint(ctx, 2, 2); err == nil && h.gone(ctx, o) {
		h.logger.Info("dismissed %s via backdrop click", o.Category)
		return true
	}

	h.logger.Warn("could not dismiss %s (%s)", o.Category, o.NodeID)
	return false
}

// gone re-checks whether the obstruction node still renders.
func (h *ObstructionHandler) gone(ctx context.Context, o *Obstruction) bool {
	info, err := h.driver.DescribeNode(ctx, o.NodeID)
	if err != nil {
		return true // node no longer resolvable: it is gone
	}
	return !info.Visible || info.Box.Empty()
}
