package reliability

import (
	"context"
	"fmt"

	"surf/internal/agent/ports"
	"surf/internal/logging"
	"surf/internal/snapshot"
	"surf/internal/tools"
)

// Validator runs the pre-action pipeline for interaction tools: existence,
// visibility, viewport, obstruction, interactability. Fixable findings are
// remediated in place (scroll into view, dismiss obstruction) and the check
// re-runs; anything still failing afterwards comes back as a typed result.
type Validator struct {
	driver       ports.PageDriver
	snaps        *snapshot.Service
	obstructions *ObstructionHandler
	logger       logging.Logger
}

// NewValidator wires the pipeline.
func NewValidator(driver ports.PageDriver, snaps *snapshot.Service, obstructions *ObstructionHandler, logger logging.Logger) *Validator {
	return &Validator{
		driver:       driver,
		snaps:        snaps,
		obstructions: obstructions,
		logger:       logging.OrNop(logger),
	}
}

// Validate checks that the call's target element can actually receive the
// interaction. On success it returns KindNone. The returned reason is
// human-readable and travels into the ActionResult unchanged.
func (v *Validator) Validate(ctx context.Context, call *tools.Call) (ErrorKind, string) {
	ref, ok := call.TargetRef()
	if !ok {
		return KindNone, ""
	}

	nodeID, err := v.snaps.Resolve(ref)
	if err != nil {
		return Classify(err), fmt.Sprintf("ref %s does not resolve: %v", ref, err)
	}

	info, err := v.driver.DescribeNode(ctx, nodeID)
	if err != nil {
		return Classify(err), fmt.Sprintf("ref %s no longer describes a node: %v", ref, err)
	}

	// Visibility: geometry plus computed style, as reported by the driver.
	if !info.Visible || info.Box.Empty() {
		return KindSelectorMissing, fmt.Sprintf("ref %s exists but is not rendered", ref)
	}

	// Viewport: auto-scroll and revalidate once.
	width, height, err := v.driver.ViewportSize(ctx)
	if err == nil && !info.Box.Intersects(width, height) {
		if err := v.driver.ScrollIntoView(ctx, nodeID); err != nil {
			return Classify(err), fmt.Sprintf("ref %s is off-screen and scrolling failed: %v", ref, err)
		}
		info, err = v.driver.DescribeNode(ctx, nodeID)
		if err != nil {
			return Classify(err), fmt.Sprintf("ref %s vanished during scroll: %v", ref, err)
		}
		if !info.Box.Intersects(width, height) {
			return KindSelectorMissing, fmt.Sprintf("ref %s cannot be scrolled into view", ref)
		}
	}

	if kind, reason := v.checkObstruction(ctx, nodeID, info); kind != KindNone {
		return kind, reason
	}

	// Interactability.
	if info.Disabled {
		return KindSelectorMissing, fmt.Sprintf("ref %s is disabled", ref)
	}
	if !info.PointerEvents {
		return KindObstruction, fmt.Sprintf("ref %s does not accept pointer events", ref)
	}
	if call.Name == tools.NameType && info.ReadOnly {
		return KindSelectorMissing, fmt.Sprintf("ref %s is read-only", ref)
	}

	return KindNone, ""
}

// checkObstruction hit-tests the element's center. When the topmost node is
// neither the target nor rendered inside it, the occluder is classified
// against the obstruction catalog and dismissed once per page lifetime.
func (v *Validator) checkObstruction(ctx context.Context, nodeID string, info *ports.NodeInfo) (ErrorKind, string) {
	cx, cy := info.Box.Center()
	topID, err := v.driver.NodeAtPoint(ctx, cx, cy)
	if err != nil || topID == "" || topID == nodeID {
		return KindNone, ""
	}

	top, err := v.driver.DescribeNode(ctx, topID)
	if err != nil {
		return KindNone, ""
	}
	// A descendant of the target (the text span inside a button) renders
	// within the target's bounds; that is not an obstruction.
	if boxInside(top.Box, info.Box) {
		return KindNone, ""
	}

	obstruction, known := v.obstructions.Classify(top)
	if !known {
		return KindObstruction, fmt.Sprintf("element center is covered by <%s id=%q>", top.Tag, top.ID)
	}
	if v.obstructions.AlreadyTried(obstruction) {
		return KindObstruction, fmt.Sprintf("%s still covers the element after dismissal", obstruction.Category)
	}
	if v.obstructions.Dismiss(ctx, obstruction) {
		// Re-run the hit test once; a second layer gets its own attempt on
		// the next validation pass.
		if afterID, err := v.driver.NodeAtPoint(ctx, cx, cy); err == nil && (afterID == nodeID || afterID == "") {
			return KindNone, ""
		}
		if after, err := v.driver.DescribeNode(ctx, nodeID); err == nil {
			ax, ay := after.Box.Center()
			if topAfter, err := v.driver.NodeAtPoint(ctx, ax, ay); err == nil && topAfter == nodeID {
				return KindNone, ""
			}
		}
	}
	return KindObstruction, fmt.Sprintf("%s covers the element", obstruction.Category)
}

func boxInside(inner, outer ports.Box) bool {
	return inner.X >= outer.X && inner.Y >= outer.Y &&
		inner.X+inner.Width <= outer.X+outer.Width+1 &&
		inner.Y+inner.Height <= outer.Y+outer.Height+1
}
