package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"surf/internal/reliability"
	"surf/internal/snapshot"
)

const locatePrompt = `Find this element on the page: %q.
Reply with JSON only. If the element is visible, reply {"found": true, "x": <center x>, "y": <center y>} with viewport pixel coordinates. If it is not on the page, reply {"found": false}.`

// handleLocate resolves one element description to a snapshot ref. Site
// memory is consulted first; only a miss pays for a vision round-trip, and a
// fresh vision hit is synthesized into selectors for the next run.
func (a *Agent) handleLocate(ctx context.Context, description string) reliability.ActionResult {
	start := a.clock.Now()
	done := func(success bool, data any, kind reliability.ErrorKind, reason string) reliability.ActionResult {
		return reliability.ActionResult{
			Success:  success,
			Data:     data,
			Kind:     kind,
			Reason:   reason,
			Attempts: 1,
			Latency:  a.clock.Now().Sub(start),
		}
	}

	url, err := a.driver.URL(ctx)
	if err != nil {
		return done(false, nil, reliability.Classify(err), err.Error())
	}

	if a.sites != nil {
		if mem, ok := a.sites.FindMemory(url, description); ok {
			nodeID, cand, hit := a.sites.TryCandidates(ctx, a.driver, mem)
			if hit {
				if ref, rerr := a.refFor(ctx, nodeID); rerr == nil {
					if uerr := a.sites.RecordUse(mem, true); uerr != nil {
						a.logger.Warn("record selector use: %v", uerr)
					}
					a.logger.Debug("located %q via remembered selector %s", description, cand.Value)
					return done(true, fmt.Sprintf("Found %q at ref %s (remembered selector)", description, ref), reliability.KindNone, "")
				}
			}
			if uerr := a.sites.RecordUse(mem, false); uerr != nil {
				a.logger.Warn("record selector use: %v", uerr)
			}
		}
	}

	return a.locateByVision(ctx, url, description, done)
}

// locateByVision asks the vision model for the element's center, maps the
// point to a node, and teaches site memory the selectors for next time.
func (a *Agent) locateByVision(ctx context.Context, url, description string, done func(bool, any, reliability.ErrorKind, string) reliability.ActionResult) reliability.ActionResult {
	img, err := a.driver.Screenshot(ctx)
	if err != nil {
		return done(false, nil, reliability.Classify(err), err.Error())
	}

	answer, err := a.model.CompleteVision(ctx, fmt.Sprintf(locatePrompt, description), img)
	if err != nil {
		return done(false, nil, reliability.Classify(err), err.Error())
	}

	x, y, found, err := parseLocateAnswer(answer)
	if err != nil {
		return done(false, nil, reliability.KindSelectorMissing,
			fmt.Sprintf("vision answer unparseable: %v", err))
	}
	if !found {
		return done(false, nil, reliability.KindSelectorMissing,
			fmt.Sprintf("no element matching %q is visible", description))
	}

	nodeID, err := a.driver.NodeAtPoint(ctx, x, y)
	if err != nil || nodeID == "" {
		return done(false, nil, reliability.KindSelectorMissing,
			fmt.Sprintf("nothing at the reported point (%.0f, %.0f)", x, y))
	}

	if a.sites != nil {
		if info, derr := a.driver.DescribeNode(ctx, nodeID); derr == nil {
			if _, serr := a.sites.SynthesizeAndSave(ctx, a.driver, url, description, *info, x, y); serr != nil {
				a.logger.Debug("selector synthesis for %q: %v", description, serr)
			}
		}
	}

	ref, err := a.refFor(ctx, nodeID)
	if err != nil {
		return done(false, nil, reliability.KindSelectorMissing, err.Error())
	}
	return done(true, fmt.Sprintf("Found %q at ref %s", description, ref), reliability.KindNone, "")
}

// refFor forces a fresh snapshot and returns the ref addressing nodeID.
func (a *Agent) refFor(ctx context.Context, nodeID string) (string, error) {
	res, err := a.snaps.Capture(ctx, snapshot.Options{Force: true})
	if err != nil {
		return "", fmt.Errorf("snapshot after locate: %w", err)
	}
	snap := res.Snapshot
	if snap == nil {
		snap = a.snaps.Current()
	}
	if snap != nil {
		for _, el := range snap.Elements {
			if el.NodeID == nodeID {
				return el.Ref, nil
			}
		}
	}
	return "", fmt.Errorf("located element is not in the accessibility tree")
}

// parseLocateAnswer extracts the coordinate object from the vision reply,
// tolerating prose around the JSON.
func parseLocateAnswer(answer string) (x, y float64, found bool, err error) {
	open := strings.IndexByte(answer, '{')
	end := strings.LastIndexByte(answer, '}')
	if open < 0 || end <= open {
		return 0, 0, false, fmt.Errorf("no JSON object in %q", firstLine(answer, 80))
	}
	var payload struct {
		Found *bool   `json:"found"`
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
	}
	if err := json.Unmarshal([]byte(answer[open:end+1]), &payload); err != nil {
		return 0, 0, false, err
	}
	if payload.Found != nil && !*payload.Found {
		return 0, 0, false, nil
	}
	return payload.X, payload.Y, true, nil
}
