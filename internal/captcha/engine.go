// Package captcha decides whether a proposed CAPTCHA solution is trustworthy
// enough to submit or must be escalated to a human. Two models cooperate: the
// vision model solves and describes the challenge, the text model validates
// the pair, and a weighted score maps to a decision band.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/kaptinlin/jsonrepair"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

// Kind tags the challenge style.
type Kind string

const (
	KindText      Kind = "text"
	KindMath      Kind = "math"
	KindImageGrid Kind = "image-grid"
)

// Band is the decision tier for a scored solution.
type Band string

const (
	BandHigh   Band = "HIGH"   // submit immediately
	BandGood   Band = "GOOD"   // submit; one retry if the site rejects
	BandMedium Band = "MEDIUM" // submit once, then escalate
	BandLow    Band = "LOW"    // escalate immediately
)

// Decision is the action the orchestrator should take for a band.
type Decision string

const (
	DecisionSubmit         Decision = "submit"
	DecisionSubmitRetry    Decision = "submit-retry-once"
	DecisionSubmitEscalate Decision = "submit-then-escalate"
	DecisionEscalate       Decision = "escalate"
)

// Thresholds are the band cutoffs, inclusive lower bounds.
type Thresholds struct {
	High   float64 `json:"high"`
	Good   float64 `json:"good"`
	Medium float64 `json:"medium"`
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Good: 0.75, Medium: 0.50}
}

// Solution is the engine's verdict on one challenge.
type Solution struct {
	Answer            string   `json:"answer"`
	Description       string   `json:"description"`
	ImageConfidence   float64  `json:"image_confidence"`
	ContextConfidence float64  `json:"context_confidence"`
	ValidatorAccepted bool     `json:"validator_accepted"`
	Score             float64  `json:"score"`
	Band              Band     `json:"band"`
	Decision          Decision `json:"decision"`
	Attempts          int      `json:"attempts"`
	Enhanced          bool     `json:"enhanced"`
}

// BandStats tracks per-band submission outcomes for threshold retuning.
// It informs tuning; it never alters runtime behavior.
type BandStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// Engine scores CAPTCHA solutions. alt, when non-nil, is the alternative
// vision model used on the retry attempt.
type Engine struct {
	model      ports.ModelClient
	alt        ports.ModelClient
	logger     logging.Logger
	thresholds Thresholds

	mu    sync.Mutex
	stats map[Band]*BandStats
}

// New builds an Engine. alt may be nil; the retry then reuses model.
func New(model ports.ModelClient, alt ports.ModelClient, logger logging.Logger, thresholds Thresholds) *Engine {
	if thresholds.High == 0 && thresholds.Good == 0 && thresholds.Medium == 0 {
		thresholds = DefaultThresholds()
	}
	return &Engine{
		model:      model,
		alt:        alt,
		logger:     logging.OrNop(logger),
		thresholds: thresholds,
		stats:      make(map[Band]*BandStats),
	}
}

// Solve runs the full pipeline: vision solve + describe, text validation,
// weighted scoring. Low and medium first attempts get one retry against the
// alternative vision model with an enhanced image; the better-scoring
// solution wins.
func (e *Engine) Solve(ctx context.Context, image []byte, kind Kind) (*Solution, error) {
	first, err := e.attempt(ctx, e.model, image, kind, 1, false)
	if err != nil {
		return nil, err
	}
	if first.Band == BandHigh || first.Band == BandGood {
		return first, nil
	}

	retryModel := e.alt
	if retryModel == nil {
		retryModel = e.model
	}
	enhanced, enhErr := Enhance(image)
	wasEnhanced := enhErr == nil
	if enhErr != nil {
		e.logger.Warn("image enhancement failed, retrying with raw image: %v", enhErr)
		enhanced = image
	}

	second, err := e.attempt(ctx, retryModel, enhanced, kind, 2, wasEnhanced)
	if err != nil {
		e.logger.Warn("retry attempt failed, keeping first solution: %v", err)
		return first, nil
	}
	if second.Score > first.Score {
		return second, nil
	}
	first.Attempts = 2
	return first, nil
}

func (e *Engine) attempt(ctx context.Context, model ports.ModelClient, image []byte, kind Kind, attempt int, enhanced bool) (*Solution, error) {
	answer, err := model.CompleteVision(ctx, solvePrompt(kind), image)
	if err != nil {
		return nil, fmt.Errorf("vision solve: %w", err)
	}
	answer = cleanAnswer(answer)

	description, err := model.CompleteVision(ctx, "Describe this CAPTCHA challenge in one sentence. Do not solve it.", image)
	if err != nil {
		e.logger.Warn("vision describe failed: %v", err)
		description = ""
	}

	imageConf := scoreImage(answer, kind)

	valid, contextConf := e.validate(ctx, kind, answer, description)

	score := combine(imageConf, contextConf, answer, kind, valid)
	band := e.band(score)

	sol := &Solution{
		Answer:            answer,
		Description:       strings.TrimSpace(description),
		ImageConfidence:   imageConf,
		ContextConfidence: contextConf,
		ValidatorAccepted: valid,
		Score:             score,
		Band:              band,
		Decision:          decisionFor(band),
		Attempts:          attempt,
		Enhanced:          enhanced,
	}
	e.logger.Info("captcha attempt %d: answer=%q image=%.2f context=%.2f score=%.2f band=%s",
		attempt, answer, imageConf, contextConf, score, band)
	return sol, nil
}

// validate asks the text model whether (kind, answer, description) hang
// together. Parse failures degrade to a neutral 0.5 rather than failing the
// whole solve.
func (e *Engine) validate(ctx context.Context, kind Kind, answer, description string) (bool, float64) {
	prompt := fmt.Sprintf(
		"A %s CAPTCHA was described as: %q. The proposed answer is %q. "+
			"Is the answer plausible for this challenge? Reply with JSON only: "+
			`{"valid": true|false, "confidence": 0.0-1.0}`,
		kind, description, answer)

	resp, err := e.model.Complete(ctx, ports.CompletionRequest{
		Messages:    []ports.Message{{Role: ports.RoleUser, Content: prompt}},
		Temperature: 0,
		MaxTokens:   100,
	})
	if err != nil {
		e.logger.Warn("text validation failed: %v", err)
		return false, 0.5
	}

	var verdict struct {
		Valid      bool    `json:"valid"`
		Confidence float64 `json:"confidence"`
	}
	raw := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(raw)
		if repErr != nil || json.Unmarshal([]byte(repaired), &verdict) != nil {
			e.logger.Warn("validator output unparseable: %q", resp.Content)
			return false, 0.5
		}
	}
	return verdict.Valid, clamp01(verdict.Confidence)
}

func (e *Engine) band(score float64) Band {
	switch {
	case score >= e.thresholds.High:
		return BandHigh
	case score >= e.thresholds.Good:
		return BandGood
	case score >= e.thresholds.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

func decisionFor(band Band) Decision {
	switch band {
	case BandHigh:
		return DecisionSubmit
	case BandGood:
		return DecisionSubmitRetry
	case BandMedium:
		return DecisionSubmitEscalate
	default:
		return DecisionEscalate
	}
}

// ReportOutcome records whether a submitted solution was accepted by the
// site, keyed by the band it was scored into.
func (e *Engine) ReportOutcome(band Band, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[band]
	if !ok {
		s = &BandStats{}
		e.stats[band] = s
	}
	s.Attempts++
	if success {
		s.Successes++
	}
}

// Stats returns a copy of the per-band outcome counters.
func (e *Engine) Stats() map[Band]BandStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Band]BandStats, len(e.stats))
	for band, s := range e.stats {
		out[band] = *s
	}
	return out
}

func solvePrompt(kind Kind) string {
	switch kind {
	case KindMath:
		return "Solve the arithmetic problem shown in this CAPTCHA image. Reply with the numeric result only."
	case KindImageGrid:
		return "This is a grid-selection CAPTCHA. Reply with the matching cell numbers as a comma-separated list, numbering cells left-to-right, top-to-bottom starting at 1."
	default:
		return "Read the characters shown in this CAPTCHA image. Reply with the characters only, no explanation."
	}
}

// cleanAnswer strips the filler vision models like to add around the payload.
func cleanAnswer(raw string) string {
	answer := strings.TrimSpace(raw)
	for _, prefix := range []string{"The answer is", "The characters are", "Answer:", "Result:", "The text is"} {
		if strings.HasPrefix(strings.ToLower(answer), strings.ToLower(prefix)) {
			answer = strings.TrimSpace(answer[len(prefix):])
		}
	}
	answer = strings.Trim(answer, `"'.`)
	if idx := strings.IndexByte(answer, '\n'); idx >= 0 {
		answer = strings.TrimSpace(answer[:idx])
	}
	return answer
}

var refusalPhrases = []string{
	"i can't", "i cannot", "cannot determine", "unable to", "sorry",
	"not sure", "unclear", "too blurry", "can not",
}

// scoreImage derives image confidence from the answer alone: length
// plausibility, refusal phrases, confusable-character pairs, and format
// cleanliness.
func scoreImage(answer string, kind Kind) float64 {
	a := strings.TrimSpace(answer)
	if a == "" {
		return 0
	}
	lower := strings.ToLower(a)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return 0.1
		}
	}

	conf := 0.95
	n := len([]rune(a))

	switch kind {
	case KindText:
		if n < 4 || n > 8 {
			conf -= 0.2
		}
	case KindMath:
		if !isNumeric(a) {
			conf -= 0.3
		}
	case KindImageGrid:
		if !isGridList(a) {
			conf -= 0.25
		}
	}

	if strings.ContainsAny(a, " \t") {
		conf -= 0.15
	}
	if kind == KindText && !isAlnum(a) {
		conf -= 0.1
	}

	// A lone '1' or 'O' is normal; both members of a confusable pair in one
	// answer suggest the model was guessing.
	pairs := [][2]string{{"O", "0"}, {"l", "1"}, {"I", "1"}, {"I", "l"}}
	penalty := 0.0
	for _, p := range pairs {
		if strings.Contains(a, p[0]) && strings.Contains(a, p[1]) {
			penalty += 0.1
		}
	}
	if penalty > 0.2 {
		penalty = 0.2
	}
	conf -= penalty

	return clamp01(conf)
}

// combine produces the weighted score: 0.6·image + 0.3·context, a 0.1 bonus
// for format-appropriate answers, then penalties.
func combine(imageConf, contextConf float64, answer string, kind Kind, valid bool) float64 {
	score := 0.6*imageConf + 0.3*contextConf
	if formatAppropriate(answer, kind) {
		score += 0.1
	}
	if len([]rune(answer)) > 12 {
		score -= 0.15
	}
	if strings.ContainsAny(answer, " \t") {
		score -= 0.1
	}
	if !valid {
		score -= 0.25
	}
	return clamp01(score)
}

func formatAppropriate(answer string, kind Kind) bool {
	switch kind {
	case KindMath:
		return isNumeric(answer)
	case KindImageGrid:
		return isGridList(answer)
	default:
		return isAlnum(answer) && answer != ""
	}
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func isNumeric(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isGridList(s string) bool {
	parts := strings.Split(s, ",")
	for _, p := range parts {
		if !isNumeric(strings.TrimSpace(p)) {
			return false
		}
	}
	return len(parts) > 0
}

// extractJSON pulls the first {...} block out of model output.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
