package captcha

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"surf/internal/agent/ports"
	"surf/internal/agent/ports/mocks"
	"surf/internal/logging"
)

// validatorModel wires CompleteVision to the given answer/description and
// Complete to a JSON verdict.
func validatorModel(answer, description string, valid bool, confidence float64) *mocks.MockModelClient {
	return &mocks.MockModelClient{
		CompleteVisionFunc: func(ctx context.Context, prompt string, image []byte) (string, error) {
			if strings.Contains(prompt, "Describe") {
				return description, nil
			}
			return answer, nil
		},
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			content := `{"valid": false, "confidence": 0.1}`
			if valid {
				content = `{"valid": true, "confidence": ` + trimFloat(confidence) + `}`
			}
			return &ports.CompletionResponse{Content: content}, nil
		},
	}
}

func trimFloat(v float64) string {
	switch v {
	case 0.9:
		return "0.90"
	case 0.5:
		return "0.5"
	default:
		return "0.75"
	}
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(100 + (i % 60))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestSolveHighBandSubmitsImmediately(t *testing.T) {
	// Spec scenario: "Abc123", image 0.95, validator valid/0.90 →
	// 0.6·0.95 + 0.3·0.90 + 0.10 = 0.94 → HIGH.
	model := validatorModel("Abc123", "six distorted characters on a noisy background", true, 0.9)
	engine := New(model, nil, logging.Nop(), Thresholds{})

	sol, err := engine.Solve(context.Background(), testImage(t), KindText)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.ImageConfidence != 0.95 {
		t.Fatalf("expected image confidence 0.95, got %.2f", sol.ImageConfidence)
	}
	if math.Abs(sol.Score-0.94) > 0.001 {
		t.Fatalf("expected score 0.94, got %.3f", sol.Score)
	}
	if sol.Band != BandHigh || sol.Decision != DecisionSubmit {
		t.Fatalf("expected HIGH/submit, got %s/%s", sol.Band, sol.Decision)
	}
	if sol.Attempts != 1 {
		t.Fatalf("high band must not trigger the retry attempt")
	}
}

func TestSolveRefusalEscalates(t *testing.T) {
	model := validatorModel("I cannot read this image", "an unreadable blob", false, 0.5)
	engine := New(model, nil, logging.Nop(), Thresholds{})

	sol, err := engine.Solve(context.Background(), testImage(t), KindText)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Band != BandLow || sol.Decision != DecisionEscalate {
		t.Fatalf("refusal should land in LOW/escalate, got %s/%s", sol.Band, sol.Decision)
	}
}

func TestSolveLowBandRetriesWithAltModel(t *testing.T) {
	primary := validatorModel("??", "blurry characters", false, 0.5)
	alt := validatorModel("XK4P9T", "six characters over a grid", true, 0.9)
	engine := New(primary, alt, logging.Nop(), Thresholds{})

	sol, err := engine.Solve(context.Background(), testImage(t), KindText)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Answer != "XK4P9T" {
		t.Fatalf("expected the alternative model's better answer, got %q", sol.Answer)
	}
	if sol.Attempts != 2 || !sol.Enhanced {
		t.Fatalf("retry should run on the enhanced image, got attempts=%d enhanced=%v", sol.Attempts, sol.Enhanced)
	}
}

func TestSolveMathAnswerFormat(t *testing.T) {
	model := validatorModel("42", "an addition problem, 19 + 23", true, 0.9)
	engine := New(model, nil, logging.Nop(), Thresholds{})

	sol, err := engine.Solve(context.Background(), testImage(t), KindMath)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Band != BandHigh {
		t.Fatalf("clean numeric math answer should score HIGH, got %s (%.2f)", sol.Band, sol.Score)
	}
}

func TestCleanAnswerStripsFiller(t *testing.T) {
	cases := map[string]string{
		"The answer is 7B2K":            "7B2K",
		`Answer: "XJ42"`:                "XJ42",
		"x9Q3\nLet me know if you need": "x9Q3",
		"  Kp4Z  ":                      "Kp4Z",
		"The characters are 'mN3q'.":    "mN3q",
	}
	for in, want := range cases {
		if got := cleanAnswer(in); got != want {
			t.Errorf("cleanAnswer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScoreImagePenalties(t *testing.T) {
	clean := scoreImage("Abc123", KindText)
	spaced := scoreImage("Ab c12", KindText)
	if spaced >= clean {
		t.Fatalf("spaces should cost confidence: %.2f vs %.2f", spaced, clean)
	}
	confusable := scoreImage("O0l1Ab", KindText)
	if confusable >= clean {
		t.Fatalf("confusable pairs should cost confidence: %.2f vs %.2f", confusable, clean)
	}
	if scoreImage("", KindText) != 0 {
		t.Fatalf("empty answer is zero confidence")
	}
}

func TestBandBoundaries(t *testing.T) {
	engine := New(&mocks.MockModelClient{}, nil, logging.Nop(), Thresholds{})
	cases := []struct {
		score float64
		want  Band
	}{
		{0.85, BandHigh},
		{0.849, BandGood},
		{0.75, BandGood},
		{0.749, BandMedium},
		{0.50, BandMedium},
		{0.499, BandLow},
	}
	for _, tc := range cases {
		if got := engine.band(tc.score); got != tc.want {
			t.Errorf("band(%.3f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestValidatorRepairsSloppyJSON(t *testing.T) {
	model := &mocks.MockModelClient{
		CompleteFunc: func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
			// Trailing comma and single quotes, the usual local-model output.
			return &ports.CompletionResponse{Content: "{'valid': true, 'confidence': 0.8,}"}, nil
		},
	}
	engine := New(model, nil, logging.Nop(), Thresholds{})
	valid, conf := engine.validate(context.Background(), KindText, "AB12", "four characters")
	if !valid || conf != 0.8 {
		t.Fatalf("expected repaired verdict valid/0.8, got %v/%.2f", valid, conf)
	}
}

func TestReportOutcomeAccumulates(t *testing.T) {
	engine := New(&mocks.MockModelClient{}, nil, logging.Nop(), Thresholds{})
	engine.ReportOutcome(BandHigh, true)
	engine.ReportOutcome(BandHigh, true)
	engine.ReportOutcome(BandHigh, false)
	stats := engine.Stats()
	if s := stats[BandHigh]; s.Attempts != 3 || s.Successes != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestEnhanceProducesDecodablePNG(t *testing.T) {
	out, err := Enhance(testImage(t))
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("enhanced output is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 16 {
		t.Fatalf("enhancement must preserve dimensions, got %v", img.Bounds())
	}
	if _, ok := img.At(1, 1).(color.Gray); !ok {
		t.Fatalf("expected grayscale output")
	}
}

func TestEnhanceRejectsGarbage(t *testing.T) {
	if _, err := Enhance([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}
