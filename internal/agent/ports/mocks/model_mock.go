package mocks

import (
	"context"

	"surf/internal/agent/ports"
)

// MockModelClient implements ports.ModelClient with overridable hooks.
type MockModelClient struct {
	CompleteFunc       func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
	CompleteVisionFunc func(ctx context.Context, prompt string, image []byte) (string, error)

	// Calls counts Complete invocations, handy for trigger-bypass tests.
	Calls int
}

func (m *MockModelClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	m.Calls++
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &ports.CompletionResponse{
		Content:    "mock response",
		StopReason: "stop",
		Usage:      ports.TokenUsage{TotalTokens: 10},
	}, nil
}

func (m *MockModelClient) CompleteVision(ctx context.Context, prompt string, image []byte) (string, error) {
	if m.CompleteVisionFunc != nil {
		return m.CompleteVisionFunc(ctx, prompt, image)
	}
	return "mock vision response", nil
}

func (m *MockModelClient) TextModel() string   { return "mock-text" }
func (m *MockModelClient) VisionModel() string { return "mock-vision" }

var _ ports.ModelClient = (*MockModelClient)(nil)

// MockEmbedder returns deterministic vectors derived from text length.
type MockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Dim       int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for i, r := range text {
		vec[i%dim] += float32(r%13) / 13
	}
	return vec, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.Dim == 0 {
		return 8
	}
	return m.Dim
}

func (m *MockEmbedder) Name() string { return "mock-embedder" }

var _ ports.Embedder = (*MockEmbedder)(nil)
