package ports

import (
	"context"
	"encoding/json"
)

// ModelClient represents the local model runtime. Two modes are consumed by
// the kernel: text completion with tool definitions, and vision completion
// over a single image. Retry on transient failures is the reliability
// fabric's job; implementations should make exactly one attempt per call.
type ModelClient interface {
	// Complete sends messages and returns a response (non-streaming).
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CompleteVision answers a prompt about one image using the vision model.
	CompleteVision(ctx context.Context, prompt string, image []byte) (string, error)

	// TextModel returns the text model identifier.
	TextModel() string

	// VisionModel returns the vision model identifier.
	VisionModel() string
}

// CompletionRequest contains all parameters for a model completion.
type CompletionRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	StopAfter   []string         `json:"stop,omitempty"`
}

// CompletionResponse is the model's reply: free-text content plus at most
// one honored tool invocation. Content without an invocation is treated by
// the orchestrator as the final answer.
type CompletionResponse struct {
	Content     string           `json:"content"`
	Invocations []ToolInvocation `json:"tool_calls,omitempty"`
	StopReason  string           `json:"stop_reason,omitempty"`
	Usage       TokenUsage       `json:"usage"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message represents one conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images carries screenshot payloads attached to this message. Compaction
	// strips these from every message but the most recent.
	Images [][]byte `json:"-"`
	// ToolCallID links a role=tool message back to the invocation it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name is the tool name on role=tool messages.
	Name string `json:"name,omitempty"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// HasImages reports whether the message carries any image payload.
func (m Message) HasImages() bool { return len(m.Images) > 0 }

// ToolDefinition is a tool schema offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolInvocation is a tool call requested by the model; Args stays raw until
// the tool registry binds it to the tool's typed argument struct.
type ToolInvocation struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"arguments"`
}
