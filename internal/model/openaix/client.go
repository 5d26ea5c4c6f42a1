// Package openaix adapts an OpenAI-compatible endpoint (a local runtime such
// as Ollama or vLLM, or the hosted API) to the kernel's ModelClient and
// Embedder ports. One call here is one HTTP request; retries belong to the
// reliability fabric, not this adapter.
package openaix

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"

	"surf/internal/agent/ports"
	"surf/internal/logging"
)

// chatAPI and embedAPI capture the slices of the go-openai client the
// adapter uses, so tests can stand in for the wire.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type embedAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Options configures the adapter.
type Options struct {
	// Endpoint is the OpenAI-compatible base URL (".../v1").
	Endpoint string
	// APIKey may be empty for local runtimes that ignore auth.
	APIKey      string
	TextModel   string
	VisionModel string
	EmbedModel  string
	// CompletionTimeout bounds one chat call (default 120s); VisionTimeout
	// bounds one vision call (default 180s, vision is slower).
	CompletionTimeout time.Duration
	VisionTimeout     time.Duration
	Logger            logging.Logger
}

// Client implements ports.ModelClient and ports.Embedder over one endpoint.
type Client struct {
	chat        chatAPI
	embed       embedAPI
	textModel   string
	visionModel string
	embedModel  string
	chatTimeout time.Duration
	visTimeout  time.Duration
	logger      logging.Logger
	dims        int
}

// New builds the adapter.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("openaix: endpoint is required")
	}
	if opts.TextModel == "" {
		return nil, errors.New("openaix: text model is required")
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "unused" // the client library requires a non-empty key
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = opts.Endpoint
	inner := openai.NewClientWithConfig(cfg)

	c := &Client{
		chat:        inner,
		embed:       inner,
		textModel:   opts.TextModel,
		visionModel: opts.VisionModel,
		embedModel:  opts.EmbedModel,
		chatTimeout: opts.CompletionTimeout,
		visTimeout:  opts.VisionTimeout,
		logger:      logging.OrNop(opts.Logger),
	}
	if c.visionModel == "" {
		c.visionModel = c.textModel
	}
	if c.chatTimeout <= 0 {
		c.chatTimeout = 120 * time.Second
	}
	if c.visTimeout <= 0 {
		c.visTimeout = 180 * time.Second
	}
	return c, nil
}

// TextModel returns the text model identifier.
func (c *Client) TextModel() string { return c.textModel }

// VisionModel returns the vision model identifier.
func (c *Client) VisionModel() string { return c.visionModel }

// Complete sends one chat completion with tool definitions.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	out := openai.ChatCompletionRequest{
		Model:       c.textModel,
		Messages:    translateMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopAfter,
		Tools:       translateTools(req.Tools),
	}

	resp, err := c.chat.CreateChatCompletion(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: empty choice list")
	}
	choice := resp.Choices[0]

	result := &ports.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: ports.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if result.Usage.TotalTokens == 0 {
		result.Usage = estimateUsage(req, choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := repairArgs(tc.Function.Arguments)
		if err != nil {
			c.logger.Warn("dropping unparseable tool call %s: %v", tc.Function.Name, err)
			continue
		}
		result.Invocations = append(result.Invocations, ports.ToolInvocation{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return result, nil
}

// CompleteVision answers a prompt about one image using the vision model.
func (c *Client) CompleteVision(ctx context.Context, prompt string, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.visTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				imagePart(image),
			},
		}},
	}
	resp, err := c.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed generates an embedding via the endpoint's /embeddings route.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embedModel == "" {
		return nil, errors.New("openaix: no embed model configured")
	}
	resp, err := c.embed.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embeddings: empty response")
	}
	vec := resp.Data[0].Embedding
	c.dims = len(vec)
	return vec, nil
}

// Dimensions reports the vector size seen on the last Embed, 0 before any.
func (c *Client) Dimensions() int { return c.dims }

// Name identifies the backing embedding model.
func (c *Client) Name() string { return c.embedModel }

func translateMessages(msgs []ports.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		if m.HasImages() {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, imagePart(img))
			}
			cm.MultiContent = parts
		} else {
			cm.Content = m.Content
		}
		out = append(out, cm)
	}
	return out
}

func imagePart(image []byte) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
			Detail: openai.ImageURLDetailAuto,
		},
	}
}

func translateTools(defs []ports.ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

var (
	_ ports.ModelClient = (*Client)(nil)
	_ ports.Embedder    = (*Client)(nil)
)

// repairArgs returns syntactically valid JSON for a tool call's arguments,
// fixing the sloppy output local models produce when it can.
func repairArgs(raw string) (json.RawMessage, error) {
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair arguments: %w", err)
	}
	if !json.Valid([]byte(fixed)) {
		return nil, errors.New("arguments unrepairable")
	}
	return json.RawMessage(fixed), nil
}
