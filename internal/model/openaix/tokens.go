package openaix

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"surf/internal/agent/ports"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// estimateUsage fills in token counts when the runtime returned none. Local
// OpenAI-compatible servers frequently omit the usage block, and downstream
// logging still wants a number. Counts are approximate; tool schemas and
// image payloads are not included.
func estimateUsage(req ports.CompletionRequest, content string) ports.TokenUsage {
	prompt := 0
	for _, m := range req.Messages {
		prompt += countTokens(m.Content) + 4 // per-message framing overhead
	}
	completion := countTokens(content)
	return ports.TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// countTokens measures text with the cl100k_base encoding, degrading to a
// bytes/4 heuristic when the encoding data cannot be loaded.
func countTokens(text string) int {
	encOnce.Do(func() { enc, _ = tiktoken.GetEncoding("cl100k_base") })
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
