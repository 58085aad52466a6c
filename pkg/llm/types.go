package llm

import "time"

// Message is the provider-facing chat message representation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options control one completion call. Sampling params are passed through to
// the endpoint opaquely.
type Options struct {
	Model string
	// Timeout is the per-attempt deadline.
	Timeout time.Duration
	// MaxRetries bounds retries after a per-attempt timeout.
	MaxRetries  int
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// UsageInfo mirrors the endpoint's token accounting.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a normalized successful completion.
type Result struct {
	Content      string
	Model        string
	FinishReason string
	Usage        *UsageInfo
	Elapsed      time.Duration
}

// ContextBudget bounds the conversation prefix sent with a request. When
// MaxMessages is set it wins; otherwise MaxTokens applies with a bytes/4
// estimate.
type ContextBudget struct {
	MaxMessages int
	MaxTokens   int
}
