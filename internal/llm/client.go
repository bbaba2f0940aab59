package llm

import (
	"context"
)

// Client is the interface the query generators use to talk to the model.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, request Request) (*Completion, error)
}

// Request is a single-turn completion request
type Request struct {
	Prompt    string
	MaxTokens int // 0 means use the client default
}

// Completion is the model's reply
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token consumption for a completion
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
