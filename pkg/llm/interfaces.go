// Package llm provides the model transport clients and the structured
// completion protocol used by the tool layer.
package llm

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest carries one model invocation.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Temperature float64
}

// CompletionClient is the transport interface for a single model call.
// Use this interface for dependency injection to enable mocking in tests.
type CompletionClient interface {
	// Complete sends the request and returns the model's textual reply.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Model returns the configured model name.
	Model() string
}
