package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCompletionClient builds the transport for the named provider.
// "openai" covers any OpenAI-compatible endpoint; "anthropic" uses the
// Anthropic Messages API.
func NewCompletionClient(provider string, cfg *ClientConfig, logger *zap.Logger) (CompletionClient, error) {
	switch provider {
	case "openai", "":
		return NewClient(cfg, logger)
	case "anthropic":
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
