package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// repairInstruction is appended as the final user turn when the first
// reply fails to parse or validate.
const repairInstruction = "Your previous reply was not valid: %s. Return ONLY valid JSON matching the schema, no explanation."

// StructuredClient obtains schema-valid structured output from a model.
// A call makes one invocation; if the reply fails to parse or validate it
// makes exactly one repair invocation carrying the conversation so far,
// then gives up. At most two invocations ever occur per call.
type StructuredClient struct {
	client      CompletionClient
	validate    *validator.Validate
	temperature float64
	logger      *zap.Logger
}

// NewStructuredClient wraps a completion client with the structured
// output protocol.
func NewStructuredClient(client CompletionClient, temperature float64, logger *zap.Logger) *StructuredClient {
	return &StructuredClient{
		client:      client,
		validate:    validator.New(),
		temperature: temperature,
		logger:      logger.Named("structured"),
	}
}

// CallStructured sends systemInstructions plus userContext and decodes
// the reply into T. T's validate tags define the output schema.
func CallStructured[T any](ctx context.Context, sc *StructuredClient, systemInstructions, userContext string) (T, error) {
	var zero T

	messages := []Message{{Role: RoleUser, Content: userContext}}

	reply, err := sc.client.Complete(ctx, &CompletionRequest{
		System:      systemInstructions,
		Messages:    messages,
		Temperature: sc.temperature,
	})
	if err != nil {
		return zero, err
	}

	result, decodeErr := decodeReply[T](sc.validate, reply)
	if decodeErr == nil {
		return result, nil
	}

	sc.logger.Warn("Model output invalid, attempting repair",
		zap.String("model", sc.client.Model()),
		zap.Error(decodeErr))

	// Repair attempt: same instructions, plus the invalid reply and an
	// explicit correction. This is the only retry; a second failure
	// propagates to the caller.
	messages = append(messages,
		Message{Role: RoleAssistant, Content: reply},
		Message{Role: RoleUser, Content: fmt.Sprintf(repairInstruction, decodeErr.Reason)},
	)

	reply, err = sc.client.Complete(ctx, &CompletionRequest{
		System:      systemInstructions,
		Messages:    messages,
		Temperature: sc.temperature,
	})
	if err != nil {
		return zero, err
	}

	result, decodeErr = decodeReply[T](sc.validate, reply)
	if decodeErr != nil {
		sc.logger.Error("Model output invalid after repair",
			zap.String("model", sc.client.Model()),
			zap.Error(decodeErr))
		return zero, decodeErr
	}
	return result, nil
}

// decodeReply extracts the payload from a reply, parses it, and checks it
// against T's schema.
func decodeReply[T any](validate *validator.Validate, reply string) (T, *ModelOutputError) {
	var result T

	payload := ExtractPayload(reply)
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return result, NewModelOutputError(fmt.Sprintf("parse failed: %v", err), payload)
	}

	if err := validate.Struct(result); err != nil {
		return result, NewModelOutputError(fmt.Sprintf("schema validation failed: %v", err), payload)
	}

	return result, nil
}
