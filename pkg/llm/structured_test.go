package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mappingOutput struct {
	FieldA     string  `json:"field_a" validate:"required"`
	FieldB     string  `json:"field_b" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

func newTestStructuredClient(mock *MockCompletionClient) *StructuredClient {
	return NewStructuredClient(mock, 0.1, zap.NewNop())
}

func TestCallStructured_ValidFirstReply_OneInvocation(t *testing.T) {
	mock := NewMockCompletionClient()
	mock.CompleteFunc = func(ctx context.Context, req *CompletionRequest) (string, error) {
		return `{"field_a": "amount", "field_b": "total_amount", "confidence": 0.9}`, nil
	}

	result, err := CallStructured[mappingOutput](context.Background(), newTestStructuredClient(mock), "instructions", "context")
	require.NoError(t, err)
	assert.Equal(t, "amount", result.FieldA)
	assert.Equal(t, 1, mock.CompleteCalls)
}

func TestCallStructured_FencedAndBareIdentical(t *testing.T) {
	payload := `{"field_a": "a", "field_b": "b", "confidence": 0.5}`

	for _, reply := range []string{payload, "```json\n" + payload + "\n```"} {
		mock := NewMockCompletionClient()
		mock.CompleteFunc = func(ctx context.Context, req *CompletionRequest) (string, error) {
			return reply, nil
		}
		result, err := CallStructured[mappingOutput](context.Background(), newTestStructuredClient(mock), "i", "c")
		require.NoError(t, err)
		assert.Equal(t, mappingOutput{FieldA: "a", FieldB: "b", Confidence: 0.5}, result)
	}
}

func TestCallStructured_RepairConversationCarriesInvalidReply(t *testing.T) {
	invalid := "sorry, here is some prose instead of JSON"
	mock := NewMockCompletionClient()
	mock.CompleteFunc = func(ctx context.Context, req *CompletionRequest) (string, error) {
		if mock.CompleteCalls == 1 {
			return invalid, nil
		}
		return `{"field_a": "a", "field_b": "b", "confidence": 0.7}`, nil
	}

	result, err := CallStructured[mappingOutput](context.Background(), newTestStructuredClient(mock), "instructions", "original context")
	require.NoError(t, err)
	assert.Equal(t, "a", result.FieldA)
	require.Equal(t, 2, mock.CompleteCalls)

	repair := mock.Requests[1]
	assert.Equal(t, "instructions", repair.System)
	require.Len(t, repair.Messages, 3)
	assert.Equal(t, RoleUser, repair.Messages[0].Role)
	assert.Equal(t, "original context", repair.Messages[0].Content)
	assert.Equal(t, RoleAssistant, repair.Messages[1].Role)
	assert.Equal(t, invalid, repair.Messages[1].Content)
	assert.Equal(t, RoleUser, repair.Messages[2].Role)
	assert.Contains(t, repair.Messages[2].Content, "ONLY valid JSON")
}

func TestCallStructured_SchemaFailureTriggersRepair(t *testing.T) {
	mock := NewMockCompletionClient()
	mock.CompleteFunc = func(ctx context.Context, req *CompletionRequest) (string, error) {
		if mock.CompleteCalls == 1 {
			// Parses fine but confidence is out of range.
			return `{"field_a": "a", "field_b": "b", "confidence": 3.5}`, nil
		}
		return `{"field_a": "a", "field_b": "b", "confidence": 0.9}`, nil
	}

	result, err := CallStructured[mappingOutput](context.Background(), newTestStructuredClient(mock), "i", "c")
	require.NoError(t, err)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, 2, mock.CompleteCalls)
}

func TestCallStructured_SecondFailurePropagates_NoThirdAttempt(t *testing.T) {
	mock := NewMockCompletionClient()
	mock.CompleteFunc = func(ctx context.Context, req *CompletionRequest) (string, error) {
		return "not json at all", nil
	}

	_, err := CallStructured[mappingOutput](context.Background(), newTestStructuredClient(mock), "i", "c")
	require.Error(t, err)
	assert.True(t, IsModelOutputError(err))
	assert.Equal(t, 2, mock.CompleteCalls)
}

func TestCallStructured_UpstreamErrorPropagates(t *testing.T) {
	mock := NewMockCompletionClient()
	mock.CompleteFunc = func(ctx context.Context, req *CompletionRequest) (string, error) {
		return "", assert.AnError
	}

	_, err := CallStructured[mappingOutput](context.Background(), newTestStructuredClient(mock), "i", "c")
	require.Error(t, err)
	assert.False(t, IsModelOutputError(err))
	assert.Equal(t, 1, mock.CompleteCalls)
}

func TestDecodeReply_NotJSONAtAll(t *testing.T) {
	sc := newTestStructuredClient(NewMockCompletionClient())
	_, decodeErr := decodeReply[mappingOutput](sc.validate, "not json at all")
	require.NotNil(t, decodeErr)
	assert.Contains(t, decodeErr.Reason, "parse failed")
}

func TestModelOutputError_TruncatesOutput(t *testing.T) {
	long := strings.Repeat("x", 2000)
	err := NewModelOutputError("parse failed", long)
	assert.LessOrEqual(t, len(err.Output), maxErrorOutputLen+3)
	assert.Contains(t, err.Error(), "parse failed")
}
