package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/orchestrator"
)

// turnRequest is the wire shape of one conversation turn.
type turnRequest struct {
	SessionID    *string                 `json:"session_id,omitempty"`
	Message      string                  `json:"message,omitempty"`
	CardResponse *models.CardResponse    `json:"card_response,omitempty"`
	Files        []models.FileAttachment `json:"files,omitempty"`
}

// ChatHandler serves the conversation turn endpoint.
type ChatHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{orch: orch, logger: logger.Named("chat")}
}

// RegisterRoutes registers the chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/turn", h.Turn)
}

// Turn handles one conversation turn. Orchestration failures come back
// as a normal envelope with status=error; only malformed requests and
// unknown sessions surface as HTTP errors.
func (h *ChatHandler) Turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = WriteError(w, fmt.Errorf("%w: malformed turn request: %v", apperrors.ErrValidation, err))
		return
	}

	turn := orchestrator.TurnRequest{
		Message:      req.Message,
		CardResponse: req.CardResponse,
		Files:        req.Files,
	}
	if req.SessionID != nil {
		id, err := uuid.Parse(*req.SessionID)
		if err != nil {
			_ = WriteError(w, fmt.Errorf("%w: invalid session id %q", apperrors.ErrValidation, *req.SessionID))
			return
		}
		turn.SessionID = &id
	}

	resp, err := h.orch.Turn(r.Context(), turn)
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode turn response", zap.Error(err))
	}
}
