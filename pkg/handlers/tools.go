package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/tools"
)

// toolInvokeRequest is the invoke envelope: a tool name plus its raw
// input payload.
type toolInvokeRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// ToolsHandler exposes the tool layer for direct invocation.
type ToolsHandler struct {
	registry *tools.Registry
	logger   *zap.Logger
}

// NewToolsHandler creates a ToolsHandler.
func NewToolsHandler(registry *tools.Registry, logger *zap.Logger) *ToolsHandler {
	return &ToolsHandler{registry: registry, logger: logger.Named("tools")}
}

// RegisterRoutes registers the tool routes on the given mux.
func (h *ToolsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tools/invoke", h.Invoke)
	mux.HandleFunc("GET /api/tools", h.List)
}

// List returns the available tool names.
func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]any{"tools": h.registry.Names()}); err != nil {
		h.logger.Error("Failed to encode tool list", zap.Error(err))
	}
}

// Invoke runs one tool and returns {result} or {error}.
func (h *ToolsHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req toolInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = WriteError(w, fmt.Errorf("%w: malformed invoke request: %v", apperrors.ErrValidation, err))
		return
	}
	if req.Tool == "" {
		_ = WriteError(w, fmt.Errorf("%w: tool name is required", apperrors.ErrValidation))
		return
	}

	result, err := h.registry.Invoke(r.Context(), req.Tool, req.Input)
	if err != nil {
		h.logger.Warn("Tool invocation failed",
			zap.String("tool", req.Tool),
			zap.Error(err))
		_ = WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"result": result}); err != nil {
		h.logger.Error("Failed to encode tool result", zap.Error(err))
	}
}
