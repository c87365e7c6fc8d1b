package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/logging"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/scoped"
	"github.com/barockok/kalla-engine/pkg/sources"
)

// registerSourceRequest is the wire shape for registering a source.
type registerSourceRequest struct {
	Alias      string `json:"alias"`
	URI        string `json:"uri"`
	SourceType string `json:"source_type"`
}

// scopedLoadRequest is the wire shape for a filtered scoped load.
type scopedLoadRequest struct {
	Conditions []models.FilterCondition `json:"conditions"`
	Limit      int                      `json:"limit,omitempty"`
}

// SourcesHandler serves the source registry and scoped-load endpoints.
type SourcesHandler struct {
	registry   *sources.Registry
	translator *scoped.Translator
	logger     *zap.Logger
}

// NewSourcesHandler creates a SourcesHandler.
func NewSourcesHandler(registry *sources.Registry, translator *scoped.Translator, logger *zap.Logger) *SourcesHandler {
	return &SourcesHandler{registry: registry, translator: translator, logger: logger.Named("sources")}
}

// RegisterRoutes registers the source routes on the given mux.
func (h *SourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sources", h.List)
	mux.HandleFunc("POST /api/sources", h.Register)
	mux.HandleFunc("GET /api/sources/{alias}/preview", h.Preview)
	mux.HandleFunc("GET /api/sources/{alias}/primary-key", h.PrimaryKey)
	mux.HandleFunc("POST /api/sources/{alias}/load-scoped", h.LoadScoped)
}

// List returns every registered source with credentials scrubbed from
// the URIs.
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	for i := range list {
		list[i].URI = logging.SanitizeURI(list[i].URI)
	}
	if err := WriteJSON(w, http.StatusOK, map[string]any{"sources": list}); err != nil {
		h.logger.Error("Failed to encode source list", zap.Error(err))
	}
}

// Register adds or replaces a source registration.
func (h *SourcesHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = WriteError(w, fmt.Errorf("%w: malformed register request: %v", apperrors.ErrValidation, err))
		return
	}

	src, err := h.registry.Register(req.Alias, req.URI, models.SourceKind(req.SourceType))
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	src.URI = logging.SanitizeURI(src.URI)
	if err := WriteJSON(w, http.StatusCreated, src); err != nil {
		h.logger.Error("Failed to encode registered source", zap.Error(err))
	}
}

// Preview runs a limit-only scoped load for quick inspection.
func (h *SourcesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			_ = WriteError(w, fmt.Errorf("%w: limit must be an integer", apperrors.ErrValidation))
			return
		}
		limit = parsed
	}
	h.load(w, r, scopedLoadRequest{Limit: limit})
}

// primaryKeyResponse reports detected key columns for a source.
type primaryKeyResponse struct {
	Alias        string   `json:"alias"`
	DetectedKeys []string `json:"detected_keys"`
	Confidence   string   `json:"confidence"`
}

// PrimaryKey samples the source and reports primary key candidates.
func (h *SourcesHandler) PrimaryKey(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	src, ok := h.registry.Get(alias)
	if !ok {
		_ = WriteError(w, fmt.Errorf("%w: source %q", apperrors.ErrNotFound, alias))
		return
	}

	result, err := h.translator.LoadScoped(r.Context(), src, scoped.LoadOptions{})
	if err != nil {
		_ = WriteError(w, err)
		return
	}

	detected := scoped.DetectPrimaryKeys(result.Columns, result.Rows)
	confidence := "low"
	if len(detected) > 0 {
		confidence = "high"
	}

	if err := WriteJSON(w, http.StatusOK, primaryKeyResponse{
		Alias:        alias,
		DetectedKeys: detected,
		Confidence:   confidence,
	}); err != nil {
		h.logger.Error("Failed to encode primary key response", zap.Error(err))
	}
}

// LoadScoped runs a filtered scoped load.
func (h *SourcesHandler) LoadScoped(w http.ResponseWriter, r *http.Request) {
	var req scopedLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = WriteError(w, fmt.Errorf("%w: malformed scoped-load request: %v", apperrors.ErrValidation, err))
		return
	}
	h.load(w, r, req)
}

func (h *SourcesHandler) load(w http.ResponseWriter, r *http.Request, req scopedLoadRequest) {
	alias := r.PathValue("alias")
	src, ok := h.registry.Get(alias)
	if !ok {
		_ = WriteError(w, fmt.Errorf("%w: source %q", apperrors.ErrNotFound, alias))
		return
	}

	result, err := h.translator.LoadScoped(r.Context(), src, scoped.LoadOptions{
		Filters: req.Conditions,
		Limit:   req.Limit,
	})
	if err != nil {
		h.logger.Warn("Scoped load failed",
			zap.String("alias", alias),
			zap.String("error", logging.SanitizeError(err)))
		_ = WriteError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode scoped result", zap.Error(err))
	}
}
