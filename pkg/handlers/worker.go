package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/session"
	"github.com/barockok/kalla-engine/pkg/worker"
)

// WorkerHandler receives the batch worker's callback posts and lands
// them in the originating session's conversation.
type WorkerHandler struct {
	store  *session.Store
	runs   *worker.RunIndex
	logger *zap.Logger
}

// NewWorkerHandler creates a WorkerHandler.
func NewWorkerHandler(store *session.Store, runs *worker.RunIndex, logger *zap.Logger) *WorkerHandler {
	return &WorkerHandler{store: store, runs: runs, logger: logger.Named("worker")}
}

// RegisterRoutes registers the worker callback routes on the given mux.
func (h *WorkerHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/worker/progress", h.Progress)
	mux.HandleFunc("POST /api/worker/complete", h.Complete)
	mux.HandleFunc("POST /api/worker/error", h.Error)
}

// Progress appends a progress card to the run's session.
func (h *WorkerHandler) Progress(w http.ResponseWriter, r *http.Request) {
	var report models.WorkerProgress
	if !h.decode(w, r, &report) {
		return
	}

	h.appendCard(w, r, report.RunID, models.CardProgress, map[string]any{
		"run_id":        report.RunID.String(),
		"stage":         report.Stage,
		"progress":      report.Progress,
		"matched_count": report.MatchedCount,
		"total_left":    report.TotalLeft,
		"total_right":   report.TotalRight,
	}, "")
}

// Complete appends a result summary and releases the run.
func (h *WorkerHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var report models.WorkerCompletion
	if !h.decode(w, r, &report) {
		return
	}

	text := fmt.Sprintf("The reconciliation finished: %d matched, %d unmatched on the left, %d unmatched on the right.",
		report.MatchedCount, report.UnmatchedLeftCount, report.UnmatchedRightCount)

	// Release only once the summary is recorded, so a worker retrying a
	// failed callback still finds the run.
	if h.appendCard(w, r, report.RunID, models.CardResultSummary, map[string]any{
		"run_id":                report.RunID.String(),
		"matched_count":         report.MatchedCount,
		"unmatched_left_count":  report.UnmatchedLeftCount,
		"unmatched_right_count": report.UnmatchedRightCount,
		"output_paths":          report.OutputPaths,
	}, text) {
		h.runs.Release(report.RunID)
	}
}

// Error appends a failure summary and releases the run.
func (h *WorkerHandler) Error(w http.ResponseWriter, r *http.Request) {
	var report models.WorkerError
	if !h.decode(w, r, &report) {
		return
	}

	if h.appendCard(w, r, report.RunID, models.CardResultSummary, map[string]any{
		"run_id": report.RunID.String(),
		"error":  report.Error,
	}, "The reconciliation run failed: "+report.Error) {
		h.runs.Release(report.RunID)
	}
}

func (h *WorkerHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		_ = WriteError(w, fmt.Errorf("%w: malformed worker callback: %v", apperrors.ErrValidation, err))
		return false
	}
	return true
}

// appendCard records the callback in the run's session and reports
// whether the message committed.
func (h *WorkerHandler) appendCard(w http.ResponseWriter, r *http.Request, runID uuid.UUID, cardType models.CardType, data map[string]any, text string) bool {
	sessionID, ok := h.runs.Lookup(runID)
	if !ok {
		_ = WriteError(w, fmt.Errorf("%w: run %s", apperrors.ErrNotFound, runID))
		return false
	}

	segments := []models.Segment{}
	if text != "" {
		segments = append(segments, models.NewTextSegment(text))
	}
	segments = append(segments, models.NewCardSegment(cardType, "run-"+runID.String(), data))

	_, err := h.store.AddMessage(r.Context(), sessionID, models.ChatMessage{
		Role:      models.RoleAgent,
		Segments:  segments,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		_ = WriteError(w, err)
		return false
	}

	h.logger.Info("Worker callback recorded",
		zap.String("run_id", runID.String()),
		zap.String("session_id", sessionID.String()),
		zap.String("card_type", string(cardType)))
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return true
}
