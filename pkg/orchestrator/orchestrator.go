// Package orchestrator drives the per-turn conversation state machine:
// it appends the user message, runs phase-specific logic, and commits the
// phase proposal plus field updates as one atomic session write.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/llm"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/scoped"
	"github.com/barockok/kalla-engine/pkg/session"
	"github.com/barockok/kalla-engine/pkg/sources"
	"github.com/barockok/kalla-engine/pkg/tools"
	"github.com/barockok/kalla-engine/pkg/worker"
)

// evidenceThreshold is how many confirmed pairs rule inference waits for.
const evidenceThreshold = 3

// TurnRequest is one inbound conversation turn. Exactly one of Message
// and CardResponse must be set.
type TurnRequest struct {
	SessionID    *uuid.UUID
	Message      string
	CardResponse *models.CardResponse
	Files        []models.FileAttachment
}

// TurnResponse is the envelope returned for every turn, failures included.
type TurnResponse struct {
	SessionID   uuid.UUID           `json:"session_id"`
	Phase       models.Phase        `json:"phase"`
	Status      models.SessionStatus `json:"status"`
	Message     models.ChatMessage  `json:"message"`
	RecipeDraft *models.RecipeDraft `json:"recipe_draft"`
}

// phaseResult is what one pass of phase logic produces: response
// segments, an optional forward phase proposal, and a bundle of field
// updates. The proposal and updates commit together or not at all.
type phaseResult struct {
	segments []models.Segment
	proposal *models.Phase
	updates  session.Update
}

// Orchestrator coordinates the session store, tool layer, scoped loader,
// and worker dispatch for each turn.
type Orchestrator struct {
	store      *session.Store
	registry   *sources.Registry
	toolset    *tools.Toolset
	translator *scoped.Translator
	dispatcher worker.Dispatcher
	runs       *worker.RunIndex

	callbackBase string
	outputPath   string
	logger       *zap.Logger
}

// NewOrchestrator wires the orchestrator. dispatcher may be nil when
// worker dispatch is not configured.
func NewOrchestrator(
	store *session.Store,
	registry *sources.Registry,
	toolset *tools.Toolset,
	translator *scoped.Translator,
	dispatcher worker.Dispatcher,
	runs *worker.RunIndex,
	callbackBase, outputPath string,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:        store,
		registry:     registry,
		toolset:      toolset,
		translator:   translator,
		dispatcher:   dispatcher,
		runs:         runs,
		callbackBase: callbackBase,
		outputPath:   outputPath,
		logger:       logger.Named("orchestrator"),
	}
}

// Turn processes one conversation turn end to end. The returned envelope
// is always well formed: internal failures surface as an agent apology
// segment with status=error, never as a raised error, except when the
// request itself is malformed or names an unknown session.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	if (req.Message == "") == (req.CardResponse == nil) {
		return nil, fmt.Errorf("%w: exactly one of message and card_response is required", apperrors.ErrValidation)
	}

	sess, err := o.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	// The user turn is recorded before any processing so the
	// conversation survives whatever fails later.
	userMsg := models.ChatMessage{
		Role:      models.RoleUser,
		Segments:  []models.Segment{models.NewTextSegment(userTurnText(req))},
		Timestamp: time.Now().UTC(),
		Files:     req.Files,
	}
	if _, err := o.store.AddMessage(ctx, sess.ID, userMsg); err != nil {
		return nil, err
	}

	result, err := o.runPhase(ctx, sess, req)
	if err == nil {
		result.updates.Phase = result.proposal
		if result.updates.Status == nil {
			active := models.SessionStatusActive
			result.updates.Status = &active
		}
		sess, err = o.store.Update(ctx, sess.ID, result.updates)
	}
	if err != nil {
		return o.failTurn(ctx, sess.ID, err)
	}

	agentMsg := models.ChatMessage{
		Role:      models.RoleAgent,
		Segments:  result.segments,
		Timestamp: time.Now().UTC(),
	}
	sess, err = o.store.AddMessage(ctx, sess.ID, agentMsg)
	if err != nil {
		return o.failTurn(ctx, sess.ID, err)
	}

	return &TurnResponse{
		SessionID:   sess.ID,
		Phase:       sess.Phase,
		Status:      sess.Status,
		Message:     agentMsg,
		RecipeDraft: sess.RecipeDraft,
	}, nil
}

func (o *Orchestrator) resolveSession(ctx context.Context, id *uuid.UUID) (*models.Session, error) {
	if id == nil {
		return o.store.Create(ctx), nil
	}
	sess, ok := o.store.Get(*id)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, *id)
	}
	return sess, nil
}

// failTurn converts any processing failure into an apology turn. The
// session keeps whatever state committed before the failure; only the
// status flips to error.
func (o *Orchestrator) failTurn(ctx context.Context, sessionID uuid.UUID, cause error) (*TurnResponse, error) {
	o.logger.Error("Turn failed",
		zap.String("session_id", sessionID.String()),
		zap.Error(cause))

	statusErr := models.SessionStatusError
	sess, err := o.store.Update(ctx, sessionID, session.Update{Status: &statusErr})
	if err != nil {
		return nil, err
	}

	agentMsg := models.ChatMessage{
		Role:      models.RoleAgent,
		Segments:  []models.Segment{models.NewTextSegment(apologyFor(cause))},
		Timestamp: time.Now().UTC(),
	}
	sess, err = o.store.AddMessage(ctx, sessionID, agentMsg)
	if err != nil {
		return nil, err
	}

	return &TurnResponse{
		SessionID:   sess.ID,
		Phase:       sess.Phase,
		Status:      sess.Status,
		Message:     agentMsg,
		RecipeDraft: sess.RecipeDraft,
	}, nil
}

// userTurnText renders the user-visible text for the turn: the literal
// message, or a synthesized description of the card action.
func userTurnText(req TurnRequest) string {
	if req.CardResponse == nil {
		return req.Message
	}
	cr := req.CardResponse
	if cr.Value == nil {
		return fmt.Sprintf("[Card response: %s on %s]", cr.Action, cr.CardID)
	}
	return fmt.Sprintf("[Card response: %s on %s, value: %v]", cr.Action, cr.CardID, cr.Value)
}

func apologyFor(err error) string {
	switch {
	case llm.IsModelOutputError(err):
		return "Sorry, I could not produce a reliable structured answer for that just now. Could you rephrase or try again?"
	case errors.Is(err, apperrors.ErrUpstream):
		return "Sorry, a service I depend on is unreachable right now. Please try again in a moment."
	case errors.Is(err, apperrors.ErrValidation):
		return fmt.Sprintf("Sorry, I could not process that: %v", err)
	case errors.Is(err, apperrors.ErrNotFound):
		return fmt.Sprintf("Sorry, I could not find what that referred to: %v", err)
	default:
		return "Sorry, something went wrong handling that turn. Your session is intact; please try again."
	}
}

func phasePtr(p models.Phase) *models.Phase { return &p }
