package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

const invoicesCSV = "id,amount,date\n" +
	"1,100,2024-01-01\n" +
	"2,250,2024-01-02\n" +
	"3,980,2024-01-03\n" +
	"4,40,2024-01-04\n"

const paymentsCSV = "pid,total,paid_on\n" +
	"p1,100,2024-01-02\n" +
	"p2,250,2024-01-03\n" +
	"p3,980,2024-01-05\n" +
	"p4,40,2024-01-06\n"

type memStore map[string]string

func (m memStore) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	content, ok := m[uri]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

type fakeDispatcher struct {
	jobs []models.MatchJob
	err  error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, job models.MatchJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type harness struct {
	orch  *Orchestrator
	store *session.Store
	mock  *llm.MockCompletionClient
	disp  *fakeDispatcher
}

// scriptedComplete routes tool calls by their instruction text, the way
// one provider serves every tool in production.
func scriptedComplete(ctx context.Context, req *llm.CompletionRequest) (string, error) {
	switch {
	case strings.Contains(req.System, "column-level correspondences"):
		return `{"mappings": [{"field_a": "amount", "field_b": "total", "confidence": 0.9,
			"reason": "same value shapes", "suggested_filter_type": "amount_range"}]}`, nil
	case strings.Contains(req.System, "natural-language filter"):
		return `{"left_filters": [{"column": "amount", "op": "gt", "value": "200"}],
			"right_filters": [{"column": "total", "op": "gt", "value": "200"}]}`, nil
	case strings.Contains(req.System, "matching rules behind them"):
		return `{"relationship": "1:1", "primary_key_left": "id", "primary_key_right": "pid",
			"rules": [{"name": "amount_exact", "sql": "invoices_csv.amount = payments_csv.total", "description": "amounts equal", "confidence": 0.95}]}`, nil
	case strings.Contains(req.System, "assemble accepted matching rules"):
		return `{"match_sql": "SELECT * FROM invoices_csv i JOIN payments_csv p ON i.amount = p.total", "explanation": "Records match when amounts are equal."}`, nil
	default:
		return "", errors.New("unexpected tool call: " + req.System[:40])
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	store := session.NewStore(time.Hour, time.Hour, nil, logger)

	registry := sources.NewRegistry(logger)
	files := memStore{
		"file:///data/invoices.csv": invoicesCSV,
		"file:///data/payments.csv": paymentsCSV,
	}
	for alias, uri := range map[string]string{
		"invoices_csv": "file:///data/invoices.csv",
		"payments_csv": "file:///data/payments.csv",
	} {
		_, err := registry.Register(alias, uri, models.SourceCSV)
		require.NoError(t, err)
	}
	for _, alias := range []string{"invoices", "payments"} {
		_, err := registry.Register(alias, "file:///data/"+alias+".csv", models.SourceCSV)
		require.NoError(t, err)
	}

	mock := llm.NewMockCompletionClient()
	mock.CompleteFunc = scriptedComplete
	toolset := tools.NewToolset(llm.NewStructuredClient(mock, 0.1, logger), logger)

	translator := scoped.NewTranslator(
		scoped.NewPostgresLoader(logger),
		scoped.NewFlatFileLoader(files, logger),
		logger,
	)

	disp := &fakeDispatcher{}
	orch := NewOrchestrator(store, registry, toolset, translator, disp, worker.NewRunIndex(),
		"http://localhost:3780/api/worker", "results/", logger)

	return &harness{orch: orch, store: store, mock: mock, disp: disp}
}

func (h *harness) turn(t *testing.T, sessionID *uuid.UUID, msg string, card *models.CardResponse) *TurnResponse {
	t.Helper()
	resp, err := h.orch.Turn(context.Background(), TurnRequest{
		SessionID:    sessionID,
		Message:      msg,
		CardResponse: card,
	})
	require.NoError(t, err)
	return resp
}

func confirmCard(cardID string, left, right map[string]any) *models.CardResponse {
	return &models.CardResponse{
		CardID: cardID,
		Action: "confirm",
		Value:  map[string]any{"left": left, "right": right},
	}
}

func TestTurn_RequiresExactlyOneInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Turn(context.Background(), TurnRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = h.orch.Turn(context.Background(), TurnRequest{
		Message:      "hello",
		CardResponse: &models.CardResponse{CardID: "x", Action: "confirm"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestTurn_UnknownSession(t *testing.T) {
	h := newHarness(t)
	id := uuid.New()

	_, err := h.orch.Turn(context.Background(), TurnRequest{SessionID: &id, Message: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestTurn_FirstTurnCreatesSessionAndGreets(t *testing.T) {
	h := newHarness(t)

	resp := h.turn(t, nil, "hi", nil)
	assert.Equal(t, models.PhaseIntent, resp.Phase)
	assert.Equal(t, models.SessionStatusActive, resp.Status)
	require.NotEmpty(t, resp.Message.Segments)
	assert.Contains(t, resp.Message.Segments[0].Text, "reconcile")

	sess, ok := h.store.Get(resp.SessionID)
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, models.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "hi", sess.Messages[0].Segments[0].Text)
	assert.Equal(t, models.RoleAgent, sess.Messages[1].Role)
}

func TestTurn_IntentResolvesCSVAliasesAndAdvancesToScoping(t *testing.T) {
	h := newHarness(t)

	first := h.turn(t, nil, "hello", nil)
	resp := h.turn(t, &first.SessionID, "reconcile the invoices csv and payment csv", nil)

	assert.Equal(t, models.PhaseScoping, resp.Phase)

	sess, ok := h.store.Get(resp.SessionID)
	require.True(t, ok)
	assert.Equal(t, "invoices_csv", sess.LeftSourceAlias)
	assert.Equal(t, "payments_csv", sess.RightSourceAlias)
	assert.NotEmpty(t, sess.SchemaLeft)
	assert.NotEmpty(t, sess.SampleLeft)
}

func TestTurn_IntentDetectsMappingsAndFeedsFilterParsing(t *testing.T) {
	h := newHarness(t)

	first := h.turn(t, nil, "hello", nil)
	h.turn(t, &first.SessionID, "reconcile the invoices csv and payment csv", nil)

	sess, ok := h.store.Get(first.SessionID)
	require.True(t, ok)
	require.Len(t, sess.FieldMappings, 1)
	assert.Equal(t, "amount", sess.FieldMappings[0].FieldA)
	assert.Equal(t, "total", sess.FieldMappings[0].FieldB)

	// The scoping filter parse sees the detected mappings as context.
	var filterContext string
	h.mock.CompleteFunc = func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		if strings.Contains(req.System, "natural-language filter") {
			filterContext = req.Messages[0].Content
		}
		return scriptedComplete(ctx, req)
	}
	h.turn(t, &first.SessionID, "only rows above 200", nil)
	assert.Contains(t, filterContext, "amount -> total (confidence: 0.90)")
}

func TestTurn_IntentAdvancesWhenMappingDetectionFails(t *testing.T) {
	h := newHarness(t)
	first := h.turn(t, nil, "hello", nil)

	h.mock.CompleteFunc = func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		if strings.Contains(req.System, "column-level correspondences") {
			return "", apperrors.ErrUpstream
		}
		return scriptedComplete(ctx, req)
	}

	resp := h.turn(t, &first.SessionID, "reconcile the invoices csv and payment csv", nil)
	assert.Equal(t, models.PhaseScoping, resp.Phase)
	assert.Equal(t, models.SessionStatusActive, resp.Status)

	sess, ok := h.store.Get(resp.SessionID)
	require.True(t, ok)
	assert.Empty(t, sess.FieldMappings)
}

func TestTurn_IntentStaysWhenSourcesUnresolved(t *testing.T) {
	h := newHarness(t)

	first := h.turn(t, nil, "hello", nil)
	resp := h.turn(t, &first.SessionID, "reconcile my stuff", nil)

	assert.Equal(t, models.PhaseIntent, resp.Phase)
	assert.Contains(t, resp.Message.Segments[0].Text, "two registered sources")
}

func TestTurn_CardResponseSynthesizedIntoUserText(t *testing.T) {
	h := newHarness(t)
	resp := driveToDemonstration(t, h)

	card := confirmCard("match-1", map[string]any{"amount": "980"}, map[string]any{"total": "980"})
	next := h.turn(t, &resp.SessionID, "", card)

	sess, ok := h.store.Get(next.SessionID)
	require.True(t, ok)
	userMsg := sess.Messages[len(sess.Messages)-2]
	assert.Equal(t, models.RoleUser, userMsg.Role)
	assert.Contains(t, userMsg.Segments[0].Text, "[Card response: confirm on match-1, value:")
}

// driveToDemonstration walks a fresh session through greeting, intent,
// and scoping.
func driveToDemonstration(t *testing.T, h *harness) *TurnResponse {
	t.Helper()
	first := h.turn(t, nil, "hello", nil)
	h.turn(t, &first.SessionID, "reconcile the invoices csv and payment csv", nil)
	resp := h.turn(t, &first.SessionID, "only rows above 200", nil)
	require.Equal(t, models.PhaseDemonstration, resp.Phase)
	return resp
}

func TestTurn_ScopingAppliesNLFilterAndProposesCandidate(t *testing.T) {
	h := newHarness(t)
	resp := driveToDemonstration(t, h)

	// The scoping reply carries a candidate pair card.
	var card *models.Card
	for _, seg := range resp.Message.Segments {
		if seg.Type == models.SegmentCard {
			card = seg.Card
		}
	}
	require.NotNil(t, card)
	assert.Equal(t, models.CardMatchProposal, card.CardType)

	// Lexical gt "200" keeps 250, 980, and 40 on both sides ("40" sorts
	// after "200" as a string).
	sess, ok := h.store.Get(resp.SessionID)
	require.True(t, ok)
	assert.Len(t, sess.SampleLeft, 3)
	assert.Len(t, sess.SampleRight, 3)
}

func TestTurn_ThreeConfirmationsInferRulesAtomically(t *testing.T) {
	h := newHarness(t)
	resp := driveToDemonstration(t, h)
	id := resp.SessionID

	pair := func(n string) *models.CardResponse {
		return confirmCard("match-"+n,
			map[string]any{"amount": n}, map[string]any{"total": n})
	}

	r1 := h.turn(t, &id, "", pair("1"))
	assert.Equal(t, models.PhaseDemonstration, r1.Phase)
	r2 := h.turn(t, &id, "", pair("2"))
	assert.Equal(t, models.PhaseDemonstration, r2.Phase)

	r3 := h.turn(t, &id, "", pair("3"))
	assert.Equal(t, models.PhaseValidation, r3.Phase)
	require.NotNil(t, r3.RecipeDraft)
	assert.Contains(t, r3.RecipeDraft.MatchSQL, "JOIN")

	// The third pair and the phase advance committed together.
	sess, ok := h.store.Get(id)
	require.True(t, ok)
	assert.Len(t, sess.ConfirmedPairs, 3)
	assert.Equal(t, models.PhaseValidation, sess.Phase)
	require.NotNil(t, sess.RecipeDraft)
}

func TestTurn_ApprovalDispatchesRunAndAdvancesToExecution(t *testing.T) {
	h := newHarness(t)
	resp := driveToDemonstration(t, h)
	id := resp.SessionID

	for _, n := range []string{"1", "2", "3"} {
		h.turn(t, &id, "", confirmCard("match-"+n, map[string]any{"amount": n}, map[string]any{"total": n}))
	}

	approved := h.turn(t, &id, "", &models.CardResponse{CardID: "recipe-approval", Action: "approve"})
	assert.Equal(t, models.PhaseExecution, approved.Phase)

	sess, ok := h.store.Get(id)
	require.True(t, ok)
	assert.True(t, sess.ValidationApproved)

	require.Len(t, h.disp.jobs, 1)
	job := h.disp.jobs[0]
	assert.NotEqual(t, uuid.Nil, job.RunID)
	assert.Equal(t, "http://localhost:3780/api/worker", job.CallbackURL)
	assert.Contains(t, job.MatchSQL, "JOIN")
	require.Len(t, job.Sources, 2)
	assert.Equal(t, "invoices_csv", job.Sources[0].Alias)
	assert.Equal(t, map[string]string{"invoices_csv": "id", "payments_csv": "pid"}, job.PrimaryKeys)
}

func TestTurn_PhaseNeverDecreasesAcrossFlow(t *testing.T) {
	h := newHarness(t)

	first := h.turn(t, nil, "hello", nil)
	id := first.SessionID
	last := first.Phase.Index()

	steps := []TurnRequest{
		{SessionID: &id, Message: "reconcile the invoices csv and payment csv"},
		{SessionID: &id, Message: "continue"},
		{SessionID: &id, CardResponse: confirmCard("match-1", map[string]any{"amount": "1"}, map[string]any{"total": "1"})},
		{SessionID: &id, Message: "what do you have so far?"},
	}
	for _, step := range steps {
		resp, err := h.orch.Turn(context.Background(), step)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, resp.Phase.Index(), last)
		last = resp.Phase.Index()
	}
}

func TestTurn_ModelFailureYieldsApologyAndErrorStatus(t *testing.T) {
	h := newHarness(t)
	first := h.turn(t, nil, "hello", nil)
	h.turn(t, &first.SessionID, "reconcile the invoices csv and payment csv", nil)

	h.mock.CompleteFunc = func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		return "definitely not json", nil
	}

	resp := h.turn(t, &first.SessionID, "only big amounts", nil)
	assert.Equal(t, models.SessionStatusError, resp.Status)
	assert.Equal(t, models.PhaseScoping, resp.Phase)
	assert.Contains(t, resp.Message.Segments[0].Text, "Sorry")

	// The user message survived the failure.
	sess, ok := h.store.Get(resp.SessionID)
	require.True(t, ok)
	userMsg := sess.Messages[len(sess.Messages)-2]
	assert.Equal(t, "only big amounts", userMsg.Segments[0].Text)
}

func TestTurn_UpstreamFailureKeepsSessionUsable(t *testing.T) {
	h := newHarness(t)
	resp := driveToDemonstration(t, h)
	id := resp.SessionID

	for _, n := range []string{"1", "2"} {
		h.turn(t, &id, "", confirmCard("match-"+n, map[string]any{"amount": n}, map[string]any{"total": n}))
	}

	h.mock.CompleteFunc = func(ctx context.Context, req *llm.CompletionRequest) (string, error) {
		return "", apperrors.ErrUpstream
	}
	failed := h.turn(t, &id, "", confirmCard("match-3", map[string]any{"amount": "3"}, map[string]any{"total": "3"}))
	assert.Equal(t, models.SessionStatusError, failed.Status)
	assert.Contains(t, failed.Message.Segments[0].Text, "unreachable")

	// The next turn still works once the model recovers.
	h.mock.CompleteFunc = scriptedComplete
	recovered := h.turn(t, &id, "", confirmCard("match-3", map[string]any{"amount": "3"}, map[string]any{"total": "3"}))
	assert.Equal(t, models.PhaseValidation, recovered.Phase)
}
