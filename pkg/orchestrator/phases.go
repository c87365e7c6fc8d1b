package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/scoped"
	"github.com/barockok/kalla-engine/pkg/session"
	"github.com/barockok/kalla-engine/pkg/tools"
)

// runPhase dispatches to the logic for the session's current phase.
func (o *Orchestrator) runPhase(ctx context.Context, sess *models.Session, req TurnRequest) (*phaseResult, error) {
	switch sess.Phase {
	case models.PhaseGreeting:
		return o.greetingPhase(sess)
	case models.PhaseIntent:
		return o.intentPhase(ctx, sess, req)
	case models.PhaseScoping:
		return o.scopingPhase(ctx, sess, req)
	case models.PhaseDemonstration:
		return o.demonstrationPhase(ctx, sess, req)
	case models.PhaseInference:
		return o.inferencePhase(ctx, sess)
	case models.PhaseValidation:
		return o.validationPhase(ctx, sess, req)
	case models.PhaseExecution:
		return o.executionPhase(sess)
	default:
		return nil, fmt.Errorf("%w: session %s is in unknown phase %q", apperrors.ErrValidation, sess.ID, sess.Phase)
	}
}

// greetingPhase welcomes the user and moves straight to intent capture.
func (o *Orchestrator) greetingPhase(sess *models.Session) (*phaseResult, error) {
	aliases := o.registry.Aliases()
	text := "Hi! I help you reconcile two data sources. Tell me which two you want to match"
	if len(aliases) > 0 {
		text += " (registered: " + strings.Join(aliases, ", ") + ")"
	}
	text += "."

	return &phaseResult{
		segments: []models.Segment{models.NewTextSegment(text)},
		proposal: phasePtr(models.PhaseIntent),
	}, nil
}

// intentPhase tries to resolve the two source aliases from the turn text.
// Both confirmed together with their schemas and samples, then scoping.
func (o *Orchestrator) intentPhase(ctx context.Context, sess *models.Session, req TurnRequest) (*phaseResult, error) {
	found := resolveAliases(req.Message, o.registry.Aliases())
	if len(found) < 2 {
		return &phaseResult{
			segments: []models.Segment{models.NewTextSegment(
				"I need two registered sources to reconcile. Which should be the left and right side? Registered: " +
					strings.Join(o.registry.Aliases(), ", ") + ".")},
		}, nil
	}
	left, right := found[0], found[1]

	leftRes, err := o.loadPreview(ctx, left)
	if err != nil {
		return nil, err
	}
	rightRes, err := o.loadPreview(ctx, right)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Sources resolved",
		zap.String("session_id", sess.ID.String()),
		zap.String("left", left),
		zap.String("right", right))

	text := fmt.Sprintf(
		"Great, I'll reconcile %q (left, %d columns) against %q (right, %d columns). "+
			"You can narrow the data down first, e.g. by date or amount, or just say \"continue\".",
		left, len(leftRes.Columns), right, len(rightRes.Columns))

	// Mapping detection is advisory context for the later tools; a model
	// hiccup here should not block the flow.
	mappings := o.detectMappings(ctx, sess, leftRes, rightRes)
	if len(mappings) > 0 {
		text += fmt.Sprintf(" I already spotted %d likely column pairing(s) between them.", len(mappings))
	}

	return &phaseResult{
		segments: []models.Segment{models.NewTextSegment(text)},
		proposal: phasePtr(models.PhaseScoping),
		updates: session.Update{
			LeftSourceAlias:  &left,
			RightSourceAlias: &right,
			SchemaLeft:       leftRes.Columns,
			SchemaRight:      rightRes.Columns,
			SampleLeft:       leftRes.Rows,
			SampleRight:      rightRes.Rows,
			FieldMappings:    mappings,
		},
	}, nil
}

// detectMappings proposes column correspondences for the freshly
// resolved sources. Failures are logged and yield no mappings.
func (o *Orchestrator) detectMappings(ctx context.Context, sess *models.Session, left, right *models.ScopedResult) []models.FieldMapping {
	out, err := o.toolset.DetectFieldMappings(ctx, tools.DetectFieldMappingsInput{
		Left:  tools.SourceContext{Alias: left.Alias, Columns: left.Columns, SampleRows: left.Rows},
		Right: tools.SourceContext{Alias: right.Alias, Columns: right.Columns, SampleRows: right.Rows},
	})
	if err != nil {
		o.logger.Warn("Field mapping detection failed",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
		return nil
	}

	mappings := make([]models.FieldMapping, len(out.Mappings))
	for i, suggestion := range out.Mappings {
		mappings[i] = suggestion.Mapping()
	}
	return mappings
}

// scopingPhase narrows both sources with an NL filter, then proposes the
// first candidate pair and moves to demonstration.
func (o *Orchestrator) scopingPhase(ctx context.Context, sess *models.Session, req TurnRequest) (*phaseResult, error) {
	updates := session.Update{}

	if req.Message != "" && !isContinue(req.Message) {
		parsed, err := o.toolset.ParseNLFilter(ctx, tools.ParseNLFilterInput{
			Query:    req.Message,
			Left:     sourceContext(sess.LeftSourceAlias, sess.SchemaLeft, sess.SampleLeft),
			Right:    sourceContext(sess.RightSourceAlias, sess.SchemaRight, sess.SampleRight),
			Mappings: sess.FieldMappings,
		})
		if err != nil {
			return nil, err
		}

		leftRes, err := o.loadScoped(ctx, sess.LeftSourceAlias, parsed.LeftFilters)
		if err != nil {
			return nil, err
		}
		rightRes, err := o.loadScoped(ctx, sess.RightSourceAlias, parsed.RightFilters)
		if err != nil {
			return nil, err
		}
		updates.SampleLeft = leftRes.Rows
		updates.SampleRight = rightRes.Rows
		sess = sess.Clone()
		sess.SampleLeft = leftRes.Rows
		sess.SampleRight = rightRes.Rows
	}

	card, ok := candidatePairCard(sess, len(sess.ConfirmedPairs))
	if !ok {
		return &phaseResult{
			segments: []models.Segment{models.NewTextSegment(
				"The current scope has no rows to demonstrate with. Try a broader filter.")},
			updates: updates,
		}, nil
	}

	return &phaseResult{
		segments: []models.Segment{
			models.NewTextSegment("Now show me a few matches. Does this pair belong together?"),
			card,
		},
		proposal: phasePtr(models.PhaseDemonstration),
		updates:  updates,
	}, nil
}

// demonstrationPhase collects confirmed pairs from match-card actions.
// Once enough evidence exists it runs rule inference and recipe assembly
// and proposes validation.
func (o *Orchestrator) demonstrationPhase(ctx context.Context, sess *models.Session, req TurnRequest) (*phaseResult, error) {
	confirmed := len(sess.ConfirmedPairs)
	updates := session.Update{}

	if req.CardResponse != nil && req.CardResponse.Action == "confirm" {
		pair, err := pairFromCardValue(req.CardResponse.Value)
		if err != nil {
			return nil, err
		}
		updates.ConfirmedPair = pair
		confirmed++
	}

	if confirmed < evidenceThreshold {
		card, ok := candidatePairCard(sess, confirmed)
		if !ok {
			return &phaseResult{
				segments: []models.Segment{models.NewTextSegment(fmt.Sprintf(
					"I have %d confirmed pair(s) and no more candidates to show. "+
						"Describe a matching rule in words instead.", confirmed))},
				updates: updates,
			}, nil
		}
		return &phaseResult{
			segments: []models.Segment{
				models.NewTextSegment(fmt.Sprintf("Got it, %d of %d examples. How about this pair?", confirmed, evidenceThreshold)),
				card,
			},
			updates: updates,
		}, nil
	}

	pairs := sess.ConfirmedPairs
	if updates.ConfirmedPair != nil {
		pairs = append(append([]models.EvidencePair{}, pairs...), *updates.ConfirmedPair)
	}

	inferred, err := o.toolset.InferMatchRules(ctx, tools.InferMatchRulesInput{
		Left:           sourceContext(sess.LeftSourceAlias, sess.SchemaLeft, sess.SampleLeft),
		Right:          sourceContext(sess.RightSourceAlias, sess.SchemaRight, sess.SampleRight),
		ConfirmedPairs: pairs,
		Mappings:       sess.FieldMappings,
	})
	if err != nil {
		return nil, err
	}

	draft, err := o.toolset.BuildRecipeSQL(ctx, tools.BuildRecipeSQLInput{
		Left:  sourceContext(sess.LeftSourceAlias, sess.SchemaLeft, sess.SampleLeft),
		Right: sourceContext(sess.RightSourceAlias, sess.SchemaRight, sess.SampleRight),
		Rules: inferred.Rules,
	})
	if err != nil {
		return nil, err
	}
	draft.PrimaryKeys = map[string]string{
		sess.LeftSourceAlias:  inferred.PrimaryKeyLeft,
		sess.RightSourceAlias: inferred.PrimaryKeyRight,
	}
	updates.RecipeDraft = &draft

	ruleLines := make([]string, len(inferred.Rules))
	for i, rule := range inferred.Rules {
		ruleLines[i] = fmt.Sprintf("- %s (confidence %.2f): %s", rule.Name, rule.Confidence, rule.Description)
	}

	return &phaseResult{
		segments: []models.Segment{
			models.NewTextSegment(fmt.Sprintf(
				"Based on your examples this looks like a %s relationship. I inferred:\n%s\n\n%s",
				inferred.Relationship, strings.Join(ruleLines, "\n"), draft.Explanation)),
			models.NewCardSegment(models.CardMatchProposal, "recipe-approval", map[string]any{
				"match_sql":   draft.MatchSQL,
				"explanation": draft.Explanation,
			}),
			models.NewTextSegment("Approve the recipe to run the full reconciliation."),
		},
		proposal: phasePtr(models.PhaseValidation),
		updates:  updates,
	}, nil
}

// inferencePhase re-runs inference for sessions parked in this phase.
func (o *Orchestrator) inferencePhase(ctx context.Context, sess *models.Session) (*phaseResult, error) {
	if len(sess.ConfirmedPairs) == 0 {
		return &phaseResult{
			segments: []models.Segment{models.NewTextSegment(
				"I need at least one confirmed example pair before inferring rules.")},
		}, nil
	}
	return o.demonstrationPhase(ctx, sess, TurnRequest{})
}

// validationPhase waits for the approval card action, then dispatches the
// batch run and moves to execution.
func (o *Orchestrator) validationPhase(ctx context.Context, sess *models.Session, req TurnRequest) (*phaseResult, error) {
	if sess.RecipeDraft == nil {
		return nil, fmt.Errorf("%w: session %s reached validation without a recipe draft", apperrors.ErrValidation, sess.ID)
	}

	if req.CardResponse == nil || req.CardResponse.Action != "approve" {
		return &phaseResult{
			segments: []models.Segment{models.NewTextSegment(
				"Take your time reviewing the recipe. Approve it when you are ready, or tell me what to change.")},
		}, nil
	}

	approved := true
	updates := session.Update{ValidationApproved: &approved}

	runID := uuid.New()
	segments := []models.Segment{models.NewTextSegment("Recipe approved.")}

	if o.dispatcher != nil {
		job := models.MatchJob{
			RunID:       runID,
			CallbackURL: o.callbackBase,
			MatchSQL:    sess.RecipeDraft.MatchSQL,
			Sources:     o.jobSources(sess),
			OutputPath:  o.outputPath,
			PrimaryKeys: sess.RecipeDraft.PrimaryKeys,
		}
		if err := o.dispatcher.Dispatch(ctx, job); err != nil {
			return nil, err
		}
		o.runs.Bind(runID, sess.ID)

		segments = append(segments,
			models.NewTextSegment("The full reconciliation is running; I'll post progress here."),
			models.NewCardSegment(models.CardProgress, "run-"+runID.String(), map[string]any{
				"run_id": runID.String(),
				"stage":  "dispatched",
			}))
	} else {
		segments = append(segments, models.NewTextSegment(
			"No batch worker is configured, so the recipe is saved but not executed."))
	}

	return &phaseResult{
		segments: segments,
		proposal: phasePtr(models.PhaseExecution),
		updates:  updates,
	}, nil
}

// executionPhase reports that the run is underway; results arrive via
// worker callbacks.
func (o *Orchestrator) executionPhase(sess *models.Session) (*phaseResult, error) {
	return &phaseResult{
		segments: []models.Segment{models.NewTextSegment(
			"The reconciliation is running. I'll post a summary card here as soon as the worker reports back.")},
	}, nil
}

func (o *Orchestrator) loadPreview(ctx context.Context, alias string) (*models.ScopedResult, error) {
	return o.loadScoped(ctx, alias, nil)
}

func (o *Orchestrator) loadScoped(ctx context.Context, alias string, filters []models.FilterCondition) (*models.ScopedResult, error) {
	src, ok := o.registry.Get(alias)
	if !ok {
		return nil, fmt.Errorf("%w: source %q", apperrors.ErrNotFound, alias)
	}
	return o.translator.LoadScoped(ctx, src, scoped.LoadOptions{Filters: filters})
}

func (o *Orchestrator) jobSources(sess *models.Session) []models.JobSource {
	var out []models.JobSource
	for _, alias := range []string{sess.LeftSourceAlias, sess.RightSourceAlias} {
		if src, ok := o.registry.Get(alias); ok {
			out = append(out, models.JobSource{Alias: src.Alias, URI: src.URI})
		}
	}
	return out
}

// sourceContext packages the session's view of one source for a tool.
func sourceContext(alias string, columns []models.ColumnInfo, samples [][]string) tools.SourceContext {
	return tools.SourceContext{Alias: alias, Columns: columns, SampleRows: samples}
}

// candidatePairCard builds a match proposal card from the idx-th sample
// row on each side, or reports that no candidate is available.
func candidatePairCard(sess *models.Session, idx int) (models.Segment, bool) {
	if idx >= len(sess.SampleLeft) || idx >= len(sess.SampleRight) {
		return models.Segment{}, false
	}

	left := zipRecord(sess.SchemaLeft, sess.SampleLeft[idx])
	right := zipRecord(sess.SchemaRight, sess.SampleRight[idx])
	return models.NewCardSegment(models.CardMatchProposal, fmt.Sprintf("match-%d", idx+1), map[string]any{
		"left":  left,
		"right": right,
	}), true
}

func zipRecord(columns []models.ColumnInfo, row []string) map[string]string {
	record := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(row) {
			record[col.Name] = row[i]
		}
	}
	return record
}

// pairFromCardValue decodes the {left, right} object echoed back by a
// confirmed match card.
func pairFromCardValue(value any) (*models.EvidencePair, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: match confirmation needs a value with left and right records", apperrors.ErrValidation)
	}

	left, err := recordFromAny(obj["left"])
	if err != nil {
		return nil, err
	}
	right, err := recordFromAny(obj["right"])
	if err != nil {
		return nil, err
	}
	return &models.EvidencePair{Left: left, Right: right}, nil
}

func recordFromAny(value any) (map[string]string, error) {
	switch typed := value.(type) {
	case map[string]string:
		return typed, nil
	case map[string]any:
		record := make(map[string]string, len(typed))
		for k, v := range typed {
			record[k] = fmt.Sprintf("%v", v)
		}
		return record, nil
	default:
		return nil, fmt.Errorf("%w: match confirmation record must be an object of column values", apperrors.ErrValidation)
	}
}

func isContinue(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "continue", "skip", "no filter", "no", "go on", "next":
		return true
	}
	return false
}
