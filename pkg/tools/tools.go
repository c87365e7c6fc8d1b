// Package tools holds the stateless transforms the orchestrator composes:
// each tool validates its input, builds a deterministic context message,
// and delegates to the structured completion client.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/llm"
	"github.com/barockok/kalla-engine/pkg/models"
)

// Tool names as exposed on the invoke surface.
const (
	ToolDetectFieldMappings = "detect_field_mappings"
	ToolParseNLFilter       = "parse_nl_filter"
	ToolInferMatchRules     = "infer_match_rules"
	ToolBuildRecipeSQL      = "build_recipe_sql"
	ToolNLToSQL             = "nl_to_sql"
	ToolPreviewMatch        = "preview_match"
)

// Toolset bundles the six tools around one structured client. Tools are
// pure with respect to their inputs: no session state is read or written
// here.
type Toolset struct {
	structured *llm.StructuredClient
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewToolset creates the tool layer.
func NewToolset(structured *llm.StructuredClient, logger *zap.Logger) *Toolset {
	return &Toolset{
		structured: structured,
		validate:   validator.New(),
		logger:     logger.Named("tools"),
	}
}

// checkInput validates a tool input against its schema before any model
// call happens.
func (t *Toolset) checkInput(toolName string, input any) error {
	if err := t.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %s input: %v", apperrors.ErrValidation, toolName, err)
	}
	return nil
}

// ---- detect_field_mappings ----

const detectFieldMappingsInstructions = `You compare the schemas of two data sources and propose column-level correspondences.
Respond with a JSON object of this shape:
{"mappings": [{"field_a": "<column from the first source>", "field_b": "<column from the second source>", "confidence": <0..1>, "reason": "<short justification>", "suggested_filter_type": "<date_range|amount_range|exact|none>"}]}
Only propose pairs you have evidence for. Use the sample rows to judge value shapes.`

// MappingSuggestion is one proposed correspondence plus the filter type a
// user would most likely scope it with.
type MappingSuggestion struct {
	FieldA              string  `json:"field_a" validate:"required"`
	FieldB              string  `json:"field_b" validate:"required"`
	Confidence          float64 `json:"confidence" validate:"gte=0,lte=1"`
	Reason              string  `json:"reason"`
	SuggestedFilterType string  `json:"suggested_filter_type"`
}

// Mapping converts the suggestion into the session-level mapping type.
func (m MappingSuggestion) Mapping() models.FieldMapping {
	return models.FieldMapping{FieldA: m.FieldA, FieldB: m.FieldB, Confidence: m.Confidence, Reason: m.Reason}
}

type DetectFieldMappingsInput struct {
	Left  SourceContext `json:"left" validate:"required"`
	Right SourceContext `json:"right" validate:"required"`
}

type DetectFieldMappingsOutput struct {
	Mappings []MappingSuggestion `json:"mappings" validate:"required,min=1,dive"`
}

// DetectFieldMappings proposes column correspondences between the two
// sources.
func (t *Toolset) DetectFieldMappings(ctx context.Context, input DetectFieldMappingsInput) (DetectFieldMappingsOutput, error) {
	if err := t.checkInput(ToolDetectFieldMappings, input); err != nil {
		return DetectFieldMappingsOutput{}, err
	}
	userContext := buildContext([]SourceContext{input.Left, input.Right}, nil, mappingSampleCap)
	return llm.CallStructured[DetectFieldMappingsOutput](ctx, t.structured, detectFieldMappingsInstructions, userContext)
}

// ---- parse_nl_filter ----

const parseNLFilterInstructions = `You translate a natural-language filter description into structured filter conditions for two data sources.
Respond with a JSON object of this shape:
{"left_filters": [{"column": "<column>", "op": "<eq|neq|gt|gte|lt|lte|between|in|like>", "value": <string, number, or array of strings>}], "right_filters": [...]}
When a filtered column is mapped to a column on the other source, propagate the filter to both sides using the mapped column names.
between takes exactly two values; in takes a non-empty array.`

type ParseNLFilterInput struct {
	Query    string                `json:"query" validate:"required"`
	Left     SourceContext         `json:"left" validate:"required"`
	Right    SourceContext         `json:"right" validate:"required"`
	Mappings []models.FieldMapping `json:"mappings,omitempty"`
}

type ParseNLFilterOutput struct {
	LeftFilters  []models.FilterCondition `json:"left_filters"`
	RightFilters []models.FilterCondition `json:"right_filters"`
}

// ParseNLFilter turns a free-text filter description into per-source
// conditions. Each condition is arity-checked before it is returned.
func (t *Toolset) ParseNLFilter(ctx context.Context, input ParseNLFilterInput) (ParseNLFilterOutput, error) {
	if err := t.checkInput(ToolParseNLFilter, input); err != nil {
		return ParseNLFilterOutput{}, err
	}

	userContext := buildContext([]SourceContext{input.Left, input.Right}, input.Mappings, mappingSampleCap)
	userContext += "\nFilter description: " + input.Query

	out, err := llm.CallStructured[ParseNLFilterOutput](ctx, t.structured, parseNLFilterInstructions, userContext)
	if err != nil {
		return ParseNLFilterOutput{}, err
	}
	for _, cond := range append(append([]models.FilterCondition{}, out.LeftFilters...), out.RightFilters...) {
		if err := cond.Validate(); err != nil {
			return ParseNLFilterOutput{}, llm.NewModelOutputError(fmt.Sprintf("filter condition invalid: %v", err), cond.Column)
		}
	}
	return out, nil
}

// ---- infer_match_rules ----

const inferMatchRulesInstructions = `You study confirmed example matches between two data sources and infer the matching rules behind them.
Respond with a JSON object of this shape:
{"relationship": "<1:1|1:N|N:M>", "primary_key_left": "<column>", "primary_key_right": "<column>", "rules": [{"name": "<short name>", "sql": "<boolean SQL expression over left and right columns>", "description": "<what the rule checks>", "confidence": <0..1>, "evidence": [{"<column>": "<value>"}]}]}
Prefer exact-equality rules; propose a tolerance rule only when the confirmed pairs show consistent small differences.`

type InferMatchRulesInput struct {
	Left           SourceContext         `json:"left" validate:"required"`
	Right          SourceContext         `json:"right" validate:"required"`
	ConfirmedPairs []models.EvidencePair `json:"confirmed_pairs" validate:"required,min=1"`
	Mappings       []models.FieldMapping `json:"mappings,omitempty"`
}

type InferMatchRulesOutput struct {
	Relationship    string                `json:"relationship" validate:"required,oneof=1:1 1:N N:M"`
	PrimaryKeyLeft  string                `json:"primary_key_left" validate:"required"`
	PrimaryKeyRight string                `json:"primary_key_right" validate:"required"`
	Rules           []models.InferredRule `json:"rules" validate:"required,min=1,dive"`
}

// InferMatchRules derives the relationship pattern, primary keys, and
// candidate matching rules from the confirmed pairs.
func (t *Toolset) InferMatchRules(ctx context.Context, input InferMatchRulesInput) (InferMatchRulesOutput, error) {
	if err := t.checkInput(ToolInferMatchRules, input); err != nil {
		return InferMatchRulesOutput{}, err
	}

	userContext := buildContext([]SourceContext{input.Left, input.Right}, input.Mappings, inferenceSampleCap)
	userContext += "\nConfirmed matching pairs:\n" + renderPairs(input.ConfirmedPairs)

	return llm.CallStructured[InferMatchRulesOutput](ctx, t.structured, inferMatchRulesInstructions, userContext)
}

// ---- build_recipe_sql ----

const buildRecipeSQLInstructions = `You assemble accepted matching rules into one complete match query joining the two sources.
Respond with a JSON object of this shape:
{"match_sql": "<one SELECT statement joining the two sources on the combined rule predicate>", "explanation": "<plain-language description of how records are matched>"}`

type BuildRecipeSQLInput struct {
	Left  SourceContext         `json:"left" validate:"required"`
	Right SourceContext         `json:"right" validate:"required"`
	Rules []models.InferredRule `json:"rules" validate:"required,min=1,dive"`
}

// BuildRecipeSQL combines the accepted rules into a single recipe draft.
func (t *Toolset) BuildRecipeSQL(ctx context.Context, input BuildRecipeSQLInput) (models.RecipeDraft, error) {
	if err := t.checkInput(ToolBuildRecipeSQL, input); err != nil {
		return models.RecipeDraft{}, err
	}

	userContext := buildContext([]SourceContext{input.Left, input.Right}, nil, mappingSampleCap)
	userContext += "\nAccepted rules:\n"
	for _, rule := range input.Rules {
		userContext += fmt.Sprintf("  %s: %s\n", rule.Name, rule.SQL)
	}

	return llm.CallStructured[models.RecipeDraft](ctx, t.structured, buildRecipeSQLInstructions, userContext)
}

// ---- nl_to_sql ----

const nlToSQLInstructions = `You convert one natural-language matching rule into a single boolean SQL expression over the two sources' columns.
Respond with a JSON object of this shape:
{"sql": "<boolean expression>", "explanation": "<short description>"}`

type NLToSQLInput struct {
	Rule  string        `json:"rule" validate:"required"`
	Left  SourceContext `json:"left" validate:"required"`
	Right SourceContext `json:"right" validate:"required"`
}

type NLToSQLOutput struct {
	SQL         string `json:"sql" validate:"required"`
	Explanation string `json:"explanation"`
}

// NLToSQL converts a single free-text rule into one query expression.
func (t *Toolset) NLToSQL(ctx context.Context, input NLToSQLInput) (NLToSQLOutput, error) {
	if err := t.checkInput(ToolNLToSQL, input); err != nil {
		return NLToSQLOutput{}, err
	}

	userContext := buildContext([]SourceContext{input.Left, input.Right}, nil, mappingSampleCap)
	userContext += "\nRule: " + input.Rule

	return llm.CallStructured[NLToSQLOutput](ctx, t.structured, nlToSQLInstructions, userContext)
}

// ---- preview_match ----

const previewMatchInstructions = `You simulate a match query against the sample rows of two data sources.
Respond with a JSON object of this shape:
{"matched_count": <int>, "partial_count": <int>, "unmatched_count": <int>, "examples": [{"outcome": "<matched|partial|unmatched>", "left": {"<column>": "<value>"}, "right": {"<column>": "<value>"}}], "summary": "<one-paragraph description of the preview outcome>"}
Evaluate the query logically over the sample rows only; do not invent rows.`

// MatchExample is one illustrative outcome from the simulated preview.
type MatchExample struct {
	Outcome string            `json:"outcome" validate:"required,oneof=matched partial unmatched"`
	Left    map[string]string `json:"left,omitempty"`
	Right   map[string]string `json:"right,omitempty"`
}

type PreviewMatchInput struct {
	MatchSQL string        `json:"match_sql" validate:"required"`
	Left     SourceContext `json:"left" validate:"required"`
	Right    SourceContext `json:"right" validate:"required"`
}

type PreviewMatchOutput struct {
	MatchedCount   int            `json:"matched_count" validate:"gte=0"`
	PartialCount   int            `json:"partial_count" validate:"gte=0"`
	UnmatchedCount int            `json:"unmatched_count" validate:"gte=0"`
	Examples       []MatchExample `json:"examples" validate:"dive"`
	Summary        string         `json:"summary" validate:"required"`
}

// PreviewMatch simulates the recipe against sample rows.
func (t *Toolset) PreviewMatch(ctx context.Context, input PreviewMatchInput) (PreviewMatchOutput, error) {
	if err := t.checkInput(ToolPreviewMatch, input); err != nil {
		return PreviewMatchOutput{}, err
	}

	userContext := buildContext([]SourceContext{input.Left, input.Right}, nil, inferenceSampleCap)
	userContext += "\nMatch query:\n" + input.MatchSQL

	return llm.CallStructured[PreviewMatchOutput](ctx, t.structured, previewMatchInstructions, userContext)
}

func renderPairs(pairs []models.EvidencePair) string {
	out := ""
	for i, pair := range pairs {
		out += fmt.Sprintf("  pair %d left: %s\n", i+1, renderRecord(pair.Left))
		out += fmt.Sprintf("  pair %d right: %s\n", i+1, renderRecord(pair.Right))
	}
	return out
}

func renderRecord(record map[string]string) string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, record[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
