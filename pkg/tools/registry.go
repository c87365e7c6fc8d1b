package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/barockok/kalla-engine/pkg/apperrors"
)

// invokeFunc decodes a raw input payload and runs one tool.
type invokeFunc func(ctx context.Context, raw json.RawMessage) (any, error)

// Registry dispatches invoke-envelope calls to tools by name.
type Registry struct {
	byName map[string]invokeFunc
}

// NewRegistry exposes every tool in the set on the invoke surface.
func NewRegistry(ts *Toolset) *Registry {
	return &Registry{byName: map[string]invokeFunc{
		ToolDetectFieldMappings: invoke(ts.DetectFieldMappings),
		ToolParseNLFilter:       invoke(ts.ParseNLFilter),
		ToolInferMatchRules:     invoke(ts.InferMatchRules),
		ToolBuildRecipeSQL:      invoke(ts.BuildRecipeSQL),
		ToolNLToSQL:             invoke(ts.NLToSQL),
		ToolPreviewMatch:        invoke(ts.PreviewMatch),
	}}
}

// Invoke runs the named tool against a raw JSON input.
func (r *Registry) Invoke(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	fn, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", apperrors.ErrNotFound, name)
	}
	return fn(ctx, raw)
}

// Names lists the registered tool names sorted lexically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func invoke[In, Out any](fn func(context.Context, In) (Out, error)) invokeFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var input In
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, fmt.Errorf("%w: malformed tool input: %v", apperrors.ErrValidation, err)
		}
		return fn(ctx, input)
	}
}
