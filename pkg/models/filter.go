package models

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/barockok/kalla-engine/pkg/apperrors"
)

// FilterOp is a declarative comparison operator in a filter condition.
type FilterOp string

const (
	OpEq      FilterOp = "eq"
	OpNeq     FilterOp = "neq"
	OpGt      FilterOp = "gt"
	OpGte     FilterOp = "gte"
	OpLt      FilterOp = "lt"
	OpLte     FilterOp = "lte"
	OpBetween FilterOp = "between"
	OpIn      FilterOp = "in"
	OpLike    FilterOp = "like"
)

var knownOps = map[FilterOp]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true,
	OpLte: true, OpBetween: true, OpIn: true, OpLike: true,
}

// FilterValueKind tags the variant held by a FilterValue.
type FilterValueKind int

const (
	ValueString FilterValueKind = iota
	ValueNumber
	ValueList
)

// FilterValue is the untagged value of a filter condition: a string, a
// number, or a list of strings (a 2-element list for between, any length
// for in). LLM output is loosely typed, so decoding is tolerant: numbers
// inside lists are coerced to their string form.
type FilterValue struct {
	Kind FilterValueKind
	Str  string
	Num  float64
	List []string
}

// UnmarshalJSON accepts "v", 12.5, or ["a","b",...].
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = FilterValue{Kind: ValueString, Str: s}
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = FilterValue{Kind: ValueNumber, Num: n}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		list := make([]string, len(raw))
		for i, item := range raw {
			var is string
			if err := json.Unmarshal(item, &is); err == nil {
				list[i] = is
				continue
			}
			var in float64
			if err := json.Unmarshal(item, &in); err == nil {
				list[i] = formatNumber(in)
				continue
			}
			return fmt.Errorf("filter value list element %d is neither string nor number", i)
		}
		*v = FilterValue{Kind: ValueList, List: list}
		return nil
	}
	return fmt.Errorf("filter value must be a string, number, or string array")
}

// MarshalJSON renders the variant back in its original shape.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueList:
		return json.Marshal(v.List)
	default:
		return json.Marshal(v.Str)
	}
}

// AsString renders a scalar value as its string form. Numbers drop a
// trailing ".0" so "500" and 500 compare identically downstream.
func (v FilterValue) AsString() string {
	if v.Kind == ValueNumber {
		return formatNumber(v.Num)
	}
	return v.Str
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// FilterCondition is one declarative predicate over a source column.
type FilterCondition struct {
	Column string      `json:"column"`
	Op     FilterOp    `json:"op"`
	Value  FilterValue `json:"value"`
}

// Validate rejects unknown operators and operator/value arity mismatches
// before any query is constructed.
func (c FilterCondition) Validate() error {
	if c.Column == "" {
		return fmt.Errorf("%w: filter condition is missing a column", apperrors.ErrValidation)
	}
	if !knownOps[c.Op] {
		return fmt.Errorf("%w: unknown filter operator %q", apperrors.ErrValidation, c.Op)
	}
	switch c.Op {
	case OpBetween:
		if c.Value.Kind != ValueList || len(c.Value.List) != 2 {
			return fmt.Errorf("%w: between requires exactly two values for column %q", apperrors.ErrValidation, c.Column)
		}
	case OpIn:
		if c.Value.Kind != ValueList {
			return fmt.Errorf("%w: in requires an array of values for column %q", apperrors.ErrValidation, c.Column)
		}
		if len(c.Value.List) == 0 {
			return fmt.Errorf("%w: in requires at least one value for column %q", apperrors.ErrValidation, c.Column)
		}
	default:
		if c.Value.Kind == ValueList {
			return fmt.Errorf("%w: operator %q takes a scalar value for column %q", apperrors.ErrValidation, c.Op, c.Column)
		}
	}
	return nil
}
