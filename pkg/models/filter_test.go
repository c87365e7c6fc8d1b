package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barockok/kalla-engine/pkg/apperrors"
)

func TestFilterValue_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want FilterValue
	}{
		{"string", `"pending"`, FilterValue{Kind: ValueString, Str: "pending"}},
		{"number", `500`, FilterValue{Kind: ValueNumber, Num: 500}},
		{"decimal", `12.5`, FilterValue{Kind: ValueNumber, Num: 12.5}},
		{"string list", `["a", "b"]`, FilterValue{Kind: ValueList, List: []string{"a", "b"}}},
		{"mixed list coerces numbers", `["100", 250]`, FilterValue{Kind: ValueList, List: []string{"100", "250"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FilterValue
			require.NoError(t, json.Unmarshal([]byte(tt.data), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterValue_UnmarshalJSON_Rejects(t *testing.T) {
	var v FilterValue
	assert.Error(t, json.Unmarshal([]byte(`{"nope": 1}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`[["nested"]]`), &v))
}

func TestFilterValue_AsString(t *testing.T) {
	assert.Equal(t, "pending", FilterValue{Kind: ValueString, Str: "pending"}.AsString())
	// 500.0 renders without a trailing ".0" so it compares like the string form.
	assert.Equal(t, "500", FilterValue{Kind: ValueNumber, Num: 500}.AsString())
	assert.Equal(t, "12.5", FilterValue{Kind: ValueNumber, Num: 12.5}.AsString())
}

func TestFilterCondition_Validate(t *testing.T) {
	scalar := FilterValue{Kind: ValueString, Str: "x"}
	pair := FilterValue{Kind: ValueList, List: []string{"1", "2"}}

	tests := []struct {
		name    string
		cond    FilterCondition
		wantErr bool
	}{
		{"eq scalar ok", FilterCondition{Column: "amount", Op: OpEq, Value: scalar}, false},
		{"between two values ok", FilterCondition{Column: "amount", Op: OpBetween, Value: pair}, false},
		{"in list ok", FilterCondition{Column: "status", Op: OpIn, Value: pair}, false},
		{"like scalar ok", FilterCondition{Column: "memo", Op: OpLike, Value: scalar}, false},
		{"missing column", FilterCondition{Op: OpEq, Value: scalar}, true},
		{"unknown operator", FilterCondition{Column: "amount", Op: "matches", Value: scalar}, true},
		{"between one value", FilterCondition{Column: "amount", Op: OpBetween, Value: FilterValue{Kind: ValueList, List: []string{"1"}}}, true},
		{"between scalar", FilterCondition{Column: "amount", Op: OpBetween, Value: scalar}, true},
		{"in empty list", FilterCondition{Column: "status", Op: OpIn, Value: FilterValue{Kind: ValueList, List: []string{}}}, true},
		{"in scalar", FilterCondition{Column: "status", Op: OpIn, Value: scalar}, true},
		{"eq list", FilterCondition{Column: "amount", Op: OpEq, Value: pair}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterCondition_RoundTrip(t *testing.T) {
	in := `{"column": "amount", "op": "between", "value": [100, "250"]}`
	var cond FilterCondition
	require.NoError(t, json.Unmarshal([]byte(in), &cond))
	require.NoError(t, cond.Validate())

	out, err := json.Marshal(cond)
	require.NoError(t, err)
	assert.JSONEq(t, `{"column": "amount", "op": "between", "value": ["100", "250"]}`, string(out))
}
