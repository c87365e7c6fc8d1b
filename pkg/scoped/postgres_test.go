package scoped

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
)

var invoiceColumns = []models.ColumnInfo{
	{Name: "id", DataType: "integer"},
	{Name: "amount", DataType: "numeric"},
	{Name: "status", DataType: "text", Nullable: true},
}

func TestBuildScopedQueries_NoFilters(t *testing.T) {
	countSQL, selectSQL, args, err := buildScopedQueries("invoices", invoiceColumns, nil, 200)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "invoices"`, countSQL)
	assert.Equal(t, `SELECT "id"::text, "amount"::text, "status"::text FROM "invoices" LIMIT $1`, selectSQL)
	assert.Empty(t, args)
}

func TestBuildScopedQueries_ScalarOps(t *testing.T) {
	filters := []models.FilterCondition{
		{Column: "amount", Op: models.OpGt, Value: models.FilterValue{Kind: models.ValueNumber, Num: 500}},
		{Column: "status", Op: models.OpEq, Value: models.FilterValue{Kind: models.ValueString, Str: "open"}},
	}

	countSQL, selectSQL, args, err := buildScopedQueries("invoices", invoiceColumns, filters, 100)
	require.NoError(t, err)
	assert.Contains(t, countSQL, `WHERE "amount"::text > $1 AND "status"::text = $2`)
	assert.Contains(t, selectSQL, `WHERE "amount"::text > $1 AND "status"::text = $2`)
	assert.Contains(t, selectSQL, "LIMIT $3")
	assert.Equal(t, []any{"500", "open"}, args)
}

func TestBuildScopedQueries_BetweenAndIn(t *testing.T) {
	filters := []models.FilterCondition{
		{Column: "amount", Op: models.OpBetween, Value: models.FilterValue{Kind: models.ValueList, List: []string{"100", "900"}}},
		{Column: "status", Op: models.OpIn, Value: models.FilterValue{Kind: models.ValueList, List: []string{"open", "paid", "void"}}},
	}

	_, selectSQL, args, err := buildScopedQueries("invoices", invoiceColumns, filters, 100)
	require.NoError(t, err)
	assert.Contains(t, selectSQL, `"amount"::text BETWEEN $1 AND $2`)
	assert.Contains(t, selectSQL, `"status"::text IN ($3, $4, $5)`)
	assert.Contains(t, selectSQL, "LIMIT $6")
	assert.Equal(t, []any{"100", "900", "open", "paid", "void"}, args)
}

func TestBuildScopedQueries_LikeUsesILike(t *testing.T) {
	filters := []models.FilterCondition{
		{Column: "status", Op: models.OpLike, Value: models.FilterValue{Kind: models.ValueString, Str: "%inv%"}},
	}

	_, selectSQL, args, err := buildScopedQueries("invoices", invoiceColumns, filters, 50)
	require.NoError(t, err)
	assert.Contains(t, selectSQL, `"status"::text ILIKE $1`)
	assert.Equal(t, []any{"%inv%"}, args)
}

func TestBuildScopedQueries_UnknownColumnFailsWholeQuery(t *testing.T) {
	filters := []models.FilterCondition{
		{Column: "amount", Op: models.OpGt, Value: models.FilterValue{Kind: models.ValueString, Str: "1"}},
		{Column: "nope", Op: models.OpEq, Value: models.FilterValue{Kind: models.ValueString, Str: "x"}},
	}

	_, _, _, err := buildScopedQueries("invoices", invoiceColumns, filters, 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestBuildScopedQueries_ValuesNeverSpliced(t *testing.T) {
	hostile := "1; DROP TABLE invoices--"
	filters := []models.FilterCondition{
		{Column: "status", Op: models.OpEq, Value: models.FilterValue{Kind: models.ValueString, Str: hostile}},
	}

	countSQL, selectSQL, args, err := buildScopedQueries("invoices", invoiceColumns, filters, 50)
	require.NoError(t, err)
	assert.NotContains(t, countSQL, "DROP TABLE")
	assert.NotContains(t, selectSQL, "DROP TABLE")
	assert.Equal(t, []any{hostile}, args)
}

func TestTableNamePattern(t *testing.T) {
	valid := []string{"invoices", "_staging", "Orders2024", "a"}
	for _, name := range valid {
		assert.True(t, tableNamePattern.MatchString(name), name)
	}

	invalid := []string{"", "1invoices", "orders; drop", `orders"`, "or ders", "sælg"}
	for _, name := range invalid {
		assert.False(t, tableNamePattern.MatchString(name), name)
	}
}
