package scoped

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
)

type fakeLoader struct {
	calls  int
	gotOpt LoadOptions
	result *models.ScopedResult
	err    error
}

func (f *fakeLoader) LoadScoped(ctx context.Context, src models.RegisteredSource, opts LoadOptions) (*models.ScopedResult, error) {
	f.calls++
	f.gotOpt = opts
	if f.result == nil && f.err == nil {
		return &models.ScopedResult{Alias: src.Alias}, nil
	}
	return f.result, f.err
}

func TestTranslator_RoutesByKind(t *testing.T) {
	pg := &fakeLoader{}
	flat := &fakeLoader{}
	tr := NewTranslator(pg, flat, zap.NewNop())

	_, err := tr.LoadScoped(context.Background(), models.RegisteredSource{Alias: "a", SourceType: models.SourcePostgres}, LoadOptions{})
	require.NoError(t, err)
	_, err = tr.LoadScoped(context.Background(), models.RegisteredSource{Alias: "b", SourceType: models.SourceCSV}, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, pg.calls)
	assert.Equal(t, 1, flat.calls)
}

func TestTranslator_RejectsArityMismatchBeforeLoader(t *testing.T) {
	pg := &fakeLoader{}
	tr := NewTranslator(pg, &fakeLoader{}, zap.NewNop())

	// between with three values never reaches query construction.
	_, err := tr.LoadScoped(context.Background(), models.RegisteredSource{SourceType: models.SourcePostgres}, LoadOptions{
		Filters: []models.FilterCondition{
			{Column: "amount", Op: models.OpBetween, Value: models.FilterValue{Kind: models.ValueList, List: []string{"1", "2", "3"}}},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
	assert.Equal(t, 0, pg.calls)
}

func TestTranslator_RejectsEmptyIn(t *testing.T) {
	tr := NewTranslator(&fakeLoader{}, &fakeLoader{}, zap.NewNop())

	_, err := tr.LoadScoped(context.Background(), models.RegisteredSource{SourceType: models.SourceCSV}, LoadOptions{
		Filters: []models.FilterCondition{
			{Column: "status", Op: models.OpIn, Value: models.FilterValue{Kind: models.ValueList, List: []string{}}},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestTranslator_ClampsLimit(t *testing.T) {
	cases := []struct {
		requested, want int
	}{
		{0, DefaultLimit},
		{-5, DefaultLimit},
		{50, 50},
		{MaxLimit, MaxLimit},
		{5000, MaxLimit},
	}

	for _, tc := range cases {
		flat := &fakeLoader{}
		tr := NewTranslator(&fakeLoader{}, flat, zap.NewNop())
		_, err := tr.LoadScoped(context.Background(), models.RegisteredSource{SourceType: models.SourceCSV}, LoadOptions{Limit: tc.requested})
		require.NoError(t, err)
		assert.Equal(t, tc.want, flat.gotOpt.Limit)
	}
}

func TestTranslator_UnknownKind(t *testing.T) {
	tr := NewTranslator(&fakeLoader{}, &fakeLoader{}, zap.NewNop())

	_, err := tr.LoadScoped(context.Background(), models.RegisteredSource{SourceType: "parquet"}, LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
