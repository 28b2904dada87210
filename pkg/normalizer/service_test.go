package normalizer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epiwatch-io/platform/pkg/common/models"
	"github.com/epiwatch-io/platform/pkg/countries"
	"github.com/epiwatch-io/platform/pkg/registry"
)

type fakeResolver struct {
	results map[string]models.MatchResult
	errs    map[string]error
	calls   map[string]int
}

func (r *fakeResolver) Resolve(_ context.Context, _, localName string, _ models.Strategy) (models.MatchResult, error) {
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[localName]++
	if err, ok := r.errs[localName]; ok {
		return models.MatchResult{Stage: models.StageNone}, err
	}
	if res, ok := r.results[localName]; ok {
		return res, nil
	}
	return models.MatchResult{Matched: false, Stage: models.StageNone}, nil
}

type fakeDirectory struct {
	diseases map[string]*registry.StandardDisease
}

func (d *fakeDirectory) GetActive(_ context.Context, diseaseID string) (*registry.StandardDisease, error) {
	if disease, ok := d.diseases[diseaseID]; ok {
		return disease, nil
	}
	return nil, errors.New("not found")
}

type fakeQueue struct {
	recorded []string
}

func (q *fakeQueue) RecordUnknown(_ context.Context, _, localName, _ string, _ float64) error {
	q.recorded = append(q.recorded, localName)
	return nil
}

func covidResolver() *fakeResolver {
	return &fakeResolver{results: map[string]models.MatchResult{
		"新冠肺炎": {Matched: true, DiseaseID: "COVID_19", Confidence: 1.0, Stage: models.StageExact},
	}}
}

func covidDirectory() *fakeDirectory {
	return &fakeDirectory{diseases: map[string]*registry.StandardDisease{
		"COVID_19": {DiseaseID: "COVID_19", StandardNameEN: "COVID-19", StandardNameZH: "新型冠状病毒感染"},
	}}
}

func newTestService(resolver *fakeResolver) *Service {
	return NewService(resolver, covidDirectory(), &fakeQueue{}, countries.DefaultCatalog(), Config{Workers: 2})
}

func TestNormalizeBroadcastsIdentity(t *testing.T) {
	resolver := covidResolver()
	svc := newTestService(resolver)

	rows := []models.RawReport{
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Date: "2024-01-05", Cases: 120, Deaths: 3},
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Date: "2024-01-06", Cases: 95, Deaths: 1},
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Date: "2024-01-07", Cases: 100, Deaths: 2},
	}

	result, err := svc.Normalize(context.Background(), "CN", rows, models.StrategySemantic)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	require.Equal(t, 1, result.DistinctNames)
	require.Equal(t, 1, result.ResolvedNames)
	require.Empty(t, result.Unresolved)
	require.Empty(t, result.Errored)

	// One resolution serves every row carrying the name.
	require.Equal(t, 1, resolver.calls["新冠肺炎"])
	for _, row := range result.Rows {
		require.Equal(t, "COVID_19", row.DiseaseID)
		require.Equal(t, "COVID-19", row.StandardNameEN)
		require.Equal(t, "新型冠状病毒感染", row.StandardNameZH)
		require.Equal(t, models.StageExact, row.Stage)
	}
}

func TestNormalizeScrubsSentinels(t *testing.T) {
	svc := newTestService(covidResolver())

	rows := []models.RawReport{
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Date: "2024-01-05", Cases: -10, Deaths: 2},
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Date: "2024-01-06", Cases: 100, Deaths: 5},
	}

	result, err := svc.Normalize(context.Background(), "CN", rows, models.StrategySemantic)
	require.NoError(t, err)

	first := result.Rows[0]
	require.Nil(t, first.Cases)
	require.NotNil(t, first.Deaths)
	// No denominator, no rate.
	require.Nil(t, first.MortalityRate)

	second := result.Rows[1]
	require.NotNil(t, second.MortalityRate)
	require.InDelta(t, 0.05, *second.MortalityRate, 1e-9)
}

func TestNormalizeRetainsUnresolvedRows(t *testing.T) {
	svc := newTestService(covidResolver())

	rows := []models.RawReport{
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Cases: 10},
		{DiseaseName: "完全未知的名字", CountryCode: "CN", Cases: 7},
		{DiseaseName: "完全未知的名字", CountryCode: "CN", Cases: 4},
	}

	result, err := svc.Normalize(context.Background(), "CN", rows, models.StrategySemantic)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	require.Equal(t, 2, result.DistinctNames)
	require.Equal(t, 1, result.ResolvedNames)

	require.Len(t, result.Unresolved, 1)
	require.Equal(t, "完全未知的名字", result.Unresolved[0].LocalName)
	require.Equal(t, 2, result.Unresolved[0].Occurrences)

	// Unresolved rows keep their data, just without an identity.
	unresolvedRow := result.Rows[1]
	require.Empty(t, unresolvedRow.DiseaseID)
	require.Equal(t, models.StageNone, unresolvedRow.Stage)
	require.NotNil(t, unresolvedRow.Cases)
}

func TestNormalizeCapturesResolverErrors(t *testing.T) {
	resolver := covidResolver()
	resolver.errs = map[string]error{"坏名字": errors.New("store unavailable")}
	svc := newTestService(resolver)

	rows := []models.RawReport{
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Cases: 10},
		{DiseaseName: "坏名字", CountryCode: "CN", Cases: 5},
	}

	result, err := svc.Normalize(context.Background(), "CN", rows, models.StrategySemantic)
	require.NoError(t, err)
	require.Len(t, result.Errored, 1)
	require.Equal(t, "坏名字", result.Errored[0].LocalName)
	require.Equal(t, 1, result.ResolvedNames)
	require.Empty(t, result.Unresolved)
}

func TestNormalizeQueuesDeadlineCutNames(t *testing.T) {
	resolver := covidResolver()
	resolver.errs = map[string]error{
		"中断的名字": fmt.Errorf("resolve: %w", context.DeadlineExceeded),
	}
	sink := &fakeQueue{}
	svc := NewService(resolver, covidDirectory(), sink, countries.DefaultCatalog(), Config{Workers: 2})

	rows := []models.RawReport{
		{DiseaseName: "新冠肺炎", CountryCode: "CN", Cases: 10},
		{DiseaseName: "中断的名字", CountryCode: "CN", Cases: 7},
		{DiseaseName: "中断的名字", CountryCode: "CN", Cases: 4},
	}

	result, err := svc.Normalize(context.Background(), "CN", rows, models.StrategySemantic)
	require.NoError(t, err)

	// A name cut off by the batch budget is unresolved, not errored, and
	// still reaches the learning queue.
	require.Empty(t, result.Errored)
	require.Len(t, result.Unresolved, 1)
	require.Equal(t, "中断的名字", result.Unresolved[0].LocalName)
	require.Equal(t, 2, result.Unresolved[0].Occurrences)
	require.Contains(t, sink.recorded, "中断的名字")
	require.Equal(t, 1, result.ResolvedNames)
}

func TestNormalizeFlagsEmptyNames(t *testing.T) {
	svc := newTestService(covidResolver())

	rows := []models.RawReport{
		{DiseaseName: "  ", CountryCode: "CN", Cases: 10},
	}

	result, err := svc.Normalize(context.Background(), "CN", rows, models.StrategySemantic)
	require.NoError(t, err)
	require.Equal(t, 0, result.DistinctNames)
	require.Len(t, result.Errored, 1)
	require.Equal(t, "empty disease name", result.Errored[0].Error)
	require.Len(t, result.Rows, 1)
}

func TestNormalizeUnknownCountry(t *testing.T) {
	svc := newTestService(covidResolver())
	_, err := svc.Normalize(context.Background(), "ZZ", nil, models.StrategySemantic)
	require.True(t, errors.Is(err, countries.ErrInvalidCountry))
}
