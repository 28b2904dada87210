package promotion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/epiwatch-io/platform/pkg/audit"
	"github.com/epiwatch-io/platform/pkg/mapping"
	"github.com/epiwatch-io/platform/pkg/queue"
	"github.com/epiwatch-io/platform/pkg/registry"
)

type fixture struct {
	service  *Service
	queue    *queue.Repository
	mappings *mapping.Repository
	diseases *registry.Repository
	trail    *audit.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	f := &fixture{
		queue:    queue.NewRepository(db),
		mappings: mapping.NewRepository(db),
		diseases: registry.NewRepository(db),
		trail:    audit.NewRepository(db),
	}
	require.NoError(t, f.queue.AutoMigrate())
	require.NoError(t, f.mappings.AutoMigrate())
	require.NoError(t, f.diseases.AutoMigrate())
	require.NoError(t, f.trail.AutoMigrate())

	f.service = NewService(f.queue, f.mappings, f.diseases, f.trail, nil)

	require.NoError(t, f.diseases.Create(context.Background(), &registry.StandardDisease{
		DiseaseID:      "COVID_19",
		StandardNameEN: "COVID-19",
		StandardNameZH: "新型冠状病毒感染",
	}))
	require.NoError(t, f.diseases.Create(context.Background(), &registry.StandardDisease{
		DiseaseID:      "TUBERCULOSIS",
		StandardNameEN: "Tuberculosis",
	}))
	return f
}

func (f *fixture) pendingID(t *testing.T, countryCode, localName string) string {
	t.Helper()
	require.NoError(t, f.queue.RecordUnknown(context.Background(), countryCode, localName, "", 0))
	pending, err := f.queue.ListPending(context.Background(), countryCode, 100, 0)
	require.NoError(t, err)
	for _, s := range pending {
		if s.LocalName == localName {
			return s.ID
		}
	}
	t.Fatalf("no pending suggestion for %s", localName)
	return ""
}

func TestApproveCreatesUsableMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.pendingID(t, "CN", "新冠")

	m, err := f.service.Approve(ctx, id, "COVID_19", true, "reviewer-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.True(t, m.IsAlias)
	require.Equal(t, mapping.SourceLearned, m.Source)
	require.Equal(t, PriorityLearned, m.Priority)

	// The approved name now resolves exactly.
	found, err := f.mappings.FindExact(ctx, "CN", "新冠")
	require.NoError(t, err)
	require.Equal(t, "COVID_19", found.DiseaseID)

	suggestion, err := f.queue.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusApproved, suggestion.Status)
	require.Equal(t, "COVID_19", suggestion.FinalDiseaseID)

	events, err := f.trail.ForEntity(ctx, id, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
}

func TestApproveWithoutMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.pendingID(t, "CN", "新冠")

	m, err := f.service.Approve(ctx, id, "COVID_19", false, "reviewer-1")
	require.NoError(t, err)
	require.Nil(t, m)

	_, err = f.mappings.FindExact(ctx, "CN", "新冠")
	require.True(t, errors.Is(err, mapping.ErrNoMapping))
}

func TestApproveUnknownDisease(t *testing.T) {
	f := newFixture(t)
	id := f.pendingID(t, "CN", "新冠")

	_, err := f.service.Approve(context.Background(), id, "NOPE", true, "reviewer-1")
	require.True(t, errors.Is(err, registry.ErrNotFound))
}

func TestApproveAlreadyMappedNameReusesExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.pendingID(t, "CN", "新冠")

	require.NoError(t, f.service.AddMapping(ctx, &mapping.CountryMapping{
		DiseaseID:   "COVID_19",
		CountryCode: "CN",
		LocalName:   "新冠",
		IsPrimary:   true,
	}, "curator"))

	m, err := f.service.Approve(ctx, id, "COVID_19", true, "reviewer-1")
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "COVID_19", m.DiseaseID)

	// Still exactly one active mapping for the name.
	total, _, _, err := f.mappings.Counts(ctx, "CN")
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestApproveOfDecidedSuggestionLeavesNoMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.pendingID(t, "CN", "新冠")

	require.NoError(t, f.service.Reject(ctx, id, "duplicate report", "reviewer-1"))

	_, err := f.service.Approve(ctx, id, "COVID_19", true, "reviewer-2")
	require.True(t, errors.Is(err, queue.ErrInvalidTransition))

	// The failed approval must not leave a stray learned mapping behind.
	_, err = f.mappings.FindExact(ctx, "CN", "新冠")
	require.True(t, errors.Is(err, mapping.ErrNoMapping))

	suggestion, err := f.queue.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusRejected, suggestion.Status)
}

func TestAddMappingNormalizesCountryCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.AddMapping(ctx, &mapping.CountryMapping{
		DiseaseID:   "COVID_19",
		CountryCode: "cn",
		LocalName:   "新冠肺炎",
		IsPrimary:   true,
	}, "curator"))

	// Resolution always looks up the canonical code.
	found, err := f.mappings.FindExact(ctx, "CN", "新冠肺炎")
	require.NoError(t, err)
	require.Equal(t, "COVID_19", found.DiseaseID)
	require.Equal(t, "CN", found.CountryCode)

	// Case variants must not sidestep uniqueness.
	err = f.service.AddMapping(ctx, &mapping.CountryMapping{
		DiseaseID:   "TUBERCULOSIS",
		CountryCode: "Cn",
		LocalName:   "新冠肺炎",
	}, "curator")
	require.True(t, errors.Is(err, mapping.ErrDuplicateMapping))
}

func TestRejectLeavesNoMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.pendingID(t, "CN", "不是疾病")

	require.NoError(t, f.service.Reject(ctx, id, "data artifact", "reviewer-1"))

	suggestion, err := f.queue.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, queue.StatusRejected, suggestion.Status)

	_, err = f.mappings.FindExact(ctx, "CN", "不是疾病")
	require.True(t, errors.Is(err, mapping.ErrNoMapping))
}

func TestCorrectMappingRepointsName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wrong := &mapping.CountryMapping{
		DiseaseID:   "TUBERCULOSIS",
		CountryCode: "CN",
		LocalName:   "新冠肺炎",
		IsPrimary:   true,
	}
	require.NoError(t, f.service.AddMapping(ctx, wrong, "curator"))

	replacement, err := f.service.CorrectMapping(ctx, wrong.ID, "COVID_19", "reviewer-1")
	require.NoError(t, err)
	require.Equal(t, "COVID_19", replacement.DiseaseID)
	require.Equal(t, "新冠肺炎", replacement.LocalName)

	found, err := f.mappings.FindExact(ctx, "CN", "新冠肺炎")
	require.NoError(t, err)
	require.Equal(t, replacement.ID, found.ID)

	// The old row survives as audit history.
	old, err := f.mappings.Get(ctx, wrong.ID)
	require.NoError(t, err)
	require.False(t, old.IsActive)
	require.Equal(t, "TUBERCULOSIS", old.DiseaseID)
}

func TestDeactivateMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := &mapping.CountryMapping{
		DiseaseID:   "COVID_19",
		CountryCode: "CN",
		LocalName:   "新冠肺炎",
		IsPrimary:   true,
	}
	require.NoError(t, f.service.AddMapping(ctx, m, "curator"))
	require.NoError(t, f.service.DeactivateMapping(ctx, m.ID, "curator"))

	_, err := f.mappings.FindExact(ctx, "CN", "新冠肺炎")
	require.True(t, errors.Is(err, mapping.ErrNoMapping))
}
