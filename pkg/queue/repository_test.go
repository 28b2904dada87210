package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func TestRecordUnknownAccumulates(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordUnknown(ctx, "CN", "完全未知的名字", "", 0))
	}

	pending, err := repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.EqualValues(t, 3, pending[0].OccurrenceCount)
	require.Equal(t, StatusPending, pending[0].Status)
}

func TestRecordUnknownKeepsBestSuggestion(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordUnknown(ctx, "CN", "新冠状", "COVID_19", 0.7))
	// A weaker suggestion must not clobber the stored one.
	require.NoError(t, repo.RecordUnknown(ctx, "CN", "新冠状", "TUBERCULOSIS", 0.5))

	pending, err := repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "COVID_19", pending[0].SuggestedDiseaseID)
	require.InDelta(t, 0.7, pending[0].SuggestedConfidence, 1e-9)

	// A stronger one replaces it.
	require.NoError(t, repo.RecordUnknown(ctx, "CN", "新冠状", "INFLUENZA", 0.9))
	pending, err = repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	require.Equal(t, "INFLUENZA", pending[0].SuggestedDiseaseID)
	require.EqualValues(t, 3, pending[0].OccurrenceCount)
}

func TestRecordUnknownRejectsEmptyName(t *testing.T) {
	repo := testRepo(t)
	err := repo.RecordUnknown(context.Background(), "CN", "  ", "", 0)
	require.True(t, errors.Is(err, ErrEmptyName))
}

func TestApproveIsTerminal(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordUnknown(ctx, "CN", "新冠状", "", 0))
	pending, err := repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	id := pending[0].ID

	require.NoError(t, repo.Approve(ctx, id, "COVID_19", "reviewer-1"))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, "COVID_19", got.FinalDiseaseID)
	require.Equal(t, "reviewer-1", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)

	// A second decision on the same entry is refused.
	err = repo.Reject(ctx, id, "changed my mind", "reviewer-2")
	require.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestTransitionUnknownSuggestion(t *testing.T) {
	repo := testRepo(t)
	err := repo.Approve(context.Background(), "no-such-id", "COVID_19", "reviewer")
	require.True(t, errors.Is(err, ErrUnknownSuggestion))
}

func TestRejectedNameComesBackFresh(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordUnknown(ctx, "CN", "不是疾病", "", 0))
	pending, err := repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Reject(ctx, pending[0].ID, "data artifact", "reviewer"))

	// The rejected row is history; a reappearance opens a new pending entry.
	require.NoError(t, repo.RecordUnknown(ctx, "CN", "不是疾病", "", 0))
	fresh, err := repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.NotEqual(t, pending[0].ID, fresh[0].ID)
	require.EqualValues(t, 1, fresh[0].OccurrenceCount)
}

func TestPendingCountAndMerge(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordUnknown(ctx, "CN", "名字一", "", 0))
	require.NoError(t, repo.RecordUnknown(ctx, "CN", "名字二", "", 0))
	require.NoError(t, repo.RecordUnknown(ctx, "US", "some name", "", 0))

	cn, err := repo.PendingCount(ctx, "CN")
	require.NoError(t, err)
	require.EqualValues(t, 2, cn)

	all, err := repo.PendingCount(ctx, "")
	require.NoError(t, err)
	require.EqualValues(t, 3, all)

	pending, err := repo.ListPending(ctx, "CN", 10, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Merge(ctx, pending[0].ID, pending[1].ID, "reviewer"))

	merged, err := repo.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusMerged, merged.Status)
}
