package registry

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

func covid() *StandardDisease {
	return &StandardDisease{
		DiseaseID:      "COVID_19",
		StandardNameEN: "COVID-19",
		StandardNameZH: "新型冠状病毒感染",
		Category:       CategoryViral,
	}
}

func TestCreateAndGetDisease(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, covid()))

	got, err := repo.Get(ctx, "COVID_19")
	require.NoError(t, err)
	require.Equal(t, "COVID-19", got.StandardNameEN)
	require.True(t, got.IsActive)
}

func TestCreateDuplicateDisease(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, covid()))
	err := repo.Create(ctx, covid())
	require.True(t, errors.Is(err, ErrDuplicateDisease))
}

func TestCreateRejectsInvalidEntry(t *testing.T) {
	repo := testRepo(t)
	err := repo.Create(context.Background(), &StandardDisease{DiseaseID: "X"})
	require.True(t, errors.Is(err, ErrInvalidEntry))
}

func TestDeactivateKeepsHistory(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, covid()))
	require.NoError(t, repo.Deactivate(ctx, "COVID_19"))

	_, err := repo.GetActive(ctx, "COVID_19")
	require.True(t, errors.Is(err, ErrNotFound))

	// Historical rows still reference the entry.
	got, err := repo.Get(ctx, "COVID_19")
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestDeactivateUnknownDisease(t *testing.T) {
	repo := testRepo(t)
	err := repo.Deactivate(context.Background(), "NOPE")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestSearchMatchesEitherLanguage(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, covid()))
	require.NoError(t, repo.Create(ctx, &StandardDisease{
		DiseaseID:      "TUBERCULOSIS",
		StandardNameEN: "Tuberculosis",
		StandardNameZH: "肺结核",
	}))

	byEN, err := repo.Search(ctx, "covid", 10)
	require.NoError(t, err)
	require.Len(t, byEN, 1)
	require.Equal(t, "COVID_19", byEN[0].DiseaseID)

	byZH, err := repo.Search(ctx, "肺结核", 10)
	require.NoError(t, err)
	require.Len(t, byZH, 1)
	require.Equal(t, "TUBERCULOSIS", byZH[0].DiseaseID)
}

func TestUpsertRefreshesExisting(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, covid()))

	updated := covid()
	updated.Description = "SARS-CoV-2 infection"
	require.NoError(t, repo.Upsert(ctx, updated))

	got, err := repo.Get(ctx, "COVID_19")
	require.NoError(t, err)
	require.Equal(t, "SARS-CoV-2 infection", got.Description)

	count, err := repo.CountActive(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
