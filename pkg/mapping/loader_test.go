package mapping

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const mappingCSV = `disease_id,local_name,local_code,is_primary,is_alias,priority,aliases
COVID_19,新冠肺炎,B01,true,false,100,新冠|新型冠状病毒肺炎
TUBERCULOSIS,肺结核,B02,true,false,100,
`

func TestLoadCSVExpandsAliases(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	result, err := LoadCSV(ctx, repo, strings.NewReader(mappingCSV), "CN")
	require.NoError(t, err)
	require.Equal(t, 4, result.Loaded)
	require.Equal(t, 0, result.Skipped)

	alias, err := repo.FindExact(ctx, "CN", "新冠")
	require.NoError(t, err)
	require.Equal(t, "COVID_19", alias.DiseaseID)
	require.True(t, alias.IsAlias)
	require.Equal(t, 90, alias.Priority)
}

func TestLoadCSVIsIdempotent(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	_, err := LoadCSV(ctx, repo, strings.NewReader(mappingCSV), "CN")
	require.NoError(t, err)
	_, err = LoadCSV(ctx, repo, strings.NewReader(mappingCSV), "CN")
	require.NoError(t, err)

	total, _, _, err := repo.Counts(ctx, "CN")
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
}
