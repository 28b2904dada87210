package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const registryCSV = `disease_id,standard_name_en,standard_name_zh,category,icd_10,icd_11,description
COVID_19,COVID-19,新型冠状病毒感染,Viral,U07.1,RA01.0,SARS-CoV-2 infection
TUBERCULOSIS,Tuberculosis,肺结核,Bacterial,A15,1B10,
,Missing ID,,,,,
`

func TestLoadCSVIsIdempotent(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	first, err := LoadCSV(ctx, repo, strings.NewReader(registryCSV))
	require.NoError(t, err)
	require.Equal(t, 2, first.Loaded)
	require.Equal(t, 1, first.Skipped)

	second, err := LoadCSV(ctx, repo, strings.NewReader(registryCSV))
	require.NoError(t, err)
	require.Equal(t, 2, second.Loaded)

	count, err := repo.CountActive(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	covid, err := repo.Get(ctx, "COVID_19")
	require.NoError(t, err)
	require.Equal(t, "U07.1", covid.ExternalCodes["icd_10"])
}

func TestLoadCSVRequiresHeaderColumns(t *testing.T) {
	repo := testRepo(t)
	_, err := LoadCSV(context.Background(), repo, strings.NewReader("name,code\nflu,J11\n"))
	require.Error(t, err)
}
