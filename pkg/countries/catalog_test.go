package countries

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "countries.yaml")
	content := `countries:
  cn:
    name: China
    languages: [zh, en]
    missing_sentinels: [-10, -99]
  br:
    name: Brazil
    languages: [pt]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	catalog, err := Load(path)
	require.NoError(t, err)

	cn, err := catalog.Lookup("CN")
	require.NoError(t, err)
	require.Equal(t, "CN", cn.Code)
	require.Equal(t, []float64{-10, -99}, cn.MissingSentinels)

	// Omitted fields pick up defaults.
	br, err := catalog.Lookup("br")
	require.NoError(t, err)
	require.Equal(t, "BR", br.Code)
	require.Equal(t, []float64{-10}, br.MissingSentinels)
	require.Equal(t, "semantic", br.DefaultStrategy)
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	catalog := DefaultCatalog()
	for _, code := range []string{"cn", "CN", " cn "} {
		country, err := catalog.Lookup(code)
		require.NoError(t, err)
		require.Equal(t, "CN", country.Code)
	}
}

func TestLookupUnknownCountry(t *testing.T) {
	catalog := DefaultCatalog()
	_, err := catalog.Lookup("ZZ")
	require.True(t, errors.Is(err, ErrInvalidCountry))
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	catalog, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	_, lookupErr := catalog.Lookup("CN")
	require.NoError(t, lookupErr)
}
