package normalizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrubNumeric(t *testing.T) {
	sentinels := []float64{-10}

	require.Nil(t, scrubNumeric(-10, sentinels))
	require.Nil(t, scrubNumeric(-3, sentinels))

	got := scrubNumeric(0, sentinels)
	require.NotNil(t, got)
	require.Equal(t, 0.0, *got)

	got = scrubNumeric(42, sentinels)
	require.NotNil(t, got)
	require.Equal(t, 42.0, *got)
}

func TestMortalityRate(t *testing.T) {
	cases := 100.0
	deaths := 5.0
	zero := 0.0

	rate := mortalityRate(&cases, &deaths)
	require.NotNil(t, rate)
	require.InDelta(t, 0.05, *rate, 1e-9)

	// Missing or zero denominators yield a missing rate, never Inf or 0.
	require.Nil(t, mortalityRate(nil, &deaths))
	require.Nil(t, mortalityRate(&cases, nil))
	require.Nil(t, mortalityRate(&zero, &deaths))
}
