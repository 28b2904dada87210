package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	require.Equal(t, 1.0, Similarity("COVID-19", "covid-19"))
	require.Equal(t, 1.0, Similarity(" 新冠肺炎 ", "新冠肺炎"))
	require.Equal(t, 0.0, Similarity("", "covid"))

	// One substitution in a long name stays well above the fuzzy bar.
	require.GreaterOrEqual(t, Similarity("tubercolosis", "tuberculosis"), 0.9)

	require.Less(t, Similarity("influenza", "malaria"), 0.6)
}

func TestSimilarityCountsRunesNotBytes(t *testing.T) {
	// One character differs out of four; byte-based scoring would punish
	// the three-byte runes much harder.
	score := Similarity("新冠肺炎", "新冠肺个")
	require.InDelta(t, 0.75, score, 0.15)
	require.Greater(t, score, 0.5)
}

func TestMoreSpecific(t *testing.T) {
	require.True(t, MoreSpecific("hepatitis", "hepatitis a"))
	require.True(t, MoreSpecific("hepatitis", "hepatitis B"))
	require.True(t, MoreSpecific("diabetes", "diabetes type 2"))

	// The reverse direction is not more specific.
	require.False(t, MoreSpecific("hepatitis a", "hepatitis"))
	// Extra words without a subtype marker do not count.
	require.False(t, MoreSpecific("flu", "bird flu"))
	require.False(t, MoreSpecific("hepatitis a", "hepatitis b"))
}
