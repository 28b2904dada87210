package normalizer

import (
	"github.com/epiwatch-io/platform/pkg/common/models"
)

// scrubNumeric converts an upstream numeric observation into an explicit
// missing marker when it carries a known sentinel. Crawler sources encode
// "not reported" as magic negatives (-10 in the Chinese CDC tables); those
// must never flow into aggregates as real values.
func scrubNumeric(value float64, sentinels []float64) *float64 {
	for _, s := range sentinels {
		if value == s {
			return nil
		}
	}
	if value < 0 {
		// Any other negative count is malformed upstream data; missing is
		// the only safe reading.
		return nil
	}
	v := value
	return &v
}

// mortalityRate derives deaths/cases, guarding the zero and missing cases.
// A missing input always yields a missing rate, never zero or infinity.
func mortalityRate(cases, deaths *float64) *float64 {
	if cases == nil || deaths == nil || *cases == 0 {
		return nil
	}
	rate := *deaths / *cases
	return &rate
}

// scrubRow builds the normalized shell of one raw row, before resolution has
// attached an identity.
func scrubRow(raw models.RawReport, sentinels []float64) models.NormalizedReport {
	cases := scrubNumeric(raw.Cases, sentinels)
	deaths := scrubNumeric(raw.Deaths, sentinels)
	return models.NormalizedReport{
		DiseaseName:   raw.DiseaseName,
		CountryCode:   raw.CountryCode,
		Date:          raw.Date,
		YearMonth:     raw.YearMonth,
		Cases:         cases,
		Deaths:        deaths,
		MortalityRate: mortalityRate(cases, deaths),
		Stage:         models.StageNone,
		Extra:         raw.Extra,
	}
}
