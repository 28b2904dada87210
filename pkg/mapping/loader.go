package mapping

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/epiwatch-io/platform/pkg/common/logger"
)

// LoadResult reports what a bulk load actually did.
type LoadResult struct {
	Loaded  int
	Skipped int
}

// LoadCSV ingests the mapping bulk-load format:
//
//	disease_id,local_name,local_code,is_primary,is_alias,priority,aliases,country_code
//
// The aliases column holds alternate spellings separated by '|'; each becomes
// its own alias row. Rows upsert on (country_code, local_name), so re-running
// a load is idempotent. A countryCode argument overrides the file column.
func LoadCSV(ctx context.Context, repo *Repository, reader io.Reader, countryCode string) (LoadResult, error) {
	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return LoadResult{}, fmt.Errorf("read mapping header: %w", err)
	}
	cols := indexColumns(header)
	for _, required := range []string{"disease_id", "local_name"} {
		if _, ok := cols[required]; !ok {
			return LoadResult{}, fmt.Errorf("mapping file missing column %q", required)
		}
	}

	var result LoadResult
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read mapping row: %w", err)
		}

		cc := countryCode
		if cc == "" {
			cc = strings.ToUpper(field(record, cols, "country_code"))
		}

		primary := CountryMapping{
			DiseaseID:       field(record, cols, "disease_id"),
			CountryCode:     cc,
			LocalName:       field(record, cols, "local_name"),
			LocalCode:       field(record, cols, "local_code"),
			IsPrimary:       boolField(record, cols, "is_primary", true),
			IsAlias:         boolField(record, cols, "is_alias", false),
			Priority:        intField(record, cols, "priority", 100),
			ConfidenceScore: 1.0,
			Source:          SourceCurated,
		}
		if err := repo.Upsert(ctx, &primary); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"country_code": cc,
				"local_name":   primary.LocalName,
			}).Warn("skipping invalid mapping row")
			result.Skipped++
			continue
		}
		result.Loaded++

		for _, alias := range splitAliases(field(record, cols, "aliases")) {
			aliasRow := CountryMapping{
				DiseaseID:       primary.DiseaseID,
				CountryCode:     cc,
				LocalName:       alias,
				IsPrimary:       false,
				IsAlias:         true,
				Priority:        primary.Priority - 10,
				ConfidenceScore: 1.0,
				Source:          SourceCurated,
			}
			if err := repo.Upsert(ctx, &aliasRow); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"country_code": cc,
					"local_name":   alias,
				}).Warn("skipping invalid alias row")
				result.Skipped++
				continue
			}
			result.Loaded++
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"loaded":  result.Loaded,
		"skipped": result.Skipped,
	}).Info("mapping bulk load complete")
	return result, nil
}

func splitAliases(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	aliases := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			aliases = append(aliases, trimmed)
		}
	}
	return aliases
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func field(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func boolField(record []string, cols map[string]int, name string, def bool) bool {
	raw := field(record, cols, name)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func intField(record []string, cols map[string]int, name string, def int) int {
	raw := field(record, cols, name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
