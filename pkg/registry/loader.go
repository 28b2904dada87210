package registry

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/epiwatch-io/platform/pkg/common/logger"
	"gorm.io/datatypes"
)

// LoadResult reports what a bulk load actually did.
type LoadResult struct {
	Loaded  int
	Skipped int
}

// LoadCSV ingests the registry bulk-load format:
//
//	disease_id,standard_name_en,standard_name_zh,category,icd_10,icd_11,description
//
// Rows upsert by disease_id, so loading the same file twice is idempotent.
func LoadCSV(ctx context.Context, repo *Repository, reader io.Reader) (LoadResult, error) {
	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return LoadResult{}, fmt.Errorf("read registry header: %w", err)
	}
	cols := indexColumns(header)
	for _, required := range []string{"disease_id", "standard_name_en"} {
		if _, ok := cols[required]; !ok {
			return LoadResult{}, fmt.Errorf("registry file missing column %q", required)
		}
	}

	var result LoadResult
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read registry row: %w", err)
		}

		disease := StandardDisease{
			DiseaseID:       field(record, cols, "disease_id"),
			StandardNameEN:  field(record, cols, "standard_name_en"),
			StandardNameZH:  field(record, cols, "standard_name_zh"),
			Category:        field(record, cols, "category"),
			Description:     field(record, cols, "description"),
			ConfidenceScore: 1.0,
			Source:          "bulk_load",
		}
		codes := datatypes.JSONMap{}
		if icd10 := field(record, cols, "icd_10"); icd10 != "" {
			codes["icd_10"] = icd10
		}
		if icd11 := field(record, cols, "icd_11"); icd11 != "" {
			codes["icd_11"] = icd11
		}
		if len(codes) > 0 {
			disease.ExternalCodes = codes
		}

		if err := repo.Upsert(ctx, &disease); err != nil {
			logger.Log.WithError(err).WithField("disease_id", disease.DiseaseID).
				Warn("skipping invalid registry row")
			result.Skipped++
			continue
		}
		result.Loaded++
	}

	logger.Log.WithFields(map[string]interface{}{
		"loaded":  result.Loaded,
		"skipped": result.Skipped,
	}).Info("registry bulk load complete")
	return result, nil
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
