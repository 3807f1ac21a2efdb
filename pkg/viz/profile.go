// Package viz plans visualizations for query result sets: column
// profiling, an LLM planning call with validation retries, type-aware
// intent validation and deterministic fallbacks.
package viz

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// profileSampleRows bounds how many rows feed type inference.
const profileSampleRows = 200

// semanticCategoricalNumeric marks numeric columns acting as categories.
const semanticCategoricalNumeric = "categorical_numeric"

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006-01",
	"01/02/2006",
}

// ProfileColumns infers per-column profiles from a bounded sample of the
// result set.
func ProfileColumns(columns []string, rows [][]any) []models.ColumnProfile {
	sample := rows
	if len(sample) > profileSampleRows {
		sample = sample[:profileSampleRows]
	}

	profiles := make([]models.ColumnProfile, len(columns))
	for i, name := range columns {
		profiles[i] = profileColumn(name, i, sample, len(rows))
	}
	return profiles
}

func profileColumn(name string, index int, sample [][]any, rowCount int) models.ColumnProfile {
	profile := models.ColumnProfile{Name: name, BaseType: models.BaseUnknown}

	distinct := make(map[string]bool)
	counts := map[models.BaseType]int{}
	for _, row := range sample {
		if index >= len(row) {
			continue
		}
		v := row[index]
		if v == nil {
			profile.NullCount++
			continue
		}

		text := valueString(v)
		if !distinct[text] {
			distinct[text] = true
			if len(profile.SampleValues) < 5 {
				profile.SampleValues = append(profile.SampleValues, text)
			}
		}
		counts[classifyValue(v)]++
	}
	profile.DistinctCount = len(distinct)

	nonNull := len(sample) - profile.NullCount
	if nonNull <= 0 {
		return profile
	}

	// Majority type wins; ties resolve toward the stricter type.
	for _, t := range []models.BaseType{models.BaseBoolean, models.BaseDate, models.BaseNumber, models.BaseString} {
		if counts[t]*2 > nonNull {
			profile.BaseType = t
			break
		}
	}
	if profile.BaseType == models.BaseUnknown && counts[models.BaseString] > 0 {
		profile.BaseType = models.BaseString
	}

	if profile.BaseType == models.BaseNumber && profile.DistinctCount <= 10 {
		profile.SemanticType = semanticCategoricalNumeric
	}
	if profile.BaseType == models.BaseString {
		threshold := rowCount / 5
		if threshold < 50 {
			threshold = 50
		}
		profile.IsHighCardinality = profile.DistinctCount >= threshold
	}
	return profile
}

func classifyValue(v any) models.BaseType {
	switch val := v.(type) {
	case bool:
		return models.BaseBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return models.BaseNumber
	case time.Time:
		return models.BaseDate
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return models.BaseString
		}
		lower := strings.ToLower(s)
		if lower == "true" || lower == "false" {
			return models.BaseBoolean
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return models.BaseNumber
		}
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return models.BaseDate
			}
		}
		return models.BaseString
	default:
		return models.BaseUnknown
	}
}

func valueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toFloat converts a cell to a number for aggregation. The second return
// reports convertibility.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
