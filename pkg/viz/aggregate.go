package viz

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// DataPoint is one aggregated category/value pair ready for rendering.
type DataPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Aggregate groups rows by the intent's groupBy column, applies the
// aggregation to the value column, then sorts and trims deterministically.
// Binning and timeGrain hints rewrite group labels before bucketing; those
// buckets keep their numeric or chronological order unless the intent asks
// for a value sort. Ties keep first-seen group order so repeated runs agree.
func Aggregate(intent *models.ChartIntent, columns []string, rows [][]any) []DataPoint {
	groupIdx := columnIndex(columns, intent.GroupBy)
	valueIdx := columnIndex(columns, intent.ValueField)
	if groupIdx < 0 {
		return nil
	}

	keyFor := groupKeyFunc(intent, groupIdx, rows)

	type bucket struct {
		order  int
		rank   float64
		ranked bool
		count  int
		sum    float64
		min    float64
		max    float64
		hasVal bool
	}

	buckets := make(map[string]*bucket)
	var labels []string
	ranked := true
	for _, row := range rows {
		if groupIdx >= len(row) || row[groupIdx] == nil {
			continue
		}
		key := keyFor(row[groupIdx])

		b, ok := buckets[key.label]
		if !ok {
			b = &bucket{order: len(labels), rank: key.rank, ranked: key.ranked}
			buckets[key.label] = b
			labels = append(labels, key.label)
		}
		ranked = ranked && b.ranked
		b.count++

		if valueIdx >= 0 && valueIdx < len(row) {
			if v, ok := toFloat(row[valueIdx]); ok {
				if !b.hasVal || v < b.min {
					b.min = v
				}
				if !b.hasVal || v > b.max {
					b.max = v
				}
				b.sum += v
				b.hasVal = true
			}
		}
	}

	if ranked && len(labels) > 0 && (intent.Sort == "" || intent.Sort == models.SortNone) {
		sort.SliceStable(labels, func(i, j int) bool {
			return buckets[labels[i]].rank < buckets[labels[j]].rank
		})
	}

	agg := intent.Agg
	if agg == "" {
		if valueIdx >= 0 {
			agg = models.AggSum
		} else {
			agg = models.AggCount
		}
	}

	points := make([]DataPoint, 0, len(labels))
	for _, label := range labels {
		b := buckets[label]
		var value float64
		switch agg {
		case models.AggCount:
			value = float64(b.count)
		case models.AggSum:
			value = b.sum
		case models.AggAvg:
			if b.count > 0 {
				value = b.sum / float64(b.count)
			}
		case models.AggMin:
			value = b.min
		case models.AggMax:
			value = b.max
		}
		points = append(points, DataPoint{Label: label, Value: value})
	}

	switch intent.Sort {
	case models.SortAscending:
		sort.SliceStable(points, func(i, j int) bool { return points[i].Value < points[j].Value })
	case models.SortDescending:
		sort.SliceStable(points, func(i, j int) bool { return points[i].Value > points[j].Value })
	}

	if intent.TopN != nil && *intent.TopN > 0 && len(points) > *intent.TopN {
		points = points[:*intent.TopN]
	}
	return points
}

// groupKey is a rendered group label plus, for bins and time grains, the
// natural position of its bucket.
type groupKey struct {
	label  string
	rank   float64
	ranked bool
}

// groupKeyFunc picks the label function for the grouping column. A
// timeGrain on the groupBy column truncates dates to period starts; a
// binning hint buckets numeric values. Cells the hint cannot interpret
// keep their raw label.
func groupKeyFunc(intent *models.ChartIntent, groupIdx int, rows [][]any) func(any) groupKey {
	if g := intent.TimeGrain; g != nil && hintApplies(g.Field, intent.GroupBy) {
		return func(v any) groupKey {
			t, ok := parseDate(v)
			if !ok {
				return groupKey{label: valueString(v)}
			}
			start := truncateToGrain(t, g.Grain)
			return groupKey{label: grainLabel(start, g.Grain), rank: float64(start.Unix()), ranked: true}
		}
	}

	if b := intent.Binning; b != nil && hintApplies(b.Field, intent.GroupBy) {
		if width, origin, lastLo, ok := binLayout(b, groupIdx, rows); ok {
			return func(v any) groupKey {
				f, numOK := toFloat(v)
				if !numOK {
					return groupKey{label: valueString(v)}
				}
				lo := origin + math.Floor((f-origin)/width)*width
				if lo > lastLo {
					lo = lastLo
				}
				return groupKey{label: formatBin(lo, lo+width), rank: lo, ranked: true}
			}
		}
	}

	return func(v any) groupKey { return groupKey{label: valueString(v)} }
}

// hintApplies reports whether a binning/timeGrain field targets the
// grouping column. An empty hint field defaults to groupBy.
func hintApplies(field, groupBy string) bool {
	return field == "" || field == groupBy
}

// binLayout derives bucket width and origin for a binning hint. An
// explicit binSize wins; a bin count derives the width from the column's
// observed range and clamps the maximum into the last bucket.
func binLayout(b *models.Binning, groupIdx int, rows [][]any) (width, origin, lastLo float64, ok bool) {
	if b.BinSize != nil && *b.BinSize > 0 {
		return *b.BinSize, 0, math.Inf(1), true
	}
	if b.Bins == nil || *b.Bins <= 0 {
		return 0, 0, 0, false
	}

	lo, hi, found := columnRange(groupIdx, rows)
	if !found || hi <= lo {
		return 0, 0, 0, false
	}
	n := *b.Bins
	width = (hi - lo) / float64(n)
	return width, lo, lo + float64(n-1)*width, true
}

func columnRange(idx int, rows [][]any) (lo, hi float64, ok bool) {
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		v, numOK := toFloat(row[idx])
		if !numOK {
			continue
		}
		if !ok || v < lo {
			lo = v
		}
		if !ok || v > hi {
			hi = v
		}
		ok = true
	}
	return lo, hi, ok
}

func formatBin(lo, hi float64) string {
	return formatBinBound(lo) + "-" + formatBinBound(hi)
}

func formatBinBound(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// parseDate converts a cell to a time for grain truncation.
func parseDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// truncateToGrain returns the start of the period containing t. Weeks
// start on Monday.
func truncateToGrain(t time.Time, grain string) time.Time {
	switch grain {
	case models.GrainWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case models.GrainMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case models.GrainQuarter:
		month := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), month, 1, 0, 0, 0, 0, t.Location())
	case models.GrainYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

func grainLabel(start time.Time, grain string) string {
	switch grain {
	case models.GrainWeek:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case models.GrainMonth:
		return start.Format("2006-01")
	case models.GrainQuarter:
		return fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1)
	case models.GrainYear:
		return start.Format("2006")
	default:
		return start.Format("2006-01-02")
	}
}

func columnIndex(columns []string, name string) int {
	if name == "" {
		return -1
	}
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
