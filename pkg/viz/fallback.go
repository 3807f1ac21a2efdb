package viz

import (
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// FallbackPlan builds a deterministic plan from the column profiles when
// the model produced nothing renderable. Returns suitable=false when the
// columns offer nothing to chart.
func FallbackPlan(profiles []models.ColumnProfile) *models.VizPlan {
	var (
		dateCol    *models.ColumnProfile
		numericCol *models.ColumnProfile
		stringCol  *models.ColumnProfile
		numerics   []*models.ColumnProfile
	)
	for i := range profiles {
		p := &profiles[i]
		switch p.BaseType {
		case models.BaseDate:
			if dateCol == nil {
				dateCol = p
			}
		case models.BaseNumber:
			numerics = append(numerics, p)
			if numericCol == nil {
				numericCol = p
			}
		case models.BaseString:
			if stringCol == nil {
				stringCol = p
			}
		}
	}

	var intent *models.ChartIntent
	switch {
	case dateCol != nil && numericCol != nil:
		intent = &models.ChartIntent{
			ChartType:  models.ChartLine,
			Title:      numericCol.Name + " over " + dateCol.Name,
			GroupBy:    dateCol.Name,
			ValueField: numericCol.Name,
			Agg:        models.AggSum,
			XAxisLabel: dateCol.Name,
			YAxisLabel: numericCol.Name,
		}
	case stringCol != nil && numericCol != nil && stringCol.DistinctCount <= maxPieCategories:
		topN := maxPieCategories
		intent = &models.ChartIntent{
			ChartType:  models.ChartPie,
			Title:      numericCol.Name + " by " + stringCol.Name,
			GroupBy:    stringCol.Name,
			ValueField: numericCol.Name,
			Agg:        models.AggSum,
			TopN:       &topN,
		}
	case stringCol != nil && numericCol != nil && stringCol.DistinctCount > 20:
		topN := 10
		intent = &models.ChartIntent{
			ChartType:  models.ChartHorizontalBar,
			Title:      numericCol.Name + " by " + stringCol.Name,
			GroupBy:    stringCol.Name,
			ValueField: numericCol.Name,
			Agg:        models.AggSum,
			Sort:       models.SortDescending,
			TopN:       &topN,
			XAxisLabel: numericCol.Name,
			YAxisLabel: stringCol.Name,
		}
	case stringCol != nil && numericCol != nil:
		topN := 10
		intent = &models.ChartIntent{
			ChartType:  models.ChartBar,
			Title:      numericCol.Name + " by " + stringCol.Name,
			GroupBy:    stringCol.Name,
			ValueField: numericCol.Name,
			Agg:        models.AggSum,
			Sort:       models.SortDescending,
			TopN:       &topN,
			XAxisLabel: stringCol.Name,
			YAxisLabel: numericCol.Name,
		}
	case stringCol != nil:
		intent = &models.ChartIntent{
			ChartType:  models.ChartBar,
			Title:      "Count by " + stringCol.Name,
			GroupBy:    stringCol.Name,
			Agg:        models.AggCount,
			Sort:       models.SortDescending,
			XAxisLabel: stringCol.Name,
			YAxisLabel: "count",
		}
	case len(numerics) >= 2:
		intent = &models.ChartIntent{
			ChartType:  models.ChartScatter,
			Title:      numerics[0].Name + " vs " + numerics[1].Name,
			XField:     numerics[0].Name,
			YField:     numerics[1].Name,
			XAxisLabel: numerics[0].Name,
			YAxisLabel: numerics[1].Name,
		}
	case numericCol != nil:
		intent = &models.ChartIntent{
			ChartType:  models.ChartMetricCard,
			Title:      numericCol.Name,
			ValueField: numericCol.Name,
			Agg:        models.AggSum,
		}
	default:
		return &models.VizPlan{Suitable: false, Reasoning: "no chartable columns"}
	}

	return &models.VizPlan{
		Suitable:  true,
		Charts:    []models.ChartIntent{*intent},
		Layout:    "single",
		Reasoning: "deterministic fallback",
	}
}
