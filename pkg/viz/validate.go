package viz

import (
	"fmt"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// maxPieCategories caps pie and donut slices.
const maxPieCategories = 7

var validChartTypes = map[models.ChartType]bool{
	models.ChartBar: true, models.ChartLine: true, models.ChartPie: true,
	models.ChartScatter: true, models.ChartArea: true, models.ChartHorizontalBar: true,
	models.ChartDonut: true, models.ChartGroupedBar: true, models.ChartStackedBar: true,
	models.ChartStackedArea: true, models.ChartMetricCard: true,
}

var validAggs = map[models.AggFunc]bool{
	"": true, models.AggCount: true, models.AggSum: true,
	models.AggAvg: true, models.AggMin: true, models.AggMax: true,
}

var validSorts = map[models.SortOrder]bool{
	"": true, models.SortAscending: true, models.SortDescending: true, models.SortNone: true,
}

var validGrains = map[string]bool{
	models.GrainDay: true, models.GrainWeek: true, models.GrainMonth: true,
	models.GrainQuarter: true, models.GrainYear: true,
}

// validateIntent checks one chart intent against the column profiles.
// A nil return means the intent is renderable.
func validateIntent(intent *models.ChartIntent, profiles []models.ColumnProfile) error {
	if !validChartTypes[intent.ChartType] {
		return fmt.Errorf("unknown chart type %q", intent.ChartType)
	}
	if intent.Title == "" {
		return fmt.Errorf("chart of type %q has no title", intent.ChartType)
	}
	if intent.ChartType.NeedsAxes() && (intent.XAxisLabel == "" || intent.YAxisLabel == "") {
		return fmt.Errorf("chart %q requires x and y axis labels", intent.Title)
	}
	if !validAggs[intent.Agg] {
		return fmt.Errorf("unknown aggregation %q", intent.Agg)
	}
	if !validSorts[intent.Sort] {
		return fmt.Errorf("unknown sort order %q", intent.Sort)
	}
	if intent.TopN != nil && *intent.TopN <= 0 {
		return fmt.Errorf("topN must be positive, got %d", *intent.TopN)
	}

	byName := make(map[string]*models.ColumnProfile, len(profiles))
	for i := range profiles {
		byName[profiles[i].Name] = &profiles[i]
	}

	for field, label := range map[string]string{
		intent.GroupBy:     "groupBy",
		intent.ValueField:  "valueField",
		intent.SeriesField: "seriesField",
		intent.XField:      "xField",
		intent.YField:      "yField",
	} {
		if field == "" {
			continue
		}
		if _, ok := byName[field]; !ok {
			return fmt.Errorf("%s %q is not a result column", label, field)
		}
	}

	if intent.ValueField != "" && intent.Agg != "" && intent.Agg != models.AggCount {
		if p := byName[intent.ValueField]; p != nil && p.BaseType != models.BaseNumber {
			return fmt.Errorf("valueField %q is %s, cannot %s it", intent.ValueField, p.BaseType, intent.Agg)
		}
	}

	if b := intent.Binning; b != nil {
		field := b.Field
		if field == "" {
			field = intent.GroupBy
		}
		p, ok := byName[field]
		if !ok {
			return fmt.Errorf("binning field %q is not a result column", field)
		}
		if p.BaseType != models.BaseNumber {
			return fmt.Errorf("binning field %q is %s, not numeric", field, p.BaseType)
		}
		if (b.BinSize == nil || *b.BinSize <= 0) && (b.Bins == nil || *b.Bins <= 0) {
			return fmt.Errorf("binning on %q needs a positive binSize or bins", field)
		}
	}

	if g := intent.TimeGrain; g != nil {
		field := g.Field
		if field == "" {
			field = intent.GroupBy
		}
		p, ok := byName[field]
		if !ok {
			return fmt.Errorf("timeGrain field %q is not a result column", field)
		}
		if p.BaseType != models.BaseDate {
			return fmt.Errorf("timeGrain field %q is %s, not a date", field, p.BaseType)
		}
		if !validGrains[g.Grain] {
			return fmt.Errorf("unknown time grain %q", g.Grain)
		}
	}

	if intent.ChartType == models.ChartPie || intent.ChartType == models.ChartDonut {
		if p := byName[intent.GroupBy]; p != nil && p.DistinctCount > maxPieCategories {
			if intent.TopN == nil || *intent.TopN > maxPieCategories {
				capped := maxPieCategories
				intent.TopN = &capped
			}
		}
	}
	return nil
}

// ValidatePlan drops invalid intents and reports what was dropped. The
// returned plan is nil when nothing renderable remains.
func ValidatePlan(plan *models.VizPlan, profiles []models.ColumnProfile) (*models.VizPlan, []string) {
	if plan == nil || !plan.Suitable {
		return nil, nil
	}

	var (
		kept    []models.ChartIntent
		reasons []string
	)
	for i := range plan.Charts {
		intent := plan.Charts[i]
		if err := validateIntent(&intent, profiles); err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		kept = append(kept, intent)
	}
	if len(kept) == 0 {
		return nil, reasons
	}

	validated := *plan
	validated.Charts = kept
	return &validated, reasons
}
