package viz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

func monthlyOrders() ([]string, [][]any) {
	columns := []string{"month", "orders"}
	var rows [][]any
	for m := 1; m <= 12; m++ {
		rows = append(rows, []any{fmt.Sprintf("2024-%02d", m), m * 10})
	}
	return columns, rows
}

func TestProfileColumnsTypes(t *testing.T) {
	columns := []string{"month", "orders", "region", "active"}
	rows := [][]any{
		{"2024-01", 10, "north", true},
		{"2024-02", 20, "south", false},
		{"2024-03", nil, "north", true},
	}

	profiles := ProfileColumns(columns, rows)
	require.Len(t, profiles, 4)

	assert.Equal(t, models.BaseDate, profiles[0].BaseType)
	assert.Equal(t, models.BaseNumber, profiles[1].BaseType)
	assert.Equal(t, 1, profiles[1].NullCount)
	assert.Equal(t, models.BaseString, profiles[2].BaseType)
	assert.Equal(t, 2, profiles[2].DistinctCount)
	assert.Equal(t, models.BaseBoolean, profiles[3].BaseType)
}

func TestProfileCategoricalNumeric(t *testing.T) {
	rows := [][]any{}
	for i := 0; i < 30; i++ {
		rows = append(rows, []any{i % 4})
	}
	profiles := ProfileColumns([]string{"status_code"}, rows)
	assert.Equal(t, semanticCategoricalNumeric, profiles[0].SemanticType)
}

func TestProfileHighCardinality(t *testing.T) {
	var rows [][]any
	for i := 0; i < 300; i++ {
		rows = append(rows, []any{fmt.Sprintf("user-%d", i)})
	}
	profiles := ProfileColumns([]string{"user"}, rows)
	assert.True(t, profiles[0].IsHighCardinality)

	profiles = ProfileColumns([]string{"region"}, [][]any{{"north"}, {"south"}, {"north"}})
	assert.False(t, profiles[0].IsHighCardinality)
}

func TestValidateIntent(t *testing.T) {
	profiles := []models.ColumnProfile{
		{Name: "region", BaseType: models.BaseString, DistinctCount: 4},
		{Name: "total", BaseType: models.BaseNumber},
	}

	t.Run("valid bar", func(t *testing.T) {
		intent := &models.ChartIntent{
			ChartType: models.ChartBar, Title: "Totals", GroupBy: "region", ValueField: "total",
			Agg: models.AggSum, XAxisLabel: "region", YAxisLabel: "total",
		}
		assert.NoError(t, validateIntent(intent, profiles))
	})

	t.Run("missing title", func(t *testing.T) {
		intent := &models.ChartIntent{ChartType: models.ChartPie, GroupBy: "region"}
		assert.ErrorContains(t, validateIntent(intent, profiles), "no title")
	})

	t.Run("missing axis labels", func(t *testing.T) {
		intent := &models.ChartIntent{ChartType: models.ChartLine, Title: "t"}
		assert.ErrorContains(t, validateIntent(intent, profiles), "axis labels")
	})

	t.Run("unknown column", func(t *testing.T) {
		intent := &models.ChartIntent{ChartType: models.ChartPie, Title: "t", GroupBy: "ghost"}
		assert.ErrorContains(t, validateIntent(intent, profiles), "not a result column")
	})

	t.Run("aggregating a string column", func(t *testing.T) {
		intent := &models.ChartIntent{
			ChartType: models.ChartPie, Title: "t", GroupBy: "region", ValueField: "region", Agg: models.AggSum,
		}
		assert.ErrorContains(t, validateIntent(intent, profiles), "cannot sum")
	})

	t.Run("non-positive topN", func(t *testing.T) {
		zero := 0
		intent := &models.ChartIntent{ChartType: models.ChartPie, Title: "t", GroupBy: "region", TopN: &zero}
		assert.ErrorContains(t, validateIntent(intent, profiles), "topN")
	})

	t.Run("binning on a string column", func(t *testing.T) {
		size := 5.0
		intent := &models.ChartIntent{
			ChartType: models.ChartBar, Title: "t", GroupBy: "region", ValueField: "total",
			XAxisLabel: "x", YAxisLabel: "y",
			Binning: &models.Binning{Field: "region", BinSize: &size},
		}
		assert.ErrorContains(t, validateIntent(intent, profiles), "not numeric")
	})

	t.Run("binning without a width", func(t *testing.T) {
		intent := &models.ChartIntent{
			ChartType: models.ChartBar, Title: "t", GroupBy: "total", Agg: models.AggCount,
			XAxisLabel: "x", YAxisLabel: "y",
			Binning: &models.Binning{Field: "total"},
		}
		assert.ErrorContains(t, validateIntent(intent, profiles), "binSize or bins")
	})

	t.Run("timeGrain on a non-date column", func(t *testing.T) {
		intent := &models.ChartIntent{
			ChartType: models.ChartLine, Title: "t", GroupBy: "region", ValueField: "total",
			XAxisLabel: "x", YAxisLabel: "y",
			TimeGrain: &models.TimeGrain{Field: "region", Grain: models.GrainMonth},
		}
		assert.ErrorContains(t, validateIntent(intent, profiles), "not a date")
	})

	t.Run("unknown time grain", func(t *testing.T) {
		dated := append(profiles, models.ColumnProfile{Name: "day", BaseType: models.BaseDate})
		intent := &models.ChartIntent{
			ChartType: models.ChartLine, Title: "t", GroupBy: "day", ValueField: "total",
			XAxisLabel: "x", YAxisLabel: "y",
			TimeGrain: &models.TimeGrain{Field: "day", Grain: "decade"},
		}
		assert.ErrorContains(t, validateIntent(intent, dated), "unknown time grain")
	})
}

func TestValidateIntentCapsPie(t *testing.T) {
	profiles := []models.ColumnProfile{
		{Name: "category", BaseType: models.BaseString, DistinctCount: 20},
		{Name: "total", BaseType: models.BaseNumber},
	}
	intent := &models.ChartIntent{
		ChartType: models.ChartPie, Title: "t", GroupBy: "category", ValueField: "total", Agg: models.AggSum,
	}
	require.NoError(t, validateIntent(intent, profiles))
	require.NotNil(t, intent.TopN)
	assert.Equal(t, maxPieCategories, *intent.TopN)
}

func TestFallbackDateNumeric(t *testing.T) {
	columns, rows := monthlyOrders()
	profiles := ProfileColumns(columns, rows)

	plan := FallbackPlan(profiles)
	require.True(t, plan.Suitable)
	require.Len(t, plan.Charts, 1)

	chart := plan.Charts[0]
	assert.Equal(t, models.ChartLine, chart.ChartType)
	assert.Equal(t, "month", chart.GroupBy)
	assert.Equal(t, "orders", chart.ValueField)
	assert.Equal(t, models.AggSum, chart.Agg)
}

func TestFallbackTable(t *testing.T) {
	tests := []struct {
		name     string
		profiles []models.ColumnProfile
		want     models.ChartType
		wantTopN *int
	}{
		{
			name: "small categorical with numeric picks pie",
			profiles: []models.ColumnProfile{
				{Name: "region", BaseType: models.BaseString, DistinctCount: 4},
				{Name: "total", BaseType: models.BaseNumber, DistinctCount: 50},
			},
			want:     models.ChartPie,
			wantTopN: ptrInt(7),
		},
		{
			name: "wide categorical picks horizontal bar",
			profiles: []models.ColumnProfile{
				{Name: "product", BaseType: models.BaseString, DistinctCount: 40},
				{Name: "total", BaseType: models.BaseNumber, DistinctCount: 40},
			},
			want:     models.ChartHorizontalBar,
			wantTopN: ptrInt(10),
		},
		{
			name: "medium categorical picks bar",
			profiles: []models.ColumnProfile{
				{Name: "city", BaseType: models.BaseString, DistinctCount: 12},
				{Name: "total", BaseType: models.BaseNumber, DistinctCount: 12},
			},
			want:     models.ChartBar,
			wantTopN: ptrInt(10),
		},
		{
			name: "string only counts",
			profiles: []models.ColumnProfile{
				{Name: "status", BaseType: models.BaseString, DistinctCount: 3},
			},
			want: models.ChartBar,
		},
		{
			name: "two numerics scatter",
			profiles: []models.ColumnProfile{
				{Name: "price", BaseType: models.BaseNumber, DistinctCount: 90},
				{Name: "qty", BaseType: models.BaseNumber, DistinctCount: 90},
			},
			want: models.ChartScatter,
		},
		{
			name: "single numeric metric card",
			profiles: []models.ColumnProfile{
				{Name: "total", BaseType: models.BaseNumber, DistinctCount: 1},
			},
			want: models.ChartMetricCard,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan := FallbackPlan(tc.profiles)
			require.True(t, plan.Suitable)
			require.Len(t, plan.Charts, 1)
			assert.Equal(t, tc.want, plan.Charts[0].ChartType)
			if tc.wantTopN != nil {
				require.NotNil(t, plan.Charts[0].TopN)
				assert.Equal(t, *tc.wantTopN, *plan.Charts[0].TopN)
			}
			assert.NotEmpty(t, plan.Charts[0].Title)
		})
	}
}

func TestFallbackNothingChartable(t *testing.T) {
	plan := FallbackPlan([]models.ColumnProfile{{Name: "blob", BaseType: models.BaseUnknown}})
	assert.False(t, plan.Suitable)
}

func TestAggregate(t *testing.T) {
	columns := []string{"region", "total"}
	rows := [][]any{
		{"north", 10}, {"south", 5}, {"north", 20}, {"east", 5}, {"south", 25},
	}

	t.Run("sum descending with topN", func(t *testing.T) {
		topN := 2
		intent := &models.ChartIntent{
			GroupBy: "region", ValueField: "total",
			Agg: models.AggSum, Sort: models.SortDescending, TopN: &topN,
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 2)
		assert.Equal(t, DataPoint{Label: "north", Value: 30}, points[0])
		assert.Equal(t, DataPoint{Label: "south", Value: 30}, points[1])
	})

	t.Run("stable tie order", func(t *testing.T) {
		intent := &models.ChartIntent{GroupBy: "region", ValueField: "total", Agg: models.AggSum, Sort: models.SortDescending}
		first := Aggregate(intent, columns, rows)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Aggregate(intent, columns, rows))
		}
		// north and south tie at 30; north appeared first in the rows.
		assert.Equal(t, "north", first[0].Label)
	})

	t.Run("count without value field", func(t *testing.T) {
		intent := &models.ChartIntent{GroupBy: "region", Agg: models.AggCount}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 3)
		assert.Equal(t, DataPoint{Label: "north", Value: 2}, points[0])
	})

	t.Run("avg min max", func(t *testing.T) {
		avg := Aggregate(&models.ChartIntent{GroupBy: "region", ValueField: "total", Agg: models.AggAvg}, columns, rows)
		assert.Equal(t, 15.0, avg[0].Value)

		min := Aggregate(&models.ChartIntent{GroupBy: "region", ValueField: "total", Agg: models.AggMin}, columns, rows)
		assert.Equal(t, 10.0, min[0].Value)

		max := Aggregate(&models.ChartIntent{GroupBy: "region", ValueField: "total", Agg: models.AggMax}, columns, rows)
		assert.Equal(t, 20.0, max[0].Value)
	})
}

func TestAggregateTimeGrain(t *testing.T) {
	columns := []string{"day", "orders"}
	rows := [][]any{
		{"2024-01-05", 10}, {"2024-01-20", 5}, {"2024-03-10", 1},
		{"2024-02-03", 7}, {"2024-02-28", 3},
	}

	t.Run("monthly buckets in chronological order", func(t *testing.T) {
		intent := &models.ChartIntent{
			GroupBy: "day", ValueField: "orders", Agg: models.AggSum,
			TimeGrain: &models.TimeGrain{Field: "day", Grain: models.GrainMonth},
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 3)
		assert.Equal(t, DataPoint{Label: "2024-01", Value: 15}, points[0])
		assert.Equal(t, DataPoint{Label: "2024-02", Value: 10}, points[1])
		assert.Equal(t, DataPoint{Label: "2024-03", Value: 1}, points[2])
	})

	t.Run("quarter and year labels", func(t *testing.T) {
		intent := &models.ChartIntent{
			GroupBy: "day", ValueField: "orders", Agg: models.AggSum,
			TimeGrain: &models.TimeGrain{Field: "day", Grain: models.GrainQuarter},
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 1)
		assert.Equal(t, DataPoint{Label: "2024-Q1", Value: 26}, points[0])

		intent.TimeGrain.Grain = models.GrainYear
		points = Aggregate(intent, columns, rows)
		require.Len(t, points, 1)
		assert.Equal(t, "2024", points[0].Label)
	})

	t.Run("weeks start on monday", func(t *testing.T) {
		intent := &models.ChartIntent{
			GroupBy: "day", Agg: models.AggCount,
			TimeGrain: &models.TimeGrain{Field: "day", Grain: models.GrainWeek},
		}
		// 2024-01-01 was a Monday; the 5th and 7th share its week, the 8th opens the next.
		points := Aggregate(intent, columns, [][]any{
			{"2024-01-05", 1}, {"2024-01-07", 1}, {"2024-01-08", 1},
		})
		require.Len(t, points, 2)
		assert.Equal(t, DataPoint{Label: "2024-W01", Value: 2}, points[0])
		assert.Equal(t, DataPoint{Label: "2024-W02", Value: 1}, points[1])
	})

	t.Run("value sort overrides chronology", func(t *testing.T) {
		intent := &models.ChartIntent{
			GroupBy: "day", ValueField: "orders", Agg: models.AggSum, Sort: models.SortAscending,
			TimeGrain: &models.TimeGrain{Field: "day", Grain: models.GrainMonth},
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 3)
		assert.Equal(t, "2024-03", points[0].Label)
		assert.Equal(t, "2024-01", points[2].Label)
	})
}

func TestAggregateBinning(t *testing.T) {
	columns := []string{"age", "patients"}
	rows := [][]any{
		{23, 1}, {37, 1}, {41, 1}, {8, 2}, {39, 1},
	}

	t.Run("fixed bin size", func(t *testing.T) {
		size := 10.0
		intent := &models.ChartIntent{
			GroupBy: "age", Agg: models.AggCount,
			Binning: &models.Binning{Field: "age", BinSize: &size},
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 4)
		assert.Equal(t, DataPoint{Label: "0-10", Value: 1}, points[0])
		assert.Equal(t, DataPoint{Label: "20-30", Value: 1}, points[1])
		assert.Equal(t, DataPoint{Label: "30-40", Value: 2}, points[2])
		assert.Equal(t, DataPoint{Label: "40-50", Value: 1}, points[3])
	})

	t.Run("bin count derives width from the range", func(t *testing.T) {
		bins := 2
		intent := &models.ChartIntent{
			GroupBy: "age", Agg: models.AggCount,
			Binning: &models.Binning{Field: "age", Bins: &bins},
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 2)
		// Range 8..41 split in two; the maximum lands in the last bucket.
		assert.Equal(t, DataPoint{Label: "8-24.5", Value: 2}, points[0])
		assert.Equal(t, DataPoint{Label: "24.5-41", Value: 3}, points[1])
	})

	t.Run("binning sums the value field per bucket", func(t *testing.T) {
		size := 20.0
		intent := &models.ChartIntent{
			GroupBy: "age", ValueField: "patients", Agg: models.AggSum,
			Binning: &models.Binning{Field: "age", BinSize: &size},
		}
		points := Aggregate(intent, columns, rows)
		require.Len(t, points, 3)
		assert.Equal(t, DataPoint{Label: "0-20", Value: 2}, points[0])
		assert.Equal(t, DataPoint{Label: "20-40", Value: 3}, points[1])
		assert.Equal(t, DataPoint{Label: "40-60", Value: 1}, points[2])
	})
}

func TestPlannerFallbackWhenLLMDisabled(t *testing.T) {
	p := NewPlanner(nil, zap.NewNop())
	columns, rows := monthlyOrders()

	plan, profiles := p.Plan(context.Background(), "orders per month", columns, rows)
	require.Len(t, profiles, 2)
	require.True(t, plan.Suitable)
	assert.Equal(t, models.ChartLine, plan.Charts[0].ChartType)
	assert.Equal(t, "month", plan.Charts[0].GroupBy)
	assert.Equal(t, "orders", plan.Charts[0].ValueField)
}

func TestPlannerUsesModelPlan(t *testing.T) {
	client := llm.NewMockClient(`{"suitable": true, "layout": "single", "charts": [
		{"chartType": "bar", "title": "Orders by month", "groupBy": "month", "valueField": "orders",
		 "agg": "sum", "xAxisLabel": "month", "yAxisLabel": "orders"}]}`)
	p := NewPlanner(client, zap.NewNop())
	columns, rows := monthlyOrders()

	plan, _ := p.Plan(context.Background(), "orders per month", columns, rows)
	require.True(t, plan.Suitable)
	assert.Equal(t, models.ChartBar, plan.Charts[0].ChartType)
	assert.Equal(t, "Orders by month", plan.Charts[0].Title)
}

func TestPlannerRetriesOnInvalidPlan(t *testing.T) {
	calls := 0
	client := &llm.MockClient{
		ChatFunc: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			calls++
			if calls == 1 {
				// Missing title triggers the correction round-trip.
				return &llm.ChatResponse{Content: `{"suitable": true, "charts": [{"chartType": "pie", "groupBy": "month"}]}`}, nil
			}
			return &llm.ChatResponse{Content: `{"suitable": true, "charts": [
				{"chartType": "pie", "title": "fixed", "groupBy": "month", "valueField": "orders", "agg": "sum", "topN": 7}]}`}, nil
		},
	}
	p := NewPlanner(client, zap.NewNop())
	columns, rows := monthlyOrders()

	plan, _ := p.Plan(context.Background(), "q", columns, rows)
	require.True(t, plan.Suitable)
	assert.Equal(t, "fixed", plan.Charts[0].Title)
	assert.Equal(t, 2, calls)
}

func TestPlannerFallsBackOnLLMError(t *testing.T) {
	client := &llm.MockClient{
		ChatFunc: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return nil, errors.New("llm down")
		},
	}
	p := NewPlanner(client, zap.NewNop())
	columns, rows := monthlyOrders()

	plan, _ := p.Plan(context.Background(), "q", columns, rows)
	require.True(t, plan.Suitable)
	assert.Equal(t, models.ChartLine, plan.Charts[0].ChartType)
}

func ptrInt(n int) *int { return &n }
