package models

// ChartType enumerates the chart kinds the planner may emit.
type ChartType string

const (
	ChartBar           ChartType = "bar"
	ChartLine          ChartType = "line"
	ChartPie           ChartType = "pie"
	ChartScatter       ChartType = "scatter"
	ChartArea          ChartType = "area"
	ChartHorizontalBar ChartType = "horizontal_bar"
	ChartDonut         ChartType = "donut"
	ChartGroupedBar    ChartType = "grouped_bar"
	ChartStackedBar    ChartType = "stacked_bar"
	ChartStackedArea   ChartType = "stacked_area"
	ChartMetricCard    ChartType = "metric_card"
)

// NeedsAxes reports whether the chart type requires axis labels.
func (c ChartType) NeedsAxes() bool {
	switch c {
	case ChartBar, ChartLine, ChartArea, ChartHorizontalBar,
		ChartGroupedBar, ChartStackedBar, ChartStackedArea, ChartScatter:
		return true
	}
	return false
}

// AggFunc enumerates the deterministic aggregations applied to chart data.
type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggAvg   AggFunc = "avg"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// SortOrder enumerates chart value ordering.
type SortOrder string

const (
	SortAscending  SortOrder = "ascending"
	SortDescending SortOrder = "descending"
	SortNone       SortOrder = "none"
)

// Binning buckets a numeric field before aggregation.
type Binning struct {
	Field   string   `json:"field"`
	BinSize *float64 `json:"binSize,omitempty"`
	Bins    *int     `json:"bins,omitempty"`
	Alias   string   `json:"alias,omitempty"`
}

// Grain values accepted by TimeGrain.
const (
	GrainDay     = "day"
	GrainWeek    = "week"
	GrainMonth   = "month"
	GrainQuarter = "quarter"
	GrainYear    = "year"
)

// TimeGrain truncates a date field before aggregation.
type TimeGrain struct {
	Field string `json:"field"`
	Grain string `json:"grain"` // day | week | month | quarter | year
	Alias string `json:"alias,omitempty"`
}

// ChartIntent is one chart recommendation from the visualization planner.
type ChartIntent struct {
	ChartType      ChartType  `json:"chartType"`
	Title          string     `json:"title"`
	GroupBy        string     `json:"groupBy,omitempty"`
	ValueField     string     `json:"valueField,omitempty"`
	SeriesField    string     `json:"seriesField,omitempty"`
	XField         string     `json:"xField,omitempty"`
	YField         string     `json:"yField,omitempty"`
	Agg            AggFunc    `json:"agg,omitempty"`
	Sort           SortOrder  `json:"sort,omitempty"`
	TopN           *int       `json:"topN,omitempty"`
	XAxisLabel     string     `json:"xAxisLabel,omitempty"`
	YAxisLabel     string     `json:"yAxisLabel,omitempty"`
	XUnit          string     `json:"xUnit,omitempty"`
	YUnit          string     `json:"yUnit,omitempty"`
	ShowPercentage *bool      `json:"showPercentage,omitempty"`
	Binning        *Binning   `json:"binning,omitempty"`
	TimeGrain      *TimeGrain `json:"timeGrain,omitempty"`
}

// VizPlan is the planner's structured output.
type VizPlan struct {
	Suitable  bool          `json:"suitable"`
	Charts    []ChartIntent `json:"charts"`
	Layout    string        `json:"layout,omitempty"` // single | grid | tabs
	Narrative []string      `json:"narrative,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`
}

// BaseType is the inferred primitive type of a result-set column.
type BaseType string

const (
	BaseNumber  BaseType = "number"
	BaseString  BaseType = "string"
	BaseDate    BaseType = "date"
	BaseBoolean BaseType = "boolean"
	BaseUnknown BaseType = "unknown"
)

// ColumnProfile summarizes one result-set column from a bounded sample.
type ColumnProfile struct {
	Name              string   `json:"name"`
	BaseType          BaseType `json:"base_type"`
	SemanticType      string   `json:"semantic_type,omitempty"` // e.g. categorical_numeric
	DistinctCount     int      `json:"distinct_count"`
	NullCount         int      `json:"null_count"`
	IsHighCardinality bool     `json:"is_high_cardinality"`
	SampleValues      []string `json:"sample_values,omitempty"`
}
