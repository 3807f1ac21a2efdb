package viz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// maxPlanRetries bounds the error-correction loop on invalid model plans.
const maxPlanRetries = 2

// Planner turns a query result into a visualization plan. A nil LLM client
// degrades straight to the deterministic fallback.
type Planner struct {
	llm    llm.ChatClient
	logger *zap.Logger
}

func NewPlanner(client llm.ChatClient, logger *zap.Logger) *Planner {
	return &Planner{llm: client, logger: logger.Named("viz")}
}

const planSystemPrompt = `You plan charts for a SQL query result. Given the question, the columns and their inferred types, choose up to three charts.
Respond with JSON only, matching this schema:
{"suitable": bool, "charts": [{"chartType": "bar|line|pie|scatter|area|horizontal_bar|donut|grouped_bar|stacked_bar|stacked_area|metric_card", "title": "...", "groupBy": "col|null", "valueField": "col|null", "seriesField": "col|null", "xField": "col|null", "yField": "col|null", "agg": "count|sum|avg|min|max|null", "sort": "ascending|descending|none|null", "topN": int|null, "xAxisLabel": "...", "yAxisLabel": "...", "binning": {"field": "col", "binSize": number|null, "bins": int|null}|null, "timeGrain": {"field": "col", "grain": "day|week|month|quarter|year"}|null}], "layout": "single|grid|tabs", "narrative": ["..."], "reasoning": "..."}
Every chart needs a non-empty title. Axis-based charts need xAxisLabel and yAxisLabel. Field values must be exact column names.
Use timeGrain to roll a date groupBy up to a coarser period and binning to bucket a numeric groupBy into ranges.`

// Plan profiles the result set, asks the model for a plan, validates it
// with bounded retries and falls back deterministically.
func (p *Planner) Plan(ctx context.Context, question string, columns []string, rows [][]any) (*models.VizPlan, []models.ColumnProfile) {
	profiles := ProfileColumns(columns, rows)
	if len(profiles) == 0 {
		return &models.VizPlan{Suitable: false, Reasoning: "empty result set"}, profiles
	}

	plan := p.planWithModel(ctx, question, profiles, len(rows))
	if plan != nil {
		validated, dropped := ValidatePlan(plan, profiles)
		if validated != nil {
			if len(dropped) > 0 {
				p.logger.Debug("dropped invalid chart intents", zap.Strings("reasons", dropped))
			}
			return validated, profiles
		}
		if len(dropped) > 0 {
			p.logger.Info("all chart intents invalid, using fallback", zap.Strings("reasons", dropped))
		}
	}

	return FallbackPlan(profiles), profiles
}

func (p *Planner) planWithModel(ctx context.Context, question string, profiles []models.ColumnProfile, rowCount int) *models.VizPlan {
	if p.llm == nil {
		return nil
	}

	prompt := renderPlanPrompt(question, profiles, rowCount)
	messages := []llm.Message{llm.NewUserMessage(prompt)}

	for attempt := 0; attempt <= maxPlanRetries; attempt++ {
		resp, err := p.llm.Chat(ctx, &llm.ChatRequest{
			System:   planSystemPrompt,
			Messages: messages,
		})
		if err != nil {
			p.logger.Warn("viz planning call failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil
		}

		plan, err := llm.ParseJSONResponse[models.VizPlan](resp.Content)
		if err == nil {
			err = prevalidate(&plan, profiles)
			if err == nil {
				return &plan
			}
		}

		p.logger.Debug("viz plan rejected", zap.Int("attempt", attempt), zap.Error(err))
		messages = append(messages,
			llm.NewAssistantMessage(resp.Content),
			llm.NewUserMessage(fmt.Sprintf("Your plan was invalid: %s. Return a corrected JSON plan.", err)))
	}
	return nil
}

// prevalidate rejects a plan outright on structural errors so the retry
// prompt can name the problem. Field-level type checks happen later and
// drop intents individually.
func prevalidate(plan *models.VizPlan, profiles []models.ColumnProfile) error {
	if !plan.Suitable {
		return nil
	}
	if len(plan.Charts) == 0 {
		return fmt.Errorf("suitable=true but charts is empty")
	}

	names := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		names[p.Name] = true
	}

	for i := range plan.Charts {
		c := &plan.Charts[i]
		if c.Title == "" {
			return fmt.Errorf("charts[%d] has no title", i)
		}
		if c.ChartType.NeedsAxes() && (c.XAxisLabel == "" || c.YAxisLabel == "") {
			return fmt.Errorf("charts[%d] (%s) is missing axis labels", i, c.ChartType)
		}
		if c.TopN != nil && *c.TopN <= 0 {
			return fmt.Errorf("charts[%d] topN must be positive", i)
		}
		for _, field := range []string{c.GroupBy, c.ValueField, c.SeriesField} {
			if field != "" && !names[field] {
				return fmt.Errorf("charts[%d] references unknown column %q", i, field)
			}
		}
	}
	return nil
}

func renderPlanPrompt(question string, profiles []models.ColumnProfile, rowCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\nRows: %d\nColumns:\n", question, rowCount)
	for _, p := range profiles {
		line := map[string]any{
			"name":           p.Name,
			"type":           p.BaseType,
			"distinct_count": p.DistinctCount,
		}
		if p.SemanticType != "" {
			line["semantic_type"] = p.SemanticType
		}
		if p.IsHighCardinality {
			line["high_cardinality"] = true
		}
		encoded, _ := json.Marshal(line)
		b.Write(encoded)
		b.WriteString("\n")
	}
	return b.String()
}
