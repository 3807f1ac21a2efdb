package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/sqlexec"
	"github.com/easysql-ai/easysql-engine/pkg/viz"
)

// ExecuteRequest runs one SQL statement against the target database.
type ExecuteRequest struct {
	SQL            string `json:"sql"`
	DBName         string `json:"db_name,omitempty"`
	Question       string `json:"question,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	AllowMutation  bool   `json:"allow_mutation"`
	Visualize      bool   `json:"visualize"`
}

// ExecuteResponse wraps the execution result with a lifecycle status and,
// when requested, a chart plan for the result set.
type ExecuteResponse struct {
	Status    string                   `json:"status"` // completed | failed | forbidden
	Result    *sqlexec.ExecutionResult `json:"result"`
	Error     string                   `json:"error,omitempty"`
	Chart     *models.VizPlan          `json:"chart,omitempty"`
	ChartData []ChartData              `json:"chart_data,omitempty"`
}

// ChartData carries the aggregated points for one planned chart. Points is
// nil for charts rendered straight from rows (scatter, metric cards).
type ChartData struct {
	Title  string          `json:"title"`
	Points []viz.DataPoint `json:"points,omitempty"`
}

// Execute runs the SQL through the safety-gated executor and optionally
// plans a visualization over the result.
func (q *QueryService) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	opts := &sqlexec.ExecOptions{
		Limit:         req.Limit,
		Timeout:       time.Duration(req.TimeoutSeconds) * time.Second,
		AllowMutation: req.AllowMutation,
	}

	result, err := q.executor.Execute(ctx, req.DBName, req.SQL, opts)
	if err != nil {
		return nil, err
	}

	resp := &ExecuteResponse{Result: result}
	switch {
	case strings.HasPrefix(result.Error, "FORBIDDEN"):
		resp.Status = "forbidden"
		resp.Error = result.Error
	case !result.Success:
		resp.Status = "failed"
		resp.Error = result.Error
	default:
		resp.Status = "completed"
	}

	if resp.Status == "completed" && req.Visualize && q.viz != nil {
		plan, _ := q.viz.Plan(ctx, req.Question, result.Columns, result.Rows)
		resp.Chart = plan
		if plan.Suitable {
			resp.ChartData = make([]ChartData, 0, len(plan.Charts))
			for i := range plan.Charts {
				intent := &plan.Charts[i]
				resp.ChartData = append(resp.ChartData, ChartData{
					Title:  intent.Title,
					Points: viz.Aggregate(intent, result.Columns, result.Rows),
				})
			}
		}
		q.logger.Debug("planned visualization",
			zap.Bool("suitable", plan.Suitable), zap.Int("charts", len(plan.Charts)))
	}
	return resp, nil
}
