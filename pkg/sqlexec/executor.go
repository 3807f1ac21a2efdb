package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	// Drivers for the supported target dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/config"
)

// ExecutionResult is the outcome of running or probing one statement.
type ExecutionResult struct {
	Success      bool     `json:"success"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowCount     int      `json:"row_count"`
	AffectedRows int64    `json:"affected_rows,omitempty"`
	Truncated    bool     `json:"truncated"`
	Error        string   `json:"error,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
	ExecutedSQL  string   `json:"executed_sql,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ExecOptions tunes a single execution.
type ExecOptions struct {
	// Timeout overrides the default; clamped to the configured maximum.
	Timeout time.Duration
	// Limit caps returned rows for SELECTs; zero uses the default.
	Limit int
	// AllowMutation permits statements classified as mutations.
	AllowMutation bool
}

// Executor runs SQL against named target databases.
type Executor interface {
	// Execute runs the statement and returns rows or the affected count.
	Execute(ctx context.Context, dbName, sqlText string, opts *ExecOptions) (*ExecutionResult, error)
	// CheckSyntax probes the statement with a dialect-specific EXPLAIN
	// without materializing results.
	CheckSyntax(ctx context.Context, dbName, sqlText string) (*ExecutionResult, error)
	// SearchObjects introspects live tables, columns or indexes matching
	// a name pattern.
	SearchObjects(ctx context.Context, dbName, objectType, pattern, detailLevel string) (string, error)
	// Dialect returns the target's dialect, or empty when unknown.
	Dialect(dbName string) string
	// Close releases all pools.
	Close() error
}

type target struct {
	cfg  config.TargetConfig
	pool *sql.DB
}

type executor struct {
	targets map[string]*target
	cfg     *config.ExecutorConfig
	logger  *zap.Logger
}

var _ Executor = (*executor)(nil)

// driverFor maps a dialect to its registered database/sql driver. Oracle
// has no driver wired; its targets are registered but unreachable and
// every call degrades with an explanatory error.
func driverFor(dialect string) (string, bool) {
	switch dialect {
	case "postgresql":
		return "pgx", true
	case "mysql":
		return "mysql", true
	case "sqlserver":
		return "sqlserver", true
	default:
		return "", false
	}
}

// New opens one pool per configured target. Pools are created lazily by
// database/sql; a target with a bad DSN fails on first use, not here.
func New(cfg *config.ExecutorConfig, logger *zap.Logger) (Executor, error) {
	e := &executor{
		targets: make(map[string]*target),
		cfg:     cfg,
		logger:  logger.Named("sqlexec"),
	}

	for _, tc := range cfg.Targets {
		t := &target{cfg: tc}
		if driver, ok := driverFor(tc.Dialect); ok {
			pool, err := sql.Open(driver, tc.DSN)
			if err != nil {
				return nil, fmt.Errorf("failed to open target %q: %w", tc.Name, err)
			}
			pool.SetMaxOpenConns(10)
			pool.SetConnMaxIdleTime(5 * time.Minute)
			t.pool = pool
		} else {
			e.logger.Warn("target dialect has no driver, execution disabled",
				zap.String("target", tc.Name),
				zap.String("dialect", tc.Dialect))
		}
		e.targets[tc.Name] = t
	}

	return e, nil
}

func (e *executor) Close() error {
	var firstErr error
	for _, t := range e.targets {
		if t.pool == nil {
			continue
		}
		if err := t.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *executor) Dialect(dbName string) string {
	if t, ok := e.targets[dbName]; ok {
		return t.cfg.Dialect
	}
	return ""
}

func (e *executor) lookup(dbName string) (*target, error) {
	t, ok := e.targets[dbName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown target database %q", apperrors.ErrNotFound, dbName)
	}
	return t, nil
}

// clampTimeout bounds the requested timeout to [default, max].
func (e *executor) clampTimeout(requested time.Duration) time.Duration {
	timeout := requested
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	if e.cfg.MaxTimeout > 0 && timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}
	return timeout
}

func (e *executor) Execute(ctx context.Context, dbName, sqlText string, opts *ExecOptions) (*ExecutionResult, error) {
	if opts == nil {
		opts = &ExecOptions{}
	}

	t, err := e.lookup(dbName)
	if err != nil {
		return nil, err
	}

	report := CheckSQL(sqlText)
	result := &ExecutionResult{Warnings: report.Warnings}

	if report.IsMutation && !opts.AllowMutation {
		result.Error = fmt.Sprintf("FORBIDDEN: Mutation statement (%s) rejected; set allow_mutation to run it", report.StatementType)
		return result, nil
	}

	if t.pool == nil {
		result.Error = fmt.Sprintf("target %q dialect %q has no execution driver", dbName, t.cfg.Dialect)
		return result, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	// Fetch one extra row so truncation is observable.
	executedSQL, limited := ApplyRowLimit(sqlText, t.cfg.Dialect, limit+1)
	result.ExecutedSQL = executedSQL

	timeout := e.clampTimeout(opts.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if IsSelect(sqlText) {
		err = e.queryRows(ctx, t, executedSQL, limit, limited, result)
	} else {
		err = e.execStatement(ctx, t, executedSQL, result)
	}
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		e.logger.Warn("execution failed",
			zap.String("target", dbName),
			zap.Int64("duration_ms", result.DurationMS),
			zap.Error(err))
		return result, nil
	}

	result.Success = true
	e.logger.Debug("execution finished",
		zap.String("target", dbName),
		zap.Int("rows", result.RowCount),
		zap.Bool("truncated", result.Truncated),
		zap.Int64("duration_ms", result.DurationMS))
	return result, nil
}

func (e *executor) queryRows(ctx context.Context, t *target, sqlText string, limit int, limited bool, result *ExecutionResult) error {
	rows, err := t.pool.QueryContext(ctx, sqlText)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	result.Columns = cols

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)

		// One row past the cap means the statement had more to give.
		if limited && len(result.Rows) > limit {
			result.Rows = result.Rows[:limit]
			result.Truncated = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	result.RowCount = len(result.Rows)
	return nil
}

func (e *executor) execStatement(ctx context.Context, t *target, sqlText string, result *ExecutionResult) error {
	res, err := t.pool.ExecContext(ctx, sqlText)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil {
		result.AffectedRows = affected
	}
	return nil
}

// CheckSyntax validates a statement against the live target using the
// dialect's plan facility. The statement itself never runs.
func (e *executor) CheckSyntax(ctx context.Context, dbName, sqlText string) (*ExecutionResult, error) {
	t, err := e.lookup(dbName)
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{ExecutedSQL: sqlText}

	if t.pool == nil {
		// No driver; report success with a warning so generation can
		// proceed on static checks alone.
		result.Success = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("syntax probe unavailable for dialect %q, statement not validated against the database", t.cfg.Dialect))
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.clampTimeout(0))
	defer cancel()

	start := time.Now()
	switch t.cfg.Dialect {
	case "postgresql", "mysql":
		err = e.probeExplain(ctx, t, sqlText)
	case "sqlserver":
		err = e.probeShowplan(ctx, t, sqlText)
	default:
		result.Success = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no syntax probe for dialect %q", t.cfg.Dialect))
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Success = true
	return result, nil
}

func (e *executor) probeExplain(ctx context.Context, t *target, sqlText string) error {
	rows, err := t.pool.QueryContext(ctx, "EXPLAIN "+strings.TrimSpace(sqlText))
	if err != nil {
		return err
	}
	return rows.Close()
}

// probeShowplan turns on plan-only mode for a single pinned connection,
// runs the statement so the server parses and plans it, then restores the
// connection before returning it to the pool.
func (e *executor) probeShowplan(ctx context.Context, t *target, sqlText string) error {
	conn, err := t.pool.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET SHOWPLAN_TEXT ON"); err != nil {
		return err
	}

	rows, qerr := conn.QueryContext(ctx, sqlText)
	if qerr == nil {
		rows.Close()
	}

	if _, err := conn.ExecContext(ctx, "SET SHOWPLAN_TEXT OFF"); err != nil && qerr == nil {
		qerr = err
	}
	return qerr
}
