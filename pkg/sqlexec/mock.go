package sqlexec

import (
	"context"
)

// MockExecutor implements Executor with overridable function fields.
type MockExecutor struct {
	ExecuteFunc       func(ctx context.Context, dbName, sqlText string, opts *ExecOptions) (*ExecutionResult, error)
	CheckSyntaxFunc   func(ctx context.Context, dbName, sqlText string) (*ExecutionResult, error)
	SearchObjectsFunc func(ctx context.Context, dbName, objectType, pattern, detailLevel string) (string, error)
	DialectFunc       func(dbName string) string

	ExecuteCalls []string
}

var _ Executor = (*MockExecutor)(nil)

func (m *MockExecutor) Execute(ctx context.Context, dbName, sqlText string, opts *ExecOptions) (*ExecutionResult, error) {
	m.ExecuteCalls = append(m.ExecuteCalls, sqlText)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, dbName, sqlText, opts)
	}
	return &ExecutionResult{Success: true, Columns: []string{"ok"}, Rows: [][]any{{1}}, RowCount: 1, DurationMS: 1}, nil
}

func (m *MockExecutor) CheckSyntax(ctx context.Context, dbName, sqlText string) (*ExecutionResult, error) {
	if m.CheckSyntaxFunc != nil {
		return m.CheckSyntaxFunc(ctx, dbName, sqlText)
	}
	return &ExecutionResult{Success: true}, nil
}

func (m *MockExecutor) SearchObjects(ctx context.Context, dbName, objectType, pattern, detailLevel string) (string, error) {
	if m.SearchObjectsFunc != nil {
		return m.SearchObjectsFunc(ctx, dbName, objectType, pattern, detailLevel)
	}
	return "No " + objectType + "s matching \"" + pattern + "\".", nil
}

func (m *MockExecutor) Dialect(dbName string) string {
	if m.DialectFunc != nil {
		return m.DialectFunc(dbName)
	}
	return "postgresql"
}

func (m *MockExecutor) Close() error { return nil }
