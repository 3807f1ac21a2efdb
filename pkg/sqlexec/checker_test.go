package sqlexec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSQLClassification(t *testing.T) {
	tests := []struct {
		name       string
		sql        string
		wantType   string
		isMutation bool
	}{
		{"plain select", "SELECT * FROM orders", "SELECT", false},
		{"lowercase select", "select id from orders where id = 1", "SELECT", false},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", "WITH", false},
		{"insert", "INSERT INTO orders (id) VALUES (1)", "INSERT", true},
		{"update", "UPDATE orders SET amount = 0 WHERE id = 1", "UPDATE", true},
		{"delete", "DELETE FROM orders WHERE id = 1", "DELETE", true},
		{"truncate", "TRUNCATE orders", "TRUNCATE", true},
		{"drop", "DROP TABLE orders", "DROP", true},
		{"alter", "ALTER TABLE orders ADD COLUMN x int", "ALTER", true},
		{"create", "CREATE TABLE t (id int)", "CREATE", true},
		{"grant", "GRANT SELECT ON orders TO bob", "GRANT", true},
		{"revoke", "REVOKE SELECT ON orders FROM bob", "REVOKE", true},
		{"comment hides nothing", "-- just a note\nDELETE FROM orders WHERE id = 1", "DELETE", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report := CheckSQL(tc.sql)
			assert.Equal(t, tc.wantType, report.StatementType)
			assert.Equal(t, tc.isMutation, report.IsMutation)
		})
	}
}

func TestCheckSQLSafeSelect(t *testing.T) {
	report := CheckSQL("SELECT id, amount FROM orders WHERE id = 42")
	assert.True(t, report.Safe)
	assert.False(t, report.IsMutation)
	assert.Empty(t, report.Warnings)
}

func TestCheckSQLWarnings(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"drop database", "DROP DATABASE prod", "drops a database"},
		{"drop table", "DROP TABLE orders", "drops a table"},
		{"truncate table", "TRUNCATE TABLE orders", "truncates a table"},
		{"delete without where", "DELETE FROM orders", "DELETE without WHERE clause"},
		{"update where 1=1", "UPDATE orders SET x = 1 WHERE 1=1", "always-true"},
		{"update where true", "UPDATE orders SET x = 1 WHERE TRUE", "always-true"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			report := CheckSQL(tc.sql)
			assert.False(t, report.Safe)
			assert.Contains(t, strings.Join(report.Warnings, "; "), tc.want)
		})
	}
}

func TestCheckSQLDeleteWithWhereNoWarning(t *testing.T) {
	report := CheckSQL("DELETE FROM orders WHERE id = 1")
	for _, w := range report.Warnings {
		assert.NotContains(t, w, "WHERE clause")
	}
}

func TestCheckSQLEmpty(t *testing.T) {
	report := CheckSQL("   -- nothing here\n")
	assert.False(t, report.Safe)
	assert.Empty(t, report.StatementType)
}

func TestStringLiterals(t *testing.T) {
	got := stringLiterals("SELECT * FROM t WHERE a = 'x' AND b = 'it''s' AND c = ''")
	assert.Equal(t, []string{"x", "it's"}, got)

	assert.Empty(t, stringLiterals("SELECT 1"))
}

func TestApplyRowLimit(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		dialect   string
		limit     int
		wantSQL   string
		wantAdded bool
	}{
		{
			name: "select without limit", sql: "SELECT * FROM orders", dialect: "postgresql", limit: 101,
			wantSQL: "SELECT * FROM orders LIMIT 101", wantAdded: true,
		},
		{
			name: "strips trailing semicolon", sql: "SELECT * FROM orders;", dialect: "mysql", limit: 11,
			wantSQL: "SELECT * FROM orders LIMIT 11", wantAdded: true,
		},
		{
			name: "existing limit untouched", sql: "SELECT * FROM orders LIMIT 5", dialect: "postgresql", limit: 101,
			wantSQL: "SELECT * FROM orders LIMIT 5", wantAdded: false,
		},
		{
			name: "fetch first untouched", sql: "SELECT * FROM orders FETCH FIRST 5 ROWS ONLY", dialect: "postgresql", limit: 101,
			wantSQL: "SELECT * FROM orders FETCH FIRST 5 ROWS ONLY", wantAdded: false,
		},
		{
			name: "top untouched", sql: "SELECT TOP 5 * FROM orders", dialect: "sqlserver", limit: 101,
			wantSQL: "SELECT TOP 5 * FROM orders", wantAdded: false,
		},
		{
			name: "sqlserver never gets limit", sql: "SELECT * FROM orders", dialect: "sqlserver", limit: 101,
			wantSQL: "SELECT * FROM orders", wantAdded: false,
		},
		{
			name: "oracle never gets limit", sql: "SELECT * FROM orders", dialect: "oracle", limit: 101,
			wantSQL: "SELECT * FROM orders", wantAdded: false,
		},
		{
			name: "mutation untouched", sql: "DELETE FROM orders WHERE id = 1", dialect: "postgresql", limit: 101,
			wantSQL: "DELETE FROM orders WHERE id = 1", wantAdded: false,
		},
		{
			name: "cte gets limit", sql: "WITH t AS (SELECT 1 AS n) SELECT * FROM t", dialect: "postgresql", limit: 3,
			wantSQL: "WITH t AS (SELECT 1 AS n) SELECT * FROM t LIMIT 3", wantAdded: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, added := ApplyRowLimit(tc.sql, tc.dialect, tc.limit)
			assert.Equal(t, tc.wantSQL, got)
			assert.Equal(t, tc.wantAdded, added)
		})
	}
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%", likePattern(""))
	assert.Equal(t, "%order%", likePattern("order"))
	assert.Equal(t, "ord%", likePattern("ord%"))
	assert.Equal(t, "ord_r", likePattern("ord_r"))
}

func TestFormatObjectLine(t *testing.T) {
	assert.Equal(t, "orders", formatObjectLine("orders", "BASE TABLE", "comment", "names"))
	assert.Equal(t, "orders (BASE TABLE)", formatObjectLine("orders", "BASE TABLE", "comment", "summary"))
	assert.Equal(t, "orders (BASE TABLE) comment", formatObjectLine("orders", "BASE TABLE", "comment", "full"))
	assert.Equal(t, "orders", formatObjectLine("orders", "", "", "summary"))
}

func TestDriverFor(t *testing.T) {
	for dialect, want := range map[string]string{
		"postgresql": "pgx",
		"mysql":      "mysql",
		"sqlserver":  "sqlserver",
	} {
		driver, ok := driverFor(dialect)
		assert.True(t, ok, dialect)
		assert.Equal(t, want, driver)
	}

	_, ok := driverFor("oracle")
	assert.False(t, ok)
}
