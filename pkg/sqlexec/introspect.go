package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
)

// Maximum objects returned by one introspection call.
const searchObjectLimit = 100

// introspectionQueries maps dialect and object type to the catalog query.
// Each query takes exactly one LIKE pattern parameter and returns rows
// ordered by object name.
var introspectionQueries = map[string]map[string]string{
	"postgresql": {
		"table": `SELECT table_name, table_type, '' FROM information_schema.tables
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND table_name ILIKE $1
			ORDER BY table_name LIMIT 100`,
		"column": `SELECT table_name || '.' || column_name, data_type, is_nullable FROM information_schema.columns
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND column_name ILIKE $1
			ORDER BY table_name, ordinal_position LIMIT 100`,
		"index": `SELECT indexname, tablename, indexdef FROM pg_indexes
			WHERE schemaname NOT IN ('pg_catalog', 'information_schema') AND indexname ILIKE $1
			ORDER BY indexname LIMIT 100`,
	},
	"mysql": {
		"table": `SELECT table_name, table_type, IFNULL(table_comment, '') FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_name LIKE ?
			ORDER BY table_name LIMIT 100`,
		"column": `SELECT CONCAT(table_name, '.', column_name), data_type, is_nullable FROM information_schema.columns
			WHERE table_schema = DATABASE() AND column_name LIKE ?
			ORDER BY table_name, ordinal_position LIMIT 100`,
		"index": `SELECT DISTINCT index_name, table_name, column_name FROM information_schema.statistics
			WHERE table_schema = DATABASE() AND index_name LIKE ?
			ORDER BY index_name LIMIT 100`,
	},
	"sqlserver": {
		"table": `SELECT TOP 100 table_name, table_type, '' FROM INFORMATION_SCHEMA.TABLES
			WHERE table_name LIKE @p1 ORDER BY table_name`,
		"column": `SELECT TOP 100 table_name + '.' + column_name, data_type, is_nullable FROM INFORMATION_SCHEMA.COLUMNS
			WHERE column_name LIKE @p1 ORDER BY table_name, ordinal_position`,
		"index": `SELECT TOP 100 i.name, t.name, i.type_desc FROM sys.indexes i
			JOIN sys.tables t ON i.object_id = t.object_id
			WHERE i.name LIKE @p1 ORDER BY i.name`,
	},
}

// likePattern wraps a bare pattern in wildcards; explicit wildcards pass
// through untouched.
func likePattern(pattern string) string {
	if pattern == "" {
		return "%"
	}
	if strings.ContainsAny(pattern, "%_") {
		return pattern
	}
	return "%" + pattern + "%"
}

// SearchObjects lists live database objects matching the pattern. The
// detail level selects how much each line carries: names, summary or full.
func (e *executor) SearchObjects(ctx context.Context, dbName, objectType, pattern, detailLevel string) (string, error) {
	t, err := e.lookup(dbName)
	if err != nil {
		return "", err
	}
	if t.pool == nil {
		return "", fmt.Errorf("%w: introspection unavailable for dialect %q", apperrors.ErrStoreUnavailable, t.cfg.Dialect)
	}

	queries, ok := introspectionQueries[t.cfg.Dialect]
	if !ok {
		return "", fmt.Errorf("%w: no introspection queries for dialect %q", apperrors.ErrInvalidInput, t.cfg.Dialect)
	}
	query, ok := queries[objectType]
	if !ok {
		return "", fmt.Errorf("%w: unknown object type %q, expected table, column or index", apperrors.ErrInvalidInput, objectType)
	}

	switch detailLevel {
	case "", "names", "summary", "full":
	default:
		return "", fmt.Errorf("%w: unknown detail level %q, expected names, summary or full", apperrors.ErrInvalidInput, detailLevel)
	}

	ctx, cancel := context.WithTimeout(ctx, e.clampTimeout(0))
	defer cancel()

	rows, err := t.pool.QueryContext(ctx, query, likePattern(pattern))
	if err != nil {
		return "", fmt.Errorf("introspection query failed: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() && len(lines) < searchObjectLimit {
		var name string
		var detail1, detail2 sql.NullString
		if err := rows.Scan(&name, &detail1, &detail2); err != nil {
			return "", fmt.Errorf("introspection scan failed: %w", err)
		}
		lines = append(lines, formatObjectLine(name, detail1.String, detail2.String, detailLevel))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("introspection query failed: %w", err)
	}

	if len(lines) == 0 {
		return fmt.Sprintf("No %ss matching %q.", objectType, pattern), nil
	}
	return strings.Join(lines, "\n"), nil
}

func formatObjectLine(name, detail1, detail2, detailLevel string) string {
	switch detailLevel {
	case "", "names":
		return name
	case "summary":
		if detail1 == "" {
			return name
		}
		return fmt.Sprintf("%s (%s)", name, detail1)
	default: // full
		line := name
		if detail1 != "" {
			line += " (" + detail1 + ")"
		}
		if detail2 != "" {
			line += " " + detail2
		}
		return line
	}
}
