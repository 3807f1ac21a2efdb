package graphstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/database"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// postgresReader implements Reader over the easysql_schema_* tables.
type postgresReader struct {
	db     *database.DB
	logger *zap.Logger
}

var _ Reader = (*postgresReader)(nil)

// NewPostgresReader creates a schema graph reader backed by Postgres.
func NewPostgresReader(db *database.DB, logger *zap.Logger) Reader {
	return &postgresReader{db: db, logger: logger.Named("graphstore")}
}

// GetTableColumns returns each requested table's columns ordered by ordinal position.
func (r *postgresReader) GetTableColumns(ctx context.Context, dbName string, tables []string) (map[string][]models.ColumnInfo, error) {
	result := make(map[string][]models.ColumnInfo, len(tables))
	if len(tables) == 0 {
		return result, nil
	}

	query := `
		SELECT table_name, name, COALESCE(chinese_name, ''), COALESCE(data_type, ''),
		       COALESCE(base_type, ''), is_pk, is_fk, is_nullable, is_indexed, is_unique,
		       COALESCE(description, ''), ordinal_position
		FROM easysql_schema_columns
		WHERE db_name = $1 AND table_name = ANY($2)
		ORDER BY table_name, ordinal_position`

	rows, err := r.db.Query(ctx, query, dbName, tables)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var table string
		var col models.ColumnInfo
		if err := rows.Scan(&table, &col.Name, &col.ChineseName, &col.DataType,
			&col.BaseType, &col.IsPK, &col.IsFK, &col.IsNullable, &col.IsIndexed,
			&col.IsUnique, &col.Description, &col.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		result[table] = append(result[table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w: %v", apperrors.ErrStoreUnavailable, err)
	}

	return result, nil
}

// GetTableMeta returns descriptive metadata for the requested tables.
func (r *postgresReader) GetTableMeta(ctx context.Context, dbName string, tables []string) (map[string]models.TableMeta, error) {
	result := make(map[string]models.TableMeta, len(tables))
	if len(tables) == 0 {
		return result, nil
	}

	query := `
		SELECT name, COALESCE(chinese_name, ''), COALESCE(description, ''), COALESCE(domain, '')
		FROM easysql_schema_tables
		WHERE db_name = $1 AND name = ANY($2)`

	rows, err := r.db.Query(ctx, query, dbName, tables)
	if err != nil {
		return nil, fmt.Errorf("query table meta: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var meta models.TableMeta
		if err := rows.Scan(&meta.Name, &meta.ChineseName, &meta.Description, &meta.Domain); err != nil {
			return nil, fmt.Errorf("scan table meta: %w", err)
		}
		result[meta.Name] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table meta: %w: %v", apperrors.ErrStoreUnavailable, err)
	}

	return result, nil
}

// loadGraph reads the FK edges for one database and builds the adjacency.
// Schemas are small (hundreds of edges), so loading per operation keeps
// reads fresh without cache invalidation.
func (r *postgresReader) loadGraph(ctx context.Context, dbName string) (*schemaGraph, error) {
	query := `
		SELECT from_table, from_column, to_table, to_column
		FROM easysql_schema_fks
		WHERE db_name = $1`

	rows, err := r.db.Query(ctx, query, dbName)
	if err != nil {
		return nil, fmt.Errorf("query fk edges: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var edges []fkEdge
	for rows.Next() {
		var e fkEdge
		if err := rows.Scan(&e.FromTable, &e.FromColumn, &e.ToTable, &e.ToColumn); err != nil {
			return nil, fmt.Errorf("scan fk edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fk edges: %w: %v", apperrors.ErrStoreUnavailable, err)
	}

	return newSchemaGraph(edges), nil
}

// ExpandWithRelated returns the inputs plus FK-reachable tables within maxDepth hops.
func (r *postgresReader) ExpandWithRelated(ctx context.Context, dbName string, tables []string, maxDepth int) ([]string, error) {
	if len(tables) == 0 || maxDepth <= 0 {
		return tables, nil
	}

	g, err := r.loadGraph(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return g.expand(tables, maxDepth), nil
}

// FindBridgeTables returns intermediate tables on shortest paths between high-score pairs.
func (r *postgresReader) FindBridgeTables(ctx context.Context, dbName string, highScore []string, maxHops int) ([]string, error) {
	if len(highScore) < 2 {
		return nil, nil
	}

	g, err := r.loadGraph(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return g.bridgeTables(highScore, maxHops), nil
}

// FindJoinPathsForTables returns deduplicated FK edges joining the tables.
func (r *postgresReader) FindJoinPathsForTables(ctx context.Context, dbName string, tables []string, maxHops int) ([]models.JoinPath, error) {
	if len(tables) < 2 {
		return nil, nil
	}

	g, err := r.loadGraph(ctx, dbName)
	if err != nil {
		return nil, err
	}
	return g.joinPaths(tables, maxHops), nil
}
