package graphstore

import (
	"context"
	"sort"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// MemoryReader is an in-memory Reader used in tests and for schema snapshots
// loaded from files. All data belongs to a single database name.
type MemoryReader struct {
	DBName  string
	Tables  map[string]models.TableMeta
	Columns map[string][]models.ColumnInfo
	graph   *schemaGraph
}

var _ Reader = (*MemoryReader)(nil)

// NewMemoryReader builds a reader from table metadata, columns and FK edges.
func NewMemoryReader(dbName string, tables map[string]models.TableMeta, columns map[string][]models.ColumnInfo, fks []models.JoinPath) *MemoryReader {
	edges := make([]fkEdge, 0, len(fks))
	for _, fk := range fks {
		edges = append(edges, fkEdge{
			FromTable:  fk.FKTable,
			FromColumn: fk.FKColumn,
			ToTable:    fk.PKTable,
			ToColumn:   fk.PKColumn,
		})
	}

	return &MemoryReader{
		DBName:  dbName,
		Tables:  tables,
		Columns: columns,
		graph:   newSchemaGraph(edges),
	}
}

// GetTableColumns implements Reader.
func (m *MemoryReader) GetTableColumns(ctx context.Context, dbName string, tables []string) (map[string][]models.ColumnInfo, error) {
	result := make(map[string][]models.ColumnInfo, len(tables))
	for _, t := range tables {
		if cols, ok := m.Columns[t]; ok {
			sorted := append([]models.ColumnInfo(nil), cols...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return sorted[i].OrdinalPosition < sorted[j].OrdinalPosition
			})
			result[t] = sorted
		}
	}
	return result, nil
}

// GetTableMeta implements Reader.
func (m *MemoryReader) GetTableMeta(ctx context.Context, dbName string, tables []string) (map[string]models.TableMeta, error) {
	result := make(map[string]models.TableMeta, len(tables))
	for _, t := range tables {
		if meta, ok := m.Tables[t]; ok {
			result[t] = meta
		}
	}
	return result, nil
}

// ExpandWithRelated implements Reader.
func (m *MemoryReader) ExpandWithRelated(ctx context.Context, dbName string, tables []string, maxDepth int) ([]string, error) {
	if len(tables) == 0 || maxDepth <= 0 {
		return tables, nil
	}
	return m.graph.expand(tables, maxDepth), nil
}

// FindBridgeTables implements Reader.
func (m *MemoryReader) FindBridgeTables(ctx context.Context, dbName string, highScore []string, maxHops int) ([]string, error) {
	if len(highScore) < 2 {
		return nil, nil
	}
	return m.graph.bridgeTables(highScore, maxHops), nil
}

// FindJoinPathsForTables implements Reader.
func (m *MemoryReader) FindJoinPathsForTables(ctx context.Context, dbName string, tables []string, maxHops int) ([]models.JoinPath, error) {
	if len(tables) < 2 {
		return nil, nil
	}
	return m.graph.joinPaths(tables, maxHops), nil
}
