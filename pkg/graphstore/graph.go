// Package graphstore provides read-only access to the schema metadata graph:
// tables, columns and foreign-key edges.
package graphstore

import (
	"context"
	"sort"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Reader is the read-only interface to schema metadata.
// Implementations must tolerate stale reads; the schema graph changes
// rarely while the engine runs.
type Reader interface {
	// GetTableColumns returns each requested table's columns ordered by
	// ordinal position. Unknown tables are omitted from the result.
	GetTableColumns(ctx context.Context, dbName string, tables []string) (map[string][]models.ColumnInfo, error)

	// GetTableMeta returns descriptive metadata for the requested tables.
	GetTableMeta(ctx context.Context, dbName string, tables []string) (map[string]models.TableMeta, error)

	// ExpandWithRelated returns the union of the input tables with all
	// tables reachable over FK edges within maxDepth hops. Input order is
	// preserved; newly discovered tables append in discovery order.
	ExpandWithRelated(ctx context.Context, dbName string, tables []string, maxDepth int) ([]string, error)

	// FindBridgeTables returns intermediate tables on shortest FK paths of
	// length <= maxHops between pairs of high-score tables. Endpoints and
	// other high-score tables are excluded from the result.
	FindBridgeTables(ctx context.Context, dbName string, highScore []string, maxHops int) ([]string, error)

	// FindJoinPathsForTables returns the FK edges on one shortest path per
	// table pair, each edge emitted exactly once.
	FindJoinPathsForTables(ctx context.Context, dbName string, tables []string, maxHops int) ([]models.JoinPath, error)
}

// fkEdge is one foreign-key edge in its stored direction.
type fkEdge struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// schemaGraph holds the FK adjacency for one database. Traversal treats
// edges as undirected; emitted join paths keep the stored FK direction.
type schemaGraph struct {
	// neighbors maps a table to its adjacent edges, sorted for
	// deterministic traversal.
	neighbors map[string][]fkEdge
}

func newSchemaGraph(edges []fkEdge) *schemaGraph {
	g := &schemaGraph{neighbors: make(map[string][]fkEdge)}
	for _, e := range edges {
		g.neighbors[e.FromTable] = append(g.neighbors[e.FromTable], e)
		g.neighbors[e.ToTable] = append(g.neighbors[e.ToTable], e)
	}
	for t := range g.neighbors {
		es := g.neighbors[t]
		sort.Slice(es, func(i, j int) bool {
			if es[i].FromTable != es[j].FromTable {
				return es[i].FromTable < es[j].FromTable
			}
			if es[i].ToTable != es[j].ToTable {
				return es[i].ToTable < es[j].ToTable
			}
			return es[i].FromColumn < es[j].FromColumn
		})
	}
	return g
}

// other returns the edge endpoint that is not table.
func (e fkEdge) other(table string) string {
	if e.FromTable == table {
		return e.ToTable
	}
	return e.FromTable
}

// expand returns tables plus everything reachable within maxDepth hops.
func (g *schemaGraph) expand(tables []string, maxDepth int) []string {
	result := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if !seen[t] {
			seen[t] = true
			result = append(result, t)
		}
	}

	frontier := append([]string(nil), result...)
	for depth := 0; depth < maxDepth; depth++ {
		var next []string
		for _, t := range frontier {
			for _, e := range g.neighbors[t] {
				n := e.other(t)
				if !seen[n] {
					seen[n] = true
					result = append(result, n)
					next = append(next, n)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}

	return result
}

// shortestPath returns the node sequence of one shortest path from src to
// dst with at most maxHops edges, or nil when none exists. Neighbor order
// is deterministic, so ties resolve the same way on every call.
func (g *schemaGraph) shortestPath(src, dst string, maxHops int) []string {
	if src == dst {
		return []string{src}
	}

	parent := map[string]string{src: ""}
	frontier := []string{src}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, t := range frontier {
			for _, e := range g.neighbors[t] {
				n := e.other(t)
				if _, visited := parent[n]; visited {
					continue
				}
				parent[n] = t
				if n == dst {
					path := []string{dst}
					for cur := t; cur != ""; cur = parent[cur] {
						path = append(path, cur)
					}
					for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
						path[i], path[j] = path[j], path[i]
					}
					return path
				}
				next = append(next, n)
			}
		}
		frontier = next
	}

	return nil
}

// bridgeTables returns intermediate nodes on shortest paths between every
// unordered pair of highScore tables, excluding the highScore set itself.
func (g *schemaGraph) bridgeTables(highScore []string, maxHops int) []string {
	anchors := make(map[string]bool, len(highScore))
	for _, t := range highScore {
		anchors[t] = true
	}

	bridges := make(map[string]bool)
	for i := 0; i < len(highScore); i++ {
		for j := i + 1; j < len(highScore); j++ {
			path := g.shortestPath(highScore[i], highScore[j], maxHops)
			for _, t := range path {
				if !anchors[t] {
					bridges[t] = true
				}
			}
		}
	}

	result := make([]string, 0, len(bridges))
	for t := range bridges {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

// edgeBetween finds the FK edge connecting a and b, in stored direction.
func (g *schemaGraph) edgeBetween(a, b string) (fkEdge, bool) {
	for _, e := range g.neighbors[a] {
		if e.other(a) == b {
			return e, true
		}
	}
	return fkEdge{}, false
}

// joinPaths returns FK edges covering one shortest path per unordered pair
// of tables, deduplicated on (fk_table, pk_table, fk_column).
func (g *schemaGraph) joinPaths(tables []string, maxHops int) []models.JoinPath {
	type edgeKey struct {
		fkTable, pkTable, fkColumn string
	}
	seen := make(map[edgeKey]bool)
	var result []models.JoinPath

	for i := 0; i < len(tables); i++ {
		for j := i + 1; j < len(tables); j++ {
			path := g.shortestPath(tables[i], tables[j], maxHops)
			for k := 0; k+1 < len(path); k++ {
				e, ok := g.edgeBetween(path[k], path[k+1])
				if !ok {
					continue
				}
				key := edgeKey{e.FromTable, e.ToTable, e.FromColumn}
				if seen[key] {
					continue
				}
				seen[key] = true
				result = append(result, models.JoinPath{
					FKTable:  e.FromTable,
					FKColumn: e.FromColumn,
					PKTable:  e.ToTable,
					PKColumn: e.ToColumn,
				})
			}
		}
	}

	return result
}
