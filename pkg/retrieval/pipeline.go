// Package retrieval implements schema selection for a question: vector
// search over table embeddings, FK expansion, filtering, and join
// enumeration against the schema graph.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/graphstore"
	"github.com/easysql-ai/easysql-engine/pkg/llm"
	"github.com/easysql-ai/easysql-engine/pkg/models"
	"github.com/easysql-ai/easysql-engine/pkg/vectorstore"
)

// Stage names used as keys in RetrievalResult.Stats.
const (
	StageVectorSearch     = "vector_search"
	StageFKExpansion      = "fk_expansion"
	StageSemanticFilter   = "semantic_filter"
	StageBridgeProtection = "bridge_protection"
	StageLLMFilter        = "llm_filter"
	StageColumnFetch      = "column_fetch"
	StageSemanticColumns  = "semantic_columns"
	StageJoinPaths        = "join_paths"
)

// Request carries one retrieval invocation's inputs.
type Request struct {
	Question string
	DBName   string

	// InitialTables, when non-empty, seeds the kept set with pre-scored
	// tables and the vector search stage is skipped.
	InitialTables map[string]float64
}

// Pipeline orchestrates the retrieval stages. Safe for concurrent use.
type Pipeline struct {
	vectors vectorstore.Reader
	graph   graphstore.Reader
	planner llm.ChatClient // used only when LLM pruning is enabled
	cache   *resultCache   // nil when cfg.CacheSize <= 0
	cfg     *config.RetrievalConfig
	logger  *zap.Logger
}

// NewPipeline creates a retrieval pipeline. planner may be nil when LLM
// pruning is disabled.
func NewPipeline(vectors vectorstore.Reader, graph graphstore.Reader, planner llm.ChatClient, cfg *config.RetrievalConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		vectors: vectors,
		graph:   graph,
		planner: planner,
		cache:   newResultCache(cfg.CacheSize),
		cfg:     cfg,
		logger:  logger.Named("retrieval"),
	}
}

// InvalidateCache drops memoized results for dbName, or for every database
// when dbName is empty. Call it after the database's schema metadata is
// re-ingested.
func (p *Pipeline) InvalidateCache(dbName string) {
	p.cache.invalidate(dbName)
}

// Retrieve runs the pipeline. Vector search, FK expansion, column fetch and
// join path failures abort; filter stages degrade by skipping themselves
// and recording the failure in stats. Unseeded requests are served from the
// result cache when a prior run answered the same question.
func (p *Pipeline) Retrieve(ctx context.Context, req *Request) (*models.RetrievalResult, error) {
	// Seeded requests depend on the caller's table set, not just the
	// question, so only unseeded runs are cacheable.
	cacheable := len(req.InitialTables) == 0
	key := cacheKey(req.DBName, req.Question)
	if cacheable {
		if cached := p.cache.get(key); cached != nil {
			p.logger.Debug("Retrieval cache hit", zap.String("db_name", req.DBName))
			return cached, nil
		}
	}

	result := &models.RetrievalResult{
		Columns:     make(map[string][]models.ColumnInfo),
		TableScores: make(map[string]float64),
		Stats:       make(map[string]models.StageStat),
	}

	// Stage 1: kNN over table embeddings, or the caller's seed set.
	kept, directHits, err := p.stageVectorSearch(ctx, req, result)
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		p.logger.Info("No tables retrieved", zap.String("db_name", req.DBName))
		return result, nil
	}

	// Stage 2: FK expansion.
	if p.cfg.ExpandFK {
		before := len(kept)
		expanded, err := p.graph.ExpandWithRelated(ctx, req.DBName, kept, p.cfg.ExpandMaxDepth)
		if err != nil {
			return nil, fmt.Errorf("fk expansion: %w", err)
		}
		kept = expanded
		result.Stats[StageFKExpansion] = models.StageStat{Before: before, After: len(kept)}
	} else {
		result.Stats[StageFKExpansion] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true}
	}

	// Stage 3: semantic score filter.
	kept = p.stageSemanticFilter(kept, directHits, result)

	// Stage 4: bridge protection between the original kNN winners.
	kept = p.stageBridgeProtection(ctx, req.DBName, kept, directHits, result)

	// Stage 5: LLM pruning.
	kept = p.stageLLMFilter(ctx, req.Question, kept, result)

	// Stage 6: column fetch.
	columns, err := p.graph.GetTableColumns(ctx, req.DBName, kept)
	if err != nil {
		return nil, fmt.Errorf("column fetch: %w", err)
	}
	result.Columns = columns
	result.Stats[StageColumnFetch] = models.StageStat{Before: len(kept), After: len(columns)}

	// Table metadata rides along with columns; its loss is not fatal.
	if meta, err := p.graph.GetTableMeta(ctx, req.DBName, kept); err == nil {
		result.TableMeta = meta
	} else {
		p.logger.Warn("Table metadata unavailable", zap.Error(err))
	}

	// Stage 7: semantic column hits restricted to the kept set.
	semCols, err := p.vectors.SearchColumns(ctx, req.Question, p.cfg.ColumnTopK, req.DBName, kept)
	if err != nil {
		p.logger.Warn("Semantic column search failed", zap.Error(err))
		result.Stats[StageSemanticColumns] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true, Error: err.Error()}
	} else {
		result.SemanticColumns = semCols
		result.Stats[StageSemanticColumns] = models.StageStat{Before: len(kept), After: len(kept), Decision: map[string]any{"hits": len(semCols)}}
	}

	// Stage 8: join paths.
	paths, err := p.graph.FindJoinPathsForTables(ctx, req.DBName, kept, p.cfg.BridgeMaxHops)
	if err != nil {
		return nil, fmt.Errorf("join paths: %w", err)
	}
	result.JoinPaths = paths
	result.Stats[StageJoinPaths] = models.StageStat{Before: len(kept), After: len(kept), Decision: map[string]any{"edges": len(paths)}}

	result.Tables = kept
	if cacheable {
		p.cache.put(key, result)
	}
	return result, nil
}

// stageVectorSearch fills the initial kept set and scores. Returns the kept
// tables and the set of direct hits.
func (p *Pipeline) stageVectorSearch(ctx context.Context, req *Request, result *models.RetrievalResult) ([]string, map[string]bool, error) {
	directHits := make(map[string]bool)

	if len(req.InitialTables) > 0 {
		kept := make([]string, 0, len(req.InitialTables))
		for t, score := range req.InitialTables {
			kept = append(kept, t)
			result.TableScores[t] = score
			directHits[t] = true
		}
		sort.Slice(kept, func(i, j int) bool {
			if result.TableScores[kept[i]] != result.TableScores[kept[j]] {
				return result.TableScores[kept[i]] > result.TableScores[kept[j]]
			}
			return kept[i] < kept[j]
		})
		result.Stats[StageVectorSearch] = models.StageStat{
			Before:   0,
			After:    len(kept),
			Skipped:  true,
			Decision: map[string]any{"seeded": true},
		}
		return kept, directHits, nil
	}

	hits, err := p.vectors.SearchTables(ctx, req.Question, p.cfg.TopK, req.DBName)
	if err != nil {
		return nil, nil, fmt.Errorf("vector search: %w", err)
	}

	kept := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.TableName == "" {
			continue
		}
		kept = append(kept, h.TableName)
		result.TableScores[h.TableName] = h.Score
		directHits[h.TableName] = true
	}
	result.Stats[StageVectorSearch] = models.StageStat{
		Before:   0,
		After:    len(kept),
		Decision: map[string]any{"count": len(kept)},
	}
	return kept, directHits, nil
}

// stageSemanticFilter keeps tables scoring at or above the threshold,
// core tables, and direct hits. If too few survive, the highest-scoring
// dropped tables are restored up to the configured minimum.
func (p *Pipeline) stageSemanticFilter(kept []string, directHits map[string]bool, result *models.RetrievalResult) []string {
	if !p.cfg.SemanticFilterEnabled {
		result.Stats[StageSemanticFilter] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true}
		return kept
	}

	core := make(map[string]bool, len(p.cfg.CoreTables))
	for _, t := range p.cfg.CoreTables {
		core[t] = true
	}

	reasons := make(map[string]any)
	var filtered, dropped []string
	for _, t := range kept {
		switch {
		case core[t] || directHits[t]:
			filtered = append(filtered, t)
			reasons[t] = "must_keep"
		case result.TableScores[t] >= p.cfg.SemanticThreshold:
			filtered = append(filtered, t)
			reasons[t] = "kept_by_score"
		default:
			dropped = append(dropped, t)
		}
	}

	// Backfill from the dropped tables, best score first.
	if len(filtered) < p.cfg.SemanticMinTables && len(dropped) > 0 {
		sort.SliceStable(dropped, func(i, j int) bool {
			return result.TableScores[dropped[i]] > result.TableScores[dropped[j]]
		})
		for _, t := range dropped {
			if len(filtered) >= p.cfg.SemanticMinTables {
				break
			}
			filtered = append(filtered, t)
			reasons[t] = "kept_by_score"
		}
	}

	result.Stats[StageSemanticFilter] = models.StageStat{
		Before:   len(kept),
		After:    len(filtered),
		Decision: reasons,
	}
	return filtered
}

// stageBridgeProtection adds intermediate tables connecting the original
// kNN winners. Failures skip the stage.
func (p *Pipeline) stageBridgeProtection(ctx context.Context, dbName string, kept []string, directHits map[string]bool, result *models.RetrievalResult) []string {
	if !p.cfg.BridgeProtection {
		result.Stats[StageBridgeProtection] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true}
		return kept
	}

	anchors := make([]string, 0, len(directHits))
	for _, t := range kept {
		if directHits[t] {
			anchors = append(anchors, t)
		}
	}

	bridges, err := p.graph.FindBridgeTables(ctx, dbName, anchors, p.cfg.BridgeMaxHops)
	if err != nil {
		p.logger.Warn("Bridge discovery failed", zap.Error(err))
		result.Stats[StageBridgeProtection] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true, Error: err.Error()}
		return kept
	}

	before := len(kept)
	present := make(map[string]bool, len(kept))
	for _, t := range kept {
		present[t] = true
	}
	var added []string
	for _, b := range bridges {
		if !present[b] {
			present[b] = true
			kept = append(kept, b)
			added = append(added, b)
		}
	}

	result.Stats[StageBridgeProtection] = models.StageStat{
		Before:   before,
		After:    len(kept),
		Decision: map[string]any{"bridges_added": added},
	}
	return kept
}

// llmTableSelection is the structured output expected from the pruning model.
type llmTableSelection struct {
	Tables []string `json:"tables"`
}

// stageLLMFilter asks the planning model to narrow an oversized table set.
// The model may only choose from the current set; anything else is ignored.
func (p *Pipeline) stageLLMFilter(ctx context.Context, question string, kept []string, result *models.RetrievalResult) []string {
	if !p.cfg.LLMFilterEnabled || p.planner == nil || len(kept) <= p.cfg.LLMFilterMaxTables {
		result.Stats[StageLLMFilter] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true}
		return kept
	}

	prompt := fmt.Sprintf(
		"Question: %s\n\nCandidate tables:\n%s\n\nChoose at most %d tables needed to answer the question. "+
			"Respond with JSON: {\"tables\": [\"...\"]}",
		question, strings.Join(kept, "\n"), p.cfg.LLMFilterMaxTables)

	resp, err := p.planner.Chat(ctx, &llm.ChatRequest{
		System:   "You select the minimal set of database tables required to answer a question. Respond with JSON only.",
		Messages: []llm.Message{llm.NewUserMessage(prompt)},
	})
	if err != nil {
		p.logger.Warn("LLM table pruning failed", zap.Error(err))
		result.Stats[StageLLMFilter] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true, Error: err.Error()}
		return kept
	}

	selection, err := llm.ParseJSONResponse[llmTableSelection](resp.Content)
	if err != nil {
		p.logger.Warn("LLM table pruning returned no JSON", zap.Error(err))
		result.Stats[StageLLMFilter] = models.StageStat{Before: len(kept), After: len(kept), Skipped: true, Error: err.Error()}
		return kept
	}

	present := make(map[string]bool, len(kept))
	for _, t := range kept {
		present[t] = true
	}
	var chosen []string
	for _, t := range selection.Tables {
		if present[t] && len(chosen) < p.cfg.LLMFilterMaxTables {
			chosen = append(chosen, t)
		}
	}

	before := len(kept)
	if len(chosen) == 0 {
		result.Stats[StageLLMFilter] = models.StageStat{Before: before, After: before, Decision: map[string]any{"model": p.planner.Model(), "empty_selection": true}}
		return kept
	}

	result.Stats[StageLLMFilter] = models.StageStat{
		Before:   before,
		After:    len(chosen),
		Decision: map[string]any{"model": p.planner.Model()},
	}
	return chosen
}
