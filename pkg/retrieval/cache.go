package retrieval

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// resultCache memoizes pipeline output per (database, question). When the
// cap is reached the least-recently-used entry is evicted. Results are
// copied on both put and get so cached state never aliases caller state.
// A nil cache is valid and caches nothing.
type resultCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	result   *models.RetrievalResult
	lastUsed time.Time
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		return nil
	}
	return &resultCache{cap: capacity, entries: make(map[string]*cacheEntry)}
}

// cacheKey hashes the question so arbitrary text never collides with the
// "db:" prefix scan used by invalidate.
func cacheKey(dbName, question string) string {
	sum := md5.Sum([]byte(question))
	return dbName + ":" + hex.EncodeToString(sum[:])
}

func (c *resultCache) get(key string) *models.RetrievalResult {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	e.lastUsed = time.Now()
	return copyResult(e.result)
}

func (c *resultCache) put(key string, result *models.RetrievalResult) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cap {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{result: copyResult(result), lastUsed: time.Now()}
}

// evictOldestLocked drops the entry with the oldest lastUsed.
func (c *resultCache) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for key, e := range c.entries {
		if !found || e.lastUsed.Before(oldest) {
			oldestKey, oldest, found = key, e.lastUsed, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

// invalidate drops every entry for dbName; an empty dbName drops all.
func (c *resultCache) invalidate(dbName string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if dbName == "" {
		c.entries = make(map[string]*cacheEntry)
		return
	}
	prefix := dbName + ":"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// copyResult clones a result deep enough that callers mutating slices or
// maps on their copy cannot corrupt the cached one. StageStat decisions are
// shared; they are written once by the pipeline and only read after.
func copyResult(r *models.RetrievalResult) *models.RetrievalResult {
	out := &models.RetrievalResult{
		Tables:          append([]string(nil), r.Tables...),
		SemanticColumns: append([]models.ColumnHit(nil), r.SemanticColumns...),
		JoinPaths:       append([]models.JoinPath(nil), r.JoinPaths...),
	}
	if r.Columns != nil {
		out.Columns = make(map[string][]models.ColumnInfo, len(r.Columns))
		for table, cols := range r.Columns {
			out.Columns[table] = append([]models.ColumnInfo(nil), cols...)
		}
	}
	if r.TableMeta != nil {
		out.TableMeta = make(map[string]models.TableMeta, len(r.TableMeta))
		for table, meta := range r.TableMeta {
			out.TableMeta[table] = meta
		}
	}
	if r.TableScores != nil {
		out.TableScores = make(map[string]float64, len(r.TableScores))
		for table, score := range r.TableScores {
			out.TableScores[table] = score
		}
	}
	if r.Stats != nil {
		out.Stats = make(map[string]models.StageStat, len(r.Stats))
		for stage, stat := range r.Stats {
			out.Stats[stage] = stat
		}
	}
	return out
}
