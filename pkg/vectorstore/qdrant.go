// Package vectorstore provides semantic search over schema, few-shot and
// code-context collections stored in Qdrant.
package vectorstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/easysql-ai/easysql-engine/pkg/apperrors"
	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/embeddings"
	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Collection names. One Qdrant collection per embedded artifact kind.
const (
	CollectionTables     = "easysql_tables"
	CollectionColumns    = "easysql_columns"
	CollectionFewShot    = "easysql_few_shot"
	CollectionCodeChunks = "easysql_code_chunks"
)

// duplicateSimilarity is the cosine score above which a few-shot insert is
// considered a duplicate of an existing example.
const duplicateSimilarity = 0.95

// Reader is the search side, used by the retrieval pipeline and agent nodes.
type Reader interface {
	// SearchTables returns table hits in descending score. Empty query
	// returns empty.
	SearchTables(ctx context.Context, query string, topK int, dbName string) ([]models.TableHit, error)

	// SearchColumns returns column hits, optionally restricted to tables.
	SearchColumns(ctx context.Context, query string, topK int, dbName string, tableFilter []string) ([]models.ColumnHit, error)

	// SearchFewShot returns stored examples for dbName scoring >= minScore.
	SearchFewShot(ctx context.Context, query, dbName string, topK int, minScore float64) ([]models.FewShotExample, error)

	// SearchCodeChunks returns code snippets scoring >= scoreThreshold.
	SearchCodeChunks(ctx context.Context, query string, topK int, scoreThreshold float64, tableHint []string) ([]models.CodeChunk, error)
}

// Writer is the indexing side: few-shot capture and code-context sync.
type Writer interface {
	// InsertFewShot stores a new example. When an existing example in the
	// same db_name is nearly identical the insert is rejected with
	// apperrors.ErrDuplicateExample and the existing id is returned.
	InsertFewShot(ctx context.Context, example *models.FewShotExample) (string, error)

	// SyncCodeChunks incrementally indexes a project's source files. Files
	// whose content hash matches the last sync are skipped; changed files
	// have their chunks replaced and files missing from the set are removed.
	SyncCodeChunks(ctx context.Context, projectID string, files []CodeFile) error
}

// Store combines both sides. The Qdrant implementation provides it; callers
// should depend on the narrower side they use.
type Store interface {
	Reader
	Writer
}

// CodeFile is one source file to index for code context.
type CodeFile struct {
	Path     string
	Language string
	Content  string
}

// qdrantStore implements Store over a Qdrant instance.
type qdrantStore struct {
	client   *qdrant.Client
	embedder embeddings.Provider
	dim      uint64
	logger   *zap.Logger

	mu        sync.Mutex
	manifests map[string]map[string]string // project id -> file path -> md5
}

var _ Store = (*qdrantStore)(nil)

// NewQdrantStore connects to Qdrant and ensures the collections exist.
func NewQdrantStore(ctx context.Context, cfg *config.QdrantConfig, embedder embeddings.Provider, logger *zap.Logger) (Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &qdrantStore{
		client:    client,
		embedder:  embedder,
		dim:       cfg.VectorDim,
		logger:    logger.Named("vectorstore"),
		manifests: make(map[string]map[string]string),
	}

	if err := s.ensureCollections(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *qdrantStore) ensureCollections(ctx context.Context) error {
	hnswM := uint64(16)
	hnswEfConstruct := uint64(256)

	for _, name := range []string{CollectionTables, CollectionColumns, CollectionFewShot, CollectionCodeChunks} {
		exists, err := s.client.CollectionExists(ctx, name)
		if err != nil {
			return fmt.Errorf("check collection %s: %w: %v", name, apperrors.ErrStoreUnavailable, err)
		}
		if exists {
			continue
		}

		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dim,
				Distance: qdrant.Distance_Cosine,
			}),
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &hnswM,
				EfConstruct: &hnswEfConstruct,
			},
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		s.logger.Info("Created vector collection", zap.String("collection", name))
	}
	return nil
}

// search embeds the query and runs a filtered kNN search.
func (s *qdrantStore) search(ctx context.Context, collection, query string, topK int, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	}

	resp, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w: %v", collection, apperrors.ErrStoreUnavailable, err)
	}

	return resp.Result, nil
}

// SearchTables implements Store.
func (s *qdrantStore) SearchTables(ctx context.Context, query string, topK int, dbName string) ([]models.TableHit, error) {
	points, err := s.search(ctx, CollectionTables, query, topK, keywordFilter("db", dbName))
	if err != nil {
		return nil, err
	}

	hits := make([]models.TableHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, models.TableHit{
			TableName:   payloadString(p.Payload, "name"),
			DBName:      payloadString(p.Payload, "db"),
			ChineseName: payloadString(p.Payload, "chinese_name"),
			Description: payloadString(p.Payload, "description"),
			Domain:      payloadString(p.Payload, "domain"),
			Score:       float64(p.Score),
		})
	}
	return hits, nil
}

// SearchColumns implements Store.
func (s *qdrantStore) SearchColumns(ctx context.Context, query string, topK int, dbName string, tableFilter []string) ([]models.ColumnHit, error) {
	filter := combineFilters(
		keywordFilter("db", dbName),
		keywordsFilter("table", tableFilter),
	)

	points, err := s.search(ctx, CollectionColumns, query, topK, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]models.ColumnHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, models.ColumnHit{
			Table:       payloadString(p.Payload, "table"),
			Column:      payloadString(p.Payload, "name"),
			ChineseName: payloadString(p.Payload, "chinese_name"),
			DataType:    payloadString(p.Payload, "data_type"),
			IsPK:        payloadBool(p.Payload, "is_pk"),
			IsFK:        payloadBool(p.Payload, "is_fk"),
			Score:       float64(p.Score),
		})
	}
	return hits, nil
}

// SearchFewShot implements Store.
func (s *qdrantStore) SearchFewShot(ctx context.Context, query, dbName string, topK int, minScore float64) ([]models.FewShotExample, error) {
	points, err := s.search(ctx, CollectionFewShot, query, topK, keywordFilter("db_name", dbName))
	if err != nil {
		return nil, err
	}

	examples := make([]models.FewShotExample, 0, len(points))
	for _, p := range points {
		if float64(p.Score) < minScore {
			continue
		}
		examples = append(examples, models.FewShotExample{
			ID:          pointID(p.Id),
			DBName:      payloadString(p.Payload, "db_name"),
			Question:    payloadString(p.Payload, "question"),
			SQL:         payloadString(p.Payload, "sql"),
			TablesUsed:  payloadStrings(p.Payload, "tables_used"),
			Explanation: payloadString(p.Payload, "explanation"),
			MessageID:   payloadString(p.Payload, "message_id"),
			CreatedAt:   payloadInt(p.Payload, "created_at"),
			Score:       float64(p.Score),
		})
	}
	return examples, nil
}

// SearchCodeChunks implements Store.
func (s *qdrantStore) SearchCodeChunks(ctx context.Context, query string, topK int, scoreThreshold float64, tableHint []string) ([]models.CodeChunk, error) {
	// Table hints sharpen the query text rather than filter: code chunks
	// are not tagged per table.
	if len(tableHint) > 0 {
		query = query + " " + strings.Join(tableHint, " ")
	}

	points, err := s.search(ctx, CollectionCodeChunks, query, topK, nil)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.CodeChunk, 0, len(points))
	for _, p := range points {
		if float64(p.Score) < scoreThreshold {
			continue
		}
		chunks = append(chunks, models.CodeChunk{
			FilePath: payloadString(p.Payload, "file_path"),
			Language: payloadString(p.Payload, "language"),
			Content:  payloadString(p.Payload, "content"),
			Score:    float64(p.Score),
		})
	}
	return chunks, nil
}

// InsertFewShot implements Store.
func (s *qdrantStore) InsertFewShot(ctx context.Context, example *models.FewShotExample) (string, error) {
	if example.Question == "" || example.SQL == "" {
		return "", fmt.Errorf("%w: few-shot example requires question and sql", apperrors.ErrInvalidInput)
	}

	// Near-duplicate check against the same database's examples.
	existing, err := s.SearchFewShot(ctx, example.Question, example.DBName, 1, 0)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 && existing[0].Score >= duplicateSimilarity {
		return existing[0].ID, fmt.Errorf("%w: similar example %s (score %.3f)",
			apperrors.ErrDuplicateExample, existing[0].ID, existing[0].Score)
	}

	vector, err := s.embedder.Embed(ctx, example.Question)
	if err != nil {
		return "", fmt.Errorf("embed example: %w", err)
	}

	id := example.ID
	if id == "" {
		id = uuid.NewString()
	}

	payload, err := buildPayload(map[string]any{
		"db_name":     example.DBName,
		"question":    example.Question,
		"sql":         example.SQL,
		"tables_used": toAnySlice(example.TablesUsed),
		"explanation": example.Explanation,
		"message_id":  example.MessageID,
		"created_at":  example.CreatedAt,
	})
	if err != nil {
		return "", err
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionFewShot,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("upsert few-shot: %w: %v", apperrors.ErrStoreUnavailable, err)
	}

	s.logger.Info("Stored few-shot example",
		zap.String("id", id),
		zap.String("db_name", example.DBName))
	return id, nil
}

// codeChunkLines bounds chunk size when splitting source files.
const codeChunkLines = 120

// SyncCodeChunks implements Store. A per-project manifest of file MD5s
// makes the sync incremental: files whose hash matches the last sync are
// skipped, changed files have their old chunks deleted by file_path and
// fresh chunks upserted, and files missing from the new set are removed.
func (s *qdrantStore) SyncCodeChunks(ctx context.Context, projectID string, files []CodeFile) error {
	manifest := s.manifestFor(projectID)
	changed, current, stale := diffManifest(manifest, files)

	if len(changed) == 0 && len(stale) == 0 {
		return nil
	}

	paths := make([]string, 0, len(changed)+len(stale))
	for _, f := range changed {
		paths = append(paths, f.Path)
	}
	paths = append(paths, stale...)
	if err := s.deleteByFilePaths(ctx, paths); err != nil {
		return err
	}

	for _, f := range changed {
		if err := s.upsertFileChunks(ctx, f, current[f.Path]); err != nil {
			return err
		}
	}

	s.storeManifest(projectID, current)
	s.logger.Info("Synced code chunks",
		zap.String("project_id", projectID),
		zap.Int("changed", len(changed)),
		zap.Int("removed", len(stale)))
	return nil
}

// diffManifest compares the files against the last-synced hashes. It
// returns the files whose content changed, the full new manifest, and the
// previously synced paths missing from files.
func diffManifest(manifest map[string]string, files []CodeFile) (changed []CodeFile, current map[string]string, stale []string) {
	current = make(map[string]string, len(files))
	for _, f := range files {
		sum := md5.Sum([]byte(f.Content))
		hash := hex.EncodeToString(sum[:])
		current[f.Path] = hash
		if manifest[f.Path] != hash {
			changed = append(changed, f)
		}
	}
	for path := range manifest {
		if _, ok := current[path]; !ok {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)
	return changed, current, stale
}

func (s *qdrantStore) upsertFileChunks(ctx context.Context, f CodeFile, fileHash string) error {
	chunks := splitChunks(f.Content, codeChunkLines)
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed chunks for %s: %w", f.Path, err)
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		payload, err := buildPayload(map[string]any{
			"file_path": f.Path,
			"file_hash": fileHash,
			"language":  f.Language,
			"content":   chunk,
			"chunk":     int64(i),
		})
		if err != nil {
			return err
		}
		id := uuid.NewMD5(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d@%s", f.Path, i, fileHash))).String()
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: CollectionCodeChunks,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert chunks for %s: %w: %v", f.Path, apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

// manifestFor returns a copy of the project's last-synced file hashes.
func (s *qdrantStore) manifestFor(projectID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.manifests[projectID]))
	for path, hash := range s.manifests[projectID] {
		out[path] = hash
	}
	return out
}

func (s *qdrantStore) storeManifest(projectID string, manifest map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[projectID] = manifest
}

func (s *qdrantStore) deleteByFilePaths(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: CollectionCodeChunks,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: keywordsFilter("file_path", paths),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete chunks for %d files: %w: %v", len(paths), apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

// splitChunks splits text into pieces of at most maxLines lines.
func splitChunks(content string, maxLines int) []string {
	lines := strings.Split(content, "\n")
	var chunks []string
	for start := 0; start < len(lines); start += maxLines {
		end := start + maxLines
		if end > len(lines) {
			end = len(lines)
		}
		chunk := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
