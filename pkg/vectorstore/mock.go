package vectorstore

import (
	"context"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// MockStore is a configurable mock implementation of Store for tests.
type MockStore struct {
	SearchTablesFunc     func(ctx context.Context, query string, topK int, dbName string) ([]models.TableHit, error)
	SearchColumnsFunc    func(ctx context.Context, query string, topK int, dbName string, tableFilter []string) ([]models.ColumnHit, error)
	SearchFewShotFunc    func(ctx context.Context, query, dbName string, topK int, minScore float64) ([]models.FewShotExample, error)
	SearchCodeChunksFunc func(ctx context.Context, query string, topK int, scoreThreshold float64, tableHint []string) ([]models.CodeChunk, error)
	InsertFewShotFunc    func(ctx context.Context, example *models.FewShotExample) (string, error)
	SyncCodeChunksFunc   func(ctx context.Context, projectID string, files []CodeFile) error
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) SearchTables(ctx context.Context, query string, topK int, dbName string) ([]models.TableHit, error) {
	if m.SearchTablesFunc != nil {
		return m.SearchTablesFunc(ctx, query, topK, dbName)
	}
	return nil, nil
}

func (m *MockStore) SearchColumns(ctx context.Context, query string, topK int, dbName string, tableFilter []string) ([]models.ColumnHit, error) {
	if m.SearchColumnsFunc != nil {
		return m.SearchColumnsFunc(ctx, query, topK, dbName, tableFilter)
	}
	return nil, nil
}

func (m *MockStore) SearchFewShot(ctx context.Context, query, dbName string, topK int, minScore float64) ([]models.FewShotExample, error) {
	if m.SearchFewShotFunc != nil {
		return m.SearchFewShotFunc(ctx, query, dbName, topK, minScore)
	}
	return nil, nil
}

func (m *MockStore) SearchCodeChunks(ctx context.Context, query string, topK int, scoreThreshold float64, tableHint []string) ([]models.CodeChunk, error) {
	if m.SearchCodeChunksFunc != nil {
		return m.SearchCodeChunksFunc(ctx, query, topK, scoreThreshold, tableHint)
	}
	return nil, nil
}

func (m *MockStore) InsertFewShot(ctx context.Context, example *models.FewShotExample) (string, error) {
	if m.InsertFewShotFunc != nil {
		return m.InsertFewShotFunc(ctx, example)
	}
	return example.ID, nil
}

func (m *MockStore) SyncCodeChunks(ctx context.Context, projectID string, files []CodeFile) error {
	if m.SyncCodeChunksFunc != nil {
		return m.SyncCodeChunksFunc(ctx, projectID, files)
	}
	return nil
}
