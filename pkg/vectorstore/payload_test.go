package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordFilter(t *testing.T) {
	assert.Nil(t, keywordFilter("db", ""))

	f := keywordFilter("db", "shop")
	require.NotNil(t, f)
	require.Len(t, f.Must, 1)
}

func TestCombineFilters(t *testing.T) {
	assert.Nil(t, combineFilters(nil, nil))

	f := combineFilters(
		keywordFilter("db", "shop"),
		keywordsFilter("table", []string{"orders", "customers"}),
		nil,
	)
	require.NotNil(t, f)
	assert.Len(t, f.Must, 2)
}

func TestBuildPayloadRoundTrip(t *testing.T) {
	payload, err := buildPayload(map[string]any{
		"name":       "orders",
		"is_pk":      true,
		"created_at": int64(1700000000),
		"tables":     []any{"a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "orders", payloadString(payload, "name"))
	assert.True(t, payloadBool(payload, "is_pk"))
	assert.Equal(t, int64(1700000000), payloadInt(payload, "created_at"))
	assert.Equal(t, []string{"a", "b"}, payloadStrings(payload, "tables"))

	assert.Equal(t, "", payloadString(payload, "absent"))
	assert.Nil(t, payloadStrings(payload, "absent"))
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "", pointID(nil))
	assert.Equal(t, "abc", pointID(&qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: "abc"}}))
	assert.Equal(t, "7", pointID(&qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: 7}}))
}

func TestSplitChunks(t *testing.T) {
	assert.Empty(t, splitChunks("", 10))
	assert.Empty(t, splitChunks("\n\n\n", 10))

	content := "l1\nl2\nl3\nl4\nl5"
	chunks := splitChunks(content, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, "l1\nl2", chunks[0])
	assert.Equal(t, "l5", chunks[2])
}

func TestDiffManifestFirstSync(t *testing.T) {
	files := []CodeFile{
		{Path: "models/order.py", Content: "class Order: pass"},
		{Path: "models/user.py", Content: "class User: pass"},
	}

	changed, current, stale := diffManifest(nil, files)
	assert.Len(t, changed, 2)
	assert.Len(t, current, 2)
	assert.Empty(t, stale)
}

func TestDiffManifestSkipsUnchanged(t *testing.T) {
	files := []CodeFile{{Path: "models/order.py", Content: "class Order: pass"}}

	_, manifest, _ := diffManifest(nil, files)
	changed, current, stale := diffManifest(manifest, files)
	assert.Empty(t, changed)
	assert.Equal(t, manifest, current)
	assert.Empty(t, stale)
}

func TestDiffManifestDetectsChangesAndRemovals(t *testing.T) {
	_, manifest, _ := diffManifest(nil, []CodeFile{
		{Path: "models/order.py", Content: "class Order: pass"},
		{Path: "models/user.py", Content: "class User: pass"},
	})

	changed, current, stale := diffManifest(manifest, []CodeFile{
		{Path: "models/order.py", Content: "class Order:\n    status: str"},
	})
	require.Len(t, changed, 1)
	assert.Equal(t, "models/order.py", changed[0].Path)
	assert.Len(t, current, 1)
	assert.Equal(t, []string{"models/user.py"}, stale)
}
