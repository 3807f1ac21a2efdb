package contextbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

func sampleRetrieval() *models.RetrievalResult {
	return &models.RetrievalResult{
		Tables: []string{"orders", "customers"},
		Columns: map[string][]models.ColumnInfo{
			"orders": {
				{Name: "id", DataType: "bigint", IsPK: true, OrdinalPosition: 1},
				{Name: "customer_id", DataType: "bigint", IsFK: true, OrdinalPosition: 2},
				{Name: "amount", DataType: "numeric", Description: "order total", OrdinalPosition: 3},
			},
			"customers": {
				{Name: "id", DataType: "bigint", IsPK: true, OrdinalPosition: 1},
				{Name: "name", DataType: "text", ChineseName: "姓名", OrdinalPosition: 2},
			},
		},
		TableMeta: map[string]models.TableMeta{
			"orders": {Name: "orders", ChineseName: "订单", Description: "Customer orders"},
		},
		SemanticColumns: []models.ColumnHit{{Table: "orders", Column: "amount", Score: 0.8}},
		JoinPaths: []models.JoinPath{
			{FKTable: "orders", FKColumn: "customer_id", PKTable: "customers", PKColumn: "id"},
		},
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))

	// 8 ASCII characters at 1/4 each.
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))

	// 3 Han characters at 1/1.5 each.
	assert.Equal(t, 2, EstimateTokens("订单表"))

	// Mixed content adds both contributions.
	mixed := EstimateTokens("订单表abcdefgh")
	assert.Equal(t, 4, mixed)
}

func TestTruncateToTokens(t *testing.T) {
	s := strings.Repeat("select * from orders; ", 50)

	got, truncated := truncateToTokens(s, 20)
	assert.True(t, truncated)
	assert.LessOrEqual(t, EstimateTokens(got), 20)
	assert.Contains(t, got, "(truncated)")

	got, truncated = truncateToTokens("short", 100)
	assert.False(t, truncated)
	assert.Equal(t, "short", got)
}

func TestBuildSectionsAndOrder(t *testing.T) {
	result := Build(&Input{
		Question:  "total amount per customer",
		Retrieval: sampleRetrieval(),
		FewShot:   []models.FewShotExample{{Question: "count orders", SQL: "SELECT COUNT(*) FROM orders"}},
		Code:      []models.CodeChunk{{FilePath: "dao/orders.py", Language: "python", Content: "def list_orders(): ..."}},
		Dialect:   "postgresql",
	})

	var names []string
	for _, s := range result.Sections {
		names = append(names, s.Name)
		assert.Positive(t, s.TokenCount)
	}
	assert.Equal(t, []string{"schema", "join_paths", "few_shot", "code_context", "db_specific_rules"}, names)

	assert.Contains(t, result.User, "表名: orders, customers")
	assert.Contains(t, result.User, "orders (订单)")
	assert.Contains(t, result.User, "orders.customer_id -> customers.id")
	assert.Contains(t, result.User, "SELECT COUNT(*) FROM orders")
	assert.Contains(t, result.User, "LIMIT n OFFSET m")
	assert.True(t, strings.HasSuffix(result.User, "Generate the SQL statement."))

	assert.Equal(t, []string{"orders", "customers"}, result.Tables)
	assert.Positive(t, result.TokenCount)
}

func TestBuildColumnRendering(t *testing.T) {
	result := Build(&Input{
		Question:  "q",
		Retrieval: sampleRetrieval(),
		Options:   Options{HighlightSemantic: true},
	})

	schema := result.Sections[0].Content
	assert.Contains(t, schema, "- id : bigint (PK)")
	assert.Contains(t, schema, "- customer_id : bigint (FK)")
	assert.Contains(t, schema, "- amount : numeric - order total [relevant]")
	assert.Contains(t, schema, "- name : text - 姓名")
}

func TestBuildMaxColumnsPerTable(t *testing.T) {
	r := sampleRetrieval()
	result := Build(&Input{
		Question:  "q",
		Retrieval: r,
		Options:   Options{MaxColumnsPerTable: 2},
	})

	schema := result.Sections[0].Content
	assert.Contains(t, schema, "1 more columns omitted")
	assert.NotContains(t, schema, "- amount")
}

func TestBuildSectionTruncation(t *testing.T) {
	r := sampleRetrieval()
	result := Build(&Input{
		Question:  "q",
		Retrieval: r,
		Options:   Options{SectionMaxTokens: map[string]int{"schema": 10}},
	})

	schema := result.Sections[0]
	assert.LessOrEqual(t, schema.TokenCount, 10)
	assert.Equal(t, true, schema.Metadata["truncated"])
	assert.Contains(t, schema.Content, "(truncated)")
}

func TestBuildEmptyRetrieval(t *testing.T) {
	result := Build(&Input{Question: "anything"})

	assert.Empty(t, result.Sections)
	assert.Empty(t, result.Tables)
	assert.Contains(t, result.User, "Question: anything")
}

func TestDialectRules(t *testing.T) {
	for _, d := range []string{"postgresql", "mysql", "oracle", "sqlserver"} {
		assert.NotEmpty(t, DialectRules(d), d)
	}
	assert.Empty(t, DialectRules("sybase"))
}
