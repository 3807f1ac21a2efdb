package models

// TableHit is one table returned by vector search over table embeddings.
type TableHit struct {
	TableName   string  `json:"table_name"`
	DBName      string  `json:"db_name"`
	ChineseName string  `json:"chinese_name,omitempty"`
	Description string  `json:"description,omitempty"`
	Domain      string  `json:"domain,omitempty"`
	Score       float64 `json:"score"`
}

// ColumnHit is one column returned by vector search over column embeddings.
type ColumnHit struct {
	Table       string  `json:"table"`
	Column      string  `json:"column"`
	ChineseName string  `json:"chinese_name,omitempty"`
	DataType    string  `json:"data_type,omitempty"`
	IsPK        bool    `json:"is_pk"`
	IsFK        bool    `json:"is_fk"`
	Score       float64 `json:"score"`
}

// ColumnInfo is the full schema-graph description of a column.
type ColumnInfo struct {
	Name            string `json:"name"`
	ChineseName     string `json:"chinese_name,omitempty"`
	DataType        string `json:"data_type"`
	BaseType        string `json:"base_type,omitempty"`
	IsPK            bool   `json:"is_pk"`
	IsFK            bool   `json:"is_fk"`
	IsNullable      bool   `json:"is_nullable"`
	IsIndexed       bool   `json:"is_indexed"`
	IsUnique        bool   `json:"is_unique"`
	Description     string `json:"description,omitempty"`
	OrdinalPosition int    `json:"ordinal_position"`
}

// TableMeta carries per-table descriptive metadata from the schema graph.
type TableMeta struct {
	Name        string `json:"name"`
	ChineseName string `json:"chinese_name,omitempty"`
	Description string `json:"description,omitempty"`
	Domain      string `json:"domain,omitempty"`
}

// JoinPath is one FK edge usable to join two retrieved tables.
type JoinPath struct {
	FKTable  string `json:"fk_table"`
	FKColumn string `json:"fk_column"`
	PKTable  string `json:"pk_table"`
	PKColumn string `json:"pk_column"`
}

// FewShotExample is a stored question/SQL pair used for prompt examples.
type FewShotExample struct {
	ID          string   `json:"id"`
	DBName      string   `json:"db_name"`
	Question    string   `json:"question"`
	SQL         string   `json:"sql"`
	TablesUsed  []string `json:"tables_used,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
	MessageID   string   `json:"message_id,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	Score       float64  `json:"score,omitempty"`
}

// CodeChunk is a retrieved source snippet giving query-building context.
type CodeChunk struct {
	FilePath string  `json:"file_path"`
	Language string  `json:"language,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// StageStat records one retrieval pipeline stage's effect on the table set.
type StageStat struct {
	Before   int            `json:"before"`
	After    int            `json:"after"`
	Skipped  bool           `json:"skipped,omitempty"`
	Error    string         `json:"error,omitempty"`
	Decision map[string]any `json:"decision,omitempty"`
}

// RetrievalResult is the immutable output of the schema retrieval pipeline.
type RetrievalResult struct {
	Tables          []string                `json:"tables"`
	Columns         map[string][]ColumnInfo `json:"columns"`
	TableMeta       map[string]TableMeta    `json:"table_meta,omitempty"`
	TableScores     map[string]float64      `json:"table_scores,omitempty"`
	SemanticColumns []ColumnHit             `json:"semantic_columns,omitempty"`
	JoinPaths       []JoinPath              `json:"join_paths,omitempty"`
	Stats           map[string]StageStat    `json:"stats,omitempty"`
}

// HasTable reports whether the result's kept set contains the table.
func (r *RetrievalResult) HasTable(name string) bool {
	for _, t := range r.Tables {
		if t == name {
			return true
		}
	}
	return false
}
