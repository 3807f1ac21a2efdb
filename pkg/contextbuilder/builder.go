// Package contextbuilder assembles the SQL-generation prompts from a
// retrieval result, few-shot examples, code context and dialect rules.
package contextbuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Section priorities; lower renders first.
const (
	prioritySchema    = 0
	priorityJoinPaths = 10
	priorityFewShot   = 20
	priorityCode      = 30
	priorityDialect   = 40
)

// Options tunes section rendering and budgets. Zero values fall back to
// the defaults below.
type Options struct {
	MaxColumnsPerTable int
	MaxExamples        int
	MaxSnippets        int

	// Per-section token budgets keyed by section name; zero means
	// unlimited.
	SectionMaxTokens map[string]int

	// HighlightSemantic marks columns that appeared as semantic hits.
	HighlightSemantic bool
}

const (
	defaultMaxColumnsPerTable = 30
	defaultMaxExamples        = 3
	defaultMaxSnippets        = 3
)

// Input is everything the builder may render.
type Input struct {
	Question  string
	Retrieval *models.RetrievalResult
	FewShot   []models.FewShotExample
	Code      []models.CodeChunk
	Dialect   string
	Options   Options
}

// Section is one rendered prompt block.
type Section struct {
	Name       string         `json:"name"`
	Content    string         `json:"content"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result carries the assembled prompts. Tables lists the schema tables the
// prompt covers, matching the 表名 marker inside the schema section.
type Result struct {
	System     string    `json:"system"`
	User       string    `json:"user"`
	Sections   []Section `json:"sections"`
	Tables     []string  `json:"tables"`
	TokenCount int       `json:"token_count"`
}

const systemPrompt = `You are an expert SQL engineer. Given a database schema, join paths and examples, write one correct SQL statement answering the user's question.
Rules:
- Use only tables and columns shown in the schema.
- Prefer explicit JOINs along the listed join paths.
- Return only the SQL statement unless asked otherwise.`

// Build assembles the system and user prompts. Sections render in priority
// order, each truncated to its token budget, and concatenate with blank
// lines. The user prompt ends with the question and a generation
// instruction.
func Build(in *Input) *Result {
	opts := in.Options
	if opts.MaxColumnsPerTable <= 0 {
		opts.MaxColumnsPerTable = defaultMaxColumnsPerTable
	}
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = defaultMaxExamples
	}
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = defaultMaxSnippets
	}

	type renderer struct {
		name     string
		priority int
		render   func() (string, map[string]any)
	}

	renderers := []renderer{
		{"schema", prioritySchema, func() (string, map[string]any) { return renderSchema(in.Retrieval, &opts) }},
		{"join_paths", priorityJoinPaths, func() (string, map[string]any) { return renderJoinPaths(in.Retrieval) }},
		{"few_shot", priorityFewShot, func() (string, map[string]any) { return renderFewShot(in.FewShot, opts.MaxExamples) }},
		{"code_context", priorityCode, func() (string, map[string]any) { return renderCode(in.Code, opts.MaxSnippets) }},
		{"db_specific_rules", priorityDialect, func() (string, map[string]any) { return renderDialect(in.Dialect) }},
	}
	sort.SliceStable(renderers, func(i, j int) bool { return renderers[i].priority < renderers[j].priority })

	result := &Result{System: systemPrompt}
	if in.Retrieval != nil {
		result.Tables = append(result.Tables, in.Retrieval.Tables...)
	}

	var blocks []string
	for _, r := range renderers {
		content, meta := r.render()
		if content == "" {
			continue
		}

		if budget := opts.SectionMaxTokens[r.name]; budget > 0 {
			var truncated bool
			content, truncated = truncateToTokens(content, budget)
			if truncated {
				if meta == nil {
					meta = map[string]any{}
				}
				meta["truncated"] = true
			}
		}

		section := Section{
			Name:       r.name,
			Content:    content,
			TokenCount: EstimateTokens(content),
			Metadata:   meta,
		}
		result.Sections = append(result.Sections, section)
		blocks = append(blocks, content)
	}

	var user strings.Builder
	user.WriteString(strings.Join(blocks, "\n\n"))
	if user.Len() > 0 {
		user.WriteString("\n\n")
	}
	user.WriteString("Question: ")
	user.WriteString(in.Question)
	user.WriteString("\nGenerate the SQL statement.")

	result.User = user.String()
	result.TokenCount = EstimateTokens(result.System) + EstimateTokens(result.User)
	return result
}

// renderSchema writes per-table headings and column lines. The leading
// 表名 line lists every covered table for downstream context parsing.
func renderSchema(r *models.RetrievalResult, opts *Options) (string, map[string]any) {
	if r == nil || len(r.Tables) == 0 {
		return "", nil
	}

	semantic := make(map[string]bool)
	if opts.HighlightSemantic {
		for _, hit := range r.SemanticColumns {
			semantic[hit.Table+"."+hit.Column] = true
		}
	}

	var b strings.Builder
	b.WriteString("表名: ")
	b.WriteString(strings.Join(r.Tables, ", "))
	b.WriteString("\n")

	for _, table := range r.Tables {
		heading := table
		if meta, ok := r.TableMeta[table]; ok && meta.ChineseName != "" {
			heading = fmt.Sprintf("%s (%s)", table, meta.ChineseName)
		}
		b.WriteString("\n## ")
		b.WriteString(heading)
		if meta, ok := r.TableMeta[table]; ok && meta.Description != "" {
			b.WriteString("\n")
			b.WriteString(meta.Description)
		}
		b.WriteString("\n")

		cols := r.Columns[table]
		limit := len(cols)
		if limit > opts.MaxColumnsPerTable {
			limit = opts.MaxColumnsPerTable
		}
		for _, col := range cols[:limit] {
			b.WriteString(renderColumn(table, col, semantic))
			b.WriteString("\n")
		}
		if len(cols) > limit {
			fmt.Fprintf(&b, "... %d more columns omitted\n", len(cols)-limit)
		}
	}

	return strings.TrimRight(b.String(), "\n"), map[string]any{"tables": len(r.Tables)}
}

func renderColumn(table string, col models.ColumnInfo, semantic map[string]bool) string {
	var flags []string
	if col.IsPK {
		flags = append(flags, "PK")
	}
	if col.IsFK {
		flags = append(flags, "FK")
	}
	if col.IsUnique {
		flags = append(flags, "UQ")
	}
	if col.IsIndexed {
		flags = append(flags, "IDX")
	}

	line := fmt.Sprintf("- %s : %s", col.Name, col.DataType)
	if len(flags) > 0 {
		line += fmt.Sprintf(" (%s)", strings.Join(flags, "|"))
	}
	desc := col.Description
	if desc == "" && col.ChineseName != "" {
		desc = col.ChineseName
	}
	if desc != "" {
		line += " - " + desc
	}
	if semantic[table+"."+col.Name] {
		line += " [relevant]"
	}
	return line
}

func renderJoinPaths(r *models.RetrievalResult) (string, map[string]any) {
	if r == nil || len(r.JoinPaths) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Join paths:\n")
	for _, p := range r.JoinPaths {
		fmt.Fprintf(&b, "%s.%s -> %s.%s\n", p.FKTable, p.FKColumn, p.PKTable, p.PKColumn)
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"edges": len(r.JoinPaths)}
}

func renderFewShot(examples []models.FewShotExample, maxExamples int) (string, map[string]any) {
	if len(examples) == 0 {
		return "", nil
	}
	if len(examples) > maxExamples {
		examples = examples[:maxExamples]
	}

	var b strings.Builder
	b.WriteString("Examples:\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "\nExample %d:\nQ: %s\n```sql\n%s\n```\n", i+1, ex.Question, ex.SQL)
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"examples": len(examples)}
}

func renderCode(chunks []models.CodeChunk, maxSnippets int) (string, map[string]any) {
	if len(chunks) == 0 {
		return "", nil
	}
	if len(chunks) > maxSnippets {
		chunks = chunks[:maxSnippets]
	}

	var b strings.Builder
	b.WriteString("Related code:\n")
	for _, c := range chunks {
		lang := c.Language
		if lang == "" {
			lang = "text"
		}
		fmt.Fprintf(&b, "\n%s:\n```%s\n%s\n```\n", c.FilePath, lang, c.Content)
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"snippets": len(chunks)}
}

func renderDialect(dialect string) (string, map[string]any) {
	rules := DialectRules(dialect)
	if rules == "" {
		return "", nil
	}
	return rules, map[string]any{"dialect": dialect}
}
