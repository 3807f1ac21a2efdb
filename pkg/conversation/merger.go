package conversation

import (
	"strings"

	"github.com/easysql-ai/easysql-engine/pkg/contextbuilder"
)

// tableMarker prefixes the schema section line listing scoped tables. The
// context builder writes it; the merger reads it back when only the raw
// prompt text survived.
const tableMarker = "表名:"

// MergeTables unions the tables scoped in an earlier turn's context with
// the newly retrieved set, preserving cached-first order. The typed Tables
// field is authoritative; the marker line is the fallback for contexts
// rehydrated from plain text.
func (m *Manager) MergeTables(cached *contextbuilder.Result, tables []string) []string {
	if cached == nil {
		return tables
	}

	previous := cached.Tables
	if len(previous) == 0 {
		previous = ParseTableMarker(cached.User)
	}
	if len(previous) == 0 {
		return tables
	}

	seen := make(map[string]bool, len(previous)+len(tables))
	merged := make([]string, 0, len(previous)+len(tables))
	for _, t := range previous {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range tables {
		if t != "" && !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}

// ParseTableMarker extracts table names from the first marker line in a
// rendered prompt. Returns nil when no marker is present.
func ParseTableMarker(prompt string) []string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, tableMarker) {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, tableMarker))
		if rest == "" {
			return nil
		}
		parts := strings.Split(rest, ",")
		tables := make([]string, 0, len(parts))
		for _, p := range parts {
			if name := strings.TrimSpace(p); name != "" {
				tables = append(tables, name)
			}
		}
		return tables
	}
	return nil
}
