// Package sqlexec runs SQL against configured target databases with
// safety classification, dialect-aware syntax probes and row limiting.
package sqlexec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// SafetyReport is the static classification of one SQL statement.
type SafetyReport struct {
	Safe          bool     `json:"safe"`
	IsMutation    bool     `json:"is_mutation"`
	StatementType string   `json:"statement_type"`
	Warnings      []string `json:"warnings,omitempty"`
}

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespaceRe   = regexp.MustCompile(`\s+`)

	mutationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^INSERT\s`),
		regexp.MustCompile(`^UPDATE\s.+\sSET\s`),
		regexp.MustCompile(`^DELETE\s+FROM\s`),
		regexp.MustCompile(`^TRUNCATE\s`),
		regexp.MustCompile(`^DROP\s`),
		regexp.MustCompile(`^ALTER\s`),
		regexp.MustCompile(`^CREATE\s`),
		regexp.MustCompile(`^GRANT\s`),
		regexp.MustCompile(`^REVOKE\s`),
	}

	deleteNoWhereRe = regexp.MustCompile(`^DELETE\s+FROM\s+\S+\s*$`)
	updateAlwaysRe  = regexp.MustCompile(`UPDATE\s.+\sWHERE\s+(1\s*=\s*1|TRUE)\s*$`)
)

// normalizeSQL strips comments, collapses whitespace and removes the
// trailing semicolon.
func normalizeSQL(sql string) string {
	s := lineCommentRe.ReplaceAllString(sql, " ")
	s = blockCommentRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// CheckSQL statically classifies a statement. It never touches a database.
func CheckSQL(sql string) *SafetyReport {
	normalized := normalizeSQL(sql)
	upper := strings.ToUpper(normalized)

	report := &SafetyReport{Safe: true}

	if upper == "" {
		report.Safe = false
		report.Warnings = append(report.Warnings, "empty statement")
		return report
	}

	fields := strings.Fields(upper)
	report.StatementType = fields[0]

	for _, re := range mutationPatterns {
		if re.MatchString(upper) {
			report.IsMutation = true
			break
		}
	}

	if strings.Contains(upper, "DROP DATABASE") {
		report.Warnings = append(report.Warnings, "drops a database")
	}
	if strings.Contains(upper, "DROP TABLE") {
		report.Warnings = append(report.Warnings, "drops a table")
	}
	if strings.Contains(upper, "TRUNCATE TABLE") || report.StatementType == "TRUNCATE" {
		report.Warnings = append(report.Warnings, "truncates a table")
	}
	if deleteNoWhereRe.MatchString(upper) {
		report.Warnings = append(report.Warnings, "DELETE without WHERE clause")
	}
	if updateAlwaysRe.MatchString(upper) {
		report.Warnings = append(report.Warnings, "UPDATE with always-true WHERE clause")
	}

	// Whole statements always look like SQL, so injection scanning runs on
	// the embedded string literals where user text ends up.
	for _, literal := range stringLiterals(normalized) {
		if found, fingerprint := libinjection.IsSQLi(literal); found {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("injection-like pattern in string literal %q (%s)", literal, fingerprint))
		}
	}

	if report.IsMutation || len(report.Warnings) > 0 {
		report.Safe = false
	}

	return report
}

var stringLiteralRe = regexp.MustCompile(`'((?:[^']|'')*)'`)

// stringLiterals extracts the contents of single-quoted literals, with
// doubled quotes unescaped.
func stringLiterals(sql string) []string {
	var out []string
	for _, m := range stringLiteralRe.FindAllStringSubmatch(sql, -1) {
		literal := strings.ReplaceAll(m[1], "''", "'")
		if literal != "" {
			out = append(out, literal)
		}
	}
	return out
}

// selectRe matches statements eligible for row limiting.
var (
	selectRe    = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
	hasLimitRe  = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	hasFetchRe  = regexp.MustCompile(`(?i)\bFETCH\s+(FIRST|NEXT)\b`)
	hasTopRe    = regexp.MustCompile(`(?i)\bSELECT\s+TOP\b`)
	trailingSem = regexp.MustCompile(`;\s*$`)
)

// IsSelect reports whether the statement reads rather than mutates.
func IsSelect(sql string) bool {
	return selectRe.MatchString(normalizeSQL(sql))
}

// HasRowLimit reports whether the statement already bounds its row count.
func HasRowLimit(sql string) bool {
	return hasLimitRe.MatchString(sql) || hasFetchRe.MatchString(sql) || hasTopRe.MatchString(sql)
}

// ApplyRowLimit appends a LIMIT clause for SELECTs lacking one, on dialects
// that accept LIMIT. Returns the possibly rewritten statement and whether
// a limit was added.
func ApplyRowLimit(sql, dialect string, limit int) (string, bool) {
	if limit <= 0 || !IsSelect(sql) || HasRowLimit(sql) {
		return sql, false
	}
	switch dialect {
	case "postgresql", "mysql":
	default:
		return sql, false
	}

	trimmed := trailingSem.ReplaceAllString(strings.TrimSpace(sql), "")
	return trimmed + " LIMIT " + strconv.Itoa(limit), true
}
