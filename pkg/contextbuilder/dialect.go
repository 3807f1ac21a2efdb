package contextbuilder

// dialectRules holds per-dialect SQL authoring guidance injected into the
// generation prompt when the target's dialect is known.
var dialectRules = map[string]string{
	"postgresql": `PostgreSQL rules:
- Pagination: LIMIT n OFFSET m
- Date difference: d1 - d2 > INTERVAL '7 days'
- Quote identifiers with double quotes: "Name"
- Use standard SQL functions; avoid vendor extensions from other systems`,
	"mysql": `MySQL rules:
- Pagination: LIMIT m, n or LIMIT n OFFSET m
- Date difference: DATEDIFF(d1, d2) > 7
- Quote identifiers with backticks: ` + "`name`" + `
- Avoid window functions if the server version is unknown to be >= 8.0`,
	"oracle": `Oracle rules:
- Row limiting: FETCH FIRST n ROWS ONLY (or ROWNUM on older versions)
- Date difference: d1 - d2 > 7 (subtraction returns days)
- Quote identifiers with double quotes: "Name"
- No LIMIT keyword; do not emit MySQL or PostgreSQL pagination syntax`,
	"sqlserver": `SQL Server rules:
- Row limiting: TOP n, or OFFSET ... FETCH NEXT for pagination
- Date difference: DATEDIFF(day, d1, d2) > 7
- Quote identifiers with brackets: [Name]
- String concatenation uses + not ||`,
}

// DialectRules returns authoring guidance for the dialect, or empty when
// the dialect is unknown.
func DialectRules(dialect string) string {
	return dialectRules[dialect]
}
