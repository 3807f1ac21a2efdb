package contextbuilder

import (
	"math"
	"unicode"
)

// EstimateTokens approximates the token count of a prompt fragment. CJK
// characters weigh 1/1.5 tokens, everything else 1/4. Consumers must treat
// this as an approximation, not tokenizer truth.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}

	var cjk, other int
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}

	return int(math.Ceil(float64(cjk)/1.5 + float64(other)/4))
}

// truncateToTokens cuts s so its estimated token count fits maxTokens,
// appending a truncation marker when anything was removed.
func truncateToTokens(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || EstimateTokens(s) <= maxTokens {
		return s, false
	}

	const marker = "\n... (truncated)"
	budget := maxTokens - EstimateTokens(marker)
	if budget < 0 {
		budget = 0
	}

	runes := []rune(s)
	// Binary search the longest prefix within budget.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if EstimateTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return string(runes[:lo]) + marker, true
}
