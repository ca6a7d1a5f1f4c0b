package extract

import (
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/shopspring/decimal"
)

// totalKeywords label the line (or the line after it) holding the total.
var totalKeywords = []string{"total", "amount due", "balance", "grand total", "subtotal"}

var moneyToken = regexp.MustCompile(`\$?(\d+\.\d{2})`)

// Amount returns the best guess for the receipt total, or "" when the text
// holds no money token at all.
//
// Lines carrying a total keyword win: the first token on a keyword line, or
// on the line right after a keyword line without one, is the answer. Without
// any such hit the largest token in the document is used.
func Amount(lines []string) string {
	if amount, ok := anchoredAmount(lines); ok {
		return amount
	}
	return largestAmount(lines)
}

func anchoredAmount(lines []string) (string, bool) {
	// The matcher mutates internal counters while matching, so each call
	// gets its own.
	keywords := ahocorasick.NewStringMatcher(totalKeywords)
	anchored := false
	for _, line := range lines {
		keyword := len(keywords.Match([]byte(strings.ToLower(line)))) > 0
		if keyword || anchored {
			if m := moneyToken.FindStringSubmatch(line); m != nil {
				return m[1], true
			}
		}
		// Only the line directly after a keyword line inherits the anchor.
		anchored = keyword
	}
	return "", false
}

func largestAmount(lines []string) string {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, line := range lines {
		for _, m := range moneyToken.FindAllStringSubmatch(line, -1) {
			d, err := decimal.NewFromString(m[1])
			if err != nil {
				continue
			}
			if !found || d.GreaterThan(best) {
				best, found = d, true
			}
		}
	}
	if !found {
		return ""
	}
	return best.StringFixed(2)
}
