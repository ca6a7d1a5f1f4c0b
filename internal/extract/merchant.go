package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	digitsOnly     = regexp.MustCompile(`^\d+$`)
	dateShapedLine = regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{2,4}$`)
	moneyOnlyLine  = regexp.MustCompile(`^\$?\d+\.\d{2}$`)
)

// Merchant returns the first line that reads like a label rather than a
// number, date or price. Store names are nearly always printed first.
func Merchant(lines []string) string {
	for _, line := range lines {
		if line = strings.TrimSpace(line); isLabel(line) {
			return line
		}
	}
	return ""
}

func isLabel(line string) bool {
	if utf8.RuneCountInString(line) < 3 {
		return false
	}
	return !digitsOnly.MatchString(line) &&
		!dateShapedLine.MatchString(line) &&
		!moneyOnlyLine.MatchString(line)
}
