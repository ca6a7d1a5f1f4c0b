// Package extract infers the amount, merchant and date of a receipt from raw
// OCR text. Every function here is pure: the extractors only read the line
// slice they are given.
package extract

import "strings"

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Lines splits raw OCR text into trimmed, non-empty lines, keeping their order.
func Lines(raw string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(lineBreaks.Replace(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
