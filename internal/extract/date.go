package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var (
	monthDayYear = regexp.MustCompile(`(?:^|\D)(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})(?:\D|$)`)
	yearMonthDay = regexp.MustCompile(`(?:^|\D)(\d{4})[/-](\d{1,2})[/-](\d{1,2})(?:\D|$)`)
	namedMonth   = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s*(\d{2,4})\b`)
)

var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// dateFamily turns one regexp submatch into year, month and day strings.
type dateFamily struct {
	pattern *regexp.Regexp
	fields  func(m []string) (year, month, day string)
}

// dateFamilies are tried in order on every line.
var dateFamilies = []dateFamily{
	{monthDayYear, func(m []string) (string, string, string) { return m[3], m[1], m[2] }},
	{yearMonthDay, func(m []string) (string, string, string) { return m[1], m[2], m[3] }},
	{namedMonth, func(m []string) (string, string, string) {
		return m[3], strconv.Itoa(monthNumbers[strings.ToLower(m[1][:3])]), m[2]
	}},
}

// Date returns the first date found in the text as YYYY-MM-DD, or "".
// Numeric dates are read month first; two-digit years are taken to be 20xx.
// Numeric dates may be glued to letters but never to other digits.
func Date(lines []string) string {
	for _, line := range lines {
		for _, family := range dateFamilies {
			for _, m := range family.pattern.FindAllStringSubmatch(line, -1) {
				if date, err := calendarDate(family.fields(m)); err == nil {
					return date
				}
			}
		}
	}
	return ""
}

// calendarDate validates the parts and formats them as an ISO date.
func calendarDate(year, month, day string) (string, error) {
	switch len(year) {
	case 2:
		year = "20" + year
	case 4:
	default:
		return "", fmt.Errorf("year %q has %d digits", year, len(year))
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", fmt.Errorf("parsing year: %w", err)
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return "", fmt.Errorf("parsing month: %w", err)
	}
	d, err := strconv.Atoi(day)
	if err != nil {
		return "", fmt.Errorf("parsing day: %w", err)
	}

	date := fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	// time.Parse rejects month 13, day 32, Feb 30 and friends.
	if _, err := time.Parse(isoDate, date); err != nil {
		return "", fmt.Errorf("invalid date %s: %w", date, err)
	}
	return date, nil
}
