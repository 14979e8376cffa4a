package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// cleanText collapses runs of whitespace to single spaces and trims.
func cleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// atoiOrZero parses a decimal string, returning 0 on anything non-numeric.
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// intPtr parses a decimal string into *int, nil on anything non-numeric.
func intPtr(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

var decimalRe = regexp.MustCompile(`^\d+(\.\d+)?$`)

// floatOrZero parses a decimal value that may carry thousands separators.
// Returns 0 for dashes, blanks and anything else non-numeric.
func floatOrZero(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if !decimalRe.MatchString(s) {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// moneyPtr parses an amount like "$1,234,567" into *int64.
func moneyPtr(s string) *int64 {
	s = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "$", ""), ",", ""))
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// hkt is the origin's timezone; every timestamp on its pages is local.
var hkt = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Hong_Kong"); err == nil {
		return loc
	}
	return time.FixedZone("HKT", 8*60*60)
}()

// seasonStartYear derives the racing season from a meeting date. The season
// starts in September: Jan-Aug belongs to the previous year's season.
func seasonStartYear(d time.Time) int {
	if d.Month() < time.September {
		return d.Year() - 1
	}
	return d.Year()
}
