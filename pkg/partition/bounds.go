package partition

import (
	"fmt"
	"strings"
	"time"
)

// Bounds is one partition's timestamp range: lower inclusive, upper
// exclusive.
type Bounds struct {
	Lower time.Time
	Upper time.Time
}

// NameSuffix returns the YYYY_MM suffix a partition for these bounds gets
// appended to the base table name.
func (b Bounds) NameSuffix() string {
	return b.Lower.Format("2006_01")
}

// MonthBounds returns the bounds covering the calendar month containing t.
func MonthBounds(t time.Time) Bounds {
	lower := monthStart(t)
	return Bounds{Lower: lower, Upper: addMonths(lower, 1)}
}

// monthStart truncates t to midnight UTC on the first of its month.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func addMonths(month time.Time, n int) time.Time {
	return time.Date(month.Year(), month.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

// monthsIn returns the first-of-month values in [start, end).
func monthsIn(start, end time.Time) []time.Time {
	var months []time.Time
	for current := monthStart(start); current.Before(end); current = addMonths(current, 1) {
		months = append(months, current)
	}
	return months
}

// ParseYearMonth parses a YYYY-MM value into the first of that month, UTC.
func ParseYearMonth(value string) (time.Time, error) {
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid YYYY-MM value %q", value)
	}
	return monthStart(t), nil
}

// parseBound parses a pg_get_expr partition bound like
// "FOR VALUES FROM ('2025-11-01 00:00:00+00') TO ('2025-12-01 00:00:00+00')".
func parseBound(bound string) (Bounds, bool) {
	tokens := strings.ReplaceAll(bound, "FOR VALUES FROM (", "")
	tokens = strings.ReplaceAll(tokens, ")", "")
	lowerPart, upperPart, found := strings.Cut(tokens, " TO ")
	if !found {
		return Bounds{}, false
	}
	lower, err := parseBoundTime(strings.Trim(lowerPart, " '"))
	if err != nil {
		return Bounds{}, false
	}
	upper, err := parseBoundTime(strings.Trim(upperPart, " '"))
	if err != nil {
		return Bounds{}, false
	}
	return Bounds{Lower: lower, Upper: upper}, true
}

var boundLayouts = []string{
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func parseBoundTime(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range boundLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
