package domain

import (
	"time"
)

// timestampLayouts are the textual forms accepted for start_date/end_date,
// most specific first. Offsets are accepted but discarded (see ParseTimestamp).
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a flexible textual timestamp and strips its timezone:
// the wall-clock fields are kept as written and re-interpreted in UTC, so all
// window comparisons happen in one implicit zone. Mixed-offset inputs therefore
// normalize deterministically instead of shifting the clock.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		return StripZone(t), nil
	}
	return time.Time{}, Validationf("unparseable timestamp %q", value)
}

// StripZone drops the zone while keeping the wall clock
func StripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// FormatTimestamp renders a stored timestamp for API responses
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
