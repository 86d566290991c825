package storage

import (
	"fmt"
	"strconv"
	"time"
)

// DayLayout is the calendar day key format.
const DayLayout = "2006-01-02"

// DayKey returns the calendar day key of t in t's location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay parses a day key in loc.
func ParseDay(day string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day key %q: %w", day, err)
	}
	return t, nil
}

// DayScore returns the sortable yyyymmdd integer for a day key.
func DayScore(day string) (int64, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return 0, fmt.Errorf("invalid day key %q: %w", day, err)
	}
	return strconv.ParseInt(t.Format("20060102"), 10, 64)
}

// RetentionCutoff returns the first day key that is kept when raw records
// are retained for days calendar days ending at now.
func RetentionCutoff(now time.Time, days int) string {
	return DayKey(now.AddDate(0, 0, -days))
}
