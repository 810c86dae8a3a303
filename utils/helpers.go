package utils

import (
	"fmt"
	"time"
)

// DefaultStatsWindow is how far back stats queries look when no start is given.
const DefaultStatsWindow = 7 * 24 * time.Hour

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// ParseTimeRange parses optional RFC3339 start and end bounds. A missing end
// is now; a missing start is DefaultStatsWindow before end.
func ParseTimeRange(startParam, endParam string, now time.Time) (start, end time.Time, err error) {
	end = now.UTC()
	if endParam != "" {
		if end, err = time.Parse(time.RFC3339, endParam); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'end' timestamp, use RFC3339 (e.g. 2006-01-02T15:04:05Z)")
		}
	}

	start = end.Add(-DefaultStatsWindow)
	if startParam != "" {
		if start, err = time.Parse(time.RFC3339, startParam); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'start' timestamp, use RFC3339 (e.g. 2006-01-02T15:04:05Z)")
		}
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("'start' must not be after 'end'")
	}
	return start, end, nil
}
