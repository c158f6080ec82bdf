package reconcile

import (
	"strings"
	"time"
)

var legacyTimestampLayouts = []string{
	legacyTimestampLayout,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

// parseLegacyTimestamp reads a source timestamp, reporting false when now was substituted.
func parseLegacyTimestamp(raw string, now time.Time) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return now, false
	}
	for _, layout := range legacyTimestampLayouts {
		parsed, err := time.Parse(layout, trimmed)
		if err == nil && parsed.Year() > 0 {
			return parsed.UTC(), true
		}
	}
	return now, false
}
