package messages

import (
	"fmt"
	"time"
)

// timeLayouts covers ISO 8601 as Python workers emit it: T or space
// separator, minute or second precision, and offsets with or without a colon.
var timeLayouts = func() []string {
	var layouts []string
	for _, sep := range []string{"T", " "} {
		for _, clock := range []string{"15:04:05.999999999", "15:04"} {
			for _, zone := range []string{"Z07:00", "Z0700", ""} {
				layouts = append(layouts, "2006-01-02"+sep+clock+zone)
			}
		}
	}
	return append(layouts, "2006-01-02")
}()

// ParseTime accepts RFC 3339 and ISO 8601 timestamps with or without an
// offset. Naive timestamps are taken as UTC. The result is always in UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func formatTime(ts *time.Time) *string {
	if ts == nil {
		return nil
	}
	s := ts.UTC().Format(time.RFC3339Nano)
	return &s
}
