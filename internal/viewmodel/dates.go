package viewmodel

import (
	"time"
)

// DefaultDateLayout is the en-US short date, e.g. 5/1/2023.
const DefaultDateLayout = "1/2/2006"

// Layouts accepted from the directory API. Timestamps without an offset are
// read in the formatter's location.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// DateFormatter renders timestamps date-only.
type DateFormatter struct {
	Layout   string
	Location *time.Location
}

func (f DateFormatter) layout() string {
	if f.Layout == "" {
		return DefaultDateLayout
	}
	return f.Layout
}

func (f DateFormatter) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// Format returns "" for a missing or unparseable timestamp.
func (f DateFormatter) Format(raw string) string {
	if raw == "" {
		return ""
	}

	loc := f.location()
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return t.In(loc).Format(f.layout())
		}
	}
	return ""
}
