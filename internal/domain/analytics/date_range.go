package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DateRange bounds a report; both ends are inclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects ranges that end before they start.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("invalid date range: end %s is before start %s",
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ParseDateRange reads an optional report range. Both ends must be given
// together, as RFC3339 timestamps or YYYY-MM-DD dates; a date end covers the
// whole day. It returns nil when both ends are empty.
func ParseDateRange(start, end string) (*DateRange, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errors.New("start and end must be provided together")
	}

	from, err := parseBound(start, false)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	to, err := parseBound(end, true)
	if err != nil {
		return nil, fmt.Errorf("invalid end: %w", err)
	}
	dr := &DateRange{Start: from, End: to}
	if err := dr.Validate(); err != nil {
		return nil, err
	}
	return dr, nil
}

func parseBound(value string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor %s", value, dateLayout)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
