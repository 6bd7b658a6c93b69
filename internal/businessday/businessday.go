// Package businessday maps instants and calendar dates to the UTC interval of
// the merchant's local business day.
//
// Every range is half-open: an instant t belongs to the day when
// start <= t < end. Stores must query with the same convention.
package businessday

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

const maxOffset = 14 * time.Hour

// Resolver converts instants to business-day ranges for a fixed UTC offset.
type Resolver struct {
	loc    *time.Location
	offset time.Duration
}

// New returns a resolver for the given fixed offset from UTC, e.g. -3h.
func New(offset time.Duration) (*Resolver, error) {
	if offset < -maxOffset || offset > maxOffset {
		return nil, fmt.Errorf("utc offset %s out of range", offset)
	}
	if offset%time.Minute != 0 {
		return nil, fmt.Errorf("utc offset %s must be a whole number of minutes", offset)
	}
	return &Resolver{
		loc:    time.FixedZone(zoneName(offset), int(offset/time.Second)),
		offset: offset,
	}, nil
}

// FromMinutes is New for offsets configured in minutes.
func FromMinutes(minutes int) (*Resolver, error) {
	return New(time.Duration(minutes) * time.Minute)
}

func (r *Resolver) Offset() time.Duration {
	return r.offset
}

func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Range returns the UTC bounds of the business day containing t.
func (r *Resolver) Range(t time.Time) (start time.Time, end time.Time) {
	local := t.In(r.loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc).UTC()
	return start, start.Add(24 * time.Hour)
}

// RangeForDate parses a YYYY-MM-DD calendar date in the business zone and
// returns the UTC bounds of that day. The host timezone plays no part.
func (r *Resolver) RangeForDate(date string) (start time.Time, end time.Time, err error) {
	parsed, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), r.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid business date %q: %w", date, err)
	}
	start = parsed.UTC()
	return start, start.Add(24 * time.Hour), nil
}

// Date formats the local calendar date that t falls on.
func (r *Resolver) Date(t time.Time) string {
	return t.In(r.loc).Format(DateLayout)
}

func zoneName(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("UTC%s%02d:%02d", sign, h, m)
}
