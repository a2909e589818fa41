package cron

import (
	"fmt"
	"time"
)

// Daily fires once a day at a fixed wall-clock time in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// ParseDaily reads "HH:MM". An empty location means UTC.
func ParseDaily(value string, loc *time.Location) (Daily, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return Daily{}, fmt.Errorf("parse daily schedule %q: %w", value, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Daily{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

// Next returns the first firing strictly after from.
func (d Daily) Next(from time.Time) time.Time {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	local := from.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d Daily) String() string {
	return fmt.Sprintf("daily@%02d:%02d", d.Hour, d.Minute)
}
