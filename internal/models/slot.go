package models

import (
	"errors"
	"fmt"
	"time"
)

const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"
)

var errSlotOrder = errors.New("slot start must be before end")

// TimeSlot is the half-open interval [Start, End) on a single resource.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeSlot parses a (date, startTime, endTime) triple in loc.
func NewTimeSlot(date, startTime, endTime string, loc *time.Location) (TimeSlot, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateFormat+" "+TimeFormat, date+" "+startTime, loc)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("parse start: %w", err)
	}
	end, err := time.ParseInLocation(DateFormat+" "+TimeFormat, date+" "+endTime, loc)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("parse end: %w", err)
	}
	slot := TimeSlot{Start: start, End: end}
	if err := slot.Validate(); err != nil {
		return TimeSlot{}, err
	}
	return slot, nil
}

func (s TimeSlot) Validate() error {
	if s.Start.IsZero() || s.End.IsZero() || !s.Start.Before(s.End) {
		return errSlotOrder
	}
	return nil
}

// Overlaps reports max(startA, startB) < min(endA, endB).
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

func (s TimeSlot) Equal(o TimeSlot) bool {
	return s.Start.Equal(o.Start) && s.End.Equal(o.End)
}

func (s TimeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// WholeHours rounds the slot length up to full hours.
func (s TimeSlot) WholeHours() int {
	d := s.Duration()
	hours := int(d / time.Hour)
	if d%time.Hour != 0 {
		hours++
	}
	return hours
}

func (s TimeSlot) String() string {
	return fmt.Sprintf("[%s, %s)", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339))
}
