// Package calendar does the business-day arithmetic behind attendance rates.
// Dates are calendar days, represented as UTC midnight.
package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ParseError reports malformed date or time input.
type ParseError struct {
	Input  string
	Layout string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("calendar: cannot parse %q as %s: %v", e.Input, e.Layout, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ParseError{Input: s, Layout: DateLayout, Err: err}
	}
	return t, nil
}

// ParseArrivalTime validates an HH:mm time and returns it normalised.
func ParseArrivalTime(s string) (string, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return "", &ParseError{Input: s, Layout: TimeLayout, Err: err}
	}
	return t.Format(TimeLayout), nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day returns t's calendar date in t's location as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports whether t falls Monday to Friday.
func IsBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// BusinessDaysBetween returns every weekday in [start, end], ascending.
func BusinessDaysBetween(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if start.After(end) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// ElapsedBusinessDays returns the business days from formationStart up to
// today, never past formationEnd.
func ElapsedBusinessDays(formationStart, formationEnd, today time.Time) []time.Time {
	end := Day(formationEnd)
	if t := Day(today); t.Before(end) {
		end = t
	}
	return BusinessDaysBetween(formationStart, end)
}

// TotalBusinessDays counts the business days of the whole formation.
func TotalBusinessDays(formationStart, formationEnd time.Time) int {
	return len(BusinessDaysBetween(formationStart, formationEnd))
}

// Window is the formation date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ParseWindow builds a Window from two YYYY-MM-DD strings.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Elapsed is ElapsedBusinessDays over the window.
func (w Window) Elapsed(today time.Time) []time.Time {
	return ElapsedBusinessDays(w.Start, w.End, today)
}

// Total is TotalBusinessDays over the window.
func (w Window) Total() int {
	return TotalBusinessDays(w.Start, w.End)
}

func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}{FormatDate(w.Start), FormatDate(w.End)})
}
