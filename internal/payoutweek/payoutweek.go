// Package payoutweek maps timestamps onto Saturday-to-Friday payout epochs.
//
// All arithmetic is done in UTC. An epoch is identified by the ISO-8601 week
// and ISO year of its Saturday; every ISO week contains exactly one Saturday,
// so distinct Saturdays never share a (week, year) pair and consecutive
// Saturdays always land on consecutive ISO weeks.
package payoutweek

import (
	"strings"
	"time"

	"github.com/smallbiznis/repairpay/internal/clock"
	"github.com/smallbiznis/repairpay/internal/payrollerr"
)

const (
	Week = 7 * 24 * time.Hour

	anchorHour = 12
	dateLayout = "2006-01-02"
)

var (
	ErrInvalidEpoch = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_payout_epoch")
	ErrInvalidDate  = payrollerr.New(payrollerr.ErrInvalidInput, "invalid_date")
)

// Epoch is the permanent (week, year) pair an order is paid out in.
type Epoch struct {
	Week int `json:"week"`
	Year int `json:"year"`
}

// Range is the closed window [Start, End] of one payout week.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (r Range) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(r.Start) && !t.After(r.End)
}

// Next returns the start of the following payout week.
func (r Range) Next() time.Time {
	return r.Start.Add(Week)
}

// WeekStart returns Saturday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	back := (int(t.Weekday()) + 1) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -back)
}

// NextWeekStart returns the Saturday after the week containing t.
func NextWeekStart(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 7)
}

// WeekRange returns the Saturday 00:00 to Friday 23:59:59.999 window containing ref.
func WeekRange(ref time.Time) Range {
	start := WeekStart(ref)
	end := start.AddDate(0, 0, 7).Add(-time.Millisecond)
	return Range{Start: start, End: end}
}

// WeekRangeNow returns the current payout week according to c.
func WeekRangeNow(c clock.Clock) Range {
	return WeekRange(c.Now())
}

// EpochOf returns the payout epoch of t.
func EpochOf(t time.Time) Epoch {
	year, week := WeekStart(t).ISOWeek()
	return Epoch{Week: week, Year: year}
}

// PayoutEpoch is EpochOf returning the pair separately.
func PayoutEpoch(t time.Time) (week int, year int) {
	e := EpochOf(t)
	return e.Week, e.Year
}

// StartOf returns the Saturday that opens the given epoch.
func StartOf(e Epoch) (time.Time, error) {
	if e.Week < 1 || e.Week > 53 || e.Year < 1 {
		return time.Time{}, ErrInvalidEpoch
	}
	jan4 := time.Date(e.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	isoDow := int(jan4.Weekday())
	if isoDow == 0 {
		isoDow = 7
	}
	monday := jan4.AddDate(0, 0, 1-isoDow+7*(e.Week-1))
	saturday := monday.AddDate(0, 0, 5)
	if EpochOf(saturday) != e {
		return time.Time{}, ErrInvalidEpoch
	}
	return saturday, nil
}

// AnchorDate pins a calendar date to noon UTC so later week arithmetic never
// rounds it across a day boundary.
func AnchorDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, anchorHour, 0, 0, 0, time.UTC)
}

// Anchor re-anchors t's UTC calendar date to noon.
func Anchor(t time.Time) time.Time {
	t = t.UTC()
	return AnchorDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD calendar date into its noon UTC anchor.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return Anchor(parsed), nil
}

// SameDate reports whether a and b share a UTC calendar date.
func SameDate(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// FormatDate renders the UTC calendar date of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
