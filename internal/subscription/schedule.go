package subscription

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval rejects month counts outside the offered cadences.
var ErrInvalidInterval = errors.New("invalid interval")

// AddMonths adds whole calendar months to date, clamping the day to the last
// day of the target month. The result is a UTC date with no time component.
func AddMonths(date time.Time, months int) (time.Time, error) {
	if !Interval(months).Valid() {
		return time.Time{}, fmt.Errorf("add %d months: %w", months, ErrInvalidInterval)
	}
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(first); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC), nil
}

// NextRunFromToday returns today's date, per the clock, advanced by interval months.
func NextRunFromToday(now func() time.Time, interval int) (time.Time, error) {
	if now == nil {
		now = time.Now
	}
	return AddMonths(DateOnly(now()), interval)
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
