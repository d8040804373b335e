package money

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFrequency is returned for any frequency value outside the known
// set. Unknown values never silently default.
var ErrInvalidFrequency = errors.New("invalid frequency")

// Frequency is a contribution/payment cadence.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return Frequency(s), nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrInvalidFrequency)
	}
}

func (f Frequency) Valid() bool {
	_, err := ParseFrequency(string(f))
	return err == nil
}

// Advance returns the next occurrence after t.
func (f Frequency) Advance(t time.Time) (time.Time, error) {
	return f.AdvanceN(t, 1)
}

// AdvanceN returns the n-th occurrence after t. Monthly cadences advance by
// civil month from the original date, clamped to the last valid day of the
// target month, so a schedule anchored on Jan 31 lands on Feb 28/29 and then
// Mar 31 rather than drifting earlier with each step.
func (f Frequency) AdvanceN(t time.Time, n int) (time.Time, error) {
	if n < 0 {
		return time.Time{}, fmt.Errorf("advance count %d must not be negative", n)
	}
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, n), nil
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7*n), nil
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14*n), nil
	case FrequencyMonthly:
		return addMonthsClamped(t, n), nil
	default:
		return time.Time{}, fmt.Errorf("%q: %w", f, ErrInvalidFrequency)
	}
}

// AddMonthsClamped advances t by n civil months, clamping the day-of-month to
// the last valid day of the target month. Exported for installment due dates,
// which are always monthly regardless of any group frequency.
func AddMonthsClamped(t time.Time, n int) time.Time {
	return addMonthsClamped(t, n)
}

func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	// First of the target month; time.Date normalizes month overflow.
	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}
