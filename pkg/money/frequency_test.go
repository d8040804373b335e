package money

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseFrequency(t *testing.T) {
	for _, s := range []string{"daily", "weekly", "biweekly", "monthly"} {
		f, err := ParseFrequency(s)
		require.NoError(t, err)
		assert.Equal(t, Frequency(s), f)
	}

	_, err := ParseFrequency("fortnightly")
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = Frequency("quarterly").Advance(date(2024, time.January, 1))
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestAdvanceN(t *testing.T) {
	start := date(2024, time.January, 15)

	tests := []struct {
		name     string
		freq     Frequency
		n        int
		expected time.Time
	}{
		{name: "daily", freq: FrequencyDaily, n: 3, expected: date(2024, time.January, 18)},
		{name: "weekly", freq: FrequencyWeekly, n: 2, expected: date(2024, time.January, 29)},
		{name: "biweekly", freq: FrequencyBiweekly, n: 1, expected: date(2024, time.January, 29)},
		{name: "monthly", freq: FrequencyMonthly, n: 2, expected: date(2024, time.March, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.freq.AdvanceN(start, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMonthlyAdvance_ClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		n        int
		expected time.Time
	}{
		{
			name:     "jan 31 to feb 29 in leap year",
			start:    date(2024, time.January, 31),
			n:        1,
			expected: date(2024, time.February, 29),
		},
		{
			name:     "jan 31 to feb 28 in common year",
			start:    date(2025, time.January, 31),
			n:        1,
			expected: date(2025, time.February, 28),
		},
		{
			name:     "anchor day restored after short month",
			start:    date(2024, time.January, 31),
			n:        2,
			expected: date(2024, time.March, 31),
		},
		{
			name:     "year rollover",
			start:    date(2024, time.October, 31),
			n:        4,
			expected: date(2025, time.February, 28),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FrequencyMonthly.AdvanceN(tt.start, tt.n)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.expected, AddMonthsClamped(tt.start, tt.n))
		})
	}
}
