package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

var testMarkupTable = map[int]int64{6: 1000, 12: 1500}

func TestComputeBreakdown_SixMonthPlan(t *testing.T) {
	// 1,000,000.00 at 20% upfront over 6 months with a 10% markup.
	price := money.New(100_000_000, "NGN")

	b, err := ComputeBreakdown(price, 20, 6, testMarkupTable, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(20_000_000), b.UpfrontKobo)
	assert.Equal(t, int64(80_000_000), b.RemainingBaseKobo)
	assert.Equal(t, int64(8_000_000), b.MarkupKobo)
	assert.Equal(t, int64(88_000_000), b.TotalRemainingKobo)
	assert.Equal(t, int64(14_666_666), b.MonthlyKobo)
	assert.Equal(t, int64(4), b.RoundingAdjustmentKobo)
	assert.Equal(t, int64(14_666_670), b.LastPaymentKobo())
	assert.Equal(t, int64(108_000_000), b.TotalCostKobo)
	assert.Equal(t, 6, b.NumberOfPayments)
}

func TestComputeBreakdown_InstallmentsSumExactly(t *testing.T) {
	// Awkward prices that do not divide evenly must still reconcile to the
	// kobo: monthly*(n-1) + last == total remaining.
	cases := []struct {
		name    string
		kobo    int64
		upfront int
		term    int
	}{
		{"prime price", 99_999_999_989, 15, 6},
		{"one naira", 100, 10, 12},
		{"odd remainder", 77_777_777, 33, 12},
		{"full upfront", 5_000_000, 100, 6},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := ComputeBreakdown(money.New(tc.kobo, "NGN"), tc.upfront, tc.term, testMarkupTable, 10)
			require.NoError(t, err)

			sum := b.MonthlyKobo*int64(b.NumberOfPayments-1) + b.LastPaymentKobo()
			assert.Equal(t, b.TotalRemainingKobo, sum)
			assert.Equal(t, b.TotalCostKobo, b.UpfrontKobo+b.TotalRemainingKobo)
			assert.GreaterOrEqual(t, b.RoundingAdjustmentKobo, int64(0))
		})
	}
}

func TestComputeBreakdown_RejectsNonPositivePrice(t *testing.T) {
	_, err := ComputeBreakdown(money.New(0, "NGN"), 20, 6, testMarkupTable, 10)
	assert.ErrorIs(t, err, apperrors.ErrNonPositivePrice)

	_, err = ComputeBreakdown(money.New(-100, "NGN"), 20, 6, testMarkupTable, 10)
	assert.ErrorIs(t, err, apperrors.ErrNonPositivePrice)
}

func TestComputeBreakdown_RejectsUpfrontOutOfRange(t *testing.T) {
	_, err := ComputeBreakdown(money.New(100_000_000, "NGN"), 5, 6, testMarkupTable, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidUpfrontPercent)

	_, err = ComputeBreakdown(money.New(100_000_000, "NGN"), 101, 6, testMarkupTable, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidUpfrontPercent)
}

func TestComputeBreakdown_RejectsUnsupportedTerm(t *testing.T) {
	_, err := ComputeBreakdown(money.New(100_000_000, "NGN"), 20, 9, testMarkupTable, 10)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedTerm)
}

func TestComputeBreakdown_Deterministic(t *testing.T) {
	price := money.New(123_456_789, "NGN")
	a, err := ComputeBreakdown(price, 25, 12, testMarkupTable, 10)
	require.NoError(t, err)
	b, err := ComputeBreakdown(price, 25, 12, testMarkupTable, 10)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
