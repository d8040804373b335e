package service

import (
	"github.com/kolosave/savings-engine/internal/domain"
	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

// ComputeBreakdown turns a price, upfront percentage and term into the full
// installment breakdown. Pure and deterministic: the same inputs always yield
// the same breakdown, which is what makes disputed plans auditable.
//
// All division truncates toward zero; whatever the even monthly amounts do
// not cover is carried as the rounding adjustment on the last installment, so
// the installments always sum exactly to the financed total.
func ComputeBreakdown(itemPrice money.Money, upfrontPercent int, termMonths int, markupTable map[int]int64, minUpfrontPercent int) (*domain.InstallmentPlanBreakdown, error) {
	if !itemPrice.IsPositive() {
		return nil, apperrors.WrapNonPositivePrice(itemPrice.String())
	}
	if upfrontPercent < minUpfrontPercent || upfrontPercent > 100 {
		return nil, apperrors.WrapInvalidUpfrontPercent(upfrontPercent, minUpfrontPercent)
	}

	markupBps, ok := markupTable[termMonths]
	if !ok {
		return nil, apperrors.WrapUnsupportedTerm(termMonths)
	}

	upfront := itemPrice.MulPercentBps(int64(upfrontPercent) * 100)

	remainingBase, err := itemPrice.Sub(upfront)
	if err != nil {
		return nil, err
	}

	markup := remainingBase.MulPercentBps(markupBps)

	totalRemaining, err := remainingBase.Add(markup)
	if err != nil {
		return nil, err
	}

	monthly, adjustment := totalRemaining.SplitEven(termMonths)

	totalCost, err := upfront.Add(totalRemaining)
	if err != nil {
		return nil, err
	}

	return &domain.InstallmentPlanBreakdown{
		ItemPriceKobo:          itemPrice.Kobo,
		Currency:               itemPrice.Currency,
		UpfrontPercent:         upfrontPercent,
		UpfrontKobo:            upfront.Kobo,
		RemainingBaseKobo:      remainingBase.Kobo,
		MarkupBps:              markupBps,
		MarkupKobo:             markup.Kobo,
		TotalRemainingKobo:     totalRemaining.Kobo,
		MonthlyKobo:            monthly.Kobo,
		NumberOfPayments:       termMonths,
		RoundingAdjustmentKobo: adjustment.Kobo,
		TotalCostKobo:          totalCost.Kobo,
	}, nil
}
