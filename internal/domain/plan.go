package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kolosave/savings-engine/pkg/money"
)

const (
	PlanStatusActive    = "active"
	PlanStatusCompleted = "completed"
	PlanStatusOverdue   = "overdue"
	PlanStatusDefaulted = "defaulted"
	PlanStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusOverdue = "overdue"
	PaymentStatusFailed  = "failed"
)

// InstallmentPlanBreakdown is the pure output of the calculator. Same inputs
// always produce the same breakdown; it is never persisted, only derived.
type InstallmentPlanBreakdown struct {
	ItemPriceKobo          int64  `json:"item_price_kobo"`
	Currency               string `json:"currency"`
	UpfrontPercent         int    `json:"upfront_percent"`
	UpfrontKobo            int64  `json:"upfront_kobo"`
	RemainingBaseKobo      int64  `json:"remaining_base_kobo"`
	MarkupBps              int64  `json:"markup_bps"`
	MarkupKobo             int64  `json:"markup_kobo"`
	TotalRemainingKobo     int64  `json:"total_remaining_kobo"`
	MonthlyKobo            int64  `json:"monthly_kobo"`
	NumberOfPayments       int    `json:"number_of_payments"`
	RoundingAdjustmentKobo int64  `json:"rounding_adjustment_kobo"`
	TotalCostKobo          int64  `json:"total_cost_kobo"`
}

// LastPaymentKobo is the final installment, which absorbs the rounding
// adjustment so the schedule sums exactly to the financed total.
func (b *InstallmentPlanBreakdown) LastPaymentKobo() int64 {
	return b.MonthlyKobo + b.RoundingAdjustmentKobo
}

func (b *InstallmentPlanBreakdown) TotalCost() money.Money {
	return money.New(b.TotalCostKobo, b.Currency)
}

// InstallmentPlan is a financed purchase being paid down monthly.
type InstallmentPlan struct {
	ID                     uuid.UUID  `json:"id" db:"id"`
	OrderID                string     `json:"order_id" db:"order_id"`
	UserID                 uuid.UUID  `json:"user_id" db:"user_id"`
	VendorAccountID        uuid.UUID  `json:"vendor_account_id" db:"vendor_account_id"`
	Currency               string     `json:"currency" db:"currency"`
	TotalKobo              int64      `json:"total_kobo" db:"total_kobo"`
	UpfrontKobo            int64      `json:"upfront_kobo" db:"upfront_kobo"`
	RemainingKobo          int64      `json:"remaining_kobo" db:"remaining_kobo"`
	MonthlyKobo            int64      `json:"monthly_kobo" db:"monthly_kobo"`
	RoundingAdjustmentKobo int64      `json:"rounding_adjustment_kobo" db:"rounding_adjustment_kobo"`
	NumberOfPayments       int        `json:"number_of_payments" db:"number_of_payments"`
	PaymentsCompleted      int        `json:"payments_completed" db:"payments_completed"`
	NextPaymentDueAt       *time.Time `json:"next_payment_due_at,omitempty" db:"next_payment_due_at"`
	Status                 string     `json:"status" db:"status"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}

// AcceptsPayments reports whether the plan is in a state where installments
// may still be applied. Overdue plans accept payments; defaulted, cancelled
// and completed plans do not.
func (p *InstallmentPlan) AcceptsPayments() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusOverdue
}

// AmountRemainingKobo is what is still owed across unpaid installments.
func (p *InstallmentPlan) AmountRemainingKobo() int64 {
	return p.RemainingKobo
}

// InstallmentPayment is one scheduled installment of a plan.
type InstallmentPayment struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PlanID        uuid.UUID  `json:"plan_id" db:"plan_id"`
	PaymentNumber int        `json:"payment_number" db:"payment_number"`
	AmountKobo    int64      `json:"amount_kobo" db:"amount_kobo"`
	DueDate       time.Time  `json:"due_date" db:"due_date"`
	PaidAt        *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	Status        string     `json:"status" db:"status"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// DTOs for requests and responses

type PreviewBreakdownRequest struct {
	ItemPriceKobo  int64  `json:"item_price_kobo" validate:"required"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	UpfrontPercent int    `json:"upfront_percent" validate:"required,gte=0,lte=100"`
	TermMonths     int    `json:"term_months" validate:"required,gt=0"`
}

type CreatePlanRequest struct {
	OrderID         string `json:"order_id" validate:"required"`
	UserID          string `json:"user_id" validate:"required,uuid4"`
	VendorAccountID string `json:"vendor_account_id" validate:"required,uuid4"`
	ItemPriceKobo   int64  `json:"item_price_kobo" validate:"required"`
	Currency        string `json:"currency" validate:"omitempty,len=3"`
	UpfrontPercent  int    `json:"upfront_percent" validate:"required,gte=0,lte=100"`
	TermMonths      int    `json:"term_months" validate:"required,gt=0"`
}

type CreatePlanResponse struct {
	Plan      *InstallmentPlan          `json:"plan"`
	Breakdown *InstallmentPlanBreakdown `json:"breakdown"`
	Payments  []*InstallmentPayment     `json:"payments"`
}

type PlanDetailResponse struct {
	Plan     *InstallmentPlan      `json:"plan"`
	Payments []*InstallmentPayment `json:"payments"`
}

// BreakdownDisplay is the breakdown rendered in major units for the front
// end. Derived from the kobo fields; never used for computation.
type BreakdownDisplay struct {
	ItemPrice         decimal.Decimal `json:"item_price"`
	UpfrontAmount     decimal.Decimal `json:"upfront_amount"`
	RemainingBase     decimal.Decimal `json:"remaining_base"`
	MarkupAmount      decimal.Decimal `json:"markup_amount"`
	TotalRemaining    decimal.Decimal `json:"total_remaining"`
	MonthlyAmount     decimal.Decimal `json:"monthly_amount"`
	LastPaymentAmount decimal.Decimal `json:"last_payment_amount"`
	TotalCost         decimal.Decimal `json:"total_cost"`
}

func (b *InstallmentPlanBreakdown) Display() *BreakdownDisplay {
	toDec := func(kobo int64) decimal.Decimal { return money.New(kobo, b.Currency).Decimal() }
	return &BreakdownDisplay{
		ItemPrice:         toDec(b.ItemPriceKobo),
		UpfrontAmount:     toDec(b.UpfrontKobo),
		RemainingBase:     toDec(b.RemainingBaseKobo),
		MarkupAmount:      toDec(b.MarkupKobo),
		TotalRemaining:    toDec(b.TotalRemainingKobo),
		MonthlyAmount:     toDec(b.MonthlyKobo),
		LastPaymentAmount: toDec(b.LastPaymentKobo()),
		TotalCost:         toDec(b.TotalCostKobo),
	}
}

type PreviewBreakdownResponse struct {
	Breakdown *InstallmentPlanBreakdown `json:"breakdown"`
	Display   *BreakdownDisplay         `json:"display"`
}

// PlanFilter is an explicit, validated query filter. No dynamic maps cross
// the boundary.
type PlanFilter struct {
	UserID *uuid.UUID
	Status *string
}

func (f *PlanFilter) Validate() bool {
	if f.Status == nil {
		return true
	}
	switch *f.Status {
	case PlanStatusActive, PlanStatusCompleted, PlanStatusOverdue, PlanStatusDefaulted, PlanStatusCancelled:
		return true
	default:
		return false
	}
}
