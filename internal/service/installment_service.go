package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kolosave/savings-engine/internal/config"
	"github.com/kolosave/savings-engine/internal/domain"
	"github.com/kolosave/savings-engine/internal/ledger"
	"github.com/kolosave/savings-engine/internal/metrics"
	"github.com/kolosave/savings-engine/internal/repository"
	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

// InstallmentService manages financed purchases: breakdown computation, plan
// creation, payment application and overdue/default transitions. It holds no
// money itself; every wallet effect goes through the ledger outbox.
type InstallmentService struct {
	plans  repository.PlanRepository
	outbox *ledger.Outbox
	cfg    *config.Config
	locks  *entityLocks
	now    func() time.Time
}

func NewInstallmentService(plans repository.PlanRepository, outbox *ledger.Outbox, cfg *config.Config) *InstallmentService {
	return &InstallmentService{
		plans:  plans,
		outbox: outbox,
		cfg:    cfg,
		locks:  newEntityLocks(),
		now:    time.Now,
	}
}

// PreviewBreakdown runs the pure calculator without touching any state.
func (s *InstallmentService) PreviewBreakdown(req *domain.PreviewBreakdownRequest) (*domain.PreviewBreakdownResponse, error) {
	price := money.New(req.ItemPriceKobo, req.Currency)
	breakdown, err := ComputeBreakdown(price, req.UpfrontPercent, req.TermMonths,
		s.cfg.Business.MarkupTable(), s.cfg.Business.MinUpfrontPercent)
	if err != nil {
		return nil, err
	}
	return &domain.PreviewBreakdownResponse{Breakdown: breakdown, Display: breakdown.Display()}, nil
}

// CreatePlan persists a plan with its full payment schedule and enqueues the
// upfront postings, all in one transaction.
func (s *InstallmentService) CreatePlan(ctx context.Context, req *domain.CreatePlanRequest) (*domain.CreatePlanResponse, error) {
	price := money.New(req.ItemPriceKobo, req.Currency)
	breakdown, err := ComputeBreakdown(price, req.UpfrontPercent, req.TermMonths,
		s.cfg.Business.MarkupTable(), s.cfg.Business.MinUpfrontPercent)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidRequest, "invalid user id", err)
	}
	vendorID, err := uuid.Parse(req.VendorAccountID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidRequest, "invalid vendor account id", err)
	}

	now := s.now()
	firstDue := money.AddMonthsClamped(now, 1)

	plan := &domain.InstallmentPlan{
		ID:                     uuid.New(),
		OrderID:                req.OrderID,
		UserID:                 userID,
		VendorAccountID:        vendorID,
		Currency:               breakdown.Currency,
		TotalKobo:              breakdown.TotalCostKobo,
		UpfrontKobo:            breakdown.UpfrontKobo,
		RemainingKobo:          breakdown.TotalRemainingKobo,
		MonthlyKobo:            breakdown.MonthlyKobo,
		RoundingAdjustmentKobo: breakdown.RoundingAdjustmentKobo,
		NumberOfPayments:       breakdown.NumberOfPayments,
		PaymentsCompleted:      0,
		NextPaymentDueAt:       &firstDue,
		Status:                 domain.PlanStatusActive,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	payments := make([]*domain.InstallmentPayment, 0, breakdown.NumberOfPayments)
	for n := 1; n <= breakdown.NumberOfPayments; n++ {
		amount := breakdown.MonthlyKobo
		if n == breakdown.NumberOfPayments {
			amount = breakdown.LastPaymentKobo()
		}
		payments = append(payments, &domain.InstallmentPayment{
			ID:            uuid.New(),
			PlanID:        plan.ID,
			PaymentNumber: n,
			AmountKobo:    amount,
			DueDate:       money.AddMonthsClamped(now, n),
			Status:        domain.PaymentStatusPending,
			CreatedAt:     now,
		})
	}

	// Upfront moves immediately: debit buyer, credit vendor. Commission is
	// netted by the ledger side, not here.
	postings := []*domain.LedgerPosting{
		s.posting(plan, userID, breakdown.UpfrontKobo, domain.PostingKindDebit,
			fmt.Sprintf("plan:%s:upfront:debit", plan.ID)),
		s.posting(plan, vendorID, breakdown.UpfrontKobo, domain.PostingKindCredit,
			fmt.Sprintf("plan:%s:upfront:credit", plan.ID)),
	}

	if err := s.plans.CreatePlan(ctx, plan, payments, postings); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.flushOutbox(ctx)

	return &domain.CreatePlanResponse{Plan: plan, Breakdown: breakdown, Payments: payments}, nil
}

// ApplyPayment marks installment n paid. Payments apply strictly in sequence;
// skipping ahead is rejected so due-date semantics stay meaningful.
func (s *InstallmentService) ApplyPayment(ctx context.Context, planID uuid.UUID, paymentNumber int) (*domain.InstallmentPayment, error) {
	release := s.locks.acquire(planID)
	defer release()

	plan, payments, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if !plan.AcceptsPayments() {
		return nil, apperrors.WrapPlanNotActive(plan.ID.String(), plan.Status)
	}
	if paymentNumber < 1 || paymentNumber > plan.NumberOfPayments {
		return nil, apperrors.WrapOutOfOrderPayment(plan.PaymentsCompleted+1, paymentNumber)
	}

	payment := payments[paymentNumber-1]
	if payment.Status == domain.PaymentStatusPaid {
		return nil, apperrors.WrapPaymentAlreadyPaid(plan.ID.String(), paymentNumber)
	}
	if paymentNumber != plan.PaymentsCompleted+1 {
		return nil, apperrors.WrapOutOfOrderPayment(plan.PaymentsCompleted+1, paymentNumber)
	}

	now := s.now()
	payment.Status = domain.PaymentStatusPaid
	payment.PaidAt = &now

	plan.PaymentsCompleted++
	plan.RemainingKobo -= payment.AmountKobo
	plan.UpdatedAt = now

	if plan.PaymentsCompleted == plan.NumberOfPayments {
		plan.Status = domain.PlanStatusCompleted
		plan.NextPaymentDueAt = nil
	} else {
		next := payments[plan.PaymentsCompleted].DueDate
		plan.NextPaymentDueAt = &next
		plan.Status = planStatusAfterPayment(payments, plan.PaymentsCompleted)
	}

	postings := []*domain.LedgerPosting{
		s.posting(plan, plan.UserID, payment.AmountKobo, domain.PostingKindDebit,
			fmt.Sprintf("plan:%s:payment:%d:debit", plan.ID, paymentNumber)),
		s.posting(plan, plan.VendorAccountID, payment.AmountKobo, domain.PostingKindCredit,
			fmt.Sprintf("plan:%s:payment:%d:credit", plan.ID, paymentNumber)),
	}

	if err := s.plans.ApplyPayment(ctx, plan, payment, postings); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.flushOutbox(ctx)

	return payment, nil
}

// MarkOverdue transitions past-due pending payments to overdue as of the
// supplied time, and defaults the plan once the configured run of consecutive
// overdue payments is reached. Re-running against an already-swept plan is a
// no-op.
func (s *InstallmentService) MarkOverdue(ctx context.Context, planID uuid.UUID, asOf time.Time) error {
	release := s.locks.acquire(planID)
	defer release()

	plan, payments, err := s.loadPlan(ctx, planID)
	if err != nil {
		return err
	}

	if !plan.AcceptsPayments() {
		return nil
	}

	var changed []*domain.InstallmentPayment
	for _, p := range payments {
		if p.Status == domain.PaymentStatusPending && p.DueDate.Before(asOf) {
			p.Status = domain.PaymentStatusOverdue
			changed = append(changed, p)
		}
	}

	consecutive := 0
	for _, p := range payments {
		if p.Status == domain.PaymentStatusOverdue {
			consecutive++
		} else if p.Status == domain.PaymentStatusPaid {
			consecutive = 0
		}
	}

	status := plan.Status
	switch {
	case consecutive >= s.cfg.Business.PlanOverdueLimit:
		status = domain.PlanStatusDefaulted
	case consecutive > 0:
		status = domain.PlanStatusOverdue
	}

	if len(changed) == 0 && status == plan.Status {
		return nil
	}

	plan.Status = status
	plan.UpdatedAt = s.now()

	if err := s.plans.UpdatePlanAndPayments(ctx, plan, changed); err != nil {
		return apperrors.WrapDatabaseError(err)
	}

	if status == domain.PlanStatusDefaulted {
		metrics.PlansDefaulted.Inc()
		slog.Warn("installment plan defaulted",
			"plan_id", plan.ID,
			"order_id", plan.OrderID,
			"consecutive_overdue", consecutive,
		)
	}

	return nil
}

// SweepOverdue runs MarkOverdue across every plan that still accepts
// payments. Invoked by the cron scheduler.
func (s *InstallmentService) SweepOverdue(ctx context.Context, asOf time.Time) error {
	ids, err := s.plans.ListOpenPlanIDs(ctx)
	if err != nil {
		return apperrors.WrapDatabaseError(err)
	}
	for _, id := range ids {
		if err := s.MarkOverdue(ctx, id, asOf); err != nil {
			slog.Error("overdue sweep", "plan_id", id, "error", err)
		}
	}
	return nil
}

// GetPlan returns a plan with its payment rows.
func (s *InstallmentService) GetPlan(ctx context.Context, planID uuid.UUID) (*domain.PlanDetailResponse, error) {
	plan, payments, err := s.loadPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &domain.PlanDetailResponse{Plan: plan, Payments: payments}, nil
}

// ListPlans returns plans matching an explicit filter.
func (s *InstallmentService) ListPlans(ctx context.Context, filter *domain.PlanFilter) ([]*domain.InstallmentPlan, error) {
	if filter != nil && !filter.Validate() {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidRequest, "invalid plan filter", nil)
	}
	plans, err := s.plans.ListByFilter(ctx, filter)
	if err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}
	return plans, nil
}

func (s *InstallmentService) loadPlan(ctx context.Context, planID uuid.UUID) (*domain.InstallmentPlan, []*domain.InstallmentPayment, error) {
	plan, payments, err := s.plans.GetPlanWithPayments(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apperrors.WrapPlanNotFound(planID.String())
		}
		return nil, nil, apperrors.WrapDatabaseError(err)
	}
	return plan, payments, nil
}

func (s *InstallmentService) posting(plan *domain.InstallmentPlan, account uuid.UUID, kobo int64, kind, key string) *domain.LedgerPosting {
	now := s.now()
	return &domain.LedgerPosting{
		ID:             uuid.New(),
		AccountID:      account,
		AmountKobo:     kobo,
		Currency:       plan.Currency,
		Kind:           kind,
		IdempotencyKey: key,
		SourceType:     domain.PostingSourcePlan,
		SourceID:       plan.ID,
		Status:         domain.PostingStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
	}
}

func (s *InstallmentService) flushOutbox(ctx context.Context) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.Flush(ctx); err != nil {
		slog.Warn("outbox flush", "error", err)
	}
}

// planStatusAfterPayment decides the plan status once payment k is applied:
// overdue while any unpaid installment is already overdue, active otherwise.
func planStatusAfterPayment(payments []*domain.InstallmentPayment, completed int) string {
	for _, p := range payments[completed:] {
		if p.Status == domain.PaymentStatusOverdue {
			return domain.PlanStatusOverdue
		}
	}
	return domain.PlanStatusActive
}
