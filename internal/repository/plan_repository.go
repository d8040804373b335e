package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kolosave/savings-engine/internal/domain"
)

type planRepository struct {
	db *sqlx.DB
}

func NewPlanRepository(db *sqlx.DB) PlanRepository {
	return &planRepository{db: db}
}

const insertPlanQuery = `
	INSERT INTO installment_plans (id, order_id, user_id, vendor_account_id, currency, total_kobo, upfront_kobo, remaining_kobo, monthly_kobo, rounding_adjustment_kobo, number_of_payments, payments_completed, next_payment_due_at, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const insertPaymentQuery = `
	INSERT INTO installment_payments (id, plan_id, payment_number, amount_kobo, due_date, paid_at, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const updatePlanQuery = `
	UPDATE installment_plans
	SET remaining_kobo = $2, payments_completed = $3, next_payment_due_at = $4, status = $5, updated_at = $6
	WHERE id = $1
`

const updatePaymentQuery = `
	UPDATE installment_payments
	SET paid_at = $2, status = $3
	WHERE id = $1
`

const selectPlanQuery = `
	SELECT id, order_id, user_id, vendor_account_id, currency, total_kobo, upfront_kobo, remaining_kobo, monthly_kobo, rounding_adjustment_kobo, number_of_payments, payments_completed, next_payment_due_at, status, created_at, updated_at
	FROM installment_plans
`

const selectPaymentsQuery = `
	SELECT id, plan_id, payment_number, amount_kobo, due_date, paid_at, status, created_at
	FROM installment_payments
	WHERE plan_id = $1
	ORDER BY payment_number
`

func (r *planRepository) CreatePlan(ctx context.Context, plan *domain.InstallmentPlan, payments []*domain.InstallmentPayment, postings []*domain.LedgerPosting) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, insertPlanQuery,
		plan.ID, plan.OrderID, plan.UserID, plan.VendorAccountID, plan.Currency, plan.TotalKobo, plan.UpfrontKobo,
		plan.RemainingKobo, plan.MonthlyKobo, plan.RoundingAdjustmentKobo, plan.NumberOfPayments,
		plan.PaymentsCompleted, plan.NextPaymentDueAt, plan.Status, plan.CreatedAt, plan.UpdatedAt,
	); err != nil {
		return err
	}

	for _, p := range payments {
		if _, err = tx.ExecContext(ctx, insertPaymentQuery,
			p.ID, p.PlanID, p.PaymentNumber, p.AmountKobo, p.DueDate, p.PaidAt, p.Status, p.CreatedAt,
		); err != nil {
			return err
		}
	}

	for _, posting := range postings {
		if err = insertPosting(ctx, tx, posting); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *planRepository) GetPlan(ctx context.Context, planID uuid.UUID) (*domain.InstallmentPlan, error) {
	var plan domain.InstallmentPlan
	if err := r.db.GetContext(ctx, &plan, selectPlanQuery+` WHERE id = $1`, planID); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepository) GetPlanWithPayments(ctx context.Context, planID uuid.UUID) (*domain.InstallmentPlan, []*domain.InstallmentPayment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var plan domain.InstallmentPlan
	if err = tx.GetContext(ctx, &plan, selectPlanQuery+` WHERE id = $1`, planID); err != nil {
		return nil, nil, err
	}

	var payments []*domain.InstallmentPayment
	if err = tx.SelectContext(ctx, &payments, selectPaymentsQuery, planID); err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, err
	}

	return &plan, payments, nil
}

func (r *planRepository) ApplyPayment(ctx context.Context, plan *domain.InstallmentPlan, payment *domain.InstallmentPayment, postings []*domain.LedgerPosting) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, updatePaymentQuery, payment.ID, payment.PaidAt, payment.Status); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, updatePlanQuery,
		plan.ID, plan.RemainingKobo, plan.PaymentsCompleted, plan.NextPaymentDueAt, plan.Status, plan.UpdatedAt,
	); err != nil {
		return err
	}

	for _, posting := range postings {
		if err = insertPosting(ctx, tx, posting); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *planRepository) UpdatePlanAndPayments(ctx context.Context, plan *domain.InstallmentPlan, payments []*domain.InstallmentPayment) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range payments {
		if _, err = tx.ExecContext(ctx, updatePaymentQuery, p.ID, p.PaidAt, p.Status); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, updatePlanQuery,
		plan.ID, plan.RemainingKobo, plan.PaymentsCompleted, plan.NextPaymentDueAt, plan.Status, plan.UpdatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *planRepository) ListByFilter(ctx context.Context, filter *domain.PlanFilter) ([]*domain.InstallmentPlan, error) {
	query := selectPlanQuery + ` WHERE 1=1`
	args := []interface{}{}

	if filter != nil && filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += ` AND user_id = $1`
	}
	if filter != nil && filter.Status != nil {
		args = append(args, *filter.Status)
		if len(args) == 1 {
			query += ` AND status = $1`
		} else {
			query += ` AND status = $2`
		}
	}
	query += ` ORDER BY created_at DESC`

	var plans []*domain.InstallmentPlan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *planRepository) ListOpenPlanIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM installment_plans
		WHERE status IN ($1, $2)
		ORDER BY created_at
	`, domain.PlanStatusActive, domain.PlanStatusOverdue)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
