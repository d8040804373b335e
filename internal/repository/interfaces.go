package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kolosave/savings-engine/internal/domain"
)

// GroupRepository persists rotation groups. Mutating methods that touch more
// than one table run in a single database transaction so the state change and
// its outbox postings commit together.
type GroupRepository interface {
	// Create inserts a new group together with its creator's membership.
	Create(ctx context.Context, group *domain.RotationGroup, creator *domain.Membership) error

	// GetSnapshot loads the group, members and schedule in one transaction so
	// readers never observe a torn round/member state.
	GetSnapshot(ctx context.Context, groupID uuid.UUID) (*domain.GroupSnapshot, error)

	// AddMember inserts a membership and updates the group row; when the join
	// fills the last slot the caller passes the generated payout schedule, and
	// it is inserted in the same transaction.
	AddMember(ctx context.Context, group *domain.RotationGroup, member *domain.Membership, schedule []*domain.PayoutScheduleEntry) error

	// RecordContribution updates a membership's round flags and totals and
	// enqueues the contribution posting atomically.
	RecordContribution(ctx context.Context, member *domain.Membership, posting *domain.LedgerPosting) error

	// ApplyRoundAdvance writes the round transition: group row, changed
	// memberships, changed schedule entries and any payout postings, in one
	// transaction.
	ApplyRoundAdvance(ctx context.Context, group *domain.RotationGroup, members []*domain.Membership, entries []*domain.PayoutScheduleEntry, postings []*domain.LedgerPosting) error

	// Cancel marks the group cancelled, closes out unreleased schedule
	// entries and enqueues refund postings.
	Cancel(ctx context.Context, group *domain.RotationGroup, entries []*domain.PayoutScheduleEntry, postings []*domain.LedgerPosting) error

	// ListDueGroupIDs returns active groups whose current round's scheduled
	// date has passed, for the advancement sweep.
	ListDueGroupIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// PlanRepository persists installment plans and their payments.
type PlanRepository interface {
	// CreatePlan inserts the plan, its payment rows and the upfront postings
	// in one transaction.
	CreatePlan(ctx context.Context, plan *domain.InstallmentPlan, payments []*domain.InstallmentPayment, postings []*domain.LedgerPosting) error

	// GetPlan loads a plan without its payments.
	GetPlan(ctx context.Context, planID uuid.UUID) (*domain.InstallmentPlan, error)

	// GetPlanWithPayments loads plan and payments in one transaction, ordered
	// by payment number.
	GetPlanWithPayments(ctx context.Context, planID uuid.UUID) (*domain.InstallmentPlan, []*domain.InstallmentPayment, error)

	// ApplyPayment writes a paid installment, the updated plan row and the
	// ledger postings atomically.
	ApplyPayment(ctx context.Context, plan *domain.InstallmentPlan, payment *domain.InstallmentPayment, postings []*domain.LedgerPosting) error

	// UpdatePlanAndPayments persists the overdue sweep's transitions.
	UpdatePlanAndPayments(ctx context.Context, plan *domain.InstallmentPlan, payments []*domain.InstallmentPayment) error

	// ListByFilter returns plans matching an explicit filter.
	ListByFilter(ctx context.Context, filter *domain.PlanFilter) ([]*domain.InstallmentPlan, error)

	// ListOpenPlanIDs returns ids of plans that still accept payments, for
	// the overdue sweep.
	ListOpenPlanIDs(ctx context.Context) ([]uuid.UUID, error)
}

// PostingRepository is the outbox side of the ledger adapter.
type PostingRepository interface {
	// ListPending returns undelivered postings oldest first.
	ListPending(ctx context.Context, limit int) ([]*domain.LedgerPosting, error)

	// MarkPosted records successful delivery.
	MarkPosted(ctx context.Context, id uuid.UUID, postedAt time.Time) error

	// MarkAttempt records a failed delivery attempt and when to try next;
	// terminal marks the row failed so it is surfaced instead of retried
	// forever.
	MarkAttempt(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time, terminal bool) error

	// CountPending returns the undelivered backlog size.
	CountPending(ctx context.Context) (int, error)
}
