package domain

import (
	"time"

	"github.com/google/uuid"
)

// Posting kinds mirror the ledger contract.
const (
	PostingKindDebit  = "debit"
	PostingKindCredit = "credit"
	PostingKindRefund = "refund"
)

const (
	PostingStatusPending = "pending"
	PostingStatusPosted  = "posted"
	PostingStatusFailed  = "failed"
)

// Source entity types for postings.
const (
	PostingSourcePlan  = "installment_plan"
	PostingSourceGroup = "rotation_group"
)

// LedgerPosting is a transactional-outbox row. It is inserted in the same
// database transaction as the state change that requires it, then delivered
// to the ledger asynchronously under its idempotency key.
type LedgerPosting struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	AccountID      uuid.UUID  `json:"account_id" db:"account_id"`
	AmountKobo     int64      `json:"amount_kobo" db:"amount_kobo"`
	Currency       string     `json:"currency" db:"currency"`
	Kind           string     `json:"kind" db:"kind"`
	IdempotencyKey string     `json:"idempotency_key" db:"idempotency_key"`
	SourceType     string     `json:"source_type" db:"source_type"`
	SourceID       uuid.UUID  `json:"source_id" db:"source_id"`
	Status         string     `json:"status" db:"status"`
	Attempts       int        `json:"attempts" db:"attempts"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt  time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	PostedAt       *time.Time `json:"posted_at,omitempty" db:"posted_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
