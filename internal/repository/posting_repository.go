package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kolosave/savings-engine/internal/domain"
)

type postingRepository struct {
	db *sqlx.DB
}

func NewPostingRepository(db *sqlx.DB) PostingRepository {
	return &postingRepository{db: db}
}

const insertPostingQuery = `
	INSERT INTO ledger_postings (id, account_id, amount_kobo, currency, kind, idempotency_key, source_type, source_id, status, attempts, last_error, next_attempt_at, posted_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (idempotency_key) DO NOTHING
`

// insertPosting enqueues a posting inside an existing transaction. The unique
// idempotency key makes re-enqueueing a no-op.
func insertPosting(ctx context.Context, tx *sqlx.Tx, p *domain.LedgerPosting) error {
	_, err := tx.ExecContext(ctx, insertPostingQuery,
		p.ID, p.AccountID, p.AmountKobo, p.Currency, p.Kind, p.IdempotencyKey,
		p.SourceType, p.SourceID, p.Status, p.Attempts, p.LastError, p.NextAttemptAt, p.PostedAt, p.CreatedAt,
	)
	return err
}

func (r *postingRepository) ListPending(ctx context.Context, limit int) ([]*domain.LedgerPosting, error) {
	var postings []*domain.LedgerPosting
	err := r.db.SelectContext(ctx, &postings, `
		SELECT id, account_id, amount_kobo, currency, kind, idempotency_key, source_type, source_id, status, attempts, last_error, next_attempt_at, posted_at, created_at
		FROM ledger_postings
		WHERE status = $1 AND next_attempt_at <= NOW()
		ORDER BY created_at
		LIMIT $2
	`, domain.PostingStatusPending, limit)
	if err != nil {
		return nil, err
	}
	return postings, nil
}

func (r *postingRepository) MarkPosted(ctx context.Context, id uuid.UUID, postedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_postings
		SET status = $2, posted_at = $3, attempts = attempts + 1, last_error = NULL
		WHERE id = $1
	`, id, domain.PostingStatusPosted, postedAt)
	return err
}

func (r *postingRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM ledger_postings WHERE status = $1
	`, domain.PostingStatusPending)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *postingRepository) MarkAttempt(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time, terminal bool) error {
	status := domain.PostingStatusPending
	if terminal {
		status = domain.PostingStatusFailed
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE ledger_postings
		SET status = $2, attempts = attempts + 1, last_error = $3, next_attempt_at = $4
		WHERE id = $1
	`, id, status, lastError, nextAttemptAt)
	return err
}
