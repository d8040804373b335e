package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kolosave/savings-engine/internal/domain"
	"github.com/kolosave/savings-engine/internal/metrics"
	"github.com/kolosave/savings-engine/internal/repository"
	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

const (
	dispatchBatchSize = 100
	baseBackoff       = 30 * time.Second
	maxBackoff        = time.Hour

	// postedMarkTTL keeps the delivered-key mark long enough to cover any
	// realistic redelivery window.
	postedMarkTTL = 7 * 24 * time.Hour
)

// Outbox delivers pending ledger postings. Postings are enqueued in the same
// database transaction as the state change that produced them; delivery is
// at-least-once, deduplicated by idempotency key both at the ledger and via a
// redis mark covering the crash window between posting and marking the row.
type Outbox struct {
	postings    repository.PostingRepository
	poster      Poster
	redis       *redis.Client
	maxAttempts int
}

func NewOutbox(postings repository.PostingRepository, poster Poster, rdb *redis.Client, maxAttempts int) *Outbox {
	return &Outbox{
		postings:    postings,
		poster:      poster,
		redis:       rdb,
		maxAttempts: maxAttempts,
	}
}

// Flush attempts delivery of all due pending postings. Safe to re-run; rows
// already delivered are no-ops.
func (o *Outbox) Flush(ctx context.Context) error {
	pending, err := o.postings.ListPending(ctx, dispatchBatchSize)
	if err != nil {
		return fmt.Errorf("listing pending postings: %w", err)
	}

	for _, p := range pending {
		if err := o.deliver(ctx, p); err != nil {
			slog.Warn("ledger posting delivery failed",
				"posting_id", p.ID,
				"idempotency_key", p.IdempotencyKey,
				"attempts", p.Attempts+1,
				"error", err,
			)
		}
	}
	return nil
}

func (o *Outbox) deliver(ctx context.Context, p *domain.LedgerPosting) error {
	if p.Attempts > 0 {
		metrics.LedgerPostingRetries.Inc()
	}

	markKey := "ledger:posted:" + p.IdempotencyKey
	if o.redis != nil {
		// A mark means the ledger accepted this key before we could update the
		// row (crash window); settle the row without re-posting.
		marked, err := o.redis.Exists(ctx, markKey).Result()
		if err == nil && marked > 0 {
			return o.postings.MarkPosted(ctx, p.ID, time.Now())
		}
	}

	amount := money.New(p.AmountKobo, p.Currency)
	result, err := o.poster.Post(ctx, p.AccountID, amount, p.Kind, p.IdempotencyKey)
	if err != nil {
		terminal := false
		// Validation-class rejections will never succeed on retry.
		if errors.Is(err, apperrors.ErrInsufficientFunds) || p.Attempts+1 >= o.maxAttempts {
			terminal = true
		}
		next := time.Now().Add(backoff(p.Attempts + 1))
		if markErr := o.postings.MarkAttempt(ctx, p.ID, err.Error(), next, terminal); markErr != nil {
			return markErr
		}
		return err
	}

	if o.redis != nil {
		if err := o.redis.Set(ctx, markKey, result.Reference, postedMarkTTL).Err(); err != nil {
			slog.Warn("setting posted mark", "idempotency_key", p.IdempotencyKey, "error", err)
		}
	}

	return o.postings.MarkPosted(ctx, p.ID, result.PostedAt)
}

func backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
