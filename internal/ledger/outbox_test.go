package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolosave/savings-engine/internal/domain"
	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

type fakePostingRepo struct {
	pending []*domain.LedgerPosting
	posted  []uuid.UUID
	failed  []uuid.UUID
	retries []time.Time
}

func (r *fakePostingRepo) ListPending(_ context.Context, _ int) ([]*domain.LedgerPosting, error) {
	return r.pending, nil
}

func (r *fakePostingRepo) MarkPosted(_ context.Context, id uuid.UUID, _ time.Time) error {
	r.posted = append(r.posted, id)
	return nil
}

func (r *fakePostingRepo) CountPending(_ context.Context) (int, error) {
	return len(r.pending), nil
}

func (r *fakePostingRepo) MarkAttempt(_ context.Context, id uuid.UUID, _ string, nextAttemptAt time.Time, terminal bool) error {
	if terminal {
		r.failed = append(r.failed, id)
	} else {
		r.retries = append(r.retries, nextAttemptAt)
	}
	return nil
}

type scriptedPoster struct {
	err   error
	calls int
}

func (p *scriptedPoster) Post(_ context.Context, _ uuid.UUID, _ money.Money, _ string, key string) (*PostingResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &PostingResult{Reference: "ref-" + key, PostedAt: time.Now()}, nil
}

func pendingPosting() *domain.LedgerPosting {
	return &domain.LedgerPosting{
		ID:             uuid.New(),
		AccountID:      uuid.New(),
		AmountKobo:     5_000_000,
		Currency:       "NGN",
		Kind:           domain.PostingKindDebit,
		IdempotencyKey: "group:g1:round:1:member:1:contribution",
		SourceType:     domain.PostingSourceGroup,
		SourceID:       uuid.New(),
		Status:         domain.PostingStatusPending,
		NextAttemptAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
}

func TestFlush_MarksDeliveredPostings(t *testing.T) {
	repo := &fakePostingRepo{pending: []*domain.LedgerPosting{pendingPosting(), pendingPosting()}}
	poster := &scriptedPoster{}
	outbox := NewOutbox(repo, poster, nil, 8)

	require.NoError(t, outbox.Flush(context.Background()))

	assert.Equal(t, 2, poster.calls)
	assert.Len(t, repo.posted, 2)
	assert.Empty(t, repo.failed)
}

func TestFlush_SchedulesRetryOnTransientFailure(t *testing.T) {
	repo := &fakePostingRepo{pending: []*domain.LedgerPosting{pendingPosting()}}
	poster := &scriptedPoster{err: apperrors.WrapLedgerUnavailable(assert.AnError)}
	outbox := NewOutbox(repo, poster, nil, 8)

	require.NoError(t, outbox.Flush(context.Background()))

	assert.Empty(t, repo.posted)
	assert.Empty(t, repo.failed)
	require.Len(t, repo.retries, 1)
	assert.True(t, repo.retries[0].After(time.Now()))
}

func TestFlush_InsufficientFundsIsTerminal(t *testing.T) {
	repo := &fakePostingRepo{pending: []*domain.LedgerPosting{pendingPosting()}}
	poster := &scriptedPoster{err: apperrors.New(apperrors.KindConflict, apperrors.CodeInsufficientFunds,
		"insufficient funds", apperrors.ErrInsufficientFunds)}
	outbox := NewOutbox(repo, poster, nil, 8)

	require.NoError(t, outbox.Flush(context.Background()))

	assert.Empty(t, repo.posted)
	assert.Len(t, repo.failed, 1)
}

func TestFlush_ExhaustedAttemptsAreTerminal(t *testing.T) {
	p := pendingPosting()
	p.Attempts = 7
	repo := &fakePostingRepo{pending: []*domain.LedgerPosting{p}}
	poster := &scriptedPoster{err: apperrors.WrapLedgerUnavailable(assert.AnError)}
	outbox := NewOutbox(repo, poster, nil, 8)

	require.NoError(t, outbox.Flush(context.Background()))

	assert.Len(t, repo.failed, 1)
}

func TestBackoff_DoublesUpToCap(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoff(1))
	assert.Equal(t, time.Minute, backoff(2))
	assert.Equal(t, 8*time.Minute, backoff(5))
	assert.Equal(t, time.Hour, backoff(20))
}
