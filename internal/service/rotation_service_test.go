package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolosave/savings-engine/internal/domain"
	apperrors "github.com/kolosave/savings-engine/pkg/errors"
)

// fakeGroupRepo keeps the snapshot in memory. The service mutates loaded
// objects and the repo methods commit them, mirroring the sqlx
// implementation's write-through shape.
type fakeGroupRepo struct {
	groups   map[uuid.UUID]*domain.GroupSnapshot
	postings []*domain.LedgerPosting
}

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{groups: make(map[uuid.UUID]*domain.GroupSnapshot)}
}

func (r *fakeGroupRepo) Create(_ context.Context, group *domain.RotationGroup, creator *domain.Membership) error {
	r.groups[group.ID] = &domain.GroupSnapshot{
		Group:   group,
		Members: []*domain.Membership{creator},
	}
	return nil
}

func (r *fakeGroupRepo) GetSnapshot(_ context.Context, groupID uuid.UUID) (*domain.GroupSnapshot, error) {
	snap, ok := r.groups[groupID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return snap, nil
}

func (r *fakeGroupRepo) AddMember(_ context.Context, group *domain.RotationGroup, member *domain.Membership, schedule []*domain.PayoutScheduleEntry) error {
	snap := r.groups[group.ID]
	snap.Group = group
	snap.Members = append(snap.Members, member)
	if schedule != nil {
		snap.Schedule = schedule
	}
	return nil
}

func (r *fakeGroupRepo) RecordContribution(_ context.Context, _ *domain.Membership, posting *domain.LedgerPosting) error {
	r.postings = append(r.postings, posting)
	return nil
}

func (r *fakeGroupRepo) ApplyRoundAdvance(_ context.Context, group *domain.RotationGroup, _ []*domain.Membership, _ []*domain.PayoutScheduleEntry, postings []*domain.LedgerPosting) error {
	r.groups[group.ID].Group = group
	r.postings = append(r.postings, postings...)
	return nil
}

func (r *fakeGroupRepo) Cancel(_ context.Context, group *domain.RotationGroup, _ []*domain.PayoutScheduleEntry, postings []*domain.LedgerPosting) error {
	r.groups[group.ID].Group = group
	r.postings = append(r.postings, postings...)
	return nil
}

func (r *fakeGroupRepo) ListDueGroupIDs(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, snap := range r.groups {
		if snap.Group.Status != domain.GroupStatusActive {
			continue
		}
		for _, e := range snap.Schedule {
			if e.Round == snap.Group.CurrentRound && !e.ScheduledAt.After(now) {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func newTestRotationService(repo *fakeGroupRepo, now time.Time) *RotationService {
	return &RotationService{
		groups: repo,
		cfg:    testConfig(),
		locks:  newEntityLocks(),
		now:    func() time.Time { return now },
	}
}

// buildActiveGroup creates a group and joins members until it activates.
func buildActiveGroup(t *testing.T, svc *RotationService, slots int) *domain.GroupSnapshot {
	t.Helper()
	ctx := context.Background()

	snap, err := svc.CreateGroup(ctx, &domain.CreateGroupRequest{
		Name:             "Ikeja market circle",
		ContributionKobo: 5_000_000,
		Currency:         "NGN",
		Frequency:        "monthly",
		TotalSlots:       slots,
		CreatorUserID:    uuid.NewString(),
	})
	require.NoError(t, err)

	for i := 1; i < slots; i++ {
		_, err := svc.Join(ctx, snap.Group.ID, &domain.JoinGroupRequest{UserID: uuid.NewString()})
		require.NoError(t, err)
	}

	full, err := svc.GetSnapshot(ctx, snap.Group.ID)
	require.NoError(t, err)
	return full
}

func contribute(t *testing.T, svc *RotationService, snap *domain.GroupSnapshot, position int) *domain.AdvanceRoundResult {
	t.Helper()
	var member *domain.Membership
	for _, m := range snap.Members {
		if m.Position == position {
			member = m
		}
	}
	require.NotNil(t, member)

	res, err := svc.RecordContribution(context.Background(), snap.Group.ID, &domain.RecordContributionRequest{
		UserID:     member.UserID.String(),
		AmountKobo: snap.Group.ContributionKobo,
		Currency:   snap.Group.Currency,
	})
	require.NoError(t, err)
	return res
}

func TestJoin_LastSlotActivatesAndFreezesSchedule(t *testing.T) {
	repo := newFakeGroupRepo()
	activated := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, activated)

	snap := buildActiveGroup(t, svc, 5)

	assert.Equal(t, domain.GroupStatusActive, snap.Group.Status)
	assert.Equal(t, 1, snap.Group.CurrentRound)
	require.Len(t, snap.Schedule, 5)

	for i, e := range snap.Schedule {
		assert.Equal(t, i+1, e.Round)
		assert.Equal(t, i+1, e.RecipientPosition)
		assert.Equal(t, int64(25_000_000), e.AmountKobo)
		assert.Equal(t, activated.AddDate(0, i+1, 0), e.ScheduledAt)
	}
	assert.Equal(t, domain.PayoutStatusCurrent, snap.Schedule[0].Status)
	assert.Equal(t, domain.PayoutStatusUpcoming, snap.Schedule[1].Status)
}

func TestJoin_RejectsDuplicateAndOverflow(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	ctx := context.Background()

	snap, err := svc.CreateGroup(ctx, &domain.CreateGroupRequest{
		Name:             "pair circle",
		ContributionKobo: 1_000_000,
		Frequency:        "weekly",
		TotalSlots:       2,
		CreatorUserID:    uuid.NewString(),
	})
	require.NoError(t, err)

	_, err = svc.Join(ctx, snap.Group.ID, &domain.JoinGroupRequest{UserID: snap.Members[0].UserID.String()})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyMember)

	_, err = svc.Join(ctx, snap.Group.ID, &domain.JoinGroupRequest{UserID: uuid.NewString()})
	require.NoError(t, err)

	_, err = svc.Join(ctx, snap.Group.ID, &domain.JoinGroupRequest{UserID: uuid.NewString()})
	assert.ErrorIs(t, err, apperrors.ErrGroupFull)
}

func TestCreateGroup_RejectsUnknownFrequency(t *testing.T) {
	svc := newTestRotationService(newFakeGroupRepo(), time.Now())

	_, err := svc.CreateGroup(context.Background(), &domain.CreateGroupRequest{
		Name:             "bad freq",
		ContributionKobo: 1_000_000,
		Frequency:        "fortnightly-ish",
		TotalSlots:       3,
		CreatorUserID:    uuid.NewString(),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidFrequency)
}

func TestRecordContribution_ExactAmountOnly(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	snap := buildActiveGroup(t, svc, 3)

	_, err := svc.RecordContribution(context.Background(), snap.Group.ID, &domain.RecordContributionRequest{
		UserID:     snap.Members[0].UserID.String(),
		AmountKobo: snap.Group.ContributionKobo - 1,
		Currency:   "NGN",
	})
	assert.ErrorIs(t, err, apperrors.ErrAmountMismatch)

	_, err = svc.RecordContribution(context.Background(), snap.Group.ID, &domain.RecordContributionRequest{
		UserID:     snap.Members[0].UserID.String(),
		AmountKobo: snap.Group.ContributionKobo,
		Currency:   "USD",
	})
	assert.ErrorIs(t, err, apperrors.ErrAmountMismatch)
}

func TestRecordContribution_OncePerRound(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	snap := buildActiveGroup(t, svc, 4)

	contribute(t, svc, snap, 1)

	_, err := svc.RecordContribution(context.Background(), snap.Group.ID, &domain.RecordContributionRequest{
		UserID:     snap.Members[0].UserID.String(),
		AmountKobo: snap.Group.ContributionKobo,
	})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyPaidThisRound)
}

func TestRecordContribution_StrangerRejected(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	snap := buildActiveGroup(t, svc, 3)

	_, err := svc.RecordContribution(context.Background(), snap.Group.ID, &domain.RecordContributionRequest{
		UserID:     uuid.NewString(),
		AmountKobo: snap.Group.ContributionKobo,
	})
	assert.ErrorIs(t, err, apperrors.ErrNotAMember)
}

func TestFullRoundReleasesPayoutAndAdvances(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	snap := buildActiveGroup(t, svc, 4)

	var last *domain.AdvanceRoundResult
	for pos := 1; pos <= 4; pos++ {
		last = contribute(t, svc, snap, pos)
	}

	require.True(t, last.Released)
	assert.False(t, last.Deferred)
	assert.Equal(t, 2, last.CurrentRound)
	assert.Equal(t, domain.GroupStatusActive, last.GroupStatus)
	assert.Equal(t, domain.PayoutStatusReleased, snap.Schedule[0].Status)
	assert.Equal(t, domain.PayoutStatusCurrent, snap.Schedule[1].Status)

	// Recipient of round 1 is position 1 and is marked paid out.
	require.NotNil(t, snap.Members[0].PayoutReceivedRound)
	assert.Equal(t, 1, *snap.Members[0].PayoutReceivedRound)

	// 4 contribution debits plus 1 payout credit.
	var credits int
	for _, p := range repo.postings {
		if p.Kind == domain.PostingKindCredit {
			credits++
			assert.Equal(t, int64(20_000_000), p.AmountKobo)
		}
	}
	assert.Equal(t, 1, credits)
}

func TestAdvanceRound_DefersBelowMidpointGate(t *testing.T) {
	repo := newFakeGroupRepo()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, start)
	snap := buildActiveGroup(t, svc, 5)

	// 2 of 5 paid: the gate needs ceil(5/2)=3 contributions.
	contribute(t, svc, snap, 1)
	contribute(t, svc, snap, 2)

	svc.now = func() time.Time { return start.AddDate(0, 1, 1) }
	res, err := svc.AdvanceRound(context.Background(), snap.Group.ID)
	require.NoError(t, err)

	assert.True(t, res.Deferred)
	assert.False(t, res.Released)
	assert.Equal(t, 1, res.CurrentRound, "a deferred round does not advance")
	assert.Equal(t, domain.PayoutStatusDeferred, snap.Schedule[0].Status)

	// No payout credit went out.
	for _, p := range repo.postings {
		assert.NotEqual(t, domain.PostingKindCredit, p.Kind)
	}
}

func TestAdvanceRound_RedeliveredTriggerIsNoOp(t *testing.T) {
	repo := newFakeGroupRepo()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, start)
	snap := buildActiveGroup(t, svc, 4)

	// Round 1 fills and releases; round 2 is now current, a month out.
	for pos := 1; pos <= 4; pos++ {
		contribute(t, svc, snap, pos)
	}
	require.Equal(t, 2, snap.Group.CurrentRound)

	postingsBefore := len(repo.postings)

	// The same trigger arrives again. Round 2 is not due, not collected and
	// not deferred, so nothing moves.
	res, err := svc.AdvanceRound(context.Background(), snap.Group.ID)
	require.NoError(t, err)

	assert.False(t, res.Released)
	assert.False(t, res.Deferred)
	assert.Equal(t, 2, res.CurrentRound)
	assert.Equal(t, domain.PayoutStatusCurrent, snap.Schedule[1].Status)
	assert.Len(t, repo.postings, postingsBefore)
	for _, m := range snap.Members {
		assert.Zero(t, m.MissedRounds)
	}
}

func TestAdvanceRound_EarlyTriggerDoesNotCloseRound(t *testing.T) {
	repo := newFakeGroupRepo()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, start)
	snap := buildActiveGroup(t, svc, 5)

	// 3 of 5 paid: the gate holds, but round 1 is only due a month from now.
	contribute(t, svc, snap, 1)
	contribute(t, svc, snap, 2)
	contribute(t, svc, snap, 3)

	res, err := svc.AdvanceRound(context.Background(), snap.Group.ID)
	require.NoError(t, err)

	// No release, no deferral, no misses charged to the two who still have
	// until the scheduled date to pay.
	assert.False(t, res.Released)
	assert.False(t, res.Deferred)
	assert.Equal(t, 1, res.CurrentRound)
	assert.Equal(t, domain.PayoutStatusCurrent, snap.Schedule[0].Status)
	for _, m := range snap.Members {
		assert.Zero(t, m.MissedRounds)
	}

	// Once due, the held gate releases as usual.
	svc.now = func() time.Time { return start.AddDate(0, 1, 1) }
	res, err = svc.AdvanceRound(context.Background(), snap.Group.ID)
	require.NoError(t, err)
	assert.True(t, res.Released)
	assert.Equal(t, 2, res.CurrentRound)
}

func TestDeferredPayoutReleasesOnceGateMet(t *testing.T) {
	repo := newFakeGroupRepo()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, start)
	snap := buildActiveGroup(t, svc, 5)

	contribute(t, svc, snap, 1)
	contribute(t, svc, snap, 2)

	svc.now = func() time.Time { return start.AddDate(0, 1, 1) }
	res, err := svc.AdvanceRound(context.Background(), snap.Group.ID)
	require.NoError(t, err)
	require.True(t, res.Deferred)

	// The third contribution meets the gate and triggers the retry.
	res = contribute(t, svc, snap, 3)
	assert.True(t, res.Released)
	assert.Equal(t, 2, res.CurrentRound)
	assert.Equal(t, domain.PayoutStatusReleased, snap.Schedule[0].Status)
}

func TestAdvanceRound_ForfeitsChronicDefaulter(t *testing.T) {
	repo := newFakeGroupRepo()
	start := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, start)
	// Missed-round limit is 2 in testConfig.
	snap := buildActiveGroup(t, svc, 3)

	// Rounds 1 and 2: positions 1 and 2 pay, position 3 never does. The gate
	// (ceil(3/2)=2) holds, so each due round closes and the absentee accrues
	// a miss.
	for round := 1; round <= 2; round++ {
		contribute(t, svc, snap, 1)
		contribute(t, svc, snap, 2)
		svc.now = func() time.Time { return start.AddDate(0, round, 1) }
		res, err := svc.AdvanceRound(context.Background(), snap.Group.ID)
		require.NoError(t, err)
		require.True(t, res.Released, "round %d", round)
	}

	member3 := snap.Members[2]
	assert.Equal(t, 2, member3.MissedRounds)
	assert.Equal(t, domain.PayoutStatusForfeited, snap.Schedule[2].Status)

	// Round 3's turn belongs to the forfeited position: the round runs with
	// no disbursement and the cycle completes.
	contribute(t, svc, snap, 1)
	contribute(t, svc, snap, 2)
	res, err := svc.RecordContribution(context.Background(), snap.Group.ID, &domain.RecordContributionRequest{
		UserID:     member3.UserID.String(),
		AmountKobo: snap.Group.ContributionKobo,
	})
	require.NoError(t, err)
	assert.False(t, res.Released)
	assert.Equal(t, domain.GroupStatusCompleted, res.GroupStatus)
}

func TestAdvanceRound_RepeatRecipientForfeitsTurn(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	snap := buildActiveGroup(t, svc, 3)

	// Force the invariant breach: round 1's recipient already holds a payout.
	already := 0
	snap.Members[0].PayoutReceivedRound = &already

	var res *domain.AdvanceRoundResult
	for pos := 1; pos <= 3; pos++ {
		res = contribute(t, svc, snap, pos)
	}

	// The round closes with the turn forfeited instead of paying twice, and
	// the entry does not linger as current.
	assert.False(t, res.Released)
	assert.Equal(t, 2, res.CurrentRound)
	assert.Equal(t, domain.PayoutStatusForfeited, snap.Schedule[0].Status)
	assert.Equal(t, domain.PayoutStatusCurrent, snap.Schedule[1].Status)
	for _, p := range repo.postings {
		assert.NotEqual(t, domain.PostingKindCredit, p.Kind)
	}
}

func TestAdvanceRound_NoOpOnInactiveGroup(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	ctx := context.Background()

	snap, err := svc.CreateGroup(ctx, &domain.CreateGroupRequest{
		Name:             "still forming",
		ContributionKobo: 1_000_000,
		Frequency:        "weekly",
		TotalSlots:       3,
		CreatorUserID:    uuid.NewString(),
	})
	require.NoError(t, err)

	res, err := svc.AdvanceRound(ctx, snap.Group.ID)
	require.NoError(t, err)
	assert.False(t, res.Released)
	assert.False(t, res.Deferred)
	assert.Equal(t, domain.GroupStatusForming, res.GroupStatus)
}

func TestCancel_RefundsNetOfPayout(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	snap := buildActiveGroup(t, svc, 3)

	// Round 1 completes: everyone contributed once, position 1 got the pot.
	for pos := 1; pos <= 3; pos++ {
		contribute(t, svc, snap, pos)
	}

	res, err := svc.Cancel(context.Background(), snap.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupStatusCancelled, res.Status)

	// Position 1 contributed 5m and received 15m: nothing back. Positions 2
	// and 3 get their 5m each.
	require.Len(t, res.Refunds, 2)
	for _, refund := range res.Refunds {
		assert.Equal(t, int64(5_000_000), refund.RefundKobo)
		assert.NotEqual(t, 1, refund.Position)
	}

	// The released turn keeps its history; the remaining entries close out
	// with the group instead of staying queryable as pending turns.
	assert.Equal(t, domain.PayoutStatusReleased, snap.Schedule[0].Status)
	assert.Equal(t, domain.PayoutStatusCancelled, snap.Schedule[1].Status)
	assert.Equal(t, domain.PayoutStatusCancelled, snap.Schedule[2].Status)

	// Cancelling twice is rejected.
	_, err = svc.Cancel(context.Background(), snap.Group.ID)
	assert.ErrorIs(t, err, apperrors.ErrCancelNotAllowed)
}

func TestCancel_FormingGroupRefundsNothing(t *testing.T) {
	repo := newFakeGroupRepo()
	svc := newTestRotationService(repo, time.Now())
	ctx := context.Background()

	snap, err := svc.CreateGroup(ctx, &domain.CreateGroupRequest{
		Name:             "never started",
		ContributionKobo: 1_000_000,
		Frequency:        "daily",
		TotalSlots:       4,
		CreatorUserID:    uuid.NewString(),
	})
	require.NoError(t, err)

	res, err := svc.Cancel(ctx, snap.Group.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GroupStatusCancelled, res.Status)
	assert.Empty(t, res.Refunds)
}

func TestAdvanceDueGroups_SweepsOnlyDueGroups(t *testing.T) {
	repo := newFakeGroupRepo()
	start := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestRotationService(repo, start)

	due := buildActiveGroup(t, svc, 3)
	notDue := buildActiveGroup(t, svc, 3)

	// Move past the first group's round-1 date only.
	repo.groups[notDue.Group.ID].Schedule[0].ScheduledAt = start.AddDate(0, 6, 0)
	svc.now = func() time.Time { return start.AddDate(0, 1, 1) }

	require.NoError(t, svc.AdvanceDueGroups(context.Background()))

	// The due group had zero contributions: its payout defers in place.
	assert.Equal(t, domain.PayoutStatusDeferred, repo.groups[due.Group.ID].Schedule[0].Status)
	assert.Equal(t, domain.PayoutStatusCurrent, repo.groups[notDue.Group.ID].Schedule[0].Status)
}
