package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kolosave/savings-engine/internal/config"
	"github.com/kolosave/savings-engine/internal/domain"
	"github.com/kolosave/savings-engine/internal/ledger"
	"github.com/kolosave/savings-engine/internal/metrics"
	"github.com/kolosave/savings-engine/internal/repository"
	apperrors "github.com/kolosave/savings-engine/pkg/errors"
	"github.com/kolosave/savings-engine/pkg/money"
)

const scheduleCacheTTL = 5 * time.Minute

// RotationService runs the midpoint-turn rotation model. Payouts are
// pre-scheduled one per frequency interval in position order, but a round's
// payout only releases once the pool holds at least half the round's expected
// contributions. An unmet gate defers the payout; it is retried on the next
// contribution event and on every scheduler sweep, and every deferral is
// reported.
type RotationService struct {
	groups repository.GroupRepository
	outbox *ledger.Outbox
	redis  *redis.Client
	cfg    *config.Config
	locks  *entityLocks
	now    func() time.Time
}

func NewRotationService(groups repository.GroupRepository, outbox *ledger.Outbox, rdb *redis.Client, cfg *config.Config) *RotationService {
	return &RotationService{
		groups: groups,
		outbox: outbox,
		redis:  rdb,
		cfg:    cfg,
		locks:  newEntityLocks(),
		now:    time.Now,
	}
}

// CreateGroup opens a new circle in the forming state with the creator in
// position 1.
func (s *RotationService) CreateGroup(ctx context.Context, req *domain.CreateGroupRequest) (*domain.GroupSnapshot, error) {
	freq, err := money.ParseFrequency(req.Frequency)
	if err != nil {
		return nil, apperrors.WrapInvalidFrequency(req.Frequency)
	}

	creatorID, err := uuid.Parse(req.CreatorUserID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidRequest, "invalid creator user id", err)
	}

	currency := req.Currency
	if currency == "" {
		currency = money.DefaultCurrency
	}

	now := s.now()
	group := &domain.RotationGroup{
		ID:               uuid.New(),
		Name:             req.Name,
		ContributionKobo: req.ContributionKobo,
		Currency:         currency,
		Frequency:        string(freq),
		TotalSlots:       req.TotalSlots,
		CurrentRound:     0,
		Status:           domain.GroupStatusForming,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	creator := &domain.Membership{
		ID:       uuid.New(),
		GroupID:  group.ID,
		UserID:   creatorID,
		Position: 1,
		JoinedAt: now,
	}

	if err := s.groups.Create(ctx, group, creator); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	return &domain.GroupSnapshot{
		Group:   group,
		Members: []*domain.Membership{creator},
	}, nil
}

// Join assigns the next free position in strict join order. Filling the last
// slot activates the group and freezes the full payout schedule.
func (s *RotationService) Join(ctx context.Context, groupID uuid.UUID, req *domain.JoinGroupRequest) (*domain.Membership, error) {
	release := s.locks.acquire(groupID)
	defer release()

	snap, err := s.loadSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group := snap.Group

	if group.Status != domain.GroupStatusForming {
		if len(snap.Members) >= group.TotalSlots {
			return nil, apperrors.WrapGroupFull(groupID.String(), group.TotalSlots)
		}
		return nil, apperrors.WrapGroupNotActive(groupID.String(), group.Status)
	}
	if len(snap.Members) >= group.TotalSlots {
		return nil, apperrors.WrapGroupFull(groupID.String(), group.TotalSlots)
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidRequest, "invalid user id", err)
	}
	for _, m := range snap.Members {
		if m.UserID == userID {
			return nil, apperrors.WrapAlreadyMember(groupID.String(), req.UserID)
		}
	}

	now := s.now()
	member := &domain.Membership{
		ID:       uuid.New(),
		GroupID:  groupID,
		UserID:   userID,
		Position: len(snap.Members) + 1,
		JoinedAt: now,
	}

	var schedule []*domain.PayoutScheduleEntry
	if member.Position == group.TotalSlots {
		group.Status = domain.GroupStatusActive
		group.CurrentRound = 1
		group.ActivatedAt = &now

		schedule, err = s.generateSchedule(group, now)
		if err != nil {
			return nil, err
		}
	}
	group.UpdatedAt = now

	if err := s.groups.AddMember(ctx, group, member, schedule); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	if schedule != nil {
		s.invalidateScheduleCache(ctx, groupID)
		slog.Info("rotation group activated",
			"group_id", groupID,
			"total_slots", group.TotalSlots,
			"first_payout_at", schedule[0].ScheduledAt,
		)
	}

	return member, nil
}

// generateSchedule freezes the payout plan: one entry per round, recipient by
// position, dated one frequency interval apart from activation.
func (s *RotationService) generateSchedule(group *domain.RotationGroup, activatedAt time.Time) ([]*domain.PayoutScheduleEntry, error) {
	freq := money.Frequency(group.Frequency)
	payout := group.PayoutAmount()

	entries := make([]*domain.PayoutScheduleEntry, 0, group.TotalRounds())
	for round := 1; round <= group.TotalRounds(); round++ {
		scheduledAt, err := freq.AdvanceN(activatedAt, round)
		if err != nil {
			return nil, apperrors.WrapInvalidFrequency(group.Frequency)
		}
		status := domain.PayoutStatusUpcoming
		if round == 1 {
			status = domain.PayoutStatusCurrent
		}
		entries = append(entries, &domain.PayoutScheduleEntry{
			ID:                uuid.New(),
			GroupID:           group.ID,
			Round:             round,
			RecipientPosition: round,
			ScheduledAt:       scheduledAt,
			AmountKobo:        payout.Kobo,
			Status:            status,
			CreatedAt:         activatedAt,
		})
	}
	return entries, nil
}

// RecordContribution records one member's exact contribution for the current
// round, then re-evaluates the round: a fully-paid round advances
// immediately, and a previously deferred payout gets another release attempt.
func (s *RotationService) RecordContribution(ctx context.Context, groupID uuid.UUID, req *domain.RecordContributionRequest) (*domain.AdvanceRoundResult, error) {
	release := s.locks.acquire(groupID)
	defer release()

	snap, err := s.loadSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group := snap.Group

	if group.Status != domain.GroupStatusActive {
		return nil, apperrors.WrapGroupNotActive(groupID.String(), group.Status)
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeInvalidRequest, "invalid user id", err)
	}

	var member *domain.Membership
	for _, m := range snap.Members {
		if m.UserID == userID {
			member = m
			break
		}
	}
	if member == nil {
		return nil, apperrors.WrapNotAMember(groupID.String(), req.UserID)
	}

	currency := req.Currency
	if currency == "" {
		currency = group.Currency
	}
	contributed := money.New(req.AmountKobo, currency)
	if !contributed.Equal(group.ContributionAmount()) {
		return nil, apperrors.WrapAmountMismatch(group.ContributionAmount().String(), contributed.String())
	}

	if member.HasPaidCurrentRound {
		return nil, apperrors.WrapAlreadyPaidThisRound(req.UserID, group.CurrentRound)
	}

	member.HasPaidCurrentRound = true
	member.TotalContributedKobo += contributed.Kobo
	member.MissedRounds = 0

	posting := s.groupPosting(group, userID, contributed.Kobo, domain.PostingKindDebit,
		fmt.Sprintf("group:%s:round:%d:member:%d:contribution", group.ID, group.CurrentRound, member.Position))

	if err := s.groups.RecordContribution(ctx, member, posting); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.flushOutbox(ctx)

	// A fully collected round advances without waiting for the scheduled
	// date; a deferred payout is retried now that the pool has grown.
	entry := currentEntry(snap)
	if s.allPaid(snap) || (entry != nil && entry.Status == domain.PayoutStatusDeferred) {
		return s.advanceLocked(ctx, snap)
	}

	return &domain.AdvanceRoundResult{
		GroupID:      group.ID,
		Round:        group.CurrentRound,
		GroupStatus:  group.Status,
		CurrentRound: group.CurrentRound,
	}, nil
}

// AdvanceRound attempts to close the current round: release the payout if
// the midpoint gate holds, defer it otherwise. Invoked by the scheduler when
// a round's date has passed, and internally when a round fills early.
// Idempotent: a group that is not active, or whose round is simply not due,
// comes back unchanged.
func (s *RotationService) AdvanceRound(ctx context.Context, groupID uuid.UUID) (*domain.AdvanceRoundResult, error) {
	release := s.locks.acquire(groupID)
	defer release()

	snap, err := s.loadSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if snap.Group.Status != domain.GroupStatusActive {
		return &domain.AdvanceRoundResult{
			GroupID:      groupID,
			Round:        snap.Group.CurrentRound,
			GroupStatus:  snap.Group.Status,
			CurrentRound: snap.Group.CurrentRound,
		}, nil
	}

	return s.advanceLocked(ctx, snap)
}

// advanceLocked closes the current round under the caller-held entity lock.
func (s *RotationService) advanceLocked(ctx context.Context, snap *domain.GroupSnapshot) (*domain.AdvanceRoundResult, error) {
	group := snap.Group
	round := group.CurrentRound
	entry := currentEntry(snap)
	if entry == nil {
		return nil, apperrors.WrapDatabaseError(fmt.Errorf("group %s has no schedule entry for round %d", group.ID, round))
	}

	now := s.now()
	result := &domain.AdvanceRoundResult{GroupID: group.ID, Round: round, Entry: entry}

	// A round is only actionable once its date has passed, every member has
	// paid, or a deferral is pending a retry. Triggers arrive at least once;
	// an early or redelivered one leaves the round untouched.
	if now.Before(entry.ScheduledAt) && !s.allPaid(snap) && entry.Status != domain.PayoutStatusDeferred {
		result.GroupStatus = group.Status
		result.CurrentRound = group.CurrentRound
		return result, nil
	}

	var postings []*domain.LedgerPosting
	changedEntries := []*domain.PayoutScheduleEntry{}

	if entry.Status == domain.PayoutStatusForfeited {
		// The position's payout was forfeited earlier; the round still runs
		// on schedule with no disbursement, funded rounds continue after it.
	} else if s.gateHolds(snap) {
		recipient := memberAtPosition(snap, entry.RecipientPosition)
		if recipient == nil {
			return nil, apperrors.WrapDatabaseError(fmt.Errorf("group %s round %d has no member at position %d", group.ID, round, entry.RecipientPosition))
		}
		if recipient.PayoutReceivedRound != nil {
			// One payout per member per cycle. A recipient already paid out
			// cannot be selected again; the turn is forfeited and the round
			// closes without release.
			entry.Status = domain.PayoutStatusForfeited
			changedEntries = append(changedEntries, entry)
			slog.Warn("payout recipient already paid this cycle",
				"group_id", group.ID, "round", round, "position", recipient.Position)
		} else {
			entry.Status = domain.PayoutStatusReleased
			entry.ReleasedAt = &now
			recipient.PayoutReceivedRound = &round
			changedEntries = append(changedEntries, entry)

			postings = append(postings, s.groupPosting(group, recipient.UserID, entry.AmountKobo,
				domain.PostingKindCredit,
				fmt.Sprintf("group:%s:round:%d:payout", group.ID, round)))

			result.Released = true
			metrics.PayoutsReleased.Inc()
		}
	} else {
		// Midpoint gate unmet: withhold. The round does not close; the next
		// contribution or sweep retries. Deferral is reported, never
		// swallowed.
		if entry.Status != domain.PayoutStatusDeferred {
			entry.Status = domain.PayoutStatusDeferred
			changedEntries = append(changedEntries, entry)
			metrics.PayoutDeferrals.Inc()
		}
		slog.Warn("payout deferred below midpoint gate",
			"group_id", group.ID,
			"round", round,
			"collected", snap.CollectedForCurrentRound().String(),
			"required", s.gateThreshold(group).String(),
		)

		result.Deferred = true
		result.GroupStatus = group.Status
		result.CurrentRound = group.CurrentRound

		if len(changedEntries) > 0 {
			if err := s.groups.ApplyRoundAdvance(ctx, group, nil, changedEntries, nil); err != nil {
				return nil, apperrors.WrapDatabaseError(err)
			}
			s.invalidateScheduleCache(ctx, group.ID)
		}
		return result, nil
	}

	// Close the round: track misses, forfeit chronic defaulters, reset round
	// flags, move to the next round or complete the cycle.
	changedMembers := make([]*domain.Membership, 0, len(snap.Members))
	for _, m := range snap.Members {
		if !m.HasPaidCurrentRound {
			m.MissedRounds++
			if m.MissedRounds >= s.cfg.Business.RotationMissedRoundLimit {
				if forfeited := forfeitFuturePayout(snap, m, &changedEntries); forfeited {
					metrics.PayoutsForfeited.Inc()
					slog.Warn("future payout forfeited after missed rounds",
						"group_id", group.ID,
						"position", m.Position,
						"missed_rounds", m.MissedRounds,
					)
				}
			}
		}
		m.HasPaidCurrentRound = false
		changedMembers = append(changedMembers, m)
	}

	group.CurrentRound++
	group.UpdatedAt = now
	if group.CurrentRound > group.TotalRounds() {
		group.Status = domain.GroupStatusCompleted
	} else if next := entryForRound(snap, group.CurrentRound); next != nil && next.Status == domain.PayoutStatusUpcoming {
		next.Status = domain.PayoutStatusCurrent
		changedEntries = append(changedEntries, next)
	}

	if err := s.groups.ApplyRoundAdvance(ctx, group, changedMembers, changedEntries, postings); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.invalidateScheduleCache(ctx, group.ID)
	s.flushOutbox(ctx)

	result.GroupStatus = group.Status
	result.CurrentRound = group.CurrentRound
	return result, nil
}

// Cancel stops a forming or active group. Active cancellation refunds each
// member their contributions net of any payout already received, never below
// zero.
func (s *RotationService) Cancel(ctx context.Context, groupID uuid.UUID) (*domain.CancelGroupResult, error) {
	release := s.locks.acquire(groupID)
	defer release()

	snap, err := s.loadSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}
	group := snap.Group

	if group.Status != domain.GroupStatusForming && group.Status != domain.GroupStatusActive {
		return nil, apperrors.WrapCancelNotAllowed(groupID.String(), group.Status)
	}

	now := s.now()
	var refunds []*domain.MemberRefund
	var postings []*domain.LedgerPosting

	for _, m := range snap.Members {
		refundKobo := m.TotalContributedKobo
		if m.PayoutReceivedRound != nil {
			refundKobo -= group.PayoutAmount().Kobo
		}
		if refundKobo <= 0 {
			continue
		}
		refund := money.New(refundKobo, group.Currency)
		refunds = append(refunds, &domain.MemberRefund{
			UserID:       m.UserID,
			Position:     m.Position,
			RefundKobo:   refund.Kobo,
			RefundAmount: refund.Decimal(),
		})
		postings = append(postings, s.groupPosting(group, m.UserID, refund.Kobo,
			domain.PostingKindRefund,
			fmt.Sprintf("group:%s:cancel:member:%d", group.ID, m.Position)))
	}

	// Unreleased turns end with the group. Released and forfeited entries
	// keep their history.
	var cancelledEntries []*domain.PayoutScheduleEntry
	for _, e := range snap.Schedule {
		switch e.Status {
		case domain.PayoutStatusUpcoming, domain.PayoutStatusCurrent, domain.PayoutStatusDeferred:
			e.Status = domain.PayoutStatusCancelled
			cancelledEntries = append(cancelledEntries, e)
		}
	}

	group.Status = domain.GroupStatusCancelled
	group.UpdatedAt = now

	if err := s.groups.Cancel(ctx, group, cancelledEntries, postings); err != nil {
		return nil, apperrors.WrapDatabaseError(err)
	}

	s.invalidateScheduleCache(ctx, groupID)
	s.flushOutbox(ctx)

	return &domain.CancelGroupResult{GroupID: groupID, Status: group.Status, Refunds: refunds}, nil
}

// GetSnapshot returns a consistent read of the group, members and schedule.
func (s *RotationService) GetSnapshot(ctx context.Context, groupID uuid.UUID) (*domain.GroupSnapshot, error) {
	return s.loadSnapshot(ctx, groupID)
}

// GetSchedule returns the payout schedule, served from redis when warm.
func (s *RotationService) GetSchedule(ctx context.Context, groupID uuid.UUID) ([]*domain.PayoutScheduleEntry, error) {
	cacheKey := scheduleCacheKey(groupID)
	if s.redis != nil {
		if raw, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []*domain.PayoutScheduleEntry
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		}
	}

	snap, err := s.loadSnapshot(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		if raw, err := json.Marshal(snap.Schedule); err == nil {
			if err := s.redis.Set(ctx, cacheKey, raw, scheduleCacheTTL).Err(); err != nil {
				slog.Warn("caching schedule", "group_id", groupID, "error", err)
			}
		}
	}

	return snap.Schedule, nil
}

// AdvanceDueGroups runs the advancement sweep over every active group whose
// current round date has passed. At-least-once safe.
func (s *RotationService) AdvanceDueGroups(ctx context.Context) error {
	ids, err := s.groups.ListDueGroupIDs(ctx, s.now())
	if err != nil {
		return apperrors.WrapDatabaseError(err)
	}
	for _, id := range ids {
		if _, err := s.AdvanceRound(ctx, id); err != nil {
			slog.Error("round advancement sweep", "group_id", id, "error", err)
		}
	}
	return nil
}

// gateHolds checks the midpoint condition: the round's collected
// contributions must cover at least half the slots, rounded up.
func (s *RotationService) gateHolds(snap *domain.GroupSnapshot) bool {
	return snap.CollectedForCurrentRound().Kobo >= s.gateThreshold(snap.Group).Kobo
}

func (s *RotationService) gateThreshold(group *domain.RotationGroup) money.Money {
	half := (group.TotalSlots + 1) / 2
	return group.ContributionAmount().MulInt(int64(half))
}

func (s *RotationService) allPaid(snap *domain.GroupSnapshot) bool {
	for _, m := range snap.Members {
		if !m.HasPaidCurrentRound {
			return false
		}
	}
	return true
}

func (s *RotationService) loadSnapshot(ctx context.Context, groupID uuid.UUID) (*domain.GroupSnapshot, error) {
	snap, err := s.groups.GetSnapshot(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.WrapGroupNotFound(groupID.String())
		}
		return nil, apperrors.WrapDatabaseError(err)
	}
	return snap, nil
}

func (s *RotationService) groupPosting(group *domain.RotationGroup, account uuid.UUID, kobo int64, kind, key string) *domain.LedgerPosting {
	now := s.now()
	return &domain.LedgerPosting{
		ID:             uuid.New(),
		AccountID:      account,
		AmountKobo:     kobo,
		Currency:       group.Currency,
		Kind:           kind,
		IdempotencyKey: key,
		SourceType:     domain.PostingSourceGroup,
		SourceID:       group.ID,
		Status:         domain.PostingStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
	}
}

func (s *RotationService) flushOutbox(ctx context.Context) {
	if s.outbox == nil {
		return
	}
	if err := s.outbox.Flush(ctx); err != nil {
		slog.Warn("outbox flush", "error", err)
	}
}

func (s *RotationService) invalidateScheduleCache(ctx context.Context, groupID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, scheduleCacheKey(groupID)).Err(); err != nil {
		slog.Warn("invalidating schedule cache", "group_id", groupID, "error", err)
	}
}

func scheduleCacheKey(groupID uuid.UUID) string {
	return "group:" + groupID.String() + ":schedule"
}

func currentEntry(snap *domain.GroupSnapshot) *domain.PayoutScheduleEntry {
	return entryForRound(snap, snap.Group.CurrentRound)
}

func entryForRound(snap *domain.GroupSnapshot, round int) *domain.PayoutScheduleEntry {
	for _, e := range snap.Schedule {
		if e.Round == round {
			return e
		}
	}
	return nil
}

func memberAtPosition(snap *domain.GroupSnapshot, position int) *domain.Membership {
	for _, m := range snap.Members {
		if m.Position == position {
			return m
		}
	}
	return nil
}

// forfeitFuturePayout marks the member's not-yet-current payout entry
// forfeited. The cycle length never shrinks; remaining members keep their
// original dates, funded by the reduced pool.
func forfeitFuturePayout(snap *domain.GroupSnapshot, m *domain.Membership, changed *[]*domain.PayoutScheduleEntry) bool {
	for _, e := range snap.Schedule {
		if e.RecipientPosition == m.Position && e.Status == domain.PayoutStatusUpcoming {
			e.Status = domain.PayoutStatusForfeited
			*changed = append(*changed, e)
			return true
		}
	}
	return false
}
