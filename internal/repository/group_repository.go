package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kolosave/savings-engine/internal/domain"
)

type groupRepository struct {
	db *sqlx.DB
}

func NewGroupRepository(db *sqlx.DB) GroupRepository {
	return &groupRepository{db: db}
}

const insertGroupQuery = `
	INSERT INTO rotation_groups (id, name, contribution_kobo, currency, frequency, total_slots, current_round, status, activated_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertMemberQuery = `
	INSERT INTO group_members (id, group_id, user_id, position, has_paid_current_round, total_contributed_kobo, payout_received_round, missed_rounds, joined_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const insertScheduleEntryQuery = `
	INSERT INTO payout_schedule (id, group_id, round, recipient_position, scheduled_at, amount_kobo, status, released_at, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const updateGroupQuery = `
	UPDATE rotation_groups
	SET current_round = $2, status = $3, activated_at = $4, updated_at = $5
	WHERE id = $1
`

const updateMemberQuery = `
	UPDATE group_members
	SET has_paid_current_round = $2, total_contributed_kobo = $3, payout_received_round = $4, missed_rounds = $5
	WHERE id = $1
`

const updateScheduleEntryQuery = `
	UPDATE payout_schedule
	SET status = $2, released_at = $3
	WHERE id = $1
`

func (r *groupRepository) Create(ctx context.Context, group *domain.RotationGroup, creator *domain.Membership) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, insertGroupQuery,
		group.ID, group.Name, group.ContributionKobo, group.Currency, group.Frequency,
		group.TotalSlots, group.CurrentRound, group.Status, group.ActivatedAt,
		group.CreatedAt, group.UpdatedAt,
	); err != nil {
		return err
	}

	if err = insertMember(ctx, tx, creator); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *groupRepository) GetSnapshot(ctx context.Context, groupID uuid.UUID) (*domain.GroupSnapshot, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var group domain.RotationGroup
	err = tx.GetContext(ctx, &group, `
		SELECT id, name, contribution_kobo, currency, frequency, total_slots, current_round, status, activated_at, created_at, updated_at
		FROM rotation_groups WHERE id = $1
	`, groupID)
	if err != nil {
		return nil, err
	}

	var members []*domain.Membership
	err = tx.SelectContext(ctx, &members, `
		SELECT id, group_id, user_id, position, has_paid_current_round, total_contributed_kobo, payout_received_round, missed_rounds, joined_at
		FROM group_members WHERE group_id = $1 ORDER BY position
	`, groupID)
	if err != nil {
		return nil, err
	}

	var schedule []*domain.PayoutScheduleEntry
	err = tx.SelectContext(ctx, &schedule, `
		SELECT id, group_id, round, recipient_position, scheduled_at, amount_kobo, status, released_at, created_at
		FROM payout_schedule WHERE group_id = $1 ORDER BY round
	`, groupID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.GroupSnapshot{Group: &group, Members: members, Schedule: schedule}, nil
}

func (r *groupRepository) AddMember(ctx context.Context, group *domain.RotationGroup, member *domain.Membership, schedule []*domain.PayoutScheduleEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err = insertMember(ctx, tx, member); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, updateGroupQuery,
		group.ID, group.CurrentRound, group.Status, group.ActivatedAt, group.UpdatedAt,
	); err != nil {
		return err
	}

	for _, entry := range schedule {
		if _, err = tx.ExecContext(ctx, insertScheduleEntryQuery,
			entry.ID, entry.GroupID, entry.Round, entry.RecipientPosition, entry.ScheduledAt,
			entry.AmountKobo, entry.Status, entry.ReleasedAt, entry.CreatedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *groupRepository) RecordContribution(ctx context.Context, member *domain.Membership, posting *domain.LedgerPosting) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err = updateMember(ctx, tx, member); err != nil {
		return err
	}

	if posting != nil {
		if err = insertPosting(ctx, tx, posting); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *groupRepository) ApplyRoundAdvance(ctx context.Context, group *domain.RotationGroup, members []*domain.Membership, entries []*domain.PayoutScheduleEntry, postings []*domain.LedgerPosting) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, updateGroupQuery,
		group.ID, group.CurrentRound, group.Status, group.ActivatedAt, group.UpdatedAt,
	); err != nil {
		return err
	}

	for _, m := range members {
		if err = updateMember(ctx, tx, m); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if _, err = tx.ExecContext(ctx, updateScheduleEntryQuery, entry.ID, entry.Status, entry.ReleasedAt); err != nil {
			return err
		}
	}

	for _, p := range postings {
		if err = insertPosting(ctx, tx, p); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *groupRepository) Cancel(ctx context.Context, group *domain.RotationGroup, entries []*domain.PayoutScheduleEntry, postings []*domain.LedgerPosting) error {
	return r.ApplyRoundAdvance(ctx, group, nil, entries, postings)
}

func (r *groupRepository) ListDueGroupIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT g.id
		FROM rotation_groups g
		JOIN payout_schedule s ON s.group_id = g.id AND s.round = g.current_round
		WHERE g.status = $1 AND s.scheduled_at <= $2
		ORDER BY s.scheduled_at
	`, domain.GroupStatusActive, now)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func insertMember(ctx context.Context, tx *sqlx.Tx, m *domain.Membership) error {
	_, err := tx.ExecContext(ctx, insertMemberQuery,
		m.ID, m.GroupID, m.UserID, m.Position, m.HasPaidCurrentRound,
		m.TotalContributedKobo, m.PayoutReceivedRound, m.MissedRounds, m.JoinedAt,
	)
	return err
}

func updateMember(ctx context.Context, tx *sqlx.Tx, m *domain.Membership) error {
	_, err := tx.ExecContext(ctx, updateMemberQuery,
		m.ID, m.HasPaidCurrentRound, m.TotalContributedKobo, m.PayoutReceivedRound, m.MissedRounds,
	)
	return err
}
