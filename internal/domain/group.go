package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kolosave/savings-engine/pkg/money"
)

// Group status transitions only move forward: forming -> active -> completed,
// with cancelled reachable from forming or active.
const (
	GroupStatusForming   = "forming"
	GroupStatusActive    = "active"
	GroupStatusCompleted = "completed"
	GroupStatusCancelled = "cancelled"
)

// Payout schedule entry statuses. Deferred and forfeited are reportable
// business states, not errors.
const (
	PayoutStatusUpcoming  = "upcoming"
	PayoutStatusCurrent   = "current"
	PayoutStatusDeferred  = "deferred"
	PayoutStatusReleased  = "released"
	PayoutStatusForfeited = "forfeited"
	PayoutStatusCancelled = "cancelled"
)

// RotationGroup is a rotating savings circle. Slots equal rounds: one payout
// per member over a full cycle.
type RotationGroup struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	ContributionKobo int64      `json:"contribution_kobo" db:"contribution_kobo"`
	Currency         string     `json:"currency" db:"currency"`
	Frequency        string     `json:"frequency" db:"frequency"`
	TotalSlots       int        `json:"total_slots" db:"total_slots"`
	CurrentRound     int        `json:"current_round" db:"current_round"`
	Status           string     `json:"status" db:"status"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// TotalRounds equals the slot count: every position receives exactly one
// payout per cycle.
func (g *RotationGroup) TotalRounds() int {
	return g.TotalSlots
}

func (g *RotationGroup) ContributionAmount() money.Money {
	return money.New(g.ContributionKobo, g.Currency)
}

// PayoutAmount is the full pool for one round.
func (g *RotationGroup) PayoutAmount() money.Money {
	return g.ContributionAmount().MulInt(int64(g.TotalSlots))
}

// Membership is one member's slot in a group. Position is assigned in join
// order and never reordered mid-cycle.
type Membership struct {
	ID                   uuid.UUID `json:"id" db:"id"`
	GroupID              uuid.UUID `json:"group_id" db:"group_id"`
	UserID               uuid.UUID `json:"user_id" db:"user_id"`
	Position             int       `json:"position" db:"position"`
	HasPaidCurrentRound  bool      `json:"has_paid_current_round" db:"has_paid_current_round"`
	TotalContributedKobo int64     `json:"total_contributed_kobo" db:"total_contributed_kobo"`
	PayoutReceivedRound  *int      `json:"payout_received_round,omitempty" db:"payout_received_round"`
	MissedRounds         int       `json:"missed_rounds" db:"missed_rounds"`
	JoinedAt             time.Time `json:"joined_at" db:"joined_at"`
}

// PayoutScheduleEntry is one row of the schedule generated when the group
// activates. Immutable afterwards except for status transitions.
type PayoutScheduleEntry struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	GroupID           uuid.UUID  `json:"group_id" db:"group_id"`
	Round             int        `json:"round" db:"round"`
	RecipientPosition int        `json:"recipient_position" db:"recipient_position"`
	ScheduledAt       time.Time  `json:"scheduled_at" db:"scheduled_at"`
	AmountKobo        int64      `json:"amount_kobo" db:"amount_kobo"`
	Status            string     `json:"status" db:"status"`
	ReleasedAt        *time.Time `json:"released_at,omitempty" db:"released_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// DTOs for requests and responses

type CreateGroupRequest struct {
	Name             string `json:"name" validate:"required,min=3,max=120"`
	ContributionKobo int64  `json:"contribution_kobo" validate:"required,gt=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3"`
	Frequency        string `json:"frequency" validate:"required"`
	TotalSlots       int    `json:"total_slots" validate:"required,gte=2"`
	CreatorUserID    string `json:"creator_user_id" validate:"required,uuid4"`
}

type JoinGroupRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

type RecordContributionRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid4"`
	AmountKobo int64  `json:"amount_kobo" validate:"required,gt=0"`
	Currency   string `json:"currency" validate:"omitempty,len=3"`
}

// GroupSnapshot is the consistent read of a group, its members and schedule,
// loaded in a single transaction.
type GroupSnapshot struct {
	Group    *RotationGroup         `json:"group"`
	Members  []*Membership          `json:"members"`
	Schedule []*PayoutScheduleEntry `json:"schedule"`
}

// CollectedForCurrentRound sums the contributions already recorded for the
// round in flight.
func (s *GroupSnapshot) CollectedForCurrentRound() money.Money {
	paid := 0
	for _, m := range s.Members {
		if m.HasPaidCurrentRound {
			paid++
		}
	}
	return s.Group.ContributionAmount().MulInt(int64(paid))
}

// AdvanceRoundResult reports what a round advancement did. A deferral is
// surfaced here, never silently absorbed.
type AdvanceRoundResult struct {
	GroupID      uuid.UUID            `json:"group_id"`
	Round        int                  `json:"round"`
	Released     bool                 `json:"released"`
	Deferred     bool                 `json:"deferred"`
	Entry        *PayoutScheduleEntry `json:"entry,omitempty"`
	GroupStatus  string               `json:"group_status"`
	CurrentRound int                  `json:"current_round"`
}

// MemberRefund is one member's pro-rata refund on active cancellation.
type MemberRefund struct {
	UserID       uuid.UUID       `json:"user_id"`
	Position     int             `json:"position"`
	RefundKobo   int64           `json:"refund_kobo"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type CancelGroupResult struct {
	GroupID uuid.UUID       `json:"group_id"`
	Status  string          `json:"status"`
	Refunds []*MemberRefund `json:"refunds,omitempty"`
}
