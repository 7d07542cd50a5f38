package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MatchStatus string

const (
	MatchStatusUnreviewed MatchStatus = "unreviewed"
	MatchStatusSkipped    MatchStatus = "skipped"
	MatchStatusWaitlist   MatchStatus = "waitlist"
	MatchStatusBid        MatchStatus = "bid"
	MatchStatusBooked     MatchStatus = "booked"
	MatchStatusMissed     MatchStatus = "missed"
)

// AllMatchStatuses is the display order for counts.
var AllMatchStatuses = []MatchStatus{
	MatchStatusUnreviewed,
	MatchStatusWaitlist,
	MatchStatusBid,
	MatchStatusBooked,
	MatchStatusSkipped,
	MatchStatusMissed,
}

func (s MatchStatus) IsTerminal() bool {
	return s == MatchStatusBooked || s == MatchStatusMissed
}

// IsLive reports whether the status counts toward the one-live-match-per-pair rule.
func (s MatchStatus) IsLive() bool {
	return s != MatchStatusSkipped && s != MatchStatusMissed
}

func (s MatchStatus) Valid() bool {
	for _, v := range AllMatchStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Match pairs one hunting vehicle with one posting.
type Match struct {
	ID            string              `json:"id" db:"id"`
	TenantID      string              `json:"tenant_id" db:"tenant_id"`
	HuntPlanID    string              `json:"hunt_plan_id" db:"hunt_plan_id"`
	VehicleID     string              `json:"vehicle_id" db:"vehicle_id"`
	PostingID     string              `json:"posting_id" db:"posting_id"`
	DistanceMiles *float64            `json:"distance_miles,omitempty" db:"distance_miles"`
	Status        MatchStatus         `json:"match_status" db:"status"`
	BidRate       decimal.NullDecimal `json:"bid_rate" db:"bid_rate"`
	BidBy         *string             `json:"bid_by,omitempty" db:"bid_by"`
	BidAt         *time.Time          `json:"bid_at,omitempty" db:"bid_at"`
	BookedLoadID  *string             `json:"booked_load_id,omitempty" db:"booked_load_id"`
	ReviewedBy    *string             `json:"reviewed_by,omitempty" db:"reviewed_by"`
	ReviewedAt    *time.Time          `json:"reviewed_at,omitempty" db:"reviewed_at"`
	Notes         *string             `json:"notes,omitempty" db:"notes"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at" db:"updated_at"`
}

// TransitionPayload carries the fields a target state needs.
type TransitionPayload struct {
	BidRate      decimal.NullDecimal `json:"bid_rate"`
	BidBy        string              `json:"bid_by"`
	BookedLoadID string              `json:"-"`
	Notes        *string             `json:"notes,omitempty"`
}

type TransitionRequest struct {
	Status  MatchStatus      `json:"status" validate:"required,oneof=skipped waitlist bid"`
	BidRate *decimal.Decimal `json:"bid_rate,omitempty"`
	BidBy   string           `json:"bid_by,omitempty"`
	Notes   *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// MatchFilter narrows match listings.
type MatchFilter struct {
	Statuses  []MatchStatus
	PostingID string
	VehicleID string
	Limit     int
	Offset    int
}

// PostingGroup is a display grouping of independent matches that share a posting.
// It is never persisted.
type PostingGroup struct {
	PostingID  string  `json:"posting_id"`
	MatchCount int     `json:"match_count"`
	Matches    []Match `json:"matches"`
}

// StatusTransition is a single applied status change, used for projections and events.
type StatusTransition struct {
	MatchID  string      `json:"match_id" db:"id"`
	TenantID string      `json:"tenant_id" db:"tenant_id"`
	From     MatchStatus `json:"from" db:"from_status"`
	To       MatchStatus `json:"to" db:"to_status"`
}

type TransitionResult struct {
	Match    *Match `json:"match"`
	Degraded bool   `json:"degraded,omitempty"`
}
