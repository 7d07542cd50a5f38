package matching

import (
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/shopspring/decimal"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
)

// allowedTransitions is the legal status table. Terminal states have no entry.
// skipped/waitlist -> unreviewed is deliberately absent; it is only reachable through ReReview.
var allowedTransitions = map[models.MatchStatus][]models.MatchStatus{
	models.MatchStatusUnreviewed: {models.MatchStatusSkipped, models.MatchStatusWaitlist, models.MatchStatusBid, models.MatchStatusMissed},
	models.MatchStatusWaitlist:   {models.MatchStatusBid, models.MatchStatusSkipped, models.MatchStatusMissed},
	models.MatchStatusSkipped:    {models.MatchStatusMissed},
	models.MatchStatusBid:        {models.MatchStatusBooked, models.MatchStatusMissed},
}

// CanTransition reports whether from -> to is in the legal table.
func CanTransition(from, to models.MatchStatus) bool {
	return ectolinq.Contains(allowedTransitions[from], to)
}

// AllowedTargets lists the statuses a match in from may move to.
func AllowedTargets(from models.MatchStatus) []models.MatchStatus {
	return append([]models.MatchStatus(nil), allowedTransitions[from]...)
}

// applyTransition validates from -> to for m and writes the target's fields onto m.
func applyTransition(m *models.Match, to models.MatchStatus, payload models.TransitionPayload, actorID string, now time.Time) error {
	if !to.Valid() {
		return apperrors.Validation("unknown match status").With("status", string(to))
	}
	from := m.Status
	if from.IsTerminal() || !CanTransition(from, to) {
		return apperrors.InvalidTransition(string(from), string(to)).
			With("match_id", m.ID).
			With("allowed", AllowedTargets(from))
	}

	switch to {
	case models.MatchStatusBid:
		if !payload.BidRate.Valid || !payload.BidRate.Decimal.GreaterThan(decimal.Zero) {
			return apperrors.Precondition("a bid requires a bid_rate greater than zero")
		}
		bidBy := payload.BidBy
		if bidBy == "" {
			bidBy = actorID
		}
		if bidBy == "" {
			return apperrors.Precondition("a bid requires bid_by")
		}
		m.BidRate = decimal.NewNullDecimal(payload.BidRate.Decimal.Round(2))
		m.BidBy = &bidBy
		m.BidAt = &now
	case models.MatchStatusBooked:
		if payload.BookedLoadID == "" {
			return apperrors.Precondition("a match can only be booked through the booking flow")
		}
		loadID := payload.BookedLoadID
		m.BookedLoadID = &loadID
		// the confirmed rate replaces the bid
		if payload.BidRate.Valid {
			m.BidRate = decimal.NewNullDecimal(payload.BidRate.Decimal.Round(2))
		}
	}

	if to != models.MatchStatusMissed {
		reviewer := actorID
		m.ReviewedBy = &reviewer
		m.ReviewedAt = &now
	}
	if payload.Notes != nil {
		m.Notes = payload.Notes
	}
	m.Status = to
	return nil
}
