package booking

import (
	"github.com/shopspring/decimal"

	apperrors "github.com/Ramsey-B/sage/pkg/errors"
	"github.com/Ramsey-B/sage/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// Terms are the approval and pay fields a vehicle's current configuration gives a new load.
type Terms struct {
	Status             string
	CarrierApproved    bool
	CarrierRate        decimal.NullDecimal
	TruckTypeAtBooking string
}

// StatusPolicy names the operational status a new load starts in.
type StatusPolicy struct {
	AutoApproved  string
	NeedsApproval string
}

func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{
		AutoApproved:  models.LoadStatusPendingDispatch,
		NeedsApproval: models.LoadStatusAvailable,
	}
}

// DeriveTerms applies the approval and rate split rules. A vehicle that requires approval gets
// an unapproved load with no carrier rate. Otherwise the load is approved and a contractor
// truck is paid its percentage of the rate, rounded to cents.
func DeriveTerms(vehicle *models.Vehicle, rate decimal.Decimal, policy StatusPolicy) (Terms, error) {
	terms := Terms{TruckTypeAtBooking: vehicle.TruckType}

	if vehicle.RequiresLoadApproval {
		terms.Status = policy.NeedsApproval
		return terms, nil
	}

	terms.Status = policy.AutoApproved
	terms.CarrierApproved = true

	if !vehicle.IsContractor() {
		return terms, nil
	}

	pct := vehicle.ContractorPercentage
	if !pct.Valid || !pct.Decimal.IsPositive() || pct.Decimal.GreaterThan(hundred) {
		return Terms{}, apperrors.Precondition("contractor vehicle needs a contractor percentage between 0 and 100").
			With("vehicle_id", vehicle.ID)
	}
	terms.CarrierRate = decimal.NewNullDecimal(CarrierRate(rate, pct.Decimal))
	return terms, nil
}

// CarrierRate is rate * pct / 100 rounded half away from zero to two places.
func CarrierRate(rate, pct decimal.Decimal) decimal.Decimal {
	return rate.Mul(pct).Div(hundred).Round(2)
}

// ConfirmedRate is the bid when one was recorded, otherwise the posting's rate.
func ConfirmedRate(match *models.Match, posting *models.LoadPosting) (decimal.Decimal, bool) {
	if match.BidRate.Valid && match.BidRate.Decimal.IsPositive() {
		return match.BidRate.Decimal, true
	}
	if posting.Rate.Valid && posting.Rate.Decimal.IsPositive() {
		return posting.Rate.Decimal, true
	}
	return decimal.Zero, false
}
