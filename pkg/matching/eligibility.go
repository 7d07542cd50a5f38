package matching

import (
	"context"
	"math"

	"github.com/Ramsey-B/sage/pkg/models"
)

// Decision is the outcome of checking one hunt plan against one posting.
type Decision struct {
	Eligible      bool
	DistanceMiles *float64
	Reason        string
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Eligibility decides whether a hunting vehicle should be offered a posting.
type Eligibility struct {
	equipment *EquipmentMatrix
	distance  DistanceResolver
}

func NewEligibility(equipment *EquipmentMatrix, distance DistanceResolver) *Eligibility {
	return &Eligibility{
		equipment: equipment,
		distance:  distance,
	}
}

// Evaluate checks plan and vehicle state, tenant, availability, equipment, distance and capacity,
// in that order. The first failing check is the reason.
func (e *Eligibility) Evaluate(ctx context.Context, plan *models.HuntPlan, vehicle *models.Vehicle, posting *models.LoadPosting) (Decision, error) {
	if !plan.Active {
		return reject("hunt plan inactive"), nil
	}
	if vehicle == nil || !vehicle.Active {
		return reject("vehicle inactive"), nil
	}
	if plan.TenantID != posting.TenantID || vehicle.TenantID != posting.TenantID {
		return reject("tenant mismatch"), nil
	}

	if plan.AvailableUntil != nil && posting.PickupWindowStart != nil && posting.PickupWindowStart.After(*plan.AvailableUntil) {
		return reject("pickup after availability"), nil
	}
	if plan.AvailableFrom != nil && posting.PickupWindowEnd != nil && posting.PickupWindowEnd.Before(*plan.AvailableFrom) {
		return reject("pickup before availability"), nil
	}

	truckTypes := []string(plan.EquipmentTypes)
	if len(truckTypes) == 0 && vehicle.EquipmentType != "" {
		truckTypes = []string{vehicle.EquipmentType}
	}
	if !e.equipment.Compatible(truckTypes, posting.EquipmentType) {
		return reject("equipment incompatible"), nil
	}

	var distance *float64
	miles, known, err := distanceBetween(ctx, e.distance, plan.Origin, posting.Origin)
	if err != nil {
		return Decision{}, err
	}
	if known {
		rounded := math.Round(miles*10) / 10
		distance = &rounded
	}
	if plan.RadiusMiles != nil {
		if !known {
			return reject("distance unknown"), nil
		}
		if miles > *plan.RadiusMiles {
			return Decision{Reason: "outside radius", DistanceMiles: distance}, nil
		}
	}

	if plan.AvailableFeet != nil && posting.LengthFeet != nil && *posting.LengthFeet > *plan.AvailableFeet {
		return reject("insufficient deck length"), nil
	}
	if limit := weightLimit(plan, vehicle); limit != nil && posting.WeightLbs != nil && *posting.WeightLbs > *limit {
		return reject("over weight limit"), nil
	}

	return Decision{Eligible: true, DistanceMiles: distance}, nil
}

// weightLimit is the stricter of the plan and vehicle limits.
func weightLimit(plan *models.HuntPlan, vehicle *models.Vehicle) *float64 {
	switch {
	case plan.MaxWeightLbs == nil:
		return vehicle.MaxWeightLbs
	case vehicle.MaxWeightLbs == nil:
		return plan.MaxWeightLbs
	case *vehicle.MaxWeightLbs < *plan.MaxWeightLbs:
		return vehicle.MaxWeightLbs
	default:
		return plan.MaxWeightLbs
	}
}
