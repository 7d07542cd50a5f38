package matching

import (
	"context"
	"math"

	"github.com/Ramsey-B/sage/pkg/models"
)

const earthRadiusMiles = 3958.8

// DistanceResolver estimates road or straight-line miles between two locations when they lack
// coordinates. ok=false means the distance is unknown.
type DistanceResolver interface {
	Distance(ctx context.Context, from, to models.Location) (miles float64, ok bool, err error)
}

// Haversine is the great-circle distance in miles.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// distanceBetween prefers coordinates and falls back to the resolver.
func distanceBetween(ctx context.Context, resolver DistanceResolver, from, to models.Location) (float64, bool, error) {
	if from.HasCoordinates() && to.HasCoordinates() {
		return Haversine(*from.Lat, *from.Lng, *to.Lat, *to.Lng), true, nil
	}
	if resolver == nil {
		return 0, false, nil
	}
	return resolver.Distance(ctx, from, to)
}
