package geo

import (
	"math"

	"github.com/foodfast/skytrack/internal/models"
)

// ArrivalThresholdKm: within 50 m of the destination the drone counts as
// arrived and the ETA is reported as zero instead of a division result.
const ArrivalThresholdKm = 0.05

type Estimate struct {
	DistanceKm float64
	EtaMinutes int
	Arrived    bool
}

// EstimateArrival derives the remaining distance and the arrival estimate for
// a drone at pos heading to (destLat,destLng) at speedKmh. With zero speed or
// an already-arrived drone it reports zero minutes; it never divides by zero
// and never returns a negative ETA.
func EstimateArrival(pos models.CanonicalPosition, destLat, destLng, speedKmh float64) Estimate {
	dist := HaversineKm(pos.Lat, pos.Lng, destLat, destLng)

	est := Estimate{DistanceKm: dist}
	if dist < ArrivalThresholdKm {
		est.Arrived = true
		return est
	}
	if speedKmh <= 0 {
		return est
	}

	minutes := int(math.Round(dist / speedKmh * 60))
	if minutes < 0 {
		minutes = 0
	}
	est.EtaMinutes = minutes
	return est
}
