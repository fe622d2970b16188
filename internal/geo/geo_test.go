package geo

import (
	"testing"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestHaversineKm(t *testing.T) {
	// Ben Thanh market -> Thu Thiem, roughly 3 km apart.
	d := HaversineKm(10.7725, 106.6980, 10.7757, 106.7220)
	require.InDelta(t, 2.65, d, 0.3)

	require.Zero(t, HaversineKm(10.77, 106.70, 10.77, 106.70))
}

func TestInterpolate(t *testing.T) {
	lat, lng := Interpolate(0, 0, 10, 20, 0.5)
	require.Equal(t, 5.0, lat)
	require.Equal(t, 10.0, lng)

	lat, lng = Interpolate(1, 2, 3, 4, 1)
	require.Equal(t, 3.0, lat)
	require.Equal(t, 4.0, lng)
}

func TestEstimateArrival_positive(t *testing.T) {
	pos := models.CanonicalPosition{Lat: 10.77, Lng: 106.70}
	est := EstimateArrival(pos, 10.72, 106.74, 30)
	require.Greater(t, est.DistanceKm, 0.0)
	require.Greater(t, est.EtaMinutes, 0)
	require.False(t, est.Arrived)
}

func TestEstimateArrival_zeroSpeed(t *testing.T) {
	pos := models.CanonicalPosition{Lat: 10.77, Lng: 106.70}
	est := EstimateArrival(pos, 10.72, 106.74, 0)
	require.Equal(t, 0, est.EtaMinutes)
	require.False(t, est.Arrived)

	est = EstimateArrival(pos, 10.72, 106.74, -5)
	require.Equal(t, 0, est.EtaMinutes)
}

func TestEstimateArrival_arrived(t *testing.T) {
	pos := models.CanonicalPosition{Lat: 10.7700, Lng: 106.7000}
	// ~11 m away, below the 50 m threshold.
	est := EstimateArrival(pos, 10.7701, 106.7000, 45)
	require.True(t, est.Arrived)
	require.Equal(t, 0, est.EtaMinutes)
}

func TestEstimateArrival_neverNegative(t *testing.T) {
	pos := models.CanonicalPosition{Lat: 10.77, Lng: 106.70}
	est := EstimateArrival(pos, 10.78, 106.71, 100000)
	require.GreaterOrEqual(t, est.EtaMinutes, 0)
}
