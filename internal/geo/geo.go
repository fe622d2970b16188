package geo

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Interpolate returns the point at ratio [0..1] along the straight line
// between (lat1,lng1) and (lat2,lng2). Good enough for city-scale flights.
func Interpolate(lat1, lng1, lat2, lng2, ratio float64) (float64, float64) {
	return lat1 + (lat2-lat1)*ratio, lng1 + (lng2-lng1)*ratio
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
