package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/pkg/errors"
)

// rawReport holds every field naming seen from drone firmware in one struct.
// Three generations are in the field: snake_case (current DB-backed feed),
// camelCase (older gateway), and a legacy combined "lat,lng" string.
type rawReport struct {
	CurrentLat *float64 `json:"current_lat"`
	CurrentLng *float64 `json:"current_lng"`

	CurrentLatCamel *float64 `json:"currentLat"`
	CurrentLngCamel *float64 `json:"currentLng"`

	CurrentLocation string `json:"currentLocation"`

	CurrentSpeed      *float64 `json:"current_speed"`
	CurrentSpeedCamel *float64 `json:"currentSpeed"`

	Seq      *uint64 `json:"seq"`
	Sequence *uint64 `json:"sequence"`
}

// Normalize converts a raw position report in any supported wire format into
// the one canonical position shape. Resolution order: snake_case pair, then
// camelCase pair, then the legacy "lat,lng" string. It fails with
// models.ErrUnparsablePosition when no format matches or a component is not a
// finite number.
func Normalize(raw []byte) (models.CanonicalPosition, error) {
	var r rawReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.CanonicalPosition{}, errors.Wrap(models.ErrUnparsablePosition, err.Error())
	}

	var lat, lng float64
	switch {
	case r.CurrentLat != nil && r.CurrentLng != nil:
		lat, lng = *r.CurrentLat, *r.CurrentLng
	case r.CurrentLatCamel != nil && r.CurrentLngCamel != nil:
		lat, lng = *r.CurrentLatCamel, *r.CurrentLngCamel
	case r.CurrentLocation != "":
		var err error
		lat, lng, err = parseLegacyLocation(r.CurrentLocation)
		if err != nil {
			return models.CanonicalPosition{}, err
		}
	default:
		return models.CanonicalPosition{}, errors.Wrap(models.ErrUnparsablePosition, "no known position fields")
	}

	if !isFinite(lat) || !isFinite(lng) {
		return models.CanonicalPosition{}, errors.Wrap(models.ErrUnparsablePosition, "non-finite coordinate")
	}

	pos := models.CanonicalPosition{Lat: lat, Lng: lng}

	switch {
	case r.CurrentSpeed != nil:
		pos.SpeedKmh = *r.CurrentSpeed
	case r.CurrentSpeedCamel != nil:
		pos.SpeedKmh = *r.CurrentSpeedCamel
	}
	if !isFinite(pos.SpeedKmh) {
		return models.CanonicalPosition{}, errors.Wrap(models.ErrUnparsablePosition, "non-finite speed")
	}

	// A report without a sequence number normalizes to seq 0, so it can
	// never displace a newer observation.
	switch {
	case r.Seq != nil:
		pos.Seq = *r.Seq
	case r.Sequence != nil:
		pos.Seq = *r.Sequence
	}

	return pos, nil
}

func parseLegacyLocation(s string) (float64, float64, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Wrap(models.ErrUnparsablePosition, "legacy location is not lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrap(models.ErrUnparsablePosition, "legacy latitude: "+err.Error())
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, errors.Wrap(models.ErrUnparsablePosition, "legacy longitude: "+err.Error())
	}
	return lat, lng, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
