package telemetry

import (
	"testing"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNormalize_threeFormatsAgree(t *testing.T) {
	snake := []byte(`{"current_lat": 10.77, "current_lng": 106.70, "current_speed": 30, "seq": 5}`)
	camel := []byte(`{"currentLat": 10.77, "currentLng": 106.70, "currentSpeed": 30, "sequence": 5}`)
	legacy := []byte(`{"currentLocation": "10.77,106.70", "current_speed": 30, "seq": 5}`)

	want := models.CanonicalPosition{Lat: 10.77, Lng: 106.70, SpeedKmh: 30, Seq: 5}

	for _, raw := range [][]byte{snake, camel, legacy} {
		got, err := Normalize(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestNormalize_snakeWinsOverCamel(t *testing.T) {
	raw := []byte(`{"current_lat": 1, "current_lng": 2, "currentLat": 9, "currentLng": 9}`)
	got, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, 1.0, got.Lat)
	require.Equal(t, 2.0, got.Lng)
}

func TestNormalize_legacyWithSpaces(t *testing.T) {
	got, err := Normalize([]byte(`{"currentLocation": " 10.77 , 106.70 "}`))
	require.NoError(t, err)
	require.Equal(t, 10.77, got.Lat)
	require.Equal(t, 106.70, got.Lng)
	require.Zero(t, got.Seq)
	require.Zero(t, got.SpeedKmh)
}

func TestNormalize_garbage(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{}`),
		[]byte(`{"current_lat": 10.77}`),
		[]byte(`{"currentLocation": "10.77"}`),
		[]byte(`{"currentLocation": "abc,def"}`),
	}
	for _, raw := range cases {
		_, err := Normalize(raw)
		require.ErrorIs(t, err, models.ErrUnparsablePosition, string(raw))
	}
}

func TestNormalize_nonFinite(t *testing.T) {
	// JSON cannot encode NaN/Inf directly, but the legacy string can smuggle
	// them through ParseFloat.
	_, err := Normalize([]byte(`{"currentLocation": "NaN,106.70"}`))
	require.ErrorIs(t, err, models.ErrUnparsablePosition)

	_, err = Normalize([]byte(`{"currentLocation": "+Inf,106.70"}`))
	require.ErrorIs(t, err, models.ErrUnparsablePosition)
}
