package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/foodfast/skytrack/internal/geo"
	"github.com/pkg/errors"
)

// Sim is an in-process stand-in for real drone hardware. Each registered
// flight moves toward its destination a little on every report, and each
// drone emits one of the three wire formats, chosen deterministically from
// its code, so the whole normalization chain gets exercised without real
// firmware.
type Sim struct {
	reportEvery time.Duration

	mu      sync.Mutex
	flights map[string]*flightState
}

type flightState struct {
	lat, lng         float64
	destLat, destLng float64
	speedKmh         float64
	seq              uint64
	format           int
}

func New() *Sim {
	return &Sim{
		reportEvery: 5 * time.Second,
		flights:     make(map[string]*flightState),
	}
}

// WithReportInterval sets how much flight time elapses between two reports.
func (s *Sim) WithReportInterval(d time.Duration) *Sim {
	if d > 0 {
		s.reportEvery = d
	}
	return s
}

// RegisterFlight starts (or restarts) a simulated flight for the drone.
func (s *Sim) RegisterFlight(droneCode string, fromLat, fromLng, toLat, toLng, speedKmh float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flights[droneCode] = &flightState{
		lat: fromLat, lng: fromLng,
		destLat: toLat, destLng: toLng,
		speedKmh: speedKmh,
		format:   formatFor(droneCode),
	}
}

func (s *Sim) Unregister(droneCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flights, droneCode)
}

func (s *Sim) GetReport(ctx context.Context, droneCode string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flights[droneCode]
	if !ok {
		return nil, errors.Errorf("no flight registered for drone %s", droneCode)
	}

	f.advance(s.reportEvery)
	f.seq++

	switch f.format {
	case 1:
		return json.Marshal(map[string]any{
			"currentLat":   f.lat,
			"currentLng":   f.lng,
			"currentSpeed": f.speedKmh,
			"sequence":     f.seq,
		})
	case 2:
		return json.Marshal(map[string]any{
			"currentLocation": fmt.Sprintf("%f,%f", f.lat, f.lng),
			"current_speed":   f.speedKmh,
			"seq":             f.seq,
		})
	default:
		return json.Marshal(map[string]any{
			"current_lat":   f.lat,
			"current_lng":   f.lng,
			"current_speed": f.speedKmh,
			"seq":           f.seq,
		})
	}
}

func (f *flightState) advance(elapsed time.Duration) {
	remaining := geo.HaversineKm(f.lat, f.lng, f.destLat, f.destLng)
	if remaining <= 0 {
		return
	}
	step := f.speedKmh / 3600.0 * elapsed.Seconds()
	if step >= remaining {
		f.lat, f.lng = f.destLat, f.destLng
		return
	}
	f.lat, f.lng = geo.Interpolate(f.lat, f.lng, f.destLat, f.destLng, step/remaining)
}

func formatFor(droneCode string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(droneCode))
	return int(h.Sum32() % 3)
}
