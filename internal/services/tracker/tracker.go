package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/foodfast/skytrack/internal/geo"
	"github.com/foodfast/skytrack/internal/telemetry"
	"github.com/pkg/errors"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Settings struct {
	PollInterval     time.Duration
	DegradedInterval time.Duration
	FailureThreshold int
	RateLimitPerMin  int64
}

func defaultSettings() Settings {
	return Settings{
		PollInterval:     5 * time.Second,
		DegradedInterval: 30 * time.Second,
		FailureThreshold: 3,
		RateLimitPerMin:  30,
	}
}

// Tracker runs one polling loop per active delivery. Each loop fetches the
// drone's raw report, normalizes it, gates on the sequence number and
// publishes the accepted observation with its arrival estimate.
type Tracker struct {
	source   telemetry.Source
	producer Producer
	rl       RateLimiter
	topic    string
	settings Settings

	mu      sync.Mutex
	flights map[string]*flight

	totalPolls     atomic.Int64
	totalAccepted  atomic.Int64
	totalDropped   atomic.Int64
	totalFailed    atomic.Int64
	totalRateLimit atomic.Int64
}

type flight struct {
	deliveryID string
	orderID    uint64
	droneCode  string
	destLat    float64
	destLng    float64

	cancel context.CancelFunc
	done   chan struct{}

	// mu guards lastSeq and stopped; a poll result landing after Stop is
	// discarded rather than published.
	mu        sync.Mutex
	stopped   bool
	lastSeq   uint64
	hasSeq    bool
	consFails int
}

func New(source telemetry.Source, producer Producer, topic string) *Tracker {
	return &Tracker{
		source:   source,
		producer: producer,
		topic:    topic,
		settings: defaultSettings(),
		flights:  make(map[string]*flight),
	}
}

func (t *Tracker) WithRateLimiter(rl RateLimiter) *Tracker {
	t.rl = rl
	return t
}

func (t *Tracker) WithSettings(s Settings) *Tracker {
	if s.PollInterval > 0 {
		t.settings.PollInterval = s.PollInterval
	}
	if s.DegradedInterval > 0 {
		t.settings.DegradedInterval = s.DegradedInterval
	}
	if s.FailureThreshold > 0 {
		t.settings.FailureThreshold = s.FailureThreshold
	}
	if s.RateLimitPerMin > 0 {
		t.settings.RateLimitPerMin = s.RateLimitPerMin
	}
	return t
}

// Start spawns the polling loop for a delivery. Starting an already tracked
// delivery is a no-op.
func (t *Tracker) Start(deliveryID string, orderID uint64, droneCode string, destLat, destLng float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.flights[deliveryID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{
		deliveryID: deliveryID,
		orderID:    orderID,
		droneCode:  droneCode,
		destLat:    destLat,
		destLng:    destLng,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	t.flights[deliveryID] = f

	slog.Info("tracking started", "delivery_id", deliveryID, "drone", droneCode)
	go t.loop(ctx, f)
}

// Stop ends the delivery's polling loop and waits for it to exit. Results
// from a poll already in flight are discarded. Stopping an unknown or already
// stopped delivery is a no-op.
func (t *Tracker) Stop(deliveryID string) {
	t.mu.Lock()
	f, ok := t.flights[deliveryID]
	if ok {
		delete(t.flights, deliveryID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.cancel()
	<-f.done
	slog.Info("tracking stopped", "delivery_id", deliveryID, "drone", f.droneCode)
}

func (t *Tracker) StopAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.flights))
	for id := range t.flights {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.Stop(id)
	}
}

func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flights)
}

type Stats struct {
	ActiveFlights int   `json:"active_flights"`
	TotalPolls    int64 `json:"total_polls"`
	TotalAccepted int64 `json:"total_accepted"`
	TotalDropped  int64 `json:"total_dropped"`
	TotalFailed   int64 `json:"total_failed"`
	TotalLimited  int64 `json:"total_rate_limited"`
}

func (t *Tracker) Stats() Stats {
	return Stats{
		ActiveFlights: t.ActiveCount(),
		TotalPolls:    t.totalPolls.Load(),
		TotalAccepted: t.totalAccepted.Load(),
		TotalDropped:  t.totalDropped.Load(),
		TotalFailed:   t.totalFailed.Load(),
		TotalLimited:  t.totalRateLimit.Load(),
	}
}

func (t *Tracker) loop(ctx context.Context, f *flight) {
	defer close(f.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		interval := t.settings.PollInterval
		if err := t.pollOnce(ctx, f); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.totalFailed.Add(1)
			f.mu.Lock()
			f.consFails++
			degraded := f.consFails >= t.settings.FailureThreshold
			f.mu.Unlock()
			if degraded {
				interval = t.settings.DegradedInterval
			}
			slog.Warn("telemetry poll failed",
				"delivery_id", f.deliveryID, "drone", f.droneCode,
				"degraded", degraded, "error", err.Error())
		} else {
			f.mu.Lock()
			f.consFails = 0
			f.mu.Unlock()
		}

		timer.Reset(interval)
	}
}

func (t *Tracker) pollOnce(ctx context.Context, f *flight) error {
	t.totalPolls.Add(1)

	if t.rl != nil {
		key := fmt.Sprintf("rl:drone:%s:%d", f.droneCode, time.Now().Unix()/60)
		allowed, _, err := t.rl.Allow(ctx, key, t.settings.RateLimitPerMin, time.Minute)
		if err != nil {
			return errors.Wrap(err, "rate limit check")
		}
		if !allowed {
			t.totalRateLimit.Add(1)
			return errors.Errorf("drone %s rate limited", f.droneCode)
		}
	}

	raw, err := t.source.GetReport(ctx, f.droneCode)
	if err != nil {
		return errors.Wrap(err, "get report")
	}

	pos, err := telemetry.Normalize(raw)
	if err != nil {
		return errors.Wrap(err, "normalize report")
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	if f.hasSeq && pos.Seq <= f.lastSeq {
		f.mu.Unlock()
		t.totalDropped.Add(1)
		return nil
	}
	f.lastSeq = pos.Seq
	f.hasSeq = true
	f.mu.Unlock()

	est := geo.EstimateArrival(pos, f.destLat, f.destLng, pos.SpeedKmh)

	msg := messages.DeliveryUpdated{
		DeliveryID:          f.deliveryID,
		OrderID:             f.orderID,
		DroneCode:           f.droneCode,
		Lat:                 pos.Lat,
		Lng:                 pos.Lng,
		SpeedKmh:            pos.SpeedKmh,
		Seq:                 pos.Seq,
		DistanceRemainingKm: est.DistanceKm,
		EtaMinutes:          est.EtaMinutes,
		Arrived:             est.Arrived,
		CheckedAt:           time.Now().UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal update")
	}
	if err := t.producer.Publish(ctx, t.topic, []byte(f.deliveryID), b); err != nil {
		return errors.Wrap(err, "publish update")
	}
	t.totalAccepted.Add(1)
	return nil
}
