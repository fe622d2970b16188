package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu      sync.Mutex
	reports [][]byte
	err     error
	i       int
	calls   int
}

func (s *scriptedSource) GetReport(ctx context.Context, droneCode string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := s.reports[s.i%len(s.reports)]
	if s.i < len(s.reports)-1 {
		s.i++
	}
	return r, nil
}

type capturingProducer struct {
	mu     sync.Mutex
	topics []string
	msgs   []messages.DeliveryUpdated
}

func (p *capturingProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	var m messages.DeliveryUpdated
	if err := json.Unmarshal(value, &m); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *capturingProducer) published() []messages.DeliveryUpdated {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messages.DeliveryUpdated, len(p.msgs))
	copy(out, p.msgs)
	return out
}

type denyAfter struct {
	mu    sync.Mutex
	limit int
	n     int
}

func (d *denyAfter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	return d.n <= d.limit, int64(d.n), nil
}

func report(lat, lng, speed float64, seq uint64) []byte {
	return []byte(fmt.Sprintf(`{"current_lat":%f,"current_lng":%f,"current_speed":%f,"seq":%d}`, lat, lng, speed, seq))
}

func fastSettings() Settings {
	return Settings{
		PollInterval:     5 * time.Millisecond,
		DegradedInterval: 20 * time.Millisecond,
		FailureThreshold: 2,
		RateLimitPerMin:  100,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Fail(t, "condition not met in time")
}

func TestTracker_PublishesNormalizedUpdates(t *testing.T) {
	src := &scriptedSource{reports: [][]byte{
		report(10.78, 106.70, 40, 1),
		report(10.777, 106.703, 40, 2),
		report(10.7735, 106.7043, 40, 3),
	}}
	prod := &capturingProducer{}
	tr := New(src, prod, "delivery.updated").WithSettings(fastSettings())

	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	defer tr.StopAll()

	waitFor(t, func() bool { return len(prod.published()) >= 3 })

	msgs := prod.published()
	require.Equal(t, "d-1", msgs[0].DeliveryID)
	require.Equal(t, uint64(42), msgs[0].OrderID)
	require.Equal(t, "DRONE-A1", msgs[0].DroneCode)
	require.Equal(t, uint64(1), msgs[0].Seq)
	require.Greater(t, msgs[0].DistanceRemainingKm, msgs[1].DistanceRemainingKm)

	// The last report sits at the destination.
	last := msgs[len(msgs)-1]
	require.True(t, last.Arrived)
	require.Zero(t, last.EtaMinutes)
}

func TestTracker_DropsStaleSequence(t *testing.T) {
	src := &scriptedSource{reports: [][]byte{
		report(10.78, 106.70, 40, 5),
		report(10.777, 106.703, 40, 4),
		report(10.777, 106.703, 40, 5),
	}}
	prod := &capturingProducer{}
	tr := New(src, prod, "delivery.updated").WithSettings(fastSettings())

	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	defer tr.StopAll()

	waitFor(t, func() bool { return tr.Stats().TotalDropped >= 2 })

	for _, m := range prod.published() {
		require.Equal(t, uint64(5), m.Seq)
	}
	require.Equal(t, int64(1), tr.Stats().TotalAccepted)
}

func TestTracker_StartIdempotentStopIdempotent(t *testing.T) {
	src := &scriptedSource{reports: [][]byte{report(10.78, 106.70, 40, 1)}}
	prod := &capturingProducer{}
	tr := New(src, prod, "delivery.updated").WithSettings(fastSettings())

	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	require.Equal(t, 1, tr.ActiveCount())

	tr.Stop("d-1")
	tr.Stop("d-1")
	tr.Stop("never-started")
	require.Zero(t, tr.ActiveCount())
}

func TestTracker_StopDiscardsInFlightResult(t *testing.T) {
	src := &scriptedSource{reports: [][]byte{report(10.78, 106.70, 40, 1)}}
	prod := &capturingProducer{}
	tr := New(src, prod, "delivery.updated").WithSettings(fastSettings())

	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	tr.Stop("d-1")

	n := len(prod.published())
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, n, len(prod.published()))
}

func TestTracker_DegradedIntervalAfterFailures(t *testing.T) {
	src := &scriptedSource{err: errors.New("feed down")}
	prod := &capturingProducer{}
	tr := New(src, prod, "delivery.updated").WithSettings(fastSettings())

	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	defer tr.StopAll()

	waitFor(t, func() bool { return tr.Stats().TotalFailed >= 2 })

	// Past the threshold the loop backs off: poll counts grow far slower
	// than they would at the base cadence.
	before := tr.Stats().TotalPolls
	time.Sleep(15 * time.Millisecond)
	after := tr.Stats().TotalPolls
	require.LessOrEqual(t, after-before, int64(1))
	require.Empty(t, prod.published())
}

func TestTracker_RateLimited(t *testing.T) {
	src := &scriptedSource{reports: [][]byte{report(10.78, 106.70, 40, 1)}}
	prod := &capturingProducer{}
	tr := New(src, prod, "delivery.updated").
		WithSettings(fastSettings()).
		WithRateLimiter(&denyAfter{limit: 1})

	tr.Start("d-1", 42, "DRONE-A1", 10.7735, 106.7043)
	defer tr.StopAll()

	waitFor(t, func() bool { return tr.Stats().TotalLimited >= 1 })
	require.Equal(t, 1, len(prod.published()))
}
