package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foodfast/skytrack/config"
	"github.com/foodfast/skytrack/internal/broker/kafka"
	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/foodfast/skytrack/internal/cache/rediscache"
	"github.com/foodfast/skytrack/internal/models"
	"github.com/foodfast/skytrack/internal/services/tracker"
	"github.com/foodfast/skytrack/internal/storage/pgdelivery"
	"github.com/foodfast/skytrack/internal/telemetry"
	"github.com/foodfast/skytrack/internal/telemetry/feedhttp"
	"github.com/foodfast/skytrack/internal/telemetry/sim"
)

type workerRepository interface {
	ListActiveDeliveries(ctx context.Context) ([]*models.Delivery, error)
	GetDroneByCode(ctx context.Context, code string) (*models.Drone, error)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (workerRepository, func(), error)
	newProducer    func(cfg *config.Config) tracker.Producer
	newRateLimiter func(cfg *config.Config) tracker.RateLimiter
	newSource      func(cfg *config.Config) telemetry.Source
	newConsumer    func(cfg *config.Config, topic, group string) kafkaConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgdelivery.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) tracker.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) tracker.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newSource: func(cfg *config.Config) telemetry.Source {
			// "http" polls a real telemetry feed; anything else runs the
			// built-in flight simulator.
			if cfg.SkyTrack.TelemetryMode == "http" && cfg.SkyTrack.TelemetryBaseURL != "" {
				return feedhttp.New(cfg.SkyTrack.TelemetryBaseURL)
			}
			interval := time.Duration(cfg.SkyTrack.WorkerPollIntervalSeconds) * time.Second
			if interval <= 0 {
				interval = 5 * time.Second
			}
			return sim.New().WithReportInterval(interval)
		},
		newConsumer: func(cfg *config.Config, topic, group string) kafkaConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

// trackWorker owns the per-delivery polling loops and keeps the
// order-to-delivery index needed to stop them from order transitions.
type trackWorker struct {
	tracker *tracker.Tracker
	source  telemetry.Source

	mu              sync.Mutex
	deliveryByOrder map[uint64]string
	droneByDelivery map[string]string
}

func newTrackWorker(tr *tracker.Tracker, source telemetry.Source) *trackWorker {
	return &trackWorker{
		tracker:         tr,
		source:          source,
		deliveryByOrder: make(map[uint64]string),
		droneByDelivery: make(map[string]string),
	}
}

func (w *trackWorker) startFlight(deliveryID string, orderID uint64, droneCode string, startLat, startLng, destLat, destLng, speedKmh float64) {
	if s, ok := w.source.(*sim.Sim); ok {
		if speedKmh <= 0 {
			speedKmh = 40
		}
		s.RegisterFlight(droneCode, startLat, startLng, destLat, destLng, speedKmh)
	}
	w.mu.Lock()
	w.deliveryByOrder[orderID] = deliveryID
	w.droneByDelivery[deliveryID] = droneCode
	w.mu.Unlock()
	w.tracker.Start(deliveryID, orderID, droneCode, destLat, destLng)
}

func (w *trackWorker) stopFlightByOrder(orderID uint64) {
	w.mu.Lock()
	deliveryID, ok := w.deliveryByOrder[orderID]
	if ok {
		delete(w.deliveryByOrder, orderID)
	}
	droneCode := w.droneByDelivery[deliveryID]
	delete(w.droneByDelivery, deliveryID)
	w.mu.Unlock()
	if !ok {
		return
	}
	w.tracker.Stop(deliveryID)
	if s, ok := w.source.(*sim.Sim); ok && droneCode != "" {
		s.Unregister(droneCode)
	}
}

func (w *trackWorker) handleAssigned(value []byte) error {
	var m messages.DeliveryAssigned
	if err := json.Unmarshal(value, &m); err != nil {
		return err
	}
	w.startFlight(m.DeliveryID, m.OrderID, m.DroneCode, m.StartLat, m.StartLng, m.DestLat, m.DestLng, m.SpeedKmh)
	return nil
}

func (w *trackWorker) handleTransitioned(value []byte) error {
	var m messages.OrderTransitioned
	if err := json.Unmarshal(value, &m); err != nil {
		return err
	}
	if models.IsTerminalOrderStatus(m.To) {
		w.stopFlightByOrder(m.OrderID)
	}
	return nil
}

// resume restarts polling for deliveries that were active when the worker
// last stopped.
func (w *trackWorker) resume(ctx context.Context, repo workerRepository) error {
	active, err := repo.ListActiveDeliveries(ctx)
	if err != nil {
		return err
	}
	for _, d := range active {
		startLat, startLng := d.StartLat, d.StartLng
		if d.Position != nil {
			startLat, startLng = d.Position.Lat, d.Position.Lng
		}
		speed := 40.0
		if dr, err := repo.GetDroneByCode(ctx, d.DroneCode); err == nil {
			speed = dr.MaxSpeedKmh
		}
		w.startFlight(d.ID, d.OrderID, d.DroneCode, startLat, startLng, d.DestLat, d.DestLng, speed)
	}
	if len(active) > 0 {
		slog.Info("resumed active deliveries", "count", len(active))
	}
	return nil
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	assignedTopic := cfg.Kafka.DeliveryAssignedTopic
	if assignedTopic == "" {
		assignedTopic = "delivery.assigned"
	}
	transitionedTopic := cfg.Kafka.OrderTransitionedTopic
	if transitionedTopic == "" {
		transitionedTopic = "order.transitioned"
	}
	updatedTopic := cfg.Kafka.DeliveryUpdatedTopic
	if updatedTopic == "" {
		updatedTopic = "delivery.updated"
	}
	group := cfg.SkyTrack.WorkerConsumerGroup
	if group == "" {
		group = "track-worker"
	}

	settings := tracker.Settings{
		PollInterval:     time.Duration(cfg.SkyTrack.WorkerPollIntervalSeconds) * time.Second,
		DegradedInterval: time.Duration(cfg.SkyTrack.WorkerDegradedIntervalSeconds) * time.Second,
		FailureThreshold: cfg.SkyTrack.WorkerFailureThreshold,
		RateLimitPerMin:  int64(cfg.SkyTrack.WorkerRateLimitPerMinute),
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	source := f.newSource(cfg)
	tr := tracker.New(source, f.newProducer(cfg), updatedTopic).
		WithRateLimiter(f.newRateLimiter(cfg)).
		WithSettings(settings)

	w := newTrackWorker(tr, source)
	if err := w.resume(ctx, repo); err != nil {
		return err
	}
	defer tr.StopAll()

	go func() {
		slog.Info("kafka consumer started", "topic", assignedTopic, "group", group)
		_ = f.newConsumer(cfg, assignedTopic, group).Consume(ctx, func(_key, value []byte) error {
			return w.handleAssigned(value)
		})
	}()
	go func() {
		slog.Info("kafka consumer started", "topic", transitionedTopic, "group", group)
		_ = f.newConsumer(cfg, transitionedTopic, group).Consume(ctx, func(_key, value []byte) error {
			return w.handleTransitioned(value)
		})
	}()

	return runWorkerHTTPServer(ctx, workerHTTPOpts{
		httpAddr: cfg.SkyTrack.WorkerHTTPAddr,
		tracker:  tr,
		cfg:      cfg,
	})
}
