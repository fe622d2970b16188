package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foodfast/skytrack/config"
	"github.com/foodfast/skytrack/internal/broker/kafka"
	"github.com/foodfast/skytrack/internal/cache/rediscache"
	"github.com/foodfast/skytrack/internal/services/deliveries"
	"github.com/foodfast/skytrack/internal/services/dispatch"
	"github.com/foodfast/skytrack/internal/services/orders"
	"github.com/foodfast/skytrack/internal/storage/pgdelivery"
)

type dispatchAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   dispatchAPIOpts

	orders   *orders.Service
	dispatch *dispatch.Service
	query    *deliveries.Service

	consumer *kafka.Consumer
	producer *kafka.Producer
	closeDB  func()
}

func mustBootstrapDispatchAPI() *dispatchAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}

	httpAddr := cfg.SkyTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.SkyTrack.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "dispatch-api"
	}
	transitionedTopic := cfg.Kafka.OrderTransitionedTopic
	if transitionedTopic == "" {
		transitionedTopic = "order.transitioned"
	}
	assignedTopic := cfg.Kafka.DeliveryAssignedTopic
	if assignedTopic == "" {
		assignedTopic = "delivery.assigned"
	}
	updatedTopic := cfg.Kafka.DeliveryUpdatedTopic
	if updatedTopic == "" {
		updatedTopic = "delivery.updated"
	}
	snapshotTTL := time.Duration(cfg.SkyTrack.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, updatedTopic, consumerGroup)

	orderSvc := orders.New(st).WithProducer(producer, transitionedTopic)
	dispatchSvc := dispatch.New(st, orderSvc).WithProducer(producer, assignedTopic)
	querySvc := deliveries.New(st, rc, snapshotTTL)

	// Order transitions drive the delivery lifecycle in process; the kafka
	// stream carries them to the track worker as well.
	orderSvc.AddListener(dispatchSvc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &dispatchAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: dispatchAPIOpts{
			httpAddr:      httpAddr,
			topic:         updatedTopic,
			consumerGroup: consumerGroup,
		},
		orders:   orderSvc,
		dispatch: dispatchSvc,
		query:    querySvc,
		consumer: consumer,
		producer: producer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgdelivery.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgdelivery.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *dispatchAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *dispatchAPIApp) Run() error {
	return runDispatchAPI(a.ctx, a.opts, a.orders, a.dispatch, a.query, a.consumer)
}
