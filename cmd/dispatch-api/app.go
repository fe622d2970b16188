package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	dispatchapi "github.com/foodfast/skytrack/internal/api/dispatch_api"
	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/foodfast/skytrack/internal/services/deliveries"
	"github.com/foodfast/skytrack/internal/services/dispatch"
	"github.com/foodfast/skytrack/internal/services/orders"
)

type dispatchAPIOpts struct {
	httpAddr string

	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runDispatchAPI(ctx context.Context, opts dispatchAPIOpts, orderSvc *orders.Service, dispatchSvc *dispatch.Service, querySvc *deliveries.Service, consumer kafkaConsumer) error {
	api := dispatchapi.New(orderSvc, dispatchSvc, querySvc)

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	srv := &http.Server{Handler: api.Routes()}
	go func() {
		slog.Info("HTTP server listening", "addr", lis.Addr().String())
		httpErr <- srv.Serve(lis)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		_ = consumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.DeliveryUpdated
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return querySvc.ApplyUpdate(ctx, m)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
