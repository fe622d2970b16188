package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/foodfast/skytrack/config"
	"github.com/foodfast/skytrack/internal/services/tracker"
	"github.com/go-chi/chi/v5"
)

type workerHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	tracker *tracker.Tracker
	cfg     *config.Config
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.tracker == nil {
			_, _ = w.Write([]byte(`{"error":"tracker not wired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(opts.tracker.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational worker settings.
		out := map[string]any{
			"pollIntervalSeconds":     opts.cfg.SkyTrack.WorkerPollIntervalSeconds,
			"degradedIntervalSeconds": opts.cfg.SkyTrack.WorkerDegradedIntervalSeconds,
			"failureThreshold":        opts.cfg.SkyTrack.WorkerFailureThreshold,
			"rateLimitPerMinute":      opts.cfg.SkyTrack.WorkerRateLimitPerMinute,
			"telemetryMode":           opts.cfg.SkyTrack.TelemetryMode,
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
