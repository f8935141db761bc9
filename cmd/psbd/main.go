// Command psbd is a demo daemon wiring the psbroker library core to a
// config-driven set of sample subscribers and a /health + /metrics HTTP
// endpoint, the way go-server-3's odin-ws daemon wires its hub to a
// transport server and an observability endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "go.uber.org/automaxprocs"

	"psbroker/internal/config"
	"psbroker/internal/logging"
	"psbroker/internal/metrics"
	"psbroker/psb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	registry := metrics.NewRegistry()
	broker := metrics.NewInstrumentedBroker(psb.NewBroker(logger), registry)

	sampler := metrics.NewSystemSampler()
	samplerStop := make(chan struct{})
	go sampler.Run(samplerStop, 5*time.Second)
	defer close(samplerStop)

	subs := make([]*psb.Subscriber, cfg.Broker.SampleSubscribers)
	for i := range subs {
		subs[i] = broker.NewSubscriber()
		if err := broker.Broker().Subscribe(subs[i], cfg.Broker.SampleChannel); err != nil {
			logger.Warnw("sample subscribe failed", "error", err)
		}
	}
	defer func() {
		for _, s := range subs {
			broker.DeleteSubscriber(s)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sampleTraffic(ctx, broker, cfg.Broker.SampleChannel, cfg.Broker.GetTimeout, subs)

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- runHTTPServer(ctx, cfg, broker, registry, sampler, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Infow("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Errorw("http server error", "error", err)
		}
		stop()
	}

	logger.Infow("psbd stopped")
}

// sampleTraffic periodically publishes a heartbeat onto the sample
// channel, then samples each sample subscriber's queue depth and takes
// one message from its queue, just enough to exercise the daemon's
// metrics under an idle broker.
func sampleTraffic(ctx context.Context, broker *metrics.InstrumentedBroker, channel string, getTimeout time.Duration, subs []*psb.Subscriber) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			broker.Publish(channel, []byte("heartbeat"))
			for _, s := range subs {
				broker.SampleQueueDepth(s)
				if _, err := s.GetMessage(&getTimeout); err != nil && err != psb.ErrTimeout {
					return
				}
			}
		}
	}
}

func runHTTPServer(ctx context.Context, cfg config.Config, broker *metrics.InstrumentedBroker, registry *metrics.Registry, sampler *metrics.SystemSampler, logger *zap.SugaredLogger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":      "healthy",
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
			"cpu_percent": sampler.CPUPercent(),
			"memory_mb":   sampler.MemoryUsedMB(),
		})
	})

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Endpoint, registry.Handler())
	}

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("metrics http server starting", "addr", cfg.Metrics.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("metrics http server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
