// Command psbload is a rate-limited load generator for an in-process
// psb.Broker, the analogue of this lineage's loadtest tool — ramping
// WebSocket connections against a live server there, driving
// publish/subscribe throughput at a fixed target rate against an
// in-process broker here.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"psbroker/internal/loadgen"
	"psbroker/psb"
)

func main() {
	cfg := parseFlags()

	log.Printf("psbload: publishers=%d subscribers=%d channel=%q rate=%.0f/s duration=%ds",
		cfg.Publishers, cfg.Subscribers, cfg.Channel, cfg.TargetRatePerSec, cfg.DurationSec)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := psb.NewBroker(nil)
	defer broker.Close()

	driver := loadgen.NewDriver(cfg, broker)
	stats := driver.Run(ctx)

	log.Printf("psbload: final published=%d delivered=%d timeouts=%d dropped=%d",
		stats.Published, stats.Delivered, stats.Timeouts, stats.Dropped)
}

func parseFlags() loadgen.Config {
	cfg := loadgen.Config{}

	flag.IntVar(&cfg.Publishers, "publishers", getEnvInt("PSBLOAD_PUBLISHERS", 5), "number of concurrent publisher goroutines")
	flag.IntVar(&cfg.Subscribers, "subscribers", getEnvInt("PSBLOAD_SUBSCRIBERS", 25), "number of concurrent subscriber goroutines")
	flag.StringVar(&cfg.Channel, "channel", getEnv("PSBLOAD_CHANNEL", "load.test"), "channel to publish/subscribe on")

	var rate float64
	flag.Float64Var(&rate, "rate", 1000, "target publishes per second across all publishers")

	flag.IntVar(&cfg.DurationSec, "duration", getEnvInt("PSBLOAD_DURATION", 10), "run duration in seconds")
	flag.IntVar(&cfg.ReportIntervalSec, "report-interval", 2, "progress report interval in seconds")

	var getTimeoutMS int
	flag.IntVar(&getTimeoutMS, "get-timeout-ms", 200, "subscriber GetMessage timeout in milliseconds")

	flag.Parse()

	cfg.TargetRatePerSec = rate
	cfg.GetTimeout = time.Duration(getTimeoutMS) * time.Millisecond

	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
