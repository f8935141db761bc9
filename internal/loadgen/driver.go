package loadgen

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"psbroker/psb"
)

// Config configures a load-generation run against an in-process broker,
// the way this lineage's loadtest tool configures a ramp/sustain run
// against a live server — scaled down to drive in-process publish
// throughput instead of external WebSocket connections.
type Config struct {
	Publishers        int
	Subscribers       int
	Channel           string
	TargetRatePerSec  float64
	DurationSec       int
	ReportIntervalSec int
	GetTimeout        time.Duration
}

// Stats accumulates counters for one Run, read with atomic loads so
// periodic reporting can sample them while publishers/subscribers are
// still active.
type Stats struct {
	Published int64
	Delivered int64
	Timeouts  int64
	Dropped   int64
}

// Driver drives Config.Publishers publisher goroutines (rate-limited via
// golang.org/x/time/rate) and Config.Subscribers subscriber goroutines
// against broker, through a WorkerPool so a stalled subscriber can never
// make the publisher side pile up goroutines.
type Driver struct {
	cfg     Config
	broker  *psb.Broker
	pool    *WorkerPool
	limiter *rate.Limiter
	stats   Stats
}

// NewDriver returns a Driver ready to Run against broker.
func NewDriver(cfg Config, broker *psb.Broker) *Driver {
	if cfg.Publishers <= 0 {
		cfg.Publishers = 1
	}
	if cfg.Subscribers <= 0 {
		cfg.Subscribers = 1
	}
	if cfg.TargetRatePerSec <= 0 {
		cfg.TargetRatePerSec = 1000
	}
	return &Driver{
		cfg:     cfg,
		broker:  broker,
		pool:    NewWorkerPool(cfg.Publishers * 2),
		limiter: rate.NewLimiter(rate.Limit(cfg.TargetRatePerSec), int(cfg.TargetRatePerSec)+1),
	}
}

// Run subscribes cfg.Subscribers subscribers to cfg.Channel, publishes
// at the configured rate from cfg.Publishers goroutines for
// cfg.DurationSec seconds (or until ctx is cancelled), and returns the
// accumulated Stats. It logs a periodic progress report the way
// loadtest's printReport does.
func (d *Driver) Run(ctx context.Context) Stats {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.DurationSec)*time.Second)
	defer cancel()

	d.pool.Start(runCtx)

	subs := make([]*psb.Subscriber, d.cfg.Subscribers)
	for i := range subs {
		subs[i] = d.broker.NewSubscriber()
		if err := d.broker.Subscribe(subs[i], d.cfg.Channel); err != nil {
			log.Printf("loadgen: subscribe failed: %v", err)
		}
	}
	defer func() {
		for _, s := range subs {
			d.broker.DeleteSubscriber(s)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(d.cfg.Subscribers + d.cfg.Publishers)

	for _, s := range subs {
		go d.drain(runCtx, &wg, s)
	}
	for i := 0; i < d.cfg.Publishers; i++ {
		go d.publish(runCtx, &wg)
	}

	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		d.report(runCtx)
	}()

	wg.Wait()
	<-reportDone

	d.stats.Dropped = d.pool.DroppedTasks()
	d.pool.Stop()
	return d.finalStats()
}

func (d *Driver) publish(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	payload := []byte("loadgen")
	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		d.pool.Submit(func() {
			d.broker.Publish(d.cfg.Channel, payload)
			atomic.AddInt64(&d.stats.Published, 1)
		})
	}
}

func (d *Driver) drain(ctx context.Context, wg *sync.WaitGroup, s *psb.Subscriber) {
	defer wg.Done()
	timeout := d.cfg.GetTimeout
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, err := s.GetMessage(&timeout)
		switch err {
		case nil:
			atomic.AddInt64(&d.stats.Delivered, 1)
		case psb.ErrTimeout:
			atomic.AddInt64(&d.stats.Timeouts, 1)
		default:
			return
		}
	}
}

func (d *Driver) report(ctx context.Context) {
	interval := time.Duration(d.cfg.ReportIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.finalStats()
			log.Printf("loadgen: published=%d delivered=%d timeouts=%d dropped=%d",
				s.Published, s.Delivered, s.Timeouts, d.pool.DroppedTasks())
		}
	}
}

func (d *Driver) finalStats() Stats {
	return Stats{
		Published: atomic.LoadInt64(&d.stats.Published),
		Delivered: atomic.LoadInt64(&d.stats.Delivered),
		Timeouts:  atomic.LoadInt64(&d.stats.Timeouts),
		Dropped:   atomic.LoadInt64(&d.stats.Dropped),
	}
}
