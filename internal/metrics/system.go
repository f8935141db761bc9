package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSampler tracks system-wide CPU and memory usage for the demo
// daemon's /health endpoint and Prometheus gauges. It is purely
// observational: nothing in the broker reads from it, and a failed
// sample just leaves the previous value in place.
type SystemSampler struct {
	mu         sync.RWMutex
	cpuPercent float64
	memUsedMB  float64

	cpuGauge prometheus.Gauge
	memGauge prometheus.Gauge
}

// NewSystemSampler registers the system gauges on the default Prometheus
// registry and returns a sampler ready to be driven by Run.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{
		cpuGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "psbroker_process_cpu_percent",
			Help: "Smoothed system-wide CPU usage percentage",
		}),
		memGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "psbroker_process_memory_used_mb",
			Help: "Used system memory in megabytes",
		}),
	}
}

// Run samples system metrics every interval until stop is closed. Call
// it in its own goroutine.
func (s *SystemSampler) Run(stop <-chan struct{}, interval time.Duration) {
	s.sample()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-stop:
			return
		}
	}
}

func (s *SystemSampler) sample() {
	percents, err := cpu.Percent(0, false)
	cpuOK := err == nil && len(percents) > 0

	vm, err := mem.VirtualMemory()
	memOK := err == nil

	s.mu.Lock()
	if cpuOK {
		if s.cpuPercent == 0 {
			s.cpuPercent = percents[0]
		} else {
			const alpha = 0.3
			s.cpuPercent = alpha*percents[0] + (1-alpha)*s.cpuPercent
		}
	}
	if memOK {
		s.memUsedMB = float64(vm.Used) / 1024 / 1024
	}
	s.mu.Unlock()

	s.cpuGauge.Set(s.CPUPercent())
	s.memGauge.Set(s.MemoryUsedMB())
}

// CPUPercent returns the most recently smoothed CPU percentage.
func (s *SystemSampler) CPUPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpuPercent
}

// MemoryUsedMB returns the most recently sampled system memory usage.
func (s *SystemSampler) MemoryUsedMB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memUsedMB
}
