// Package health samples process resource usage for the admin health
// endpoint, grounded on go-server/internal/metrics/system.go's
// SystemMetrics but trimmed to the fields an operator health check needs.
package health

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the reported resource state at one instant.
type Snapshot struct {
	CPUPercent     float64 `json:"cpu_percent"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	SysMemPercent  float64 `json:"sys_mem_percent"`
	Goroutines     int     `json:"goroutines"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Sampler tracks an exponentially-smoothed CPU percentage the way
// go-server's SystemMetrics does, refreshed on demand by Sample.
type Sampler struct {
	mu         sync.Mutex
	startedAt  time.Time
	cpuPercent float64
}

// NewSampler builds a Sampler whose uptime clock starts now.
func NewSampler() *Sampler {
	return &Sampler{startedAt: time.Now()}
}

// Sample takes a fresh reading. The gopsutil CPU call blocks for up to
// interval; callers on a hot path should cache the result rather than call
// Sample per request.
func (s *Sampler) Sample(interval time.Duration) Snapshot {
	percents, err := cpu.Percent(interval, false)
	var current float64
	if err == nil && len(percents) > 0 {
		current = percents[0]
	}

	s.mu.Lock()
	if s.cpuPercent == 0 {
		s.cpuPercent = current
	} else {
		const alpha = 0.3
		s.cpuPercent = alpha*current + (1-alpha)*s.cpuPercent
	}
	smoothed := s.cpuPercent
	s.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var sysMemPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		sysMemPercent = vm.UsedPercent
	}

	return Snapshot{
		CPUPercent:     smoothed,
		HeapAllocBytes: memStats.HeapAlloc,
		SysMemPercent:  sysMemPercent,
		Goroutines:     runtime.NumGoroutine(),
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
	}
}
