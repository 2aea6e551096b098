package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats summarises resource usage of one encoder run.
type ProcessStats struct {
	PID            int           `json:"pid"`
	PeakCPUPercent float64       `json:"peak_cpu_percent"`
	PeakRSSBytes   uint64        `json:"peak_rss_bytes"`
	LastCPUPercent float64       `json:"last_cpu_percent"`
	LastRSSBytes   uint64        `json:"last_rss_bytes"`
	Samples        int           `json:"samples"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// ProcessMonitor samples CPU and memory of a running encoder process.
type ProcessMonitor struct {
	pid      int
	interval time.Duration

	mu    sync.RWMutex
	stats ProcessStats
	proc  *process.Process

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for pid sampling every interval.
func NewProcessMonitor(pid int, interval time.Duration) *ProcessMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &ProcessMonitor{
		pid:      pid,
		interval: interval,
		stats:    ProcessStats{PID: pid, StartedAt: time.Now()},
	}
}

// Start begins sampling in the background. A process that cannot be opened
// (already exited, or an unsupported platform) yields empty stats.
func (pm *ProcessMonitor) Start() {
	proc, err := process.NewProcess(int32(pm.pid)) //nolint:gosec // pids fit in int32
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	pm.mu.Lock()
	pm.proc = proc
	pm.cancel = cancel
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.loop(ctx)
}

// Stop ends sampling and returns the final statistics.
func (pm *ProcessMonitor) Stop() ProcessStats {
	pm.mu.RLock()
	cancel := pm.cancel
	pm.mu.RUnlock()

	if cancel != nil {
		cancel()
		pm.wg.Wait()
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.stats.Duration = time.Since(pm.stats.StartedAt)
	return pm.stats
}

// Stats returns a snapshot of the statistics gathered so far.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	stats := pm.stats
	stats.Duration = time.Since(stats.StartedAt)
	return stats
}

func (pm *ProcessMonitor) loop(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.sample(ctx)
		}
	}
}

func (pm *ProcessMonitor) sample(ctx context.Context) {
	pm.mu.RLock()
	proc := pm.proc
	pm.mu.RUnlock()

	// Percent with a zero interval measures since the previous call.
	cpu, cpuErr := proc.PercentWithContext(ctx, 0)
	mem, memErr := proc.MemoryInfoWithContext(ctx)
	if cpuErr != nil && memErr != nil {
		return
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.Samples++
	if cpuErr == nil {
		pm.stats.LastCPUPercent = cpu
		pm.stats.PeakCPUPercent = max(pm.stats.PeakCPUPercent, cpu)
	}
	if memErr == nil && mem != nil {
		pm.stats.LastRSSBytes = mem.RSS
		pm.stats.PeakRSSBytes = max(pm.stats.PeakRSSBytes, mem.RSS)
	}
}
