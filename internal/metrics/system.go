package metrics

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type SystemStats struct {
	PID          int32
	RSS          uint64
	VMS          uint64
	HeapAlloc    uint64
	NumGoroutine int
	NumGC        uint32
	HostTotal    uint64
	HostUsedPct  float64
}

// SystemSnapshot samples the current process and host memory. Host values
// are left zero when the platform cannot report them.
func SystemSnapshot() (SystemStats, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := SystemStats{
		PID:          int32(os.Getpid()),
		HeapAlloc:    ms.HeapAlloc,
		NumGoroutine: runtime.NumGoroutine(),
		NumGC:        ms.NumGC,
	}

	proc, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats, fmt.Errorf("metrics: open process %d: %w", stats.PID, err)
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return stats, fmt.Errorf("metrics: process memory: %w", err)
	}
	stats.RSS = info.RSS
	stats.VMS = info.VMS

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.HostTotal = vm.Total
		stats.HostUsedPct = vm.UsedPercent
	}
	return stats, nil
}

// Fields flattens the snapshot for structured logging.
func (s SystemStats) Fields() map[string]interface{} {
	return map[string]interface{}{
		"pid":           s.PID,
		"rss_mb":        float64(s.RSS) / (1024 * 1024),
		"heap_alloc_mb": float64(s.HeapAlloc) / (1024 * 1024),
		"goroutines":    s.NumGoroutine,
		"gc_cycles":     s.NumGC,
		"host_used_pct": s.HostUsedPct,
	}
}
