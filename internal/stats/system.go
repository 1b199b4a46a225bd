package stats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo is a point-in-time view of process and host resources for the
// detailed health report.
type SystemInfo struct {
	UptimeSeconds   int64   `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	HeapAllocBytes  uint64  `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64  `json:"heap_sys_bytes"`
	NumGC           uint32  `json:"num_gc"`
	ProcessRSSBytes uint64  `json:"process_rss_bytes"`
	ProcessCPUPct   float64 `json:"process_cpu_pct"`
	HostMemUsedPct  float64 `json:"host_mem_used_pct"`
	HostCPUPct      float64 `json:"host_cpu_pct"`
}

// CollectSystem gathers process and host resource usage. Sampling failures
// leave the corresponding fields zero so the health report degrades rather
// than errors.
func CollectSystem(ctx context.Context, startedAt time.Time) SystemInfo {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	info := SystemInfo{
		UptimeSeconds:  int64(time.Since(startedAt).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		HeapSysBytes:   ms.HeapSys,
		NumGC:          ms.NumGC,
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.HostMemUsedPct = vm.UsedPercent
	}
	// Interval 0 reports usage since the previous sample, so the first call
	// after startup reads 0.
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		info.HostCPUPct = pct[0]
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			info.ProcessRSSBytes = mi.RSS
		}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			info.ProcessCPUPct = pct
		}
	}

	return info
}
