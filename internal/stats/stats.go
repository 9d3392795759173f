// Package stats reports host and per-service resource usage via
// gopsutil, backing the health endpoint and each service's /stats route.
package stats

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Host is point-in-time resource usage for the machine the daemon runs on.
type Host struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryTotal uint64  `json:"memory_total"`
	DiskUsed    uint64  `json:"disk_used"`
	DiskTotal   uint64  `json:"disk_total"`
	UptimeSecs  uint64  `json:"uptime"`
}

// CollectHost gathers CPU, memory, root-disk, and uptime usage. Any
// individual metric that fails to collect is left at its zero value
// rather than failing the whole call — a health endpoint should degrade,
// not 500, when one subsystem is unavailable.
func CollectHost(ctx context.Context) Host {
	var h Host

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		h.CPUUsage = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryUsed = vm.Used
		h.MemoryTotal = vm.Total
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		h.DiskTotal = du.Total
		h.DiskUsed = du.Used
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		h.UptimeSecs = info.Uptime
	}

	return h
}

// Process is point-in-time resource usage for one supervised PID.
type Process struct {
	ServiceID string  `json:"service_id"`
	CPUUsage  float64 `json:"cpu_usage"`
	MemoryMB  float64 `json:"memory_mb"`
	PID       *int32  `json:"pid"`
}

// CollectProcess reports CPU and RSS usage for pid. If pid is 0 (the
// service has no running process) it returns zeroed usage with a nil PID.
// If the process cannot be inspected (e.g. it has already exited), it
// returns zeroed usage with PID still set to pid.
func CollectProcess(ctx context.Context, serviceID string, pid int) Process {
	if pid <= 0 {
		return Process{ServiceID: serviceID}
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		pidVal := int32(pid)
		return Process{ServiceID: serviceID, PID: &pidVal}
	}

	result := Process{ServiceID: serviceID}
	pidVal := int32(pid)
	result.PID = &pidVal

	if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
		result.CPUUsage = cpuPct
	}
	if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		result.MemoryMB = float64(memInfo.RSS) / 1024.0 / 1024.0
	}

	return result
}
