package httpserver

import (
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// systemStatsTTL bounds how often gopsutil is queried when /status is polled.
const systemStatsTTL = 5 * time.Second

const systemStatsKey = "system"

// SystemInfo is host and process resource usage.
type SystemInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	UptimeSeconds uint64  `json:"host_uptime_seconds,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	ProcessRSS    uint64  `json:"process_rss_bytes"`
	Temperature   float64 `json:"cpu_temperature_celsius,omitempty"`
}

// systemStats caches SystemInfo. The cache has no janitor; expired entries
// are replaced on the next read.
type systemStats struct {
	cache   *cache.Cache
	collect func() SystemInfo
}

func newSystemStats(ttl time.Duration) *systemStats {
	return &systemStats{
		cache:   cache.New(ttl, 0),
		collect: collectSystemInfo,
	}
}

// Get returns cached stats, collecting them when the cache is cold.
func (s *systemStats) Get() SystemInfo {
	if v, ok := s.cache.Get(systemStatsKey); ok {
		if info, ok := v.(SystemInfo); ok {
			return info
		}
	}
	info := s.collect()
	s.cache.SetDefault(systemStatsKey, info)
	return info
}

// collectSystemInfo gathers what it can; unavailable values stay zero.
func collectSystemInfo() SystemInfo {
	var info SystemInfo

	if hostInfo, err := host.Info(); err == nil {
		info.Hostname = hostInfo.Hostname
		info.UptimeSeconds = hostInfo.Uptime
	}

	// zero interval compares against the previous call instead of sleeping
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryPercent = vm.UsedPercent
		info.MemoryUsed = vm.Used
		info.MemoryTotal = vm.Total
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if memInfo, err := proc.MemoryInfo(); err == nil {
			info.ProcessRSS = memInfo.RSS
		}
	}

	// Raspberry Pi boards report the SoC sensor as cpu_thermal
	if temps, err := host.SensorsTemperatures(); err == nil {
		for _, t := range temps {
			if t.SensorKey == "cpu_thermal" || t.SensorKey == "cpu_thermal_input" {
				info.Temperature = t.Temperature
				break
			}
		}
	}
	return info
}
