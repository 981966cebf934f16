// Package metrics samples process and system load during long map runs
// (build, verify, export) and logs it next to the run's own progress
// counters.
package metrics

import (
	"context"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one sample
type Snapshot struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // This process, can exceed 100% on multi-core
	ProcessRSSMB      float64 // Resident set, includes mapped map files being read
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Counters          map[string]int64
	Rates             map[string]float64 // Counter increase per second since the last sample
	Timestamp         time.Time
}

// Collector periodically samples system metrics and registered counters
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	countersMu sync.Mutex
	counters   map[string]*atomic.Int64
	lastCounts map[string]int64

	lastDiskStats map[string]disk.IOCountersStat
	lastSample    time.Time

	mu   sync.RWMutex
	last *Snapshot
}

// NewCollector creates a new metrics collector
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	// Get handle to current process for CPU and RSS tracking
	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval:   interval,
		logger:     logger,
		proc:       proc,
		counters:   make(map[string]*atomic.Int64),
		lastCounts: make(map[string]int64),
	}
}

// Counter returns the progress counter called name, creating it on first
// use. Counters are safe to bump from any goroutine.
func (c *Collector) Counter(name string) *atomic.Int64 {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	ctr, ok := c.counters[name]
	if !ok {
		ctr = new(atomic.Int64)
		c.counters[name] = ctr
	}
	return ctr
}

// Start samples until ctx is cancelled, logging a final sample on the way
// out.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample initializes the disk and counter baselines
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.collect()
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// Last returns the most recent sample, or nil before the first one
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	now := time.Now()
	s := &Snapshot{Timestamp: now}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil {
			s.ProcessRSSMB = float64(mi.RSS) / (1024 * 1024)
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vmem.UsedPercent
	}

	var elapsed float64
	if !c.lastSample.IsZero() {
		elapsed = now.Sub(c.lastSample).Seconds()
	}
	s.DiskReadMBps, s.DiskWriteMBps = c.diskRates(elapsed)
	s.Counters, s.Rates = c.counterRates(elapsed)
	c.lastSample = now

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	fields := []zap.Field{
		zap.Float64("sys_cpu", s.CPUPercent),
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.String("rss", formatFloat(s.ProcessRSSMB)+" MB"),
		zap.Float64("mem_pct", s.MemoryPercent),
		zap.String("disk_r", formatFloat(s.DiskReadMBps)+" MB/s"),
		zap.String("disk_w", formatFloat(s.DiskWriteMBps)+" MB/s"),
	}
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fields = append(fields,
			zap.Int64(name, s.Counters[name]),
			zap.String(name+"_rate", formatFloat(s.Rates[name])+"/s"))
	}
	c.logger.Info("System metrics", fields...)
}

// counterRates reads every counter and its increase per second. elapsed
// is zero on the first sample.
func (c *Collector) counterRates(elapsed float64) (map[string]int64, map[string]float64) {
	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	counts := make(map[string]int64, len(c.counters))
	rates := make(map[string]float64, len(c.counters))
	for name, ctr := range c.counters {
		n := ctr.Load()
		counts[name] = n
		if elapsed > 0 {
			rates[name] = float64(n-c.lastCounts[name]) / elapsed
		}
		c.lastCounts[name] = n
	}
	return counts, rates
}

// diskRates returns read and write MB/s since the previous sample
func (c *Collector) diskRates(elapsed float64) (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	last := c.lastDiskStats
	c.lastDiskStats = counters
	if last == nil || elapsed < 0.1 {
		return 0, 0
	}

	var readDelta, writeDelta uint64
	for name, counter := range counters {
		prev, ok := last[name]
		if !ok {
			continue
		}
		// Handle counter wrapping
		if counter.ReadBytes >= prev.ReadBytes {
			readDelta += counter.ReadBytes - prev.ReadBytes
		}
		if counter.WriteBytes >= prev.WriteBytes {
			writeDelta += counter.WriteBytes - prev.WriteBytes
		}
	}
	return float64(readDelta) / elapsed / (1024 * 1024), float64(writeDelta) / elapsed / (1024 * 1024)
}

// formatFloat formats a float with one decimal place
func formatFloat(f float64) string {
	if f < 0.05 {
		return "0.0"
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
