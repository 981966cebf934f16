// Package progress reports the advance of long-running map operations.
package progress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Tracker relates a running count to an expected total.
type Tracker struct {
	total       int64
	startTime   time.Time
	description string
}

// NewTracker creates a tracker. A total <= 0 means unknown.
func NewTracker(total int64, description string) *Tracker {
	return &Tracker{
		total:       total,
		startTime:   time.Now(),
		description: description,
	}
}

// Progress holds current progress information
type Progress struct {
	Current     int64
	Total       int64
	Percentage  float64
	Elapsed     time.Duration
	ETA         time.Duration
	Throughput  float64 // units per second
	Description string
}

// Calculate returns the progress for current.
func (p *Tracker) Calculate(current int64) Progress {
	return p.calculate(current, time.Since(p.startTime))
}

func (p *Tracker) calculate(current int64, elapsed time.Duration) Progress {
	var percentage float64
	var eta time.Duration

	if p.total > 0 && current > 0 {
		percentage = min(float64(current)/float64(p.total)*100, 100)
		if percentage < 100 && elapsed > 0 {
			perSecond := float64(current) / elapsed.Seconds()
			eta = time.Duration(float64(p.total-current) / perSecond * float64(time.Second))
		}
	}

	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(current) / elapsed.Seconds()
	}

	return Progress{
		Current:     current,
		Total:       p.total,
		Percentage:  percentage,
		Elapsed:     elapsed.Round(time.Second),
		ETA:         eta.Round(time.Second),
		Throughput:  throughput,
		Description: p.description,
	}
}

// Log reports the counter every interval until ctx is done.
func (p *Tracker) Log(ctx context.Context, counter *atomic.Int64, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pr := p.Calculate(counter.Load())
			fields := []zap.Field{
				zap.Int64("done", pr.Current),
				zap.String("rate", FormatThroughput(pr.Throughput)),
				zap.Duration("elapsed", pr.Elapsed),
			}
			if pr.Total > 0 {
				fields = append(fields,
					zap.String("percent", fmt.Sprintf("%.1f%%", pr.Percentage)),
					zap.String("eta", FormatETA(pr.ETA)))
			}
			log.Info(p.description, fields...)
		}
	}
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
