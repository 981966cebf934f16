// Package verify checks saved maps: that they load cleanly, that their
// routing graph is symmetric and that the stored spatial index matches one
// rebuilt from the items.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/mapstore-go/internal/mapstore"
)

// Options controls a verification run.
type Options struct {
	Workers int
	// MaxViolations bounds the graph errors reported per map. <= 0 reports
	// all of them.
	MaxViolations int
	Log           *zap.Logger
	// Checked, when set, counts verified files.
	Checked *atomic.Int64
}

// Report is the outcome for one map file.
type Report struct {
	Path       string
	MapID      uint32
	Version    uint8
	Items      int
	Warnings   []error
	Violations []error
	IndexOK    bool
	// Err is set when the file could not be loaded at all.
	Err     error
	Elapsed time.Duration
}

// OK reports whether the map passed every check. Load warnings do not fail
// a map.
func (r *Report) OK() bool {
	return r.Err == nil && len(r.Violations) == 0 && r.IndexOK
}

// ErrFailed is returned by Files when at least one map did not pass.
var ErrFailed = errors.New("map verification failed")

// Map runs the checks on a loaded map.
func Map(m *mapstore.Map, maxViolations int) *Report {
	r := &Report{
		MapID:    m.Header().MapID,
		Version:  m.Header().Version,
		Items:    m.Len(),
		Warnings: m.Warnings(),
	}
	if !m.Header().CountryMap {
		r.Violations = m.Violations(maxViolations)
	}
	rebuilt, err := m.RebuiltIndex()
	if err != nil {
		r.Violations = append(r.Violations, fmt.Errorf("failed to rebuild index: %w", err))
		return r
	}
	r.IndexOK = rebuilt.Equal(m.Index())
	return r
}

// File loads and checks the map at path.
func File(path string, maxViolations int, opts ...mapstore.Option) *Report {
	start := time.Now()
	m, err := mapstore.Load(path, opts...)
	if err != nil {
		return &Report{Path: path, Err: err, Elapsed: time.Since(start)}
	}
	r := Map(m, maxViolations)
	r.Path = path
	r.Elapsed = time.Since(start)
	return r
}

// Files verifies paths in parallel and returns one report per path in
// input order. The error is ErrFailed when any map failed, or the context
// error when the run was cancelled.
func Files(ctx context.Context, paths []string, opts Options) ([]*Report, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	reports := make([]*Report, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := File(path, opts.MaxViolations, mapstore.WithLogger(log))
			reports[i] = r
			if opts.Checked != nil {
				opts.Checked.Add(1)
			}
			logReport(log, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	for _, r := range reports {
		if !r.OK() {
			return reports, ErrFailed
		}
	}
	return reports, nil
}

func logReport(log *zap.Logger, r *Report) {
	if r.Err != nil {
		log.Error("Map failed to load", zap.String("path", r.Path), zap.Error(r.Err))
		return
	}
	fields := []zap.Field{
		zap.String("path", r.Path),
		zap.Uint32("map_id", r.MapID),
		zap.Int("items", r.Items),
		zap.Int("warnings", len(r.Warnings)),
		zap.Int("violations", len(r.Violations)),
		zap.Bool("index_ok", r.IndexOK),
		zap.Duration("elapsed", r.Elapsed),
	}
	if r.OK() {
		log.Info("Map verified", fields...)
		return
	}
	log.Warn("Map has errors", fields...)
	for _, v := range r.Violations {
		log.Debug("Violation", zap.String("path", r.Path), zap.Error(v))
	}
}
