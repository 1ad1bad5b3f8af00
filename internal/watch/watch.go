// Package watch implements standing mode: a background loop that revalidates
// the update directory on a fixed interval and applies whatever the chain
// accepts. It operates independently from the one-shot commands to keep
// lifecycle concerns (periodic runs, status reporting) isolated from the
// application service.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/lockstep/internal/app"
)

// Runner abstracts the application operation a cycle performs. It is
// satisfied by *app.Service.
type Runner interface {
	// Up validates the update directory and applies every accepted file.
	Up(ctx context.Context) (app.Report, error)
}

// Recorder receives the report of every completed cycle. It is satisfied by
// *journal.Journal and may be nil when no journal is configured.
type Recorder interface {
	RecordRun(rep app.Report, runErr error)
}

// Config holds tunables for the Watcher.
type Config struct {
	Interval time.Duration // how often a cycle begins
	Logger   *slog.Logger  // optional logger (defaults to slog.Default())
}

// Metrics accumulates counters (in-memory) for operational insight.
// Exposed fields kept simple for the status endpoint.
type Metrics struct {
	mu                  sync.Mutex
	Cycles              uint64
	Accepted            uint64
	Rejected            uint64
	Applied             uint64
	CycleLastDurationMS int64
	LastRunID           string
	LastError           string
}

// MetricsView is a read-only snapshot safe to copy.
type MetricsView struct {
	Cycles              uint64
	Accepted            uint64
	Rejected            uint64
	Applied             uint64
	CycleLastDurationMS int64
	LastRunID           string
	LastError           string
}

func (m *Metrics) recordCycle(rep app.Report, runErr error, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cycles++
	m.Accepted += uint64(len(rep.Chain.Accepted))
	m.Rejected += uint64(len(rep.Chain.Rejected))
	m.Applied += uint64(len(rep.Applied))
	m.CycleLastDurationMS = d.Milliseconds()
	m.LastRunID = rep.RunID
	m.LastError = ""
	if runErr != nil {
		m.LastError = runErr.Error()
	}
}

// Watcher encapsulates the background run loop.
type Watcher struct {
	runner  Runner
	rec     Recorder
	cfg     Config
	metrics *Metrics

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs but does not start a Watcher. rec may be nil.
func New(runner Runner, rec Recorder, cfg Config) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		runner:  runner,
		rec:     rec,
		cfg:     cfg,
		metrics: &Metrics{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the watch loop in a new goroutine.
func (w *Watcher) Start(ctx context.Context) {
	if w.ticker != nil {
		return
	} // already started
	w.ticker = time.NewTicker(w.cfg.Interval)
	go w.loop(ctx)
}

// Stop signals the loop to exit and waits for completion. A cycle already in
// flight finishes first; cancellation only takes effect between cycles.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// MetricsSnapshot returns a copy of current metrics.
func (w *Watcher) MetricsSnapshot() MetricsView {
	w.metrics.mu.Lock()
	defer w.metrics.mu.Unlock()
	return MetricsView{
		Cycles:              w.metrics.Cycles,
		Accepted:            w.metrics.Accepted,
		Rejected:            w.metrics.Rejected,
		Applied:             w.metrics.Applied,
		CycleLastDurationMS: w.metrics.CycleLastDurationMS,
		LastRunID:           w.metrics.LastRunID,
		LastError:           w.metrics.LastError,
	}
}

func (w *Watcher) loop(ctx context.Context) {
	log := w.cfg.Logger.With("domain", "watch")
	defer func() {
		if w.ticker != nil {
			w.ticker.Stop()
		}
		close(w.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("watch stop", "reason", "context_cancel")
			return
		case <-w.stopCh:
			log.Info("watch stop", "reason", "stop_signal")
			return
		case <-w.ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle performs one full validate + apply pass.
func (w *Watcher) runCycle(ctx context.Context) {
	start := time.Now()
	log := w.cfg.Logger.With("domain", "watch", "action", "cycle")
	rep, err := w.runner.Up(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("up", "run_id", rep.RunID, "error", err)
	}
	if w.rec != nil {
		w.rec.RecordRun(rep, err)
	}
	w.metrics.recordCycle(rep, err, time.Since(start))
	log.Info("cycle complete",
		"run_id", rep.RunID,
		"accepted", len(rep.Chain.Accepted),
		"rejected", len(rep.Chain.Rejected),
		"applied", len(rep.Applied),
		"ms", time.Since(start).Milliseconds())
}
