// Package journal keeps persistent run statistics for lockstep. It batches
// in-memory counter and summary observations and periodically flushes them to
// the same SQLite database the chain store uses. Only monotonic counters and
// simple (count,sum,min,max) summaries are supported.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haukened/lockstep/internal/app"
)

// Names for counters kept by the application.
const (
	CounterRuns       = "runs_total"
	CounterAccepted   = "files_accepted_total"
	CounterRejected   = "files_rejected_total"
	CounterIgnored    = "files_ignored_total"
	CounterFailedRuns = "failed_runs_total"
	CounterStatements = "statements_applied_total"
)

// Summary names.
const (
	SummaryAcceptedPerRun = "accepted_per_run"
	SummaryRunDurationMS  = "run_duration_ms"
)

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Journal aggregates run events and flushes them in the background.
type Journal struct {
	cfg     Config
	db      *sql.DB
	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started bool

	// in-memory deltas (protected by mu)
	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]*Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// Summary is a (count,sum,min,max) aggregate over observed values.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// New creates a Journal and ensures its tables exist. Call Start to begin
// background flushing.
func New(db *sql.DB, cfg Config) (*Journal, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	j := &Journal{
		cfg:       cfg,
		db:        db,
		events:    make(chan event, 1024),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]*Summary),
	}
	if err := j.initSchema(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	ddl := `CREATE TABLE IF NOT EXISTS journal_counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS journal_summaries (
		name TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		sum INTEGER NOT NULL,
		min INTEGER NOT NULL,
		max INTEGER NOT NULL
	);`
	_, err := j.db.Exec(ddl)
	return err
}

// Start launches the background flush loop.
func (j *Journal) Start(ctx context.Context) {
	if j.started {
		return
	}
	j.started = true
	go j.loop(ctx)
}

// Stop signals the flush loop to exit and performs a final flush.
func (j *Journal) Stop(ctx context.Context) {
	if !j.started {
		// No loop running; just flush any deltas.
		_ = j.flush(ctx)
		return
	}
	close(j.stop)
	<-j.done
	_ = j.flush(ctx)
}

// RecordRun folds one service report into the journal. runErr is the error
// the run returned, nil for a clean run.
func (j *Journal) RecordRun(rep app.Report, runErr error) {
	j.Inc(CounterRuns, 1)
	j.Inc(CounterAccepted, int64(len(rep.Chain.Accepted)))
	j.Inc(CounterRejected, int64(len(rep.Chain.Rejected)))
	j.Inc(CounterIgnored, int64(rep.Chain.Ignored))
	if runErr != nil {
		j.Inc(CounterFailedRuns, 1)
	}
	var stmts int64
	for _, af := range rep.Applied {
		stmts += int64(af.Statements)
	}
	j.Inc(CounterStatements, stmts)
	j.Observe(SummaryAcceptedPerRun, int64(len(rep.Chain.Accepted)))
	j.Observe(SummaryRunDurationMS, rep.Duration.Milliseconds())
}

// Inc increments a counter by delta (>=1).
func (j *Journal) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	select {
	case j.events <- event{kind: eventInc, name: name, v: delta}:
	default:
		// channel full; best-effort drop
	}
}

// Observe records a summary observation.
func (j *Journal) Observe(name string, value int64) {
	select {
	case j.events <- event{kind: eventObserve, name: name, v: value}:
	default:
	}
}

func (j *Journal) loop(ctx context.Context) {
	log := j.cfg.Logger.With("domain", "journal")
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(j.done)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info("journal stop", "reason", "context_cancel")
			return
		case <-j.stop:
			log.Info("journal stop", "reason", "stop_signal")
			return
		case ev := <-j.events:
			j.apply(ev)
		case <-ticker.C:
			if err := j.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("flush", "error", err)
			}
		}
	}
}

func (j *Journal) apply(ev event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch ev.kind {
	case eventInc:
		j.counters[ev.name] += ev.v
	case eventObserve:
		agg := j.summaries[ev.name]
		if agg == nil {
			j.summaries[ev.name] = &Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v}
			return
		}
		agg.Count++
		agg.Sum += ev.v
		if ev.v < agg.Min {
			agg.Min = ev.v
		}
		if ev.v > agg.Max {
			agg.Max = ev.v
		}
	}
}

// Snapshot returns the current totals: persisted state with the in-memory
// deltas layered on top.
func (j *Journal) Snapshot(ctx context.Context) (counters map[string]int64, summaries map[string]Summary, err error) {
	counters = make(map[string]int64)
	summaries = make(map[string]Summary)
	rows, err := j.db.QueryContext(ctx, `SELECT name, value FROM journal_counters`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			return nil, nil, err
		}
		counters[n] = v
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	srows, err := j.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM journal_summaries`)
	if err != nil {
		return nil, nil, err
	}
	defer srows.Close()
	for srows.Next() {
		var n string
		var s Summary
		if err := srows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return nil, nil, err
		}
		summaries[n] = s
	}
	if err := srows.Err(); err != nil {
		return nil, nil, err
	}
	// Layer deltas.
	j.mu.Lock()
	for n, v := range j.counters {
		counters[n] += v
	}
	for n, agg := range j.summaries {
		cur, ok := summaries[n]
		if !ok || cur.Count == 0 {
			summaries[n] = *agg
			continue
		}
		cur.Count += agg.Count
		cur.Sum += agg.Sum
		if agg.Min < cur.Min {
			cur.Min = agg.Min
		}
		if agg.Max > cur.Max {
			cur.Max = agg.Max
		}
		summaries[n] = cur
	}
	j.mu.Unlock()
	return counters, summaries, nil
}

// flush writes in-memory deltas to SQLite in a single transaction and resets them.
func (j *Journal) flush(ctx context.Context) error {
	j.mu.Lock()
	if len(j.counters) == 0 && len(j.summaries) == 0 {
		j.mu.Unlock()
		return nil
	}
	// Copy & reset.
	cCopy := make(map[string]int64, len(j.counters))
	for k, v := range j.counters {
		cCopy[k] = v
	}
	sCopy := make(map[string]Summary, len(j.summaries))
	for k, v := range j.summaries {
		sCopy[k] = *v
	}
	j.counters = make(map[string]int64)
	j.summaries = make(map[string]*Summary)
	j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for name, delta := range cCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO journal_counters(name,value) VALUES(?,?) ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			tx.Rollback()
			return err
		}
	}
	for name, agg := range sCopy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO journal_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?) ON CONFLICT(name) DO UPDATE SET count = journal_summaries.count + excluded.count, sum = journal_summaries.sum + excluded.sum, min = MIN(journal_summaries.min, excluded.min), max = MAX(journal_summaries.max, excluded.max)`, name, agg.Count, agg.Sum, agg.Min, agg.Max); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
