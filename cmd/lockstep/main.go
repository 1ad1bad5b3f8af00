// Package main provides the lockstep binary entry point. It loads
// configuration from defaults, an optional YAML file, and environment
// variables, then dispatches one of four commands against the update
// directory and the SQLite database.
//
// The application flow:
//  1. Parse the subcommand and flags.
//  2. Load and validate configuration.
//  3. Open the update directory and the database.
//  4. Run the requested command (validate, up, status, or watch).
//
// One-shot commands exit when their run completes. The watch command blocks
// until interrupted, applying updates on an interval and serving status
// endpoints over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/lockstep/internal/app"
	"github.com/haukened/lockstep/internal/chain"
	"github.com/haukened/lockstep/internal/config"
	"github.com/haukened/lockstep/internal/header"
	"github.com/haukened/lockstep/internal/journal"
	"github.com/haukened/lockstep/internal/source/dir"
	"github.com/haukened/lockstep/internal/store/sqlite"
	"github.com/haukened/lockstep/internal/watch"
)

const usageText = `usage: lockstep <command> [-config path]

commands:
  validate  check the update chain without applying anything
  up        validate the chain and apply every accepted file
  status    print the chain position and recent apply history
  watch     apply updates on an interval and serve status endpoints
`

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run dispatches the subcommand and returns the process exit code: 0 on
// success, 1 on a failed run, 2 on usage or configuration errors, 3 when the
// update directory is unusable, 4 when the database is.
func run(args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}
	sub := args[0]
	switch sub {
	case "validate", "up", "status", "watch":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", sub)
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}
	fs := flag.NewFlagSet(sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a lockstep config file")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("configuration error", "err", err)
		return 2
	}
	setupLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	switch sub {
	case "validate":
		return cmdValidate(ctx, cfg, out)
	case "up":
		return cmdUp(ctx, cfg, out)
	case "status":
		return cmdStatus(ctx, cfg, out)
	default:
		return cmdWatch(ctx, cfg)
	}
}

// loadConfig resolves the configuration, honoring an explicit -config path.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if err := os.Setenv("LOCKSTEP_CONFIG", path); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

func setupLogger(cfg *config.Config) {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(h))
}

// ensureDBDir creates the database file's parent directory when missing.
func ensureDBDir(path string) error {
	parent := filepath.Dir(path)
	if parent == "." || parent == "" {
		return nil
	}
	st, err := os.Stat(parent)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(parent, 0o700)
	}
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("database parent %s is not a directory", parent)
	}
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, *sqlite.Store, error) {
	if err := ensureDBDir(cfg.DB); err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite3", cfg.SQLiteDSN())
	if err != nil {
		return nil, nil, err
	}
	st, err := sqlite.New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, st, nil
}

// buildService wires the update directory, header extractor, chain validator,
// and store into an application service.
func buildService(cfg *config.Config, src *dir.Dir, st *sqlite.Store) (*app.Service, error) {
	ex := header.New(header.Prefixes{Current: cfg.CurrentPrefix, Previous: cfg.PreviousPrefix}, int(cfg.ChunkSize))
	policy := chain.PolicySkip
	if cfg.Policy == "strict" {
		policy = chain.PolicyStrict
	}
	v, err := chain.New(chain.Config{
		Opener:    src,
		Extractor: ex,
		Ignore:    cfg.Ignore,
		Policy:    policy,
		Log:       slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	return &app.Service{Source: src, Chain: v, Store: st, Clock: realClock{}, Log: slog.Default()}, nil
}

func buildHandler(cfg *config.Config, svc *app.Service, w *watch.Watcher, jrnl *journal.Journal, st *sqlite.Store, src *dir.Dir) http.Handler {
	readiness := func(ctx context.Context) error {
		if err := st.Ping(ctx); err != nil {
			return err
		}
		if _, err := os.ReadDir(src.Root()); err != nil {
			return err
		}
		return nil
	}
	h := watch.NewHandler(svc, readiness)
	h.Watch = w
	h.Journal = journal.Handler(jrnl, cfg.StatusToken)
	h.HistoryLimit = cfg.HistoryLimit
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{Addr: cfg.Addr, Handler: handler, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 120 * time.Second}
}

func cmdValidate(ctx context.Context, cfg *config.Config, out io.Writer) int {
	src, err := dir.New(cfg.Dir)
	if err != nil {
		slog.Error("open update directory", "dir", cfg.Dir, "err", err)
		return 3
	}
	db, st, err := openDatabase(cfg)
	if err != nil {
		slog.Error("open database", "db", cfg.DB, "err", err)
		return 4
	}
	defer db.Close()
	svc, err := buildService(cfg, src, st)
	if err != nil {
		slog.Error("build service", "err", err)
		return 2
	}
	rep, runErr := svc.Plan(ctx)
	printReport(out, rep, false)
	if runErr != nil {
		slog.Error("validate failed", "run_id", rep.RunID, "err", runErr)
		return 1
	}
	return 0
}

func cmdUp(ctx context.Context, cfg *config.Config, out io.Writer) int {
	src, err := dir.New(cfg.Dir)
	if err != nil {
		slog.Error("open update directory", "dir", cfg.Dir, "err", err)
		return 3
	}
	db, st, err := openDatabase(cfg)
	if err != nil {
		slog.Error("open database", "db", cfg.DB, "err", err)
		return 4
	}
	defer db.Close()
	svc, err := buildService(cfg, src, st)
	if err != nil {
		slog.Error("build service", "err", err)
		return 2
	}
	rep, runErr := svc.Up(ctx)
	printReport(out, rep, true)
	if runErr != nil {
		slog.Error("up failed", "run_id", rep.RunID, "err", runErr)
		return 1
	}
	return 0
}

func cmdStatus(ctx context.Context, cfg *config.Config, out io.Writer) int {
	db, st, err := openDatabase(cfg)
	if err != nil {
		slog.Error("open database", "db", cfg.DB, "err", err)
		return 4
	}
	defer db.Close()
	svc := &app.Service{Store: st, Clock: realClock{}, Log: slog.Default()}
	status, err := svc.Status(ctx, cfg.HistoryLimit)
	if err != nil {
		slog.Error("status", "err", err)
		return 1
	}
	printStatus(out, status)
	return 0
}

func cmdWatch(ctx context.Context, cfg *config.Config) int {
	src, err := dir.New(cfg.Dir)
	if err != nil {
		slog.Error("open update directory", "dir", cfg.Dir, "err", err)
		return 3
	}
	db, st, err := openDatabase(cfg)
	if err != nil {
		slog.Error("open database", "db", cfg.DB, "err", err)
		return 4
	}
	defer db.Close()
	svc, err := buildService(cfg, src, st)
	if err != nil {
		slog.Error("build service", "err", err)
		return 2
	}
	jrnl, err := journal.New(db, journal.Config{Logger: slog.Default()})
	if err != nil {
		slog.Error("init journal", "err", err)
		return 4
	}
	jrnl.Start(ctx)
	w := watch.New(svc, jrnl, watch.Config{Interval: cfg.Interval, Logger: slog.Default()})
	w.Start(ctx)
	srv := newServer(cfg, buildHandler(cfg, svc, w, jrnl, st, src))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("watching", "dir", cfg.Dir, "interval", cfg.Interval.String(), "addr", cfg.Addr, "pid", os.Getpid())
	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("status server", "err", err)
		exit = 1
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	w.Stop()
	jrnl.Stop(shutdownCtx)
	return exit
}

// printReport renders one run for a human. Applied files are listed only for
// commands that apply.
func printReport(w io.Writer, rep app.Report, applied bool) {
	if !rep.Baseline.IsZero() {
		fmt.Fprintf(w, "baseline: %s\n", rep.Baseline)
	}
	fmt.Fprintf(w, "run %s: %d accepted, %d rejected, %d ignored\n",
		rep.RunID, len(rep.Chain.Accepted), len(rep.Chain.Rejected), rep.Chain.Ignored)
	for _, e := range rep.Chain.Accepted {
		fmt.Fprintf(w, "  accept %s -> %s\n", e.Name, e.Token)
	}
	for _, rj := range rep.Chain.Rejected {
		fmt.Fprintf(w, "  reject %s: declares previous %s, chain is at %s\n", rj.Name, rj.Got, rj.Want)
	}
	if applied {
		for _, af := range rep.Applied {
			fmt.Fprintf(w, "  applied %s (%d statements)\n", af.Name, af.Statements)
		}
	}
	if rep.Chain.Halt != nil {
		fmt.Fprintf(w, "  halt at %s: %v\n", rep.Chain.Halt.Name, rep.Chain.Halt.Err)
	}
	if !rep.Chain.Latest.IsZero() {
		fmt.Fprintf(w, "chain position: %s\n", rep.Chain.Latest)
	}
}

func printStatus(w io.Writer, st app.Status) {
	if st.Position.IsZero() {
		fmt.Fprintln(w, "chain position: (none)")
	} else {
		fmt.Fprintf(w, "chain position: %s\n", st.Position)
	}
	for _, af := range st.History {
		fmt.Fprintf(w, "  %s  %s  run %s  %d statements -> %s\n",
			af.AppliedAt.UTC().Format(time.RFC3339), af.Name, af.RunID, af.Statements, af.Token)
	}
}
