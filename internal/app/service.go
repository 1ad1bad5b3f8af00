// Package app contains the application orchestration layer for lockstep. It
// wires the chain validator to the source and store ports without performing
// any I/O itself.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/lockstep/internal/chain"
	"github.com/haukened/lockstep/internal/domain"
)

// Report is the outcome of one run through the service. On a halted run the
// chain result holds everything up to the offending file.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Baseline domain.Token
	Chain    chain.Result
	Applied  []AppliedFile
}

// Status describes the persisted state of the chain.
type Status struct {
	Position domain.Token
	History  []AppliedFile
}

// Service orchestrates validation and apply runs using the injected ports.
type Service struct {
	Source Source
	Chain  Runner
	Store  ChainStore
	Clock  Clock
	Log    *slog.Logger
}

// Plan lists the source, reads the baseline position from the store, and
// validates the chain without applying anything. The returned Report is
// meaningful even when err is non-nil: it carries the partial result up to
// the halt.
func (s *Service) Plan(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Started: s.Clock.Now()}
	baseline, err := s.Store.Position(ctx)
	if err != nil {
		rep.Duration = s.Clock.Now().Sub(rep.Started)
		return rep, fmt.Errorf("read chain position: %w", err)
	}
	rep.Baseline = baseline
	names, err := s.Source.List()
	if err != nil {
		rep.Duration = s.Clock.Now().Sub(rep.Started)
		return rep, fmt.Errorf("list update files: %w", err)
	}
	res, runErr := s.Chain.Run(ctx, names, baseline)
	rep.Chain = res
	rep.Duration = s.Clock.Now().Sub(rep.Started)
	for _, e := range res.Accepted {
		if !e.Token.TimestampShaped() {
			s.logger().Warn("accepted token is not timestamp shaped", "run_id", rep.RunID, "file", e.Name, "token", e.Token)
		}
	}
	return rep, runErr
}

// Up validates the chain and then applies each accepted file in order. A
// validation halt blocks the apply phase entirely. An apply failure stops the
// run at the failing file; files applied before it stay applied, since the
// store advances the position durably per file.
func (s *Service) Up(ctx context.Context) (Report, error) {
	rep, err := s.Plan(ctx)
	if err != nil {
		return rep, err
	}
	log := s.logger()
	for _, entry := range rep.Chain.Accepted {
		n, err := s.applyOne(ctx, entry, rep.RunID)
		if err != nil {
			rep.Duration = s.Clock.Now().Sub(rep.Started)
			log.Error("apply failed", "run_id", rep.RunID, "file", entry.Name, "error", err)
			return rep, fmt.Errorf("apply %s: %w", entry.Name, err)
		}
		rep.Applied = append(rep.Applied, AppliedFile{
			Name:       entry.Name,
			Token:      entry.Token,
			RunID:      rep.RunID,
			AppliedAt:  s.Clock.Now(),
			Statements: n,
		})
		log.Info("file applied", "run_id", rep.RunID, "file", entry.Name, "token", entry.Token, "statements", n)
	}
	rep.Duration = s.Clock.Now().Sub(rep.Started)
	return rep, nil
}

// applyOne streams a single accepted file into the store, closing the source
// on every path.
func (s *Service) applyOne(ctx context.Context, entry chain.Entry, runID string) (int, error) {
	src, err := s.Source.Open(entry.Name)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", domain.ErrSourceRead, entry.Name, err)
	}
	defer src.Close()
	return s.Store.Apply(ctx, entry.Name, src, entry.Token, runID)
}

// Status reports the persisted chain position and recent apply history.
func (s *Service) Status(ctx context.Context, historyLimit int) (Status, error) {
	pos, err := s.Store.Position(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read chain position: %w", err)
	}
	hist, err := s.Store.History(ctx, historyLimit)
	if err != nil {
		return Status{}, fmt.Errorf("read history: %w", err)
	}
	return Status{Position: pos, History: hist}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
