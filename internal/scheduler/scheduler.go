// Package scheduler wires up the cron job that periodically scans every
// enabled job source.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/model"
)

// Scanner is the part of the scan orchestrator the scheduler drives.
type Scanner interface {
	ScanAllScheduled(ctx context.Context) (model.ScanSummary, error)
}

// Scheduler wraps robfig/cron and manages the scan loop.
type Scheduler struct {
	cron    *cron.Cron
	scanner Scanner
	spec    string // cron spec, e.g. "@every 6h"
	log     *zap.Logger

	// runOnStart fires one cycle immediately so a fresh deployment has
	// postings without waiting for the first tick.
	runOnStart bool
	wg         sync.WaitGroup
}

// New creates a Scheduler for spec. A cycle still running when the next tick
// fires is skipped rather than stacked.
func New(scanner Scanner, spec string, runOnStart bool, logger *zap.Logger) *Scheduler {
	cronLog := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		scanner:    scanner,
		spec:       spec,
		log:        logger,
		runOnStart: runOnStart,
	}
}

// Start registers the job and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runScan(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info("cron started", zap.String("spec", s.spec))

	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runScan(ctx)
		}()
	}
	return nil
}

// Stop halts the schedule and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("cron stopped")
}

func (s *Scheduler) runScan(ctx context.Context) {
	s.log.Info("scan cycle started")

	summary, err := s.scanner.ScanAllScheduled(ctx)
	if err != nil {
		s.log.Error("scan cycle failed", zap.Error(err))
		return
	}

	s.log.Info("scan cycle complete",
		zap.Int("requested", summary.RequestedSources),
		zap.Int("succeeded", summary.SuccessfulSources),
		zap.Int("failed", summary.FailedSources),
		zap.Int("skipped", summary.SkippedSources),
		zap.Int("ingested", summary.TotalIngested),
	)
}
