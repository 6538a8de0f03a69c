package eval

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/flowkernel/agentkernel/internal/telemetry"
)

// OnReport is called with the previous and current SuiteReport after each
// scheduled run, so a caller can log or alert on a regression. prev is the
// zero SuiteReport on the scheduler's first run.
type OnReport func(prev, cur SuiteReport)

// Scheduler re-runs a Suite on a cron expression via a Runner, grounded on
// the reference runtime's cron-based task scheduler
// (robfig/cron/v3, goroutine-per-tick, explicit Start/Stop lifecycle),
// specialized here to a single fixed Suite instead of a pluggable task
// store.
type Scheduler struct {
	runner *Runner
	suite  Suite
	onTick OnReport
	logger telemetry.Logger

	cron   *cron.Cron
	mu     sync.Mutex
	last   SuiteReport
	hasRun bool
}

// NewScheduler constructs a Scheduler that re-runs suite via runner on
// every firing of expr (standard 5-field cron syntax). logger may be the
// telemetry no-op logger in tests.
func NewScheduler(runner *Runner, suite Suite, expr string, onTick OnReport, logger telemetry.Logger) (*Scheduler, error) {
	s := &Scheduler{runner: runner, suite: suite, onTick: onTick, logger: logger, cron: cron.New()}
	_, err := s.cron.AddFunc(expr, func() { s.tick() })
	if err != nil {
		return nil, fmt.Errorf("eval: invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// Start begins the cron schedule. It returns immediately; ticks run in the
// cron library's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	report, err := s.runner.Run(ctx, s.suite)
	if err != nil {
		s.logger.Error(ctx, "eval: scheduled suite run failed", "suite", s.suite.Name, "error", err)
		return
	}

	s.mu.Lock()
	prev := s.last
	hadPrev := s.hasRun
	s.last = report
	s.hasRun = true
	s.mu.Unlock()

	s.logger.Info(ctx, "eval: suite run complete",
		"suite", report.Suite, "pass_rate", report.PassRate, "passed", report.Passed, "total", report.Total)

	if s.onTick != nil {
		if !hadPrev {
			prev = SuiteReport{}
		}
		s.onTick(prev, report)
	}
}

// LastReport returns the most recent SuiteReport, if any tick has run yet.
func (s *Scheduler) LastReport() (SuiteReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasRun
}
