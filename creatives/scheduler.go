package creatives

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// cronLogger adapts slog to robfig/cron's Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs periodic maintenance jobs (lease sweeps, cooldown
// sweeps, channel history pruning). Jobs recover from panics and are
// skipped while a previous run is still going.
type Scheduler struct {
	mu      sync.Mutex
	cron    *rcron.Cron
	entries map[string]rcron.EntryID
	logger  *slog.Logger
	started bool
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(loggerNameKey, "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: rcron.New(
			rcron.WithLogger(cl),
			rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl)),
		),
		entries: map[string]rcron.EntryID{},
		logger:  logger,
	}
}

// Add registers fn under name with a cron spec ("@every 60s",
// "*/5 * * * *"). Adding a name twice replaces the earlier job.
func (s *Scheduler) Add(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		s.cron.Remove(existing)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(
		spec, func() {
			start := time.Now()
			fn()
			s.logger.Debug("job finished", "job", name, "elapsed", time.Since(start))
		},
	)
	if err != nil {
		return fmt.Errorf("scheduling %q (%s): %w", name, spec, err)
	}
	s.entries[name] = id
	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop stops scheduling new runs and waits for running jobs, or until
// ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for scheduled jobs to finish")
	}
}

// Next returns the next scheduled run per job name.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}
