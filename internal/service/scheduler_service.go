package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"task-reminder/internal/logging"
)

// Job is one run of a scheduled job.
type Job func(ctx context.Context) error

// JobLocker guards a job across processes. Acquire reports ok=false when
// another holder owns the lock.
type JobLocker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// SchedulerService runs named jobs on fixed intervals. A run that is still in
// progress when its next tick arrives causes that tick to be dropped.
type SchedulerService struct {
	cron    *cron.Cron
	log     *zap.Logger
	cronLog cron.Logger
	locker  JobLocker

	mu     sync.Mutex
	names  map[string]cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSchedulerService builds a scheduler. locker may be nil for single
// instance deployments.
func NewSchedulerService(log *zap.Logger, locker JobLocker) *SchedulerService {
	log = log.Named("scheduler")
	cronLog := logging.NewCronLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerService{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithSeconds(),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		log:     log,
		cronLog: cronLog,
		locker:  locker,
		names:   make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AddJob registers job under name to run every interval. Each run gets a
// context bounded by timeout.
func (s *SchedulerService) AddJob(name string, every, timeout time.Duration, job Job) (cron.EntryID, error) {
	if every <= 0 {
		return 0, fmt.Errorf("job %s: interval must be positive", name)
	}
	// cron's constant delay schedule has one second resolution.
	seconds := int(every.Seconds())
	if seconds <= 0 {
		seconds = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.names[name]; dup {
		return 0, fmt.Errorf("job %s already registered", name)
	}
	id, err := s.cron.AddJob(fmt.Sprintf("@every %ds", seconds), s.wrap(name, timeout, job))
	if err != nil {
		return 0, fmt.Errorf("job %s: %w", name, err)
	}
	s.names[name] = id
	s.log.Info("job registered", zap.String("job", name), zap.Duration("every", time.Duration(seconds)*time.Second))
	return id, nil
}

// wrap adapts job to a cron.Job that never overlaps with itself.
func (s *SchedulerService) wrap(name string, timeout time.Duration, job Job) cron.Job {
	return cron.NewChain(cron.SkipIfStillRunning(s.cronLog)).Then(cron.FuncJob(func() {
		s.run(name, timeout, job)
	}))
}

func (s *SchedulerService) run(name string, timeout time.Duration, job Job) {
	ctx := s.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	log := s.log.With(zap.String("job", name))
	started := time.Now()

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, name, lockTTL(timeout))
		switch {
		case err != nil:
			log.Warn("job lock unavailable, running unguarded", zap.Error(err))
		case !ok:
			log.Debug("job held by another instance")
			recordJob(name, "locked", time.Since(started))
			return
		default:
			defer release()
		}
	}

	if err := job(ctx); err != nil {
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(started)))
		recordJob(name, "error", time.Since(started))
		return
	}
	recordJob(name, "ok", time.Since(started))
}

// lockGrace keeps a job lock alive past the run timeout. Telegram sends do not
// observe the run context, so a run can finish after its deadline.
const lockGrace = 30 * time.Second

func lockTTL(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return time.Minute + lockGrace
	}
	return timeout + lockGrace
}

func (s *SchedulerService) Start() {
	s.cron.Start()
}

// Stop stops triggering new runs and waits for in-flight runs. When ctx ends
// first the runs' contexts are cancelled and ctx's error is returned.
func (s *SchedulerService) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn("abandoning in-flight jobs")
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}
