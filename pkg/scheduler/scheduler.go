// Package scheduler runs periodic maintenance jobs. Each cycle of a job runs under a
// distributed lock so only one replica executes it.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	DefaultInterval = 30 * time.Second

	// LockKeyPrefix is the prefix for job locks
	LockKeyPrefix = "scheduler:job:"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// LockTTL bounds how long one cycle may hold the job lock. Defaults to the interval.
	LockTTL time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []Job
	locker redis.Locker
	logger ectologger.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(locker redis.Locker, logger ectologger.Logger, jobs ...Job) *Scheduler {
	if locker == nil {
		locker = redis.NoopLocker{}
	}
	for i := range jobs {
		if jobs[i].Interval <= 0 {
			jobs[i].Interval = DefaultInterval
		}
		if jobs[i].LockTTL <= 0 {
			jobs[i].LockTTL = jobs[i].Interval
		}
	}

	return &Scheduler{
		jobs:   jobs,
		locker: locker,
		logger: logger,
	}
}

// Start launches one loop per job. Each job runs immediately and then on its interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}

	s.logger.WithContext(ctx).WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop cancels the loops and waits for in-flight cycles, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs a single cycle of job if no other replica holds its lock. It reports whether the
// cycle ran.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) bool {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.RunOnce")
	defer span.End()

	log := s.logger.WithContext(ctx).WithField("job", job.Name)
	start := time.Now()

	err := redis.WithLock(ctx, s.locker, LockKeyPrefix+job.Name, job.LockTTL, job.Run)
	switch {
	case errors.Is(err, redis.ErrLockNotAcquired):
		log.Debug("Job is running on another replica")
		return false
	case err != nil:
		log.WithError(err).Error("Scheduled job failed")
	default:
		log.WithField("duration", time.Since(start).String()).Debug("Scheduled job completed")
	}
	return true
}
