package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/scheduler"
)

func getTestLogger() ectologger.Logger {
	return zapadapter.NewZapEctoLogger(zap.NewNop(), nil)
}

// sharedLocker stands in for redis across several scheduler instances.
type sharedLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (l *sharedLocker) Acquire(_ context.Context, key string, _ time.Duration) (redis.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.held[key] {
		return nil, redis.ErrLockNotAcquired
	}
	l.held[key] = true
	return releaser(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}), nil
}

type releaser func()

func (r releaser) Release(context.Context) error {
	r()
	return nil
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	locker := &sharedLocker{held: map[string]bool{"scheduler:job:sweep": true}}
	var runs int32
	job := scheduler.Job{Name: "sweep", Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}}

	s := scheduler.New(locker, getTestLogger(), job)
	assert.False(t, s.RunOnce(context.Background(), job))
	assert.Zero(t, atomic.LoadInt32(&runs))

	delete(locker.held, "scheduler:job:sweep")
	assert.True(t, s.RunOnce(context.Background(), job))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Empty(t, locker.held, "the lock is released after the cycle")
}

func TestRunOnce_FailedJobStillReleases(t *testing.T) {
	locker := &sharedLocker{held: map[string]bool{}}
	job := scheduler.Job{Name: "refresh", Run: func(context.Context) error {
		return errors.New("redis unavailable")
	}}

	s := scheduler.New(locker, getTestLogger(), job)
	assert.True(t, s.RunOnce(context.Background(), job))
	assert.Empty(t, locker.held)
}

func TestScheduler_StartStop(t *testing.T) {
	ran := make(chan struct{}, 10)
	job := scheduler.Job{Name: "tick", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}

	s := scheduler.New(nil, getTestLogger(), job)
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), scheduler.ErrSchedulerAlreadyRunning)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(ctx), "stopping twice is harmless")
}

func TestScheduler_OneReplicaPerCycle(t *testing.T) {
	locker := &sharedLocker{held: map[string]bool{}}
	started := make(chan struct{})
	finish := make(chan struct{})
	var runs int32

	job := scheduler.Job{Name: "sweep", Interval: time.Hour, Run: func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-finish
		return nil
	}}

	first := scheduler.New(locker, getTestLogger(), job)
	second := scheduler.New(locker, getTestLogger(), job)

	go first.RunOnce(context.Background(), job)
	<-started
	assert.False(t, second.RunOnce(context.Background(), job))
	close(finish)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}
