// Package startup brings process components up in dependency order, retrying with fibonacci
// backoff, and takes them down in reverse.
package startup

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarting
	StatusStarted
	StatusStopped
	StatusFailed
)

// Component adapts plain functions to Dependency. Either function may be nil.
type Component struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (c Component) GetName() string     { return c.Name }
func (c Component) DependsOn() []string { return c.Requires }

func (c Component) Start(ctx context.Context) error {
	if c.OnStart == nil {
		return nil
	}
	return c.OnStart(ctx)
}

func (c Component) Stop(ctx context.Context) error {
	if c.OnStop == nil {
		return nil
	}
	return c.OnStop(ctx)
}

type Startup struct {
	dependencies map[string]Dependency
	order        []string
	statuses     map[string]Status
	started      []string
	logger       ectologger.Logger
	maxAttempts  int
	// unit scales the fibonacci backoff; tests shrink it
	unit time.Duration
}

func New(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		unit:         time.Second,
	}
}

// Add registers dependencies. Registration order breaks ties between independent components.
func (s *Startup) Add(dependencies ...Dependency) {
	for _, d := range dependencies {
		if _, exists := s.dependencies[d.GetName()]; !exists {
			s.order = append(s.order, d.GetName())
		}
		s.dependencies[d.GetName()] = d
	}
}

func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Start starts every dependency after the ones it depends on. Components that started on an
// earlier attempt are not restarted.
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithContext(ctx).WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.start(ctx, name); err != nil {
				s.logger.WithContext(ctx).WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.unit
		s.logger.WithContext(ctx).Infof("Retrying in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return errors.Wrapf(lastErr, "startup failed after %d attempts", s.maxAttempts)
}

func (s *Startup) start(ctx context.Context, name string) error {
	dependency, ok := s.dependencies[name]
	if !ok {
		return errors.Errorf("unknown startup dependency %q", name)
	}

	switch s.statuses[name] {
	case StatusStarted:
		return nil
	case StatusStarting:
		return errors.Errorf("startup dependency cycle through %q", name)
	}
	s.statuses[name] = StatusStarting

	for _, required := range dependency.DependsOn() {
		if err := s.start(ctx, required); err != nil {
			s.statuses[name] = StatusPending
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithField("dependency", name)
	log.Infof("Starting dependency '%s'", name)
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return errors.Wrapf(err, "failed to start %s", name)
	}

	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in the reverse of the order they started. Every component is
// given the chance to stop; the first error is returned.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		log := s.logger.WithContext(ctx).WithField("dependency", name)

		log.Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			log.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
		}
		s.statuses[name] = StatusStopped
	}
	s.started = nil
	return firstErr
}
