package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Now      func() time.Time
	// After defaults to time.After; tests swap it for a manual clock.
	After func(d time.Duration) <-chan time.Time
}

// Service runs each registered job on its own schedule. Jobs do not wait on
// each other; the same job never overlaps itself across instances.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	now      func() time.Time
	after    func(d time.Duration) <-chan time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	after := params.After
	if after == nil {
		after = time.After
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		now:      now,
		after:    after,
	}, nil
}

// Run schedules every entry until ctx is canceled. A job that has started
// runs to completion; Run returns once all of them have.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, entry := range s.registry.Entries() {
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(entry)
	}
	wg.Wait()
	s.logg.Info(ctx, "cron service stopped")
	return ctx.Err()
}

func (s *Service) loop(ctx context.Context, e Entry) {
	jobCtx := s.logg.WithField(ctx, "job", e.Job.Name())
	for {
		next := e.Schedule.Next(s.now())
		s.logg.Info(s.logg.WithField(jobCtx, "next_run", next.Format(time.RFC3339)), "job scheduled")
		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(s.now())):
			s.runLocked(context.WithoutCancel(jobCtx), e.Job)
		}
	}
}

// RunOnce runs the named job immediately under its lock.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runLocked(s.logg.WithField(ctx, "job", name), job)
}

func (s *Service) runLocked(ctx context.Context, job Job) error {
	lock := s.locker.Lock(job.Name())
	locked, err := lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "failed to acquire job lock", err)
		s.metrics.IncFailure(job.Name())
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "job already running on another instance; skipping")
		return nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release job lock", relErr)
		}
	}()
	return s.runJob(ctx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithField(ctx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	report, err := job.Run(jobCtx)
	duration := time.Since(start)

	s.metrics.ObserveDuration(job.Name(), duration)
	s.metrics.AddAffected(job.Name(), report.Affected)
	jobCtx = s.logg.WithFields(jobCtx, map[string]any{
		"duration_ms": duration.Milliseconds(),
		"affected":    report.Affected,
	})
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
	return nil
}
