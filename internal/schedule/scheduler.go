// Package schedule submits tracking runs on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// DefaultSpec runs every project every three hours.
const DefaultSpec = "0 */3 * * *"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Submitter queues a run for a project.
type Submitter interface {
	Submit(ctx context.Context, project string, pages *int) (serp.Run, error)
}

// Config selects when and what to run. An empty Projects list means every
// project in the store.
type Config struct {
	Spec     string
	Projects []string
}

// Scheduler wraps a cron.Cron with one entry that submits the configured projects.
type Scheduler struct {
	cron      *cron.Cron
	schedule  cron.Schedule
	submitter Submitter
	projects  serp.ProjectStore
	cfg       Config
	logger    *zap.Logger
}

// ParseSpec validates a five-field cron expression or descriptor such as @hourly.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// New builds a Scheduler; it does nothing until Start.
func New(cfg Config, submitter Submitter, projects serp.ProjectStore, logger *zap.Logger) (*Scheduler, error) {
	if submitter == nil || projects == nil {
		return nil, errors.New("schedule: submitter and project store are required")
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSpec
	}
	sched, err := ParseSpec(cfg.Spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule:  sched,
		submitter: submitter,
		projects:  projects,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Start registers the cron entry and starts the cron goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		s.Tick(ctx)
	}))
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.cfg.Spec), zap.Time("next", s.Next(time.Now())))
}

// Stop halts the cron and waits for a running tick, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Next is the first activation after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}

// Tick submits one run per selected project and returns how many were queued.
func (s *Scheduler) Tick(ctx context.Context) int {
	names, err := s.selected(ctx)
	if err != nil {
		s.logger.Error("scheduled tick: list projects failed", zap.Error(err))
		return 0
	}
	queued := 0
	for _, name := range names {
		run, err := s.submitter.Submit(ctx, name, nil)
		if err != nil {
			s.logger.Error("scheduled submit failed", zap.String("project", name), zap.Error(err))
			continue
		}
		queued++
		s.logger.Info("scheduled run queued", zap.String("project", name), zap.String("run_id", run.ID))
	}
	return queued
}

func (s *Scheduler) selected(ctx context.Context) ([]string, error) {
	if len(s.cfg.Projects) > 0 {
		return s.cfg.Projects, nil
	}
	projects, err := s.projects.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}
	return names, nil
}
