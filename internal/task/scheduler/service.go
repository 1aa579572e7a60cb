package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "fieldbridge/pkg/logx"
)

var ErrNotStarted = errors.New("scheduler not started")

// parser accepts 5-field and 6-field (seconds) specs plus descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Compile turns a schedule string into a cron.Schedule.
func Compile(raw string) (cron.Schedule, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	if ps.Kind == SpecInterval {
		return cron.Every(ps.Every), nil
	}
	sched, err := parser.Parse(ps.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
	}
	return sched, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Service runs one job on a schedule.
type Service struct {
	log logx.Logger
	job Job

	mu    sync.Mutex
	cfg   Config
	c     *cron.Cron
	entry cron.EntryID
	ctx   context.Context

	// running guards the job across cron triggers, run-on-start and RunNow.
	running sync.Mutex
}

// New validates cfg and returns a stopped scheduler.
func New(cfg Config, job Job, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, errors.New("scheduler: job is nil")
	}
	if _, err := Compile(cfg.Spec); err != nil {
		return nil, err
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, job: job, log: log}, nil
}

// Start begins triggering. Jobs receive ctx; cancel it to abort a running job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx = ctx
	if err := s.startLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	runNow := s.cfg.RunOnStart
	s.mu.Unlock()

	if runNow {
		go s.RunNow()
	}
	return nil
}

func (s *Service) startLocked() error {
	sched, err := Compile(s.cfg.Spec)
	if err != nil {
		return err
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = c.Schedule(sched, cron.FuncJob(s.trigger))
	s.c = c
	c.Start()

	next := c.Entry(s.entry).Next
	s.log.Info("scheduler started",
		logx.String("schedule", s.cfg.Spec), logx.String("tz", loc.String()), logx.Time("next", next))
	return nil
}

func (s *Service) trigger() {
	if !s.running.TryLock() {
		s.log.Warn("previous run still in progress; skipping trigger")
		return
	}
	defer s.running.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.job(ctx)
}

// RunNow runs the job immediately unless a run is already in flight.
func (s *Service) RunNow() { s.trigger() }

// Reschedule swaps the schedule (and timezone). A run in flight is not interrupted.
func (s *Service) Reschedule(cfg Config) error {
	if _, err := Compile(cfg.Spec); err != nil {
		return err
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(cfg.Spec) == strings.TrimSpace(s.cfg.Spec) &&
		strings.TrimSpace(cfg.Timezone) == strings.TrimSpace(s.cfg.Timezone) {
		s.cfg.RunOnStart = cfg.RunOnStart
		return nil
	}
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	// Don't wait for the old cron's running job; the running guard still holds.
	s.c.Stop()
	s.c = nil
	s.log.Info("rescheduling", logx.String("schedule", cfg.Spec))
	return s.startLocked()
}

// Next returns the next trigger time.
func (s *Service) Next() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, ErrNotStarted
	}
	return s.c.Entry(s.entry).Next, nil
}

// Stop stops triggering and waits for a running job until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	s.log.Info("stop requested")

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		// Also wait for runs started outside cron (run-on-start).
		s.running.Lock()
		close(done)
		s.running.Unlock()
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("stop timed out; run still in progress")
		return ctx.Err()
	}
}
