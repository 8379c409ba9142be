// Package scheduler runs the periodic attendance jobs: opening and closing
// events on their schedule, detecting summary drift and rebuilding the
// presence cache.
package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

type Config struct {
	Activate   string
	Close      string
	Reconcile  string
	Presence   string
	JobTimeout time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{
		Activate:   getEnv("SCHEDULE_ACTIVATE", "@every 1m"),
		Close:      getEnv("SCHEDULE_CLOSE", "@every 1m"),
		Reconcile:  getEnv("SCHEDULE_RECONCILE", "@every 10m"),
		Presence:   getEnv("SCHEDULE_PRESENCE", "@every 5m"),
		JobTimeout: time.Minute,
	}
	if v := os.Getenv("SCHEDULE_JOB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.JobTimeout = d
		}
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type Activator interface {
	ActivateDue(ctx context.Context) ([]int64, error)
}

type Closer interface {
	EndDue(ctx context.Context) ([]int64, error)
}

type DriftChecker interface {
	Check(ctx context.Context, eventID int64) ([]entity.Drift, error)
}

type ActiveEvents interface {
	ListActiveIDs(ctx context.Context) ([]int64, error)
}

type OpenSessions interface {
	OpenParticipantIDs(ctx context.Context, eventID int64) ([]int64, error)
}

// Deps are the collaborators the jobs call.
type Deps struct {
	Activator Activator
	Closer    Closer
	Drift     DriftChecker
	Events    ActiveEvents
	Ledger    OpenSessions
	Presence  presence.Tracker
}

type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	cfg    Config
	logger *zap.SugaredLogger
}

// New registers the jobs. An empty schedule disables its job.
func New(cfg Config, deps Deps, logger *zap.SugaredLogger) (*Scheduler, error) {
	if deps.Presence == nil {
		deps.Presence = presence.Nop{}
	}
	cl := cronLogger{logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	jobs := []struct {
		spec string
		run  func(context.Context) error
	}{
		{cfg.Activate, s.ActivateDue},
		{cfg.Close, s.EndDue},
		{cfg.Reconcile, s.DetectDrift},
		{cfg.Presence, s.ResyncPresence},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(run) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and returns a context done when running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

func (s *Scheduler) runJob(run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	if err := run(ctx); err != nil {
		s.logger.Errorw("scheduled job failed", utilities.FieldError, err)
	}
}

func (s *Scheduler) ActivateDue(ctx context.Context) error {
	_, err := s.deps.Activator.ActivateDue(ctx)
	return err
}

// EndDue ends events whose window closed. A failure on one event does not
// stop the others.
func (s *Scheduler) EndDue(ctx context.Context) error {
	ids, err := s.deps.Closer.EndDue(ctx)
	for _, id := range ids {
		s.logger.Infow("event ended by schedule", utilities.FieldEventID, id)
	}
	return err
}

// DetectDrift logs summaries of active events that disagree with the ledger.
func (s *Scheduler) DetectDrift(ctx context.Context) error {
	ids, err := s.deps.Events.ListActiveIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		drift, err := s.deps.Drift.Check(ctx, id)
		if err != nil {
			s.logger.Errorw("drift check failed", utilities.FieldEventID, id, utilities.FieldError, err)
			continue
		}
		for _, d := range drift {
			s.logger.Warnw("summary drift",
				utilities.FieldEventID, d.EventID,
				utilities.FieldParticipantID, d.ParticipantID,
				"missing_row", d.MissingRow,
				"stored_valid", d.Stored.TotalValidDuration,
				"ledger_valid", d.Ledger.TotalValidDuration,
				"stored_sessions", d.Stored.TotalSessions,
				"ledger_sessions", d.Ledger.TotalSessions,
			)
		}
	}
	return nil
}

// ResyncPresence rebuilds each active event's presence set from the ledger.
func (s *Scheduler) ResyncPresence(ctx context.Context) error {
	ids, err := s.deps.Events.ListActiveIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		open, err := s.deps.Ledger.OpenParticipantIDs(ctx, id)
		if err != nil {
			return err
		}
		if err := s.deps.Presence.Replace(ctx, id, open); err != nil {
			return err
		}
	}
	return nil
}

type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, utilities.FieldError, err)...)
}
