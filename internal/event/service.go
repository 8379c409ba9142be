package event

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	attentity "github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
	attrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/event/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/event/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/database"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

var (
	ErrEventNotFound     = errors.New("event not found")
	ErrIllegalTransition = entity.ErrIllegalTransition
	ErrBusy              = errors.New("event is busy, retry")
)

type Config struct {
	LockTimeout time.Duration
	Location    *time.Location
}

func ConfigFromEnv() Config {
	cfg := Config{LockTimeout: 10 * time.Second, Location: time.UTC}
	if v := os.Getenv("EVENT_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LockTimeout = d
		}
	}
	if v := os.Getenv("ATTENDANCE_TIMEZONE"); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			cfg.Location = loc
		}
	}
	return cfg
}

// Result describes a start or restart.
type Result struct {
	EventID          int64         `json:"eventId"`
	State            entity.State  `json:"state"`
	AlreadySatisfied bool          `json:"alreadySatisfied"`
	Event            *entity.Event `json:"event"`
}

// EndResult describes a force-end and the sessions it closed.
type EndResult struct {
	EventID              int64      `json:"eventId"`
	ClosedSessions       int        `json:"closedSessions"`
	NullifiedSeconds     int64      `json:"nullifiedSeconds"`
	NullifiedMinutes     float64    `json:"nullifiedMinutes"`
	AffectedParticipants int        `json:"affectedParticipants"`
	AlreadySatisfied     bool       `json:"alreadySatisfied"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
}

// Service is the event lifecycle controller.
type Service struct {
	db       *sqlx.DB
	presence presence.Tracker
	logger   *zap.SugaredLogger
	cfg      Config
	now      func() time.Time
}

func NewService(db *sqlx.DB, tracker presence.Tracker, cfg Config, logger *zap.SugaredLogger) *Service {
	if tracker == nil {
		tracker = presence.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{db: db, presence: tracker, logger: logger, cfg: cfg, now: time.Now}
}

// Start force-starts a scheduled event. Starting an active event is a no-op.
func (s *Service) Start(ctx context.Context, id int64) (*Result, error) {
	return s.flip(ctx, id, "event started", func(e *entity.Event) (bool, error) {
		return e.ForceStart()
	})
}

// Restart reopens a manually ended event. Nullified sessions stay nullified.
func (s *Service) Restart(ctx context.Context, id int64) (*Result, error) {
	return s.flip(ctx, id, "event restarted", func(e *entity.Event) (bool, error) {
		return true, e.Restart()
	})
}

func (s *Service) flip(ctx context.Context, id int64, msg string, apply func(e *entity.Event) (bool, error)) (*Result, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	var res *Result
	err := database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		if err := database.SetLockTimeout(ctx, tx, s.cfg.LockTimeout); err != nil {
			return err
		}
		events := repo.NewEventRepo(tx)
		e, err := events.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		changed, err := apply(e)
		if err != nil {
			return err
		}
		if changed {
			if err := events.SaveFlags(ctx, e, now); err != nil {
				return err
			}
		}
		res = &Result{EventID: id, State: e.State(), AlreadySatisfied: !changed, Event: e}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !res.AlreadySatisfied {
		s.logger.Infow(msg, utilities.FieldEventID, id)
	}
	return res, nil
}

// End force-ends the event. Every open session is closed as a nullified
// auto-checkout and the summaries are incremented in the same transaction.
// Ending an ended event is a no-op.
func (s *Service) End(ctx context.Context, id int64) (*EndResult, error) {
	return s.end(ctx, id, attentity.NullifiedReasonForceEnd, nil)
}

// EndDue ends active events whose scheduled window has closed, the same way
// End does. Events an operator started or restarted are left to the operator.
func (s *Service) EndDue(ctx context.Context) ([]int64, error) {
	ids, err := repo.NewEventRepo(s.db).ListWindowClosed(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	var ended []int64
	var errs []error
	for _, id := range ids {
		res, err := s.end(ctx, id, attentity.NullifiedReasonWindowClosed, (*entity.Event).WindowClosed)
		if err != nil {
			errs = append(errs, fmt.Errorf("end event %d: %w", id, err))
			continue
		}
		if !res.AlreadySatisfied {
			ended = append(ended, id)
		}
	}
	return ended, errors.Join(errs...)
}

// end closes the event. When due is set it is re-checked under the row lock
// and the event is left alone unless it holds.
func (s *Service) end(ctx context.Context, id int64, reason string, due func(e *entity.Event, now time.Time) bool) (*EndResult, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	res := &EndResult{EventID: id}
	err := database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		if err := database.SetLockTimeout(ctx, tx, s.cfg.LockTimeout); err != nil {
			return err
		}
		events := repo.NewEventRepo(tx)
		e, err := events.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if due != nil && !due(e, now) {
			res.AlreadySatisfied = true
			return nil
		}
		if !e.ForceEnd() {
			res.AlreadySatisfied = true
			return nil
		}

		ledger := attrepo.NewLedgerRepo(tx)
		open, err := ledger.OpenSessionsForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("lock open sessions: %w", err)
		}
		type tally struct {
			secs     int64
			sessions int
		}
		perParticipant := make(map[int64]*tally)
		for i := range open {
			sess := &open[i]
			secs := sess.Nullify(now, reason)
			if err := ledger.Nullify(ctx, sess); err != nil {
				return fmt.Errorf("nullify session %d: %w", sess.ID, err)
			}
			t := perParticipant[sess.ParticipantID]
			if t == nil {
				t = &tally{}
				perParticipant[sess.ParticipantID] = t
			}
			t.secs += secs
			t.sessions++
			res.NullifiedSeconds += secs
		}

		ids := make([]int64, 0, len(perParticipant))
		for pid := range perParticipant {
			ids = append(ids, pid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		day := s.day(now)
		summaries := attrepo.NewSummaryRepo(tx)
		for _, pid := range ids {
			t := perParticipant[pid]
			if err := summaries.ApplyNullifiedSession(ctx, id, pid, t.secs, t.sessions, now, day); err != nil {
				return fmt.Errorf("apply nullified session for %d: %w", pid, err)
			}
		}

		if err := events.SaveFlags(ctx, e, now); err != nil {
			return err
		}
		res.ClosedSessions = len(open)
		res.AffectedParticipants = len(ids)
		res.NullifiedMinutes = math.Round(float64(res.NullifiedSeconds)/60*100) / 100
		res.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if res.AlreadySatisfied {
		return res, nil
	}

	if err := s.presence.Clear(ctx, id); err != nil {
		s.logger.Warnw("presence clear failed", utilities.FieldEventID, id, utilities.FieldError, err)
	}
	s.logger.Infow("event ended",
		utilities.FieldEventID, id,
		"reason", reason,
		"closed_sessions", res.ClosedSessions,
		"nullified_seconds", res.NullifiedSeconds,
		"affected_participants", res.AffectedParticipants,
	)
	return res, nil
}

// ActivateDue activates scheduled events whose window has opened.
func (s *Service) ActivateDue(ctx context.Context) ([]int64, error) {
	ids, err := repo.NewEventRepo(s.db).ActivateDue(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.logger.Infow("event activated by schedule", utilities.FieldEventID, id)
	}
	return ids, nil
}

func (s *Service) day(t time.Time) time.Time {
	y, m, d := t.In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func classify(err error) error {
	switch {
	case repo.IsNotFound(err):
		return ErrEventNotFound
	case errors.Is(err, ErrIllegalTransition):
		return err
	case database.IsRetryable(err):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
