package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/repo"
	eventrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/event/repo"
	operator "github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
	participant "github.com/ovaphlow/pitchfork/service-attendance/internal/participant/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/scantoken"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/database"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

var (
	ErrInvalidRequest      = errors.New("invalid scan request")
	ErrEventNotFound       = errors.New("event not found")
	ErrEventNotActive      = errors.New("event is not accepting scans")
	ErrParticipantNotFound = errors.New("participant not found or inactive")
	ErrDuplicateScan       = errors.New("scan repeated within debounce window")
	ErrDuplicateCheckIn    = errors.New("participant is already checked in")
	ErrScanTypeMismatch    = errors.New("scan type does not match participant state")
	ErrBusy                = errors.New("attendance store busy, retry the scan")
	ErrScanLogNotFound     = errors.New("scan log not found")
)

const auditTimeout = 3 * time.Second

var validate = validator.New()

type Config struct {
	LockTimeout time.Duration
	Debounce    time.Duration
	Location    *time.Location
}

func ConfigFromEnv() Config {
	cfg := Config{LockTimeout: 3 * time.Second, Location: time.UTC}
	if v := os.Getenv("SCAN_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LockTimeout = d
		}
	}
	if v := os.Getenv("SCAN_DEBOUNCE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Debounce = d
		}
	}
	if v := os.Getenv("ATTENDANCE_TIMEZONE"); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			cfg.Location = loc
		}
	}
	return cfg
}

// Verifier checks scan tokens.
type Verifier interface {
	Verify(raw string, eventID int64) (*scantoken.Identity, error)
}

// Participants looks up active participants.
type Participants interface {
	FindActive(ctx context.Context, id int64) (*participant.Participant, error)
}

// Action is the ledger transition a scan produced.
type Action string

const (
	ActionIn  Action = "in"
	ActionOut Action = "out"
)

func (a Action) scanType() entity.ScanType {
	switch a {
	case ActionIn:
		return entity.ScanCheckIn
	case ActionOut:
		return entity.ScanCheckOut
	}
	return entity.ScanOther
}

type ScanRequest struct {
	Token    string `json:"token" validate:"required"`
	EventID  int64  `json:"eventId" validate:"gt=0"`
	ScanType string `json:"scanType,omitempty" validate:"omitempty,oneof=in out"`
}

type ScanResult struct {
	Action          Action                   `json:"action"`
	Participant     *participant.Participant `json:"participant"`
	Session         *entity.Session          `json:"session"`
	DurationSeconds int64                    `json:"durationSeconds"`
}

// Service is the scan processor. Each scan toggles the (event, participant)
// ledger state inside one transaction and is audited exactly once.
type Service struct {
	db           *sqlx.DB
	tokens       Verifier
	participants Participants
	presence     presence.Tracker
	logger       *zap.SugaredLogger
	cfg          Config
	now          func() time.Time
}

func NewService(db *sqlx.DB, tokens Verifier, participants Participants, tracker presence.Tracker, cfg Config, logger *zap.SugaredLogger) *Service {
	if tracker == nil {
		tracker = presence.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		db:           db,
		tokens:       tokens,
		participants: participants,
		presence:     tracker,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// Scan processes one scan by op.
func (s *Service) Scan(ctx context.Context, op operator.Operator, req ScanRequest) (*ScanResult, error) {
	received := s.now().UTC().Truncate(time.Microsecond)

	if err := validate.Struct(req); err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		s.audit(ctx, op, req, nil, received, err)
		return nil, err
	}
	id, err := s.tokens.Verify(req.Token, req.EventID)
	if err == nil && id.Kind != scantoken.KindParticipant {
		err = scantoken.ErrInvalidToken
	}
	if err != nil {
		s.audit(ctx, op, req, nil, received, err)
		return nil, err
	}
	p, err := s.participants.FindActive(ctx, id.SubjectID)
	if err == nil && p == nil {
		err = ErrParticipantNotFound
	}
	if err != nil {
		err = classify(err)
		s.audit(ctx, op, req, &id.SubjectID, received, err)
		return nil, err
	}

	var res *ScanResult
	err = database.WithTx(ctx, s.db, nil, func(tx *sqlx.Tx) error {
		r, err := s.toggle(ctx, tx, op, p, req, received)
		res = r
		return err
	})
	if err != nil {
		err = classify(err)
		s.audit(ctx, op, req, &p.ID, received, err)
		return nil, err
	}

	s.publish(ctx, req.EventID, res)
	s.logger.Infow("scan processed",
		utilities.FieldEventID, req.EventID,
		utilities.FieldParticipantID, p.ID,
		utilities.FieldSessionID, res.Session.ID,
		utilities.FieldAction, res.Action,
		utilities.FieldOperatorID, op.ID,
		utilities.FieldOperatorType, op.Kind,
	)
	return res, nil
}

// toggle flips the pair's ledger state. received is only used to seed a new
// summary row; the transition time is read once the pair lock is held so
// transitions of one pair are time-ordered like the lock.
func (s *Service) toggle(ctx context.Context, tx *sqlx.Tx, op operator.Operator, p *participant.Participant, req ScanRequest, received time.Time) (*ScanResult, error) {
	if err := database.SetLockTimeout(ctx, tx, s.cfg.LockTimeout); err != nil {
		return nil, err
	}
	ev, err := eventrepo.NewEventRepo(tx).GetForShare(ctx, req.EventID)
	if err != nil {
		if eventrepo.IsNotFound(err) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("load event: %w", err)
	}
	if !ev.AcceptsScans() {
		return nil, ErrEventNotActive
	}

	summaries := repo.NewSummaryRepo(tx)
	if _, err := summaries.Lock(ctx, ev.ID, p.ID, s.day(received), received); err != nil {
		return nil, fmt.Errorf("lock summary: %w", err)
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	day := s.day(now)

	ledger := repo.NewLedgerRepo(tx)
	open, err := ledger.OpenSession(ctx, ev.ID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if s.cfg.Debounce > 0 {
		last, err := ledger.LastTransition(ctx, ev.ID, p.ID)
		if err != nil {
			return nil, fmt.Errorf("last transition: %w", err)
		}
		if !last.IsZero() && now.Sub(last) < s.cfg.Debounce {
			return nil, ErrDuplicateScan
		}
	}

	action := ActionIn
	if open != nil {
		action = ActionOut
	}
	if want := Action(req.ScanType); want != "" && want != action {
		return nil, ErrScanTypeMismatch
	}

	res := &ScanResult{Action: action, Participant: p}
	switch action {
	case ActionIn:
		sess := &entity.Session{
			ID:            utilities.NextID(),
			EventID:       ev.ID,
			ParticipantID: p.ID,
			CheckInTime:   now,
			Status:        entity.StatusCheckedIn,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := ledger.Insert(ctx, sess); err != nil {
			return nil, fmt.Errorf("insert session: %w", err)
		}
		if err := summaries.MarkCheckedIn(ctx, ev.ID, p.ID, now, day); err != nil {
			return nil, fmt.Errorf("mark checked in: %w", err)
		}
		res.Session = sess
	case ActionOut:
		secs := open.Close(now)
		if err := ledger.Close(ctx, open); err != nil {
			return nil, fmt.Errorf("close session: %w", err)
		}
		if err := summaries.ApplyValidSession(ctx, ev.ID, p.ID, secs, now, day); err != nil {
			return nil, fmt.Errorf("apply valid session: %w", err)
		}
		res.Session = open
		res.DurationSeconds = secs
	}

	log := &entity.ScanLog{
		ID:            utilities.NewKSUID(),
		EventID:       &ev.ID,
		ParticipantID: &p.ID,
		ScanTime:      now,
		ScanType:      action.scanType(),
		Status:        entity.OutcomeSuccess,
		OperatorID:    op.ID,
		OperatorType:  op.Kind,
	}
	if err := repo.NewScanLogRepo(tx).Append(ctx, log); err != nil {
		return nil, fmt.Errorf("append scan log: %w", err)
	}
	return res, nil
}

// audit records a failed scan outside the rolled back transaction. It runs
// even when the request context is already cancelled.
func (s *Service) audit(ctx context.Context, op operator.Operator, req ScanRequest, participantID *int64, at time.Time, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	reason := cause.Error()
	log := &entity.ScanLog{
		ID:            utilities.NewKSUID(),
		ParticipantID: participantID,
		ScanTime:      at,
		ScanType:      Action(req.ScanType).scanType(),
		Status:        entity.OutcomeFailed,
		FailureReason: &reason,
		OperatorID:    op.ID,
		OperatorType:  op.Kind,
	}
	if req.EventID > 0 {
		eventID := req.EventID
		log.EventID = &eventID
	}
	if err := repo.NewScanLogRepo(s.db).Append(ctx, log); err != nil {
		s.logger.Errorw("failed scan not audited", utilities.FieldEventID, req.EventID, utilities.FieldError, err)
	}

	lg := s.logger.Warnw
	if !isExpected(cause) {
		lg = s.logger.Errorw
	}
	lg("scan rejected",
		utilities.FieldEventID, req.EventID,
		utilities.FieldOperatorID, op.ID,
		utilities.FieldOperatorType, op.Kind,
		utilities.FieldError, cause,
	)
}

// publish mirrors a committed transition into the presence cache.
func (s *Service) publish(ctx context.Context, eventID int64, res *ScanResult) {
	var err error
	switch res.Action {
	case ActionIn:
		err = s.presence.CheckedIn(ctx, eventID, res.Participant.ID)
	case ActionOut:
		err = s.presence.CheckedOut(ctx, eventID, res.Participant.ID)
	}
	if err != nil {
		s.logger.Warnw("presence update failed", utilities.FieldEventID, eventID, utilities.FieldError, err)
	}
}

// FlagErroneous marks a scan log row as erroneous.
func (s *Service) FlagErroneous(ctx context.Context, id, reason string) error {
	err := repo.NewScanLogRepo(s.db).FlagErroneous(ctx, id, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrScanLogNotFound
	}
	return err
}

func (s *Service) day(t time.Time) time.Time {
	y, m, d := t.In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// classify maps store failures onto the scan error taxonomy.
func classify(err error) error {
	switch {
	case isExpected(err):
		return err
	case database.IsUniqueViolation(err, repo.OpenSessionIndex):
		return ErrDuplicateCheckIn
	case database.IsRetryable(err):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

func isExpected(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrEventNotFound, ErrEventNotActive, ErrParticipantNotFound,
		ErrDuplicateScan, ErrDuplicateCheckIn, ErrScanTypeMismatch, ErrBusy,
		scantoken.ErrInvalidToken, scantoken.ErrExpiredToken, scantoken.ErrEventMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
