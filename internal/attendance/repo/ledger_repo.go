package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
)

// OpenSessionIndex is the partial unique index enforcing one open session
// per (event, participant).
const OpenSessionIndex = "uq_attendance_sessions_open"

// ErrSessionNotOpen is returned when closing a session that is no longer open.
var ErrSessionNotOpen = errors.New("session is not open")

const sessionColumns = `id, event_id, participant_id, check_in_time, check_out_time, status,
	is_nullified, nullified_duration, nullified_reason, event_stop_time, created_at, updated_at`

// LedgerRepo owns the attendance_sessions table.
type LedgerRepo struct {
	db sqlx.ExtContext
}

func NewLedgerRepo(db sqlx.ExtContext) *LedgerRepo { return &LedgerRepo{db: db} }

// OpenSession returns the checked-in session for the pair, or nil.
func (r *LedgerRepo) OpenSession(ctx context.Context, eventID, participantID int64) (*entity.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM attendance_sessions
		WHERE event_id=$1 AND participant_id=$2 AND status='checked-in' LIMIT 1 FOR UPDATE`
	var s entity.Session
	if err := sqlx.GetContext(ctx, r.db, &s, q, eventID, participantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// LastTransition returns the latest check-in or check-out time recorded for
// the pair, or the zero time when the pair has no sessions.
func (r *LedgerRepo) LastTransition(ctx context.Context, eventID, participantID int64) (time.Time, error) {
	const q = `SELECT MAX(GREATEST(check_in_time, COALESCE(check_out_time, check_in_time)))
		FROM attendance_sessions WHERE event_id=$1 AND participant_id=$2`
	var t sql.NullTime
	if err := sqlx.GetContext(ctx, r.db, &t, q, eventID, participantID); err != nil {
		return time.Time{}, err
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

// Insert appends a new open session.
func (r *LedgerRepo) Insert(ctx context.Context, s *entity.Session) error {
	const q = `INSERT INTO attendance_sessions (id, event_id, participant_id, check_in_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	_, err := r.db.ExecContext(ctx, q, s.ID, s.EventID, s.ParticipantID, s.CheckInTime, s.Status, s.CreatedAt)
	return err
}

// Close persists a session closed by a matching check-out scan.
func (r *LedgerRepo) Close(ctx context.Context, s *entity.Session) error {
	const q = `UPDATE attendance_sessions SET check_out_time=$2, status=$3, updated_at=$4
		WHERE id=$1 AND status='checked-in'`
	res, err := r.db.ExecContext(ctx, q, s.ID, s.CheckOutTime, s.Status, s.UpdatedAt)
	return expectOne(res, err)
}

// OpenSessionsForUpdate locks and returns every open session of the event.
func (r *LedgerRepo) OpenSessionsForUpdate(ctx context.Context, eventID int64) ([]entity.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM attendance_sessions
		WHERE event_id=$1 AND status='checked-in' ORDER BY id FOR UPDATE`
	var out []entity.Session
	if err := sqlx.SelectContext(ctx, r.db, &out, q, eventID); err != nil {
		return nil, err
	}
	return out, nil
}

// Nullify persists a session force-closed by the lifecycle controller.
func (r *LedgerRepo) Nullify(ctx context.Context, s *entity.Session) error {
	const q = `UPDATE attendance_sessions SET check_out_time=$2, event_stop_time=$3, status=$4,
		is_nullified=true, nullified_duration=$5, nullified_reason=$6, updated_at=$7
		WHERE id=$1 AND status='checked-in'`
	res, err := r.db.ExecContext(ctx, q, s.ID, s.CheckOutTime, s.EventStopTime, s.Status,
		s.NullifiedDuration, s.NullifiedReason, s.UpdatedAt)
	return expectOne(res, err)
}

// OpenParticipantIDs lists participants with an open session for the event.
func (r *LedgerRepo) OpenParticipantIDs(ctx context.Context, eventID int64) ([]int64, error) {
	var ids []int64
	const q = `SELECT participant_id FROM attendance_sessions WHERE event_id=$1 AND status='checked-in' ORDER BY participant_id`
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, eventID); err != nil {
		return nil, err
	}
	return ids, nil
}

// Totals recomputes the summary figures of every participant of the event
// from the ledger. Valid seconds are floored per session, matching Close.
func (r *LedgerRepo) Totals(ctx context.Context, eventID int64) ([]entity.LedgerTotals, error) {
	const q = `SELECT participant_id,
		COALESCE(SUM(FLOOR(EXTRACT(EPOCH FROM (check_out_time - check_in_time))))
			FILTER (WHERE status='checked-out'), 0)::bigint AS total_valid_duration,
		COALESCE(SUM(nullified_duration) FILTER (WHERE is_nullified), 0)::bigint AS total_nullified_duration,
		COUNT(*) FILTER (WHERE status<>'checked-in') AS total_sessions,
		COUNT(*) FILTER (WHERE is_nullified) AS nullified_sessions,
		COUNT(*) FILTER (WHERE status='checked-in') AS open_sessions
		FROM attendance_sessions WHERE event_id=$1
		GROUP BY participant_id ORDER BY participant_id`
	var out []entity.LedgerTotals
	if err := sqlx.SelectContext(ctx, r.db, &out, q, eventID); err != nil {
		return nil, err
	}
	return out, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: %d rows updated", ErrSessionNotOpen, n)
	}
	return nil
}
