package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
)

const summaryColumns = `event_id, participant_id, total_valid_duration, total_nullified_duration,
	total_sessions, nullified_sessions, last_check_in_time, current_status,
	has_improper_checkouts, last_activity_date, updated_at`

// SummaryRepo is the aggregate store. Totals only ever move by increments;
// Overwrite exists for reconciliation.
type SummaryRepo struct {
	db sqlx.ExtContext
}

func NewSummaryRepo(db sqlx.ExtContext) *SummaryRepo { return &SummaryRepo{db: db} }

// Lock creates the pair's summary row if it is missing and takes a row lock
// on it for the rest of the transaction. All scans of the same pair
// serialize here; other pairs are unaffected.
func (r *SummaryRepo) Lock(ctx context.Context, eventID, participantID int64, day, at time.Time) (*entity.Summary, error) {
	const ins = `INSERT INTO attendance_summaries (event_id, participant_id, current_status, last_activity_date, updated_at)
		VALUES ($1, $2, 'checked-out', $3, $4) ON CONFLICT (event_id, participant_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, ins, eventID, participantID, day, at); err != nil {
		return nil, err
	}
	q := `SELECT ` + summaryColumns + ` FROM attendance_summaries WHERE event_id=$1 AND participant_id=$2 FOR UPDATE`
	var s entity.Summary
	if err := sqlx.GetContext(ctx, r.db, &s, q, eventID, participantID); err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns the summary or nil when the pair has none.
func (r *SummaryRepo) Get(ctx context.Context, eventID, participantID int64) (*entity.Summary, error) {
	q := `SELECT ` + summaryColumns + ` FROM attendance_summaries WHERE event_id=$1 AND participant_id=$2`
	var s entity.Summary
	if err := sqlx.GetContext(ctx, r.db, &s, q, eventID, participantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// MarkCheckedIn records a check-in on the pair's summary.
func (r *SummaryRepo) MarkCheckedIn(ctx context.Context, eventID, participantID int64, at, day time.Time) error {
	const q = `INSERT INTO attendance_summaries (event_id, participant_id, current_status, last_check_in_time, last_activity_date, updated_at)
		VALUES ($1, $2, 'checked-in', $3, $4, $3)
		ON CONFLICT (event_id, participant_id) DO UPDATE SET
			current_status='checked-in',
			last_check_in_time=EXCLUDED.last_check_in_time,
			last_activity_date=EXCLUDED.last_activity_date,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, eventID, participantID, at, day)
	return err
}

// ApplyValidSession adds one normally closed session of secs seconds.
func (r *SummaryRepo) ApplyValidSession(ctx context.Context, eventID, participantID, secs int64, at, day time.Time) error {
	const q = `INSERT INTO attendance_summaries (event_id, participant_id, total_valid_duration, total_sessions,
			current_status, last_activity_date, updated_at)
		VALUES ($1, $2, $3, 1, 'checked-out', $4, $5)
		ON CONFLICT (event_id, participant_id) DO UPDATE SET
			total_valid_duration=attendance_summaries.total_valid_duration + EXCLUDED.total_valid_duration,
			total_sessions=attendance_summaries.total_sessions + 1,
			current_status='checked-out',
			last_activity_date=EXCLUDED.last_activity_date,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, eventID, participantID, secs, day, at)
	return err
}

// ApplyNullifiedSession adds sessions force-closed sessions totalling secs
// seconds and marks the pair as having improper checkouts.
func (r *SummaryRepo) ApplyNullifiedSession(ctx context.Context, eventID, participantID, secs int64, sessions int, at, day time.Time) error {
	const q = `INSERT INTO attendance_summaries (event_id, participant_id, total_nullified_duration, nullified_sessions,
			total_sessions, has_improper_checkouts, current_status, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $4, true, 'checked-out', $5, $6)
		ON CONFLICT (event_id, participant_id) DO UPDATE SET
			total_nullified_duration=attendance_summaries.total_nullified_duration + EXCLUDED.total_nullified_duration,
			nullified_sessions=attendance_summaries.nullified_sessions + EXCLUDED.nullified_sessions,
			total_sessions=attendance_summaries.total_sessions + EXCLUDED.total_sessions,
			has_improper_checkouts=true,
			current_status='checked-out',
			last_activity_date=EXCLUDED.last_activity_date,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, eventID, participantID, secs, sessions, day, at)
	return err
}

// StoredTotals returns the summary figures of every participant of the event.
func (r *SummaryRepo) StoredTotals(ctx context.Context, eventID int64) ([]entity.LedgerTotals, error) {
	const q = `SELECT participant_id, total_valid_duration, total_nullified_duration, total_sessions, nullified_sessions,
		CASE WHEN current_status='checked-in' THEN 1 ELSE 0 END AS open_sessions
		FROM attendance_summaries WHERE event_id=$1 ORDER BY participant_id`
	var out []entity.LedgerTotals
	if err := sqlx.SelectContext(ctx, r.db, &out, q, eventID); err != nil {
		return nil, err
	}
	return out, nil
}

// Overwrite sets the pair's totals to t. Used only to repair drift.
func (r *SummaryRepo) Overwrite(ctx context.Context, eventID int64, t entity.LedgerTotals, at time.Time) error {
	status := entity.StatusCheckedOut
	if t.OpenSessions > 0 {
		status = entity.StatusCheckedIn
	}
	const q = `INSERT INTO attendance_summaries (event_id, participant_id, total_valid_duration, total_nullified_duration,
			total_sessions, nullified_sessions, has_improper_checkouts, current_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6 > 0, $7, $8)
		ON CONFLICT (event_id, participant_id) DO UPDATE SET
			total_valid_duration=EXCLUDED.total_valid_duration,
			total_nullified_duration=EXCLUDED.total_nullified_duration,
			total_sessions=EXCLUDED.total_sessions,
			nullified_sessions=EXCLUDED.nullified_sessions,
			has_improper_checkouts=attendance_summaries.has_improper_checkouts OR EXCLUDED.has_improper_checkouts,
			current_status=EXCLUDED.current_status,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, eventID, t.ParticipantID, t.TotalValidDuration, t.TotalNullifiedDuration,
		t.TotalSessions, t.NullifiedSessions, status, at)
	return err
}
