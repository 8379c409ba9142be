package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/event/entity"
)

const eventColumns = `id, name, starts_at, ends_at, is_active, manually_started, manually_ended, created_at, updated_at`

// EventRepo reads and flips event lifecycle flags. It accepts either the
// pool or a transaction.
type EventRepo struct {
	db sqlx.ExtContext
}

func NewEventRepo(db sqlx.ExtContext) *EventRepo { return &EventRepo{db: db} }

// Get returns the event or sql.ErrNoRows.
func (r *EventRepo) Get(ctx context.Context, id int64) (*entity.Event, error) {
	return r.get(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id)
}

// GetForShare reads the event under a shared row lock. Scans hold it so a
// concurrent force-end waits for them and new scans wait for the force-end.
func (r *EventRepo) GetForShare(ctx context.Context, id int64) (*entity.Event, error) {
	return r.get(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1 FOR SHARE`, id)
}

// GetForUpdate reads the event under an exclusive row lock.
func (r *EventRepo) GetForUpdate(ctx context.Context, id int64) (*entity.Event, error) {
	return r.get(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1 FOR UPDATE`, id)
}

func (r *EventRepo) get(ctx context.Context, q string, id int64) (*entity.Event, error) {
	var e entity.Event
	if err := sqlx.GetContext(ctx, r.db, &e, q, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveFlags persists the lifecycle flags of e.
func (r *EventRepo) SaveFlags(ctx context.Context, e *entity.Event, at time.Time) error {
	const q = `UPDATE events SET is_active=$2, manually_started=$3, manually_ended=$4, updated_at=$5 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, e.ID, e.IsActive, e.ManuallyStarted, e.ManuallyEnded, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	e.UpdatedAt = at
	return nil
}

// ActivateDue marks scheduled events whose window contains now as active and
// returns their ids. Manually ended events are left alone.
func (r *EventRepo) ActivateDue(ctx context.Context, now time.Time) ([]int64, error) {
	const q = `UPDATE events SET is_active=true, updated_at=$1
		WHERE NOT is_active AND NOT manually_ended AND starts_at <= $1 AND ends_at > $1
		RETURNING id`
	var ids []int64
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, now); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListWindowClosed returns active, not manually started events whose window
// ended at or before now.
func (r *EventRepo) ListWindowClosed(ctx context.Context, now time.Time) ([]int64, error) {
	const q = `SELECT id FROM events
		WHERE is_active AND NOT manually_ended AND NOT manually_started AND ends_at <= $1
		ORDER BY id`
	var ids []int64
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, now); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListActiveIDs returns the ids of events currently accepting scans.
func (r *EventRepo) ListActiveIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := sqlx.SelectContext(ctx, r.db, &ids, `SELECT id FROM events WHERE is_active AND NOT manually_ended ORDER BY id`); err != nil {
		return nil, err
	}
	return ids, nil
}

// IsNotFound reports whether err means the event row does not exist.
func IsNotFound(err error) bool { return errors.Is(err, sql.ErrNoRows) }
