package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/participant/entity"
)

// ParticipantRepo reads the participant directory.
type ParticipantRepo struct {
	db sqlx.QueryerContext
}

func NewParticipantRepo(db sqlx.QueryerContext) *ParticipantRepo { return &ParticipantRepo{db: db} }

// FindActive returns the participant when it exists and is active, nil otherwise.
func (r *ParticipantRepo) FindActive(ctx context.Context, id int64) (*entity.Participant, error) {
	const q = `SELECT id, name, department, is_active FROM participants WHERE id=$1`
	var p entity.Participant
	if err := sqlx.GetContext(ctx, r.db, &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !p.IsActive {
		return nil, nil
	}
	return &p, nil
}
