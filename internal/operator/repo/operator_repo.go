package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
)

// OperatorRepo answers identity questions against the users and volunteers
// tables. Both tables are owned by the identity service; only status is read.
type OperatorRepo struct {
	db sqlx.QueryerContext
}

func NewOperatorRepo(db sqlx.QueryerContext) *OperatorRepo { return &OperatorRepo{db: db} }

// Status returns the account status of op, or sql.ErrNoRows if it does not exist.
func (r *OperatorRepo) Status(ctx context.Context, op entity.Operator) (string, error) {
	var q string
	switch op.Kind {
	case entity.KindUser:
		q = `SELECT status FROM users WHERE id=$1`
	case entity.KindVolunteer:
		q = `SELECT status FROM volunteers WHERE id=$1`
	default:
		return "", fmt.Errorf("%w: %q", entity.ErrUnknownKind, op.Kind)
	}
	var status string
	if err := sqlx.GetContext(ctx, r.db, &status, q, op.ID); err != nil {
		return "", err
	}
	return status, nil
}

// IsActive reports whether op exists and is active.
func (r *OperatorRepo) IsActive(ctx context.Context, op entity.Operator) (bool, error) {
	status, err := r.Status(ctx, op)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return status == "active", nil
}
