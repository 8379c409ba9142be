package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
)

// ScanLogRepo appends audit rows. Rows are never changed except to flag them
// as erroneous.
type ScanLogRepo struct {
	db sqlx.ExtContext
}

func NewScanLogRepo(db sqlx.ExtContext) *ScanLogRepo { return &ScanLogRepo{db: db} }

func (r *ScanLogRepo) Append(ctx context.Context, l *entity.ScanLog) error {
	const q = `INSERT INTO scan_logs (id, event_id, participant_id, scan_time, scan_type, status, failure_reason, operator_id, operator_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q, l.ID, l.EventID, l.ParticipantID, l.ScanTime, l.ScanType, l.Status,
		l.FailureReason, l.OperatorID, l.OperatorType)
	return err
}

// FlagErroneous marks a row as erroneous. It returns sql.ErrNoRows when the
// row does not exist.
func (r *ScanLogRepo) FlagErroneous(ctx context.Context, id, reason string) error {
	const q = `UPDATE scan_logs SET is_erroneous=true, erroneous_reason=$2 WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, reason)
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
	return nil
}
