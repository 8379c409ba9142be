package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/analytics/entity"
)

// AnalyticsRepo runs plain reads; it never locks rows scanners write.
type AnalyticsRepo struct {
	db sqlx.QueryerContext
}

func NewAnalyticsRepo(db sqlx.QueryerContext) *AnalyticsRepo { return &AnalyticsRepo{db: db} }

func (r *AnalyticsRepo) TopParticipants(ctx context.Context, eventID int64, offset, limit int) ([]entity.TopParticipant, error) {
	const q = `SELECT s.participant_id, p.name, p.department, s.total_valid_duration, s.total_nullified_duration,
		s.total_sessions, s.nullified_sessions, s.has_improper_checkouts, s.current_status
		FROM attendance_summaries s JOIN participants p ON p.id = s.participant_id
		WHERE s.event_id=$1
		ORDER BY s.total_valid_duration DESC, s.participant_id ASC
		OFFSET $2 LIMIT $3`
	out := []entity.TopParticipant{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, eventID, offset, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// DepartmentStats counts active participants per department and how many of
// them have at least one session for the event.
func (r *AnalyticsRepo) DepartmentStats(ctx context.Context, eventID int64, offset, limit int) ([]entity.DepartmentStat, error) {
	const q = `WITH attended AS (
			SELECT DISTINCT participant_id FROM attendance_sessions WHERE event_id=$1
		)
		SELECT p.department, COUNT(*) AS enrolled_count, COUNT(a.participant_id) AS attended_count
		FROM participants p LEFT JOIN attended a ON a.participant_id = p.id
		WHERE p.is_active
		GROUP BY p.department
		ORDER BY COUNT(a.participant_id)::float8 / COUNT(*) DESC, p.department ASC
		OFFSET $2 LIMIT $3`
	out := []entity.DepartmentStat{}
	if err := sqlx.SelectContext(ctx, r.db, &out, q, eventID, offset, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckedIn counts open sessions for the event.
func (r *AnalyticsRepo) CheckedIn(ctx context.Context, eventID int64) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM attendance_sessions WHERE event_id=$1 AND status='checked-in'`, eventID)
	return n, err
}
