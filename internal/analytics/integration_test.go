package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/analytics/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/testdb"
)

func TestIntegrationDepartmentPercentage(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	eventID := testdb.Event(t, db, true)
	dept := fmt.Sprintf("D-%d", time.Now().UnixNano())

	for i := 0; i < 100; i++ {
		pid := testdb.Participant(t, db, dept)
		if i >= 40 {
			continue
		}
		if _, err := db.Exec(`INSERT INTO attendance_sessions (id, event_id, participant_id, check_in_time, check_out_time, status)
			VALUES ($1, $2, $3, NOW() - interval '10 minutes', NOW(), 'checked-out')`, time.Now().UnixNano()+int64(i), eventID, pid); err != nil {
			t.Fatal(err)
		}
	}

	svc := NewService(repo.NewAnalyticsRepo(db), nil, zap.NewNop().Sugar())
	stats, err := svc.DepartmentStats(ctx, eventID, NewPage(0, MaxLimit))
	if err != nil {
		t.Fatalf("DepartmentStats: %v", err)
	}
	for _, s := range stats {
		if s.Department != dept {
			continue
		}
		if s.EnrolledCount != 100 || s.AttendedCount != 40 || s.AttendancePercentage != 40.00 {
			t.Fatalf("stat = %+v", s)
		}
		return
	}
	t.Fatalf("department %s missing from %d rows", dept, len(stats))
}
