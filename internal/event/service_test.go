package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
)

var (
	testNow     = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	eventCols   = []string{"id", "name", "starts_at", "ends_at", "is_active", "manually_started", "manually_ended", "created_at", "updated_at"}
	sessionCols = []string{"id", "event_id", "participant_id", "check_in_time", "check_out_time", "status",
		"is_nullified", "nullified_duration", "nullified_reason", "event_stop_time", "created_at", "updated_at"}
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tracker := presence.New(rdb, presence.Config{Prefix: "p", TTL: time.Hour})
	svc := NewService(sqlx.NewDb(mockDB, "postgres"), tracker, Config{LockTimeout: time.Second}, zap.NewNop().Sugar())
	svc.now = func() time.Time { return testNow }
	return svc, mock, mr
}

func eventRow(active, started, ended bool) *sqlmock.Rows {
	return sqlmock.NewRows(eventCols).AddRow(int64(5), "Open day", testNow.Add(-time.Hour), testNow.Add(time.Hour),
		active, started, ended, testNow.Add(-48*time.Hour), testNow.Add(-48*time.Hour))
}

func expectEventLocked(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM events WHERE id=\$1 FOR UPDATE`).WithArgs(int64(5)).WillReturnRows(rows)
}

func TestEndNullifiesOpenSessions(t *testing.T) {
	svc, mock, mr := newTestService(t)
	mr.SAdd("p:5", "9", "10")

	in9 := testNow.Add(-600 * time.Second)
	in10 := testNow.Add(-90 * time.Second)
	expectEventLocked(mock, eventRow(true, false, false))
	mock.ExpectQuery(`WHERE event_id=\$1 AND status='checked-in' ORDER BY id FOR UPDATE`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow(int64(1), int64(5), int64(9), in9, nil, "checked-in", false, nil, nil, nil, in9, in9).
			AddRow(int64(2), int64(5), int64(10), in10, nil, "checked-in", false, nil, nil, nil, in10, in10))
	mock.ExpectExec(`UPDATE attendance_sessions SET check_out_time=\$2, event_stop_time=\$3`).
		WithArgs(int64(1), testNow, testNow, "auto-checkout", int64(600), "event force-ended", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE attendance_sessions SET check_out_time=\$2, event_stop_time=\$3`).
		WithArgs(int64(2), testNow, testNow, "auto-checkout", int64(90), "event force-ended", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`nullified_sessions=attendance_summaries.nullified_sessions \+ EXCLUDED.nullified_sessions`).
		WithArgs(int64(5), int64(9), int64(600), 1, sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`nullified_sessions=attendance_summaries.nullified_sessions \+ EXCLUDED.nullified_sessions`).
		WithArgs(int64(5), int64(10), int64(90), 1, sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET is_active=\$2`).
		WithArgs(int64(5), false, false, true, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.End(context.Background(), 5)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if res.AlreadySatisfied || res.ClosedSessions != 2 || res.AffectedParticipants != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.NullifiedSeconds != 690 || res.NullifiedMinutes != 11.5 {
		t.Fatalf("nullified = %d s / %v min", res.NullifiedSeconds, res.NullifiedMinutes)
	}
	if res.EndedAt == nil || !res.EndedAt.Equal(testNow) {
		t.Fatalf("endedAt = %v", res.EndedAt)
	}
	if mr.Exists("p:5") {
		t.Fatal("presence set should be cleared after force-end")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEndOnEndedEventIsNoop(t *testing.T) {
	svc, mock, _ := newTestService(t)
	expectEventLocked(mock, eventRow(false, true, true))
	mock.ExpectCommit()

	res, err := svc.End(context.Background(), 5)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !res.AlreadySatisfied || res.ClosedSessions != 0 || res.EndedAt != nil {
		t.Fatalf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEndRollsBackOnFailure(t *testing.T) {
	svc, mock, _ := newTestService(t)
	in := testNow.Add(-time.Minute)
	expectEventLocked(mock, eventRow(true, false, false))
	mock.ExpectQuery(`status='checked-in' ORDER BY id FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(int64(1), int64(5), int64(9), in, nil, "checked-in", false, nil, nil, nil, in, in))
	mock.ExpectExec(`UPDATE attendance_sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO attendance_summaries`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := svc.End(context.Background(), 5); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEndWaitingTooLongIsBusy(t *testing.T) {
	svc, mock, _ := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM events WHERE id=\$1 FOR UPDATE`).WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	if _, err := svc.End(context.Background(), 5); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestStartAndRestart(t *testing.T) {
	t.Run("start scheduled", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectEventLocked(mock, eventRow(false, false, false))
		mock.ExpectExec(`UPDATE events SET is_active=\$2`).WithArgs(int64(5), true, true, false, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		res, err := svc.Start(context.Background(), 5)
		if err != nil || res.AlreadySatisfied || res.State != "active" {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})
	t.Run("start active is a no-op", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectEventLocked(mock, eventRow(true, false, false))
		mock.ExpectCommit()
		res, err := svc.Start(context.Background(), 5)
		if err != nil || !res.AlreadySatisfied {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})
	t.Run("start ended", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectEventLocked(mock, eventRow(false, true, true))
		mock.ExpectRollback()
		if _, err := svc.Start(context.Background(), 5); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("restart ended", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectEventLocked(mock, eventRow(false, true, true))
		mock.ExpectExec(`UPDATE events SET is_active=\$2`).WithArgs(int64(5), true, true, false, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		res, err := svc.Restart(context.Background(), 5)
		if err != nil || res.State != "active" {
			t.Fatalf("res=%+v err=%v", res, err)
		}
	})
	t.Run("restart active", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectEventLocked(mock, eventRow(true, false, false))
		mock.ExpectRollback()
		if _, err := svc.Restart(context.Background(), 5); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("missing event", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectBegin()
		mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`FROM events WHERE id=\$1 FOR UPDATE`).WillReturnRows(sqlmock.NewRows(eventCols))
		mock.ExpectRollback()
		if _, err := svc.Start(context.Background(), 5); !errors.Is(err, ErrEventNotFound) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestActivateDue(t *testing.T) {
	svc, mock, _ := newTestService(t)
	mock.ExpectQuery(`UPDATE events SET is_active=true`).WithArgs(testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(4)))
	ids, err := svc.ActivateDue(context.Background())
	if err != nil || len(ids) != 2 || ids[0] != 3 {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
}

func TestEndDueClosesLapsedWindows(t *testing.T) {
	svc, mock, mr := newTestService(t)
	mr.SAdd("p:5", "9")
	lapsed := func(id int64, manuallyStarted bool) *sqlmock.Rows {
		return sqlmock.NewRows(eventCols).AddRow(id, "Open day", testNow.Add(-3*time.Hour), testNow.Add(-time.Minute),
			true, manuallyStarted, false, testNow.Add(-48*time.Hour), testNow.Add(-48*time.Hour))
	}
	in := testNow.Add(-300 * time.Second)

	mock.ExpectQuery(`SELECT id FROM events\s+WHERE is_active AND NOT manually_ended AND NOT manually_started AND ends_at <= \$1`).
		WithArgs(testNow).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)).AddRow(int64(6)))

	expectEventLocked(mock, lapsed(5, false))
	mock.ExpectQuery(`status='checked-in' ORDER BY id FOR UPDATE`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow(int64(1), int64(5), int64(9), in, nil, "checked-in", false, nil, nil, nil, in, in))
	mock.ExpectExec(`UPDATE attendance_sessions SET check_out_time=\$2, event_stop_time=\$3`).
		WithArgs(int64(1), testNow, testNow, "auto-checkout", int64(300), "event window closed", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`nullified_sessions=attendance_summaries.nullified_sessions \+ EXCLUDED.nullified_sessions`).
		WithArgs(int64(5), int64(9), int64(300), 1, sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET is_active=\$2`).WithArgs(int64(5), false, false, true, testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// restarted by an operator between the listing and the lock
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM events WHERE id=\$1 FOR UPDATE`).WithArgs(int64(6)).WillReturnRows(lapsed(6, true))
	mock.ExpectCommit()

	ended, err := svc.EndDue(context.Background())
	if err != nil {
		t.Fatalf("EndDue: %v", err)
	}
	if len(ended) != 1 || ended[0] != 5 {
		t.Fatalf("ended = %v", ended)
	}
	if mr.Exists("p:5") {
		t.Fatal("presence set should be cleared after the window closes")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestEndDueReportsBusyEvents(t *testing.T) {
	svc, mock, _ := newTestService(t)
	mock.ExpectQuery(`ends_at <= \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM events WHERE id=\$1 FOR UPDATE`).WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	ended, err := svc.EndDue(context.Background())
	if !errors.Is(err, ErrBusy) || len(ended) != 0 {
		t.Fatalf("ended=%v err=%v", ended, err)
	}
}
