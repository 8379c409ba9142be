package event

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
	operator "github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
	participantrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/participant/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/scantoken"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/testdb"
)

func TestIntegrationForceEndNullifiesOpenTime(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	eventID := testdb.Event(t, db, true)
	pid := testdb.Participant(t, db, "Integration")
	stayed := testdb.Participant(t, db, "Integration")
	op := operator.Operator{Kind: operator.KindUser, ID: 1}

	cfg := scantoken.Config{Key: "integration", Issuer: "attendance-qr"}
	verifier, _ := scantoken.NewVerifier(cfg)
	signer := scantoken.NewSigner(cfg)
	scans := attendance.NewService(db, verifier, participantrepo.NewParticipantRepo(db), nil, attendance.Config{LockTimeout: time.Second}, zap.NewNop().Sugar())
	for _, p := range []int64{pid, stayed, stayed} {
		tok, _ := signer.Sign(scantoken.Identity{Kind: scantoken.KindParticipant, SubjectID: p, EventID: eventID}, time.Hour)
		if _, err := scans.Scan(ctx, op, attendance.ScanRequest{Token: tok, EventID: eventID}); err != nil {
			t.Fatalf("scan %d: %v", p, err)
		}
	}

	t0 := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	if _, err := db.Exec(`UPDATE attendance_sessions SET check_in_time=$3, created_at=$3 WHERE event_id=$1 AND participant_id=$2`, eventID, pid, t0); err != nil {
		t.Fatal(err)
	}

	svc := NewService(db, nil, Config{LockTimeout: time.Second}, zap.NewNop().Sugar())
	svc.now = func() time.Time { return t0.Add(600 * time.Second) }
	res, err := svc.End(ctx, eventID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if res.ClosedSessions != 1 || res.NullifiedSeconds != 600 || res.NullifiedMinutes != 10 || res.AffectedParticipants != 1 {
		t.Fatalf("result = %+v", res)
	}

	var sess entity.Session
	if err := db.Get(&sess, `SELECT id, event_id, participant_id, check_in_time, check_out_time, status, is_nullified,
		nullified_duration, nullified_reason, event_stop_time, created_at, updated_at
		FROM attendance_sessions WHERE event_id=$1 AND participant_id=$2`, eventID, pid); err != nil {
		t.Fatal(err)
	}
	if sess.Status != entity.StatusAutoCheckout || !sess.IsNullified || *sess.NullifiedDuration != 600 ||
		*sess.NullifiedReason != entity.NullifiedReasonForceEnd || sess.EventStopTime == nil {
		t.Fatalf("session = %+v", sess)
	}

	var sum struct {
		Nullified int64  `db:"total_nullified_duration"`
		Sessions  int    `db:"total_sessions"`
		Improper  bool   `db:"has_improper_checkouts"`
		Status    string `db:"current_status"`
	}
	if err := db.Get(&sum, `SELECT total_nullified_duration, total_sessions, has_improper_checkouts, current_status
		FROM attendance_summaries WHERE event_id=$1 AND participant_id=$2`, eventID, pid); err != nil {
		t.Fatal(err)
	}
	if sum.Nullified != 600 || sum.Sessions != 1 || !sum.Improper || sum.Status != "checked-out" {
		t.Fatalf("summary = %+v", sum)
	}

	again, err := svc.End(ctx, eventID)
	if err != nil || !again.AlreadySatisfied || again.ClosedSessions != 0 {
		t.Fatalf("second End = %+v, %v", again, err)
	}
	if err := db.Get(&sum.Nullified, `SELECT total_nullified_duration FROM attendance_summaries WHERE event_id=$1 AND participant_id=$2`, eventID, pid); err != nil || sum.Nullified != 600 {
		t.Fatalf("nullified after second End = %d, %v", sum.Nullified, err)
	}

	tok, _ := signer.Sign(scantoken.Identity{Kind: scantoken.KindParticipant, SubjectID: pid, EventID: eventID}, time.Hour)
	if _, err := scans.Scan(ctx, op, attendance.ScanRequest{Token: tok, EventID: eventID}); err == nil {
		t.Fatal("scan against an ended event should fail")
	}

	drift, err := attendance.NewReconciler(db, zap.NewNop().Sugar()).Check(ctx, eventID)
	if err != nil || len(drift) != 0 {
		t.Fatalf("drift=%+v err=%v", drift, err)
	}

	if _, err := svc.Restart(ctx, eventID); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if _, err := svc.Restart(ctx, eventID); err == nil {
		t.Fatal("restarting an active event should fail")
	}
}
