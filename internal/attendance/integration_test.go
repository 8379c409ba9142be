package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	operator "github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
	participantrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/participant/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/scantoken"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/testdb"
)

func TestIntegrationConcurrentScansKeepOneOpenSession(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	eventID := testdb.Event(t, db, true)
	pid := testdb.Participant(t, db, "Integration")
	op := operator.Operator{Kind: operator.KindVolunteer, ID: testdb.Volunteer(t, db)}

	verifier, _ := scantoken.NewVerifier(tokenCfg)
	token, err := scantoken.NewSigner(tokenCfg).Sign(scantoken.Identity{Kind: scantoken.KindParticipant, SubjectID: pid, EventID: eventID}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(db, verifier, participantrepo.NewParticipantRepo(db), presence.Nop{},
		Config{LockTimeout: 5 * time.Second}, zap.NewNop().Sugar())

	const scanners = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		checkIn int
	)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Scan(ctx, op, ScanRequest{Token: token, EventID: eventID})
			if err != nil {
				if !errors.Is(err, ErrBusy) {
					t.Errorf("scan: %v", err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ok++
			if res.Action == ActionIn {
				checkIn++
			}
		}()
	}
	wg.Wait()

	var open, closed int
	if err := db.Get(&open, `SELECT COUNT(*) FROM attendance_sessions WHERE event_id=$1 AND participant_id=$2 AND status='checked-in'`, eventID, pid); err != nil {
		t.Fatal(err)
	}
	if err := db.Get(&closed, `SELECT COUNT(*) FROM attendance_sessions WHERE event_id=$1 AND participant_id=$2 AND status<>'checked-in'`, eventID, pid); err != nil {
		t.Fatal(err)
	}
	if open > 1 {
		t.Fatalf("%d open sessions", open)
	}
	if open != ok%2 || closed != ok/2 || checkIn != (ok+1)/2 {
		t.Fatalf("ok=%d checkIns=%d open=%d closed=%d", ok, checkIn, open, closed)
	}

	var totalSessions int
	if err := db.Get(&totalSessions, `SELECT total_sessions FROM attendance_summaries WHERE event_id=$1 AND participant_id=$2`, eventID, pid); err != nil {
		t.Fatal(err)
	}
	if totalSessions != closed {
		t.Fatalf("summary total_sessions=%d ledger closed=%d", totalSessions, closed)
	}

	var logs int
	if err := db.Get(&logs, `SELECT COUNT(*) FROM scan_logs WHERE event_id=$1 AND operator_id=$2`, eventID, op.ID); err != nil {
		t.Fatal(err)
	}
	if logs != scanners {
		t.Fatalf("scan logs = %d, want one per scan (%d)", logs, scanners)
	}

	drift, err := NewReconciler(db, zap.NewNop().Sugar()).Check(ctx, eventID)
	if err != nil || len(drift) != 0 {
		t.Fatalf("drift=%+v err=%v", drift, err)
	}
}

func TestIntegrationToggleOrder(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	eventID := testdb.Event(t, db, true)
	pid := testdb.Participant(t, db, "Integration")
	op := operator.Operator{Kind: operator.KindVolunteer, ID: testdb.Volunteer(t, db)}

	verifier, _ := scantoken.NewVerifier(tokenCfg)
	token, _ := scantoken.NewSigner(tokenCfg).Sign(scantoken.Identity{Kind: scantoken.KindParticipant, SubjectID: pid, EventID: eventID}, time.Hour)
	svc := NewService(db, verifier, participantrepo.NewParticipantRepo(db), nil, Config{LockTimeout: time.Second}, zap.NewNop().Sugar())

	want := []Action{ActionIn, ActionOut, ActionIn, ActionOut}
	for i, w := range want {
		res, err := svc.Scan(ctx, op, ScanRequest{Token: token, EventID: eventID})
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if res.Action != w {
			t.Fatalf("scan %d action = %s, want %s", i, res.Action, w)
		}
		if res.DurationSeconds < 0 {
			t.Fatalf("negative duration %d", res.DurationSeconds)
		}
	}

	var sessions, open int
	_ = db.Get(&sessions, `SELECT COUNT(*) FROM attendance_sessions WHERE event_id=$1 AND participant_id=$2 AND status='checked-out' AND check_out_time >= check_in_time`, eventID, pid)
	_ = db.Get(&open, `SELECT COUNT(*) FROM attendance_sessions WHERE event_id=$1 AND participant_id=$2 AND status='checked-in'`, eventID, pid)
	if sessions != 2 || open != 0 {
		t.Fatalf("closed=%d open=%d", sessions, open)
	}
}
