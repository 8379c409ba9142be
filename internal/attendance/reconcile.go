package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/attendance/repo"
	eventrepo "github.com/ovaphlow/pitchfork/service-attendance/internal/event/repo"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/database"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

// Reconciler compares stored summaries with totals recomputed from the ledger.
type Reconciler struct {
	db     *sqlx.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewReconciler(db *sqlx.DB, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{db: db, logger: logger, now: time.Now}
}

// Check reports drift for the event without changing anything. Both sides
// are read from one repeatable-read snapshot.
func (r *Reconciler) Check(ctx context.Context, eventID int64) ([]entity.Drift, error) {
	var out []entity.Drift
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := database.WithTx(ctx, r.db, opts, func(tx *sqlx.Tx) error {
		d, err := drift(ctx, tx, eventID)
		out = d
		return err
	})
	return out, err
}

// Fix overwrites drifted summaries with ledger totals. The event row is
// locked for update so no scan or force-end interleaves with the repair.
func (r *Reconciler) Fix(ctx context.Context, eventID int64) ([]entity.Drift, error) {
	var out []entity.Drift
	err := database.WithTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := eventrepo.NewEventRepo(tx).GetForUpdate(ctx, eventID); err != nil {
			if eventrepo.IsNotFound(err) {
				return ErrEventNotFound
			}
			return err
		}
		d, err := drift(ctx, tx, eventID)
		if err != nil {
			return err
		}
		at := r.now().UTC()
		summaries := repo.NewSummaryRepo(tx)
		for _, x := range d {
			if err := summaries.Overwrite(ctx, eventID, x.Ledger, at); err != nil {
				return fmt.Errorf("overwrite participant %d: %w", x.ParticipantID, err)
			}
			r.logger.Warnw("summary repaired",
				utilities.FieldEventID, eventID,
				utilities.FieldParticipantID, x.ParticipantID,
				"stored_sessions", x.Stored.TotalSessions,
				"ledger_sessions", x.Ledger.TotalSessions,
			)
		}
		out = d
		return nil
	})
	return out, err
}

func drift(ctx context.Context, db sqlx.ExtContext, eventID int64) ([]entity.Drift, error) {
	ledger, err := repo.NewLedgerRepo(db).Totals(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	stored, err := repo.NewSummaryRepo(db).StoredTotals(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("stored totals: %w", err)
	}
	return Compare(eventID, stored, ledger), nil
}

// Compare returns one Drift per participant whose stored totals differ from
// the ledger, including ledger participants without a summary row.
func Compare(eventID int64, stored, ledger []entity.LedgerTotals) []entity.Drift {
	byID := make(map[int64]entity.LedgerTotals, len(stored))
	for _, s := range stored {
		byID[s.ParticipantID] = s
	}
	var out []entity.Drift
	for _, l := range ledger {
		s, ok := byID[l.ParticipantID]
		delete(byID, l.ParticipantID)
		if ok && s.Matches(l) {
			continue
		}
		out = append(out, entity.Drift{EventID: eventID, ParticipantID: l.ParticipantID, Stored: s, Ledger: l, MissingRow: !ok})
	}
	for _, s := range stored {
		if _, left := byID[s.ParticipantID]; !left {
			continue
		}
		zero := entity.LedgerTotals{ParticipantID: s.ParticipantID}
		if s.Matches(zero) {
			continue
		}
		out = append(out, entity.Drift{EventID: eventID, ParticipantID: s.ParticipantID, Stored: s, Ledger: zero})
	}
	return out
}
