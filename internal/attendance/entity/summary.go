package entity

import "time"

// Summary is the running per-(event, participant) aggregate. It is derived
// from the ledger and never decides whether someone is checked in.
type Summary struct {
	EventID                int64         `db:"event_id" json:"eventId"`
	ParticipantID          int64         `db:"participant_id" json:"participantId"`
	TotalValidDuration     int64         `db:"total_valid_duration" json:"totalValidDuration"`
	TotalNullifiedDuration int64         `db:"total_nullified_duration" json:"totalNullifiedDuration"`
	TotalSessions          int           `db:"total_sessions" json:"totalSessions"`
	NullifiedSessions      int           `db:"nullified_sessions" json:"nullifiedSessions"`
	LastCheckInTime        *time.Time    `db:"last_check_in_time" json:"lastCheckInTime,omitempty"`
	CurrentStatus          SessionStatus `db:"current_status" json:"currentStatus"`
	HasImproperCheckouts   bool          `db:"has_improper_checkouts" json:"hasImproperCheckouts"`
	LastActivityDate       *time.Time    `db:"last_activity_date" json:"lastActivityDate,omitempty"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updatedAt"`
}

// LedgerTotals are the summary figures recomputed from the ledger.
type LedgerTotals struct {
	ParticipantID          int64 `db:"participant_id" json:"participantId"`
	TotalValidDuration     int64 `db:"total_valid_duration" json:"totalValidDuration"`
	TotalNullifiedDuration int64 `db:"total_nullified_duration" json:"totalNullifiedDuration"`
	TotalSessions          int   `db:"total_sessions" json:"totalSessions"`
	NullifiedSessions      int   `db:"nullified_sessions" json:"nullifiedSessions"`
	OpenSessions           int   `db:"open_sessions" json:"openSessions"`
}

// Drift is a mismatch between a stored summary and its ledger totals.
type Drift struct {
	EventID       int64        `json:"eventId"`
	ParticipantID int64        `json:"participantId"`
	Stored        LedgerTotals `json:"stored"`
	Ledger        LedgerTotals `json:"ledger"`
	MissingRow    bool         `json:"missingRow"`
}

// Matches reports whether the stored figures agree with the ledger.
func (t LedgerTotals) Matches(o LedgerTotals) bool {
	return t.TotalValidDuration == o.TotalValidDuration &&
		t.TotalNullifiedDuration == o.TotalNullifiedDuration &&
		t.TotalSessions == o.TotalSessions &&
		t.NullifiedSessions == o.NullifiedSessions
}
