package entity

import "time"

// SessionStatus is the state of one check-in/check-out cycle.
type SessionStatus string

const (
	StatusCheckedIn    SessionStatus = "checked-in"
	StatusCheckedOut   SessionStatus = "checked-out"
	StatusAutoCheckout SessionStatus = "auto-checkout"
)

// Terminal reports whether s is a closed status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCheckedOut || s == StatusAutoCheckout
}

// Reasons recorded on sessions closed by an event end.
const (
	NullifiedReasonForceEnd     = "event force-ended"
	NullifiedReasonWindowClosed = "event window closed"
)

// Session is one row of the attendance ledger.
type Session struct {
	ID                int64         `db:"id" json:"id"`
	EventID           int64         `db:"event_id" json:"eventId"`
	ParticipantID     int64         `db:"participant_id" json:"participantId"`
	CheckInTime       time.Time     `db:"check_in_time" json:"checkInTime"`
	CheckOutTime      *time.Time    `db:"check_out_time" json:"checkOutTime,omitempty"`
	Status            SessionStatus `db:"status" json:"status"`
	IsNullified       bool          `db:"is_nullified" json:"isNullified"`
	NullifiedDuration *int64        `db:"nullified_duration" json:"nullifiedDuration,omitempty"`
	NullifiedReason   *string       `db:"nullified_reason" json:"nullifiedReason,omitempty"`
	EventStopTime     *time.Time    `db:"event_stop_time" json:"eventStopTime,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

// Seconds returns the whole seconds between from and to, never negative.
func Seconds(from, to time.Time) int64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Close marks the session checked out at t and returns its duration.
func (s *Session) Close(t time.Time) int64 {
	if t.Before(s.CheckInTime) {
		t = s.CheckInTime
	}
	s.CheckOutTime = &t
	s.Status = StatusCheckedOut
	s.UpdatedAt = t
	return Seconds(s.CheckInTime, t)
}

// Nullify force-closes the session at t and returns the nullified duration.
func (s *Session) Nullify(t time.Time, reason string) int64 {
	if t.Before(s.CheckInTime) {
		t = s.CheckInTime
	}
	secs := Seconds(s.CheckInTime, t)
	s.CheckOutTime = &t
	s.EventStopTime = &t
	s.Status = StatusAutoCheckout
	s.IsNullified = true
	s.NullifiedDuration = &secs
	s.NullifiedReason = &reason
	s.UpdatedAt = t
	return secs
}
