package entity

import (
	"time"

	operator "github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
)

type ScanType string

const (
	ScanCheckIn  ScanType = "check-in"
	ScanCheckOut ScanType = "check-out"
	ScanOther    ScanType = "other"
)

type ScanOutcome string

const (
	OutcomeSuccess ScanOutcome = "success"
	OutcomeFailed  ScanOutcome = "failed"
)

// ScanLog is an append-only audit row for one scan attempt.
type ScanLog struct {
	ID              string        `db:"id" json:"id"`
	EventID         *int64        `db:"event_id" json:"eventId,omitempty"`
	ParticipantID   *int64        `db:"participant_id" json:"participantId,omitempty"`
	ScanTime        time.Time     `db:"scan_time" json:"scanTime"`
	ScanType        ScanType      `db:"scan_type" json:"scanType"`
	Status          ScanOutcome   `db:"status" json:"status"`
	FailureReason   *string       `db:"failure_reason" json:"failureReason,omitempty"`
	OperatorID      int64         `db:"operator_id" json:"operatorId"`
	OperatorType    operator.Kind `db:"operator_type" json:"operatorType"`
	IsErroneous     bool          `db:"is_erroneous" json:"isErroneous"`
	ErroneousReason *string       `db:"erroneous_reason" json:"erroneousReason,omitempty"`
}
