package entity

// TopParticipant is one row of the valid-time ranking.
type TopParticipant struct {
	ParticipantID          int64  `db:"participant_id" json:"participantId"`
	Name                   string `db:"name" json:"name"`
	Department             string `db:"department" json:"department"`
	TotalValidDuration     int64  `db:"total_valid_duration" json:"totalValidDuration"`
	TotalNullifiedDuration int64  `db:"total_nullified_duration" json:"totalNullifiedDuration"`
	TotalSessions          int    `db:"total_sessions" json:"totalSessions"`
	NullifiedSessions      int    `db:"nullified_sessions" json:"nullifiedSessions"`
	HasImproperCheckouts   bool   `db:"has_improper_checkouts" json:"hasImproperCheckouts"`
	CurrentStatus          string `db:"current_status" json:"currentStatus"`
}

// DepartmentStat compares a department's enrolment with its attendance.
type DepartmentStat struct {
	Department           string  `db:"department" json:"department"`
	EnrolledCount        int     `db:"enrolled_count" json:"enrolledCount"`
	AttendedCount        int     `db:"attended_count" json:"attendedCount"`
	AttendancePercentage float64 `db:"-" json:"attendancePercentage"`
}

// Live is the number of participants currently checked in.
type Live struct {
	EventID   int64  `json:"eventId"`
	CheckedIn int64  `json:"checkedIn"`
	Source    string `json:"source"`
}
