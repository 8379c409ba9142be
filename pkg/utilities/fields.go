package utilities

// Standard field names for consistent logging.
const (
	FieldService       = "service"
	FieldRequestID     = "request_id"
	FieldEventID       = "event_id"
	FieldParticipantID = "participant_id"
	FieldSessionID     = "session_id"
	FieldOperatorID    = "operator_id"
	FieldOperatorType  = "operator_type"
	FieldAction        = "action"
	FieldError         = "err"
)
