package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldRobotID   = "robot_id"
	FieldBldgID    = "bldg_id"
	FieldResource  = "resource_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldBackend   = "backend"

	// Lease fields
	FieldLockedBy      = "locked_by"
	FieldLockedTime    = "locked_time_ms"
	FieldExpiration    = "expiration_time_ms"
	FieldMaxExpiration = "max_expiration_time_ms"
	FieldResult        = "result"
)
