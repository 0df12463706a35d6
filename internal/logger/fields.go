package logger

// Fields is an alias for logrus-style structured fields.
type Fields map[string]interface{}

const (
	FieldComponent  = "component"
	FieldRunID      = "run_id"
	FieldQuery      = "query"
	FieldDealID     = "deal_id"
	FieldMissionID  = "mission_id"
	FieldActorID    = "actor_id"
	FieldSource     = "source"
	FieldOutcome    = "outcome"
	FieldReason     = "reason"
	FieldURL        = "url"
	FieldCount      = "count"
	FieldDurationMs = "duration_ms"
	FieldStatus     = "status"
)
