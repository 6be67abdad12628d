package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields propagated through context
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldComponent  = "component"
	FieldBatchID    = "batch_id"
	FieldPhase      = "phase"
	FieldUnitID     = "unit_id"
	FieldDocumentID = "document_id"
	FieldUserID     = "user_id"
	FieldTaskID     = "task_id"
)

// Metric fields
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldStage      = "stage"
)
