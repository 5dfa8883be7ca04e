package entity

import "time"

// AuditLog is the durable record of one dispatched voice command.
// Result starts as "dispatched" and is patched at most once when the
// matching EXECUTION_RESULT arrives.
type AuditLog struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	CommandText string                 `json:"command_text"`
	ActionJSON  map[string]interface{} `json:"action_json"`
	Result      string                 `json:"result"`
	CreatedAt   time.Time              `json:"created_at"`
}

const (
	AuditResultDispatched = "dispatched"
	AuditResultSuccess    = "success"
	AuditResultError      = "error"
)
