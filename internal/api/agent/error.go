package agent

import "sahayak/pkg/response"

var (
	ErrInvalidToken        = response.NewError(401, "invalid or expired token")
	ErrRateLimitExceeded   = response.NewError(429, "rate limit exceeded")
	ErrTranscriptionFailed = response.NewError(500, "failed to transcribe audio")
	ErrPlanningFailed      = response.NewError(500, "failed to generate action plan")
	ErrSynthesisFailed     = response.NewError(502, "failed to synthesize speech")
	ErrAuditWriteFailed    = response.NewError(500, "failed to record command")
	ErrAuditLogNotFound    = response.NewError(404, "audit record not found")
	ErrMalformedFrame      = response.NewError(400, "malformed message frame")
)
