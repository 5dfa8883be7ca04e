package agentRepository

const (
	queryCreateAuditLog = `
		INSERT INTO audit_logs (
			id, user_id, command_text, action_json, result, created_at
		) VALUES (
			:id, :user_id, :command_text, :action_json, :result, :created_at
		)
	`

	queryGetAuditLogByID = `
		SELECT
			id, user_id, command_text, action_json, result, created_at
		FROM audit_logs
		WHERE id = :id
	`

	queryGetAuditLogsByUserID = `
		SELECT
			id, user_id, command_text, action_json, result, created_at
		FROM audit_logs
		WHERE user_id = :user_id
		ORDER BY created_at DESC
		LIMIT :limit OFFSET :offset
	`

	queryCountAuditLogsByUserID = `
		SELECT COUNT(*)
		FROM audit_logs
		WHERE user_id = :user_id
	`

	queryUpdateAuditResult = `
		UPDATE audit_logs
		SET result = :result
		WHERE id = :id
	`
)
