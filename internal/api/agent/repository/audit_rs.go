package agentRepository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"sahayak/internal/api/agent"
	"sahayak/internal/entity"
	contextPkg "sahayak/pkg/context"
)

type AuditLogDB struct {
	ID          sql.NullString `db:"id"`
	UserID      sql.NullString `db:"user_id"`
	CommandText sql.NullString `db:"command_text"`
	ActionJSON  sql.NullString `db:"action_json"`
	Result      sql.NullString `db:"result"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r *auditRepository) CreateAuditLog(ctx context.Context, record entity.AuditLog) error {
	requestID := contextPkg.GetRequestID(ctx)

	actionJSON, err := json.Marshal(record.ActionJSON)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to marshal action plan")
		return err
	}

	argsKV := map[string]interface{}{
		"id":           record.ID,
		"user_id":      nullableString(record.UserID),
		"command_text": record.CommandText,
		"action_json":  string(actionJSON),
		"result":       record.Result,
		"created_at":   record.CreatedAt,
	}

	query, args, err := sqlx.Named(queryCreateAuditLog, argsKV)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to build SQL query for CreateAuditLog")
		return err
	}
	query = r.q.Rebind(query)

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Database error when creating audit log")
		return err
	}

	return nil
}

func (r *auditRepository) GetAuditLogByID(ctx context.Context, id string) (entity.AuditLog, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var recordDB AuditLogDB

	query, args, err := sqlx.Named(queryGetAuditLogByID, map[string]interface{}{"id": id})
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetAuditLogByID named query preparation err")
		return entity.AuditLog{}, err
	}
	query = r.q.Rebind(query)

	if err := r.q.QueryRowxContext(ctx, query, args...).StructScan(&recordDB); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.AuditLog{}, agent.ErrAuditLogNotFound
		}
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetAuditLogByID execution err")
		return entity.AuditLog{}, err
	}

	return r.makeAuditLog(recordDB), nil
}

func (r *auditRepository) GetAuditLogsByUserID(ctx context.Context, userID string, limit, offset int) ([]entity.AuditLog, int, error) {
	requestID := contextPkg.GetRequestID(ctx)
	var recordsDB []AuditLogDB
	var total int

	countQuery, countArgs, err := sqlx.Named(queryCountAuditLogsByUserID,
		map[string]interface{}{"user_id": userID})
	if err != nil {
		return nil, 0, err
	}
	countQuery = r.q.Rebind(countQuery)

	if err := r.q.QueryRowxContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetAuditLogsByUserID count err")
		return nil, 0, err
	}

	query, args, err := sqlx.Named(queryGetAuditLogsByUserID, map[string]interface{}{
		"user_id": userID,
		"limit":   limit,
		"offset":  offset,
	})
	if err != nil {
		return nil, 0, err
	}
	query = r.q.Rebind(query)

	if err := r.q.SelectContext(ctx, &recordsDB, query, args...); err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("GetAuditLogsByUserID execution err")
		return nil, 0, err
	}

	records := make([]entity.AuditLog, 0, len(recordsDB))
	for _, recordDB := range recordsDB {
		records = append(records, r.makeAuditLog(recordDB))
	}

	return records, total, nil
}

func (r *auditRepository) UpdateAuditResult(ctx context.Context, id string, result string) error {
	requestID := contextPkg.GetRequestID(ctx)

	query, args, err := sqlx.Named(queryUpdateAuditResult, map[string]interface{}{
		"id":     id,
		"result": result,
	})
	if err != nil {
		return err
	}
	query = r.q.Rebind(query)

	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Database error when updating audit result")
		return err
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return agent.ErrAuditLogNotFound
	}

	return nil
}

func (r *auditRepository) makeAuditLog(recordDB AuditLogDB) entity.AuditLog {
	record := entity.AuditLog{
		ID:          recordDB.ID.String,
		UserID:      recordDB.UserID.String,
		CommandText: recordDB.CommandText.String,
		Result:      recordDB.Result.String,
		CreatedAt:   recordDB.CreatedAt,
	}

	if recordDB.ActionJSON.Valid && recordDB.ActionJSON.String != "" {
		if err := json.Unmarshal([]byte(recordDB.ActionJSON.String), &record.ActionJSON); err != nil {
			r.log.WithFields(logrus.Fields{
				"audit_id": record.ID,
				"error":    err.Error(),
			}).Warn("Failed to unmarshal stored action plan")
		}
	}

	return record
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
