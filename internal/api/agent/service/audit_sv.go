package agentService

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"sahayak/internal/api/agent"
	"sahayak/internal/entity"
	contextPkg "sahayak/pkg/context"
)

const maxCommandTextLen = 1024

// logCommand records the dispatched plan and indexes it under its plan id
// so a later EXECUTION_RESULT can patch the outcome. Audit failures are
// logged and swallowed; the user still gets their plan.
func (s *agentService) logCommand(ctx context.Context, userID string, transcript string, plan *entity.ActionPlan) {
	requestID := contextPkg.GetRequestID(ctx)

	auditID, err := s.utils.NewULIDFromTimestamp(time.Now())
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to generate audit id")
		return
	}

	if len(transcript) > maxCommandTextLen {
		transcript = transcript[:maxCommandTextLen]
	}

	actionJSON := map[string]interface{}{
		"plan_id": plan.PlanID,
		"steps":   plan.Steps,
		"meta":    plan.Meta,
	}

	repoClient, err := s.agentRepo.NewClient(false)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to create repository client")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()

	record := entity.AuditLog{
		ID:          auditID,
		UserID:      userID,
		CommandText: transcript,
		ActionJSON:  actionJSON,
		Result:      entity.AuditResultDispatched,
		CreatedAt:   time.Now().UTC(),
	}

	if err := repoClient.AuditLogs.CreateAuditLog(writeCtx, record); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"user_id":    userID,
			"plan_id":    plan.PlanID,
			"error":      err.Error(),
		}).Error("Failed to write audit record")
		return
	}

	s.pendingMu.Lock()
	s.pending[plan.PlanID] = pendingAudit{auditID: auditID, userID: userID}
	s.pendingMu.Unlock()
}

// popPending removes and returns the pending entry for the plan, but only
// when it belongs to userID; another user's result must not consume it.
func (s *agentService) popPending(planID, userID string) (pendingAudit, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	entry, ok := s.pending[planID]
	if !ok || entry.userID != userID {
		return pendingAudit{}, false
	}
	delete(s.pending, planID)
	return entry, true
}

func (s *agentService) updateResult(ctx context.Context, auditID string, result string) {
	repoClient, err := s.agentRepo.NewClient(false)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"error":      err.Error(),
		}).Error("Failed to create repository client")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()

	if err := repoClient.AuditLogs.UpdateAuditResult(writeCtx, auditID, result); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"audit_id":   auditID,
			"result":     result,
			"error":      err.Error(),
		}).Error("Failed to update audit result")
	}
}

// CleanupUser runs when a connection goes away. Pending audit entries for
// the user are dropped so the index cannot grow across reconnect cycles;
// their audit records keep the "dispatched" result permanently.
func (s *agentService) CleanupUser(userID string) {
	s.assembler.Discard(userID)

	s.ctxMu.Lock()
	delete(s.contexts, userID)
	s.ctxMu.Unlock()

	s.pendingMu.Lock()
	for planID, entry := range s.pending {
		if entry.userID == userID {
			delete(s.pending, planID)
		}
	}
	s.pendingMu.Unlock()
}

func (s *agentService) GetCommandHistory(ctx context.Context, userID string, page, limit int) ([]agent.CommandHistoryEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	repoClient, err := s.agentRepo.NewClient(false)
	if err != nil {
		return nil, 0, err
	}

	records, total, err := repoClient.AuditLogs.GetAuditLogsByUserID(ctx, userID, limit, offset)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"user_id":    userID,
			"error":      err.Error(),
		}).Error("Failed to fetch command history")
		return nil, 0, err
	}

	entries := make([]agent.CommandHistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, agent.CommandHistoryEntry{
			ID:          record.ID,
			CommandText: record.CommandText,
			ActionJSON:  record.ActionJSON,
			Result:      record.Result,
			CreatedAt:   record.CreatedAt.Format(time.RFC3339),
		})
	}

	return entries, total, nil
}
