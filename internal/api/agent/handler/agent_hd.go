package agentHandler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/net/context"

	"sahayak/internal/api/agent"
	"sahayak/internal/middleware"
	contextPkg "sahayak/pkg/context"
	jwtPkg "sahayak/pkg/jwt"
	"sahayak/pkg/log"
)

func (h *AgentHandler) handleAgentWebSocket(c *websocket.Conn) {
	requestID, _ := h.utils.NewULIDFromTimestamp(time.Now())
	ctx := contextPkg.WithRequestID(context.Background(), requestID)

	userToken, err := jwtPkg.VerifyTokenString(c.Query("auth_token"), middleware.AccessTokenSecret)
	if err != nil {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("WebSocket auth failed")
		closeWithReason(c, websocket.ClosePolicyViolation, "invalid or expired token")
		return
	}

	user, err := jwtPkg.UserFromClaims(userToken)
	if err != nil {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("WebSocket auth failed")
		closeWithReason(c, websocket.ClosePolicyViolation, "invalid or expired token")
		return
	}

	if !h.limiter.CheckConnection(ctx, user.ID) {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"user_id":    user.ID,
		}).Warn("WebSocket connection rate limited")
		closeWithReason(c, websocket.ClosePolicyViolation, "connection rate limit exceeded")
		return
	}

	h.registry.Register(user.ID, c)
	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"user_id":    user.ID,
	}).Info("Agent WebSocket client connected")

	defer func() {
		h.registry.Unregister(user.ID, c)
		// A displaced connection unwinding here must not wipe the state
		// of its replacement.
		if !h.registry.IsConnected(user.ID) {
			h.agentService.CleanupUser(user.ID)
		}
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"user_id":    user.ID,
		}).Info("Agent WebSocket client disconnected")
	}()

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.WithFields(log.Fields{
					"request_id": requestID,
					"user_id":    user.ID,
					"error":      err.Error(),
				}).Warn("Agent WebSocket read error")
			}
			break
		}

		if !h.limiter.CheckMessage(ctx, user.ID) {
			h.log.WithFields(log.Fields{
				"request_id": requestID,
				"user_id":    user.ID,
			}).Debug("Message rate limited, frame dropped")
			continue
		}

		switch messageType {
		case websocket.BinaryMessage:
			h.agentService.HandleAudioChunk(ctx, user.ID, message)
		case websocket.TextMessage:
			h.dispatchFrame(ctx, user.ID, message)
		}
	}
}

// dispatchFrame routes one text frame. A malformed frame is logged and
// skipped; the session stays up.
func (h *AgentHandler) dispatchFrame(ctx context.Context, userID string, message []byte) {
	requestID := contextPkg.GetRequestID(ctx)

	var envelope agent.Envelope
	if err := jsoniter.Unmarshal(message, &envelope); err != nil {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"user_id":    userID,
			"error":      err.Error(),
		}).Warn("Malformed frame envelope")
		return
	}
	if err := h.validator.Struct(envelope); err != nil {
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"user_id":    userID,
			"error":      err.Error(),
		}).Warn("Frame envelope validation failed")
		return
	}

	switch envelope.Type {
	case agent.FrameContextUpdate:
		var payload agent.ContextUpdatePayload
		if err := h.decodePayload(envelope.Payload, &payload); err != nil {
			h.logMalformedPayload(requestID, userID, envelope.Type, err)
			return
		}
		h.agentService.HandleContextUpdate(ctx, userID, payload)

	case agent.FrameAudioEnd:
		h.agentService.HandleAudioEnd(ctx, userID)

	case agent.FrameTextCommand:
		var payload agent.TextCommandPayload
		if err := h.decodePayload(envelope.Payload, &payload); err != nil {
			h.logMalformedPayload(requestID, userID, envelope.Type, err)
			return
		}
		h.agentService.HandleTextCommand(ctx, userID, payload)

	case agent.FrameExecutionResult:
		var payload agent.ExecutionResultPayload
		if err := h.decodePayload(envelope.Payload, &payload); err != nil {
			h.logMalformedPayload(requestID, userID, envelope.Type, err)
			return
		}
		h.agentService.HandleExecutionResult(ctx, userID, payload)

	case agent.FrameAudioChunkBase64:
		var payload agent.AudioChunkBase64Payload
		if err := h.decodePayload(envelope.Payload, &payload); err != nil {
			h.logMalformedPayload(requestID, userID, envelope.Type, err)
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			h.logMalformedPayload(requestID, userID, envelope.Type, err)
			return
		}
		h.agentService.HandleAudioChunk(ctx, userID, chunk)

	default:
		h.log.WithFields(log.Fields{
			"request_id": requestID,
			"user_id":    userID,
			"type":       envelope.Type,
		}).Debug("Unknown frame type, ignoring")
	}
}

func (h *AgentHandler) decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := jsoniter.Unmarshal(raw, v); err != nil {
		return err
	}
	return h.validator.Struct(v)
}

func (h *AgentHandler) logMalformedPayload(requestID, userID, frameType string, err error) {
	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"user_id":    userID,
		"type":       frameType,
		"error":      err.Error(),
	}).Warn("Malformed frame payload")
}

func closeWithReason(c *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.Close()
}
