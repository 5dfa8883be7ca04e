package agentService

import (
	"encoding/base64"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"sahayak/internal/api/agent"
	"sahayak/internal/entity"
	"sahayak/pkg/audio"
	contextPkg "sahayak/pkg/context"
)

const (
	externalCallTimeout = 30 * time.Second
	auditWriteTimeout   = 5 * time.Second
)

const (
	replyNoAudio      = "I didn't hear anything. Please try again."
	replyNotCaught    = "Sorry, I didn't catch that. Could you say it again?"
	replyResultOK     = "Done. What else can I help you with?"
	replyResultFailed = "Sorry, something went wrong: "
)

type outboundFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (s *agentService) HandleContextUpdate(ctx context.Context, userID string, req agent.ContextUpdatePayload) {
	s.ctxMu.Lock()
	s.contexts[userID] = entity.UserContext{
		URL:     req.URL,
		AriaIDs: req.AriaIDs,
		Locale:  req.Locale,
		Screen:  req.Screen,
		TS:      req.TS,
	}
	s.ctxMu.Unlock()
}

func (s *agentService) HandleAudioChunk(ctx context.Context, userID string, chunk []byte) {
	if err := s.assembler.Append(userID, chunk); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"user_id":    userID,
			"chunk_size": len(chunk),
			"error":      err.Error(),
		}).Warn("Audio chunk rejected")
	}
}

func (s *agentService) HandleAudioEnd(ctx context.Context, userID string) {
	requestID := contextPkg.GetRequestID(ctx)

	if s.assembler.Size(userID) < audio.MinAudioBytes {
		s.assembler.Discard(userID)
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"user_id":    userID,
		}).Debug("Utterance below minimum size, skipping transcription")
		s.sendSpeak(ctx, userID, replyNoAudio)
		return
	}

	audioBytes := s.assembler.Finalize(userID)

	sttCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()

	transcript, heard, err := s.stt.Transcribe(sttCtx, audioBytes, s.userLanguage(userID))
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"user_id":     userID,
			"audio_bytes": len(audioBytes),
			"error":       err.Error(),
		}).Error("Transcription failed")
		s.sendSpeak(ctx, userID, replyNotCaught)
		return
	}

	if !heard {
		s.sendSpeak(ctx, userID, replyNotCaught)
		return
	}

	s.processCommand(ctx, userID, transcript)
}

func (s *agentService) HandleTextCommand(ctx context.Context, userID string, req agent.TextCommandPayload) {
	s.processCommand(ctx, userID, req.Text)
}

// processCommand is the shared tail of the voice and text paths: plan,
// record, acknowledge, dispatch. The acknowledgement frame is always
// transmitted before the dispatch frame; a dispatched navigate step may
// tear down the connection on the client side.
func (s *agentService) processCommand(ctx context.Context, userID string, transcript string) {
	requestID := contextPkg.GetRequestID(ctx)

	userContext := s.userContext(userID)

	planCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()

	plan, err := s.planner.Generate(planCtx, transcript, userContext)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"user_id":    userID,
			"error":      err.Error(),
		}).Warn("Plan generation failed, using fallback")
		plan = s.planner.CreateFallbackPlan(transcript)
	}

	s.logCommand(ctx, userID, transcript, plan)

	if ack, ok := plan.Acknowledgement(); ok {
		s.sendSpeak(ctx, userID, ack)
	}

	s.registry.SendJSON(userID, outboundFrame{
		Type: agent.FrameActionDispatch,
		Payload: agent.ActionDispatchPayload{
			PlanID: plan.PlanID,
			Steps:  plan.Steps,
			Meta:   plan.Meta,
		},
	})

	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    userID,
		"plan_id":    plan.PlanID,
		"steps":      len(plan.Steps),
	}).Info("Action plan dispatched")
}

func (s *agentService) HandleExecutionResult(ctx context.Context, userID string, req agent.ExecutionResultPayload) {
	entry, ok := s.popPending(req.PlanID, userID)
	if !ok {
		s.log.WithFields(logrus.Fields{
			"request_id": contextPkg.GetRequestID(ctx),
			"user_id":    userID,
			"plan_id":    req.PlanID,
		}).Debug("Execution result for unknown plan, ignoring")
		return
	}

	result := entity.AuditResultSuccess
	if req.Status != "success" {
		result = entity.AuditResultError
	}
	s.updateResult(ctx, entry.auditID, result)

	if req.Status == "success" {
		s.sendSpeak(ctx, userID, replyResultOK)
		return
	}
	s.sendSpeak(ctx, userID, replyResultFailed+req.Error)
}

func (s *agentService) ProcessTextPlan(ctx context.Context, req agent.NLPTestRequest) (*agent.NLPTestResponse, error) {
	planCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()

	usedFallback := false

	plan, err := s.planner.Generate(planCtx, req.Text, entity.UserContext{})
	if err != nil {
		plan = s.planner.CreateFallbackPlan(req.Text)
		usedFallback = true
	}

	return &agent.NLPTestResponse{
		Input:        req.Text,
		Plan:         plan,
		UsedFallback: usedFallback,
	}, nil
}

// sendSpeak synthesizes the text and sends an AGENT_SPEAK frame. When
// synthesis fails or yields nothing, the frame still goes out with
// use_browser_tts set so the client can speak the text itself.
func (s *agentService) sendSpeak(ctx context.Context, userID string, text string) {
	if text == "" {
		return
	}

	ttsCtx, cancel := context.WithTimeout(ctx, externalCallTimeout)
	defer cancel()

	payload := agent.AgentSpeakPayload{Text: text}

	audioBytes, err := s.tts.Synthesize(ttsCtx, text)
	if err != nil || len(audioBytes) == 0 {
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithFields(logrus.Fields{
				"request_id": contextPkg.GetRequestID(ctx),
				"user_id":    userID,
				"error":      err.Error(),
			}).Warn("Speech synthesis failed, degrading to browser TTS")
		}
		payload.UseBrowserTTS = true
	} else {
		encoded := base64.StdEncoding.EncodeToString(audioBytes)
		payload.AudioBase64 = &encoded
		payload.MimeType = "audio/mpeg"
	}

	s.registry.SendJSON(userID, outboundFrame{
		Type:    agent.FrameAgentSpeak,
		Payload: payload,
	})
}

func (s *agentService) userContext(userID string) entity.UserContext {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	return s.contexts[userID]
}

func (s *agentService) userLanguage(userID string) string {
	locale := s.userContext(userID).Locale
	if locale == "" {
		return "en"
	}
	return locale
}
