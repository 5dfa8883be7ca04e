package agent

import (
	"encoding/json"

	"sahayak/internal/entity"
)

// Inbound frame types.
const (
	FrameContextUpdate    = "CONTEXT_UPDATE"
	FrameExecutionResult  = "EXECUTION_RESULT"
	FrameAudioEnd         = "AUDIO_END"
	FrameTextCommand      = "TEXT_COMMAND"
	FrameAudioChunkBase64 = "AUDIO_CHUNK_BASE64"
)

// Outbound frame types.
const (
	FrameAgentSpeak     = "AGENT_SPEAK"
	FrameActionDispatch = "ACTION_DISPATCH"
)

// Envelope is the wire shape of every text frame.
type Envelope struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ContextUpdatePayload struct {
	URL     string                 `json:"url" validate:"required"`
	AriaIDs []string               `json:"aria_ids"`
	Locale  string                 `json:"locale"`
	Screen  map[string]interface{} `json:"screen,omitempty"`
	TS      int64                  `json:"ts,omitempty"`
}

type ExecutionResultPayload struct {
	PlanID string `json:"plan_id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=success error"`
	Error  string `json:"error,omitempty"`
}

type TextCommandPayload struct {
	Text string `json:"text" validate:"required,min=1,max=1024"`
}

type AudioChunkBase64Payload struct {
	Data string `json:"data" validate:"required"`
}

type AgentSpeakPayload struct {
	AudioBase64   *string `json:"audio_base64"`
	Text          string  `json:"text"`
	MimeType      string  `json:"mime_type,omitempty"`
	UseBrowserTTS bool    `json:"use_browser_tts,omitempty"`
}

type ActionDispatchPayload struct {
	PlanID string                 `json:"plan_id"`
	Steps  []entity.Step          `json:"steps"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// REST surface.

type NLPTestRequest struct {
	Text string `json:"text" validate:"required,min=1,max=500"`
}

type NLPTestResponse struct {
	Input        string             `json:"input"`
	Plan         *entity.ActionPlan `json:"plan"`
	UsedFallback bool               `json:"used_fallback"`
}

type CommandHistoryEntry struct {
	ID          string                 `json:"id"`
	CommandText string                 `json:"command_text"`
	ActionJSON  map[string]interface{} `json:"action_json"`
	Result      string                 `json:"result"`
	CreatedAt   string                 `json:"created_at"`
}
