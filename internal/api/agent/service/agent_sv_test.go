package agentService

import (
	"errors"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"sahayak/internal/api/agent"
	agentRepository "sahayak/internal/api/agent/repository"
	"sahayak/internal/entity"
	"sahayak/pkg/audio"
	"sahayak/pkg/planner"
	"sahayak/pkg/utils"
	websocketPkg "sahayak/pkg/websocket"
)

// --- fakes ---

type sentFrame struct {
	userID string
	frame  map[string]interface{}
}

type fakeRegistry struct {
	mu     sync.Mutex
	frames []sentFrame
}

func (f *fakeRegistry) Register(userID string, conn websocketPkg.Conn)   {}
func (f *fakeRegistry) Unregister(userID string, conn websocketPkg.Conn) {}
func (f *fakeRegistry) IsConnected(userID string) bool               { return true }
func (f *fakeRegistry) CloseAll()                                    {}

func (f *fakeRegistry) SendJSON(userID string, v interface{}) {
	data, err := jsoniter.Marshal(v)
	if err != nil {
		return
	}
	var decoded map[string]interface{}
	if err := jsoniter.Unmarshal(data, &decoded); err != nil {
		return
	}
	f.mu.Lock()
	f.frames = append(f.frames, sentFrame{userID: userID, frame: decoded})
	f.mu.Unlock()
}

func (f *fakeRegistry) Broadcast(v interface{}) {
	f.SendJSON("*", v)
}

func (f *fakeRegistry) sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.frames...)
}

func frameType(f sentFrame) string {
	t, _ := f.frame["type"].(string)
	return t
}

func framePayload(f sentFrame) map[string]interface{} {
	p, _ := f.frame["payload"].(map[string]interface{})
	return p
}

type fakeTranscription struct {
	mu         sync.Mutex
	calls      int
	transcript string
	heard      bool
	err        error
}

func (f *fakeTranscription) Transcribe(ctx context.Context, audioBytes []byte, language string) (string, bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.transcript, f.heard, f.err
}

func (f *fakeTranscription) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlanner struct {
	plan *entity.ActionPlan
	err  error
}

func (f *fakePlanner) Generate(ctx context.Context, transcript string, userContext entity.UserContext) (*entity.ActionPlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.plan, nil
}

func (f *fakePlanner) CreateFallbackPlan(transcript string) *entity.ActionPlan {
	return planner.CreateFallbackPlan(transcript)
}

type fakeTTS struct {
	audio []byte
	err   error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.audio, f.err
}

type fakeAuditStore struct {
	mu      sync.Mutex
	created []entity.AuditLog
	updates map[string]string
}

func (f *fakeAuditStore) CreateAuditLog(ctx context.Context, record entity.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, record)
	return nil
}

func (f *fakeAuditStore) GetAuditLogByID(ctx context.Context, id string) (entity.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.created {
		if record.ID == id {
			return record, nil
		}
	}
	return entity.AuditLog{}, agent.ErrAuditLogNotFound
}

func (f *fakeAuditStore) GetAuditLogsByUserID(ctx context.Context, userID string, limit, offset int) ([]entity.AuditLog, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.AuditLog
	for _, record := range f.created {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out, len(out), nil
}

func (f *fakeAuditStore) UpdateAuditResult(ctx context.Context, id string, result string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updates == nil {
		f.updates = make(map[string]string)
	}
	f.updates[id] = result
	return nil
}

type fakeRepository struct {
	store *fakeAuditStore
}

func (f *fakeRepository) NewClient(tx bool) (agentRepository.Client, error) {
	return agentRepository.Client{
		AuditLogs: f.store,
		Commit:    func() error { return nil },
		Rollback:  func() error { return nil },
	}, nil
}

// --- harness ---

type serviceFixture struct {
	service  IAgentService
	registry *fakeRegistry
	stt      *fakeTranscription
	store    *fakeAuditStore
}

func newServiceFixture(t *testing.T, p planner.IPlanner, stt *fakeTranscription, tts audio.ITTS) *serviceFixture {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	registry := &fakeRegistry{}
	store := &fakeAuditStore{}

	svc := New(log,
		&fakeRepository{store: store},
		registry,
		audio.NewAssembler(log),
		stt,
		p,
		tts,
		utils.New(),
	)

	return &serviceFixture{service: svc, registry: registry, stt: stt, store: store}
}

// --- tests ---

func TestTextCommandFallsBackWhenPlannerFails(t *testing.T) {
	fx := newServiceFixture(t,
		&fakePlanner{err: planner.ErrPlanGeneration},
		&fakeTranscription{},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleContextUpdate(ctx, "user-1", agent.ContextUpdatePayload{URL: "/dashboard"})
	fx.service.HandleTextCommand(ctx, "user-1", agent.TextCommandPayload{Text: "check my balance"})

	frames := fx.registry.sent()
	if len(frames) != 2 {
		t.Fatalf("frames sent = %d, want 2 (speak then dispatch)", len(frames))
	}

	if frameType(frames[0]) != agent.FrameAgentSpeak {
		t.Fatalf("first frame = %s, want AGENT_SPEAK", frameType(frames[0]))
	}
	speak := framePayload(frames[0])
	if speak["text"] != "Here is your account balance." {
		t.Errorf("spoken text = %v, want balance acknowledgement", speak["text"])
	}
	if speak["use_browser_tts"] != true {
		t.Error("TTS failure did not degrade to browser TTS")
	}

	if frameType(frames[1]) != agent.FrameActionDispatch {
		t.Fatalf("second frame = %s, want ACTION_DISPATCH", frameType(frames[1]))
	}
	dispatch := framePayload(frames[1])
	steps, _ := dispatch["steps"].([]interface{})
	if len(steps) != 2 {
		t.Fatalf("dispatched steps = %d, want 2", len(steps))
	}
	first, _ := steps[0].(map[string]interface{})
	if first["kind"] != "navigate" || first["url"] != "/dashboard" {
		t.Errorf("first step = %v, want navigate /dashboard", first)
	}
}

func TestAcknowledgementSentBeforeDispatch(t *testing.T) {
	plan := &entity.ActionPlan{
		PlanID: "p-1",
		Steps: []entity.Step{
			{Kind: entity.StepNavigate, URL: "/transfers"},
			{Kind: entity.StepSpeak, Text: "Opening transfers."},
		},
	}
	fx := newServiceFixture(t,
		&fakePlanner{plan: plan},
		&fakeTranscription{},
		&fakeTTS{audio: []byte("mp3")},
	)

	fx.service.HandleTextCommand(context.Background(), "user-1", agent.TextCommandPayload{Text: "send money"})

	frames := fx.registry.sent()
	if len(frames) != 2 {
		t.Fatalf("frames sent = %d, want 2", len(frames))
	}
	if frameType(frames[0]) != agent.FrameAgentSpeak || frameType(frames[1]) != agent.FrameActionDispatch {
		t.Errorf("frame order = [%s, %s], want [AGENT_SPEAK, ACTION_DISPATCH]",
			frameType(frames[0]), frameType(frames[1]))
	}
	if framePayload(frames[0])["audio_base64"] == nil {
		t.Error("synthesized audio missing from acknowledgement")
	}
}

func TestShortAudioSkipsTranscription(t *testing.T) {
	fx := newServiceFixture(t,
		&fakePlanner{err: planner.ErrPlanGeneration},
		&fakeTranscription{transcript: "should not be used", heard: true},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleAudioChunk(ctx, "user-1", make([]byte, 40))
	fx.service.HandleAudioEnd(ctx, "user-1")

	if fx.stt.callCount() != 0 {
		t.Error("transcription called for a below-minimum buffer")
	}

	frames := fx.registry.sent()
	if len(frames) != 1 {
		t.Fatalf("frames sent = %d, want 1", len(frames))
	}
	if frameType(frames[0]) != agent.FrameAgentSpeak {
		t.Fatalf("frame = %s, want AGENT_SPEAK", frameType(frames[0]))
	}
	if framePayload(frames[0])["text"] != replyNoAudio {
		t.Errorf("spoken text = %v, want %q", framePayload(frames[0])["text"], replyNoAudio)
	}
}

func TestAudioEndRunsPipeline(t *testing.T) {
	fx := newServiceFixture(t,
		&fakePlanner{err: planner.ErrPlanGeneration},
		&fakeTranscription{transcript: "pay my electricity bill", heard: true},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleAudioChunk(ctx, "user-1", make([]byte, 4096))
	fx.service.HandleAudioEnd(ctx, "user-1")

	if fx.stt.callCount() != 1 {
		t.Fatalf("transcription calls = %d, want 1", fx.stt.callCount())
	}

	frames := fx.registry.sent()
	if len(frames) != 2 {
		t.Fatalf("frames sent = %d, want 2", len(frames))
	}
	dispatch := framePayload(frames[1])
	steps, _ := dispatch["steps"].([]interface{})
	first, _ := steps[0].(map[string]interface{})
	if first["url"] != "/bills" {
		t.Errorf("dispatch url = %v, want /bills", first["url"])
	}
}

func TestTranscriptionSilenceGetsRetryPrompt(t *testing.T) {
	fx := newServiceFixture(t,
		&fakePlanner{err: planner.ErrPlanGeneration},
		&fakeTranscription{heard: false},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleAudioChunk(ctx, "user-1", make([]byte, 4096))
	fx.service.HandleAudioEnd(ctx, "user-1")

	frames := fx.registry.sent()
	if len(frames) != 1 {
		t.Fatalf("frames sent = %d, want 1", len(frames))
	}
	if framePayload(frames[0])["text"] != replyNotCaught {
		t.Errorf("spoken text = %v, want %q", framePayload(frames[0])["text"], replyNotCaught)
	}
}

func TestExecutionResultUpdatesAudit(t *testing.T) {
	plan := &entity.ActionPlan{
		PlanID: "p-9",
		Steps:  []entity.Step{{Kind: entity.StepSpeak, Text: "Done here."}},
	}
	fx := newServiceFixture(t,
		&fakePlanner{plan: plan},
		&fakeTranscription{},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleTextCommand(ctx, "user-1", agent.TextCommandPayload{Text: "do something"})

	if len(fx.store.created) != 1 {
		t.Fatalf("audit records = %d, want 1", len(fx.store.created))
	}
	auditID := fx.store.created[0].ID
	if fx.store.created[0].Result != entity.AuditResultDispatched {
		t.Errorf("initial result = %q, want dispatched", fx.store.created[0].Result)
	}

	fx.service.HandleExecutionResult(ctx, "user-1", agent.ExecutionResultPayload{PlanID: "p-9", Status: "success"})

	if got := fx.store.updates[auditID]; got != entity.AuditResultSuccess {
		t.Errorf("updated result = %q, want success", got)
	}

	frames := fx.registry.sent()
	last := frames[len(frames)-1]
	if framePayload(last)["text"] != replyResultOK {
		t.Errorf("spoken text = %v, want %q", framePayload(last)["text"], replyResultOK)
	}
}

func TestExecutionResultErrorIsSpoken(t *testing.T) {
	plan := &entity.ActionPlan{
		PlanID: "p-2",
		Steps:  []entity.Step{{Kind: entity.StepSpeak, Text: "On it."}},
	}
	fx := newServiceFixture(t,
		&fakePlanner{plan: plan},
		&fakeTranscription{},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleTextCommand(ctx, "user-1", agent.TextCommandPayload{Text: "do something"})
	fx.service.HandleExecutionResult(ctx, "user-1", agent.ExecutionResultPayload{
		PlanID: "p-2",
		Status: "error",
		Error:  "element not found",
	})

	auditID := fx.store.created[0].ID
	if got := fx.store.updates[auditID]; got != entity.AuditResultError {
		t.Errorf("updated result = %q, want error", got)
	}

	frames := fx.registry.sent()
	last := frames[len(frames)-1]
	if framePayload(last)["text"] != replyResultFailed+"element not found" {
		t.Errorf("spoken text = %v, want failure message", framePayload(last)["text"])
	}
}

func TestUnknownExecutionResultIsIgnored(t *testing.T) {
	fx := newServiceFixture(t,
		&fakePlanner{err: planner.ErrPlanGeneration},
		&fakeTranscription{},
		&fakeTTS{err: errors.New("tts down")},
	)

	fx.service.HandleExecutionResult(context.Background(), "user-1", agent.ExecutionResultPayload{
		PlanID: "never-dispatched",
		Status: "success",
	})

	if len(fx.registry.sent()) != 0 {
		t.Error("frames sent for an unknown plan id")
	}
	if len(fx.store.updates) != 0 {
		t.Error("audit updated for an unknown plan id")
	}
}

func TestCleanupUserSweepsPendingEntries(t *testing.T) {
	plan := &entity.ActionPlan{
		PlanID: "p-3",
		Steps:  []entity.Step{{Kind: entity.StepSpeak, Text: "On it."}},
	}
	fx := newServiceFixture(t,
		&fakePlanner{plan: plan},
		&fakeTranscription{},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleTextCommand(ctx, "user-1", agent.TextCommandPayload{Text: "do something"})
	fx.service.CleanupUser("user-1")

	fx.service.HandleExecutionResult(ctx, "user-1", agent.ExecutionResultPayload{PlanID: "p-3", Status: "success"})

	if len(fx.store.updates) != 0 {
		t.Error("a swept pending entry still patched the audit record")
	}
}

func TestExecutionResultFromWrongUserIsIgnored(t *testing.T) {
	plan := &entity.ActionPlan{
		PlanID: "p-4",
		Steps:  []entity.Step{{Kind: entity.StepSpeak, Text: "On it."}},
	}
	fx := newServiceFixture(t,
		&fakePlanner{plan: plan},
		&fakeTranscription{},
		&fakeTTS{err: errors.New("tts down")},
	)
	ctx := context.Background()

	fx.service.HandleTextCommand(ctx, "user-1", agent.TextCommandPayload{Text: "do something"})
	fx.service.HandleExecutionResult(ctx, "user-2", agent.ExecutionResultPayload{PlanID: "p-4", Status: "success"})

	if len(fx.store.updates) != 0 {
		t.Error("another user's execution result patched the audit record")
	}
}
