package agentService

import (
	"sync"

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

type IAgentService interface {
	// WebSocket frame handlers. All of them tolerate bad input: an error
	// on one frame never tears down the session.
	HandleAudioChunk(ctx context.Context, userID string, chunk []byte)
	HandleContextUpdate(ctx context.Context, userID string, req agent.ContextUpdatePayload)
	HandleAudioEnd(ctx context.Context, userID string)
	HandleTextCommand(ctx context.Context, userID string, req agent.TextCommandPayload)
	HandleExecutionResult(ctx context.Context, userID string, req agent.ExecutionResultPayload)

	// CleanupUser drops the user's session state: audio buffer, cached UI
	// context and any pending audit entries.
	CleanupUser(userID string)

	// REST surface.
	ProcessTextPlan(ctx context.Context, req agent.NLPTestRequest) (*agent.NLPTestResponse, error)
	GetCommandHistory(ctx context.Context, userID string, page, limit int) ([]agent.CommandHistoryEntry, int, error)
}

type pendingAudit struct {
	auditID string
	userID  string
}

type agentService struct {
	log       *logrus.Logger
	agentRepo agentRepository.Repository
	registry  websocketPkg.IRegistry
	assembler audio.IAssembler
	stt       audio.ITranscription
	planner   planner.IPlanner
	tts       audio.ITTS
	utils     utils.IUtils

	ctxMu    sync.RWMutex
	contexts map[string]entity.UserContext

	pendingMu sync.Mutex
	pending   map[string]pendingAudit
}

func New(log *logrus.Logger,
	agentRepo agentRepository.Repository,
	registry websocketPkg.IRegistry,
	assembler audio.IAssembler,
	stt audio.ITranscription,
	plannerService planner.IPlanner,
	tts audio.ITTS,
	utils utils.IUtils,
) IAgentService {
	return &agentService{
		log:       log,
		agentRepo: agentRepo,
		registry:  registry,
		assembler: assembler,
		stt:       stt,
		planner:   plannerService,
		tts:       tts,
		utils:     utils,
		contexts:  make(map[string]entity.UserContext),
		pending:   make(map[string]pendingAudit),
	}
}
