package agentHandler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	agentService "sahayak/internal/api/agent/service"
	"sahayak/internal/middleware"
	"sahayak/pkg/ratelimit"
	"sahayak/pkg/utils"
	websocketPkg "sahayak/pkg/websocket"
)

type AgentHandler struct {
	log          *logrus.Logger
	validator    *validator.Validate
	middleware   middleware.Middleware
	agentService agentService.IAgentService
	registry     websocketPkg.IRegistry
	limiter      ratelimit.ILimiter
	utils        utils.IUtils
}

func New(
	log *logrus.Logger,
	validate *validator.Validate,
	middleware middleware.Middleware,
	as agentService.IAgentService,
	registry websocketPkg.IRegistry,
	limiter ratelimit.ILimiter,
	utils utils.IUtils,
) *AgentHandler {
	return &AgentHandler{
		log:          log,
		validator:    validate,
		middleware:   middleware,
		agentService: as,
		registry:     registry,
		limiter:      limiter,
		utils:        utils,
	}
}

func (h *AgentHandler) Start(srv fiber.Router) {
	agent := srv.Group("/agent")

	wsMiddleware := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}

	// The websocket route authenticates inside the handler via the
	// auth_token query parameter; browsers cannot set headers on connect.
	agent.Use("/ws", wsMiddleware)
	agent.Get("/ws", websocket.New(h.handleAgentWebSocket))

	agent.Get("/commands", h.middleware.NewRateLimiter, h.middleware.NewTokenMiddleware, h.GetCommandHistory)

	nlp := agent.Group("/nlp")
	nlp.Use(h.middleware.NewRateLimiter)
	nlp.Use(h.middleware.NewTokenMiddleware)
	nlp.Post("/test", h.TestNLPProcessing)
}
