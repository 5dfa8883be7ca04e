package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"sahayak/database/postgres"
	agentHandler "sahayak/internal/api/agent/handler"
	agentRepository "sahayak/internal/api/agent/repository"
	agentService "sahayak/internal/api/agent/service"
	"sahayak/internal/middleware"
	"sahayak/pkg/audio"
	"sahayak/pkg/planner"
	"sahayak/pkg/ratelimit"
	"sahayak/pkg/redis"
	"sahayak/pkg/utils"
	websocketPkg "sahayak/pkg/websocket"
)

type ServerOption func(*Server) error

type Server struct {
	engine        *fiber.App
	db            *sqlx.DB
	log           *logrus.Logger
	middleware    middleware.Middleware
	validator     *validator.Validate
	utils         utils.IUtils
	handlers      []handler
	redisServer   redis.IRedis
	registry      websocketPkg.IRegistry
	limiter       ratelimit.ILimiter
	assembler     audio.IAssembler
	transcription audio.ITranscription
	tts           audio.ITTS
	planner       planner.IPlanner
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithDatabase() ServerOption {
	return func(s *Server) error {
		db, err := postgres.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to connect to database: %v", err)
			}
			return fmt.Errorf("failed to create database connection: %w", err)
		}
		s.db = db
		return nil
	}
}

func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log)
		return nil
	}
}

func WithConnectionRegistry() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before registry")
		}
		s.registry = websocketPkg.NewRegistry(s.log)
		return nil
	}
}

func WithRateLimiter() ServerOption {
	return func(s *Server) error {
		if s.redisServer == nil {
			return fmt.Errorf("redis must be initialized before rate limiter")
		}
		s.limiter = ratelimit.New(s.redisServer, s.log)
		return nil
	}
}

func WithAudioPipeline() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before audio pipeline")
		}
		s.assembler = audio.NewAssembler(s.log)
		s.transcription = audio.NewTranscriptionService(s.log)
		s.tts = audio.NewTTSService()
		return nil
	}
}

func WithPlanner() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before planner")
		}
		s.planner = planner.New(s.log)
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	// Agent Domain
	agentRepo := agentRepository.New(s.db, s.log)
	agentServices := agentService.New(s.log, agentRepo, s.registry, s.assembler, s.transcription, s.planner, s.tts, s.utils)
	agentHandlers := agentHandler.New(s.log, s.validator, s.middleware, agentServices, s.registry, s.limiter, s.utils)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, agentHandlers)
}

func (s *Server) Run() error {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(middleware.LoggerConfig())

	router := s.engine.Group("/api/v1")

	for _, h := range s.handlers {
		h.Start(router)
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "3000"
	}

	return s.engine.Listen(fmt.Sprintf(":%s", port))
}

// Shutdown tells every connected client the server is going away, closes
// their sockets, then stops the HTTP engine and the database pool.
func (s *Server) Shutdown() error {
	if s.registry != nil {
		s.registry.Broadcast(map[string]interface{}{
			"type": "AGENT_SPEAK",
			"payload": map[string]interface{}{
				"text":            "The assistant is going offline. Please try again shortly.",
				"use_browser_tts": true,
			},
		})
		s.registry.CloseAll()
	}

	if err := s.engine.Shutdown(); err != nil {
		return err
	}

	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}
