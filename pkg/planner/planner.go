package planner

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	"sahayak/internal/entity"
)

// ErrPlanGeneration covers upstream HTTP failure, unparseable output and
// schema violations. Callers fall back to CreateFallbackPlan.
var ErrPlanGeneration = errors.New("plan generation failed")

type IPlanner interface {
	Generate(ctx context.Context, transcript string, userContext entity.UserContext) (*entity.ActionPlan, error)
	CreateFallbackPlan(transcript string) *entity.ActionPlan
}

type plannerService struct {
	client *openai.Client
	model  string
	log    *logrus.Logger
}

// New builds a planner against Groq's OpenAI-compatible chat completions
// endpoint.
func New(log *logrus.Logger) IPlanner {
	apiKey := os.Getenv("GROQ_API_KEY")

	baseURL := os.Getenv("GROQ_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}

	model := os.Getenv("GROQ_MODEL")
	if model == "" {
		model = "llama3-70b-8192"
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &plannerService{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    log,
	}
}

func (p *plannerService) Generate(ctx context.Context, transcript string, userContext entity.UserContext) (*entity.ActionPlan, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserMessage(transcript, userContext)},
		},
		Temperature: 0.2,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrPlanGeneration)
	}

	plan, err := parsePlan(resp.Choices[0].Message.Content)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Planner returned an unusable plan")
		return nil, err
	}

	return plan, nil
}

// parsePlan is deliberately permissive about the surrounding text: models
// wrap JSON in prose or code fences, so the outermost object is carved out
// before decoding. Schema violations are still rejected.
func parsePlan(content string) (*entity.ActionPlan, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in completion", ErrPlanGeneration)
	}

	var plan entity.ActionPlan
	if err := jsoniter.UnmarshalFromString(content[start:end+1], &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	if plan.PlanID == "" {
		plan.PlanID = uuid.New().String()
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanGeneration, err)
	}

	return &plan, nil
}
