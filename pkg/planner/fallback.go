package planner

import (
	"strings"

	"github.com/google/uuid"

	"sahayak/internal/entity"
)

type fallbackRoute struct {
	keywords   []string
	url        string
	ack        string
	confidence float64
}

// Routes are checked in priority order; the first with a keyword hit wins.
var fallbackRoutes = []fallbackRoute{
	{
		keywords:   []string{"balance", "account", "money"},
		url:        "/dashboard",
		ack:        "Here is your account balance.",
		confidence: 0.9,
	},
	{
		keywords:   []string{"transfer", "send", "payment"},
		url:        "/transfers",
		ack:        "Opening transfers. Who would you like to send money to?",
		confidence: 0.85,
	},
	{
		keywords:   []string{"bill", "electricity", "water", "gas", "broadband"},
		url:        "/bills",
		ack:        "Opening bill payments. Which bill would you like to pay?",
		confidence: 0.85,
	},
	{
		keywords:   []string{"profile", "settings", "beneficiary"},
		url:        "/profile",
		ack:        "Opening your profile settings.",
		confidence: 0.8,
	},
}

const fallbackHelpText = "I can help you check your balance, transfer money, pay bills, or open your profile settings. What would you like to do?"

// CreateFallbackPlan is the terminal branch of the pipeline: pure,
// deterministic, and it never returns a plan without steps.
func (p *plannerService) CreateFallbackPlan(transcript string) *entity.ActionPlan {
	return CreateFallbackPlan(transcript)
}

func CreateFallbackPlan(transcript string) *entity.ActionPlan {
	lower := strings.ToLower(transcript)

	for _, route := range fallbackRoutes {
		for _, keyword := range route.keywords {
			if strings.Contains(lower, keyword) {
				return &entity.ActionPlan{
					PlanID: uuid.New().String(),
					Steps: []entity.Step{
						{Kind: entity.StepNavigate, URL: route.url},
						{Kind: entity.StepSpeak, Text: route.ack},
					},
					Meta: map[string]interface{}{
						"confidence": route.confidence,
						"source":     "fallback",
						"language":   "en",
					},
				}
			}
		}
	}

	return &entity.ActionPlan{
		PlanID: uuid.New().String(),
		Steps: []entity.Step{
			{Kind: entity.StepSpeak, Text: fallbackHelpText},
		},
		Meta: map[string]interface{}{
			"confidence": 0.5,
			"source":     "fallback",
			"language":   "en",
		},
	}
}
