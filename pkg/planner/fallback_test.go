package planner

import (
	"testing"

	"sahayak/internal/entity"
)

func TestCreateFallbackPlanRoutes(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		wantURL    string
		wantAck    string
	}{
		{
			name:       "balance",
			transcript: "check my balance please",
			wantURL:    "/dashboard",
			wantAck:    "Here is your account balance.",
		},
		{
			name:       "transfer",
			transcript: "I want to send some cash to mom",
			wantURL:    "/transfers",
			wantAck:    "Opening transfers. Who would you like to send money to?",
		},
		{
			name:       "bills",
			transcript: "pay my electricity bill",
			wantURL:    "/bills",
			wantAck:    "Opening bill payments. Which bill would you like to pay?",
		},
		{
			name:       "profile",
			transcript: "open my profile",
			wantURL:    "/profile",
			wantAck:    "Opening your profile settings.",
		},
		{
			name:       "case insensitive",
			transcript: "CHECK MY BALANCE",
			wantURL:    "/dashboard",
			wantAck:    "Here is your account balance.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := CreateFallbackPlan(tt.transcript)

			if err := plan.Validate(); err != nil {
				t.Fatalf("fallback plan failed validation: %v", err)
			}
			if len(plan.Steps) != 2 {
				t.Fatalf("steps = %d, want 2", len(plan.Steps))
			}
			if plan.Steps[0].Kind != entity.StepNavigate || plan.Steps[0].URL != tt.wantURL {
				t.Errorf("first step = %+v, want navigate to %s", plan.Steps[0], tt.wantURL)
			}
			if plan.Steps[1].Kind != entity.StepSpeak || plan.Steps[1].Text != tt.wantAck {
				t.Errorf("second step = %+v, want speak %q", plan.Steps[1], tt.wantAck)
			}
			if plan.Meta["source"] != "fallback" {
				t.Errorf("meta source = %v, want fallback", plan.Meta["source"])
			}
		})
	}
}

func TestCreateFallbackPlanPriorityOrder(t *testing.T) {
	// "transfer money" hits both the balance route ("money") and the
	// transfer route; the balance route is listed first and wins.
	plan := CreateFallbackPlan("transfer money")

	if plan.Steps[0].URL != "/dashboard" {
		t.Errorf("url = %q, want /dashboard (first matching route)", plan.Steps[0].URL)
	}
}

func TestCreateFallbackPlanNoMatch(t *testing.T) {
	plan := CreateFallbackPlan("what is the weather like")

	if err := plan.Validate(); err != nil {
		t.Fatalf("fallback plan failed validation: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("steps = %d, want 1", len(plan.Steps))
	}
	if plan.Steps[0].Kind != entity.StepSpeak {
		t.Errorf("step kind = %q, want speak", plan.Steps[0].Kind)
	}
	if plan.Meta["confidence"] != 0.5 {
		t.Errorf("confidence = %v, want 0.5", plan.Meta["confidence"])
	}
}

func TestCreateFallbackPlanAlwaysReturnsPlan(t *testing.T) {
	for _, transcript := range []string{"", "   ", "asdfghjkl", "balance transfer bill profile"} {
		plan := CreateFallbackPlan(transcript)
		if plan == nil {
			t.Fatalf("CreateFallbackPlan(%q) = nil", transcript)
		}
		if err := plan.Validate(); err != nil {
			t.Errorf("CreateFallbackPlan(%q) invalid: %v", transcript, err)
		}
		if plan.PlanID == "" {
			t.Errorf("CreateFallbackPlan(%q) has empty plan id", transcript)
		}
	}
}

func TestCreateFallbackPlanIsDeterministicInSteps(t *testing.T) {
	a := CreateFallbackPlan("check balance")
	b := CreateFallbackPlan("check balance")

	if len(a.Steps) != len(b.Steps) {
		t.Fatalf("step counts differ: %d vs %d", len(a.Steps), len(b.Steps))
	}
	for i := range a.Steps {
		if a.Steps[i] != b.Steps[i] {
			t.Errorf("step %d differs: %+v vs %+v", i, a.Steps[i], b.Steps[i])
		}
	}
}
