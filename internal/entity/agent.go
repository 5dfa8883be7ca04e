package entity

import (
	"errors"
	"fmt"
)

type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepFill     StepKind = "fill"
	StepClick    StepKind = "click"
	StepSpeak    StepKind = "speak"
)

type StepTarget struct {
	Aria      string `json:"aria,omitempty"`
	ElementID string `json:"element_id,omitempty"`
}

func (t StepTarget) IsZero() bool {
	return t.Aria == "" && t.ElementID == ""
}

// Step is one unit of UI automation. The kind determines which of the
// remaining fields must be set.
type Step struct {
	Kind   StepKind    `json:"kind"`
	URL    string      `json:"url,omitempty"`
	Target *StepTarget `json:"target,omitempty"`
	Value  string      `json:"value,omitempty"`
	Text   string      `json:"text,omitempty"`
}

func (s Step) Validate() error {
	switch s.Kind {
	case StepNavigate:
		if s.URL == "" {
			return errors.New("navigate step requires url")
		}
	case StepFill:
		if s.Target == nil || s.Target.IsZero() {
			return errors.New("fill step requires target")
		}
		if s.Value == "" {
			return errors.New("fill step requires value")
		}
	case StepClick:
		if s.Target == nil || s.Target.IsZero() {
			return errors.New("click step requires target")
		}
	case StepSpeak:
		if s.Text == "" {
			return errors.New("speak step requires text")
		}
	default:
		return fmt.Errorf("unknown step kind %q", s.Kind)
	}
	return nil
}

// ActionPlan is immutable once returned by the planner.
type ActionPlan struct {
	PlanID string                 `json:"plan_id"`
	Steps  []Step                 `json:"steps"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

func (p ActionPlan) Validate() error {
	if p.PlanID == "" {
		return errors.New("plan id is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("plan has no steps")
	}
	for i, step := range p.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Acknowledgement returns the text of the first speak step, if any.
func (p ActionPlan) Acknowledgement() (string, bool) {
	for _, step := range p.Steps {
		if step.Kind == StepSpeak && step.Text != "" {
			return step.Text, true
		}
	}
	return "", false
}

// UserContext is the last UI state reported by the client. It is
// overwritten wholesale on every CONTEXT_UPDATE and never persisted.
type UserContext struct {
	URL     string                 `json:"url"`
	AriaIDs []string               `json:"aria_ids"`
	Locale  string                 `json:"locale"`
	Screen  map[string]interface{} `json:"screen,omitempty"`
	TS      int64                  `json:"ts,omitempty"`
}
