package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvariantViolation = errors.New("state invariant violated")

// Rules carries the graph facts the invariants depend on.
type Rules struct {
	Workers  map[string]bool
	Nodes    map[string]bool
	MaxSteps int
}

// Validate asserts every invariant that must hold at an edge traversal.
func (s *ConversationState) Validate(rules Rules) error {
	if s == nil {
		return fmt.Errorf("%w: state is nil", ErrInvariantViolation)
	}

	if rules.MaxSteps > 0 && len(s.Plan) > rules.MaxSteps {
		return fmt.Errorf("%w: plan has %d steps, max %d", ErrInvariantViolation, len(s.Plan), rules.MaxSteps)
	}
	for i, step := range s.Plan {
		if rules.Workers != nil && !rules.Workers[step.Agent] {
			return fmt.Errorf("%w: plan[%d].agent=%q is not a registered worker", ErrInvariantViolation, i, step.Agent)
		}
		if step.Status == StepCompleted {
			if res, ok := s.Results[i]; !ok || res == nil {
				return fmt.Errorf("%w: plan[%d] completed without result", ErrInvariantViolation, i)
			}
		}
	}

	if s.CurrentStep != nil && s.Step(*s.CurrentStep) == nil {
		return fmt.Errorf("%w: current_step=%d out of range", ErrInvariantViolation, *s.CurrentStep)
	}

	if s.ValidationResult != nil {
		switch s.Status {
		case StatusValidating, StatusResponding, StatusCompleted:
		default:
			return fmt.Errorf("%w: validation_result set with status=%q", ErrInvariantViolation, s.Status)
		}
	}

	if s.FinalResponse != "" && s.Status != StatusCompleted {
		return fmt.Errorf("%w: final_response set with status=%q", ErrInvariantViolation, s.Status)
	}
	if s.Status == StatusCompleted {
		if strings.TrimSpace(s.FinalResponse) == "" {
			return fmt.Errorf("%w: completed without final_response", ErrInvariantViolation)
		}
		if n := len(s.Messages); n == 0 || s.Messages[n-1].Role != RoleAssistant {
			return fmt.Errorf("%w: completed but last message is not from assistant", ErrInvariantViolation)
		}
	}

	if s.Next != "" && s.Next != NextEnd && rules.Nodes != nil && !rules.Nodes[s.Next] {
		return fmt.Errorf("%w: next=%q is not a node", ErrInvariantViolation, s.Next)
	}

	return nil
}

// ValidateHistory asserts that the first n messages of s equal prefix.
func (s *ConversationState) ValidateHistory(prefix []Message) error {
	if len(s.Messages) < len(prefix) {
		return fmt.Errorf("%w: history shrank from %d to %d", ErrInvariantViolation, len(prefix), len(s.Messages))
	}
	for i := range prefix {
		a, b := prefix[i], s.Messages[i]
		if a.Role != b.Role || a.Content != b.Content || a.Name != b.Name {
			return fmt.Errorf("%w: message %d was rewritten", ErrInvariantViolation, i)
		}
	}
	return nil
}

// PlanHash fingerprints the agent assignment and wording of a plan.
func PlanHash(steps []TaskStep) string {
	h := sha256.New()
	for _, step := range steps {
		h.Write([]byte(step.Agent))
		h.Write([]byte{'|'})
		h.Write([]byte(strings.TrimSpace(step.Description)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone deep-copies the state through its JSON form.
func (s *ConversationState) Clone() (*ConversationState, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation state: %w", err)
	}
	var out ConversationState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal conversation state: %w", err)
	}
	if out.Results == nil {
		out.Results = map[int]*StepResult{}
	}
	if out.ConversationContext == nil {
		out.ConversationContext = map[string]any{}
	}
	return &out, nil
}

// FallbackValidation scores a plan from step outcomes alone: the completed
// share out of 10, with every failed step reported as missing.
func FallbackValidation(plan []TaskStep, reason string) ValidationResult {
	var completed int
	var missing []string
	for _, step := range plan {
		switch step.Status {
		case StepCompleted:
			completed++
		case StepFailed:
			missing = append(missing, step.Description)
		}
	}

	score := 0
	if len(plan) > 0 {
		score = (completed*10 + len(plan)/2) / len(plan)
	}
	feedback := "검증 모델을 사용할 수 없어 단계 결과로 평가했습니다."
	if reason = strings.TrimSpace(reason); reason != "" {
		feedback += " " + reason
	}
	res := ValidationResult{
		CompletenessScore:  score,
		Feedback:           feedback,
		MissingInformation: missing,
	}
	res.Normalize()
	return res
}
