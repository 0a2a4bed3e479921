package state

import (
	"strings"
	"time"
)

// ConversationState is the single datum carried along every edge of the
// agent graph. The checkpointer persists it between turns of one thread.
type ConversationState struct {
	ThreadID string `json:"thread_id"`

	Messages      []Message `json:"messages"`
	OriginalQuery string    `json:"original_query"`
	Mode          string    `json:"agent_mode,omitempty"`

	// Plan is nil until the planner runs for this turn.
	Plan             []TaskStep          `json:"plan,omitempty"`
	CurrentStep      *int                `json:"current_step,omitempty"`
	Results          map[int]*StepResult `json:"results,omitempty"`
	ValidationResult *ValidationResult   `json:"validation_result,omitempty"`
	FinalResponse    string              `json:"final_response,omitempty"`

	ConversationContext map[string]any `json:"conversation_context,omitempty"`

	Status Status `json:"status"`
	Next   string `json:"next"`

	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusPlanning   Status = "planning"
	StatusExecuting  Status = "executing"
	StatusValidating Status = "validating"
	StatusResponding Status = "responding"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type StepStatus string

const (
	StepPlanning  StepStatus = "planning"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// NextEnd is the terminal routing sentinel.
const NextEnd = "END"

// Keys used in ConversationContext.
const (
	ContextValidationFeedback = "validation_feedback"
	ContextPreviousPlanHash   = "previous_plan_hash"
	ContextTurnCount          = "turn_count"
	ContextLastQuery          = "last_query"
	ContextLastResponse       = "last_response"
	ContextAgentMode          = "agent_mode"
	ContextFailureReason      = "failure_reason"
)

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// TaskStep is one unit of planned work, addressed by its index in the plan.
type TaskStep struct {
	Description string     `json:"description"`
	Agent       string     `json:"agent"`
	Status      StepStatus `json:"status"`
	Request     string     `json:"request,omitempty"`
	Response    string     `json:"response,omitempty"`
	Error       string     `json:"error,omitempty"`
	DependsOn   []int      `json:"depends_on,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (s TaskStep) IsTerminal() bool {
	return s.Status == StepCompleted || s.Status == StepFailed
}

// StepResult is what a worker hands back for a completed step.
type StepResult struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

type ValidationResult struct {
	IsComplete         bool     `json:"is_complete"`
	CompletenessScore  int      `json:"completeness_score"`
	Feedback           string   `json:"feedback"`
	MissingInformation []string `json:"missing_information,omitempty"`
	SuggestedAgents    []string `json:"suggested_agents,omitempty"`
}

// CompleteThreshold is the minimum score for a complete verdict.
const CompleteThreshold = 7

// Normalize clamps the score and derives IsComplete from score and missing
// information, whatever the producer claimed.
func (v *ValidationResult) Normalize() {
	if v == nil {
		return
	}
	if v.CompletenessScore < 0 {
		v.CompletenessScore = 0
	}
	if v.CompletenessScore > 10 {
		v.CompletenessScore = 10
	}
	missing := v.MissingInformation[:0]
	for _, m := range v.MissingInformation {
		if m = strings.TrimSpace(m); m != "" {
			missing = append(missing, m)
		}
	}
	v.MissingInformation = missing
	v.IsComplete = v.CompletenessScore >= CompleteThreshold && len(v.MissingInformation) == 0
}

func NewConversationState(threadID string, now time.Time) *ConversationState {
	return &ConversationState{
		ThreadID:            threadID,
		Messages:            make([]Message, 0, 8),
		Results:             map[int]*StepResult{},
		ConversationContext: map[string]any{},
		UpdatedAt:           now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *ConversationState) AppendMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// LastUserMessage returns the most recent user message content.
func (s *ConversationState) LastUserMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

func (s *ConversationState) HasPlan() bool {
	return s.Plan != nil
}

// Step returns the step at index i, or nil when out of range.
func (s *ConversationState) Step(i int) *TaskStep {
	if i < 0 || i >= len(s.Plan) {
		return nil
	}
	return &s.Plan[i]
}

func (s *ConversationState) SetResult(i int, res *StepResult) {
	if s.Results == nil {
		s.Results = map[int]*StepResult{}
	}
	s.Results[i] = res
}

func (s *ConversationState) ContextString(key string) string {
	if s.ConversationContext == nil {
		return ""
	}
	v, _ := s.ConversationContext[key].(string)
	return v
}

func (s *ConversationState) SetContext(key string, val any) {
	if s.ConversationContext == nil {
		s.ConversationContext = map[string]any{}
	}
	s.ConversationContext[key] = val
}

func (s *ConversationState) ClearContext(keys ...string) {
	for _, k := range keys {
		delete(s.ConversationContext, k)
	}
}

// TurnCount reads the turn counter, tolerating the float64 produced by a
// JSON round trip.
func (s *ConversationState) TurnCount() int {
	switch v := s.ConversationContext[ContextTurnCount].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// BeginTurn resets the per-turn fields of a checkpointed state and appends
// the new user message. History and cross-turn context survive.
func (s *ConversationState) BeginTurn(query string, mode string, now time.Time) {
	s.Plan = nil
	s.CurrentStep = nil
	s.Results = map[int]*StepResult{}
	s.ValidationResult = nil
	s.FinalResponse = ""
	s.Status = ""
	s.Next = ""
	s.ClearContext(ContextValidationFeedback, ContextPreviousPlanHash, ContextFailureReason)

	s.OriginalQuery = query
	s.Mode = mode
	s.SetContext(ContextAgentMode, mode)
	s.AppendMessage(Message{
		Role:      RoleUser,
		Content:   query,
		CreatedAt: now.UTC(),
	})
	s.Touch(now)
}
