package contract

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

type AgentName string

const (
	AgentSupervisor   AgentName = "supervisor"
	AgentOrchestrator AgentName = "orchestrator"
	AgentPlanning     AgentName = "planning"
	AgentValidation   AgentName = "validation"
	AgentRespond      AgentName = "respond"
	AgentWeather      AgentName = "weather"
	AgentSearch       AgentName = "search"
	AgentToolServer   AgentName = "tool_server"
)

// MaxPlanSteps caps how many steps one plan may hold.
const MaxPlanSteps = 5

// WorkerNames lists the agents a plan step may target, in routing order.
var WorkerNames = []AgentName{AgentWeather, AgentSearch, AgentToolServer}

var workerAliases = map[string]AgentName{
	"weather":             AgentWeather,
	"weather_agent":       AgentWeather,
	"search":              AgentSearch,
	"search_agent":        AgentSearch,
	"gemini_search_agent": AgentSearch,
	"tool_server":         AgentToolServer,
	"tool_server_agent":   AgentToolServer,
	"mcp_agent":           AgentToolServer,
}

// ResolveWorker maps a planner-supplied agent name, including legacy
// aliases, to a registered worker.
func ResolveWorker(name string) (AgentName, bool) {
	agent, ok := workerAliases[strings.ToLower(strings.TrimSpace(name))]
	return agent, ok
}

type AgentMode string

const (
	ModeGeneral  AgentMode = "general"
	ModeResearch AgentMode = "research"
	ModeReport   AgentMode = "report"
)

// ParseMode defaults an empty mode to general.
func ParseMode(s string) (AgentMode, bool) {
	switch AgentMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeGeneral:
		return ModeGeneral, true
	case ModeResearch:
		return ModeResearch, true
	case ModeReport:
		return ModeReport, true
	default:
		return "", false
	}
}

type PlannerRequest struct {
	Query              string           `json:"query"`
	ValidationFeedback string           `json:"validation_feedback,omitempty"`
	Mode               AgentMode        `json:"agent_mode"`
	Workers            []AgentName      `json:"workers"`
	History            []statex.Message `json:"-"`
	Now                time.Time        `json:"now"`
}

type PlannerResponse struct {
	Steps []PlannedStep `json:"steps"`
	// Fallback marks a plan synthesized after the model failed.
	Fallback bool `json:"-"`
}

// FallbackPlan is a single search step over the raw query, used when no
// usable plan can be produced.
func FallbackPlan(query string) PlannerResponse {
	return PlannerResponse{
		Steps: []PlannedStep{{
			Description: "사용자 질문에 대한 정보 검색",
			Agent:       AgentSearch,
			Request:     query,
		}},
		Fallback: true,
	}
}

type PlannedStep struct {
	Description string    `json:"description"`
	Agent       AgentName `json:"agent"`
	Request     string    `json:"request,omitempty"`
	DependsOn   []int     `json:"depends_on,omitempty"`
}

type ValidatorRequest struct {
	Query   string                     `json:"query"`
	Plan    []statex.TaskStep          `json:"plan"`
	Results map[int]*statex.StepResult `json:"results"`
	Workers []AgentName                `json:"workers"`
}

type ResponderRequest struct {
	Query      string                     `json:"query"`
	Mode       AgentMode                  `json:"agent_mode"`
	Plan       []statex.TaskStep          `json:"plan"`
	Results    map[int]*statex.StepResult `json:"results"`
	Validation *statex.ValidationResult   `json:"validation_result,omitempty"`
	History    []statex.Message           `json:"-"`
	Failure    string                     `json:"failure,omitempty"`
}

type WorkerRequest struct {
	StepIndex   int              `json:"step_index"`
	Description string           `json:"description"`
	Request     string           `json:"request"`
	Query       string           `json:"query"`
	Mode        AgentMode        `json:"agent_mode"`
	History     []statex.Message `json:"-"`
}

type WorkerResponse struct {
	Message   string     `json:"message"`
	Data      any        `json:"data,omitempty"`
	Failed    bool       `json:"failed"`
	Error     string     `json:"error,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall records one capability invocation made during a worker run.
type ToolCall struct {
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args,omitempty"`
	OK         bool           `json:"ok"`
	Reason     string         `json:"reason,omitempty"`
}

// Capability is a named, schema-bearing, remotely invocable function.
type Capability struct {
	Name        string
	Server      string
	RemoteName  string
	Description string
	Params      map[string]*schema.ParameterInfo
}

// ToolInfo converts the capability to the form chat models bind.
func (c Capability) ToolInfo() *schema.ToolInfo {
	info := &schema.ToolInfo{
		Name: c.Name,
		Desc: c.Description,
	}
	if len(c.Params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(c.Params)
	}
	return info
}

// ToolResult is the terminal outcome of one invocation: OK with a payload,
// or not OK with the reason surfaced verbatim.
type ToolResult struct {
	Capability string `json:"capability"`
	OK         bool   `json:"ok"`
	Payload    any    `json:"payload,omitempty"`
	Text       string `json:"text,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
