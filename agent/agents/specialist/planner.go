package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

type plannerImpl struct {
	runner     compose.Runnable[map[string]any, *schema.Message]
	attempts   int
	llmTimeout time.Duration
	metrics    *metricsx.Recorder
}

type plannerLLMOutput struct {
	Steps []plannerLLMStep `json:"steps"`
}

type plannerLLMStep struct {
	Description string `json:"description"`
	Agent       string `json:"agent"`
	Request     string `json:"request"`
	DependsOn   []int  `json:"depends_on"`
}

func newPlanner(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts Options) (*plannerImpl, error) {
	runner, err := compileTextGraph(ctx, chatModel, systemPrompt, "planner.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile planner graph: %v", contractx.ErrModelInvoke, err)
	}
	attempts := opts.PlannerAttempts
	if attempts <= 0 {
		attempts = DefaultPlannerAttempts
	}
	return &plannerImpl{
		runner:     runner,
		attempts:   attempts,
		llmTimeout: opts.LLMTimeout,
		metrics:    opts.Metrics,
	}, nil
}

// Plan retries malformed replies and falls back to a single search step once
// the attempts are spent, so a plan always comes back for a valid query.
func (p *plannerImpl) Plan(ctx context.Context, req contractx.PlannerRequest) (contractx.PlannerResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return contractx.PlannerResponse{}, fmt.Errorf("%w: query is required", contractx.ErrValidation)
	}

	workers := req.Workers
	if len(workers) == 0 {
		workers = contractx.WorkerNames
	}
	input, err := marshalInput(map[string]any{
		"query":               query,
		"validation_feedback": req.ValidationFeedback,
		"agent_mode":          req.Mode,
		"workers":             workers,
		"now":                 req.Now.Format(time.RFC3339),
		"max_steps":           contractx.MaxPlanSteps,
	})
	if err != nil {
		return contractx.PlannerResponse{}, err
	}
	vars := templateVars(input, req.History)

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		callCtx, cancel := withCallTimeout(ctx, p.llmTimeout)
		msg, err := p.runner.Invoke(callCtx, vars)
		cancel()
		p.metrics.LLMCall(string(contractx.AgentPlanning), err)
		if err != nil {
			lastErr = fmt.Errorf("%w: planner invoke: %v", contractx.ErrModelInvoke, err)
			log.Warn().Err(err).Int("attempt", attempt).Msg("planner call failed")
			continue
		}

		steps, err := parsePlan(msg.Content)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("planner reply rejected")
			continue
		}
		if req.Mode == contractx.ModeResearch {
			steps = ensureSearchStep(steps, query)
		}
		return contractx.PlannerResponse{Steps: steps}, nil
	}

	log.Warn().Err(lastErr).Int("attempts", p.attempts).Msg("planner exhausted, using fallback plan")
	return contractx.FallbackPlan(query), nil
}

func ensureSearchStep(steps []contractx.PlannedStep, query string) []contractx.PlannedStep {
	for _, s := range steps {
		if s.Agent == contractx.AgentSearch {
			return steps
		}
	}
	search := contractx.PlannedStep{
		Description: "관련 자료 웹 검색",
		Agent:       contractx.AgentSearch,
		Request:     query,
	}
	if len(steps) >= contractx.MaxPlanSteps {
		steps = steps[:contractx.MaxPlanSteps-1]
	}
	return append(steps, search)
}

// parsePlan reads the JSON plan and falls back to the numbered-line form
// "1. description - 담당 에이전트: agent". A plan none of whose steps name a
// registered worker counts as malformed.
func parsePlan(content string) ([]contractx.PlannedStep, error) {
	steps, ok := parseJSONPlan(content)
	if !ok {
		steps = parseLinePlan(content)
		if len(steps) == 0 {
			return nil, fmt.Errorf("%w: plan is neither JSON nor numbered lines", contractx.ErrSchemaViolation)
		}
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: plan has no steps", contractx.ErrSchemaViolation)
	}
	for _, s := range steps {
		if _, ok := contractx.ResolveWorker(string(s.Agent)); ok {
			return steps, nil
		}
	}
	return nil, fmt.Errorf("%w: no step targets a registered worker", contractx.ErrSchemaViolation)
}

func parseJSONPlan(content string) ([]contractx.PlannedStep, bool) {
	var raw []plannerLLMStep
	if obj := extractJSON(content); obj != "" {
		var out plannerLLMOutput
		if err := json.Unmarshal([]byte(obj), &out); err == nil && out.Steps != nil {
			raw = out.Steps
		}
	}
	if raw == nil {
		arr := extractJSONArray(content)
		if arr == "" || json.Unmarshal([]byte(arr), &raw) != nil || raw == nil {
			return nil, false
		}
	}

	steps := make([]contractx.PlannedStep, 0, len(raw))
	for _, s := range raw {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			continue
		}
		steps = append(steps, contractx.PlannedStep{
			Description: desc,
			Agent:       resolveAgent(s.Agent),
			Request:     strings.TrimSpace(s.Request),
			DependsOn:   s.DependsOn,
		})
	}
	return steps, true
}

var (
	numberedLine = regexp.MustCompile(`^\s*(\d+)\s*[.:)]\s*(.+)$`)
	agentMarkers = []string{"- 담당 에이전트:", "- 담당:", "담당 에이전트:", "담당:", "에이전트:", "- agent:", "agent:"}
)

func parseLinePlan(content string) []contractx.PlannedStep {
	var steps []contractx.PlannedStep
	for _, line := range strings.Split(content, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc, agentText := m[2], ""
		for _, marker := range agentMarkers {
			if start, end := indexFold(desc, marker); start >= 0 {
				agentText = desc[end:]
				desc = desc[:start]
				break
			}
		}
		desc = strings.Trim(strings.TrimSpace(desc), "[]")
		if desc == "" {
			continue
		}

		agent := resolveAgent(strings.Trim(strings.TrimSpace(agentText), "[]`*"))
		if agentText == "" {
			agent = agentMentionedIn(line)
		}
		steps = append(steps, contractx.PlannedStep{
			Description: desc,
			Agent:       agent,
			Request:     desc,
		})
	}
	return steps
}

// indexFold finds substr in s under Unicode case folding and returns byte
// offsets into s itself, or -1, -1.
func indexFold(s, substr string) (int, int) {
	n := utf8.RuneCountInString(substr)
	for start := range s {
		end, k := start, 0
		for k < n && end < len(s) {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			k++
		}
		if k < n {
			break
		}
		if strings.EqualFold(s[start:end], substr) {
			return start, end
		}
	}
	return -1, -1
}

// resolveAgent maps aliases to workers and keeps unknown names verbatim so
// the caller can drop them.
func resolveAgent(name string) contractx.AgentName {
	if agent, ok := contractx.ResolveWorker(name); ok {
		return agent
	}
	return contractx.AgentName(strings.TrimSpace(name))
}

// agentMentionedIn defaults to search when a line names no worker.
func agentMentionedIn(line string) contractx.AgentName {
	lower := strings.ToLower(line)
	for _, alias := range []string{"weather_agent", "mcp_agent", "gemini_search_agent", "tool_server", "weather", "search"} {
		if strings.Contains(lower, alias) {
			agent, _ := contractx.ResolveWorker(alias)
			return agent
		}
	}
	return contractx.AgentSearch
}
