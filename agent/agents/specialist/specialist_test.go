package specialist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/tool"
)

type fakeToolCallingModel struct {
	mu        sync.Mutex
	responses []*schema.Message
	errs      []error
	repeat    *schema.Message
	inputs    [][]*schema.Message
	tools     []*schema.ToolInfo
	idx       int
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, input)
	i := f.idx
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	if f.repeat != nil {
		return f.repeat, nil
	}
	return nil, errors.New("no fake response left")
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
	return f, nil
}

func (f *fakeToolCallingModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func (f *fakeToolCallingModel) input(i int) []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[i]
}

func reply(content string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: content}
}

func toolCall(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func testOptions() Options {
	return Options{MaxIterations: 10, PlannerAttempts: 3, LLMTimeout: time.Second}
}

func weatherSet(exec tool.Executor) tool.Set {
	return tool.Set{
		Capabilities: []contractx.Capability{{
			Name:   "get_country_temperature",
			Server: "weather",
			Params: map[string]*schema.ParameterInfo{
				"country": {Type: schema.String, Required: true},
			},
		}},
		Exec: exec,
	}
}

func TestPlannerParsesFencedJSON(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		reply("```json\n{\"steps\":[{\"description\":\"서울 날씨 조회\",\"agent\":\"weather_agent\",\"request\":\"서울 기온\",\"depends_on\":[]},]}\n```"),
	}}
	planner, err := newPlanner(context.Background(), fake, "planner prompt", testOptions())
	if err != nil {
		t.Fatalf("newPlanner() error = %v", err)
	}

	out, err := planner.Plan(context.Background(), contractx.PlannerRequest{Query: "서울 날씨 알려줘", Mode: contractx.ModeGeneral})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if out.Fallback {
		t.Fatal("did not expect a fallback plan")
	}
	if len(out.Steps) != 1 || out.Steps[0].Agent != contractx.AgentWeather || out.Steps[0].Request != "서울 기온" {
		t.Fatalf("unexpected steps: %#v", out.Steps)
	}
}

func TestPlannerParsesNumberedLines(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		reply("계획:\n1. 서울의 현재 기온 조회 - 담당 에이전트: weather_agent\n2. 관련 뉴스 검색 - 담당 에이전트: gemini_search_agent\n3. 대시보드 조회 - 담당: mcp_agent"),
	}}
	planner, err := newPlanner(context.Background(), fake, "planner prompt", testOptions())
	if err != nil {
		t.Fatalf("newPlanner() error = %v", err)
	}

	out, err := planner.Plan(context.Background(), contractx.PlannerRequest{Query: "서울 날씨와 뉴스"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []contractx.AgentName{contractx.AgentWeather, contractx.AgentSearch, contractx.AgentToolServer}
	if len(out.Steps) != len(want) {
		t.Fatalf("expected %d steps, got %#v", len(want), out.Steps)
	}
	for i, agent := range want {
		if out.Steps[i].Agent != agent {
			t.Fatalf("step %d: expected agent %s, got %s", i, agent, out.Steps[i].Agent)
		}
	}
	if out.Steps[0].Description != "서울의 현재 기온 조회" {
		t.Fatalf("unexpected description: %q", out.Steps[0].Description)
	}
}

func TestParseLinePlanCaseChangingRunes(t *testing.T) {
	t.Parallel()

	steps := parseLinePlan("1. ȺȺȺȺȺȺȺȺ agent: weather\n2. İİİİİİ - 담당 에이전트: search\n3. ΣΑΣ AGENT: mcp_agent")
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %#v", steps)
	}
	want := []struct {
		desc  string
		agent contractx.AgentName
	}{
		{"ȺȺȺȺȺȺȺȺ", contractx.AgentWeather},
		{"İİİİİİ", contractx.AgentSearch},
		{"ΣΑΣ", contractx.AgentToolServer},
	}
	for i, w := range want {
		if !utf8.ValidString(steps[i].Description) {
			t.Fatalf("step %d: invalid UTF-8 description %q", i, steps[i].Description)
		}
		if steps[i].Description != w.desc || steps[i].Agent != w.agent {
			t.Fatalf("step %d: got %q/%s, want %q/%s", i, steps[i].Description, steps[i].Agent, w.desc, w.agent)
		}
	}

	bare := parseLinePlan("1. ȺȺȺȺȺȺȺȺ agent:")
	if len(bare) != 1 || bare[0].Description != "ȺȺȺȺȺȺȺȺ" {
		t.Fatalf("unexpected steps for marker without agent: %#v", bare)
	}

	if start, end := indexFold("ȺȺ Agent:", "agent:"); start != 5 || end != 11 {
		t.Fatalf("indexFold offsets = %d,%d, want 5,11", start, end)
	}
}

func TestPlannerRetriesPlanWithoutKnownWorkers(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		reply(`{"steps":[{"description":"일정 확인","agent":"calendar"}]}`),
		reply(`{"steps":[{"description":"일정 검색","agent":"search","request":"내일 일정"}]}`),
	}}
	planner, err := newPlanner(context.Background(), fake, "planner prompt", testOptions())
	if err != nil {
		t.Fatalf("newPlanner() error = %v", err)
	}

	out, err := planner.Plan(context.Background(), contractx.PlannerRequest{Query: "내일 일정 알려줘"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if fake.calls() != 2 {
		t.Fatalf("expected 2 attempts, got %d", fake.calls())
	}
	if out.Fallback || len(out.Steps) != 1 || out.Steps[0].Agent != contractx.AgentSearch || out.Steps[0].Request != "내일 일정" {
		t.Fatalf("unexpected plan: %#v", out)
	}
}

func TestPlannerFallsBackAfterAttempts(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{reply("not a plan"), nil, reply("still nothing")},
		errs:      []error{nil, errors.New("quota exceeded"), nil},
	}
	planner, err := newPlanner(context.Background(), fake, "planner prompt", testOptions())
	if err != nil {
		t.Fatalf("newPlanner() error = %v", err)
	}

	out, err := planner.Plan(context.Background(), contractx.PlannerRequest{Query: "무엇이든"})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if fake.calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.calls())
	}
	if !out.Fallback || len(out.Steps) != 1 || out.Steps[0].Agent != contractx.AgentSearch || out.Steps[0].Request != "무엇이든" {
		t.Fatalf("unexpected fallback plan: %#v", out)
	}
}

func TestPlannerResearchModeAddsSearch(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		reply(`{"steps":[{"description":"기온 조회","agent":"weather"}]}`),
	}}
	planner, err := newPlanner(context.Background(), fake, "planner prompt", testOptions())
	if err != nil {
		t.Fatalf("newPlanner() error = %v", err)
	}

	out, err := planner.Plan(context.Background(), contractx.PlannerRequest{Query: "기후 변화 조사", Mode: contractx.ModeResearch})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(out.Steps) != 2 || out.Steps[1].Agent != contractx.AgentSearch {
		t.Fatalf("expected a trailing search step, got %#v", out.Steps)
	}
}

func TestPlannerRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	planner, err := newPlanner(context.Background(), &fakeToolCallingModel{}, "planner prompt", testOptions())
	if err != nil {
		t.Fatalf("newPlanner() error = %v", err)
	}
	if _, err := planner.Plan(context.Background(), contractx.PlannerRequest{Query: "  "}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidatorNormalizesVerdict(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		reply("평가 결과:\n{\"is_complete\":true,\"completeness_score\":12,\"feedback\":\"부족\",\"missing_information\":[\"부산 기온\"],\"suggested_agents\":[\"weather\"]}"),
	}}
	validator, err := newValidator(context.Background(), fake, "validation prompt", testOptions())
	if err != nil {
		t.Fatalf("newValidator() error = %v", err)
	}

	out, err := validator.Validate(context.Background(), contractx.ValidatorRequest{
		Query: "서울과 부산 날씨",
		Plan:  []statex.TaskStep{{Description: "서울 기온", Agent: "weather", Status: statex.StepCompleted}},
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if out.CompletenessScore != 10 {
		t.Fatalf("expected clamped score 10, got %d", out.CompletenessScore)
	}
	if out.IsComplete {
		t.Fatal("verdict with missing information must not be complete")
	}
}

func TestValidatorModelError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{errs: []error{errors.New("503")}}
	validator, err := newValidator(context.Background(), fake, "validation prompt", testOptions())
	if err != nil {
		t.Fatalf("newValidator() error = %v", err)
	}
	_, err = validator.Validate(context.Background(), contractx.ValidatorRequest{Query: "q"})
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestResponderUsesHistoryAndRejectsEmpty(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{reply("서울은 25도입니다."), reply("  ")}}
	responder, err := newResponder(context.Background(), fake, "respond prompt", testOptions())
	if err != nil {
		t.Fatalf("newResponder() error = %v", err)
	}

	req := contractx.ResponderRequest{
		Query: "서울 날씨",
		History: []statex.Message{
			{Role: statex.RoleUser, Content: "A"},
			{Role: statex.RoleAssistant, Content: "B", Name: "respond"},
		},
	}
	out, err := responder.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if out != "서울은 25도입니다." {
		t.Fatalf("unexpected reply: %q", out)
	}
	in := fake.input(0)
	if len(in) != 4 || in[1].Content != "A" || in[2].Content != "B" {
		t.Fatalf("expected system, two history messages and input, got %d messages", len(in))
	}

	if _, err := responder.Respond(context.Background(), req); !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestReasoningAgentToolLoop(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("call_1", "get_country_temperature", `{"country":"Korea"}`),
		reply("한국의 기온은 25도입니다."),
	}}
	var got map[string]any
	set := weatherSet(func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		got = args
		return contractx.ToolResult{Capability: capability, OK: true, Text: "Korea: 25°C", Payload: map[string]any{"temp": 25}}, nil
	})

	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", set, testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}
	if len(fake.tools) != 1 || fake.tools[0].Name != "get_country_temperature" {
		t.Fatalf("unexpected bound tools: %#v", fake.tools)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "한국 기온", Query: "한국 날씨"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Failed || resp.Message != "한국의 기온은 25도입니다." {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if got["country"] != "Korea" {
		t.Fatalf("unexpected tool args: %#v", got)
	}
	if len(resp.ToolCalls) != 1 || !resp.ToolCalls[0].OK {
		t.Fatalf("unexpected tool calls: %#v", resp.ToolCalls)
	}

	second := fake.input(1)
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call_1" || last.Content != "Korea: 25°C" {
		t.Fatalf("expected tool message as last input, got %#v", last)
	}
}

func TestReasoningAgentToolErrorFailsStep(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("call_1", "get_country_temperature", `{"country":"Atlantis"}`),
		reply("아틀란티스의 기온을 찾지 못했습니다."),
	}}
	set := weatherSet(func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		return contractx.ToolResult{Capability: capability, Reason: "unknown country: Atlantis"}, nil
	})
	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", set, testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "아틀란티스 기온"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !resp.Failed || resp.Error != "unknown country: Atlantis" {
		t.Fatalf("expected failed step with verbatim reason, got %#v", resp)
	}
	last := fake.input(1)[len(fake.input(1))-1]
	if last.Content != "error: unknown country: Atlantis" {
		t.Fatalf("unexpected tool message: %q", last.Content)
	}
}

func TestReasoningAgentToolTimeoutFailsStep(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("call_1", "get_country_temperature", `{"country":"Korea"}`),
		reply("기온을 확인하지 못했습니다."),
	}}
	set := weatherSet(func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		reason := "timed out after 100ms: context deadline exceeded"
		return contractx.ToolResult{Capability: capability, Reason: reason},
			fmt.Errorf("%w: %s: %s", contractx.ErrToolInvocationFailed, capability, reason)
	})
	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", set, testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "한국 기온"})
	if err != nil {
		t.Fatalf("a tool timeout must fail the step, not the turn: %v", err)
	}
	if !resp.Failed || !strings.Contains(resp.Error, "timed out") {
		t.Fatalf("expected failed step with timeout reason, got %#v", resp)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Reason == "" {
		t.Fatalf("expected the timed out call to be recorded, got %#v", resp.ToolCalls)
	}
}

func TestReasoningAgentRecoversAfterToolError(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("call_1", "get_country_temperature", `{"country":"Seoul"}`),
		toolCall("call_2", "get_country_temperature", `{"country":"Korea"}`),
		reply("25도입니다."),
	}}
	set := weatherSet(func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		if args["country"] == "Seoul" {
			return contractx.ToolResult{Capability: capability, Reason: "unknown country: Seoul"}, nil
		}
		return contractx.ToolResult{Capability: capability, OK: true, Text: "25"}, nil
	})
	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", set, testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "서울 기온"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Failed {
		t.Fatalf("a later successful call must clear the failure, got %#v", resp)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.ToolCalls))
	}
}

func TestReasoningAgentRejectsUnboundCapability(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{responses: []*schema.Message{
		toolCall("call_1", "delete_everything", `{}`),
		reply("할 수 없습니다."),
	}}
	invoked := false
	set := weatherSet(func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		invoked = true
		return contractx.ToolResult{OK: true}, nil
	})
	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", set, testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if invoked {
		t.Fatal("an unbound capability must not reach the executor")
	}
	if !resp.Failed || !strings.Contains(resp.Error, contractx.ErrCapabilityUnknown.Error()) {
		t.Fatalf("expected capability unknown failure, got %#v", resp)
	}
}

func TestReasoningAgentIterationCap(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{repeat: toolCall("call", "get_country_temperature", `{"country":"Korea"}`)}
	set := weatherSet(func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		return contractx.ToolResult{Capability: capability, OK: true, Text: "25"}, nil
	})
	opts := testOptions()
	opts.MaxIterations = 3
	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", set, opts)
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !resp.Failed || resp.Error != errIterationLimit.Error() {
		t.Fatalf("expected iteration limit failure, got %#v", resp)
	}
	if fake.calls() != 3 {
		t.Fatalf("expected 3 model calls, got %d", fake.calls())
	}
}

func TestReasoningAgentModelFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{errs: []error{errors.New("connection refused")}}
	agent, err := newReasoningAgent(context.Background(), contractx.AgentWeather, fake, "weather prompt", weatherSet(nil), testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !resp.Failed || !strings.Contains(resp.Error, contractx.ErrLLMUnavailable.Error()) {
		t.Fatalf("expected llm unavailable failure, got %#v", resp)
	}
}

func TestReasoningAgentWithoutCapabilities(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{}
	agent, err := newReasoningAgent(context.Background(), contractx.AgentToolServer, fake, "tool prompt", tool.Set{}, testOptions())
	if err != nil {
		t.Fatalf("newReasoningAgent() error = %v", err)
	}

	resp, err := agent.Run(context.Background(), contractx.WorkerRequest{Request: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !resp.Failed || fake.calls() != 0 {
		t.Fatalf("expected failure without a model call, got %#v after %d calls", resp, fake.calls())
	}
}

type failingGateway struct{}

func (failingGateway) Initialize(ctx context.Context) error {
	return contractx.ErrToolServerUnavailable
}

func (failingGateway) Capabilities() []contractx.Capability { return nil }

func (failingGateway) Invoke(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
	return contractx.ToolResult{}, contractx.ErrCapabilityUnknown
}

func TestGatewayWorkerUnavailable(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Gateway = failingGateway{}
	w := &gatewayWorker{name: contractx.AgentWeather, model: &fakeToolCallingModel{}, systemPrompt: "p", opts: opts}

	resp, err := w.Run(context.Background(), contractx.WorkerRequest{Request: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !resp.Failed || !strings.Contains(resp.Error, contractx.ErrToolServerUnavailable.Error()) {
		t.Fatalf("expected tool server unavailable failure, got %#v", resp)
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"```json\n{\"a\": 1}\n```":              `{"a": 1}`,
		"앞 설명 {\"a\": \"http://x\", // note\n}": `{"a": "http://x"}`,
		"no json here":                          "",
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Fatalf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
