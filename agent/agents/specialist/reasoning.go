package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/tool"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

var errIterationLimit = errors.New("iteration limit reached")

// reasoningAgent is a tool-using worker: the model is called with the bound
// capability subset until it answers without tool calls or the iteration cap
// is hit.
type reasoningAgent struct {
	name          contractx.AgentName
	systemPrompt  string
	tools         tool.Set
	runner        compose.Runnable[[]*schema.Message, *schema.Message]
	maxIterations int
	llmTimeout    time.Duration
	metrics       *metricsx.Recorder
}

var _ contractx.Worker = (*reasoningAgent)(nil)

func newReasoningAgent(
	ctx context.Context,
	name contractx.AgentName,
	chatModel einomodel.ToolCallingChatModel,
	systemPrompt string,
	tools tool.Set,
	opts Options,
) (*reasoningAgent, error) {
	agent := &reasoningAgent{
		name:          name,
		systemPrompt:  systemPrompt,
		tools:         tools,
		maxIterations: opts.MaxIterations,
		llmTimeout:    opts.LLMTimeout,
		metrics:       opts.Metrics,
	}
	if agent.maxIterations <= 0 {
		agent.maxIterations = DefaultMaxIterations
	}
	if tools.Empty() {
		return agent, nil
	}

	bound, err := chatModel.WithTools(tools.Infos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools for agent=%s: %v", contractx.ErrModelInvoke, name, err)
	}
	runner, err := compileToolStepGraph(ctx, bound, string(name)+".reasoning_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile reasoning graph for agent=%s: %v", contractx.ErrModelInvoke, name, err)
	}
	agent.runner = runner
	return agent, nil
}

// Run never returns an error for model or tool trouble; those end as a failed
// step with an explanatory message.
func (a *reasoningAgent) Run(ctx context.Context, req contractx.WorkerRequest) (contractx.WorkerResponse, error) {
	logger := log.With().Str("agent", string(a.name)).Int("step", req.StepIndex).Logger()

	if a.tools.Empty() || a.runner == nil {
		logger.Warn().Msg("no capabilities bound")
		return contractx.WorkerResponse{
			Message: fmt.Sprintf("%s 에이전트가 사용할 수 있는 도구가 없어 요청을 처리하지 못했습니다.", a.name),
			Failed:  true,
			Error:   "no capabilities bound",
		}, nil
	}

	input, err := marshalInput(map[string]any{
		"request":        req.Request,
		"description":    req.Description,
		"original_query": req.Query,
		"agent_mode":     req.Mode,
	})
	if err != nil {
		return contractx.WorkerResponse{}, err
	}

	msgs := make([]*schema.Message, 0, 8+len(req.History))
	msgs = append(msgs, schema.SystemMessage(a.systemPrompt))
	msgs = append(msgs, toSchemaHistory(req.History)...)
	msgs = append(msgs, schema.UserMessage(input))

	var (
		calls       []contractx.ToolCall
		lastToolErr string
		data        any
	)

	for iter := 0; iter < a.maxIterations; iter++ {
		callCtx, cancel := withCallTimeout(ctx, a.llmTimeout)
		out, err := a.runner.Invoke(callCtx, msgs)
		cancel()
		a.metrics.LLMCall(string(a.name), err)

		if err != nil {
			logger.Warn().Err(err).Int("iteration", iter).Msg("model call failed")
			return contractx.WorkerResponse{
				Message:   fmt.Sprintf("%s 에이전트가 언어 모델을 호출하지 못했습니다.", a.name),
				Failed:    true,
				Error:     fmt.Errorf("%w: %v", contractx.ErrLLMUnavailable, err).Error(),
				ToolCalls: calls,
			}, nil
		}
		if out == nil {
			out = &schema.Message{Role: schema.Assistant}
		}

		if len(out.ToolCalls) == 0 {
			content := strings.TrimSpace(out.Content)
			resp := contractx.WorkerResponse{Message: content, Data: data, ToolCalls: calls}
			switch {
			case lastToolErr != "":
				resp.Failed = true
				resp.Error = lastToolErr
				if resp.Message == "" {
					resp.Message = fmt.Sprintf("도구 호출이 실패했습니다: %s", lastToolErr)
				}
			case content == "":
				resp.Failed = true
				resp.Error = "empty model reply"
				resp.Message = fmt.Sprintf("%s 에이전트가 빈 응답을 반환했습니다.", a.name)
			}
			logger.Debug().Int("iterations", iter+1).Bool("failed", resp.Failed).Msg("reasoning finished")
			return resp, nil
		}

		msgs = append(msgs, out)
		for _, tc := range out.ToolCalls {
			call, result := a.invoke(ctx, tc)
			calls = append(calls, call)
			if call.OK {
				lastToolErr = ""
				data = result.Payload
			} else {
				lastToolErr = call.Reason
			}
			msgs = append(msgs, schema.ToolMessage(toolMessageContent(call, result), tc.ID))
		}
	}

	logger.Warn().Int("max_iterations", a.maxIterations).Msg("iteration limit reached")
	return contractx.WorkerResponse{
		Message:   fmt.Sprintf("최대 반복 횟수(%d)에 도달하여 작업을 끝내지 못했습니다.", a.maxIterations),
		Failed:    true,
		Error:     errIterationLimit.Error(),
		Data:      data,
		ToolCalls: calls,
	}, nil
}

func (a *reasoningAgent) invoke(ctx context.Context, tc schema.ToolCall) (contractx.ToolCall, contractx.ToolResult) {
	name := strings.TrimSpace(tc.Function.Name)
	call := contractx.ToolCall{Capability: name}

	args := map[string]any{}
	if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			call.Reason = fmt.Sprintf("%v: invalid arguments for %s: %v", contractx.ErrSchemaViolation, name, err)
			return call, contractx.ToolResult{Capability: name, Reason: call.Reason}
		}
	}
	call.Args = args

	if !a.tools.Allows(name) {
		call.Reason = fmt.Errorf("%w: %s", contractx.ErrCapabilityUnknown, name).Error()
		return call, contractx.ToolResult{Capability: name, Reason: call.Reason}
	}

	res, err := a.tools.Exec(ctx, name, args)
	switch {
	case err != nil:
		call.Reason = err.Error()
		if res.Reason == "" {
			res.Reason = call.Reason
		}
	case !res.OK:
		call.Reason = res.Reason
	default:
		call.OK = true
	}
	return call, res
}

func toolMessageContent(call contractx.ToolCall, res contractx.ToolResult) string {
	if !call.OK {
		return "error: " + call.Reason
	}
	if res.Text != "" {
		return res.Text
	}
	if res.Payload != nil {
		if raw, err := json.Marshal(res.Payload); err == nil {
			return string(raw)
		}
	}
	return "ok"
}
