package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

type responderImpl struct {
	runner     compose.Runnable[map[string]any, *schema.Message]
	llmTimeout time.Duration
	metrics    *metricsx.Recorder
}

func newResponder(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts Options) (*responderImpl, error) {
	runner, err := compileTextGraph(ctx, chatModel, systemPrompt, "responder.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile responder graph: %v", contractx.ErrModelInvoke, err)
	}
	return &responderImpl{runner: runner, llmTimeout: opts.LLMTimeout, metrics: opts.Metrics}, nil
}

func (r *responderImpl) Respond(ctx context.Context, req contractx.ResponderRequest) (string, error) {
	payload := map[string]any{
		"query":      req.Query,
		"agent_mode": req.Mode,
		"steps":      viewSteps(req.Plan, req.Results),
	}
	if req.Validation != nil {
		payload["validation"] = req.Validation
	}
	if req.Failure != "" {
		payload["failure"] = req.Failure
	}
	input, err := marshalInput(payload)
	if err != nil {
		return "", err
	}

	callCtx, cancel := withCallTimeout(ctx, r.llmTimeout)
	defer cancel()
	msg, err := r.runner.Invoke(callCtx, templateVars(input, req.History))
	r.metrics.LLMCall(string(contractx.AgentRespond), err)
	if err != nil {
		return "", fmt.Errorf("%w: responder invoke: %v", contractx.ErrModelInvoke, err)
	}

	reply := ""
	if msg != nil {
		reply = strings.TrimSpace(msg.Content)
	}
	if reply == "" {
		return "", fmt.Errorf("%w: responder reply is empty", contractx.ErrSchemaViolation)
	}
	return reply, nil
}
