package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

type validatorImpl struct {
	runner     compose.Runnable[map[string]any, statex.ValidationResult]
	llmTimeout time.Duration
	metrics    *metricsx.Recorder
}

func newValidator(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, opts Options) (*validatorImpl, error) {
	runner, err := compileStructuredLLMGraph[statex.ValidationResult](ctx, chatModel, systemPrompt, "validator.model_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile validator graph: %v", contractx.ErrModelInvoke, err)
	}
	return &validatorImpl{runner: runner, llmTimeout: opts.LLMTimeout, metrics: opts.Metrics}, nil
}

func (v *validatorImpl) Validate(ctx context.Context, req contractx.ValidatorRequest) (statex.ValidationResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return statex.ValidationResult{}, fmt.Errorf("%w: query is required", contractx.ErrValidation)
	}

	input, err := marshalInput(map[string]any{
		"query":   req.Query,
		"steps":   viewSteps(req.Plan, req.Results),
		"workers": req.Workers,
	})
	if err != nil {
		return statex.ValidationResult{}, err
	}

	callCtx, cancel := withCallTimeout(ctx, v.llmTimeout)
	defer cancel()
	out, err := v.runner.Invoke(callCtx, templateVars(input, nil))
	v.metrics.LLMCall(string(contractx.AgentValidation), err)
	if err != nil {
		return statex.ValidationResult{}, fmt.Errorf("%w: validator invoke: %v", contractx.ErrModelInvoke, err)
	}

	out.Normalize()
	return out, nil
}
