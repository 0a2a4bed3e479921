package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// RunWorker executes the current step with the named worker and records
// exactly one assistant message for it.
func RunWorker(ctx context.Context, in *GraphState, name contractx.AgentName, registry contractx.Registry) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	st := in.Conversation
	if st.CurrentStep == nil {
		log.Warn().Str("thread_id", st.ThreadID).Str("agent", string(name)).Msg("worker reached without current step")
		return route(in, NodeOrchestrator), nil
	}
	idx := *st.CurrentStep
	step := st.Step(idx)
	if step == nil {
		return nil, fmt.Errorf("%w: current_step=%d out of range", statex.ErrInvariantViolation, idx)
	}

	request := strings.TrimSpace(step.Request)
	if request == "" {
		request, _ = st.LastUserMessage()
	}
	step.Status = statex.StepExecuting
	step.StartedAt = in.now()

	logger := log.With().Str("thread_id", st.ThreadID).Str("agent", string(name)).Int("step", idx).Logger()

	var resp contractx.WorkerResponse
	worker, ok := registry.Worker(name)
	if !ok {
		resp = contractx.WorkerResponse{
			Message: fmt.Sprintf("%s 에이전트를 찾을 수 없습니다.", name),
			Failed:  true,
			Error:   fmt.Errorf("%w: worker %s", contractx.ErrCapabilityUnknown, name).Error(),
		}
	} else {
		callCtx, cancel := in.bounded(ctx)
		var err error
		resp, err = worker.Run(callCtx, contractx.WorkerRequest{
			StepIndex:   idx,
			Description: step.Description,
			Request:     request,
			Query:       st.OriginalQuery,
			Mode:        in.Mode,
			History:     in.History,
		})
		cancel()
		if err != nil {
			resp = contractx.WorkerResponse{
				Message: fmt.Sprintf("%s 에이전트 실행 중 오류가 발생했습니다.", name),
				Failed:  true,
				Error:   err.Error(),
			}
		}
	}

	message := strings.TrimSpace(resp.Message)
	if message == "" {
		message = fmt.Sprintf("%s 에이전트가 응답을 반환하지 않았습니다.", name)
	}
	st.AppendMessage(statex.Message{
		Role:      statex.RoleAssistant,
		Content:   message,
		Name:      string(name),
		CreatedAt: in.now(),
	})

	step.CompletedAt = in.now()
	if resp.Failed {
		step.Status = statex.StepFailed
		step.Error = resp.Error
		if step.Error == "" {
			step.Error = message
		}
		logger.Warn().Str("error", step.Error).Int("tool_calls", len(resp.ToolCalls)).Msg("step failed")
	} else {
		step.Status = statex.StepCompleted
		step.Response = message
		st.SetResult(idx, &statex.StepResult{
			Agent:   string(name),
			Content: message,
			Data:    resp.Data,
		})
		logger.Info().Int("tool_calls", len(resp.ToolCalls)).Msg("step completed")
	}

	st.CurrentStep = nil
	return route(in, NodeOrchestrator), nil
}
