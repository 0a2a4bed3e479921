package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// Respond composes the final assistant message. It always produces one: a
// canned timeout reply past the deadline, and a summary of the step results
// when the responder cannot answer.
func Respond(ctx context.Context, in *GraphState, responder contractx.Responder) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	st := in.Conversation
	failure := st.ContextString(statex.ContextFailureReason)

	var reply string
	if in.DeadlineExceeded || in.expired() {
		reply = TimeoutReply(st.Plan, st.Results)
	} else {
		callCtx, cancel := in.bounded(ctx)
		out, err := responder.Respond(callCtx, contractx.ResponderRequest{
			Query:      st.OriginalQuery,
			Mode:       in.Mode,
			Plan:       st.Plan,
			Results:    st.Results,
			Validation: st.ValidationResult,
			History:    in.History,
			Failure:    failure,
		})
		cancel()
		reply = strings.TrimSpace(out)
		if err != nil || reply == "" {
			log.Warn().Err(err).Str("thread_id", st.ThreadID).Msg("responder failed, summarising step results")
			reply = FallbackReply(st.Plan, st.Results, failure)
		}
	}

	st.AppendMessage(statex.Message{
		Role:      statex.RoleAssistant,
		Content:   reply,
		Name:      NodeRespond,
		CreatedAt: in.now(),
	})
	st.FinalResponse = reply
	st.CurrentStep = nil
	st.Status = statex.StatusCompleted
	return route(in, statex.NextEnd), nil
}

// FallbackReply is the reply used when the responder model is unavailable.
func FallbackReply(plan []statex.TaskStep, results map[int]*statex.StepResult, failure string) string {
	var b strings.Builder
	b.WriteString("죄송합니다. 응답을 생성하는 중 문제가 발생했습니다.")
	if failure = strings.TrimSpace(failure); failure != "" {
		fmt.Fprintf(&b, " (%s)", failure)
	}
	if summary := summarizeSteps(plan, results); summary != "" {
		b.WriteString("\n\n지금까지 확인된 내용입니다:\n")
		b.WriteString(summary)
	}
	return b.String()
}

// TimeoutReply explains that the turn ran out of time, with any partial
// results gathered before the deadline.
func TimeoutReply(plan []statex.TaskStep, results map[int]*statex.StepResult) string {
	var b strings.Builder
	b.WriteString("죄송합니다. 요청 처리 시간이 초과되어 답변을 완료하지 못했습니다.")
	if summary := summarizeSteps(plan, results); summary != "" {
		b.WriteString("\n\n시간 내에 확인된 내용입니다:\n")
		b.WriteString(summary)
	} else {
		b.WriteString(" 잠시 후 다시 시도해 주세요.")
	}
	return b.String()
}

func summarizeSteps(plan []statex.TaskStep, results map[int]*statex.StepResult) string {
	var lines []string
	for i, step := range plan {
		switch step.Status {
		case statex.StepCompleted:
			content := step.Response
			if res, ok := results[i]; ok && res != nil && res.Content != "" {
				content = res.Content
			}
			lines = append(lines, fmt.Sprintf("- %s: %s", step.Description, strings.TrimSpace(content)))
		case statex.StepFailed:
			reason := step.Error
			if reason == "" {
				reason = "실패"
			}
			lines = append(lines, fmt.Sprintf("- %s: 실패 (%s)", step.Description, reason))
		}
	}
	return strings.Join(lines, "\n")
}
