package orchestratornode

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

const (
	reasonDeadline       = "처리 시간이 초과되었습니다."
	reasonDependencyFail = "선행 단계가 실패했습니다."
	reasonUnreachable    = "선행 단계가 완료될 수 없습니다."
)

// Orchestrate decides the next hop from the plan, step statuses and the
// validation verdict. It is the only node that routes to workers.
func Orchestrate(in *GraphState, maxReplans int, metrics *metricsx.Recorder) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	st := in.Conversation
	now := in.now()

	if in.expired() {
		in.DeadlineExceeded = true
		failOpenSteps(st, reasonDeadline, now)
		st.SetContext(statex.ContextFailureReason, contractx.ErrGraphDeadlineExceeded.Error())
		st.CurrentStep = nil
		st.ValidationResult = nil
		st.Status = statex.StatusFailed
		return route(in, NodeRespond), nil
	}

	if st.Status == statex.StatusFailed {
		st.Status = statex.StatusResponding
		return route(in, NodeRespond), nil
	}

	if !st.HasPlan() {
		st.Status = statex.StatusPlanning
		return route(in, NodePlanning), nil
	}

	failBlockedSteps(st, now)

	if idx, ok := nextReadyStep(st); ok {
		step := &st.Plan[idx]
		step.Status = statex.StepExecuting
		st.CurrentStep = &idx
		st.Status = statex.StatusExecuting
		return route(in, step.Agent), nil
	}

	// Anything still open now waits on a step that will never complete.
	failOpenSteps(st, reasonUnreachable, now)
	st.CurrentStep = nil

	if st.ValidationResult == nil {
		st.Status = statex.StatusValidating
		return route(in, NodeValidation), nil
	}

	if !st.ValidationResult.IsComplete && in.Replans < maxReplans {
		replan(in, metrics)
		return route(in, NodePlanning), nil
	}

	st.Status = statex.StatusResponding
	return route(in, NodeRespond), nil
}

func route(in *GraphState, next string) *GraphState {
	in.Conversation.Next = next
	return in
}

// nextReadyStep returns the lowest open step whose dependencies completed.
func nextReadyStep(st *statex.ConversationState) (int, bool) {
	for i, step := range st.Plan {
		if step.IsTerminal() {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			d := st.Step(dep)
			if d == nil || d.Status != statex.StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			return i, true
		}
	}
	return 0, false
}

// failBlockedSteps fails open steps that depend on a failed or missing step,
// repeating until the failure has propagated through the chain.
func failBlockedSteps(st *statex.ConversationState, now time.Time) {
	for changed := true; changed; {
		changed = false
		for i := range st.Plan {
			step := &st.Plan[i]
			if step.IsTerminal() {
				continue
			}
			for _, dep := range step.DependsOn {
				d := st.Step(dep)
				if d == nil || d.Status == statex.StepFailed {
					markFailed(step, reasonDependencyFail, now)
					changed = true
					break
				}
			}
		}
	}
}

func failOpenSteps(st *statex.ConversationState, reason string, now time.Time) {
	for i := range st.Plan {
		if !st.Plan[i].IsTerminal() {
			markFailed(&st.Plan[i], reason, now)
		}
	}
}

func markFailed(step *statex.TaskStep, reason string, now time.Time) {
	step.Status = statex.StepFailed
	step.Error = reason
	step.CompletedAt = now
}

// replan feeds the validator's verdict back to the planner and clears the
// turn's plan so the next one starts clean.
func replan(in *GraphState, metrics *metricsx.Recorder) {
	st := in.Conversation
	v := st.ValidationResult

	feedback := strings.TrimSpace(v.Feedback)
	if len(v.MissingInformation) > 0 {
		feedback = strings.TrimSpace(feedback + "\n부족한 정보: " + strings.Join(v.MissingInformation, ", "))
	}
	if len(v.SuggestedAgents) > 0 {
		feedback = strings.TrimSpace(feedback + "\n추천 에이전트: " + strings.Join(v.SuggestedAgents, ", "))
	}

	st.SetContext(statex.ContextValidationFeedback, feedback)
	st.SetContext(statex.ContextPreviousPlanHash, statex.PlanHash(st.Plan))
	st.Plan = nil
	st.Results = map[int]*statex.StepResult{}
	st.ValidationResult = nil
	st.CurrentStep = nil
	st.Status = statex.StatusPlanning

	in.Replans++
	metrics.Replan()
	log.Info().
		Str("thread_id", st.ThreadID).
		Int("replans", in.Replans).
		Int("score", v.CompletenessScore).
		Msg("validation incomplete, replanning")
}
