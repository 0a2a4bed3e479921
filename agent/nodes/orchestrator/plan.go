package orchestratornode

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// Plan asks the planner for steps and installs them. A planner error or a
// plan with no usable steps falls back to a single search step.
func Plan(ctx context.Context, in *GraphState, planner contractx.Planner) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	st := in.Conversation
	now := in.now()
	query := st.OriginalQuery

	callCtx, cancel := in.bounded(ctx)
	resp, err := planner.Plan(callCtx, contractx.PlannerRequest{
		Query:              query,
		ValidationFeedback: st.ContextString(statex.ContextValidationFeedback),
		Mode:               in.Mode,
		Workers:            contractx.WorkerNames,
		History:            in.History,
		Now:                now,
	})
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("thread_id", st.ThreadID).Msg("planner failed, using fallback plan")
		resp = contractx.FallbackPlan(query)
	}

	steps := normalizePlan(resp.Steps, now)
	if len(steps) == 0 {
		log.Warn().Str("thread_id", st.ThreadID).Msg("plan has no usable steps, using fallback plan")
		steps = normalizePlan(contractx.FallbackPlan(query).Steps, now)
	}

	if prev := st.ContextString(statex.ContextPreviousPlanHash); prev != "" && prev == statex.PlanHash(steps) {
		perturbPlan(steps, st.ContextString(statex.ContextValidationFeedback))
	}

	st.Plan = steps
	st.Results = map[int]*statex.StepResult{}
	st.CurrentStep = nil
	st.ValidationResult = nil
	st.Status = statex.StatusPlanning

	log.Info().
		Str("thread_id", st.ThreadID).
		Int("steps", len(steps)).
		Bool("fallback", resp.Fallback).
		Msg("plan installed")
	return route(in, NodeOrchestrator), nil
}

// normalizePlan drops steps for unknown workers, remaps dependencies to the
// surviving indices, keeps at most contractx.MaxPlanSteps and only backward edges.
func normalizePlan(planned []contractx.PlannedStep, now time.Time) []statex.TaskStep {
	remap := map[int]int{}
	kept := make([]contractx.PlannedStep, 0, len(planned))
	for i, p := range planned {
		agent, ok := contractx.ResolveWorker(string(p.Agent))
		if !ok || strings.TrimSpace(p.Description) == "" {
			log.Debug().Str("agent", string(p.Agent)).Msg("dropping plan step")
			continue
		}
		if len(kept) == contractx.MaxPlanSteps {
			break
		}
		p.Agent = agent
		remap[i] = len(kept)
		kept = append(kept, p)
	}

	steps := make([]statex.TaskStep, 0, len(kept))
	for i, p := range kept {
		var deps []int
		for _, d := range p.DependsOn {
			nd, ok := remap[d]
			if !ok || nd >= i {
				continue
			}
			deps = append(deps, nd)
		}
		steps = append(steps, statex.TaskStep{
			Description: strings.TrimSpace(p.Description),
			Agent:       string(p.Agent),
			Status:      statex.StepPlanning,
			Request:     strings.TrimSpace(p.Request),
			DependsOn:   deps,
			CreatedAt:   now,
		})
	}
	return steps
}

// perturbPlan makes a repeated plan differ from the rejected one by carrying
// the feedback into the last step.
func perturbPlan(steps []statex.TaskStep, feedback string) {
	if len(steps) == 0 {
		return
	}
	last := &steps[len(steps)-1]
	note := strings.TrimSpace(feedback)
	if note == "" {
		note = "이전 결과에서 부족했던 부분 보완"
	}
	last.Description = strings.TrimSpace(last.Description + " (보완: " + note + ")")
	if last.Request != "" {
		last.Request = strings.TrimSpace(last.Request + "\n" + note)
	}
}
