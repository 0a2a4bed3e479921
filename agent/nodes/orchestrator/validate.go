package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// Validate scores the executed plan. The verdict is recomputed from step
// outcomes when the validator cannot answer.
func Validate(ctx context.Context, in *GraphState, validator contractx.Validator) (*GraphState, error) {
	if err := checkState(in); err != nil {
		return nil, err
	}
	st := in.Conversation

	callCtx, cancel := in.bounded(ctx)
	verdict, err := validator.Validate(callCtx, contractx.ValidatorRequest{
		Query:   st.OriginalQuery,
		Plan:    st.Plan,
		Results: st.Results,
		Workers: contractx.WorkerNames,
	})
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("thread_id", st.ThreadID).Msg("validator failed, scoring from step outcomes")
		verdict = statex.FallbackValidation(st.Plan, err.Error())
	}

	var suggested []string
	for _, a := range verdict.SuggestedAgents {
		if agent, ok := contractx.ResolveWorker(a); ok {
			suggested = append(suggested, string(agent))
		}
	}
	verdict.SuggestedAgents = suggested
	verdict.Normalize()

	st.ValidationResult = &verdict
	if verdict.IsComplete {
		st.Status = statex.StatusResponding
	} else {
		st.Status = statex.StatusValidating
	}

	log.Info().
		Str("thread_id", st.ThreadID).
		Int("score", verdict.CompletenessScore).
		Bool("complete", verdict.IsComplete).
		Msg("plan validated")
	return route(in, NodeOrchestrator), nil
}
