package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// Finalize updates cross-turn context, asserts the invariants and
// checkpoints the state, or deletes the checkpoint when the session ended.
// The store call ignores cancellation so a turn that ran into its deadline
// still persists its reply.
func Finalize(ctx context.Context, in *GraphState, store statex.Store) (GraphOutput, error) {
	if err := checkState(in); err != nil {
		return GraphOutput{}, err
	}
	st := in.Conversation

	st.SetContext(statex.ContextTurnCount, st.TurnCount()+1)
	st.SetContext(statex.ContextLastQuery, st.OriginalQuery)
	st.SetContext(statex.ContextLastResponse, st.FinalResponse)
	st.Touch(in.now())

	if err := st.Validate(Rules()); err != nil {
		return GraphOutput{}, err
	}
	if err := st.ValidateHistory(in.History); err != nil {
		return GraphOutput{}, err
	}

	storeCtx := context.WithoutCancel(ctx)
	if in.SessionEnded {
		if err := store.Delete(storeCtx, st.ThreadID); err != nil {
			return GraphOutput{}, fmt.Errorf("end thread %s: %w", st.ThreadID, err)
		}
	} else if err := store.Save(storeCtx, st); err != nil {
		return GraphOutput{}, fmt.Errorf("checkpoint thread %s: %w", st.ThreadID, err)
	}

	log.Info().
		Str("thread_id", st.ThreadID).
		Str("status", string(st.Status)).
		Int("turn", st.TurnCount()).
		Int("steps", len(st.Plan)).
		Bool("session_ended", in.SessionEnded).
		Msg("turn finalized")
	return GraphOutput{Reply: st.FinalResponse, State: st}, nil
}
