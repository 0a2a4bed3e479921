package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// LoadState resumes the thread's last checkpoint, or starts a new one, and
// opens the turn with the user's message.
func LoadState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, errNilState)
	}

	st, err := store.Load(ctx, in.ThreadID)
	switch {
	case err == nil:
	case errors.Is(err, statex.ErrStateNotFound):
		st = statex.NewConversationState(in.ThreadID, in.Now)
	default:
		return nil, err
	}

	in.History = append([]statex.Message(nil), st.Messages...)
	st.BeginTurn(in.Text, string(in.Mode), in.Now)
	in.Conversation = st
	return in, nil
}
