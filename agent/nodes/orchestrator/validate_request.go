package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

var (
	ErrInvalidMessage = fmt.Errorf("%w: message is empty", contractx.ErrInputInvalid)
	ErrInvalidSession = fmt.Errorf("%w: session id is empty", contractx.ErrInputInvalid)
	ErrInvalidMode    = fmt.Errorf("%w: unknown agent mode", contractx.ErrInputInvalid)
	errNilState       = errors.New("graph state is nil")
)

type GraphInput struct {
	SessionID string
	Text      string
	Mode      string
}

type GraphOutput struct {
	Reply string
	State *statex.ConversationState
}

// GraphState is the turn-scoped envelope around the conversation state.
type GraphState struct {
	ThreadID string
	Text     string
	Mode     contractx.AgentMode
	Now      time.Time
	Deadline time.Time
	Clock    func() time.Time

	Conversation *statex.ConversationState
	// History is the message list as loaded, before this turn's user message.
	History []statex.Message

	Replans          int
	DeadlineExceeded bool
	// SessionEnded is set by an exit sentinel; finalize drops the checkpoint.
	SessionEnded bool
}

func ValidateRequest(in GraphInput, clock func() time.Time, turnTimeout time.Duration) (*GraphState, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	mode, ok := contractx.ParseMode(in.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, in.Mode)
	}

	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()
	st := &GraphState{
		ThreadID: sessionID,
		Text:     text,
		Mode:     mode,
		Now:      now,
		Clock:    clock,
	}
	if turnTimeout > 0 {
		st.Deadline = now.Add(turnTimeout)
	}
	return st, nil
}

func (g *GraphState) now() time.Time {
	if g.Clock == nil {
		return time.Now().UTC()
	}
	return g.Clock().UTC()
}

// expired reports whether the turn deadline has passed.
func (g *GraphState) expired() bool {
	return !g.Deadline.IsZero() && !g.now().Before(g.Deadline)
}

// bounded derives a context that ends when the turn's remaining time, as
// measured by the turn clock, runs out.
func (g *GraphState) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.Deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.Deadline.Sub(g.now()))
}

func checkState(in *GraphState) error {
	if in == nil || in.Conversation == nil {
		return fmt.Errorf("%w: %v", contractx.ErrValidation, errNilState)
	}
	return nil
}
