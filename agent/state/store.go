package state

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrStateNotFound = errors.New("conversation state not found")
	ErrNilState      = errors.New("conversation state is nil")
	ErrInvalidThread = errors.New("thread id is empty")
)

// Store is the checkpointer contract used by the runner.
type Store interface {
	Load(ctx context.Context, threadID string) (*ConversationState, error)
	Save(ctx context.Context, st *ConversationState) error
	Delete(ctx context.Context, threadID string) error
}

// MemoryStore keeps the last terminal state per thread in process memory.
// Values are deep-copied on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]*ConversationState{}}
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (*ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	s.mu.RLock()
	st, ok := s.states[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.Clone()
}

func (s *MemoryStore) Save(ctx context.Context, st *ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st == nil {
		return ErrNilState
	}
	if strings.TrimSpace(st.ThreadID) == "" {
		return ErrInvalidThread
	}

	cp, err := st.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.states[st.ThreadID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.states, strings.TrimSpace(threadID))
	s.mu.Unlock()
	return nil
}
