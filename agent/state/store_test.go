package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "thread-1")
	if !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestMemoryStoreEmptyThread(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "  "); !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("Load() error = %v, want ErrInvalidThread", err)
	}
	if err := store.Save(context.Background(), &ConversationState{}); !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("Save() error = %v, want ErrInvalidThread", err)
	}
	if err := store.Save(context.Background(), nil); !errors.Is(err, ErrNilState) {
		t.Fatalf("Save(nil) error = %v, want ErrNilState", err)
	}
}

func TestMemoryStoreRoundTripIsolatesCopies(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st := NewConversationState("thread-1", now)
	st.BeginTurn("서울 날씨 알려줘", "general", now)
	st.SetContext(ContextTurnCount, 1)

	store := NewMemoryStore()
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	st.AppendMessage(Message{Role: RoleAssistant, Content: "mutated after save"})

	loaded, err := store.Load(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Messages) != 1 {
		t.Fatalf("expected 1 message in checkpoint, got %d", len(loaded.Messages))
	}
	if loaded.TurnCount() != 1 {
		t.Fatalf("unexpected turn count: %d", loaded.TurnCount())
	}

	loaded.Messages[0].Content = "changed"
	again, err := store.Load(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if again.Messages[0].Content != "서울 날씨 알려줘" {
		t.Fatalf("checkpoint leaked a mutation: %q", again.Messages[0].Content)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	st := NewConversationState("thread-1", time.Now())
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(context.Background(), "thread-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "thread-1"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() after Delete error = %v, want ErrStateNotFound", err)
	}
	if err := store.Delete(context.Background(), "thread-1"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
}
