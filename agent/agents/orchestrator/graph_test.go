package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	nodex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

func graphState(next string) *nodex.GraphState {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	conv := statex.NewConversationState("s-route", now)
	conv.Next = next
	return &nodex.GraphState{
		ThreadID:     "s-route",
		Text:         "서울 날씨",
		Now:          now,
		Deadline:     now.Add(time.Minute),
		Clock:        func() time.Time { return now },
		Conversation: conv,
	}
}

func TestObserveCoercesUnknownNext(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, statex.NewMemoryStore(), newTestRegistry())
	bogus := r.observe(nodex.NodeSupervisor, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
		in.Conversation.Next = "bogus"
		return in, nil
	})

	out, err := bogus(context.Background(), graphState(""))
	if err != nil {
		t.Fatalf("observe() error = %v", err)
	}
	if out.Conversation.Next != nodex.NodeOrchestrator {
		t.Fatalf("next = %q, want %q", out.Conversation.Next, nodex.NodeOrchestrator)
	}

	route, err := routeByNext(context.Background(), out)
	if err != nil || route != nodex.NodeOrchestrator {
		t.Fatalf("routeByNext() = %q, %v", route, err)
	}

	orchestrate := r.observe(nodex.NodeOrchestrator, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.Orchestrate(in, 1, nil)
	})
	out, err = orchestrate(context.Background(), out)
	if err != nil {
		t.Fatalf("orchestrator after coercion error = %v", err)
	}
	if out.Conversation.Next != nodex.NodePlanning {
		t.Fatalf("next after orchestrator = %q, want %q", out.Conversation.Next, nodex.NodePlanning)
	}
}

func TestObserveRejectsUnknownNextFromOrchestrator(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, statex.NewMemoryStore(), newTestRegistry())
	node := r.observe(nodex.NodeOrchestrator, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
		in.Conversation.Next = "bogus"
		return in, nil
	})

	if _, err := node(context.Background(), graphState("")); !errors.Is(err, statex.ErrInvariantViolation) {
		t.Fatalf("observe() error = %v, want ErrInvariantViolation", err)
	}
}

func TestRouteByNext(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		statex.NextEnd:       nodex.NodeFinalize,
		nodex.NodePlanning:   nodex.NodePlanning,
		"weather":            "weather",
		"calendar_agent":     nodex.NodeOrchestrator,
		nodex.NodeValidation: nodex.NodeValidation,
	}
	for next, want := range cases {
		got, err := routeByNext(context.Background(), graphState(next))
		if err != nil || got != want {
			t.Fatalf("routeByNext(%q) = %q, %v; want %q", next, got, err, want)
		}
	}

	if _, err := routeByNext(context.Background(), graphState("")); !errors.Is(err, statex.ErrInvariantViolation) {
		t.Fatalf("routeByNext(\"\") error = %v", err)
	}
}
