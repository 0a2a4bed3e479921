package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	nodex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// maxRunSteps bounds node executions per turn. A full turn with two plans of
// five steps stays well under it.
const maxRunSteps = 100

type stateNode = func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error)

// observe times a node and checks the invariants on its way out, so a
// violation aborts the turn at the edge where it happened.
func (r *Runner) observe(name string, fn stateNode) stateNode {
	rules := nodex.Rules()
	return func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
		start := time.Now()
		out, err := fn(ctx, in)
		r.metrics.ObserveNode(name, time.Since(start))
		if err != nil {
			return nil, err
		}
		if out == nil || out.Conversation == nil {
			return nil, fmt.Errorf("%w: node %s returned no state", statex.ErrInvariantViolation, name)
		}
		// The orchestrator is the fallback route, so only its own hints must be exact.
		if name != nodex.NodeOrchestrator && !knownNext(rules, out.Conversation.Next) {
			log.Warn().
				Str("node", name).
				Str("thread_id", out.ThreadID).
				Str("next", out.Conversation.Next).
				Msg("unknown next, routing to orchestrator")
			out.Conversation.Next = nodex.NodeOrchestrator
		}
		if err := out.Conversation.Validate(rules); err != nil {
			log.Error().Err(err).Str("node", name).Str("thread_id", out.ThreadID).Msg("invariant violated")
			return nil, err
		}
		log.Debug().
			Str("node", name).
			Str("thread_id", out.ThreadID).
			Str("status", string(out.Conversation.Status)).
			Str("next", out.Conversation.Next).
			Msg("node done")
		return out, nil
	}
}

func (r *Runner) compileTurnGraph(ctx context.Context) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodex.NodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, r.now, r.cfg.TurnTimeout)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeValidateRequest, err)
	}

	nodes := []struct {
		name string
		fn   stateNode
	}{
		{nodex.NodeLoadState, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadState(ctx, in, r.store)
		}},
		{nodex.NodeSupervisor, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Supervise(in)
		}},
		{nodex.NodeOrchestrator, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Orchestrate(in, r.cfg.MaxReplans, r.metrics)
		}},
		{nodex.NodePlanning, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Plan(ctx, in, r.registry.Planner())
		}},
		{nodex.NodeValidation, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Validate(ctx, in, r.registry.Validator())
		}},
		{nodex.NodeRespond, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Respond(ctx, in, r.registry.Responder())
		}},
	}
	for _, w := range contractx.WorkerNames {
		name := w
		nodes = append(nodes, struct {
			name string
			fn   stateNode
		}{string(name), func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RunWorker(ctx, in, name, r.registry)
		}})
	}

	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(r.observe(n.name, n.fn))); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}

	if err := graph.AddLambdaNode(nodex.NodeFinalize,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			start := time.Now()
			defer func() { r.metrics.ObserveNode(nodex.NodeFinalize, time.Since(start)) }()
			return nodex.Finalize(ctx, in, r.store)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.NodeFinalize, err)
	}

	edges := [][2]string{
		{compose.START, nodex.NodeValidateRequest},
		{nodex.NodeValidateRequest, nodex.NodeLoadState},
		{nodex.NodeLoadState, nodex.NodeSupervisor},
		{nodex.NodePlanning, nodex.NodeOrchestrator},
		{nodex.NodeValidation, nodex.NodeOrchestrator},
		{nodex.NodeRespond, nodex.NodeFinalize},
		{nodex.NodeFinalize, compose.END},
	}
	for _, w := range contractx.WorkerNames {
		edges = append(edges, [2]string{string(w), nodex.NodeOrchestrator})
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	supervisorTargets := map[string]bool{
		nodex.NodeOrchestrator: true,
		nodex.NodeFinalize:     true,
	}
	if err := graph.AddBranch(nodex.NodeSupervisor, compose.NewGraphBranch(routeByNext, supervisorTargets)); err != nil {
		return nil, fmt.Errorf("add branch %s: %w", nodex.NodeSupervisor, err)
	}

	orchestratorTargets := map[string]bool{}
	for _, n := range nodex.OrchestratorTargets() {
		orchestratorTargets[n] = true
	}
	if err := graph.AddBranch(nodex.NodeOrchestrator, compose.NewGraphBranch(routeByNext, orchestratorTargets)); err != nil {
		return nil, fmt.Errorf("add branch %s: %w", nodex.NodeOrchestrator, err)
	}

	runner, err := graph.Compile(ctx,
		compose.WithGraphName("orchestrator.turn_graph"),
		compose.WithMaxRunSteps(maxRunSteps),
	)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

var errNoRoute = errors.New("routing hint missing")

func knownNext(rules statex.Rules, next string) bool {
	return next == statex.NextEnd || rules.Nodes[next]
}

// routeByNext follows the routing hint; END is reached through finalize and
// anything that is not a node goes back to the orchestrator.
func routeByNext(ctx context.Context, in *nodex.GraphState) (string, error) {
	if in == nil || in.Conversation == nil {
		return "", fmt.Errorf("%w: %v", statex.ErrInvariantViolation, errNoRoute)
	}
	switch next := in.Conversation.Next; {
	case next == "":
		return "", fmt.Errorf("%w: %v", statex.ErrInvariantViolation, errNoRoute)
	case next == statex.NextEnd:
		return nodex.NodeFinalize, nil
	case !knownNext(nodex.Rules(), next):
		log.Warn().Str("thread_id", in.ThreadID).Str("next", next).Msg("unknown next, routing to orchestrator")
		return nodex.NodeOrchestrator, nil
	default:
		return next, nil
	}
}
