package orchestratornode

import (
	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

// Graph node names. Worker nodes are named after their agent.
const (
	NodeValidateRequest = "validate_request"
	NodeLoadState       = "load_state"
	NodeSupervisor      = string(contractx.AgentSupervisor)
	NodeOrchestrator    = string(contractx.AgentOrchestrator)
	NodePlanning        = string(contractx.AgentPlanning)
	NodeValidation      = string(contractx.AgentValidation)
	NodeRespond         = string(contractx.AgentRespond)
	NodeFinalize        = "finalize"
)

// OrchestratorTargets lists every node the orchestrator may hand off to.
func OrchestratorTargets() []string {
	out := []string{NodePlanning, NodeValidation, NodeRespond, NodeFinalize}
	for _, w := range contractx.WorkerNames {
		out = append(out, string(w))
	}
	return out
}

// Rules returns the invariant facts for this graph.
func Rules() statex.Rules {
	workers := map[string]bool{}
	for _, w := range contractx.WorkerNames {
		workers[string(w)] = true
	}
	nodes := map[string]bool{
		NodeValidateRequest: true,
		NodeLoadState:       true,
		NodeSupervisor:      true,
		NodeOrchestrator:    true,
	}
	for _, n := range OrchestratorTargets() {
		nodes[n] = true
	}
	return statex.Rules{Workers: workers, Nodes: nodes, MaxSteps: contractx.MaxPlanSteps}
}
