package contract

import (
	"context"

	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
)

type Planner interface {
	Plan(ctx context.Context, req PlannerRequest) (PlannerResponse, error)
}

type Validator interface {
	Validate(ctx context.Context, req ValidatorRequest) (statex.ValidationResult, error)
}

type Responder interface {
	Respond(ctx context.Context, req ResponderRequest) (string, error)
}

type Worker interface {
	Run(ctx context.Context, req WorkerRequest) (WorkerResponse, error)
}

type Registry interface {
	Planner() Planner
	Validator() Validator
	Responder() Responder
	Worker(name AgentName) (Worker, bool)
}

// ToolGateway is the capability surface of the tool-server adapter.
type ToolGateway interface {
	Initialize(ctx context.Context) error
	Capabilities() []Capability
	Invoke(ctx context.Context, capability string, args map[string]any) (ToolResult, error)
}
