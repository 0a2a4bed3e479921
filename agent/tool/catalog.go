package tool

import (
	"context"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
)

// WeatherServer is the tool server whose capabilities the weather worker binds.
const WeatherServer = "weather"

type Executor func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error)

// Set is the capability subset one worker may call, with its executor.
type Set struct {
	Capabilities []contractx.Capability
	Exec         Executor
}

// Infos returns the tool descriptions to bind to a chat model.
func (s Set) Infos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(s.Capabilities))
	for _, c := range s.Capabilities {
		out = append(out, c.ToolInfo())
	}
	return out
}

// Allows reports whether name belongs to the subset.
func (s Set) Allows(name string) bool {
	for _, c := range s.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s Set) Empty() bool {
	return len(s.Capabilities) == 0
}

// ForWorker selects the capabilities a worker may bind from the discovered
// catalogue. The weather worker sees only the weather server; the tool-server
// worker sees everything.
func ForWorker(worker contractx.AgentName, caps []contractx.Capability) []contractx.Capability {
	var out []contractx.Capability
	for _, c := range caps {
		switch worker {
		case contractx.AgentWeather:
			if c.Server == WeatherServer {
				out = append(out, c)
			}
		case contractx.AgentToolServer:
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildForWorker binds a worker to the gateway's current catalogue.
func BuildForWorker(worker contractx.AgentName, gateway contractx.ToolGateway) Set {
	if gateway == nil {
		return Set{Exec: DefaultExecutor(worker)}
	}
	return Set{
		Capabilities: ForWorker(worker, gateway.Capabilities()),
		Exec:         GatewayExecutor(gateway),
	}
}

func GatewayExecutor(gateway contractx.ToolGateway) Executor {
	return func(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
		return gateway.Invoke(ctx, capability, args)
	}
}

// DefaultExecutor answers every call with an unavailable result.
func DefaultExecutor(worker contractx.AgentName) Executor {
	return func(ctx context.Context, capability string, _ map[string]any) (contractx.ToolResult, error) {
		return contractx.ToolResult{
			Capability: capability,
			Reason:     fmt.Sprintf("capability=%s is unavailable for agent=%s", capability, worker),
		}, nil
	}
}
