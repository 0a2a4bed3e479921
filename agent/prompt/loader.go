package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
)

var (
	//go:embed template/planning.txt
	planningRaw string

	//go:embed template/validation.txt
	validationRaw string

	//go:embed template/respond.txt
	respondRaw string

	//go:embed template/weather.txt
	weatherRaw string

	//go:embed template/search.txt
	searchRaw string

	//go:embed template/tool_server.txt
	toolServerRaw string
)

// PromptSet holds one system prompt per LLM-backed role.
type PromptSet struct {
	Planning   string
	Validation string
	Respond    string
	Weather    string
	Search     string
	ToolServer string
}

// LoadPromptSet returns the embedded prompts, trimmed.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Planning:   strings.TrimSpace(planningRaw),
		Validation: strings.TrimSpace(validationRaw),
		Respond:    strings.TrimSpace(respondRaw),
		Weather:    strings.TrimSpace(weatherRaw),
		Search:     strings.TrimSpace(searchRaw),
		ToolServer: strings.TrimSpace(toolServerRaw),
	}
}

// For returns the prompt of an agent role.
func (p PromptSet) For(agent contractx.AgentName) (string, error) {
	var out string
	switch agent {
	case contractx.AgentPlanning:
		out = p.Planning
	case contractx.AgentValidation:
		out = p.Validation
	case contractx.AgentRespond:
		out = p.Respond
	case contractx.AgentWeather:
		out = p.Weather
	case contractx.AgentSearch:
		out = p.Search
	case contractx.AgentToolServer:
		out = p.ToolServer
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: agent=%s", contractx.ErrPromptMissing, agent)
	}
	return out, nil
}
