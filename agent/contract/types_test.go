package contract

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveWorkerAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]AgentName{
		"weather_agent":       AgentWeather,
		" Weather ":           AgentWeather,
		"gemini_search_agent": AgentSearch,
		"mcp_agent":           AgentToolServer,
		"tool_server":         AgentToolServer,
	}
	for in, want := range cases {
		got, ok := ResolveWorker(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ResolveWorker("respond")
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, ok := ParseMode("")
	require.True(t, ok)
	assert.Equal(t, ModeGeneral, mode)

	mode, ok = ParseMode("REPORT")
	require.True(t, ok)
	assert.Equal(t, ModeReport, mode)

	_, ok = ParseMode("creative")
	assert.False(t, ok)
}

func TestFallbackPlan(t *testing.T) {
	t.Parallel()

	p := FallbackPlan("서울 날씨")
	require.Len(t, p.Steps, 1)
	assert.True(t, p.Fallback)
	assert.Equal(t, AgentSearch, p.Steps[0].Agent)
	assert.Equal(t, "서울 날씨", p.Steps[0].Request)
}

func TestCapabilityToolInfo(t *testing.T) {
	t.Parallel()

	c := Capability{
		Name:        "weather_lookup",
		Description: "look up weather",
		Params: map[string]*schema.ParameterInfo{
			"city": {Type: schema.String, Required: true},
		},
	}
	info := c.ToolInfo()
	assert.Equal(t, "weather_lookup", info.Name)
	assert.Equal(t, "look up weather", info.Desc)
	require.NotNil(t, info.ParamsOneOf)
}
