package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	chatmodelx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/chatmodel"
)

const (
	WorkerTemperature   float32 = 0.1
	ReviewTemperature   float32 = 0.2
	PlannerTemperature  float32 = 0.3
	CreativeTemperature float32 = 0.7
)

type Config struct {
	BaseURL         string `envconfig:"LLM_BASE_URL"`
	APIKey          string `envconfig:"LLM_API_KEY"`
	GoogleProjectID string `envconfig:"GOOGLE_PROJECT_ID"`
	GoogleRegion    string `envconfig:"GOOGLE_REGION" default:"us-central1"`
	// GoogleAccessToken authenticates the Vertex endpoint when LLM_API_KEY is unset.
	GoogleAccessToken string        `envconfig:"GOOGLE_ACCESS_TOKEN"`
	Model             string        `envconfig:"LLM_MODEL" default:"gemini-2.0-flash"`
	MaxOutputTokens   int           `envconfig:"LLM_MAX_OUTPUT_TOKENS" default:"8000"`
	Timeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	Creative          bool          `envconfig:"LLM_CREATIVE" default:"false"`

	SupervisorModel   string `envconfig:"SUPERVISOR_MODEL"`
	OrchestratorModel string `envconfig:"ORCHESTRATOR_MODEL"`
	PlanningModel     string `envconfig:"PLANNING_MODEL"`
	ValidationModel   string `envconfig:"VALIDATION_MODEL"`
	RespondModel      string `envconfig:"RESPOND_MODEL"`
	WeatherModel      string `envconfig:"WEATHER_MODEL"`
	ToolServerModel   string `envconfig:"TOOL_SERVER_MODEL"`
	SearchModel       string `envconfig:"SEARCH_MODEL"`

	PlanningTemperature   float32 `envconfig:"PLANNING_TEMPERATURE" default:"-1"`
	ValidationTemperature float32 `envconfig:"VALIDATION_TEMPERATURE" default:"-1"`
	RespondTemperature    float32 `envconfig:"RESPOND_TEMPERATURE" default:"-1"`
	WorkerTemperature     float32 `envconfig:"WORKER_TEMPERATURE" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" && strings.TrimSpace(c.GoogleProjectID) == "" {
		return fmt.Errorf("%w: LLM_BASE_URL or GOOGLE_PROJECT_ID is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.BaseURL) == "" && strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.GoogleAccessToken) == "" {
		return fmt.Errorf("%w: GOOGLE_ACCESS_TOKEN or LLM_API_KEY is required for the Vertex endpoint", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxOutputTokens <= 0 {
		return fmt.Errorf("%w: max output tokens must be > 0", contractx.ErrValidation)
	}
	return nil
}

// ModelFor resolves the model name of a role, falling back to LLM_MODEL.
func (c Config) ModelFor(agent contractx.AgentName) string {
	var override string
	switch agent {
	case contractx.AgentSupervisor:
		override = c.SupervisorModel
	case contractx.AgentOrchestrator:
		override = c.OrchestratorModel
	case contractx.AgentPlanning:
		override = c.PlanningModel
	case contractx.AgentValidation:
		override = c.ValidationModel
	case contractx.AgentRespond:
		override = c.RespondModel
	case contractx.AgentWeather:
		override = c.WeatherModel
	case contractx.AgentToolServer:
		override = c.ToolServerModel
	case contractx.AgentSearch:
		override = c.SearchModel
	}
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return strings.TrimSpace(c.Model)
}

// TemperatureFor returns the role default unless an override is set.
// Creative mode lifts the responder to CreativeTemperature.
func (c Config) TemperatureFor(agent contractx.AgentName) float32 {
	switch agent {
	case contractx.AgentPlanning:
		return pick(c.PlanningTemperature, PlannerTemperature)
	case contractx.AgentValidation:
		return pick(c.ValidationTemperature, ReviewTemperature)
	case contractx.AgentRespond:
		if c.Creative {
			return pick(c.RespondTemperature, CreativeTemperature)
		}
		return pick(c.RespondTemperature, ReviewTemperature)
	default:
		return pick(c.WorkerTemperature, WorkerTemperature)
	}
}

func (c Config) ChatModelFor(agent contractx.AgentName) chatmodelx.Config {
	maxTokens := c.MaxOutputTokens
	return chatmodelx.Config{
		BaseURL:           strings.TrimSpace(c.BaseURL),
		APIKey:            strings.TrimSpace(c.APIKey),
		GoogleProjectID:   strings.TrimSpace(c.GoogleProjectID),
		GoogleRegion:      strings.TrimSpace(c.GoogleRegion),
		GoogleAccessToken: strings.TrimSpace(c.GoogleAccessToken),
		Model:             c.ModelFor(agent),
		MaxTokens:         &maxTokens,
		Temperature:       c.TemperatureFor(agent),
		Timeout:           c.Timeout,
	}
}

func pick(override float32, def float32) float32 {
	if override >= 0 {
		return override
	}
	return def
}
