package specialist

import (
	"context"
	"fmt"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	llmx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/llm"
	promptx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/prompt"
	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/tool"
	chatmodelx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/chatmodel"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

const (
	DefaultMaxIterations   = 10
	DefaultPlannerAttempts = 3
)

type Config struct {
	MaxIterations   int `envconfig:"MAX_ITERATIONS" default:"10"`
	PlannerAttempts int `envconfig:"PLANNER_ATTEMPTS" default:"3"`
}

// Options wires the agents to their collaborators.
type Options struct {
	Gateway         contractx.ToolGateway
	Searcher        tool.Searcher
	Metrics         *metricsx.Recorder
	MaxIterations   int
	PlannerAttempts int
	LLMTimeout      time.Duration
}

// Models holds one chat model per LLM-backed role.
type Models struct {
	Planning   einomodel.ToolCallingChatModel
	Validation einomodel.ToolCallingChatModel
	Respond    einomodel.ToolCallingChatModel
	Weather    einomodel.ToolCallingChatModel
	Search     einomodel.ToolCallingChatModel
	ToolServer einomodel.ToolCallingChatModel
}

type registryImpl struct {
	planner   contractx.Planner
	validator contractx.Validator
	responder contractx.Responder
	workers   map[contractx.AgentName]contractx.Worker
}

func (r *registryImpl) Planner() contractx.Planner {
	return r.planner
}

func (r *registryImpl) Validator() contractx.Validator {
	return r.validator
}

func (r *registryImpl) Responder() contractx.Responder {
	return r.responder
}

func (r *registryImpl) Worker(name contractx.AgentName) (contractx.Worker, bool) {
	w, ok := r.workers[name]
	return w, ok
}

// NewModels creates the role models from configuration.
func NewModels(ctx context.Context, cfg llmx.Config) (Models, error) {
	build := func(agent contractx.AgentName) (einomodel.ToolCallingChatModel, error) {
		mc := cfg.ChatModelFor(agent)
		m, err := mc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create %s model: %v", contractx.ErrModelInvoke, agent, err)
		}
		return m, nil
	}

	var (
		models Models
		err    error
	)
	if models.Planning, err = build(contractx.AgentPlanning); err != nil {
		return Models{}, err
	}
	if models.Validation, err = build(contractx.AgentValidation); err != nil {
		return Models{}, err
	}
	if models.Respond, err = build(contractx.AgentRespond); err != nil {
		return Models{}, err
	}
	if models.Weather, err = build(contractx.AgentWeather); err != nil {
		return Models{}, err
	}
	if models.Search, err = build(contractx.AgentSearch); err != nil {
		return Models{}, err
	}
	if models.ToolServer, err = build(contractx.AgentToolServer); err != nil {
		return Models{}, err
	}
	return models, nil
}

// NewRegistry builds every role from configuration. The search worker gets
// a web searcher on the same endpoint unless one is supplied.
func NewRegistry(ctx context.Context, cfg llmx.Config, opts Options) (contractx.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = cfg.Timeout
	}

	models, err := NewModels(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if opts.Searcher == nil {
		sc := cfg.ChatModelFor(contractx.AgentSearch)
		client, err := chatmodelx.NewClient(sc)
		if err != nil {
			return nil, fmt.Errorf("%w: create search client: %v", contractx.ErrModelInvoke, err)
		}
		opts.Searcher = tool.NewWebSearcher(client, sc.Model, sc.Temperature, cfg.MaxOutputTokens)
	}

	return Build(ctx, models, promptx.LoadPromptSet(), opts)
}

// Build assembles the registry from ready models.
func Build(ctx context.Context, models Models, prompts promptx.PromptSet, opts Options) (contractx.Registry, error) {
	prompt := func(agent contractx.AgentName) (string, error) {
		return prompts.For(agent)
	}

	planningPrompt, err := prompt(contractx.AgentPlanning)
	if err != nil {
		return nil, err
	}
	planner, err := newPlanner(ctx, models.Planning, planningPrompt, opts)
	if err != nil {
		return nil, err
	}

	validationPrompt, err := prompt(contractx.AgentValidation)
	if err != nil {
		return nil, err
	}
	validator, err := newValidator(ctx, models.Validation, validationPrompt, opts)
	if err != nil {
		return nil, err
	}

	respondPrompt, err := prompt(contractx.AgentRespond)
	if err != nil {
		return nil, err
	}
	responder, err := newResponder(ctx, models.Respond, respondPrompt, opts)
	if err != nil {
		return nil, err
	}

	workers := map[contractx.AgentName]contractx.Worker{}

	searchPrompt, err := prompt(contractx.AgentSearch)
	if err != nil {
		return nil, err
	}
	searchSet := tool.Set{Exec: tool.DefaultExecutor(contractx.AgentSearch)}
	if opts.Searcher != nil {
		searchSet = tool.BuildWebSearch(opts.Searcher)
	}
	search, err := newReasoningAgent(ctx, contractx.AgentSearch, models.Search, searchPrompt, searchSet, opts)
	if err != nil {
		return nil, err
	}
	workers[contractx.AgentSearch] = search

	for _, w := range []struct {
		name  contractx.AgentName
		model einomodel.ToolCallingChatModel
	}{
		{contractx.AgentWeather, models.Weather},
		{contractx.AgentToolServer, models.ToolServer},
	} {
		p, err := prompt(w.name)
		if err != nil {
			return nil, err
		}
		workers[w.name] = &gatewayWorker{
			name:         w.name,
			model:        w.model,
			systemPrompt: p,
			opts:         opts,
		}
	}

	return &registryImpl{
		planner:   planner,
		validator: validator,
		responder: responder,
		workers:   workers,
	}, nil
}

// gatewayWorker binds its capability subset on first use, after the tool
// servers have been discovered.
type gatewayWorker struct {
	name         contractx.AgentName
	model        einomodel.ToolCallingChatModel
	systemPrompt string
	opts         Options

	mu    sync.Mutex
	agent *reasoningAgent
}

func (w *gatewayWorker) Run(ctx context.Context, req contractx.WorkerRequest) (contractx.WorkerResponse, error) {
	agent, err := w.resolve(ctx)
	if err != nil {
		log.Warn().Err(err).Str("agent", string(w.name)).Msg("worker unavailable")
		return contractx.WorkerResponse{
			Message: "도구 서버에 연결하지 못해 요청을 처리할 수 없습니다.",
			Failed:  true,
			Error:   err.Error(),
		}, nil
	}
	return agent.Run(ctx, req)
}

func (w *gatewayWorker) resolve(ctx context.Context) (*reasoningAgent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.agent != nil {
		return w.agent, nil
	}
	if w.opts.Gateway == nil {
		return nil, fmt.Errorf("%w: no tool gateway configured", contractx.ErrToolServerUnavailable)
	}
	if err := w.opts.Gateway.Initialize(ctx); err != nil {
		return nil, err
	}

	set := tool.BuildForWorker(w.name, w.opts.Gateway)
	agent, err := newReasoningAgent(ctx, w.name, w.model, w.systemPrompt, set, w.opts)
	if err != nil {
		return nil, err
	}
	log.Info().Str("agent", string(w.name)).Int("capabilities", len(set.Capabilities)).Msg("worker bound")
	w.agent = agent
	return agent, nil
}
