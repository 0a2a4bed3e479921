package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	nodex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

var (
	ErrInvalidMessage = nodex.ErrInvalidMessage
	ErrInvalidSession = nodex.ErrInvalidSession
	ErrInvalidMode    = nodex.ErrInvalidMode
)

type Config struct {
	TurnTimeout      time.Duration `envconfig:"TURN_TIMEOUT" default:"300s"`
	MaxReplans       int           `envconfig:"MAX_REPLANS" default:"1"`
	MaxPlanningSteps int           `envconfig:"MAX_PLANNING_STEPS" default:"5"`
}

// Runner executes one turn at a time through the compiled graph.
type Runner struct {
	store    statex.Store
	registry contractx.Registry
	metrics  *metricsx.Recorder
	cfg      Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	// mu serialises turns across all sessions.
	mu  sync.Mutex
	now func() time.Time
}

type Option func(*Runner)

func WithMetrics(m *metricsx.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock replaces the wall clock used for timestamps and the turn deadline.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func New(store statex.Store, registry contractx.Registry, cfg Config, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if cfg.MaxReplans < 0 {
		cfg.MaxReplans = 0
	}
	if cfg.MaxPlanningSteps > 0 && cfg.MaxPlanningSteps != contractx.MaxPlanSteps {
		log.Warn().
			Int("configured", cfg.MaxPlanningSteps).
			Int("effective", contractx.MaxPlanSteps).
			Msg("MAX_PLANNING_STEPS is fixed, ignoring override")
	}

	r := &Runner{
		store:    store,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	graphRunner, err := r.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	r.graphRunner = graphRunner
	return r, nil
}

// HandleMessage runs one turn for the session and returns the assistant
// reply. Input errors wrap contract.ErrInputInvalid; any other error means
// the turn was aborted.
func (r *Runner) HandleMessage(ctx context.Context, sessionID string, text string, mode string) (string, error) {
	out, err := r.Run(ctx, sessionID, text, mode)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// Run is HandleMessage returning the checkpointed state as well.
func (r *Runner) Run(ctx context.Context, sessionID string, text string, mode string) (nodex.GraphOutput, error) {
	in := nodex.GraphInput{SessionID: sessionID, Text: text, Mode: mode}
	// Rejected before taking the lock so bad input never waits on a turn.
	if _, err := nodex.ValidateRequest(in, r.now, 0); err != nil {
		r.metrics.ObserveTurn("invalid", 0)
		return nodex.GraphOutput{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	out, err := r.graphRunner.Invoke(ctx, in)

	outcome := "ok"
	switch {
	case errors.Is(err, contractx.ErrInputInvalid):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
		log.Error().Err(err).Str("thread_id", sessionID).Msg("turn aborted")
	}
	r.metrics.ObserveTurn(outcome, time.Since(start))
	return out, err
}
