package toolserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/contract"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

const (
	clientName    = "chative-agent-runtime"
	clientVersion = "1.0.0"

	methodProgress = "notifications/progress"
)

var ErrClosed = errors.New("tool server adapter is closed")

// Adapter turns the configured tool servers into one flat, deduplicated
// capability list. Connections are opened once and shared by every turn.
type Adapter struct {
	cfg     Config
	servers []ServerConfig
	metrics *metricsx.Recorder

	// streamCtx outlives Initialize; SSE streams are bound to it.
	streamCtx    context.Context
	cancelStream context.CancelFunc

	mu          sync.RWMutex
	initialized bool
	closed      bool
	conns       map[string]*serverConn
	caps        []contractx.Capability
	byName      map[string]contractx.Capability
}

var _ contractx.ToolGateway = (*Adapter)(nil)

type serverConn struct {
	cfg    ServerConfig
	client *client.Client
	// mu serializes calls on one stream.
	mu sync.Mutex
}

type Option func(*Adapter)

func WithMetrics(m *metricsx.Recorder) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func New(cfg Config, servers []ServerConfig, opts ...Option) *Adapter {
	def := DefaultConfig()
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = def.ToolTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = def.ConnectAttempts
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = def.BackoffMultiplier
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		cfg:          cfg,
		servers:      append([]ServerConfig(nil), servers...),
		streamCtx:    streamCtx,
		cancelStream: cancel,
		conns:        map[string]*serverConn{},
		byName:       map[string]contractx.Capability{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Initialize connects to every server and caches the capability catalogue.
// It is idempotent once it succeeds. Unreachable optional servers are logged
// and left out; an unreachable required server fails the call so a later
// call can retry.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.initialized {
		return nil
	}

	type discovered struct {
		conn  *serverConn
		tools []mcp.Tool
	}
	found := make([]*discovered, len(a.servers))

	var g errgroup.Group
	for i, srv := range a.servers {
		g.Go(func() error {
			conn, tools, err := a.connect(ctx, srv)
			if err != nil {
				log.Warn().Err(err).
					Str("server", srv.Name).
					Str("url", srv.URL).
					Bool("required", srv.Required).
					Msg("tool server unavailable")
				if srv.Required {
					return fmt.Errorf("%w: server=%s: %v", contractx.ErrToolServerUnavailable, srv.Name, err)
				}
				return nil
			}
			found[i] = &discovered{conn: conn, tools: tools}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, d := range found {
			if d != nil {
				_ = d.conn.client.Close()
			}
		}
		return err
	}

	catalogue := map[string][]mcp.Tool{}
	for _, d := range found {
		if d == nil {
			continue
		}
		a.conns[d.conn.cfg.Name] = d.conn
		catalogue[d.conn.cfg.Name] = d.tools
	}

	a.caps = buildCapabilities(catalogue)
	for _, c := range a.caps {
		a.byName[c.Name] = c
	}
	a.initialized = true
	a.metrics.ToolServersConnected(len(a.conns))

	log.Info().
		Int("servers", len(a.conns)).
		Int("configured", len(a.servers)).
		Int("capabilities", len(a.caps)).
		Msg("tool servers initialized")
	return nil
}

// Capabilities returns the cached catalogue. It is empty before Initialize.
func (a *Adapter) Capabilities() []contractx.Capability {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]contractx.Capability(nil), a.caps...)
}

// Servers lists the connected servers.
func (a *Adapter) Servers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.conns))
	for name := range a.conns {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke calls a capability and waits for its terminal result. A remote error
// frame comes back as a not-OK result with the reason verbatim; transport
// failures and timeouts come back as ErrToolInvocationFailed.
func (a *Adapter) Invoke(ctx context.Context, capability string, args map[string]any) (contractx.ToolResult, error) {
	a.mu.RLock()
	c, ok := a.byName[capability]
	conn := a.conns[c.Server]
	closed := a.closed
	a.mu.RUnlock()

	if closed {
		return contractx.ToolResult{}, ErrClosed
	}
	if !ok || conn == nil {
		a.metrics.ToolInvocation(capability, "unknown")
		return contractx.ToolResult{}, fmt.Errorf("%w: %s", contractx.ErrCapabilityUnknown, capability)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = c.RemoteName
	req.Params.Arguments = args

	started := time.Now()
	conn.mu.Lock()
	res, err := conn.client.CallTool(callCtx, req)
	conn.mu.Unlock()

	logger := log.With().
		Str("capability", capability).
		Str("server", c.Server).
		Dur("elapsed", time.Since(started)).
		Logger()

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", a.cfg.ToolTimeout, err)
		}
		a.metrics.ToolInvocation(capability, "failed")
		logger.Warn().Err(err).Msg("tool invocation failed")
		return contractx.ToolResult{Capability: capability, Reason: err.Error()},
			fmt.Errorf("%w: %s: %v", contractx.ErrToolInvocationFailed, capability, err)
	}

	text := resultText(res)
	if res.IsError {
		a.metrics.ToolInvocation(capability, "error")
		logger.Info().Str("reason", text).Msg("tool returned error")
		return contractx.ToolResult{Capability: capability, Reason: text}, nil
	}

	a.metrics.ToolInvocation(capability, "ok")
	logger.Debug().Msg("tool invocation ok")
	return contractx.ToolResult{
		Capability: capability,
		OK:         true,
		Payload:    res.StructuredContent,
		Text:       text,
	}, nil
}

// Close tears down every stream. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	a.cancelStream()

	var errs []error
	for name, conn := range a.conns {
		if err := conn.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	a.conns = map[string]*serverConn{}
	a.caps = nil
	a.byName = map[string]contractx.Capability{}
	return errors.Join(errs...)
}

func (a *Adapter) connect(ctx context.Context, srv ServerConfig) (*serverConn, []mcp.Tool, error) {
	var (
		conn  *serverConn
		tools []mcp.Tool
	)

	op := func() error {
		c, listed, err := a.dial(ctx, srv)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn, tools = c, listed
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Str("server", srv.Name).Dur("retry_in", wait).Msg("retrying tool server")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(a.newBackOff(), uint64(a.cfg.ConnectAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, nil, err
	}
	return conn, tools, nil
}

func (a *Adapter) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.BackoffInitial
	b.Multiplier = a.cfg.BackoffMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = a.cfg.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (a *Adapter) dial(ctx context.Context, srv ServerConfig) (*serverConn, []mcp.Tool, error) {
	var (
		c   *client.Client
		err error
	)
	switch srv.Transport {
	case TransportStreamableHTTP:
		c, err = client.NewStreamableHttpClient(srv.URL)
	default:
		c, err = client.NewSSEMCPClient(srv.URL)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	if err := c.Start(a.streamCtx); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("start stream: %w", err)
	}

	c.OnNotification(func(n mcp.JSONRPCNotification) {
		if n.Method != methodProgress {
			return
		}
		log.Debug().
			Str("server", srv.Name).
			Interface("progress", n.Params.AdditionalFields).
			Msg("tool progress")
	})

	initCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := c.ListTools(initCtx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}

	return &serverConn{cfg: srv, client: c}, listed.Tools, nil
}

// buildCapabilities flattens the per-server catalogues. A tool name offered
// by more than one server is exposed as {server}_{tool} on every server.
func buildCapabilities(catalogue map[string][]mcp.Tool) []contractx.Capability {
	servers := make([]string, 0, len(catalogue))
	seen := map[string]int{}
	for name, tools := range catalogue {
		servers = append(servers, name)
		for _, tool := range tools {
			seen[tool.Name]++
		}
	}
	sort.Strings(servers)

	taken := map[string]bool{}
	out := make([]contractx.Capability, 0, len(seen))
	for _, server := range servers {
		tools := append([]mcp.Tool(nil), catalogue[server]...)
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		for _, tool := range tools {
			name := tool.Name
			if seen[tool.Name] > 1 {
				name = server + "_" + tool.Name
			}
			for n := 2; taken[name]; n++ {
				name = fmt.Sprintf("%s_%s_%d", server, tool.Name, n)
			}
			taken[name] = true

			params, err := argumentSchema(tool)
			if err != nil {
				log.Warn().Err(err).Str("server", server).Str("tool", tool.Name).Msg("ignoring tool input schema")
			}

			out = append(out, contractx.Capability{
				Name:        name,
				Server:      server,
				RemoteName:  tool.Name,
				Description: strings.TrimSpace(tool.Description),
				Params:      params,
			})
		}
	}
	return out
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	parts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
