package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/agents/specialist"
	llmx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/llm"
	statex "github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/state"
	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/agent/toolserver"
	"github.com/tanpawarit/Chative-Multi-Agent-Runtime/api"
	configx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/config"
	logx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/logger"
	metricsx "github.com/tanpawarit/Chative-Multi-Agent-Runtime/pkg/metrics"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           "chative",
		Short:         "Multi-agent chatbot runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configx.SetEnvFile(envFile)
			logCfg, err := configx.New[logx.Config]("")
			if err != nil {
				return fmt.Errorf("load logger config: %w", err)
			}
			logx.Init(*logCfg)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to load before reading configuration (default .env when present)")

	cmd.AddCommand(serveCmd(), toolsCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve POST /ask over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Connect to the configured tool servers and list their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter(nil)
			if err != nil {
				return err
			}
			defer adapter.Close()

			if err := adapter.Initialize(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CAPABILITY\tSERVER\tREMOTE\tDESCRIPTION")
			for _, c := range adapter.Capabilities() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.Server, c.RemoteName, c.Description)
			}
			return w.Flush()
		},
	}
}

func newAdapter(metrics *metricsx.Recorder) (*toolserver.Adapter, error) {
	cfg, err := configx.New[toolserver.Config]("")
	if err != nil {
		return nil, fmt.Errorf("load tool server config: %w", err)
	}
	servers, err := toolserver.DiscoverServers(*cfg)
	if err != nil {
		return nil, err
	}
	return toolserver.New(*cfg, servers, toolserver.WithMetrics(metrics)), nil
}

func serve(ctx context.Context) error {
	apiCfg := configx.MustNew[api.Config]("")
	llmCfg := configx.MustNew[llmx.Config]("")
	agentCfg := configx.MustNew[specialist.Config]("")
	runnerCfg := configx.MustNew[orchestrator.Config]("")

	metrics, err := metricsx.New(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	adapter, err := newAdapter(metrics)
	if err != nil {
		return err
	}
	defer adapter.Close()

	// Unreachable optional servers are left out of the catalogue; a
	// required one aborts startup.
	if err := adapter.Initialize(ctx); err != nil {
		return err
	}
	log.Info().Strs("servers", adapter.Servers()).Int("capabilities", len(adapter.Capabilities())).Msg("tool servers ready")

	registry, err := specialist.NewRegistry(ctx, *llmCfg, specialist.Options{
		Gateway:         adapter,
		Metrics:         metrics,
		MaxIterations:   agentCfg.MaxIterations,
		PlannerAttempts: agentCfg.PlannerAttempts,
	})
	if err != nil {
		return err
	}

	runner, err := orchestrator.New(statex.NewMemoryStore(), registry, *runnerCfg, orchestrator.WithMetrics(metrics))
	if err != nil {
		return err
	}

	return api.NewServer(*apiCfg, runner).Run(ctx)
}
