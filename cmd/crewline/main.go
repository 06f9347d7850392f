// Package main is the crewline CLI: one-shot agent turns and squad runs
// from a YAML configuration file.
//
// Run a single agent turn:
//
//	crewline run --config crewline.yaml --agent researcher "find the docs"
//
// Run a squad:
//
//	crewline squad --config crewline.yaml --squad field-ops "write the report"
//
// API keys are referenced from the config as ${ENV_VAR} expansions.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/hooks"
	"github.com/crewline/crewline/internal/provider"
	"github.com/crewline/crewline/internal/squad"
	"github.com/crewline/crewline/internal/subagents"
	"github.com/crewline/crewline/internal/tools"
	"github.com/crewline/crewline/pkg/models"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

var (
	configPath string
	agentID    string
	squadID    string
	grantTools bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "crewline",
		Short:         "Multi-agent execution runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "crewline.yaml", "path to the runtime config")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")

	rootCmd.AddCommand(newRunCmd(), newSquadCmd(), newAgentsCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run one agent turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			cfg, ok := rt.config.Agent(agentID)
			if !ok {
				return fmt.Errorf("agent %q not found in %s", agentID, configPath)
			}

			runID := uuid.NewString()
			workspace, err := rt.ensureWorkspace(cfg.ID)
			if err != nil {
				return err
			}
			view := rt.coordinator.Runtime(runID, cfg.ID, 0)
			exec := &tools.ExecutionContext{
				RunID:              runID,
				AgentID:            cfg.ID,
				AgentName:          cfg.Name,
				ProviderID:         cfg.Provider,
				ToolAccessMode:     cfg.AccessMode,
				ToolAccessGranted:  grantTools,
				AgentWorkspaceRoot: workspace,
				SpawnSubAgent:      view.Spawn,
				AwaitSubAgentRun:   view.Await,
				ListSubAgentRuns:   view.List,
				CancelSubAgentRun:  view.Cancel,
				Hooks:              rt.bus,
				SecretValues:       rt.config.Secrets,
			}
			history := []models.Message{{
				ID:        uuid.NewString(),
				Role:      models.RoleUser,
				Content:   args[0],
				Timestamp: time.Now(),
			}}

			msg, err := rt.engine.Run(cmd.Context(), agent.RunInput{Agent: cfg, History: history, Exec: exec})
			if err != nil {
				return err
			}
			fmt.Println(msg.Content)
			if verbose && msg.ToolExecution != nil {
				s := msg.ToolExecution
				fmt.Fprintf(os.Stderr, "tools: attempted=%d succeeded=%d failed=%d malformed=%d file_effects=%d shell_effects=%d\n",
					s.Attempted, s.Succeeded, s.Failed, s.Malformed, s.VerifiedFileEffects, s.VerifiedShellEffects)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id from the config")
	cmd.Flags().BoolVar(&grantTools, "grant-tools", false, "pre-approve privileged tools for this turn")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newSquadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "squad [message]",
		Short: "Run a squad until it completes, blocks, or needs input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			cfg, ok := rt.config.Squad(squadID)
			if !ok {
				return fmt.Errorf("squad %q not found in %s", squadID, configPath)
			}

			orch := squad.New(rt.engine, rt.clients, rt.resolve, rt.logger)
			orch.OnStep = func(step squad.Step, _ []squad.Step) {
				fmt.Fprintf(os.Stderr, "[%d] %s: %s\n", step.Iteration, step.AgentName, step.Summary)
			}
			res, err := orch.Run(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("[%s] %s\n", res.Status, res.Response)
			return nil
		},
	}
	cmd.Flags().StringVar(&squadID, "squad", "", "squad id or name from the config")
	_ = cmd.MarkFlagRequired("squad")
	return cmd
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			for _, a := range cfg.Agents {
				fmt.Printf("%-20s %s/%s tools=%s\n", a.ID, a.Provider, a.Model, strings.Join(a.Tools, ","))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("crewline %s (%s)\n", version, commit)
		},
	}
}

// runtime is the fully wired process: provider clients, tool registry, hook
// bus with built-in subscribers, the turn engine, and the sub-agent
// coordinator bound to its executor.
type runtime struct {
	config      *Config
	logger      *slog.Logger
	clients     map[string]provider.Client
	registry    *tools.Registry
	bus         *hooks.Bus
	engine      *agent.Engine
	coordinator *subagents.Coordinator
	resolve     agent.AgentResolver
}

func buildRuntime() (*runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clients, err := buildClients(cfg, logger)
	if err != nil {
		return nil, err
	}

	bus := hooks.NewBus(logger)
	hooks.NewRedactor(cfg.Secrets).Attach(bus)
	hooks.NewMetrics(prometheus.DefaultRegisterer).Attach(bus)
	hooks.NewMemoryCapture(filepath.Join(cfg.DataDir, "memory"), logger).Attach(bus)

	registry := tools.NewRegistry(logger)
	if err := registry.Register(tools.NewSubAgentsTool()); err != nil {
		return nil, err
	}

	engine := agent.NewEngine(registry, clients, bus, logger)
	resolve := cfg.Agent

	scfg := subagents.ConfigFromEnv()
	var store subagents.Store
	if scfg.StoreMode == subagents.StoreModeMemory {
		store = subagents.NewMemoryStore()
	} else {
		store = subagents.NewFileStore(scfg.StorePath, logger)
	}
	runner := agent.NewSubAgentRunner(engine, resolve, cfg.DataDir, cfg.Secrets)
	coord, err := subagents.NewCoordinator(scfg, store, runner.Execute, logger)
	if err != nil {
		return nil, err
	}
	runner.Bind(coord)

	return &runtime{
		config:      cfg,
		logger:      logger,
		clients:     clients,
		registry:    registry,
		bus:         bus,
		engine:      engine,
		coordinator: coord,
		resolve:     resolve,
	}, nil
}

func buildClients(cfg *Config, logger *slog.Logger) (map[string]provider.Client, error) {
	clients := make(map[string]provider.Client, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		name = strings.ToLower(name)
		if pc.APIKey == "" {
			logger.Warn("provider has no API key, skipping", "provider", name)
			continue
		}
		switch name {
		case "openai":
			clients[name] = provider.NewOpenAIClient(pc.APIKey, logger)
		case "anthropic":
			clients[name] = provider.NewAnthropicClient(pc.APIKey, logger)
		case "groq":
			clients[name] = provider.NewGroqClient(pc.APIKey, logger)
		default:
			if pc.BaseURL == "" {
				return nil, fmt.Errorf("provider %q needs base_url (only openai, anthropic, groq are built in)", name)
			}
			clients[name] = provider.NewCompatClient(name, pc.APIKey, pc.BaseURL, logger)
		}
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no provider in %s has an API key", configPath)
	}
	return clients, nil
}

func (rt *runtime) ensureWorkspace(agentID string) (string, error) {
	dir := filepath.Join(rt.config.DataDir, "evolution", "agents", agentID, "workspace")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create agent workspace: %w", err)
	}
	return dir, nil
}
