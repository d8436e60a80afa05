package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/orchestra/internal/agent"
	"github.com/haasonsaas/orchestra/internal/agentmanager"
	"github.com/haasonsaas/orchestra/internal/bus"
	"github.com/haasonsaas/orchestra/internal/config"
	"github.com/haasonsaas/orchestra/internal/cron"
	"github.com/haasonsaas/orchestra/internal/gateway/wsadapter"
	"github.com/haasonsaas/orchestra/internal/plandirector"
	"github.com/haasonsaas/orchestra/internal/tasks"
	"github.com/haasonsaas/orchestra/internal/telemetry"
	"github.com/haasonsaas/orchestra/pkg/models"
)

const defaultAgentID = "default"

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator: plan director, cron service, and gateway adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	return cmd
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("ORCHESTRA_CONFIG"); env != "" {
		return env
	}
	return "orchestra.yaml"
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	events := bus.NewEventBus(bus.WithLogger(logger), bus.WithMetrics(metrics))
	commands := bus.NewCommandBus()

	var tasksPath string
	if cfg.Server.DataDir != "" {
		tasksPath = filepath.Join(cfg.Server.DataDir, "tasks.json")
	}
	store := tasks.NewStore(tasksPath, tasks.WithPublisher(events), tasks.WithLogger(logger))

	agents := agentmanager.NewManager()
	defaultLoopConfig := agent.DefaultLoopConfig()
	defaultLoopConfig.Events = events
	defaultLoopConfig.AgentID = defaultAgentID
	if _, err := agents.CreateAndRegister(
		defaultAgentID,
		agent.NewEchoProvider("echo: "),
		models.AgentConfig{Model: "echo", MaxSteps: 10},
		agent.NewToolRegistry(),
		nil,
		defaultLoopConfig,
	); err != nil {
		return err
	}

	director := plandirector.NewDirector(store, events, agents, cfg.Scheduler,
		plandirector.WithLogger(logger),
		plandirector.WithMetrics(metrics),
		plandirector.WithDefaultAgent(defaultAgentID),
	)
	director.Start(ctx)
	defer director.Stop()

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go consumeCommands(consumerCtx, commands, store, logger)

	cronOpts := []cron.ServiceOption{cron.WithLogger(logger), cron.WithMetrics(metrics)}
	if cfg.Server.DataDir != "" {
		execStore, err := cron.NewSQLiteExecutionStore(filepath.Join(cfg.Server.DataDir, "cron.db"))
		if err != nil {
			return fmt.Errorf("open cron execution store: %w", err)
		}
		defer execStore.Close()
		cronOpts = append(cronOpts, cron.WithExecutionStore(execStore))
	}
	cronSvc := cron.NewService(cronOpts...)
	defer cronSvc.Stop()
	if err := cronSvc.AddJob("heartbeat", cfg.Cron.TickInterval, func(_ context.Context, _ map[string]any) error {
		events.Publish(bus.NewEvent(models.EventHeartbeat, map[string]any{"job": "heartbeat"}))
		return nil
	}, nil); err != nil {
		return err
	}

	gw := wsadapter.New(commands, logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		chatID := filepath.Base(r.URL.Path)
		gw.ServeHTTP(w, r, chatID)
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.HTTPPort),
		Handler: mux,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", "error", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// consumeCommands is the single consumer loop the Command Bus contract
// requires: it blocks on Receive and applies each Event to store in
// sequence. A user_message becomes a todo task carrying the chat's text; a
// user_approval is left for a full deployment's gateway to resolve directly
// via tasks.UpdateTask against the specific waiting_approval task it
// addresses, which this generic bridge has no way to identify.
func consumeCommands(ctx context.Context, commands *bus.CommandBus, store *tasks.Store, logger *slog.Logger) {
	for {
		evt, err := commands.Receive(ctx)
		if err != nil {
			return
		}
		if evt.Type != models.EventUserMessage {
			continue
		}
		text, _ := evt.Payload["text"].(string)
		if text == "" {
			continue
		}
		if err := store.AddTask(&tasks.Task{ID: evt.ID, Title: text}); err != nil {
			logger.Error("failed to create task from user_message", "error", err)
		}
	}
}

func loadConfigOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || cfg.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
