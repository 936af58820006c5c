package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HyphaGroup/acpbridge/internal/acp"
	"github.com/HyphaGroup/acpbridge/internal/engine/factory"
	"github.com/HyphaGroup/acpbridge/internal/history"
	"github.com/HyphaGroup/acpbridge/internal/logger"
	"github.com/HyphaGroup/acpbridge/internal/metrics"
	"github.com/HyphaGroup/acpbridge/internal/protocol"
	"github.com/HyphaGroup/acpbridge/internal/rpc"
	"github.com/HyphaGroup/acpbridge/internal/session"
	"github.com/HyphaGroup/acpbridge/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent on stdin/stdout (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	if err := logger.Init(logger.Options{Dir: cfg.Logging.Dir, JSON: cfg.Logging.JSON, Level: cfg.Logging.Level}); err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	eng, err := factory.New(cfg.Engine)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	info := eng.Info()
	logger.Info("Engine: %s (%s)", info.Name, info.Version)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.NewStore(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		logger.Info("Recording transcripts to %s", cfg.History.Path)
	}

	sessions, err := session.NewManager(eng, session.Options{
		MaxSessions:      cfg.Limits.MaxSessions,
		PromptsPerSecond: cfg.Limits.PromptsPerSecond,
		PromptBurst:      cfg.Limits.PromptBurst,
		IdleTimeout:      cfg.Limits.IdleTimeout.Std(),
		ReapSchedule:     cfg.Limits.ReapSchedule,
		OnRemove:         closeInHistory(store),
	})
	if err != nil {
		return err
	}
	defer sessions.Close()

	agent := acp.New(
		protocol.Implementation{Name: cfg.Agent.Name, Version: cfg.Agent.Version},
		sessions,
		stream.NewBridge(cfg.Limits.MaxConcurrentPrompts),
		store,
	)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		logger.Info("Metrics listening on %s/metrics", cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("%s %s ready (acpbridge %s)", cfg.Agent.Name, cfg.Agent.Version, Version)
	err = rpc.NewServer(agent, os.Stdin, os.Stdout).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("Received shutdown signal")
		return nil
	}
	return err
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// closeInHistory stamps removed sessions as closed in the transcript store.
func closeInHistory(store *history.Store) func(id string, reaped bool) {
	if store == nil {
		return nil
	}
	return func(id string, reaped bool) {
		if err := store.CloseSession(id, time.Now()); err != nil && !errors.Is(err, history.ErrSessionNotFound) {
			logger.Error("Failed to close session %s in history: %v", id, err)
		}
	}
}
