// Cprd is the CPR coaching daemon.
//
// It receives camera frames from smart-glasses clients, resolves each frame
// through a chain of analysis backends, turns the measurements into coaching
// guidance, and tracks per-session statistics.
//
// Usage:
//
//	# Start with defaults
//	cprd
//
//	# Start with a config file, override via environment
//	SERVER_HTTP_PORT=9000 cprd --config /etc/cprd/config.yaml
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/backend"
	"github.com/rescuelabs/cprd/internal/config"
	"github.com/rescuelabs/cprd/internal/guidance"
	httpserver "github.com/rescuelabs/cprd/internal/http"
	"github.com/rescuelabs/cprd/internal/logging"
	"github.com/rescuelabs/cprd/internal/session"
	"github.com/rescuelabs/cprd/internal/summary"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cprd",
	Short: "CPR coaching analysis daemon",
	Long: `cprd analyzes CPR technique from camera frames and returns real-time
coaching guidance. Frames are resolved through a prioritized chain of
analysis backends (vision-language model, remote pose service, local
estimators) and aggregated into practice sessions.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("cprd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order: configuration, logger, session store, backend chain,
// guidance and summary services, HTTP server. Shutdown is graceful within
// the configured timeout.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting cprd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("backend_priority", cfg.Analysis.Priority),
		zap.String("session_store", cfg.Session.Store),
	)

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	aggregator, err := session.NewAggregator(store, logger)
	if err != nil {
		return fmt.Errorf("failed to create session aggregator: %w", err)
	}

	chain, err := buildChain(cfg, logger)
	if err != nil {
		return err
	}
	orchestrator := backend.NewOrchestrator(chain, logger)

	backendNames := make([]string, len(chain))
	for i, entry := range chain {
		backendNames[i] = entry.Backend.Name()
	}

	summarizer, err := newSummarizer(cfg, logger)
	if err != nil {
		return err
	}

	srv, err := httpserver.NewServer(
		orchestrator,
		guidance.NewSynthesizer(cfg.Guidance),
		aggregator,
		summarizer,
		logger,
		&httpserver.Config{
			Port:           cfg.Server.Port,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Backends:       backendNames,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newStore creates the configured session store and its cleanup function.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Store, func(), error) {
	if cfg.Session.Store != "redis" {
		return session.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Session.RedisAddr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Session.RedisAddr, err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Session.RedisAddr))

	store, err := session.NewRedisStore(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, func() { _ = client.Close() }, nil
}

// buildChain assembles the backend fallback chain in configured priority
// order. Backends whose prerequisites are missing are skipped; the local
// backend always participates, even without a detector or model, so the
// chain can never be empty.
func buildChain(cfg *config.Config, logger *zap.Logger) ([]backend.Entry, error) {
	var chain []backend.Entry
	for _, name := range cfg.Analysis.Priority {
		switch name {
		case "vision_language":
			if !cfg.Vision.APIKey.IsSet() {
				logger.Info("vision-language backend disabled: no api key configured")
				continue
			}
			opts := []openai.Option{
				openai.WithToken(cfg.Vision.APIKey.Value()),
				openai.WithModel(cfg.Vision.Model),
			}
			if cfg.Vision.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(cfg.Vision.BaseURL))
			}
			model, err := openai.New(opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to create vision model client: %w", err)
			}
			chain = append(chain, backend.Entry{
				Backend: backend.NewVisionLanguage(model, logger),
				Timeout: cfg.Analysis.VisionTimeout,
			})
		case "remote_service":
			if cfg.Remote.BaseURL == "" {
				logger.Info("remote backend disabled: no base url configured")
				continue
			}
			chain = append(chain, backend.Entry{
				Backend: backend.NewRemote(cfg.Remote.BaseURL, logger),
				Timeout: cfg.Analysis.RemoteTimeout,
			})
		case "local":
			chain = append(chain, backend.Entry{
				Backend: backend.NewLocal(nil, nil, logger),
				Timeout: cfg.Analysis.LocalTimeout,
			})
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no analysis backend available; check analysis.priority")
	}
	return chain, nil
}

// newSummarizer creates the session summary service. Disabled summaries use
// a nil model, which makes the service return its static fallback text.
func newSummarizer(cfg *config.Config, logger *zap.Logger) (*summary.Service, error) {
	if !cfg.Summary.Enabled {
		return summary.NewService(nil, logger), nil
	}

	opts := []openai.Option{
		openai.WithToken(cfg.Vision.APIKey.Value()),
		openai.WithModel(cfg.Summary.Model),
	}
	if cfg.Vision.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Vision.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary model client: %w", err)
	}
	return summary.NewService(model, logger), nil
}
