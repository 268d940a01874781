package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/upb/llm-router/app"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/routes"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "llm-router",
		Short: "Route generation requests across LLM providers",
		Long: `llm-router sends each generation request to the best available provider,
falling back to the next one on transient failures and enforcing each
provider's requests-per-window budget.

Providers are enabled by setting their credential env vars
(OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, MISTRAL_API_KEY).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(&verbose),
		newGenerateCmd(&verbose),
		newProvidersCmd(&verbose),
	)
	return root
}

// bootstrap loads configuration and builds the logger
func bootstrap(ctx context.Context, verbose bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func newServeCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(cmd.Context(), *verbose)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger, nil)
		},
	}
}

// serve runs the HTTP server and the limiter janitor until ctx is done.
// ready, when non-nil, receives the bound listener address.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready chan<- string) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}

	server := &http.Server{
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	listener, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}
	if ready != nil {
		ready <- listener.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting server",
			zap.String("address", listener.Addr().String()),
			zap.String("environment", cfg.Environment),
			zap.Bool("tls", cfg.Server.TLS.Enabled))

		var err error
		if cfg.Server.TLS.Enabled {
			err = server.ServeTLS(listener, cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = server.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		deps.RunLimiterCleanup(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
		if err := deps.Close(shutdownCtx); err != nil {
			logger.Error("failed to close dependencies", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("server stopped")
	return nil
}

func newGenerateCmd(verbose *bool) *cobra.Command {
	var (
		req         providers.GenerationRequest
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Route one prompt and print the normalized response as JSON",
		Example: `  llm-router generate --prompt "Summarize RFC 6585" --provider anthropic
  llm-router generate --prompt "hello" --capability vision`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("max-tokens") {
				req.MaxTokens = &maxTokens
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			cfg, logger, err := bootstrap(cmd.Context(), *verbose)
			if err != nil {
				return err
			}

			deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				_ = deps.Close(ctx)
			}()

			resp, err := deps.Router.Generate(cmd.Context(), &req)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.Prompt, "prompt", "p", "", "prompt text")
	flags.StringVar(&req.SystemPrompt, "system", "", "system prompt")
	flags.StringVarP(&req.Model, "model", "m", "", "model identifier")
	flags.StringVar(&req.PreferredProvider, "provider", "", "preferred provider, tried first when eligible")
	flags.StringSliceVar(&req.RequiredCapabilities, "capability", nil, "required capability (repeatable)")
	flags.IntVar(&maxTokens, "max-tokens", 0, "maximum completion tokens")
	flags.Float64Var(&temperature, "temperature", 0, "sampling temperature")
	_ = cmd.MarkFlagRequired("prompt")

	return cmd
}

func newProvidersCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their rate-limit windows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(cmd.Context(), *verbose)
			if err != nil {
				return err
			}

			deps, err := app.NewDependencies(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = deps.Close(context.Background()) }()

			return printJSON(cmd, deps.Router.Providers(cmd.Context()))
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
