package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/shabda/internal/app"
	"github.com/MrWong99/shabda/internal/config"
	"github.com/MrWong99/shabda/internal/observe"
	"github.com/MrWong99/shabda/pkg/scorer"
	"github.com/MrWong99/shabda/pkg/scorer/httpscorer"
	"github.com/MrWong99/shabda/pkg/scorer/openai"
)

func newServeCmd() *cobra.Command {
	var watchInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the correction HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, watchInterval)
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "config-watch", 5*time.Second, "poll interval for config changes (0 disables reloading)")
	return cmd
}

func runServe(cmd *cobra.Command, watchInterval time.Duration) error {
	configPath, _ := cmd.Flags().GetString("config")

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	lv := new(slog.LevelVar)
	slog.SetDefault(newLogger(cfg.Server.LogLevel, lv))

	slog.Info("shabda starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Scorer registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinScorers(reg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cmd, cfg)

	application, err := app.New(ctx, cfg, reg,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.Handler()),
		app.WithLogLevel(lv),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watchInterval > 0 {
		w, err := config.NewWatcher(configPath, application.ApplyConfig, config.WithInterval(watchInterval))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Scorer wiring ─────────────────────────────────────────────────────────────

// registerBuiltinScorers wires the scorer implementations that ship with
// Shabda into reg.
func registerBuiltinScorers(reg *config.Registry) {
	// http: a scoring sidecar wrapping a local language model.
	reg.Register("http", func(e config.ScorerEntry) (scorer.Scorer, error) {
		opts := []httpscorer.Option{httpscorer.WithTimeout(e.Timeout)}
		if auth := config.OptString(e.Options, "authorization"); auth != "" {
			opts = append(opts, httpscorer.WithHeader("Authorization", auth))
		}
		return httpscorer.New(e.BaseURL, opts...)
	})

	// openai: any OpenAI-compatible completions endpoint returning prompt
	// log-probabilities (OpenAI, vLLM, llama.cpp server).
	reg.Register("openai", func(e config.ScorerEntry) (scorer.Scorer, error) {
		opts := []openai.Option{openai.WithTimeout(e.Timeout)}
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if org := config.OptString(e.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if n, ok := config.OptInt(e.Options, "max_retries"); ok {
			opts = append(opts, openai.WithMaxRetries(n))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered scorer", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	v := cfg.Vocabulary
	fmt.Fprintln(out, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(out, "║         Shabda, startup summary       ║")
	fmt.Fprintln(out, "╠═══════════════════════════════════════╣")
	printRow(cmd, "Scorer", entrySummary(cfg.Scorer.Primary))
	printRow(cmd, "Fallbacks", fmt.Sprint(len(cfg.Scorer.Fallbacks)))
	printRow(cmd, "Word list", orNone(v.WordList))
	printRow(cmd, "Snapshot", orNone(string(v.Snapshot.Backend)))
	if v.PostgresDSN != "" {
		printRow(cmd, "Word store", "postgres")
	} else {
		printRow(cmd, "Word store", "(disabled)")
	}
	printRow(cmd, "Empty policy", cfg.Correction.EmptyPolicy)
	printRow(cmd, "Listen addr", cfg.Server.ListenAddr)
	fmt.Fprintln(out, "╚═══════════════════════════════════════╝")
}

func entrySummary(e config.ScorerEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func printRow(cmd *cobra.Command, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "║  %-14s  : %-19s ║\n", label, value)
}
