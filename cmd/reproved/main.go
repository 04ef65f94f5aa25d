// Command reproved runs the claim-verification service: the HTTP intake
// surface and the single reproduction worker, sharing one sqlite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reprove-ai/reprove/pkg/api"
	"github.com/reprove-ai/reprove/pkg/config"
	"github.com/reprove-ai/reprove/pkg/fingerprint"
	"github.com/reprove-ai/reprove/pkg/manifest"
	"github.com/reprove-ai/reprove/pkg/observability"
	"github.com/reprove-ai/reprove/pkg/regression"
	"github.com/reprove-ai/reprove/pkg/sandbox"
	"github.com/reprove-ai/reprove/pkg/store"
	"github.com/reprove-ai/reprove/pkg/webhook"
	"github.com/reprove-ai/reprove/pkg/worker"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) >= 2 {
		switch args[1] {
		case "export":
			return runExport(args[2:], stdout, stderr)
		case "serve":
			args = args[2:]
		default:
			if strings.HasPrefix(args[1], "-") {
				args = args[1:]
			} else {
				fmt.Fprintf(stderr, "unknown command %q\n", args[1])
				return 2
			}
		}
	} else {
		args = args[1:]
	}
	return runServe(args, stderr)
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", "", "optional YAML configuration profile")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *profilePath != "" {
		if err := config.LoadProfile(cfg, *profilePath); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:  "reprove",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("store open failed", "error", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	validator, err := manifest.New()
	if err != nil {
		logger.Error("schema compile failed", "error", err)
		return 1
	}

	detectorsVersion, err := fingerprint.DetectorsVersion()
	if err != nil {
		logger.Error("detectors version invalid", "error", err)
		return 1
	}
	envHash, err := fingerprint.EnvHash(cfg.FixtureDir)
	if err != nil {
		logger.Error("environment hash failed", "error", err)
		return 1
	}
	logger.Info("fingerprint computed", "detectors_version", detectorsVersion, "env_hash", envHash)

	w := worker.New(worker.Options{
		Store:            st,
		Runner:           sandbox.NewTranscriptRunner(),
		Exporter:         regression.NewExporter(cfg.ArtifactDir),
		Dispatcher:       webhook.NewDispatcher(cfg.WebhookRate),
		Telemetry:        telemetry,
		Interval:         cfg.PollInterval,
		Canaries:         cfg.CanaryStrings,
		FixtureHosts:     cfg.FixtureHosts,
		DetectorsVersion: detectorsVersion,
		EnvHash:          envHash,
	})
	go w.Run(ctx)

	mux := http.NewServeMux()
	api.NewServer(st, validator, cfg.CanaryStrings).Routes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	}
	return 0
}

// runExport re-exports the regression pack for a stored run. Exports are
// not idempotent: each invocation writes a fresh timestamped artifact.
func runExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "database path (defaults to DATABASE_PATH)")
	outDir := fs.String("out", "", "artifact directory (defaults to ARTIFACT_DIR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: reproved export [-db path] [-out dir] <run-id>")
		return 2
	}
	runID := fs.Arg(0)

	cfg := config.Load()
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *outDir != "" {
		cfg.ArtifactDir = *outDir
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = st.Close() }()

	run, err := st.GetRun(context.Background(), runID)
	if err != nil {
		fmt.Fprintf(stderr, "load run %s: %v\n", runID, err)
		return 1
	}

	path, err := regression.NewExporter(cfg.ArtifactDir).Export(run)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, path)
	return 0
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
