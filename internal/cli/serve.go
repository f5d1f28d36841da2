package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gantry/internal/engine"
	"gantry/internal/event"
	"gantry/internal/flags"
	"gantry/internal/server"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a GitHub webhook endpoint that triggers runs",
	Long: `Listen for GitHub webhooks and run the matching workflows on delivery.

Push and pull request deliveries are verified against the webhook secret,
translated into the trigger event (branch, SHA, changed paths), and executed
in the background exactly as gantry run would. Other event types are
acknowledged and ignored.

Endpoints:
	GET  /health        liveness probe
	POST /hooks/github  webhook receiver (X-Hub-Signature-256 required)

Environment:
	GANTRY_WEBHOOK_SECRET  the webhook HMAC secret; required unless provided
	                       through --env-file. Unsigned or mis-signed
	                       deliveries are rejected.

Exit codes:
	0 = shut down cleanly (SIGINT/SIGTERM)
	3 = fatal error (bad config, missing secret, or listener failure)

Examples:
  export GANTRY_WEBHOOK_SECRET="<hook secret>"
  gantry serve --addr :8385

  # Secrets from a dotenv file
  gantry serve --env-file /etc/gantry/secrets.env
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := applyConfigFile(cmd, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		}

		if cfg.Server.EnvFile != "" {
			if err := godotenv.Load(cfg.Server.EnvFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error: loading env file: %v\n", err)
				os.Exit(3)
			}
		}

		secret := cfg.Server.Secret
		if secret == "" {
			secret = os.Getenv("GANTRY_WEBHOOK_SECRET")
		}
		if secret == "" {
			fmt.Fprintln(os.Stderr, "Error: a webhook secret is required (set GANTRY_WEBHOOK_SECRET or use --env-file)")
			os.Exit(3)
		}

		logger := newDaemonLogger(cfg.Runtime.Verbose)

		runWebhook := func(ev event.Event) {
			rc := *cfg
			rc.Event.Kind = string(ev.Kind)
			rc.Event.Branch = ev.Branch
			rc.Event.SHA = ev.SHA
			rc.Event.Repository = ev.Repository
			rc.Event.Changed = ev.ChangedPaths
			code := engine.NewEngine().Run(context.Background(), &rc)
			logger.Info("webhook run finished",
				"event", string(ev.Kind),
				"branch", ev.Branch,
				"sha", ev.SHA,
				"exit_code", code)
		}

		srv := server.New(runWebhook,
			server.WithAddr(cfg.Server.Addr),
			server.WithSecret(secret),
			server.WithVersion(buildVersion),
			server.WithLogger(logger),
		)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		logger.Info("listening", "addr", cfg.Server.Addr)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(3)
		case sig := <-stop:
			logger.Info("shutting down", "signal", sig.String())
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
			os.Exit(3)
		}
	},
}

// newDaemonLogger builds the slog logger serve and watch share. Daemon
// diagnostics go to stderr so stdout stays free for run output.
func newDaemonLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&cfg.Server.Addr, flags.FlagAddr, cfg.Server.Addr, "Listen address (default: :8385)")
	serveCmd.Flags().StringVar(&cfg.Server.EnvFile, flags.FlagEnvFile, "", "Dotenv file loaded before serving (for GANTRY_WEBHOOK_SECRET etc.)")
	serveCmd.Flags().StringVar(&cfg.Run.Root, flags.FlagRoot, cfg.Run.Root, "Repository root webhook runs execute against")
	serveCmd.Flags().StringVar(&cfg.Run.Platform, flags.FlagPlatformMismatch, cfg.Run.Platform, "Policy for jobs whose runs-on does not match this host: skip|run|fail (default: skip)")
	serveCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output of webhook runs")
	serveCmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, cfg.Runtime.Concurrency, "Concurrent job units per run (default: 4)")
	serveCmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Deadline for each webhook-triggered run (default: 1h)")
}
