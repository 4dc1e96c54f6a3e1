// Command incidentdesk runs the incident tracking service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bissquit/incident-desk/internal/app"
	"github.com/bissquit/incident-desk/internal/config"
	"github.com/bissquit/incident-desk/internal/version"
)

const usage = `Usage: incidentdesk [-config path] <command>

Commands:
  serve     run the HTTP API (default)
  migrate   apply database migrations and exit
  seed      insert demo incidents into an empty database and exit
  version   print build information

Settings are read from the config file and INCIDENTDESK_* environment variables.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("incidentdesk", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("INCIDENTDESK_CONFIG"), "path to YAML config file")
	flags.Usage = func() { fmt.Fprint(flags.Output(), usage) }

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	command := "serve"
	if flags.NArg() > 0 {
		command = flags.Arg(0)
	}

	if command == "version" {
		fmt.Printf("incidentdesk %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildDate)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "serve":
		return serve(ctx, cfg)
	case "migrate":
		return app.Migrate(cfg)
	case "seed":
		result, err := app.Seed(ctx, cfg)
		if err != nil {
			return err
		}
		if result.Skipped {
			fmt.Println("incidents already exist, nothing seeded")
		} else {
			fmt.Printf("seeded %d incidents\n", result.Seeded)
		}
		return nil
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return application.Shutdown(shutdownCtx)
}
