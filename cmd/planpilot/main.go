// PlanPilot - LLM-assisted planning backend
// Entry point: flag handling plus the serve and migrate commands.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/planpilot/planpilot/internal/infra/config"
	"github.com/planpilot/planpilot/internal/infra/sqlite"
	"github.com/planpilot/planpilot/internal/server"
	"github.com/planpilot/planpilot/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("planpilot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	if *showHelp {
		printHelp(out)
		return 0
	}

	switch fs.Arg(0) {
	case "serve":
		return runServe(out)
	case "migrate":
		return runMigrate(out)
	case "":
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	default:
		fmt.Fprintf(out, "unknown command %q\n\n", fs.Arg(0)) //nolint:errcheck
		printHelp(out)
		return 2
	}
}

// runServe starts the HTTP server and blocks until SIGINT/SIGTERM.
func runServe(out io.Writer) int {
	_ = godotenv.Load() // .env is optional; real env vars win

	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(out, "failed to open database: %v\n", err) //nolint:errcheck
		return 1
	}
	if err := sqlite.MigrateUp(db); err != nil {
		fmt.Fprintf(out, "failed to run migrations: %v\n", err) //nolint:errcheck
		return 1
	}

	srvCfg := server.DefaultConfig()
	if port, convErr := strconv.Atoi(cfg.Port); convErr == nil {
		srvCfg.Port = port
	}

	srv := server.NewServer(db, cfg, srvCfg, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(context.Background())
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server error")
			return 1
		}
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("shutdown error")
			return 1
		}
	}
	return 0
}

// runMigrate applies pending migrations and exits.
func runMigrate(out io.Writer) int {
	_ = godotenv.Load()

	cfg := config.Load()
	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(out, "failed to open database: %v\n", err) //nolint:errcheck
		return 1
	}
	defer db.Close() //nolint:errcheck

	if err := sqlite.MigrateUp(db); err != nil {
		fmt.Fprintf(out, "failed to run migrations: %v\n", err) //nolint:errcheck
		return 1
	}

	ver, err := sqlite.MigrationVersion(db)
	if err != nil {
		fmt.Fprintf(out, "failed to read migration version: %v\n", err) //nolint:errcheck
		return 1
	}
	fmt.Fprintf(out, "migrations applied, schema version %d\n", ver) //nolint:errcheck
	return 0
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(parsed)
	}
	return log
}

func printHelp(out io.Writer) {
	helpText := `PlanPilot - LLM-assisted planning backend

Usage:
  planpilot [options] [command]

Options:
  --version    Show version information
  --help       Show this help message

Commands:
  serve        Start the HTTP server
  migrate      Run database migrations

Examples:
  planpilot --version
  planpilot serve
  planpilot migrate`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
