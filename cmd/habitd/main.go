// Command habitd runs the habit tracking API, its event stream and the daily
// scheduler, and offers one-shot maintenance commands.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-habit-backend/internal/config"
	"github.com/tbourn/go-habit-backend/internal/sysutil"
)

var version = "dev"

// CLI is the habitd command line.
type CLI struct {
	Version kong.VersionFlag `help:"Print version and exit."`
	EnvFile string           `name:"env-file" help:"Dotenv file loaded before reading the environment." default:".env" type:"path"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API and the daily scheduler."`
	Seed    SeedCmd    `cmd:"" help:"Create pending logs for a day and exit."`
	Close   CloseCmd   `cmd:"" help:"Mark a day's pending logs as missed and exit."`
	Migrate MigrateCmd `cmd:"" help:"Apply the database schema and exit."`
}

// App is what every command receives.
type App struct {
	Config config.Config
	Now    func() time.Time
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("habitd"),
		kong.Description("Habit tracking engine: routines, daily logs, streaks and analytics."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := loadEnvFile(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, version)

	if err := kctx.Run(&App{Config: cfg, Now: time.Now}); err != nil {
		log.Error().Err(err).Str("command", kctx.Command()).Msg("habitd failed")
		os.Exit(1)
	}
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
