package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"roomradar/internal/config"
	appLog "roomradar/internal/log"
	"roomradar/internal/radar"
	"roomradar/internal/schedule"
	"roomradar/internal/web"
)

var version = "0.1.0-dev"

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "roomradar",
		Usage:   "Publish a calendar of the rooms that are free right now.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "roomradar.yaml",
				Usage:   "path to the YAML config file (created with defaults if missing)",
				EnvVars: []string{"ROOMRADAR_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error (overrides log_level from the config)",
				EnvVars: []string{"ROOMRADAR_LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			watchCommand(),
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("roomradar failed", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Fetch every room feed once and write the free-room calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output calendar path (overrides output_path)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if out := c.String("output"); out != "" {
				cfg.OutputPath = out
			}

			runner, err := radar.FromConfig(cfg)
			if err != nil {
				return err
			}
			_, err = runner.Run(c.Context)
			return err
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Regenerate the calendar on the refresh schedule and serve it over HTTP.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides listen; empty disables the server)"},
			&cli.StringFlag{Name: "refresh", Usage: "cron schedule (overrides refresh)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("listen") {
				cfg.Listen = c.String("listen")
			}
			if c.IsSet("refresh") {
				cfg.RefreshCron = c.String("refresh")
			}
			if err := schedule.Validate(cfg.RefreshCron); err != nil {
				return err
			}

			runner, err := radar.FromConfig(cfg)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var srv *web.Server
			srvErr := make(chan error, 1)
			if cfg.Listen != "" {
				srv = web.NewServer(cfg)
				go func() {
					err := srv.ListenAndServe(ctx)
					if err != nil {
						// Without the server there is nothing to watch for.
						stop()
					}
					srvErr <- err
				}()
			}

			job := func(ctx context.Context) {
				rep, err := runner.Run(ctx)
				if err != nil {
					appLog.Error("run failed", err)
					return
				}
				if srv != nil {
					srv.SetReport(rep)
				}
			}
			if err := schedule.Run(ctx, cfg.RefreshCron, loc, job); err != nil {
				return err
			}

			if srv != nil {
				if err := <-srvErr; err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}
			appLog.Info("roomradar exiting")
			return nil
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Info("effective config",
		"config_path", path,
		"timezone", cfg.Timezone,
		"rooms", len(cfg.RoomList),
		"cache_dir", cfg.CacheDir,
		"output_path", cfg.OutputPath,
		"closing_time", cfg.ClosingTime,
		"timeout_seconds", cfg.TimeoutSeconds,
	)
	return cfg, nil
}
