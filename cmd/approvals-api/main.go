package main

import (
	"context"
	"os"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/assignment"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/bulk"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/cmd"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/escalation"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort         = 9091
	defaultBulkWorkers  = 8
	defaultBulkMaxBatch = 100
	sweepLockTTL        = 2 * time.Minute
)

func main() {
	command := &cli.Command{
		Name:                  "approvals-api",
		Usage:                 "Create and manage approval workflows and their running instances",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "directory-file",
				Usage:   "Path to the JSON file with role memberships and the manager chain",
				Value:   "",
				Sources: cli.EnvVars("DIRECTORY_FILE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the cross-replica sweep lock (empty disables locking)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron expression for escalation sweeps triggered via the API",
				Value:   "* * * * *",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing approvals API")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "approvals-api", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			dir, err := cmd.NewDirectory(command.String("directory-file"))
			if err != nil {
				return err
			}

			eng := engine.NewEngine(persistence, assignment.NewResolver(dir, logger), eventBus, logger)
			bulkProcessor := bulk.NewProcessor(eng, persistence, logger, defaultBulkWorkers, defaultBulkMaxBatch)

			sweepLock, err := cmd.NewSweepLock(ctx, command.String("redis-url"), sweepLockTTL)
			if err != nil {
				return err
			}

			// The API never runs sweeps on a schedule; this sweeper only
			// backs the manual trigger endpoint. The lock keeps a manual
			// sweep from racing the escalator service.
			sweeper, err := escalation.NewSweeper(eng, persistence, dir, sweepLock, logger, escalation.Config{
				Schedule: command.String("sweep-schedule"),
			})
			if err != nil {
				return err
			}

			api := NewAPI(logger, persistence, eng, bulkProcessor, sweeper)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
