package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/assignment"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/cmd"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/escalation"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/log"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/otelhelper"
)

const sweepLockTTL = 2 * time.Minute

func main() {
	command := &cli.Command{
		Name:                  "approvals-escalator",
		Usage:                 "Start the escalation sweeper service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "escalator-id",
				Aliases: []string{"id"},
				Usage:   "Custom escalator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ESCALATOR_ID"),
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
				Usage:   "Cron expression controlling sweep cadence",
				Value:   "* * * * *",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "sweep-batch-size",
				Usage:   "Maximum overdue steps processed per sweep",
				Value:   100,
				Sources: cli.EnvVars("SWEEP_BATCH_SIZE"),
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

			escalatorID := command.String("escalator-id")
			if escalatorID == "" {
				escalatorID = fmt.Sprintf("escalator-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("approvals-escalator").With("escalator_id", escalatorID)

			logger.Info("Initializing escalation sweeper", "escalator_id", escalatorID)

			tracer, err := otelhelper.NewTracer(ctx, "approvals-escalator")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "approvals-escalator", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			dir, err := cmd.NewDirectory(command.String("directory-file"))
			if err != nil {
				return err
			}

			eng := engine.NewEngine(persistence, assignment.NewResolver(dir, logger), eventBus, logger)

			sweepLock, err := cmd.NewSweepLock(ctx, command.String("redis-url"), sweepLockTTL)
			if err != nil {
				return err
			}

			sweeper, err := escalation.NewSweeper(eng, persistence, dir, sweepLock, logger, escalation.Config{
				Schedule:  command.String("sweep-schedule"),
				BatchSize: command.Int("sweep-batch-size"),
				Tracer:    tracer,
			})
			if err != nil {
				return err
			}

			escalator := NewEscalator(escalatorID, sweeper, logger)

			return escalator.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
