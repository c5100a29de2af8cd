// Package main provides the Fluxline scheduler: it registers cron timers
// for enabled pipelines and queues runs when they fire.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/fluxline/fluxline/pkg/cmd"
	"github.com/fluxline/fluxline/pkg/log"
	"github.com/fluxline/fluxline/pkg/persistence"
	"github.com/fluxline/fluxline/pkg/scheduler"
	"github.com/fluxline/fluxline/pkg/services"
)

func main() {
	command := &cli.Command{
		Name:                  "fluxline-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Queue runs for pipelines on their cron schedules",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("fluxline-scheduler")

			logger.InfoContext(ctx, "Initializing Fluxline Scheduler")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "fluxline-scheduler", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			runService := services.NewRunService(store, eventBus, logger)

			sched := scheduler.NewScheduler(logger, func(ctx context.Context, pipelineID string) error {
				_, err := runService.TriggerRun(ctx, pipelineID)

				return err
			})
			defer sched.Stop()

			err = syncSchedules(ctx, logger, store, sched)
			if err != nil {
				return err
			}

			resync := make(chan os.Signal, 1)
			signal.Notify(resync, syscall.SIGHUP)

			for {
				select {
				case <-ctx.Done():
					logger.InfoContext(ctx, "Scheduler shutting down")

					return nil
				case <-resync:
					logger.InfoContext(ctx, "Re-syncing pipeline schedules")

					err = syncSchedules(ctx, logger, store, sched)
					if err != nil {
						logger.ErrorContext(ctx, "Failed to re-sync schedules", "error", err)
					}
				}
			}
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// syncSchedules registers every enabled pipeline's schedule and unschedules
// pipelines that were disabled or deleted since the last sync.
func syncSchedules(ctx context.Context, logger *slog.Logger, store persistence.Persistence, sched *scheduler.Scheduler) error {
	pipelines, err := store.Pipelines(ctx)
	if err != nil {
		return err
	}

	for _, pipeline := range pipelines {
		if pipeline.Schedule == "" {
			continue
		}

		err = sched.Schedule(scheduler.Entry{
			ID:             pipeline.ID,
			PipelineID:     pipeline.ID,
			CronExpression: pipeline.Schedule,
			Timezone:       pipeline.Timezone,
			Enabled:        pipeline.Enabled,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to schedule pipeline",
				"pipeline_id", pipeline.ID,
				"schedule", pipeline.Schedule,
				"error", err)

			continue
		}

		logger.InfoContext(ctx, "Pipeline schedule registered",
			"pipeline_id", pipeline.ID,
			"schedule", pipeline.Schedule,
			"enabled", pipeline.Enabled)
	}

	return nil
}
