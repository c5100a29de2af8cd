// Package main provides the Fluxline worker: it consumes queued runs and
// drives them to a terminal state.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/fluxline/fluxline/pkg/cmd"
	"github.com/fluxline/fluxline/pkg/executor"
	"github.com/fluxline/fluxline/pkg/intel"
	"github.com/fluxline/fluxline/pkg/log"
	"github.com/fluxline/fluxline/pkg/otelhelper"
	"github.com/fluxline/fluxline/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "fluxline-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute pipeline runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
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
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum runs executed concurrently by this worker",
				Value:   worker.DefaultConcurrency,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "classifier-url",
				Usage:   "External failure classifier endpoint (rule-based when empty)",
				Value:   "",
				Sources: cli.EnvVars("CLASSIFIER_URL"),
			},
			&cli.StringFlag{
				Name:    "incident-webhook-url",
				Usage:   "Incident system webhook (escalation disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("INCIDENT_WEBHOOK_URL"),
			},
			&cli.StringFlag{
				Name:    "ticket-webhook-url",
				Usage:   "Ticketing system webhook (ticket creation disabled when empty)",
				Value:   "",
				Sources: cli.EnvVars("TICKET_WEBHOOK_URL"),
			},
			&cli.BoolFlag{
				Name:    "auto-remediation",
				Usage:   "Allow automatic remediation of fixable failures",
				Value:   false,
				Sources: cli.EnvVars("AUTO_REMEDIATION"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export run spans via OTLP",
				Value:   false,
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("fluxline-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Fluxline Worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "fluxline-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			orchestrator := newOrchestrator(command, logger)
			runner := worker.NewRunner(
				workerID,
				persistence,
				executor.NewUnifiedExecutor(logger),
				eventBus,
				orchestrator,
				logger,
			)

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "fluxline-worker")
				if err != nil {
					return err
				}

				runner = runner.WithTracer(tracer)
			}

			w := worker.NewWorker(workerID, eventBus, runner, logger, command.Int("concurrency"))

			err = w.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func newOrchestrator(command *cli.Command, logger *slog.Logger) *intel.Orchestrator {
	var classifier intel.Classifier = intel.NewRuleClassifier()
	if url := command.String("classifier-url"); url != "" {
		classifier = intel.NewHTTPClassifier(url, nil, logger)
	}

	var incidents intel.IncidentAdapter
	if url := command.String("incident-webhook-url"); url != "" {
		incidents = intel.NewWebhookAdapter(url, nil)
	}

	var tickets intel.TicketAdapter
	if url := command.String("ticket-webhook-url"); url != "" {
		tickets = intel.NewWebhookAdapter(url, nil)
	}

	remediator := intel.NewRemediator(command.Bool("auto-remediation"), logger)

	return intel.NewOrchestrator(classifier, intel.NewKnowledgeBase(0), remediator, incidents, tickets, logger)
}
