// Package scheduler maintains one cron timer per enabled pipeline schedule
// and fires "trigger run" requests toward the worker queue. Timers run on
// independent schedules; a failed trigger is logged and never stops the
// timer, so the next fire still occurs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalidCron = errors.New("invalid cron expression")

// Entry describes one pipeline schedule.
type Entry struct {
	ID             string `json:"id"              validate:"required"`
	PipelineID     string `json:"pipeline_id"     validate:"required"`
	CronExpression string `json:"cron_expression" validate:"required"`
	Timezone       string `json:"timezone,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// TriggerFunc requests a run for a pipeline. It is called fire-and-forget
// from the timer goroutine and must not block on run completion.
type TriggerFunc func(ctx context.Context, pipelineID string) error

type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*cron.Cron
	trigger TriggerFunc
	logger  *slog.Logger
	parser  cron.Parser
}

func NewScheduler(logger *slog.Logger, trigger TriggerFunc) *Scheduler {
	return &Scheduler{
		timers:  make(map[string]*cron.Cron),
		trigger: trigger,
		logger:  logger.With("module", "scheduler"),
		// Standard five-field expressions, optional leading seconds field.
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		),
	}
}

// Schedule validates the entry and upserts its timer. Scheduling an entry
// with Enabled=false unregisters any existing timer without error.
func (s *Scheduler) Schedule(entry Entry) error {
	_, err := s.parser.Parse(entry.CronExpression)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidCron, entry.CronExpression, err)
	}

	if !entry.Enabled {
		s.Unschedule(entry.ID)

		return nil
	}

	location := time.UTC

	if entry.Timezone != "" {
		location, err = time.LoadLocation(entry.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone %q: %w", entry.Timezone, err)
		}
	}

	timer := cron.New(cron.WithParser(s.parser), cron.WithLocation(location))

	_, err = timer.AddFunc(entry.CronExpression, s.fire(entry))
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidCron, entry.CronExpression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[entry.ID]; ok {
		existing.Stop()
	}

	s.timers[entry.ID] = timer
	timer.Start()

	s.logger.Info("Schedule registered",
		"schedule_id", entry.ID,
		"pipeline_id", entry.PipelineID,
		"cron", entry.CronExpression,
		"timezone", location.String())

	return nil
}

// Unschedule stops and removes a timer; a no-op when absent.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok {
		return
	}

	timer.Stop()
	delete(s.timers, id)

	s.logger.Info("Schedule removed", "schedule_id", id)
}

// Scheduled reports whether an active timer exists for the id.
func (s *Scheduler) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[id]

	return ok
}

// Stop halts all timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(entry Entry) func() {
	return func() {
		go func() {
			err := s.trigger(context.Background(), entry.PipelineID)
			if err != nil {
				s.logger.Error("Scheduled trigger failed",
					"schedule_id", entry.ID,
					"pipeline_id", entry.PipelineID,
					"error", err)
			}
		}()
	}
}
