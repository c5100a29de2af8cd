package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type triggerRecorder struct {
	mu        sync.Mutex
	pipelines []string
	fired     chan string
}

func newTriggerRecorder() *triggerRecorder {
	return &triggerRecorder{fired: make(chan string, 16)}
}

func (r *triggerRecorder) trigger(_ context.Context, pipelineID string) error {
	r.mu.Lock()
	r.pipelines = append(r.pipelines, pipelineID)
	r.mu.Unlock()

	select {
	case r.fired <- pipelineID:
	default:
	}

	return nil
}

func TestSchedule_ValidExpressions(t *testing.T) {
	testCases := []struct {
		name string
		cron string
	}{
		{name: "every minute", cron: "* * * * *"},
		{name: "every 5 minutes", cron: "*/5 * * * *"},
		{name: "daily at midnight", cron: "0 0 * * *"},
		{name: "with seconds field", cron: "0 0 0 * * *"},
	}

	recorder := newTriggerRecorder()
	scheduler := NewScheduler(slog.Default(), recorder.trigger)

	defer scheduler.Stop()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := scheduler.Schedule(Entry{
				ID:             tc.name,
				PipelineID:     "pipe-" + tc.name,
				CronExpression: tc.cron,
				Enabled:        true,
			})
			require.NoError(t, err)

			assert.True(t, scheduler.Scheduled(tc.name))
		})
	}
}

func TestSchedule_InvalidExpression(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), newTriggerRecorder().trigger)
	defer scheduler.Stop()

	err := scheduler.Schedule(Entry{
		ID:             "bad",
		PipelineID:     "pipe-1",
		CronExpression: "not a cron",
		Enabled:        true,
	})
	require.ErrorIs(t, err, ErrInvalidCron)

	assert.False(t, scheduler.Scheduled("bad"))
}

func TestSchedule_InvalidTimezone(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), newTriggerRecorder().trigger)
	defer scheduler.Stop()

	err := scheduler.Schedule(Entry{
		ID:             "tz",
		PipelineID:     "pipe-1",
		CronExpression: "* * * * *",
		Timezone:       "Mars/Olympus_Mons",
		Enabled:        true,
	})
	require.Error(t, err)

	assert.False(t, scheduler.Scheduled("tz"))
}

func TestSchedule_DisabledEntryUnschedules(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), newTriggerRecorder().trigger)
	defer scheduler.Stop()

	entry := Entry{
		ID:             "sched-1",
		PipelineID:     "pipe-1",
		CronExpression: "* * * * *",
		Enabled:        true,
	}

	require.NoError(t, scheduler.Schedule(entry))
	require.True(t, scheduler.Scheduled(entry.ID))

	entry.Enabled = false
	require.NoError(t, scheduler.Schedule(entry))

	assert.False(t, scheduler.Scheduled(entry.ID))
}

func TestSchedule_UpsertReplacesTimer(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), newTriggerRecorder().trigger)
	defer scheduler.Stop()

	entry := Entry{
		ID:             "sched-1",
		PipelineID:     "pipe-1",
		CronExpression: "0 0 * * *",
		Enabled:        true,
	}
	require.NoError(t, scheduler.Schedule(entry))

	entry.CronExpression = "0 12 * * *"
	require.NoError(t, scheduler.Schedule(entry))

	assert.True(t, scheduler.Scheduled(entry.ID))
}

func TestUnschedule_AbsentIDIsNoOp(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), newTriggerRecorder().trigger)
	defer scheduler.Stop()

	scheduler.Unschedule("never-registered")
}

func TestSchedule_FiresTrigger(t *testing.T) {
	recorder := newTriggerRecorder()
	scheduler := NewScheduler(slog.Default(), recorder.trigger)

	defer scheduler.Stop()

	// Seconds-resolution expression so the test observes a fire quickly.
	err := scheduler.Schedule(Entry{
		ID:             "fast",
		PipelineID:     "pipe-fast",
		CronExpression: "* * * * * *",
		Enabled:        true,
	})
	require.NoError(t, err)

	select {
	case pipelineID := <-recorder.fired:
		assert.Equal(t, "pipe-fast", pipelineID)
	case <-time.After(3 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestStop_RemovesAllTimers(t *testing.T) {
	scheduler := NewScheduler(slog.Default(), newTriggerRecorder().trigger)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, scheduler.Schedule(Entry{
			ID:             id,
			PipelineID:     "pipe-" + id,
			CronExpression: "* * * * *",
			Enabled:        true,
		}))
	}

	scheduler.Stop()

	for _, id := range []string{"a", "b", "c"} {
		assert.False(t, scheduler.Scheduled(id))
	}
}
