// Package eventbus provides event-driven communication infrastructure for
// run orchestration. The bus doubles as the job queue: each message is
// delivered to exactly one consumer within a consumer group, which is the
// mutual-exclusion mechanism for a given run when multiple worker processes
// pull concurrently.
package eventbus

import (
	"context"

	"github.com/fluxline/fluxline/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
