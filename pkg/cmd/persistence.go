package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fluxline/fluxline/pkg/persistence"
	"github.com/fluxline/fluxline/pkg/persistence/memory"
	"github.com/fluxline/fluxline/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// postgres URLs get the durable backend; anything else falls back to the
// in-memory store, which is only suitable for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres persistence: %w", err)
		}

		return store, nil
	default:
		logger.WarnContext(ctx, "Using in-memory persistence, state is lost on restart")

		return memory.NewPersistence(), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return scheme
}
