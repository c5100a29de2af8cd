package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/fluxline/fluxline/pkg/models"
)

func (e *UnifiedExecutor) executeRedis(ctx context.Context, conn *models.RedisConfig, query string) (*Result, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conn.Addr,
		Password: conn.Password,
		DB:       conn.DB,
	})

	defer func() {
		closeErr := client.Close()
		if closeErr != nil {
			e.logger.Error("failed to close redis connection", "error", closeErr)
		}
	}()

	parts := strings.Fields(query)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty redis command", ErrMalformedQuery)
	}

	args := make([]any, len(parts))
	for i, part := range parts {
		args[i] = part
	}

	value, err := client.Do(ctx, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := &Result{Fields: []string{"value"}}

	switch typed := value.(type) {
	case []any:
		result.RowCount = int64(len(typed))

		for _, item := range typed {
			if len(result.Sample) >= SampleLimit {
				break
			}

			result.Sample = append(result.Sample, map[string]any{"value": item})
		}
	case nil:
		result.RowCount = 0
	default:
		result.RowCount = 1
		result.Sample = []map[string]any{{"value": typed}}
	}

	return result, nil
}
