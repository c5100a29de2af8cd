package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxline/fluxline/pkg/models"
)

// Error kinds the worker uses to decide retry eligibility.
var (
	ErrInvalidTimeout = errors.New("invalid timeout")
	ErrConnection     = errors.New("connection failed")
	ErrAuth           = errors.New("authentication failed")
	ErrQueryTimeout   = errors.New("query timed out")
	ErrMalformedQuery = errors.New("malformed query")
)

// Retryable reports whether an execution error is worth another attempt.
// Connection failures and timeouts are transient; authentication and
// malformed-query failures will not heal on retry. Unclassified errors are
// treated as transient.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrAuth),
		errors.Is(err, ErrMalformedQuery),
		errors.Is(err, ErrInvalidTimeout),
		errors.Is(err, models.ErrUnknownEngine):
		return false
	default:
		return true
	}
}

// classify wraps raw engine errors with the taxonomy above. The context is
// consulted first: a deadline hit is always a query timeout regardless of
// how the driver reports it.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrConnection) || errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrQueryTimeout) || errors.Is(err, ErrMalformedQuery) {
		return err
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryTimeout, err)
	}

	message := strings.ToLower(err.Error())

	switch {
	case strings.Contains(message, "password authentication failed"),
		strings.Contains(message, "noauth"),
		strings.Contains(message, "wrongpass"),
		strings.Contains(message, "permission denied"):
		return fmt.Errorf("%w: %w", ErrAuth, err)
	case strings.Contains(message, "connection refused"),
		strings.Contains(message, "no such host"),
		strings.Contains(message, "connection reset"),
		strings.Contains(message, "broken pipe"):
		return fmt.Errorf("%w: %w", ErrConnection, err)
	case strings.Contains(message, "syntax error"):
		return fmt.Errorf("%w: %w", ErrMalformedQuery, err)
	default:
		return err
	}
}
