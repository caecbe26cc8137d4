package session

import (
	"context"

	"github.com/rs/zerolog"
)

// result is the outcome of one call into the identity client.
type result[T any] struct {
	value T
	err   error
}

func attempt[T any](fn func() (T, error)) result[T] {
	v, err := fn()
	return result[T]{value: v, err: err}
}

// orDefault returns the value, or logs the failure and returns fallback.
func (r result[T]) orDefault(ctx context.Context, op string, fallback T) T {
	if r.err != nil {
		zerolog.Ctx(ctx).Error().Err(r.err).Str("op", op).Msg("auth operation failed")
		return fallback
	}
	return r.value
}

func done(err error) result[struct{}] {
	return result[struct{}]{err: err}
}
