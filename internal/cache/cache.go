// Package cache stores identity client state (tokens and in-flight login
// transactions) between page loads.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/savaki/authsession/internal/errors"
)

// Location names where the cache lives.
type Location string

const (
	// Memory keeps entries for the lifetime of the process.
	Memory Location = "memory"
	// LocalStorage persists entries to a SQLite file so they survive restarts.
	LocalStorage Location = "localstorage"
)

// ParseLocation validates s as a cache location.
func ParseLocation(s string) (Location, error) {
	switch loc := Location(strings.ToLower(strings.TrimSpace(s))); loc {
	case Memory, LocalStorage:
		return loc, nil
	default:
		return "", fmt.Errorf("%w: unknown cache location %q", errors.ErrInvalidConfig, s)
	}
}

// Cache is a key/value store. Get returns errors.ErrCacheMiss for unknown keys.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
