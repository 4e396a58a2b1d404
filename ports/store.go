package ports

import (
	"context"
	"time"
)

// Backend is one physical store for named session records.
// Get returns core.ErrSessionNotFound when the record is absent or expired.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
