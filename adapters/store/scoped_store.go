package store

import (
	"context"
	"time"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

// ScopedStore partitions a shared backend by the browser session id carried
// in the context. Unscoped contexts see no records and cannot write any.
type ScopedStore struct {
	inner ports.Backend
}

// Scoped wraps inner so each browser session has its own key space
func Scoped(inner ports.Backend) *ScopedStore {
	return &ScopedStore{inner: inner}
}

var _ ports.Backend = (*ScopedStore)(nil)

func (s *ScopedStore) Name() string { return s.inner.Name() }

func (s *ScopedStore) Get(ctx context.Context, key string) (string, error) {
	id := core.SessionID(ctx)
	if id == "" {
		return "", core.ErrSessionNotFound
	}
	return s.inner.Get(ctx, id+"/"+key)
}

func (s *ScopedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	id := core.SessionID(ctx)
	if id == "" {
		return core.ErrNoSessionScope
	}
	return s.inner.Set(ctx, id+"/"+key, value, ttl)
}

func (s *ScopedStore) Delete(ctx context.Context, key string) error {
	id := core.SessionID(ctx)
	if id == "" {
		return nil
	}
	return s.inner.Delete(ctx, id+"/"+key)
}
