package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/zklogin"
)

// Record names shared by every backend
const (
	IdentitySessionName  = "zk_identity_session"
	EphemeralSessionName = "zk_ephemeral_session"
)

// SessionConfig holds the session lifetime settings
type SessionConfig struct {
	MaxAge           time.Duration
	Grace            time.Duration
	RefreshThreshold time.Duration
}

// DefaultSessionConfig returns a 30 day lifetime, 1 hour grace and a 7 day refresh threshold
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge:           30 * 24 * time.Hour,
		Grace:            time.Hour,
		RefreshThreshold: 7 * 24 * time.Hour,
	}
}

type expiring interface {
	Expiry() time.Time
	SetExpiry(time.Time)
}

// SessionStore persists the identity and ephemeral key sessions across an
// ordered list of backends. Reads try each backend in turn; writes go to all
// of them.
type SessionStore struct {
	backends []ports.Backend
	claims   ports.ClaimsExtractor
	cfg      SessionConfig
	log      *slog.Logger
	now      func() time.Time
}

// NewSessionStore creates a session store over backends, tried in order on read
func NewSessionStore(backends []ports.Backend, claims ports.ClaimsExtractor, cfg SessionConfig, log *slog.Logger) *SessionStore {
	return &SessionStore{
		backends: backends,
		claims:   claims,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SaveIdentity stamps a fresh expiry on sess and writes it to every backend
func (s *SessionStore) SaveIdentity(ctx context.Context, sess *core.IdentitySession) error {
	return s.save(ctx, IdentitySessionName, sess)
}

// SaveEphemeral stamps a fresh expiry on sess and writes it to every backend.
// The record replaces any previous ephemeral session as a whole.
func (s *SessionStore) SaveEphemeral(ctx context.Context, sess *core.EphemeralKeySession) error {
	return s.save(ctx, EphemeralSessionName, sess)
}

// LoadIdentity returns the identity session, or core.ErrSessionNotFound when
// there is none usable. Storage faults are logged and reported as not found.
func (s *SessionStore) LoadIdentity(ctx context.Context) (*core.IdentitySession, error) {
	return load[core.IdentitySession](ctx, s, IdentitySessionName, verifyIdentity)
}

// LoadEphemeral returns the ephemeral key session. A record whose address is
// not derivable from its token and salt is deleted.
func (s *SessionStore) LoadEphemeral(ctx context.Context) (*core.EphemeralKeySession, error) {
	return load[core.EphemeralKeySession](ctx, s, EphemeralSessionName, s.verifyEphemeral)
}

// Clear deletes both sessions from every backend
func (s *SessionStore) Clear(ctx context.Context) error {
	return errors.Join(s.delete(ctx, IdentitySessionName), s.delete(ctx, EphemeralSessionName))
}

// Info reports the identity session state without modifying anything
func (s *SessionStore) Info(ctx context.Context) core.SessionInfo {
	var sess core.IdentitySession
	if _, ok := s.read(ctx, IdentitySessionName, &sess, false); !ok {
		return core.SessionInfo{}
	}
	if verifyIdentity(ctx, &sess) != nil {
		return core.SessionInfo{}
	}

	now := s.now()
	until := sess.ExpiresAt.Sub(now)
	if until < -s.cfg.Grace {
		return core.SessionInfo{}
	}

	info := core.SessionInfo{
		IsAuthenticated: true,
		ExpiresAt:       sess.ExpiresAt,
		NeedsRefresh:    until < s.cfg.RefreshThreshold,
	}
	if until > 0 {
		info.TimeUntilExpiry = until
	}
	return info
}

// Refresh re-stamps the expiry of both sessions if they are still live.
// Sessions already past their expiry are left for the grace logic in Load.
func (s *SessionStore) Refresh(ctx context.Context) error {
	var errs []error

	var ident core.IdentitySession
	if _, ok := s.read(ctx, IdentitySessionName, &ident, false); ok && s.now().Before(ident.ExpiresAt) {
		errs = append(errs, s.save(ctx, IdentitySessionName, &ident))
	}

	var eph core.EphemeralKeySession
	if _, ok := s.read(ctx, EphemeralSessionName, &eph, false); ok && s.now().Before(eph.ExpiresAt) {
		errs = append(errs, s.save(ctx, EphemeralSessionName, &eph))
	}

	return errors.Join(errs...)
}

func load[T any, P interface {
	*T
	expiring
}](ctx context.Context, s *SessionStore, name string, verify func(context.Context, P) error) (P, error) {
	rec := P(new(T))
	if _, ok := s.read(ctx, name, rec, true); !ok {
		return nil, core.ErrSessionNotFound
	}

	if verify != nil {
		if err := verify(ctx, rec); err != nil {
			s.log.Warn("session.load.invalid", "name", name, "error", err)
			_ = s.delete(ctx, name)
			return nil, core.ErrSessionNotFound
		}
	}

	now := s.now()
	exp := rec.Expiry()
	switch {
	case now.After(exp):
		if now.Sub(exp) <= s.cfg.Grace {
			s.log.Debug("session.load.grace", "name", name, "expiresAt", exp)
			return rec, nil
		}
		s.log.Info("session.load.expired", "name", name, "expiresAt", exp)
		_ = s.delete(ctx, name)
		return nil, fmt.Errorf("%w: %w", core.ErrSessionNotFound, core.ErrSessionExpired)

	case exp.Sub(now) < s.cfg.RefreshThreshold:
		if err := s.save(ctx, name, rec); err != nil {
			s.log.Warn("session.load.refresh_failed", "name", name, "error", err)
		} else {
			s.log.Debug("session.load.refreshed", "name", name, "expiresAt", rec.Expiry())
		}
	}

	return rec, nil
}

// read decodes the first record found into dst. With heal set, the raw record
// is copied back into any earlier backend that missed it.
func (s *SessionStore) read(ctx context.Context, name string, dst expiring, heal bool) (string, bool) {
	for i, b := range s.backends {
		raw, err := b.Get(ctx, name)
		if err != nil {
			if !errors.Is(err, core.ErrSessionNotFound) {
				s.log.Warn("session.read.failed", "backend", b.Name(), "name", name, "error", err)
			}
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			s.log.Warn("session.read.decode_failed", "backend", b.Name(), "name", name, "error", err)
			continue
		}

		if heal && i > 0 {
			s.heal(ctx, name, raw, dst.Expiry(), s.backends[:i])
		}
		return raw, true
	}
	return "", false
}

func (s *SessionStore) heal(ctx context.Context, name, raw string, exp time.Time, backends []ports.Backend) {
	ttl := exp.Add(s.cfg.Grace).Sub(s.now())
	if ttl <= 0 {
		return
	}
	for _, b := range backends {
		if err := b.Set(ctx, name, raw, ttl); err != nil {
			s.log.Warn("session.heal.failed", "backend", b.Name(), "name", name, "error", err)
			continue
		}
		s.log.Debug("session.heal", "backend", b.Name(), "name", name)
	}
}

func (s *SessionStore) save(ctx context.Context, name string, rec expiring) error {
	rec.SetExpiry(s.now().Add(s.cfg.MaxAge).UTC())

	data, err := json.Marshal(rec)
	if err != nil {
		s.log.Error("session.save.encode_failed", "name", name, "error", err)
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	ttl := s.cfg.MaxAge + s.cfg.Grace
	var errs []error
	for _, b := range s.backends {
		if err := b.Set(ctx, name, string(data), ttl); err != nil {
			s.log.Warn("session.save.failed", "backend", b.Name(), "name", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	if len(errs) == len(s.backends) && len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrStoreOperationFailed, errors.Join(errs...))
	}
	return nil
}

func (s *SessionStore) delete(ctx context.Context, name string) error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Delete(ctx, name); err != nil {
			s.log.Warn("session.delete.failed", "backend", b.Name(), "name", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func verifyIdentity(_ context.Context, sess *core.IdentitySession) error {
	if !sess.ConnectionKind.Valid() {
		return fmt.Errorf("unknown connection kind %q", sess.ConnectionKind)
	}
	if _, err := zklogin.NormalizeAddress(sess.Address); err != nil {
		return err
	}
	return nil
}

func (s *SessionStore) verifyEphemeral(_ context.Context, sess *core.EphemeralKeySession) error {
	claims, err := s.claims.Extract(sess.JWT)
	if err != nil {
		return err
	}
	derived, err := zklogin.AddressFromClaims(claims, sess.UserSalt)
	if err != nil {
		return err
	}
	stored, err := zklogin.NormalizeAddress(sess.Address)
	if err != nil {
		return err
	}
	if derived != stored {
		return core.ErrAddressMismatch
	}
	return nil
}
