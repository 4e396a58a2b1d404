package store

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultCookieMaxAge is the Max-Age written on session cookies (30 days)
	DefaultCookieMaxAge = 30 * 24 * time.Hour

	// MinCookieSecretLen is the shortest secret the cookie keys are derived from
	MinCookieSecretLen = 32

	// SessionIDCookie carries the id that scopes server-side records to one browser
	SessionIDCookie = "zk_sid"

	valueKey = "v"
	idKey    = "id"
)

type exchangeKey struct{}

// exchange is the response writer and request a context is serving. The
// request is a private copy so the session registry gorilla attaches to it
// never leaks into the caller's request.
type exchange struct {
	w http.ResponseWriter
	r *http.Request
}

// CookieStore keeps records in signed and encrypted cookies on the request
// being served. Outside of a bound request there are no cookies to read.
type CookieStore struct {
	store  *sessions.CookieStore
	secure bool
	maxAge time.Duration
}

// NewCookieStore derives the cookie signing and encryption keys from secret
func NewCookieStore(secret []byte, secure bool) (*CookieStore, error) {
	if len(secret) < MinCookieSecretLen {
		return nil, fmt.Errorf("%w: cookie secret must be at least %d bytes", core.ErrInvalidConfig, MinCookieSecretLen)
	}

	hashKey, err := deriveKey(secret, "zkauth cookie signing", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(secret, "zkauth cookie encryption", 32)
	if err != nil {
		return nil, err
	}

	cs := sessions.NewCookieStore(hashKey, blockKey)
	// Codecs reject values older than this, so leave room for the grace period.
	cs.MaxAge(int((DefaultCookieMaxAge + 24*time.Hour) / time.Second))

	return &CookieStore{
		store:  cs,
		secure: secure,
		maxAge: DefaultCookieMaxAge,
	}, nil
}

func deriveKey(secret []byte, info string, n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return key, nil
}

var _ ports.Backend = (*CookieStore)(nil)

func (s *CookieStore) Name() string { return "cookie" }

// Bind attaches w and r to the returned request's context and scopes it to
// the browser's session id, issuing a new id when the browser has none.
func (s *CookieStore) Bind(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	ex := &exchange{w: w, r: r.WithContext(r.Context())}

	sess, _ := s.store.Get(ex.r, SessionIDCookie)
	id, _ := sess.Values[idKey].(string)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
		sess.Values = map[interface{}]interface{}{idKey: id}
		sess.Options = s.options(s.maxAge)
		if err := sess.Save(ex.r, w); err != nil {
			return r, fmt.Errorf("failed to issue session id: %w", err)
		}
	}

	ctx := context.WithValue(r.Context(), exchangeKey{}, ex)
	return r.WithContext(core.WithSessionID(ctx, id)), nil
}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

// Get retrieves and decodes a cookie value
func (s *CookieStore) Get(ctx context.Context, key string) (string, error) {
	ex := exchangeFrom(ctx)
	if ex == nil {
		return "", core.ErrSessionNotFound
	}

	sess, err := s.store.Get(ex.r, key)
	if err != nil {
		return "", fmt.Errorf("failed to decode cookie %s: %w", key, err)
	}
	v, ok := sess.Values[valueKey].(string)
	if !ok || v == "" {
		return "", core.ErrSessionNotFound
	}
	return v, nil
}

// Set writes a cookie. Max-Age is capped at the store's cookie max age.
func (s *CookieStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ex := exchangeFrom(ctx)
	if ex == nil {
		return core.ErrNoSessionScope
	}
	if ttl <= 0 || ttl > s.maxAge {
		ttl = s.maxAge
	}

	// A cookie that failed to decode is replaced.
	sess, _ := s.store.Get(ex.r, key)
	sess.Values = map[interface{}]interface{}{valueKey: value}
	sess.Options = s.options(ttl)
	if err := sess.Save(ex.r, ex.w); err != nil {
		return fmt.Errorf("failed to write cookie %s: %w", key, err)
	}
	return s.renewID(ctx, ex)
}

// Delete expires a cookie
func (s *CookieStore) Delete(ctx context.Context, key string) error {
	ex := exchangeFrom(ctx)
	if ex == nil {
		return nil
	}

	sess, _ := s.store.Get(ex.r, key)
	sess.Values = map[interface{}]interface{}{}
	sess.Options = s.options(-1)
	if err := sess.Save(ex.r, ex.w); err != nil {
		return fmt.Errorf("failed to expire cookie %s: %w", key, err)
	}
	return nil
}

// renewID keeps the session id cookie alive as long as the records it scopes
func (s *CookieStore) renewID(ctx context.Context, ex *exchange) error {
	id := core.SessionID(ctx)
	if id == "" {
		return core.ErrNoSessionScope
	}
	sess, _ := s.store.Get(ex.r, SessionIDCookie)
	sess.Values = map[interface{}]interface{}{idKey: id}
	sess.Options = s.options(s.maxAge)
	return sess.Save(ex.r, ex.w)
}

func (s *CookieStore) options(maxAge time.Duration) *sessions.Options {
	seconds := -1
	if maxAge > 0 {
		seconds = int(maxAge / time.Second)
	}
	return &sessions.Options{
		Path:     "/",
		MaxAge:   seconds,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
		HttpOnly: true,
	}
}
