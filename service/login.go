package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/zklogin"
)

// OAuthConfig describes the identity provider the login redirects to
type OAuthConfig struct {
	ClientID    string
	RedirectURL string
	AuthURL     string
	Scope       string
}

// LoginConfig holds the login flow settings
type LoginConfig struct {
	OAuth OAuthConfig
	// MaxEpochWindow is how many epochs past the current one the ephemeral key stays valid
	MaxEpochWindow uint64
	// PendingTTL bounds how long a started login can be completed
	PendingTTL time.Duration
}

// LoginChallenge is returned when a zkLogin flow starts
type LoginChallenge struct {
	AuthURL   string    `json:"authUrl"`
	Nonce     string    `json:"nonce"`
	MaxEpoch  uint64    `json:"maxEpoch"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// WalletChallenge is the message a wallet signs to prove it controls an
// address
type WalletChallenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// WalletProof answers a WalletChallenge. Signature is the base64 serialized
// Ed25519 personal message signature over the challenge message.
type WalletProof struct {
	Address     string `json:"address"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
	DisplayName string `json:"displayName"`
}

// pendingLogin and pendingWallet are bound to the browser session that
// started them
type pendingLogin struct {
	sessionID  string
	key        *zklogin.EphemeralKey
	maxEpoch   uint64
	randomness string
	expiresAt  time.Time
}

type pendingWallet struct {
	sessionID string
	address   string
	message   string
	expiresAt time.Time
}

// LoginService handles the zkLogin and wallet sign-in flows
type LoginService struct {
	chain    ports.Chain
	claims   ports.ClaimsExtractor
	salts    ports.SaltProvider
	sessions *SessionStore
	monitor  *Monitor
	cfg      LoginConfig
	log      *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	pending    map[string]pendingLogin
	challenges map[string]pendingWallet
}

// NewLoginService creates a new login service
func NewLoginService(
	chain ports.Chain,
	claims ports.ClaimsExtractor,
	salts ports.SaltProvider,
	sessions *SessionStore,
	monitor *Monitor,
	cfg LoginConfig,
	log *slog.Logger,
) *LoginService {
	if cfg.MaxEpochWindow == 0 {
		cfg.MaxEpochWindow = 2
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	if cfg.OAuth.Scope == "" {
		cfg.OAuth.Scope = "openid email profile"
	}
	return &LoginService{
		chain:      chain,
		claims:     claims,
		salts:      salts,
		sessions:   sessions,
		monitor:    monitor,
		cfg:        cfg,
		log:        log,
		now:        time.Now,
		pending:    make(map[string]pendingLogin),
		challenges: make(map[string]pendingWallet),
	}
}

// BeginLogin creates an ephemeral key bound to a nonce and returns the
// identity provider URL that embeds it
func (s *LoginService) BeginLogin(ctx context.Context) (*LoginChallenge, error) {
	key, err := zklogin.GenerateEphemeralKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	randomness, err := zklogin.GenerateRandomness()
	if err != nil {
		return nil, fmt.Errorf("failed to generate randomness: %w", err)
	}

	epoch, err := s.chain.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current epoch: %w", err)
	}
	maxEpoch := epoch + s.cfg.MaxEpochWindow

	nonce, err := zklogin.Nonce(key.PublicKey(), maxEpoch, randomness)
	if err != nil {
		return nil, fmt.Errorf("failed to compute nonce: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.PendingTTL)

	s.mu.Lock()
	s.pruneLocked(now)
	s.pending[nonce] = pendingLogin{
		sessionID:  core.SessionID(ctx),
		key:        key,
		maxEpoch:   maxEpoch,
		randomness: randomness,
		expiresAt:  expiresAt,
	}
	s.mu.Unlock()

	s.log.Info("login.begin", "maxEpoch", maxEpoch)
	return &LoginChallenge{
		AuthURL:   s.authURL(nonce),
		Nonce:     nonce,
		MaxEpoch:  maxEpoch,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *LoginService) authURL(nonce string) string {
	q := url.Values{}
	q.Set("client_id", s.cfg.OAuth.ClientID)
	q.Set("redirect_uri", s.cfg.OAuth.RedirectURL)
	q.Set("response_type", "id_token")
	q.Set("scope", s.cfg.OAuth.Scope)
	q.Set("nonce", nonce)
	return s.cfg.OAuth.AuthURL + "?" + q.Encode()
}

// CompleteLogin exchanges the identity token for a zkLogin session. The
// token's nonce must match a login started by BeginLogin.
func (s *LoginService) CompleteLogin(ctx context.Context, jwt string) (*core.IdentitySession, error) {
	claims, err := s.claims.Extract(jwt)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: missing exp claim", core.ErrMalformedJWT)
	}
	if claims.Audience != s.cfg.OAuth.ClientID {
		return nil, fmt.Errorf("%w: token issued for %q", core.ErrMalformedJWT, claims.Audience)
	}
	now := s.now()
	if !now.Before(time.Unix(claims.ExpiresAt, 0)) {
		return nil, core.ErrJWTExpired
	}

	s.mu.Lock()
	p, ok := s.pending[claims.Nonce]
	if ok {
		delete(s.pending, claims.Nonce)
	}
	s.mu.Unlock()
	if !ok || now.After(p.expiresAt) || p.sessionID != core.SessionID(ctx) {
		return nil, core.ErrInvalidNonce
	}

	salt, err := s.salts.Salt(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to get user salt: %w", err)
	}
	address, err := zklogin.AddressFromClaims(claims, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address: %w", err)
	}

	eph := &core.EphemeralKeySession{
		JWT:                  jwt,
		UserSalt:             salt,
		Address:              address,
		Nonce:                claims.Nonce,
		MaxEpoch:             p.maxEpoch,
		Randomness:           p.randomness,
		EphemeralKeyMaterial: p.key.Material(),
	}
	if err := s.sessions.SaveEphemeral(ctx, eph); err != nil {
		return nil, err
	}

	ident := s.identity(ctx, address, core.ConnectionZkLogin)
	ident.DisplayName = claims.Name
	ident.Email = claims.Email
	ident.AvatarRef = claims.Picture
	if err := s.sessions.SaveIdentity(ctx, ident); err != nil {
		return nil, err
	}

	s.track(ctx)
	s.log.Info("login.complete", "address", address, "kind", ident.ConnectionKind)
	return ident, nil
}

// BeginWalletConnect issues a single-use challenge the wallet at address
// must sign to connect
func (s *LoginService) BeginWalletConnect(ctx context.Context, address string) (*WalletChallenge, error) {
	addr, err := zklogin.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	nonce := uuid.NewString()
	c := &WalletChallenge{
		Address:   addr,
		Nonce:     nonce,
		Message:   fmt.Sprintf("Sign in to zkauth\n\nAddress: %s\nNonce: %s\nIssued At: %s", addr, nonce, now.Format(time.RFC3339)),
		ExpiresAt: now.Add(s.cfg.PendingTTL),
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.challenges[nonce] = pendingWallet{
		sessionID: core.SessionID(ctx),
		address:   addr,
		message:   c.Message,
		expiresAt: c.ExpiresAt,
	}
	s.mu.Unlock()

	s.log.Info("login.wallet.challenge", "address", addr)
	return c, nil
}

// ConnectWallet signs in with a conventional wallet once it has signed the
// challenge issued by BeginWalletConnect
func (s *LoginService) ConnectWallet(ctx context.Context, proof WalletProof) (*core.IdentitySession, error) {
	addr, err := zklogin.NormalizeAddress(proof.Address)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	c, ok := s.challenges[proof.Nonce]
	if ok {
		delete(s.challenges, proof.Nonce)
	}
	s.mu.Unlock()
	if !ok || c.sessionID != core.SessionID(ctx) || c.address != addr {
		return nil, core.ErrInvalidNonce
	}
	if s.now().After(c.expiresAt) {
		return nil, core.ErrChallengeExpired
	}

	sig, err := base64.StdEncoding.DecodeString(proof.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	signer, ok := zklogin.VerifyPersonalMessage(sig, []byte(c.message))
	if !ok || signer != addr {
		s.log.Warn("login.wallet.bad_signature", "address", addr)
		return nil, core.ErrInvalidSignature
	}

	if err := s.sessions.delete(ctx, EphemeralSessionName); err != nil {
		s.log.Warn("login.wallet.clear_ephemeral_failed", "error", err)
	}

	ident := s.identity(ctx, addr, core.ConnectionWallet)
	ident.DisplayName = proof.DisplayName
	if err := s.sessions.SaveIdentity(ctx, ident); err != nil {
		return nil, err
	}

	s.track(ctx)
	s.log.Info("login.complete", "address", addr, "kind", ident.ConnectionKind)
	return ident, nil
}

// Logout tears down the session
func (s *LoginService) Logout(ctx context.Context) error {
	return s.monitor.ForceLogout(ctx, "logout")
}

// identity keeps the creation time of a returning user
func (s *LoginService) identity(ctx context.Context, address string, kind core.ConnectionKind) *core.IdentitySession {
	now := s.now().UTC()
	ident := &core.IdentitySession{
		Address:        address,
		ConnectionKind: kind,
		CreatedAt:      now,
		LastLoginAt:    now,
	}
	if prev, err := s.sessions.LoadIdentity(ctx); err == nil && prev.Address == address {
		ident.CreatedAt = prev.CreatedAt
	}
	return ident
}

func (s *LoginService) track(ctx context.Context) {
	if s.monitor == nil {
		return
	}
	s.monitor.Track(ctx)
}

func (s *LoginService) pruneLocked(now time.Time) {
	for n, p := range s.pending {
		if now.After(p.expiresAt) {
			delete(s.pending, n)
		}
	}
	for n, c := range s.challenges {
		if now.After(c.expiresAt) {
			delete(s.challenges, n)
		}
	}
}
