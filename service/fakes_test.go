package service

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/zkauth/adapters/claims"
	"github.com/layer-3/zkauth/adapters/store"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/zklogin"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://accounts.google.com"
	testAudience = "client-id.apps.googleusercontent.com"
	testSubject  = "110463452167303598383"
	testSalt     = "129390038577185583942388216820280642146"
)

var testTxBytes = base64.StdEncoding.EncodeToString([]byte("transaction-data"))

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeChain records calls and returns canned chain state
type fakeChain struct {
	mu         sync.Mutex
	epoch      uint64
	epochCalls int
	coins      []ports.Coin
	from, to   []core.TxSummary
	dryRun     ports.DryRunResult
	executed   [][]string
	built      []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		epoch:  10,
		coins:  []ports.Coin{{CoinObjectID: "0xc1", Balance: 600}, {CoinObjectID: "0xc2", Balance: 600}},
		dryRun: ports.DryRunResult{Status: "success", Gas: core.GasCost{ComputationCost: 1000, StorageCost: 2000}},
	}
}

func (c *fakeChain) setEpoch(e uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = e
}

func (c *fakeChain) CurrentEpoch(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochCalls++
	return c.epoch, nil
}

func (c *fakeChain) Balance(_ context.Context, owner, coinType string) (*core.Balance, error) {
	return &core.Balance{CoinType: "0x2::sui::SUI", CoinObjectCount: len(c.coins)}, nil
}

func (c *fakeChain) Coins(context.Context, string, string, int) ([]ports.Coin, error) {
	return c.coins, nil
}

func (c *fakeChain) OwnedObjects(_ context.Context, owner string, q core.ObjectQuery) (*core.ObjectPage, error) {
	return &core.ObjectPage{Data: []core.OwnedObject{{ObjectID: "0xo1"}}}, nil
}

func (c *fakeChain) TransactionsFrom(context.Context, string, int) ([]core.TxSummary, error) {
	return c.from, nil
}

func (c *fakeChain) TransactionsTo(context.Context, string, int) ([]core.TxSummary, error) {
	return c.to, nil
}

func (c *fakeChain) PaySui(_ context.Context, sender string, coins []string, recipients []string, amounts []uint64, gasBudget uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = append(c.built, "pay:"+sender)
	return testTxBytes, nil
}

func (c *fakeChain) BatchTransfer(_ context.Context, sender string, transfers []ports.TransferRequest, gasBudget uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = append(c.built, "transfer:"+sender)
	return testTxBytes, nil
}

func (c *fakeChain) MoveCall(_ context.Context, sender string, call ports.MoveCallRequest, gasBudget uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.built = append(c.built, "move:"+sender)
	return testTxBytes, nil
}

func (c *fakeChain) DryRun(context.Context, string) (*ports.DryRunResult, error) {
	res := c.dryRun
	return &res, nil
}

func (c *fakeChain) Execute(_ context.Context, txBytes string, signatures []string) (*ports.ExecuteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, signatures)
	return &ports.ExecuteResult{Digest: "DIGEST"}, nil
}

// fakeProver counts proving requests
type fakeProver struct {
	mu    sync.Mutex
	calls int
	err   error
	proof *core.Proof
}

func newFakeProver() *fakeProver {
	return &fakeProver{proof: &core.Proof{
		ProofPoints: core.ProofPoints{
			A: []string{"1", "2", "1"},
			B: [][]string{{"1", "2"}, {"3", "4"}, {"1", "0"}},
			C: []string{"5", "6", "1"},
		},
		IssBase64Details: core.IssBase64Details{Value: "wiaXNzIjoiaHR0cHM6Ly9hY2NvdW50cy5nb29nbGUuY29tIiw", IndexMod4: 1},
		HeaderBase64:     "eyJhbGciOiJSUzI1NiJ9",
	}}
}

func (p *fakeProver) Prove(context.Context, core.ProofRequest) (*core.Proof, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.proof, nil
}

func (p *fakeProver) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu             sync.Mutex
	warnings       []core.SessionWarning
	logouts        []core.ForceLogout
	logoutSessions []string
}

func (p *recordingPublisher) PublishSessionWarning(_ context.Context, w core.SessionWarning) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warnings = append(p.warnings, w)
	return nil
}

func (p *recordingPublisher) PublishForceLogout(ctx context.Context, e core.ForceLogout) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, e)
	p.logoutSessions = append(p.logoutSessions, core.SessionID(ctx))
	return nil
}

func (p *recordingPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.warnings), len(p.logouts)
}

func newToken(t *testing.T, exp time.Time, nonce string) string {
	t.Helper()
	return newTokenFor(t, testAudience, exp, nonce)
}

func newTokenFor(t *testing.T, audience string, exp time.Time, nonce string) string {
	t.Helper()
	tc := claims.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   testIssuer,
			Subject:  testSubject,
			Audience: jwt.ClaimStrings{audience},
		},
		Nonce: nonce,
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
	}
	if !exp.IsZero() {
		tc.ExpiresAt = jwt.NewNumericDate(exp)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func testAddress(t *testing.T) string {
	t.Helper()
	addr, err := zklogin.AddressFromClaims(&core.Claims{Issuer: testIssuer, Subject: testSubject, Audience: testAudience}, testSalt)
	require.NoError(t, err)
	return addr
}

// env wires the services against in-memory fakes and a shared clock
type env struct {
	clock    *fakeClock
	primary  *store.MemoryStore
	fallback *store.MemoryStore
	chain    *fakeChain
	prover   *fakeProver
	events   *recordingPublisher

	sessions *SessionStore
	proofs   *ProofService
	signer   *TxSigner
	monitor  *Monitor
	login    *LoginService
	wallets  *WalletResolver
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := discardLogger()
	extractor := claims.NewJWTExtractor()

	e := &env{
		clock:    newFakeClock(),
		primary:  store.NewMemoryStore(),
		fallback: store.NewMemoryStore(),
		chain:    newFakeChain(),
		prover:   newFakeProver(),
		events:   &recordingPublisher{},
	}

	e.sessions = NewSessionStore([]ports.Backend{e.primary, e.fallback}, extractor, DefaultSessionConfig(), log)
	e.sessions.now = e.clock.Now

	e.proofs = NewProofService(e.prover, extractor, DefaultProofTTL, nil, log)
	e.proofs.now = e.clock.Now

	e.signer = NewTxSigner(e.chain, e.proofs, extractor, nil, log)
	e.signer.now = e.clock.Now

	e.monitor = NewMonitor(e.sessions, e.proofs, e.events, DefaultMonitorConfig(), nil, log)
	e.monitor.now = e.clock.Now

	e.login = NewLoginService(e.chain, extractor, staticSalt(testSalt), e.sessions, e.monitor, LoginConfig{
		OAuth: OAuthConfig{ClientID: testAudience, RedirectURL: "http://localhost:8080/callback", AuthURL: "https://accounts.google.com/o/oauth2/v2/auth"},
	}, log)
	e.login.now = e.clock.Now

	e.wallets = NewWalletResolver(e.sessions, e.signer, e.chain, nil, 5000)
	return e
}

// ephemeralSession builds a valid ephemeral session for the test identity
func (e *env) ephemeralSession(t *testing.T, maxEpoch uint64) *core.EphemeralKeySession {
	t.Helper()
	key, err := zklogin.GenerateEphemeralKey()
	require.NoError(t, err)
	return &core.EphemeralKeySession{
		JWT:                  newToken(t, e.clock.Now().Add(time.Hour), "nonce"),
		UserSalt:             testSalt,
		Address:              testAddress(t),
		Nonce:                "nonce",
		MaxEpoch:             maxEpoch,
		Randomness:           "100681567828351849884072155819400689117",
		EphemeralKeyMaterial: key.Material(),
	}
}

func (e *env) zkConfig(t *testing.T, maxEpoch uint64) ZkLoginConfig {
	t.Helper()
	cfg, err := ConfigFromSession(e.ephemeralSession(t, maxEpoch))
	require.NoError(t, err)
	return cfg
}

type staticSalt string

func (s staticSalt) Salt(context.Context, *core.Claims) (string, error) { return string(s), nil }
