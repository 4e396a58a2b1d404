package service

import (
	"context"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/zklogin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_BeginAndComplete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	challenge, err := e.login.BeginLogin(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), challenge.MaxEpoch)
	assert.Len(t, challenge.Nonce, 27)

	u, err := url.Parse(challenge.AuthURL)
	require.NoError(t, err)
	assert.Equal(t, challenge.Nonce, u.Query().Get("nonce"))
	assert.Equal(t, testAudience, u.Query().Get("client_id"))
	assert.Equal(t, "id_token", u.Query().Get("response_type"))

	ident, err := e.login.CompleteLogin(ctx, newToken(t, e.clock.Now().Add(time.Hour), challenge.Nonce))
	require.NoError(t, err)
	assert.Equal(t, testAddress(t), ident.Address)
	assert.Equal(t, core.ConnectionZkLogin, ident.ConnectionKind)
	assert.Equal(t, "Ada Lovelace", ident.DisplayName)

	eph, err := e.sessions.LoadEphemeral(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), eph.MaxEpoch)
	assert.Equal(t, challenge.Nonce, eph.Nonce)

	key, err := zklogin.ParseEphemeralKey(eph.EphemeralKeyMaterial)
	require.NoError(t, err)
	nonce, err := zklogin.Nonce(key.PublicKey(), eph.MaxEpoch, eph.Randomness)
	require.NoError(t, err)
	assert.Equal(t, challenge.Nonce, nonce)

	w, err := e.wallets.Current(ctx)
	require.NoError(t, err)
	assert.True(t, w.CanSign(ctx))
}

func TestLogin_CompleteRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown nonce", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.login.CompleteLogin(ctx, newToken(t, e.clock.Now().Add(time.Hour), "unknown"))
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("nonce used twice", func(t *testing.T) {
		e := newEnv(t)
		c, err := e.login.BeginLogin(ctx)
		require.NoError(t, err)
		token := newToken(t, e.clock.Now().Add(time.Hour), c.Nonce)

		_, err = e.login.CompleteLogin(ctx, token)
		require.NoError(t, err)
		_, err = e.login.CompleteLogin(ctx, token)
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("stale login", func(t *testing.T) {
		e := newEnv(t)
		c, err := e.login.BeginLogin(ctx)
		require.NoError(t, err)
		e.clock.Advance(11 * time.Minute)

		_, err = e.login.CompleteLogin(ctx, newToken(t, e.clock.Now().Add(time.Hour), c.Nonce))
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("expired token", func(t *testing.T) {
		e := newEnv(t)
		c, err := e.login.BeginLogin(ctx)
		require.NoError(t, err)

		_, err = e.login.CompleteLogin(ctx, newToken(t, e.clock.Now().Add(-time.Second), c.Nonce))
		require.ErrorIs(t, err, core.ErrJWTExpired)
	})

	t.Run("malformed token", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.login.CompleteLogin(ctx, "x.y")
		require.ErrorIs(t, err, core.ErrMalformedJWT)
	})

	t.Run("token for another client", func(t *testing.T) {
		e := newEnv(t)
		c, err := e.login.BeginLogin(ctx)
		require.NoError(t, err)

		_, err = e.login.CompleteLogin(ctx, newTokenFor(t, "other-client.apps.googleusercontent.com", e.clock.Now().Add(time.Hour), c.Nonce))
		require.ErrorIs(t, err, core.ErrMalformedJWT)
		assert.Equal(t, 0, e.primary.Len())
	})

	t.Run("login started by another browser", func(t *testing.T) {
		e := newEnv(t)
		c, err := e.login.BeginLogin(core.WithSessionID(ctx, "alice"))
		require.NoError(t, err)

		_, err = e.login.CompleteLogin(core.WithSessionID(ctx, "mallory"), newToken(t, e.clock.Now().Add(time.Hour), c.Nonce))
		require.ErrorIs(t, err, core.ErrInvalidNonce)
		assert.Equal(t, 0, e.primary.Len())
	})
}

// connectWallet runs the challenge flow for key
func connectWallet(t *testing.T, e *env, ctx context.Context, key *zklogin.EphemeralKey, name string) *core.IdentitySession {
	t.Helper()
	c, err := e.login.BeginWalletConnect(ctx, zklogin.Ed25519Address(key.PublicKey()))
	require.NoError(t, err)

	ident, err := e.login.ConnectWallet(ctx, WalletProof{
		Address:     c.Address,
		Nonce:       c.Nonce,
		Signature:   base64.StdEncoding.EncodeToString(key.SignPersonalMessage([]byte(c.Message))),
		DisplayName: name,
	})
	require.NoError(t, err)
	return ident
}

func newWalletKey(t *testing.T) *zklogin.EphemeralKey {
	t.Helper()
	key, err := zklogin.GenerateEphemeralKey()
	require.NoError(t, err)
	return key
}

func TestLogin_ConnectWallet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	key := newWalletKey(t)

	require.NoError(t, e.sessions.SaveEphemeral(ctx, e.ephemeralSession(t, 20)))

	ident := connectWallet(t, e, ctx, key, "Grace")
	assert.Equal(t, zklogin.Ed25519Address(key.PublicKey()), ident.Address)
	assert.Equal(t, core.ConnectionWallet, ident.ConnectionKind)
	assert.Equal(t, "Grace", ident.DisplayName)

	_, err := e.sessions.LoadEphemeral(ctx)
	require.ErrorIs(t, err, core.ErrSessionNotFound)

	_, err = e.login.BeginWalletConnect(ctx, "zz")
	require.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestLogin_ConnectWalletRejects(t *testing.T) {
	ctx := context.Background()

	begin := func(t *testing.T, e *env, ctx context.Context, key *zklogin.EphemeralKey) *WalletChallenge {
		t.Helper()
		c, err := e.login.BeginWalletConnect(ctx, zklogin.Ed25519Address(key.PublicKey()))
		require.NoError(t, err)
		return c
	}
	sign := func(key *zklogin.EphemeralKey, msg string) string {
		return base64.StdEncoding.EncodeToString(key.SignPersonalMessage([]byte(msg)))
	}

	t.Run("no challenge", func(t *testing.T) {
		e := newEnv(t)
		key := newWalletKey(t)
		_, err := e.login.ConnectWallet(ctx, WalletProof{
			Address:   zklogin.Ed25519Address(key.PublicKey()),
			Nonce:     "made-up",
			Signature: sign(key, "Sign in to zkauth"),
		})
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("signed by another key", func(t *testing.T) {
		e := newEnv(t)
		victim, attacker := newWalletKey(t), newWalletKey(t)
		c := begin(t, e, ctx, victim)

		_, err := e.login.ConnectWallet(ctx, WalletProof{Address: c.Address, Nonce: c.Nonce, Signature: sign(attacker, c.Message)})
		require.ErrorIs(t, err, core.ErrInvalidSignature)
		assert.False(t, e.sessions.Info(ctx).IsAuthenticated)
	})

	t.Run("challenge used twice", func(t *testing.T) {
		e := newEnv(t)
		key := newWalletKey(t)
		c := begin(t, e, ctx, key)
		proof := WalletProof{Address: c.Address, Nonce: c.Nonce, Signature: sign(key, c.Message)}

		_, err := e.login.ConnectWallet(ctx, proof)
		require.NoError(t, err)
		_, err = e.login.ConnectWallet(ctx, proof)
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("expired challenge", func(t *testing.T) {
		e := newEnv(t)
		key := newWalletKey(t)
		c := begin(t, e, ctx, key)
		e.clock.Advance(11 * time.Minute)

		_, err := e.login.ConnectWallet(ctx, WalletProof{Address: c.Address, Nonce: c.Nonce, Signature: sign(key, c.Message)})
		require.ErrorIs(t, err, core.ErrChallengeExpired)
	})

	t.Run("challenge issued to another browser", func(t *testing.T) {
		e := newEnv(t)
		key := newWalletKey(t)
		c := begin(t, e, core.WithSessionID(ctx, "alice"), key)

		_, err := e.login.ConnectWallet(core.WithSessionID(ctx, "mallory"), WalletProof{Address: c.Address, Nonce: c.Nonce, Signature: sign(key, c.Message)})
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("challenge for another address", func(t *testing.T) {
		e := newEnv(t)
		key := newWalletKey(t)
		c := begin(t, e, ctx, key)

		_, err := e.login.ConnectWallet(ctx, WalletProof{Address: "0x1", Nonce: c.Nonce, Signature: sign(key, c.Message)})
		require.ErrorIs(t, err, core.ErrInvalidNonce)
	})

	t.Run("garbled signature", func(t *testing.T) {
		e := newEnv(t)
		key := newWalletKey(t)
		c := begin(t, e, ctx, key)

		_, err := e.login.ConnectWallet(ctx, WalletProof{Address: c.Address, Nonce: c.Nonce, Signature: "%%%"})
		require.ErrorIs(t, err, core.ErrInvalidSignature)
	})
}

func TestLogin_KeepsCreatedAt(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	key := newWalletKey(t)

	first := connectWallet(t, e, ctx, key, "")

	e.clock.Advance(time.Hour)
	second := connectWallet(t, e, ctx, key, "")
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
	assert.True(t, second.LastLoginAt.After(first.LastLoginAt))
}

func TestLogin_Logout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	connectWallet(t, e, ctx, newWalletKey(t), "")

	require.NoError(t, e.login.Logout(ctx))
	require.NoError(t, e.login.Logout(ctx))
	assert.False(t, e.sessions.Info(ctx).IsAuthenticated)

	_, logouts := e.events.counts()
	assert.Equal(t, 2, logouts)
	assert.Equal(t, "logout", e.events.logouts[0].Reason)
}
