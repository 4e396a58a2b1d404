package zklogin

import (
	"crypto/ed25519"
	"encoding/base64"
	"math/big"
	"strings"
	"testing"

	"github.com/layer-3/zkauth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFromEnd(t *testing.T) {
	cases := []struct {
		size int
		want []int
	}{
		{size: 31, want: []int{31}},
		{size: 32, want: []int{1, 31}},
		{size: 115, want: []int{22, 31, 31, 31}},
		{size: 145, want: []int{21, 31, 31, 31, 31}},
	}

	for _, tc := range cases {
		b := make([]byte, tc.size)
		for i := range b {
			b[i] = byte(i)
		}
		chunks := chunkFromEnd(b, 31)

		got := make([]int, len(chunks))
		for i, c := range chunks {
			got[i] = len(c)
		}
		assert.Equal(t, tc.want, got, "size %d", tc.size)
		assert.Equal(t, byte(tc.size-1), chunks[len(chunks)-1][30])
	}
}

func TestPoseidonHash_Splits(t *testing.T) {
	inputs := make([]*big.Int, 20)
	for i := range inputs {
		inputs[i] = big.NewInt(int64(i + 1))
	}

	h1, err := poseidonHash(inputs)
	require.NoError(t, err)
	h2, err := poseidonHash(inputs)
	require.NoError(t, err)
	assert.Equal(t, 0, h1.Cmp(h2))

	_, err = poseidonHash(make([]*big.Int, 33))
	require.ErrorIs(t, err, errTooManyInputs)

	_, err = poseidonHash(nil)
	require.Error(t, err)
}

func TestGenAddressSeed(t *testing.T) {
	seed, err := GenAddressSeed("129390038577185583942388216820280642146", "sub", "106294049240999307923", "25769832374-famecqrhe2gkebt5fvqms2263046lj96.apps.googleusercontent.com")
	require.NoError(t, err)
	assert.Positive(t, seed.Sign())

	again, err := GenAddressSeed("129390038577185583942388216820280642146", "sub", "106294049240999307923", "25769832374-famecqrhe2gkebt5fvqms2263046lj96.apps.googleusercontent.com")
	require.NoError(t, err)
	assert.Equal(t, seed.String(), again.String())

	other, err := GenAddressSeed("1", "sub", "106294049240999307923", "aud")
	require.NoError(t, err)
	assert.NotEqual(t, seed.String(), other.String())

	_, err = GenAddressSeed("not-a-number", "sub", "1", "aud")
	require.Error(t, err)

	_, err = GenAddressSeed("1", "sub", strings.Repeat("x", maxKeyClaimValueLength+1), "aud")
	require.Error(t, err)
}

func TestComputeAddress(t *testing.T) {
	seed := big.NewInt(123456789)

	addr, err := ComputeAddress(seed, "https://accounts.google.com")
	require.NoError(t, err)
	assert.Len(t, addr, 66)
	assert.True(t, strings.HasPrefix(addr, "0x"))

	short, err := ComputeAddress(seed, "accounts.google.com")
	require.NoError(t, err)
	assert.Equal(t, addr, short)

	other, err := ComputeAddress(seed, "https://id.twitch.tv/oauth2")
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestAddressFromClaims(t *testing.T) {
	claims := &core.Claims{Issuer: "https://accounts.google.com", Subject: "1234", Audience: "client"}

	a1, err := AddressFromClaims(claims, "42")
	require.NoError(t, err)
	a2, err := AddressFromClaims(claims, "43")
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)
}

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0x2", want: "0x" + strings.Repeat("0", 63) + "2"},
		{in: "0xABCDEF", want: "0x" + strings.Repeat("0", 58) + "abcdef"},
		{in: strings.Repeat("1", 64), want: "0x" + strings.Repeat("1", 64)},
		{in: "", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "0xzz", wantErr: true},
		{in: "0x" + strings.Repeat("1", 65), wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizeAddress(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, core.ErrInvalidAddress, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestEphemeralKey_MaterialRoundTrip(t *testing.T) {
	key, err := GenerateEphemeralKey()
	require.NoError(t, err)

	parsed, err := ParseEphemeralKey(key.Material())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), parsed.PublicKey())

	_, err = ParseEphemeralKey("!!!")
	require.Error(t, err)
	_, err = ParseEphemeralKey(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	require.Error(t, err)
}

func TestEphemeralKey_SignTransaction(t *testing.T) {
	key, err := GenerateEphemeralKey()
	require.NoError(t, err)

	tx := []byte("transaction bytes")
	sig := key.SignTransaction(tx)

	require.Len(t, sig, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	assert.Equal(t, flagEd25519, sig[0])
	assert.True(t, VerifyTransaction(sig, tx))
	assert.False(t, VerifyTransaction(sig, []byte("other bytes")))
}

func TestEphemeralKey_SignPersonalMessage(t *testing.T) {
	key, err := GenerateEphemeralKey()
	require.NoError(t, err)
	msg := []byte("Sign in to zkauth\nNonce: abc")

	sig := key.SignPersonalMessage(msg)
	addr, ok := VerifyPersonalMessage(sig, msg)
	require.True(t, ok)
	assert.Equal(t, Ed25519Address(key.PublicKey()), addr)

	_, ok = VerifyPersonalMessage(sig, []byte("Sign in to zkauth\nNonce: abd"))
	assert.False(t, ok)

	// a transaction signature over the same bytes is not a message signature
	_, ok = VerifyPersonalMessage(key.SignTransaction(msg), msg)
	assert.False(t, ok)
	assert.False(t, VerifyTransaction(sig, msg))

	_, ok = VerifyPersonalMessage(sig[1:], msg)
	assert.False(t, ok)
}

func TestExtendedPublicKey(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	key := NewEphemeralKey(ed25519.NewKeyFromSeed(seed))

	want := new(big.Int).SetBytes(key.PublicKey())
	assert.Equal(t, want.String(), key.ExtendedPublicKey())

	raw, err := base64.StdEncoding.DecodeString(key.SuiPublicKey())
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0}, key.PublicKey()...), raw)
}

func TestNonce(t *testing.T) {
	key, err := GenerateEphemeralKey()
	require.NoError(t, err)
	randomness, err := GenerateRandomness()
	require.NoError(t, err)

	n1, err := Nonce(key.PublicKey(), 10, randomness)
	require.NoError(t, err)
	assert.Len(t, n1, 27)

	n2, err := Nonce(key.PublicKey(), 10, randomness)
	require.NoError(t, err)
	assert.Equal(t, n1, n2)

	n3, err := Nonce(key.PublicKey(), 11, randomness)
	require.NoError(t, err)
	assert.NotEqual(t, n1, n3)

	_, err = Nonce(key.PublicKey(), 10, "abc")
	require.Error(t, err)
}

func TestBCS_ULEB128(t *testing.T) {
	cases := []struct {
		in   uint64
		want []byte
	}{
		{in: 0, want: []byte{0x00}},
		{in: 127, want: []byte{0x7f}},
		{in: 128, want: []byte{0x80, 0x01}},
		{in: 300, want: []byte{0xac, 0x02}},
	}
	for _, tc := range cases {
		var w bcsWriter
		w.uleb128(tc.in)
		assert.Equal(t, tc.want, w.Bytes(), "uleb128(%d)", tc.in)
	}
}

func TestSignature_Layout(t *testing.T) {
	inputs := &core.ZkLoginInputs{
		ProofPoints: core.ProofPoints{
			A: []string{"1"},
			B: [][]string{{"2", "3"}},
			C: []string{"4"},
		},
		IssBase64Details: core.IssBase64Details{Value: "iss", IndexMod4: 2},
		HeaderBase64:     "hdr",
		AddressSeed:      "99",
	}

	got := Signature(inputs, 7, []byte{0xaa, 0xbb})
	raw, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)

	want := []byte{
		0x05,
		1, 1, '1',
		1, 2, 1, '2', 1, '3',
		1, 1, '4',
		3, 'i', 's', 's', 2,
		3, 'h', 'd', 'r',
		2, '9', '9',
		7, 0, 0, 0, 0, 0, 0, 0,
		2, 0xaa, 0xbb,
	}
	assert.Equal(t, want, raw)
}
