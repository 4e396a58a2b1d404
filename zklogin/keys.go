package zklogin

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// Intent prefixes hashed before signing: scope, version V0, app Sui.
var (
	intentTransactionData = []byte{0, 0, 0}
	intentPersonalMessage = []byte{3, 0, 0}
)

var (
	errKeyMaterial = errors.New("invalid ephemeral key material")

	mask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// EphemeralKey is a short-lived Ed25519 signing key
type EphemeralKey struct {
	priv ed25519.PrivateKey
}

// GenerateEphemeralKey creates a fresh ephemeral key
func GenerateEphemeralKey() (*EphemeralKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &EphemeralKey{priv: priv}, nil
}

// NewEphemeralKey wraps an existing Ed25519 private key
func NewEphemeralKey(priv ed25519.PrivateKey) *EphemeralKey {
	return &EphemeralKey{priv: priv}
}

// ParseEphemeralKey decodes key material produced by Material
func ParseEphemeralKey(material string) (*EphemeralKey, error) {
	raw, err := base64.StdEncoding.DecodeString(material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errKeyMaterial, err)
	}
	if len(raw) != 1+ed25519.SeedSize || raw[0] != flagEd25519 {
		return nil, errKeyMaterial
	}
	return &EphemeralKey{priv: ed25519.NewKeyFromSeed(raw[1:])}, nil
}

// Material encodes the key as base64(flag || seed)
func (k *EphemeralKey) Material() string {
	return base64.StdEncoding.EncodeToString(append([]byte{flagEd25519}, k.priv.Seed()...))
}

// PublicKey returns the raw Ed25519 public key
func (k *EphemeralKey) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// SuiPublicKey returns base64(flag || public key)
func (k *EphemeralKey) SuiPublicKey() string {
	return base64.StdEncoding.EncodeToString(suiPublicKeyBytes(k.PublicKey()))
}

// ExtendedPublicKey is the public key in the form the proving service expects:
// the decimal value of the big-endian integer (flag || public key).
func (k *EphemeralKey) ExtendedPublicKey() string {
	return new(big.Int).SetBytes(suiPublicKeyBytes(k.PublicKey())).String()
}

// SignTransaction signs transaction bytes with the TransactionData intent and
// returns the serialized signature (flag || signature || public key).
func (k *EphemeralKey) SignTransaction(txBytes []byte) []byte {
	return k.sign(intentDigest(intentTransactionData, txBytes))
}

// SignPersonalMessage signs msg the way wallets sign a personal message: the
// BCS encoded bytes under the PersonalMessage intent.
func (k *EphemeralKey) SignPersonalMessage(msg []byte) []byte {
	return k.sign(intentDigest(intentPersonalMessage, personalMessageBytes(msg)))
}

func (k *EphemeralKey) sign(digest [32]byte) []byte {
	sig := ed25519.Sign(k.priv, digest[:])

	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, flagEd25519)
	out = append(out, sig...)
	out = append(out, k.PublicKey()...)
	return out
}

// VerifyTransaction checks a serialized Ed25519 signature over txBytes
func VerifyTransaction(serialized, txBytes []byte) bool {
	_, ok := verify(serialized, intentDigest(intentTransactionData, txBytes))
	return ok
}

// VerifyPersonalMessage checks a serialized Ed25519 personal message
// signature and returns the address of the signing key
func VerifyPersonalMessage(serialized, msg []byte) (string, bool) {
	pub, ok := verify(serialized, intentDigest(intentPersonalMessage, personalMessageBytes(msg)))
	if !ok {
		return "", false
	}
	return Ed25519Address(pub), true
}

func verify(serialized []byte, digest [32]byte) (ed25519.PublicKey, bool) {
	if len(serialized) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || serialized[0] != flagEd25519 {
		return nil, false
	}
	sig := serialized[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(serialized[1+ed25519.SignatureSize:])
	if !ed25519.Verify(pub, digest[:], sig) {
		return nil, false
	}
	return pub, true
}

func personalMessageBytes(msg []byte) []byte {
	var w bcsWriter
	w.bytes(msg)
	return w.Bytes()
}

// GenerateRandomness returns 128 bits of randomness as a decimal string
func GenerateRandomness() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return new(big.Int).SetBytes(b).String(), nil
}

// Nonce binds an ephemeral public key, max epoch and randomness into the
// value placed in the identity token's nonce claim.
func Nonce(pub ed25519.PublicKey, maxEpoch uint64, randomness string) (string, error) {
	r, ok := new(big.Int).SetString(randomness, 10)
	if !ok {
		return "", fmt.Errorf("randomness %q is not a decimal integer", randomness)
	}

	pk := new(big.Int).SetBytes(suiPublicKeyBytes(pub))
	hi := new(big.Int).Rsh(pk, 128)
	lo := new(big.Int).And(pk, mask128)

	h, err := poseidonHash([]*big.Int{hi, lo, new(big.Int).SetUint64(maxEpoch), r})
	if err != nil {
		return "", err
	}

	full := h.FillBytes(make([]byte, 32))
	return base64.RawURLEncoding.EncodeToString(full[len(full)-20:]), nil
}

func suiPublicKeyBytes(pub ed25519.PublicKey) []byte {
	return append([]byte{flagEd25519}, pub...)
}

func intentDigest(intent, payload []byte) [32]byte {
	msg := make([]byte, 0, len(intent)+len(payload))
	msg = append(msg, intent...)
	msg = append(msg, payload...)
	return blake2b.Sum256(msg)
}
