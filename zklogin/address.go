package zklogin

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/zkauth/core"
	"golang.org/x/crypto/blake2b"
)

const (
	// KeyClaimName is the JWT claim an address is bound to
	KeyClaimName = "sub"

	flagEd25519 byte = 0x00
	flagZkLogin byte = 0x05

	addressLength = 32
)

// GenAddressSeed derives the address seed from the user salt and the key,
// value and audience claims.
func GenAddressSeed(salt, name, value, aud string) (*big.Int, error) {
	saltInt, ok := new(big.Int).SetString(salt, 10)
	if !ok {
		return nil, fmt.Errorf("salt %q is not a decimal integer", salt)
	}

	nameF, err := hashASCIIStrToField(name, maxKeyClaimNameLength)
	if err != nil {
		return nil, fmt.Errorf("key claim name: %w", err)
	}
	valueF, err := hashASCIIStrToField(value, maxKeyClaimValueLength)
	if err != nil {
		return nil, fmt.Errorf("key claim value: %w", err)
	}
	audF, err := hashASCIIStrToField(aud, maxAudValueLength)
	if err != nil {
		return nil, fmt.Errorf("audience: %w", err)
	}
	saltF, err := poseidonHash([]*big.Int{saltInt})
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}

	return poseidonHash([]*big.Int{nameF, valueF, audF, saltF})
}

// ComputeAddress derives the zkLogin address from an address seed and issuer
func ComputeAddress(seed *big.Int, iss string) (string, error) {
	if seed.Sign() < 0 || seed.BitLen() > addressLength*8 {
		return "", fmt.Errorf("address seed out of range")
	}
	if iss == "accounts.google.com" {
		iss = "https://accounts.google.com"
	}
	if len(iss) > 255 {
		return "", fmt.Errorf("issuer too long")
	}

	buf := make([]byte, 0, 2+len(iss)+addressLength)
	buf = append(buf, flagZkLogin, byte(len(iss)))
	buf = append(buf, iss...)
	buf = append(buf, seed.FillBytes(make([]byte, addressLength))...)

	sum := blake2b.Sum256(buf)
	return hexutil.Encode(sum[:]), nil
}

// AddressFromClaims derives the zkLogin address bound to (jwt claims, salt)
func AddressFromClaims(claims *core.Claims, salt string) (string, error) {
	seed, err := GenAddressSeed(salt, KeyClaimName, claims.Subject, claims.Audience)
	if err != nil {
		return "", err
	}
	return ComputeAddress(seed, claims.Issuer)
}

// Ed25519Address derives the address of a plain Ed25519 account
func Ed25519Address(pub []byte) string {
	sum := blake2b.Sum256(append([]byte{flagEd25519}, pub...))
	return hexutil.Encode(sum[:])
}

// NormalizeAddress lower-cases addr and left-pads it to 32 bytes
func NormalizeAddress(addr string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(addr))
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s) > addressLength*2 {
		return "", core.ErrInvalidAddress
	}
	s = strings.Repeat("0", addressLength*2-len(s)) + s
	if _, err := hexutil.Decode("0x" + s); err != nil {
		return "", core.ErrInvalidAddress
	}
	return "0x" + s, nil
}
