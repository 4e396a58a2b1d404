package zklogin

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

const (
	maxKeyClaimNameLength  = 32
	maxKeyClaimValueLength = 115
	maxAudValueLength      = 145

	// packWidth is the number of bits packed into one field element
	packWidth = 248
)

var errTooManyInputs = errors.New("poseidon: too many inputs")

// poseidonHash hashes up to 32 field elements. Inputs beyond 16 are split in
// two halves whose digests are hashed together.
func poseidonHash(inputs []*big.Int) (*big.Int, error) {
	switch {
	case len(inputs) == 0:
		return nil, errors.New("poseidon: no inputs")
	case len(inputs) <= 16:
		return poseidon.Hash(inputs)
	case len(inputs) <= 32:
		left, err := poseidon.Hash(inputs[:16])
		if err != nil {
			return nil, err
		}
		right, err := poseidon.Hash(inputs[16:])
		if err != nil {
			return nil, err
		}
		return poseidon.Hash([]*big.Int{left, right})
	default:
		return nil, errTooManyInputs
	}
}

// hashASCIIStrToField zero-pads s to maxSize bytes, packs it into 31-byte
// big-endian chunks and hashes the chunks.
func hashASCIIStrToField(s string, maxSize int) (*big.Int, error) {
	if len(s) > maxSize {
		return nil, fmt.Errorf("%q is longer than %d bytes", s, maxSize)
	}

	padded := make([]byte, maxSize)
	copy(padded, s)

	chunks := chunkFromEnd(padded, packWidth/8)
	packed := make([]*big.Int, len(chunks))
	for i, chunk := range chunks {
		packed[i] = new(big.Int).SetBytes(chunk)
	}

	return poseidonHash(packed)
}

// chunkFromEnd splits b into chunks of size n aligned to the end of the slice,
// so only the first chunk may be shorter than n.
func chunkFromEnd(b []byte, n int) [][]byte {
	count := (len(b) + n - 1) / n
	chunks := make([][]byte, count)
	end := len(b)
	for i := count - 1; i >= 0; i-- {
		start := end - n
		if start < 0 {
			start = 0
		}
		chunks[i] = b[start:end]
		end = start
	}
	return chunks
}
