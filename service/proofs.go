package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/layer-3/zkauth/adapters/metrics"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/zklogin"
	"golang.org/x/sync/singleflight"
)

// DefaultProofTTL is how long a proof stays cached
const DefaultProofTTL = 30 * time.Minute

const (
	jwtTailLength        = 32
	randomnessTailLength = 16
)

type proofEntry struct {
	proof    *core.Proof
	cachedAt time.Time
}

// ProofService obtains zkLogin proofs from the proving service and caches
// them by input fingerprint for the lifetime of the process.
type ProofService struct {
	prover  ports.Prover
	claims  ports.ClaimsExtractor
	metrics *metrics.Metrics
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	cache  map[string]proofEntry
	flight singleflight.Group
}

// NewProofService creates a proof service. A non-positive ttl uses DefaultProofTTL.
func NewProofService(prover ports.Prover, claims ports.ClaimsExtractor, ttl time.Duration, m *metrics.Metrics, log *slog.Logger) *ProofService {
	if ttl <= 0 {
		ttl = DefaultProofTTL
	}
	return &ProofService{
		prover:  prover,
		claims:  claims,
		metrics: m,
		log:     log,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]proofEntry),
	}
}

// Fingerprint identifies a proof request by the tail of the token, the max
// epoch and the tail of the randomness.
func Fingerprint(jwt, maxEpoch, randomness string) string {
	h := sha256.New()
	h.Write([]byte(tail(jwt, jwtTailLength)))
	h.Write([]byte{'|'})
	h.Write([]byte(maxEpoch))
	h.Write([]byte{'|'})
	h.Write([]byte(tail(randomness, randomnessTailLength)))
	return hex.EncodeToString(h.Sum(nil))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// GenerateProof returns a cached proof for req when one is live, otherwise
// asks the proving service. Concurrent calls with the same fingerprint share
// one request.
func (p *ProofService) GenerateProof(ctx context.Context, req core.ProofRequest) (*core.Proof, error) {
	key := Fingerprint(req.JWT, req.MaxEpoch, req.JWTRandomness)

	if proof, ok := p.lookup(key); ok {
		p.metrics.ProofCacheHit()
		p.log.Debug("proof.cache.hit", "fingerprint", key[:12])
		return proof, nil
	}

	// The shared request outlives any one caller; each caller still stops
	// waiting when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.flight.DoChan(key, func() (any, error) {
		if proof, ok := p.lookup(key); ok {
			p.metrics.ProofCacheHit()
			return proof, nil
		}

		p.metrics.ProofCacheMiss()
		p.log.Debug("proof.cache.miss", "fingerprint", key[:12])

		proof, err := p.prover.Prove(flightCtx, req)
		if err != nil {
			p.recordFailure(err)
			return nil, err
		}
		if !proof.Complete() {
			p.metrics.ProverFailure("incomplete")
			return nil, core.ErrIncompleteProof
		}

		p.mu.Lock()
		p.cache[key] = proofEntry{proof: proof, cachedAt: p.now()}
		p.mu.Unlock()
		return proof, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*core.Proof), nil
	}
}

func (p *ProofService) recordFailure(err error) {
	switch {
	case errors.Is(err, core.ErrProverDeprecated):
		p.metrics.ProverFailure("deprecated")
		p.log.Error("proof.prover.deprecated", "error", err)
	case errors.Is(err, core.ErrIncompleteProof):
		p.metrics.ProverFailure("incomplete")
		p.log.Warn("proof.prover.incomplete", "error", err)
	default:
		p.metrics.ProverFailure("error")
		p.log.Warn("proof.prover.failed", "error", err)
	}
}

// lookup returns a live cache entry, dropping it if it has expired
func (p *ProofService) lookup(key string) (*core.Proof, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.cache[key]
	if !ok {
		return nil, false
	}
	if p.now().Sub(entry.cachedAt) >= p.ttl {
		delete(p.cache, key)
		return nil, false
	}
	return entry.proof, true
}

// PrepareZkLoginInputs builds the proof bundle for one transaction. Token
// claims are decoded before anything is sent to the proving service.
func (p *ProofService) PrepareZkLoginInputs(ctx context.Context, jwt string, key *zklogin.EphemeralKey, salt string, maxEpoch uint64, randomness string) (*core.ZkLoginInputs, error) {
	claims, err := p.claims.Extract(jwt)
	if err != nil {
		return nil, err
	}

	proof, err := p.GenerateProof(ctx, core.ProofRequest{
		JWT:                        jwt,
		ExtendedEphemeralPublicKey: key.ExtendedPublicKey(),
		MaxEpoch:                   strconv.FormatUint(maxEpoch, 10),
		JWTRandomness:              randomness,
		Salt:                       salt,
		KeyClaimName:               zklogin.KeyClaimName,
	})
	if err != nil {
		return nil, err
	}

	seed, err := zklogin.GenAddressSeed(salt, zklogin.KeyClaimName, claims.Subject, claims.Audience)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address seed: %w", err)
	}

	return &core.ZkLoginInputs{
		ProofPoints:      proof.ProofPoints,
		IssBase64Details: proof.IssBase64Details,
		HeaderBase64:     proof.HeaderBase64,
		AddressSeed:      seed.String(),
	}, nil
}

// Sweep drops every expired entry and returns how many were removed
func (p *ProofService) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for key, entry := range p.cache {
		if now.Sub(entry.cachedAt) >= p.ttl {
			delete(p.cache, key)
			removed++
		}
	}
	return removed
}

// Reset empties the cache
func (p *ProofService) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache = make(map[string]proofEntry)
}

// Len returns the number of cached proofs, live or not
func (p *ProofService) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.cache)
}
