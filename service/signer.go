package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/zkauth/adapters/metrics"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/zklogin"
)

// ZkLoginConfig is everything needed to sign as a zkLogin address. It is
// always replaced as a whole.
type ZkLoginConfig struct {
	JWT        string
	UserSalt   string
	MaxEpoch   uint64
	Randomness string
	Key        *zklogin.EphemeralKey
}

// ConfigFromSession rebuilds a signing config from a stored ephemeral session
func ConfigFromSession(sess *core.EphemeralKeySession) (ZkLoginConfig, error) {
	key, err := zklogin.ParseEphemeralKey(sess.EphemeralKeyMaterial)
	if err != nil {
		return ZkLoginConfig{}, err
	}
	return ZkLoginConfig{
		JWT:        sess.JWT,
		UserSalt:   sess.UserSalt,
		MaxEpoch:   sess.MaxEpoch,
		Randomness: sess.Randomness,
		Key:        key,
	}, nil
}

// TxSigner signs transactions for a zkLogin address and submits them
type TxSigner struct {
	chain   ports.Chain
	proofs  *ProofService
	claims  ports.ClaimsExtractor
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewTxSigner creates a transaction signer
func NewTxSigner(chain ports.Chain, proofs *ProofService, claims ports.ClaimsExtractor, m *metrics.Metrics, log *slog.Logger) *TxSigner {
	return &TxSigner{
		chain:   chain,
		proofs:  proofs,
		claims:  claims,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SenderAddress derives the zkLogin address from the token and salt in cfg
func (s *TxSigner) SenderAddress(cfg ZkLoginConfig) (string, error) {
	claims, err := s.claims.Extract(cfg.JWT)
	if err != nil {
		return "", err
	}
	return zklogin.AddressFromClaims(claims, cfg.UserSalt)
}

// SignAndExecute builds, signs and submits a transaction. Nothing is retried:
// a failure is returned as a *core.StepError naming the step.
func (s *TxSigner) SignAndExecute(ctx context.Context, cfg ZkLoginConfig, build TxBuilder) (*core.TxResult, error) {
	signed, err := s.sign(ctx, cfg, build)
	if err != nil {
		s.metrics.Transaction(string(core.StageFailed))
		return nil, err
	}

	res, err := s.chain.Execute(ctx, signed.TxBytes, []string{signed.Signature})
	if err != nil {
		s.metrics.Transaction(string(core.StageFailed))
		s.log.Warn("tx.execute.failed", "sender", signed.Sender, "error", err)
		return nil, &core.StepError{Step: core.StageExecuted, Err: err}
	}

	s.metrics.Transaction(string(core.StageExecuted))
	s.log.Info("tx.executed", "sender", signed.Sender, "digest", res.Digest)
	return &core.TxResult{
		Digest:        res.Digest,
		Effects:       res.Effects,
		ObjectChanges: res.ObjectChanges,
	}, nil
}

// Sign builds and signs a transaction without submitting it. The sender is
// derived again from cfg on every call.
func (s *TxSigner) Sign(ctx context.Context, cfg ZkLoginConfig, build TxBuilder) (*core.SignedTx, error) {
	signed, err := s.sign(ctx, cfg, build)
	if err != nil {
		s.metrics.Transaction(string(core.StageFailed))
		return nil, err
	}
	return signed, nil
}

func (s *TxSigner) sign(ctx context.Context, cfg ZkLoginConfig, build TxBuilder) (*core.SignedTx, error) {
	if cfg.Key == nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: core.ErrNoSigner}
	}

	sender, err := s.SenderAddress(cfg)
	if err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: err}
	}

	encoded, err := build(ctx, sender)
	if err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: err}
	}
	txBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: fmt.Errorf("invalid transaction bytes: %w", err)}
	}

	s.metrics.Transaction(string(core.StageBuilt))

	userSig := cfg.Key.SignTransaction(txBytes)
	s.metrics.Transaction(string(core.StageEphemerallySigned))
	s.log.Debug("tx.signed.ephemeral", "sender", sender, "maxEpoch", cfg.MaxEpoch)

	inputs, err := s.proofs.PrepareZkLoginInputs(ctx, cfg.JWT, cfg.Key, cfg.UserSalt, cfg.MaxEpoch, cfg.Randomness)
	if err != nil {
		return nil, &core.StepError{Step: core.StageZkLoginSigned, Err: err}
	}
	s.metrics.Transaction(string(core.StageZkLoginSigned))

	return &core.SignedTx{
		Sender:    sender,
		TxBytes:   encoded,
		Signature: zklogin.Signature(inputs, cfg.MaxEpoch, userSig),
	}, nil
}

// CheckSession returns nil when the token is unexpired and the current epoch
// is below maxEpoch. The token is checked first so an expired token never
// costs a network call.
func (s *TxSigner) CheckSession(ctx context.Context, jwt string, maxEpoch uint64) error {
	claims, err := s.claims.Extract(jwt)
	if err != nil {
		return err
	}
	if claims.ExpiresAt == 0 {
		return fmt.Errorf("%w: missing exp claim", core.ErrMalformedJWT)
	}
	if !s.now().Before(time.Unix(claims.ExpiresAt, 0)) {
		return core.ErrJWTExpired
	}

	epoch, err := s.chain.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current epoch: %w", err)
	}
	if epoch >= maxEpoch {
		return fmt.Errorf("%w: current epoch %d, max epoch %d", core.ErrEphemeralKeyExpired, epoch, maxEpoch)
	}
	return nil
}

// ValidateSession is the signing pre-flight check. An invalid session is
// reported in the result; only a failure to reach the chain is an error.
func (s *TxSigner) ValidateSession(ctx context.Context, jwt string, maxEpoch uint64) (core.Validation, error) {
	err := s.CheckSession(ctx, jwt, maxEpoch)
	switch {
	case err == nil:
		return core.Validation{IsValid: true}, nil
	case errors.Is(err, core.ErrMalformedJWT), errors.Is(err, core.ErrJWTExpired), errors.Is(err, core.ErrEphemeralKeyExpired):
		return core.Validation{Reason: err.Error()}, nil
	default:
		return core.Validation{}, err
	}
}

// EstimateGas dry runs the transaction built for sender and returns its
// computation cost. A failed dry run is an error, never a zero estimate.
func (s *TxSigner) EstimateGas(ctx context.Context, sender string, build TxBuilder) (uint64, error) {
	return estimateGas(ctx, s.chain, sender, build)
}

func estimateGas(ctx context.Context, chain ports.Chain, sender string, build TxBuilder) (uint64, error) {
	txBytes, err := build(ctx, sender)
	if err != nil {
		return 0, err
	}
	res, err := chain.DryRun(ctx, txBytes)
	if err != nil {
		return 0, err
	}
	if res.Status != "success" {
		return 0, fmt.Errorf("%w: %s", core.ErrDryRunFailed, res.Error)
	}
	return res.Gas.ComputationCost, nil
}
