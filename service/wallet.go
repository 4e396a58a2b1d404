package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/zklogin"
)

// Wallet is the capability surface shared by zkLogin and conventional
// wallets. Amounts are in MIST.
type Wallet interface {
	Kind() core.ConnectionKind
	Address() string
	PublicKey() string
	CanSign(ctx context.Context) bool
	SignAndExecuteTransaction(ctx context.Context, build TxBuilder) (*core.TxResult, error)
	SignTransaction(ctx context.Context, build TxBuilder) (*core.SignedTx, error)
	Balance(ctx context.Context) (*core.Balance, error)
	OwnedObjects(ctx context.Context, query core.ObjectQuery) (*core.ObjectPage, error)
	TransferSui(ctx context.Context, recipient string, amount uint64) (*core.TxResult, error)
	TransferObjects(ctx context.Context, objectIDs []string, recipient string) (*core.TxResult, error)
	TransactionHistory(ctx context.Context, limit int) ([]core.TxSummary, error)
	EstimateGas(ctx context.Context, build TxBuilder) (uint64, error)
	SessionInfo(ctx context.Context) core.SessionInfo
}

// chainView holds the read paths both wallets share
type chainView struct {
	chain     ports.Chain
	sessions  *SessionStore
	gasBudget uint64
}

func (v chainView) balance(ctx context.Context, address string) (*core.Balance, error) {
	return v.chain.Balance(ctx, address, "")
}

func (v chainView) ownedObjects(ctx context.Context, address string, q core.ObjectQuery) (*core.ObjectPage, error) {
	return v.chain.OwnedObjects(ctx, address, q)
}

// history merges sent and received transactions, newest first
func (v chainView) history(ctx context.Context, address string, limit int) ([]core.TxSummary, error) {
	from, err := v.chain.TransactionsFrom(ctx, address, limit)
	if err != nil {
		return nil, err
	}
	to, err := v.chain.TransactionsTo(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(from)+len(to))
	merged := make([]core.TxSummary, 0, len(from)+len(to))
	for _, tx := range append(from, to...) {
		if _, ok := seen[tx.Digest]; ok {
			continue
		}
		seen[tx.Digest] = struct{}{}
		merged = append(merged, tx)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (v chainView) sessionInfo(ctx context.Context) core.SessionInfo {
	if v.sessions == nil {
		return core.SessionInfo{}
	}
	return v.sessions.Info(ctx)
}

// ZkLoginWallet signs through a zkLogin ephemeral key
type ZkLoginWallet struct {
	chainView
	signer *TxSigner

	mu      sync.RWMutex
	cfg     ZkLoginConfig
	address string
}

// NewZkLoginWallet creates a wallet for cfg
func NewZkLoginWallet(signer *TxSigner, chain ports.Chain, sessions *SessionStore, cfg ZkLoginConfig, gasBudget uint64) (*ZkLoginWallet, error) {
	w := &ZkLoginWallet{
		chainView: chainView{chain: chain, sessions: sessions, gasBudget: gasBudget},
		signer:    signer,
	}
	if err := w.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return w, nil
}

var _ Wallet = (*ZkLoginWallet)(nil)

// UpdateConfig replaces the whole signing config
func (w *ZkLoginWallet) UpdateConfig(cfg ZkLoginConfig) error {
	if cfg.Key == nil {
		return core.ErrNoSigner
	}
	address, err := w.signer.SenderAddress(cfg)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.cfg = cfg
	w.address = address
	return nil
}

func (w *ZkLoginWallet) config() ZkLoginConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.cfg
}

func (w *ZkLoginWallet) Kind() core.ConnectionKind { return core.ConnectionZkLogin }

func (w *ZkLoginWallet) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.address
}

// PublicKey returns the ephemeral public key
func (w *ZkLoginWallet) PublicKey() string {
	return w.config().Key.SuiPublicKey()
}

// CanSign runs the signing pre-flight check on every call
func (w *ZkLoginWallet) CanSign(ctx context.Context) bool {
	cfg := w.config()
	v, err := w.signer.ValidateSession(ctx, cfg.JWT, cfg.MaxEpoch)
	if err != nil {
		w.signer.log.Warn("wallet.can_sign.failed", "error", err)
		return false
	}
	return v.IsValid
}

func (w *ZkLoginWallet) SignAndExecuteTransaction(ctx context.Context, build TxBuilder) (*core.TxResult, error) {
	cfg := w.config()
	if err := w.signer.CheckSession(ctx, cfg.JWT, cfg.MaxEpoch); err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: err}
	}
	return w.signer.SignAndExecute(ctx, cfg, build)
}

func (w *ZkLoginWallet) SignTransaction(ctx context.Context, build TxBuilder) (*core.SignedTx, error) {
	cfg := w.config()
	if err := w.signer.CheckSession(ctx, cfg.JWT, cfg.MaxEpoch); err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: err}
	}
	return w.signer.Sign(ctx, cfg, build)
}

func (w *ZkLoginWallet) Balance(ctx context.Context) (*core.Balance, error) {
	return w.balance(ctx, w.Address())
}

func (w *ZkLoginWallet) OwnedObjects(ctx context.Context, query core.ObjectQuery) (*core.ObjectPage, error) {
	return w.ownedObjects(ctx, w.Address(), query)
}

func (w *ZkLoginWallet) TransferSui(ctx context.Context, recipient string, amount uint64) (*core.TxResult, error) {
	to, err := zklogin.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}
	return w.SignAndExecuteTransaction(ctx, PaySui(w.chain, to, amount, w.gasBudget))
}

func (w *ZkLoginWallet) TransferObjects(ctx context.Context, objectIDs []string, recipient string) (*core.TxResult, error) {
	to, err := zklogin.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}
	return w.SignAndExecuteTransaction(ctx, TransferObjects(w.chain, objectIDs, to, w.gasBudget))
}

func (w *ZkLoginWallet) TransactionHistory(ctx context.Context, limit int) ([]core.TxSummary, error) {
	return w.history(ctx, w.Address(), limit)
}

func (w *ZkLoginWallet) EstimateGas(ctx context.Context, build TxBuilder) (uint64, error) {
	return w.signer.EstimateGas(ctx, w.Address(), build)
}

func (w *ZkLoginWallet) SessionInfo(ctx context.Context) core.SessionInfo {
	return w.sessionInfo(ctx)
}

// KeypairWallet signs with a long-lived Ed25519 key
type KeypairWallet struct {
	chainView
	key     *zklogin.EphemeralKey
	address string
	log     *slog.Logger
}

// NewKeypairWallet creates a conventional wallet from key material produced
// by zklogin.EphemeralKey.Material
func NewKeypairWallet(material string, chain ports.Chain, sessions *SessionStore, gasBudget uint64, log *slog.Logger) (*KeypairWallet, error) {
	key, err := zklogin.ParseEphemeralKey(material)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet key: %v", core.ErrInvalidConfig, err)
	}
	return &KeypairWallet{
		chainView: chainView{chain: chain, sessions: sessions, gasBudget: gasBudget},
		key:       key,
		address:   zklogin.Ed25519Address(key.PublicKey()),
		log:       log,
	}, nil
}

var _ Wallet = (*KeypairWallet)(nil)

func (w *KeypairWallet) Kind() core.ConnectionKind { return core.ConnectionWallet }

func (w *KeypairWallet) Address() string { return w.address }

func (w *KeypairWallet) PublicKey() string { return w.key.SuiPublicKey() }

func (w *KeypairWallet) CanSign(context.Context) bool { return true }

func (w *KeypairWallet) SignTransaction(ctx context.Context, build TxBuilder) (*core.SignedTx, error) {
	encoded, err := build(ctx, w.address)
	if err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: err}
	}
	txBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &core.StepError{Step: core.StageBuilt, Err: fmt.Errorf("invalid transaction bytes: %w", err)}
	}
	return &core.SignedTx{
		Sender:    w.address,
		TxBytes:   encoded,
		Signature: base64.StdEncoding.EncodeToString(w.key.SignTransaction(txBytes)),
	}, nil
}

func (w *KeypairWallet) SignAndExecuteTransaction(ctx context.Context, build TxBuilder) (*core.TxResult, error) {
	signed, err := w.SignTransaction(ctx, build)
	if err != nil {
		return nil, err
	}
	res, err := w.chain.Execute(ctx, signed.TxBytes, []string{signed.Signature})
	if err != nil {
		return nil, &core.StepError{Step: core.StageExecuted, Err: err}
	}
	w.log.Info("tx.executed", "sender", w.address, "digest", res.Digest)
	return &core.TxResult{Digest: res.Digest, Effects: res.Effects, ObjectChanges: res.ObjectChanges}, nil
}

func (w *KeypairWallet) Balance(ctx context.Context) (*core.Balance, error) {
	return w.balance(ctx, w.address)
}

func (w *KeypairWallet) OwnedObjects(ctx context.Context, query core.ObjectQuery) (*core.ObjectPage, error) {
	return w.ownedObjects(ctx, w.address, query)
}

func (w *KeypairWallet) TransferSui(ctx context.Context, recipient string, amount uint64) (*core.TxResult, error) {
	to, err := zklogin.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}
	return w.SignAndExecuteTransaction(ctx, PaySui(w.chain, to, amount, w.gasBudget))
}

func (w *KeypairWallet) TransferObjects(ctx context.Context, objectIDs []string, recipient string) (*core.TxResult, error) {
	to, err := zklogin.NormalizeAddress(recipient)
	if err != nil {
		return nil, err
	}
	return w.SignAndExecuteTransaction(ctx, TransferObjects(w.chain, objectIDs, to, w.gasBudget))
}

func (w *KeypairWallet) TransactionHistory(ctx context.Context, limit int) ([]core.TxSummary, error) {
	return w.history(ctx, w.address, limit)
}

func (w *KeypairWallet) EstimateGas(ctx context.Context, build TxBuilder) (uint64, error) {
	return estimateGas(ctx, w.chain, w.address, build)
}

func (w *KeypairWallet) SessionInfo(ctx context.Context) core.SessionInfo {
	return w.sessionInfo(ctx)
}

// WalletResolver picks the wallet matching the current identity session.
// A zkLogin wallet is built from the caller's own session on every call.
type WalletResolver struct {
	sessions  *SessionStore
	signer    *TxSigner
	chain     ports.Chain
	keypair   *KeypairWallet
	gasBudget uint64
}

// NewWalletResolver creates a resolver. keypair may be nil when no
// conventional wallet is configured.
func NewWalletResolver(sessions *SessionStore, signer *TxSigner, chain ports.Chain, keypair *KeypairWallet, gasBudget uint64) *WalletResolver {
	return &WalletResolver{
		sessions:  sessions,
		signer:    signer,
		chain:     chain,
		keypair:   keypair,
		gasBudget: gasBudget,
	}
}

// Current returns the wallet for the logged-in identity
func (r *WalletResolver) Current(ctx context.Context) (Wallet, error) {
	ident, err := r.sessions.LoadIdentity(ctx)
	if err != nil {
		return nil, err
	}

	switch ident.ConnectionKind {
	case core.ConnectionZkLogin:
		eph, err := r.sessions.LoadEphemeral(ctx)
		if err != nil {
			if errors.Is(err, core.ErrSessionNotFound) {
				return nil, core.ErrEphemeralKeyExpired
			}
			return nil, err
		}
		cfg, err := ConfigFromSession(eph)
		if err != nil {
			return nil, err
		}
		w, err := NewZkLoginWallet(r.signer, r.chain, r.sessions, cfg, r.gasBudget)
		if err != nil {
			return nil, err
		}
		return w, nil

	case core.ConnectionWallet:
		if r.keypair == nil || r.keypair.Address() != ident.Address {
			return nil, core.ErrNoSigner
		}
		return r.keypair, nil

	default:
		return nil, core.ErrNoSigner
	}
}
