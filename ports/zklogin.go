package ports

import (
	"context"
	"encoding/json"

	"github.com/layer-3/zkauth/core"
)

// ClaimsExtractor decodes identity token claims. It must fail closed on
// malformed input.
type ClaimsExtractor interface {
	Extract(jwt string) (*core.Claims, error)
}

// Prover calls the external zero-knowledge proving service
type Prover interface {
	Prove(ctx context.Context, req core.ProofRequest) (*core.Proof, error)
}

// SaltProvider returns the user salt bound to an identity
type SaltProvider interface {
	Salt(ctx context.Context, claims *core.Claims) (string, error)
}

// Coin is a coin object usable as a payment input or gas
type Coin struct {
	CoinObjectID string
	Version      string
	Digest       string
	Balance      uint64
}

// DryRunResult is the part of a dry run the signer relies on
type DryRunResult struct {
	Status string
	Error  string
	Gas    core.GasCost
}

// ExecuteResult is the raw outcome of a submitted transaction
type ExecuteResult struct {
	Digest        string
	Effects       json.RawMessage
	ObjectChanges json.RawMessage
}

// TransferRequest is one entry of a batched object transfer
type TransferRequest struct {
	ObjectID  string
	Recipient string
}

// MoveCallRequest describes a Move entry function call
type MoveCallRequest struct {
	Package       string
	Module        string
	Function      string
	TypeArguments []string
	Arguments     []any
}

// Chain is the subset of the blockchain RPC the signer and wallet need
type Chain interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, owner, coinType string) (*core.Balance, error)
	Coins(ctx context.Context, owner, coinType string, limit int) ([]Coin, error)
	OwnedObjects(ctx context.Context, owner string, query core.ObjectQuery) (*core.ObjectPage, error)
	TransactionsFrom(ctx context.Context, address string, limit int) ([]core.TxSummary, error)
	TransactionsTo(ctx context.Context, address string, limit int) ([]core.TxSummary, error)

	PaySui(ctx context.Context, sender string, coins []string, recipients []string, amounts []uint64, gasBudget uint64) (string, error)
	BatchTransfer(ctx context.Context, sender string, transfers []TransferRequest, gasBudget uint64) (string, error)
	MoveCall(ctx context.Context, sender string, call MoveCallRequest, gasBudget uint64) (string, error)

	DryRun(ctx context.Context, txBytes string) (*DryRunResult, error)
	Execute(ctx context.Context, txBytes string, signatures []string) (*ExecuteResult, error)
}
