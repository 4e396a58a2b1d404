package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TxStage is a step of the transaction signing flow
type TxStage string

const (
	StageBuilt             TxStage = "built"
	StageEphemerallySigned TxStage = "ephemerally_signed"
	StageZkLoginSigned     TxStage = "zklogin_signed"
	StageExecuted          TxStage = "executed"
	StageFailed            TxStage = "failed"
)

// SignedTx is a transaction ready for submission
type SignedTx struct {
	Sender    string `json:"sender"`
	TxBytes   string `json:"txBytes"`
	Signature string `json:"signature"`
}

// TxResult is the outcome of an executed transaction
type TxResult struct {
	Digest        string          `json:"digest"`
	Effects       json.RawMessage `json:"effects,omitempty"`
	ObjectChanges json.RawMessage `json:"objectChanges,omitempty"`
}

// Balance is the balance of one coin type
type Balance struct {
	CoinType        string          `json:"coinType"`
	CoinObjectCount int             `json:"coinObjectCount"`
	TotalBalance    decimal.Decimal `json:"totalBalance"`
	// Amount is TotalBalance expressed in whole coins (SUI for the native coin)
	Amount decimal.Decimal `json:"amount"`
}

// OwnedObject is a summary of an object owned by an address
type OwnedObject struct {
	ObjectID string `json:"objectId"`
	Version  string `json:"version"`
	Digest   string `json:"digest"`
	Type     string `json:"type,omitempty"`
}

// ObjectQuery pages through owned objects
type ObjectQuery struct {
	StructType string
	Cursor     string
	Limit      int
}

// ObjectPage is a page of owned objects
type ObjectPage struct {
	Data        []OwnedObject `json:"data"`
	NextCursor  string        `json:"nextCursor,omitempty"`
	HasNextPage bool          `json:"hasNextPage"`
}

// TxSummary is an entry of the transaction history
type TxSummary struct {
	Digest    string    `json:"digest"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// GasCost is the gas summary of a dry run
type GasCost struct {
	ComputationCost uint64 `json:"computationCost"`
	StorageCost     uint64 `json:"storageCost"`
	StorageRebate   uint64 `json:"storageRebate"`
}
