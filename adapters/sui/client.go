// Package sui is a JSON-RPC client for the subset of the Sui full node API
// used by the zkLogin signer and wallet.
package sui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/shopspring/decimal"
)

// CoinTypeSUI is the native coin type
const CoinTypeSUI = "0x2::sui::SUI"

// MistPerSUI is the number of base units in one SUI
const MistPerSUI = 1_000_000_000

// Client talks to a Sui full node over JSON-RPC
type Client struct {
	rpc *rpc.Client
}

// Dial connects to a Sui full node
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial sui rpc: %w", err)
	}
	return &Client{rpc: c}, nil
}

var _ ports.Chain = (*Client)(nil)

// Close closes the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

type systemState struct {
	Epoch string `json:"epoch"`
}

// CurrentEpoch returns the current epoch of the network
func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	var state systemState
	if err := c.rpc.CallContext(ctx, &state, "suix_getLatestSuiSystemState"); err != nil {
		return 0, fmt.Errorf("failed to get system state: %w", err)
	}
	epoch, err := strconv.ParseUint(state.Epoch, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch %q: %w", state.Epoch, err)
	}
	return epoch, nil
}

type balanceResponse struct {
	CoinType        string `json:"coinType"`
	CoinObjectCount int    `json:"coinObjectCount"`
	TotalBalance    string `json:"totalBalance"`
}

// Balance returns the balance of owner for coinType
func (c *Client) Balance(ctx context.Context, owner, coinType string) (*core.Balance, error) {
	if coinType == "" {
		coinType = CoinTypeSUI
	}
	var res balanceResponse
	if err := c.rpc.CallContext(ctx, &res, "suix_getBalance", owner, coinType); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	total, err := decimal.NewFromString(res.TotalBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", res.TotalBalance, err)
	}

	b := &core.Balance{
		CoinType:        res.CoinType,
		CoinObjectCount: res.CoinObjectCount,
		TotalBalance:    total,
		Amount:          total,
	}
	if res.CoinType == CoinTypeSUI {
		b.Amount = MistToSUI(total)
	}
	return b, nil
}

type coinPage struct {
	Data []struct {
		CoinObjectID string `json:"coinObjectId"`
		Version      string `json:"version"`
		Digest       string `json:"digest"`
		Balance      string `json:"balance"`
	} `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// Coins returns up to limit coins of coinType owned by owner
func (c *Client) Coins(ctx context.Context, owner, coinType string, limit int) ([]ports.Coin, error) {
	if coinType == "" {
		coinType = CoinTypeSUI
	}
	var page coinPage
	if err := c.rpc.CallContext(ctx, &page, "suix_getCoins", owner, coinType, nil, limit); err != nil {
		return nil, fmt.Errorf("failed to get coins: %w", err)
	}

	coins := make([]ports.Coin, 0, len(page.Data))
	for _, d := range page.Data {
		bal, err := strconv.ParseUint(d.Balance, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coin balance %q: %w", d.Balance, err)
		}
		coins = append(coins, ports.Coin{
			CoinObjectID: d.CoinObjectID,
			Version:      d.Version,
			Digest:       d.Digest,
			Balance:      bal,
		})
	}
	return coins, nil
}

type objectPage struct {
	Data []struct {
		Data *core.OwnedObject `json:"data"`
	} `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

// OwnedObjects pages through the objects owned by owner
func (c *Client) OwnedObjects(ctx context.Context, owner string, q core.ObjectQuery) (*core.ObjectPage, error) {
	query := map[string]any{
		"options": map[string]bool{"showType": true},
	}
	if q.StructType != "" {
		query["filter"] = map[string]string{"StructType": q.StructType}
	}

	var cursor, limit any
	if q.Cursor != "" {
		cursor = q.Cursor
	}
	if q.Limit > 0 {
		limit = q.Limit
	}

	var page objectPage
	if err := c.rpc.CallContext(ctx, &page, "suix_getOwnedObjects", owner, query, cursor, limit); err != nil {
		return nil, fmt.Errorf("failed to get owned objects: %w", err)
	}

	out := &core.ObjectPage{HasNextPage: page.HasNextPage, Data: make([]core.OwnedObject, 0, len(page.Data))}
	if page.NextCursor != nil {
		out.NextCursor = *page.NextCursor
	}
	for _, d := range page.Data {
		if d.Data != nil {
			out.Data = append(out.Data, *d.Data)
		}
	}
	return out, nil
}

type txPage struct {
	Data []struct {
		Digest      string `json:"digest"`
		TimestampMs string `json:"timestampMs"`
		Transaction *struct {
			Data struct {
				Sender string `json:"sender"`
			} `json:"data"`
		} `json:"transaction"`
		Effects *struct {
			Status struct {
				Status string `json:"status"`
			} `json:"status"`
		} `json:"effects"`
	} `json:"data"`
}

// TransactionsFrom returns the latest transactions sent by address
func (c *Client) TransactionsFrom(ctx context.Context, address string, limit int) ([]core.TxSummary, error) {
	return c.queryTransactions(ctx, map[string]string{"FromAddress": address}, limit)
}

// TransactionsTo returns the latest transactions received by address
func (c *Client) TransactionsTo(ctx context.Context, address string, limit int) ([]core.TxSummary, error) {
	return c.queryTransactions(ctx, map[string]string{"ToAddress": address}, limit)
}

func (c *Client) queryTransactions(ctx context.Context, filter map[string]string, limit int) ([]core.TxSummary, error) {
	query := map[string]any{
		"filter":  filter,
		"options": map[string]bool{"showInput": true, "showEffects": true},
	}

	var page txPage
	if err := c.rpc.CallContext(ctx, &page, "suix_queryTransactionBlocks", query, nil, limit, true); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	out := make([]core.TxSummary, 0, len(page.Data))
	for _, d := range page.Data {
		s := core.TxSummary{Digest: d.Digest}
		if ms, err := strconv.ParseInt(d.TimestampMs, 10, 64); err == nil {
			s.Timestamp = time.UnixMilli(ms).UTC()
		}
		if d.Transaction != nil {
			s.Sender = d.Transaction.Data.Sender
		}
		if d.Effects != nil {
			s.Status = d.Effects.Status.Status
		}
		out = append(out, s)
	}
	return out, nil
}

type txBlockBytes struct {
	TxBytes string `json:"txBytes"`
}

// PaySui builds a transaction paying amounts to recipients from coins; the
// first coin also pays for gas.
func (c *Client) PaySui(ctx context.Context, sender string, coins []string, recipients []string, amounts []uint64, gasBudget uint64) (string, error) {
	strAmounts := make([]string, len(amounts))
	for i, a := range amounts {
		strAmounts[i] = strconv.FormatUint(a, 10)
	}

	var res txBlockBytes
	err := c.rpc.CallContext(ctx, &res, "unsafe_paySui", sender, coins, recipients, strAmounts, strconv.FormatUint(gasBudget, 10))
	if err != nil {
		return "", fmt.Errorf("failed to build pay transaction: %w", err)
	}
	return res.TxBytes, nil
}

// BatchTransfer builds a transaction transferring each object to its recipient
func (c *Client) BatchTransfer(ctx context.Context, sender string, transfers []ports.TransferRequest, gasBudget uint64) (string, error) {
	params := make([]map[string]any, len(transfers))
	for i, t := range transfers {
		params[i] = map[string]any{
			"transferObjectRequestParams": map[string]string{
				"objectId":  t.ObjectID,
				"recipient": t.Recipient,
			},
		}
	}

	var res txBlockBytes
	err := c.rpc.CallContext(ctx, &res, "unsafe_batchTransaction", sender, params, nil, strconv.FormatUint(gasBudget, 10))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer transaction: %w", err)
	}
	return res.TxBytes, nil
}

// MoveCall builds a transaction calling a Move entry function
func (c *Client) MoveCall(ctx context.Context, sender string, call ports.MoveCallRequest, gasBudget uint64) (string, error) {
	typeArgs := call.TypeArguments
	if typeArgs == nil {
		typeArgs = []string{}
	}
	args := call.Arguments
	if args == nil {
		args = []any{}
	}

	var res txBlockBytes
	err := c.rpc.CallContext(ctx, &res, "unsafe_moveCall", sender, call.Package, call.Module, call.Function, typeArgs, args, nil, strconv.FormatUint(gasBudget, 10))
	if err != nil {
		return "", fmt.Errorf("failed to build move call: %w", err)
	}
	return res.TxBytes, nil
}

type dryRunResponse struct {
	Effects struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
		GasUsed struct {
			ComputationCost string `json:"computationCost"`
			StorageCost     string `json:"storageCost"`
			StorageRebate   string `json:"storageRebate"`
		} `json:"gasUsed"`
	} `json:"effects"`
}

// DryRun executes a transaction without committing it
func (c *Client) DryRun(ctx context.Context, txBytes string) (*ports.DryRunResult, error) {
	var res dryRunResponse
	if err := c.rpc.CallContext(ctx, &res, "sui_dryRunTransactionBlock", txBytes); err != nil {
		return nil, fmt.Errorf("failed to dry run transaction: %w", err)
	}

	gas := res.Effects.GasUsed
	out := &ports.DryRunResult{
		Status: res.Effects.Status.Status,
		Error:  res.Effects.Status.Error,
	}
	var err error
	if out.Gas.ComputationCost, err = parseU64(gas.ComputationCost); err != nil {
		return nil, err
	}
	if out.Gas.StorageCost, err = parseU64(gas.StorageCost); err != nil {
		return nil, err
	}
	if out.Gas.StorageRebate, err = parseU64(gas.StorageRebate); err != nil {
		return nil, err
	}
	return out, nil
}

type executeResponse struct {
	Digest        string          `json:"digest"`
	Effects       json.RawMessage `json:"effects"`
	ObjectChanges json.RawMessage `json:"objectChanges"`
}

// Execute submits a signed transaction and waits for local execution
func (c *Client) Execute(ctx context.Context, txBytes string, signatures []string) (*ports.ExecuteResult, error) {
	options := map[string]bool{"showEffects": true, "showObjectChanges": true}

	var res executeResponse
	err := c.rpc.CallContext(ctx, &res, "sui_executeTransactionBlock", txBytes, signatures, options, "WaitForLocalExecution")
	if err != nil {
		return nil, fmt.Errorf("failed to execute transaction: %w", err)
	}
	return &ports.ExecuteResult{
		Digest:        res.Digest,
		Effects:       res.Effects,
		ObjectChanges: res.ObjectChanges,
	}, nil
}

// MistToSUI converts base units to whole SUI
func MistToSUI(mist decimal.Decimal) decimal.Decimal {
	return mist.Shift(-9)
}

// SUIToMist converts whole SUI to base units, truncating sub-MIST precision
func SUIToMist(sui decimal.Decimal) (uint64, error) {
	mist := sui.Shift(9).Truncate(0)
	if !mist.IsPositive() {
		return 0, fmt.Errorf("amount must be positive")
	}
	if !mist.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount too large")
	}
	return mist.BigInt().Uint64(), nil
}

func parseU64(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid u64 %q: %w", s, err)
	}
	return v, nil
}
