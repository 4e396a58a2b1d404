package service

import (
	"context"
	"fmt"
	"math"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

// TxBuilder serializes a transaction for sender and returns it base64 encoded
type TxBuilder func(ctx context.Context, sender string) (string, error)

// maxGasCoins bounds how many coins are merged to pay for a transfer
const maxGasCoins = 50

// PaySui builds a transfer of amount MIST to recipient, paying gas from the
// same coins.
func PaySui(chain ports.Chain, recipient string, amount, gasBudget uint64) TxBuilder {
	return func(ctx context.Context, sender string) (string, error) {
		coins, err := chain.Coins(ctx, sender, "", maxGasCoins)
		if err != nil {
			return "", err
		}

		if amount > math.MaxUint64-gasBudget {
			return "", fmt.Errorf("%w: amount %d plus gas budget %d overflows", core.ErrInsufficientBalance, amount, gasBudget)
		}
		need := amount + gasBudget
		var ids []string
		var total uint64
		for _, c := range coins {
			if total >= need {
				break
			}
			ids = append(ids, c.CoinObjectID)
			if c.Balance > math.MaxUint64-total {
				total = math.MaxUint64
				continue
			}
			total += c.Balance
		}
		if total < need {
			return "", fmt.Errorf("%w: have %d, need %d", core.ErrInsufficientBalance, total, need)
		}

		return chain.PaySui(ctx, sender, ids, []string{recipient}, []uint64{amount}, gasBudget)
	}
}

// TransferObjects builds a transfer of every object to recipient
func TransferObjects(chain ports.Chain, objectIDs []string, recipient string, gasBudget uint64) TxBuilder {
	return func(ctx context.Context, sender string) (string, error) {
		if len(objectIDs) == 0 {
			return "", fmt.Errorf("no objects to transfer")
		}
		transfers := make([]ports.TransferRequest, len(objectIDs))
		for i, id := range objectIDs {
			transfers[i] = ports.TransferRequest{ObjectID: id, Recipient: recipient}
		}
		return chain.BatchTransfer(ctx, sender, transfers, gasBudget)
	}
}

// MoveCall builds a call to a Move entry function
func MoveCall(chain ports.Chain, call ports.MoveCallRequest, gasBudget uint64) TxBuilder {
	return func(ctx context.Context, sender string) (string, error) {
		return chain.MoveCall(ctx, sender, call, gasBudget)
	}
}
