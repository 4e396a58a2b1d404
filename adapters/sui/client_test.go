package sui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from a table of canned results
type fakeNode struct {
	mu      sync.Mutex
	results map[string]any
	calls   map[string][]rpcRequest
}

func newFakeNode(t *testing.T, results map[string]any) (*Client, *fakeNode) {
	t.Helper()
	node := &fakeNode{results: results, calls: make(map[string][]rpcRequest)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		node.mu.Lock()
		node.calls[req.Method] = append(node.calls[req.Method], req)
		result, ok := node.results[req.Method]
		node.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, node
}

func (n *fakeNode) params(method string, call int) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method][call].Params
}

func TestCurrentEpoch(t *testing.T) {
	c, _ := newFakeNode(t, map[string]any{
		"suix_getLatestSuiSystemState": map[string]any{"epoch": "412"},
	})

	epoch, err := c.CurrentEpoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(412), epoch)
}

func TestBalance(t *testing.T) {
	c, _ := newFakeNode(t, map[string]any{
		"suix_getBalance": map[string]any{
			"coinType":        CoinTypeSUI,
			"coinObjectCount": 2,
			"totalBalance":    "1500000000",
		},
	})

	b, err := c.Balance(context.Background(), "0x1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, b.CoinObjectCount)
	assert.True(t, b.Amount.Equal(decimal.RequireFromString("1.5")))
}

func TestCallError(t *testing.T) {
	c, _ := newFakeNode(t, map[string]any{})

	_, err := c.CurrentEpoch(context.Background())
	require.Error(t, err)
}

func TestOwnedObjects(t *testing.T) {
	c, node := newFakeNode(t, map[string]any{
		"suix_getOwnedObjects": map[string]any{
			"data": []any{
				map[string]any{"data": map[string]any{"objectId": "0xa", "version": "3", "digest": "d1", "type": "0x2::coin::Coin<0x2::sui::SUI>"}},
				map[string]any{"error": map[string]any{"code": "deleted"}},
			},
			"nextCursor":  "0xa",
			"hasNextPage": true,
		},
	})

	page, err := c.OwnedObjects(context.Background(), "0x1", core.ObjectQuery{StructType: "0x2::coin::Coin", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "0xa", page.Data[0].ObjectID)
	assert.Equal(t, "0xa", page.NextCursor)
	assert.True(t, page.HasNextPage)

	var query map[string]any
	require.NoError(t, json.Unmarshal(node.params("suix_getOwnedObjects", 0)[1], &query))
	assert.Equal(t, map[string]any{"StructType": "0x2::coin::Coin"}, query["filter"])
}

func TestQueryTransactions(t *testing.T) {
	c, node := newFakeNode(t, map[string]any{
		"suix_queryTransactionBlocks": map[string]any{
			"data": []any{
				map[string]any{
					"digest":      "D1",
					"timestampMs": "1700000000000",
					"transaction": map[string]any{"data": map[string]any{"sender": "0x1"}},
					"effects":     map[string]any{"status": map[string]any{"status": "success"}},
				},
			},
		},
	})

	txs, err := c.TransactionsTo(context.Background(), "0x1", 5)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "D1", txs[0].Digest)
	assert.Equal(t, int64(1700000000000), txs[0].Timestamp.UnixMilli())
	assert.Equal(t, "success", txs[0].Status)

	var query map[string]any
	require.NoError(t, json.Unmarshal(node.params("suix_queryTransactionBlocks", 0)[0], &query))
	assert.Equal(t, map[string]any{"ToAddress": "0x1"}, query["filter"])
}

func TestPaySui_SendsStringAmounts(t *testing.T) {
	c, node := newFakeNode(t, map[string]any{
		"unsafe_paySui": map[string]any{"txBytes": "AAEC"},
	})

	tx, err := c.PaySui(context.Background(), "0x1", []string{"0xc"}, []string{"0x2"}, []uint64{5}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "AAEC", tx)

	params := node.params("unsafe_paySui", 0)
	require.Len(t, params, 5)
	assert.JSONEq(t, `["5"]`, string(params[3]))
	assert.JSONEq(t, `"1000"`, string(params[4]))
}

func TestBatchTransfer(t *testing.T) {
	c, node := newFakeNode(t, map[string]any{
		"unsafe_batchTransaction": map[string]any{"txBytes": "AAED"},
	})

	tx, err := c.BatchTransfer(context.Background(), "0x1", []ports.TransferRequest{{ObjectID: "0xo", Recipient: "0x2"}}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "AAED", tx)
	assert.JSONEq(t, `[{"transferObjectRequestParams":{"objectId":"0xo","recipient":"0x2"}}]`, string(node.params("unsafe_batchTransaction", 0)[1]))
}

func TestDryRun(t *testing.T) {
	c, _ := newFakeNode(t, map[string]any{
		"sui_dryRunTransactionBlock": map[string]any{
			"effects": map[string]any{
				"status":  map[string]any{"status": "failure", "error": "InsufficientGas"},
				"gasUsed": map[string]any{"computationCost": "1000", "storageCost": "2000", "storageRebate": "500"},
			},
		},
	})

	res, err := c.DryRun(context.Background(), "AAEC")
	require.NoError(t, err)
	assert.Equal(t, "failure", res.Status)
	assert.Equal(t, "InsufficientGas", res.Error)
	assert.Equal(t, uint64(1000), res.Gas.ComputationCost)
	assert.Equal(t, uint64(2000), res.Gas.StorageCost)
}

func TestExecute(t *testing.T) {
	c, node := newFakeNode(t, map[string]any{
		"sui_executeTransactionBlock": map[string]any{
			"digest":        "DIG",
			"effects":       map[string]any{"status": map[string]any{"status": "success"}},
			"objectChanges": []any{},
		},
	})

	res, err := c.Execute(context.Background(), "AAEC", []string{"sig"})
	require.NoError(t, err)
	assert.Equal(t, "DIG", res.Digest)
	assert.JSONEq(t, `{"status":{"status":"success"}}`, string(res.Effects))

	params := node.params("sui_executeTransactionBlock", 0)
	assert.JSONEq(t, `["sig"]`, string(params[1]))
	assert.JSONEq(t, `{"showEffects":true,"showObjectChanges":true}`, string(params[2]))
}

func TestSUIToMist(t *testing.T) {
	mist, err := SUIToMist(decimal.RequireFromString("1.25"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000_000), mist)

	_, err = SUIToMist(decimal.Zero)
	require.Error(t, err)
	_, err = SUIToMist(decimal.RequireFromString("0.0000000001"))
	require.Error(t, err)
	_, err = SUIToMist(decimal.RequireFromString("100000000000"))
	require.Error(t, err)
}
