package rpcclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-partnership/pkg/block"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/Klingon-tech/klingnet-partnership/pkg/vm"
	"github.com/stretchr/testify/require"
)

// fakeNode answers JSON-RPC calls from a method table.
type fakeNode struct {
	t       *testing.T
	methods map[string]func(params json.RawMessage) (interface{}, *RPCError)
	calls   []string
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		ID     int64           `json:"id"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	f.calls = append(f.calls, req.Method)

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	h, ok := f.methods[req.Method]
	if !ok {
		resp["error"] = &RPCError{Code: -32601, Message: "method not found"}
	} else if result, rpcErr := h(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func newFakeNode(t *testing.T) (*fakeNode, *Client) {
	t.Helper()
	node := &fakeNode{t: t, methods: map[string]func(json.RawMessage) (interface{}, *RPCError){}}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	return node, New(srv.URL)
}

var testContract, _ = types.ParseScriptHash("0x1185f3c0dde8136966b30bed835b78917a78fd96")

func TestHeightAndBlock(t *testing.T) {
	node, c := newFakeNode(t)
	ctx := context.Background()

	blk := block.NewBlock(&block.Header{Version: 1, Height: 7}, []*tx.Transaction{
		tx.NewBuilder(tx.TypeTransfer).AddOutput(5, types.P2PKHScript(types.Address{1})).Build(),
	})
	node.methods["chain_getInfo"] = func(json.RawMessage) (interface{}, *RPCError) {
		return ChainInfo{ChainID: "klingnet-testnet", Height: 42}, nil
	}
	node.methods["chain_getBlockByHeight"] = func(p json.RawMessage) (interface{}, *RPCError) {
		var hp HeightParam
		require.NoError(t, json.Unmarshal(p, &hp))
		require.Equal(t, uint64(7), hp.Height)
		return blk, nil
	}

	h, err := c.Height(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(42), h)

	got, err := c.BlockByHeight(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.Header.Height)
	require.Len(t, got.Transactions, 1)
	require.Equal(t, blk.Transactions[0].Hash(), got.Transactions[0].Hash())
}

func TestGetTransaction(t *testing.T) {
	node, c := newFakeNode(t)
	known := tx.NewBuilder(tx.TypeInvocation).SetScript([]byte{1}).Build()

	node.methods["chain_getTransaction"] = func(p json.RawMessage) (interface{}, *RPCError) {
		var hp HashParam
		require.NoError(t, json.Unmarshal(p, &hp))
		if hp.Hash != known.Hash().String() {
			return nil, &RPCError{Code: CodeNotFound, Message: "transaction not found"}
		}
		return TxInfo{Transaction: known, Height: 12}, nil
	}
	node.methods["utxo_getByTx"] = func(json.RawMessage) (interface{}, *RPCError) {
		return []Unspent{{TxID: known.Hash().String(), Index: 0, Value: 99}}, nil
	}

	info, err := c.GetTransaction(context.Background(), known.Hash())
	require.NoError(t, err)
	require.Equal(t, uint64(12), info.Height)
	require.Equal(t, known.Hash(), info.Transaction.Hash())

	missing, err := c.GetTransaction(context.Background(), types.Hash{0x01})
	require.NoError(t, err)
	require.Nil(t, missing)

	unspent, err := c.GetUnspent(context.Background(), known.Hash())
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	require.Equal(t, uint64(99), unspent[0].Value)
}

func TestRelay(t *testing.T) {
	node, c := newFakeNode(t)
	signed := tx.NewBuilder(tx.TypeInvocation).SetScript([]byte{1}).Build()

	accept := true
	node.methods["tx_submit"] = func(p json.RawMessage) (interface{}, *RPCError) {
		var sp TxSubmitParam
		require.NoError(t, json.Unmarshal(p, &sp))
		require.Equal(t, signed.Hash(), sp.Transaction.Hash())
		if !accept {
			return nil, &RPCError{Code: -32000, Message: "double spend"}
		}
		return SubmitResult{TxHash: signed.Hash().String()}, nil
	}

	ok, err := c.Relay(context.Background(), signed)
	require.NoError(t, err)
	require.True(t, ok)

	accept = false
	ok, err = c.Relay(context.Background(), signed)
	require.False(t, ok)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, "double spend", rpcErr.Message)
}

func TestTestInvoke(t *testing.T) {
	node, c := newFakeNode(t)
	args := []string{hex.EncodeToString([]byte("EUR"))}
	wantScript, err := vm.BuildInvocation(testContract, "create", args)
	require.NoError(t, err)

	state := vm.StateHalt
	node.methods["contract_testInvoke"] = func(p json.RawMessage) (interface{}, *RPCError) {
		var ip TestInvokeParam
		require.NoError(t, json.Unmarshal(p, &ip))
		require.Equal(t, testContract.String(), ip.ScriptHash)
		require.Equal(t, hex.EncodeToString(wantScript), ip.Script)
		return vm.InvokeResult{
			State:       state,
			GasConsumed: 1500,
			OpCount:     31,
			Stack:       []vm.StackItem{{Type: vm.ByteArrayType, Bytes: []byte("ok")}},
		}, nil
	}

	unsigned, res, err := c.TestInvoke(context.Background(), testContract, "create", args)
	require.NoError(t, err)
	require.NotNil(t, unsigned)
	require.Equal(t, tx.TypeInvocation, unsigned.Type)
	require.Equal(t, tx.HexBytes(wantScript), unsigned.Script)
	require.Equal(t, uint64(1500), unsigned.Gas)
	require.Equal(t, 31, res.OpCount)
	require.Equal(t, "ok", res.Stack[0].String())

	state = "HALT, BREAK, FAULT"
	unsigned, res, err = c.TestInvoke(context.Background(), testContract, "create", args)
	require.NoError(t, err)
	require.Nil(t, unsigned)
	require.Nil(t, res.Stack)

	_, _, err = c.TestInvoke(context.Background(), testContract, "create", []string{"not-hex"})
	require.Error(t, err)
}

func TestGetContract(t *testing.T) {
	node, c := newFakeNode(t)
	node.methods["contract_get"] = func(p json.RawMessage) (interface{}, *RPCError) {
		var sp ScriptHashParam
		require.NoError(t, json.Unmarshal(p, &sp))
		if sp.ScriptHash != testContract.String() {
			return nil, &RPCError{Code: CodeNotFound, Message: "unknown contract"}
		}
		return ContractInfo{ScriptHash: sp.ScriptHash, Name: "partnership"}, nil
	}

	info, err := c.GetContract(context.Background(), testContract)
	require.NoError(t, err)
	require.Equal(t, "partnership", info.Name)

	info, err = c.GetContract(context.Background(), types.ScriptHash{})
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestCall_Errors(t *testing.T) {
	_, c := newFakeNode(t)
	err := c.Call(context.Background(), "nope", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
	require.False(t, IsNotFound(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, c.Call(ctx, "chain_getInfo", nil, nil))

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer slow.Close()
	_, err = NewWithTimeout(slow.URL, 20*time.Millisecond).Height(context.Background())
	require.Error(t, err)
}
