package rpcclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-partnership/pkg/block"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/Klingon-tech/klingnet-partnership/pkg/vm"
)

// Param and result shapes of the node API.
type (
	HeightParam struct {
		Height uint64 `json:"height"`
	}
	HashParam struct {
		Hash string `json:"hash"`
	}
	TxIDParam struct {
		TxID string `json:"tx_id"`
	}
	ScriptHashParam struct {
		ScriptHash string `json:"script_hash"`
	}
	TxSubmitParam struct {
		Transaction *tx.Transaction `json:"transaction"`
	}
	TestInvokeParam struct {
		ScriptHash string `json:"script_hash"`
		Script     string `json:"script"`
	}

	// ChainInfo is returned by chain_getInfo.
	ChainInfo struct {
		ChainID string `json:"chain_id"`
		Height  uint64 `json:"height"`
		TipHash string `json:"tip_hash"`
	}

	// TxInfo is a confirmed transaction with its block height.
	TxInfo struct {
		Transaction *tx.Transaction `json:"transaction"`
		Height      uint64          `json:"height"`
	}

	// Unspent is an unspent output of a transaction.
	Unspent struct {
		TxID   string       `json:"tx_id"`
		Index  uint32       `json:"index"`
		Value  uint64       `json:"value"`
		Script types.Script `json:"script"`
	}

	// ContractInfo describes a deployed contract.
	ContractInfo struct {
		ScriptHash string `json:"script_hash"`
		Name       string `json:"name"`
		Version    string `json:"version"`
	}

	// SubmitResult is returned by tx_submit.
	SubmitResult struct {
		TxHash string `json:"tx_hash"`
	}
)

// ChainInfo returns the node's chain summary.
func (c *Client) ChainInfo(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	if err := c.Call(ctx, "chain_getInfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Height returns the node's tip height.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	info, err := c.ChainInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Height, nil
}

// BlockByHeight fetches the block at height.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*block.Block, error) {
	var blk block.Block
	if err := c.Call(ctx, "chain_getBlockByHeight", HeightParam{Height: height}, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// GetTransaction fetches a confirmed transaction. A transaction the node
// does not know yields (nil, nil).
func (c *Client) GetTransaction(ctx context.Context, id types.Hash) (*TxInfo, error) {
	var info TxInfo
	err := c.Call(ctx, "chain_getTransaction", HashParam{Hash: id.String()}, &info)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Transaction == nil {
		return nil, nil
	}
	return &info, nil
}

// GetUnspent lists the still-unspent outputs of a transaction.
func (c *Client) GetUnspent(ctx context.Context, id types.Hash) ([]Unspent, error) {
	var out []Unspent
	err := c.Call(ctx, "utxo_getByTx", TxIDParam{TxID: id.String()}, &out)
	if IsNotFound(err) {
		return []Unspent{}, nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Unspent{}
	}
	return out, nil
}

// Relay submits a signed transaction. A node rejection is reported as
// false together with the node's reason; transport failures are returned
// as errors with false.
func (c *Client) Relay(ctx context.Context, t *tx.Transaction) (bool, error) {
	var res SubmitResult
	err := c.Call(ctx, "tx_submit", TxSubmitParam{Transaction: t}, &res)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false, rpcErr
	}
	if err != nil {
		return false, err
	}
	if want := t.Hash().String(); res.TxHash != "" && res.TxHash != want {
		return false, fmt.Errorf("node accepted %s, expected %s", res.TxHash, want)
	}
	return true, nil
}

// TestInvoke runs operation on contract with hex-encoded arguments without
// committing it. On success it returns an unsigned invocation transaction
// carrying the script and consumed gas. A faulted run yields a nil
// transaction and a result without stack.
func (c *Client) TestInvoke(ctx context.Context, contract types.ScriptHash, operation string, hexArgs []string) (*tx.Transaction, *vm.InvokeResult, error) {
	script, err := vm.BuildInvocation(contract, operation, hexArgs)
	if err != nil {
		return nil, nil, fmt.Errorf("build script: %w", err)
	}
	var res vm.InvokeResult
	params := TestInvokeParam{ScriptHash: contract.String(), Script: hex.EncodeToString(script)}
	if err := c.Call(ctx, "contract_testInvoke", params, &res); err != nil {
		return nil, nil, err
	}
	if res.Faulted() {
		res.Stack = nil
		return nil, &res, nil
	}
	if res.Stack == nil {
		res.Stack = []vm.StackItem{}
	}
	unsigned := tx.NewBuilder(tx.TypeInvocation).
		SetScript(script).
		SetGas(res.GasConsumed).
		Build()
	return unsigned, &res, nil
}

// GetContract looks up a deployed contract, returning (nil, nil) when the
// node has no such contract.
func (c *Client) GetContract(ctx context.Context, hash types.ScriptHash) (*ContractInfo, error) {
	var info ContractInfo
	err := c.Call(ctx, "contract_get", ScriptHashParam{ScriptHash: hash.String()}, &info)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}
