package invocation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Klingon-tech/klingnet-partnership/internal/storage"
	"github.com/Klingon-tech/klingnet-partnership/internal/wallet"
	"github.com/Klingon-tech/klingnet-partnership/pkg/block"
	"github.com/Klingon-tech/klingnet-partnership/pkg/crypto"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/Klingon-tech/klingnet-partnership/pkg/vm"
	"github.com/stretchr/testify/require"
)

var testContract, _ = types.ParseScriptHash("0x1185f3c0dde8136966b30bed835b78917a78fd96")

// fakeChain stands in for the node: it dry-runs, accepts relays into a
// mempool and mines them into blocks on demand.
type fakeChain struct {
	mu          sync.Mutex
	blocks      []*block.Block
	mempool     []*tx.Transaction
	owners      tx.OwnerResolver
	reject      bool
	fault       bool
	invokeErr   error
	invokeCalls int
	relayCalls  int
	lastOp      string
	lastArgs    []string
}

func newFakeChain() *fakeChain {
	c := &fakeChain{}
	c.mine()
	return c
}

func (c *fakeChain) Height(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(len(c.blocks) - 1), nil
}

func (c *fakeChain) BlockByHeight(_ context.Context, h uint64) (*block.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h >= uint64(len(c.blocks)) {
		return nil, fmt.Errorf("no block %d", h)
	}
	return c.blocks[h], nil
}

func (c *fakeChain) TestInvoke(_ context.Context, contract types.ScriptHash, op string, hexArgs []string) (*tx.Transaction, *vm.InvokeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invokeCalls++
	c.lastOp = op
	c.lastArgs = append([]string(nil), hexArgs...)
	if c.invokeErr != nil {
		return nil, nil, c.invokeErr
	}
	if c.fault {
		return nil, &vm.InvokeResult{State: vm.StateFault}, nil
	}
	script, err := vm.BuildInvocation(contract, op, hexArgs)
	if err != nil {
		return nil, nil, err
	}
	res := &vm.InvokeResult{
		State:       vm.StateHalt,
		GasConsumed: 1000,
		OpCount:     17,
		Stack:       []vm.StackItem{{Type: vm.ByteArrayType, Bytes: []byte("EUR")}},
	}
	return tx.NewBuilder(tx.TypeInvocation).SetScript(script).SetGas(res.GasConsumed).Build(), res, nil
}

func (c *fakeChain) Relay(_ context.Context, t *tx.Transaction) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayCalls++
	if c.reject {
		return false, nil
	}
	if c.owners != nil {
		if err := t.VerifyWitnesses(c.owners); err != nil {
			return false, nil
		}
	}
	c.mempool = append(c.mempool, t)
	return true, nil
}

// mine puts the mempool and any extra transactions into a new block.
func (c *fakeChain) mine(extra ...*tx.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txs := append(c.mempool, extra...)
	c.mempool = nil
	hashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		hashes[i] = t.Hash()
	}
	hdr := &block.Header{Version: 1, Height: uint64(len(c.blocks)), MerkleRoot: block.ComputeMerkleRoot(hashes)}
	if len(c.blocks) > 0 {
		hdr.PrevHash = c.blocks[len(c.blocks)-1].Hash()
	}
	c.blocks = append(c.blocks, block.NewBlock(hdr, txs))
}

func (c *fakeChain) GetTransaction(id types.Hash) (*tx.Transaction, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.blocks {
		for _, t := range b.Transactions {
			if t.Hash() == id {
				return t, b.Header.Height, true
			}
		}
	}
	return nil, 0, false
}

type readyFlag bool

func (r readyFlag) Ready() bool { return bool(r) }

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// newFundedWallet opens a real wallet over chain and funds its default
// address with one coin per value.
func newFundedWallet(t *testing.T, chain *fakeChain, values ...uint64) *wallet.Wallet {
	t.Helper()
	seed, err := wallet.SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "relay.wallet")
	_, err = wallet.CreateFile(path, seed, []byte("pw"), wallet.EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}, 1)
	require.NoError(t, err)

	w, err := wallet.Open(path, []byte("pw"), storage.NewMemory(), chain, wallet.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(w.Close)

	if len(values) > 0 {
		fund := tx.NewBuilder(tx.TypeTransfer).AddInput(types.Outpoint{TxID: types.Hash{0xfe}})
		for _, v := range values {
			fund.AddOutput(v, types.P2PKHScript(w.DefaultAddress()))
		}
		chain.mine(fund.Build())
	}
	require.NoError(t, w.ProcessNewBlocks(context.Background()))
	chain.owners = w
	return w
}

// fakeWallet scripts each wallet step and records which were called.
type fakeWallet struct {
	synced       bool
	insufficient bool
	makeErr      error
	skipSign     bool
	persistErr   error
	key          *crypto.PrivateKey

	makeCalls, signCalls, persistCalls, releaseCalls int
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeWallet{synced: true, key: key}
}

func (w *fakeWallet) IsSynced() bool { return w.synced }

func (w *fakeWallet) MakeTransaction(unsigned *tx.Transaction, fee uint64) (*tx.Transaction, error) {
	w.makeCalls++
	if w.makeErr != nil {
		return nil, w.makeErr
	}
	if w.insufficient {
		return nil, nil
	}
	return tx.FromTransaction(unsigned).AddInput(types.Outpoint{TxID: types.Hash{0x0a}}).Build(), nil
}

func (w *fakeWallet) Sign(sc *tx.SigningContext) error {
	w.signCalls++
	if w.skipSign {
		return nil
	}
	h := sc.Hash()
	sig, err := w.key.Sign(h[:])
	if err != nil {
		return err
	}
	_, err = sc.AddSignature(w.key.PublicKey(), sig)
	return err
}

func (w *fakeWallet) Persist(*tx.Transaction) error {
	w.persistCalls++
	return w.persistErr
}

func (w *fakeWallet) Release(*tx.Transaction) {
	w.releaseCalls++
}

func (w *fakeWallet) OwnerScript(types.Outpoint) (types.Script, bool) {
	return types.P2PKHScript(w.key.Address()), true
}

var errBoom = errors.New("boom")
