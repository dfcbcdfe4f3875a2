package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-partnership/internal/storage"
	"github.com/Klingon-tech/klingnet-partnership/pkg/block"
	"github.com/Klingon-tech/klingnet-partnership/pkg/crypto"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Wallet errors.
var (
	ErrBadPassword   = errors.New("wrong wallet password")
	ErrCorruptWallet = errors.New("wallet file does not match its seed")
	ErrUnexpectedBlk = errors.New("node returned unexpected block")
)

// Ledger is the part of the node the wallet reads blocks from.
type Ledger interface {
	Height(ctx context.Context) (uint64, error)
	BlockByHeight(ctx context.Context, height uint64) (*block.Block, error)
}

// Options tune fee and sync behavior.
type Options struct {
	FeeRate    uint64        // network fee, base units per byte
	BatchSize  int           // blocks absorbed per ProcessNewBlocks call
	PendingTTL time.Duration // unconfirmed relays older than this free their inputs
}

// DefaultOptions returns the options used by the daemon.
func DefaultOptions() Options {
	return Options{FeeRate: 10, BatchSize: 500, PendingTTL: time.Hour}
}

// Account is a P2PKH account of the wallet.
type Account struct {
	Index   uint32
	Name    string
	Address types.Address
}

// Balance splits the wallet's coins into spendable and locked by
// unconfirmed relays.
type Balance struct {
	Spendable uint64
	Locked    uint64
}

// Wallet holds decrypted signing keys and the coin state derived from
// absorbed blocks. It is safe for concurrent use.
type Wallet struct {
	mu     sync.RWMutex
	syncMu sync.Mutex

	ledger Ledger
	st     *store
	opts   Options
	now    func() time.Time

	accounts []Account
	byAddr   map[types.Address]*crypto.PrivateKey
	byPubKey map[string]*crypto.PrivateKey
	owned    map[string]types.Script
	change   types.Script

	// reserved holds inputs of funded transactions that are not yet
	// persisted or released.
	reserved map[types.Outpoint]struct{}

	synced      bool
	chainHeight uint64
}

// Open decrypts the wallet file at path and attaches it to db and ledger.
func Open(path string, password []byte, db storage.DB, ledger Ledger, opts Options) (*Wallet, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := f.Seed(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPassword, err)
	}
	defer zero(seed)

	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	w := &Wallet{
		ledger:   ledger,
		st:       &store{db: storage.NewPrefixDB(db, []byte("wallet/"))},
		opts:     opts,
		now:      time.Now,
		byAddr:   make(map[types.Address]*crypto.PrivateKey),
		byPubKey: make(map[string]*crypto.PrivateKey),
		owned:    make(map[string]types.Script),
		reserved: make(map[types.Outpoint]struct{}),
	}

	for _, e := range f.Accounts {
		hd, err := master.DeriveAccount(e.Index)
		if err != nil {
			return nil, err
		}
		if hd.Address().String() != e.Address {
			return nil, fmt.Errorf("%w: account %d", ErrCorruptWallet, e.Index)
		}
		key, err := hd.Signer()
		if err != nil {
			return nil, err
		}
		addr := hd.Address()
		w.accounts = append(w.accounts, Account{Index: e.Index, Name: e.Name, Address: addr})
		w.byAddr[addr] = key
		w.byPubKey[hex.EncodeToString(key.PublicKey())] = key
		script := types.P2PKHScript(addr)
		w.owned[script.Key()] = script
	}
	w.change = types.P2PKHScript(w.accounts[0].Address)

	for _, e := range f.MultiSig {
		script, err := e.Script()
		if err != nil {
			return nil, err
		}
		if len(w.keysFor(script)) == 0 {
			return nil, fmt.Errorf("multisig %q: wallet holds none of its keys", e.Name)
		}
		w.owned[script.Key()] = script
	}
	return w, nil
}

// Close wipes the decrypted keys.
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, k := range w.byAddr {
		k.Zero()
	}
	w.byAddr = map[types.Address]*crypto.PrivateKey{}
	w.byPubKey = map[string]*crypto.PrivateKey{}
}

// Accounts returns the wallet's P2PKH accounts.
func (w *Wallet) Accounts() []Account {
	out := make([]Account, len(w.accounts))
	copy(out, w.accounts)
	return out
}

// DefaultAddress is where change is sent.
func (w *Wallet) DefaultAddress() types.Address {
	return w.accounts[0].Address
}

// IsSynced reports whether the last pass reached the chain tip.
func (w *Wallet) IsSynced() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.synced
}

// Height is the last absorbed block height.
func (w *Wallet) Height() uint64 {
	next, err := w.st.nextHeight()
	if err != nil || next == 0 {
		return 0
	}
	return next - 1
}

// ChainHeight is the node tip seen by the last pass.
func (w *Wallet) ChainHeight() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chainHeight
}

// ProcessNewBlocks absorbs blocks from the next unabsorbed height toward
// the node tip, at most BatchSize per call. Each block is applied
// atomically together with the sync height, so an interrupted pass resumes
// where it stopped.
func (w *Wallet) ProcessNewBlocks(ctx context.Context) error {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	tip, err := w.ledger.Height(ctx)
	if err != nil {
		return fmt.Errorf("chain height: %w", err)
	}
	w.mu.Lock()
	w.chainHeight = tip
	w.mu.Unlock()

	next, err := w.st.nextHeight()
	if err != nil {
		return fmt.Errorf("sync height: %w", err)
	}
	for n := 0; next <= tip && n < w.opts.BatchSize; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		blk, err := w.ledger.BlockByHeight(ctx, next)
		if err != nil {
			return fmt.Errorf("fetch block %d: %w", next, err)
		}
		if blk == nil || blk.Header == nil || blk.Header.Height != next {
			return fmt.Errorf("%w: want height %d", ErrUnexpectedBlk, next)
		}
		if err := blk.Validate(); err != nil {
			return fmt.Errorf("block %d: %w", next, err)
		}
		w.mu.Lock()
		err = w.absorb(blk)
		w.mu.Unlock()
		if err != nil {
			return fmt.Errorf("absorb block %d: %w", next, err)
		}
		next++
	}

	w.mu.Lock()
	w.synced = next > tip
	w.mu.Unlock()
	return nil
}

func (w *Wallet) absorb(blk *block.Block) error {
	height := blk.Header.Height
	b := w.st.db.NewBatch()
	for _, t := range blk.Transactions {
		id := t.Hash()
		for _, in := range t.Inputs {
			op := in.PrevOut.Bytes()
			if err := b.Delete(key(prefixUTXO, op)); err != nil {
				return err
			}
			if err := b.Delete(key(prefixLock, op)); err != nil {
				return err
			}
		}
		for i, out := range t.Outputs {
			if _, ok := w.owned[out.Script.Key()]; !ok {
				continue
			}
			op := types.Outpoint{TxID: id, Index: uint32(i)}
			u := UTXO{Outpoint: op, Value: out.Value, Script: out.Script, Height: height}
			if err := putJSON(b, key(prefixUTXO, op.Bytes()), u); err != nil {
				return err
			}
		}
		rec, ok, err := w.st.record(id)
		if err != nil {
			return err
		}
		if ok && !rec.Confirmed {
			rec.Confirmed = true
			rec.Height = height
			if err := putJSON(b, key(prefixRecord, id[:]), rec); err != nil {
				return err
			}
		}
	}
	if err := setNextHeight(b, height+1); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return err
	}
	for _, t := range blk.Transactions {
		for _, in := range t.Inputs {
			delete(w.reserved, in.PrevOut)
		}
	}
	return nil
}

// MakeTransaction funds unsigned with wallet coins covering fee plus the
// network fee, returning change to the default address. It returns a nil
// transaction when the spendable balance is too small. Coins locked by
// unconfirmed relays are not selected.
//
// The selected inputs stay reserved until Persist or Release, so
// concurrent calls never pick the same coin.
func (w *Wallet) MakeTransaction(unsigned *tx.Transaction, fee uint64) (*tx.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	spendable, _, err := w.partition()
	if err != nil {
		return nil, err
	}
	outTotal, err := unsigned.TotalOutputValue()
	if err != nil {
		return nil, err
	}
	numOut := len(unsigned.Outputs) + 1
	required := func(inputs int) uint64 {
		need := outTotal + fee + tx.EstimateTxFee(inputs, numOut, len(unsigned.Script), w.opts.FeeRate)
		if need == 0 {
			need = 1
		}
		return need
	}

	var sel *CoinSelection
	for inputs := 1; ; {
		sel, err = SelectCoins(spendable, required(inputs))
		if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrNoUTXOs) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if len(sel.Inputs) <= inputs {
			break
		}
		inputs = len(sel.Inputs)
	}

	b := tx.FromTransaction(unsigned).SetGas(fee)
	for _, u := range sel.Inputs {
		b.AddInput(u.Outpoint)
	}
	spent := required(len(sel.Inputs))
	if change := sel.Total - spent; change > 0 {
		b.AddOutput(change, w.change)
	}
	funded := b.Build()
	if err := funded.Validate(); err != nil {
		return nil, fmt.Errorf("funded transaction: %w", err)
	}
	for _, u := range sel.Inputs {
		w.reserved[u.Outpoint] = struct{}{}
	}
	return funded, nil
}

// Release frees the inputs reserved for t by MakeTransaction. It is used
// when t will not be relayed.
func (w *Wallet) Release(t *tx.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, in := range t.Inputs {
		delete(w.reserved, in.PrevOut)
	}
}

// partition splits owned coins into spendable and locked. Reserved coins
// count as locked.
func (w *Wallet) partition() (spendable, locked []UTXO, err error) {
	utxos, err := w.st.utxos()
	if err != nil {
		return nil, nil, fmt.Errorf("load utxos: %w", err)
	}
	locks, err := w.st.locked()
	if err != nil {
		return nil, nil, fmt.Errorf("load locks: %w", err)
	}
	for _, u := range utxos {
		_, isLocked := locks[u.Outpoint]
		_, isReserved := w.reserved[u.Outpoint]
		if isLocked || isReserved {
			locked = append(locked, u)
		} else {
			spendable = append(spendable, u)
		}
	}
	return spendable, locked, nil
}

// Balance returns the spendable and locked totals.
func (w *Wallet) Balance() (Balance, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	spendable, locked, err := w.partition()
	if err != nil {
		return Balance{}, err
	}
	var bal Balance
	for _, u := range spendable {
		bal.Spendable += u.Value
	}
	for _, u := range locked {
		bal.Locked += u.Value
	}
	return bal, nil
}

// OwnerScript returns the locking script of a wallet coin.
func (w *Wallet) OwnerScript(op types.Outpoint) (types.Script, bool) {
	u, ok, err := w.st.utxo(op)
	if err != nil || !ok {
		return types.Script{}, false
	}
	return u.Script, true
}

func (w *Wallet) keysFor(script types.Script) []*crypto.PrivateKey {
	switch script.Type {
	case types.ScriptTypeP2PKH:
		if k, ok := w.byAddr[crypto.AddressFromScript(script)]; ok {
			return []*crypto.PrivateKey{k}
		}
	case types.ScriptTypeMultiSig:
		_, keys, err := script.MultiSigParams()
		if err != nil {
			return nil
		}
		var out []*crypto.PrivateKey
		for _, pk := range keys {
			if k, ok := w.byPubKey[hex.EncodeToString(pk)]; ok {
				out = append(out, k)
			}
		}
		return out
	}
	return nil
}

// Sign adds a signature from every wallet key relevant to sc. Whether the
// result is complete is for the caller to check.
func (w *Wallet) Sign(sc *tx.SigningContext) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	hash := sc.Hash()
	for _, script := range sc.Scripts() {
		for _, k := range w.keysFor(script) {
			sig, err := k.Sign(hash[:])
			if err != nil {
				return fmt.Errorf("sign: %w", err)
			}
			if _, err := sc.AddSignature(k.PublicKey(), sig); err != nil {
				return fmt.Errorf("add signature: %w", err)
			}
		}
	}
	return nil
}

// Persist records a relayed transaction as unconfirmed and locks its
// inputs until a block confirms it.
func (w *Wallet) Persist(t *tx.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := t.Hash()
	b := w.st.db.NewBatch()
	rec := Record{Tx: t, CreatedAt: w.now().UTC()}
	if err := putJSON(b, key(prefixRecord, id[:]), rec); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		if err := b.Put(key(prefixLock, in.PrevOut.Bytes()), id[:]); err != nil {
			return err
		}
	}
	if err := b.Commit(); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		delete(w.reserved, in.PrevOut)
	}
	return nil
}

// Record returns a relayed transaction by id.
func (w *Wallet) Record(id types.Hash) (*Record, bool, error) {
	return w.st.record(id)
}

// Checkpoint releases inputs of relays that stayed unconfirmed past
// PendingTTL and stores a sync summary.
func (w *Wallet) Checkpoint() (Checkpoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	recs, err := w.st.records()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load records: %w", err)
	}
	locks, err := w.st.locked()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load locks: %w", err)
	}

	now := w.now().UTC()
	b := w.st.db.NewBatch()
	pending := 0
	for _, r := range recs {
		if r.Confirmed {
			continue
		}
		if w.opts.PendingTTL <= 0 || now.Sub(r.CreatedAt) < w.opts.PendingTTL {
			pending++
			continue
		}
		id := r.Tx.Hash()
		for _, in := range r.Tx.Inputs {
			if locks[in.PrevOut] == id {
				if err := b.Delete(key(prefixLock, in.PrevOut.Bytes())); err != nil {
					return Checkpoint{}, err
				}
			}
		}
		if err := b.Delete(key(prefixRecord, id[:])); err != nil {
			return Checkpoint{}, err
		}
	}

	next, err := w.st.nextHeight()
	if err != nil {
		return Checkpoint{}, err
	}
	cp := Checkpoint{ChainHeight: w.chainHeight, Pending: pending, Time: now}
	if next > 0 {
		cp.Height = next - 1
	}
	if err := putJSON(b, keyCheckpt, cp); err != nil {
		return Checkpoint{}, err
	}
	if err := b.Commit(); err != nil {
		return Checkpoint{}, fmt.Errorf("commit checkpoint: %w", err)
	}
	return cp, nil
}
