package invocation

import (
	"context"
	"fmt"

	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Wallet funds, signs and records transactions.
type Wallet interface {
	IsSynced() bool
	// MakeTransaction returns nil when the wallet cannot cover fee.
	MakeTransaction(unsigned *tx.Transaction, fee uint64) (*tx.Transaction, error)
	Sign(sc *tx.SigningContext) error
	Persist(t *tx.Transaction) error
	// Release frees coins picked by MakeTransaction for a transaction
	// that will not be relayed.
	Release(t *tx.Transaction)
	OwnerScript(op types.Outpoint) (types.Script, bool)
}

// Relayer broadcasts signed transactions.
type Relayer interface {
	Relay(ctx context.Context, t *tx.Transaction) (bool, error)
}

// Readiness reports whether the sync loop has completed a pass.
type Readiness interface {
	Ready() bool
}

// Pipeline drives a dry run through build, sign, verify, relay and persist.
type Pipeline struct {
	wallet  Wallet
	relayer Relayer
	ready   Readiness
	metrics *metrics.Metrics
}

// NewPipeline creates a pipeline. m may be nil.
func NewPipeline(wallet Wallet, relayer Relayer, ready Readiness, m *metrics.Metrics) *Pipeline {
	return &Pipeline{wallet: wallet, relayer: relayer, ready: ready, metrics: m}
}

// Submit turns dr into a relayed transaction and returns its 64-hex id.
// Steps run in order and stop at the first failure; nothing is retried.
// A dry run is consumed by its first Submit whatever the outcome.
func (p *Pipeline) Submit(ctx context.Context, dr *DryRun) (id string, err error) {
	defer klog.Benchmark(klog.Pipeline, "submit")()
	defer func() {
		p.metrics.Submit(Kind(err))
		if err != nil {
			klog.Pipeline.Warn().Err(err).Str("kind", Kind(err)).Msg("Submit failed")
		}
	}()

	if !p.ready.Ready() {
		return "", ErrNotSynced
	}
	if dr == nil || dr.Tx == nil {
		return "", ErrDryRunRejected
	}
	if !dr.claim() {
		return "", ErrDryRunConsumed
	}

	// Build.
	funded, err := p.wallet.MakeTransaction(dr.Tx, dr.Fee)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	if funded == nil {
		return "", ErrInsufficientFunds
	}
	relayed := false
	defer func() {
		if !relayed {
			p.wallet.Release(funded)
		}
	}()

	// Sign. The context lives only for this attempt.
	sc, err := tx.NewSigningContext(funded, p.wallet)
	if err != nil {
		return "", fmt.Errorf("signing context: %w", err)
	}
	if err := p.wallet.Sign(sc); err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	// Verify.
	if !sc.Completed() {
		return "", ErrIncompleteSignature
	}
	if err := sc.ApplyWitnesses(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIncompleteSignature, err)
	}

	// Relay.
	ok, err := p.relayer.Relay(ctx, funded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayRejected, err)
	}
	if !ok {
		return "", ErrRelayRejected
	}
	relayed = true
	id = funded.Hash().String()

	// Persist. Failures are logged only: the relay cannot be undone.
	if err := p.wallet.Persist(funded); err != nil {
		klog.Pipeline.Error().Err(err).Str("txid", id).Msg("Failed to persist relayed transaction")
	}

	klog.Pipeline.Info().
		Str("txid", id).
		Str("command", dr.Request.Command).
		Int("inputs", len(funded.Inputs)).
		Uint64("fee", dr.Fee).
		Msg("Transaction relayed")
	return id, nil
}
