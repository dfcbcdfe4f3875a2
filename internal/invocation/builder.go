package invocation

import (
	"context"
	"fmt"

	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/Klingon-tech/klingnet-partnership/pkg/vm"
)

// Invoker runs a contract call against chain state without committing it.
type Invoker interface {
	TestInvoke(ctx context.Context, contract types.ScriptHash, operation string, hexArgs []string) (*tx.Transaction, *vm.InvokeResult, error)
}

// SyncChecker reports whether wallet state is current.
type SyncChecker interface {
	IsSynced() bool
}

// Builder prepares dry runs for one contract.
type Builder struct {
	contract types.ScriptHash
	invoker  Invoker
	wallet   SyncChecker
	metrics  *metrics.Metrics
}

// NewBuilder creates a builder for contract. m may be nil.
func NewBuilder(contract types.ScriptHash, invoker Invoker, wallet SyncChecker, m *metrics.Metrics) *Builder {
	return &Builder{contract: contract, invoker: invoker, wallet: wallet, metrics: m}
}

// NewRequest returns a request for command on the configured contract.
func (b *Builder) NewRequest(command string, args ...string) Request {
	return Request{Contract: b.contract, Command: command, Args: args}
}

// Build dry-runs req and returns the result for Pipeline.Submit. The wallet
// must be synced; this is checked before anything is encoded.
func (b *Builder) Build(ctx context.Context, req Request) (dr *DryRun, err error) {
	defer func() { b.metrics.DryRun(Kind(err)) }()

	if !b.wallet.IsSynced() {
		return nil, ErrNotSynced
	}
	t, res, err := b.dryRun(ctx, req)
	if err != nil {
		return nil, err
	}
	if t == nil {
		klog.Builder.Info().Str("command", req.Command).Str("state", res.State).Msg("Contract rejected dry run")
		return nil, ErrDryRunRejected
	}

	dr = &DryRun{
		Request: req,
		Tx:      t,
		Fee:     res.GasConsumed,
		Results: res.Stack,
		OpCount: res.OpCount,
	}
	klog.Builder.Debug().
		Str("command", req.Command).
		Int("args", len(req.Args)).
		Uint64("fee", dr.Fee).
		Int("ops", dr.OpCount).
		Msg("Dry run complete")
	return dr, nil
}

// Query dry-runs a read-only call and returns its results as strings.
// Queries never reach the pipeline, so wallet sync is not required.
func (b *Builder) Query(ctx context.Context, req Request) (out []string, err error) {
	defer func() { b.metrics.DryRun(Kind(err)) }()

	_, res, err := b.dryRun(ctx, req)
	if err != nil {
		return nil, err
	}
	return stackStrings(res.Stack), nil
}

// dryRun encodes req and calls the invoker. A missing result or stack is a
// contract rejection; an invoker error is a transport failure.
func (b *Builder) dryRun(ctx context.Context, req Request) (*tx.Transaction, *vm.InvokeResult, error) {
	if req.Command == "" {
		return nil, nil, fmt.Errorf("%w: empty command", ErrInvalidRequest)
	}
	contract := req.Contract
	if contract.IsZero() {
		contract = b.contract
	}
	t, res, err := b.invoker.TestInvoke(ctx, contract, req.Command, EncodeArgs(req.Args))
	if err != nil {
		klog.Builder.Warn().Err(err).Str("command", req.Command).Msg("Dry run failed")
		return nil, nil, fmt.Errorf("%w: %v", ErrDryRunFailed, err)
	}
	if res == nil || res.Stack == nil {
		return nil, nil, ErrDryRunRejected
	}
	return t, res, nil
}
