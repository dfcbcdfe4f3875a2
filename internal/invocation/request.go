package invocation

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/Klingon-tech/klingnet-partnership/pkg/tx"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/Klingon-tech/klingnet-partnership/pkg/vm"
)

// Request is a call of Command on Contract with positional arguments.
// Arguments are plain business values; they are hex-encoded here, never
// taken as pre-encoded bytes.
type Request struct {
	Contract types.ScriptHash
	Command  string
	Args     []string
}

// EncodeArgs hex-encodes each argument's UTF-8 bytes in order.
func EncodeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = hex.EncodeToString([]byte(a))
	}
	return out
}

// DecodeArgs reverses EncodeArgs.
func DecodeArgs(hexArgs []string) ([]string, error) {
	out := make([]string, len(hexArgs))
	for i, h := range hexArgs {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = string(b)
	}
	return out, nil
}

// DryRun is the result of one test invocation. It can be submitted once.
type DryRun struct {
	Request Request
	Tx      *tx.Transaction
	Fee     uint64
	Results []vm.StackItem
	OpCount int

	consumed atomic.Bool
}

// claim marks the dry run used, reporting false if it already was.
func (d *DryRun) claim() bool {
	return d.consumed.CompareAndSwap(false, true)
}

// Consumed reports whether the dry run has been submitted.
func (d *DryRun) Consumed() bool {
	return d.consumed.Load()
}

// ResultStrings renders the result stack for display.
func (d *DryRun) ResultStrings() []string {
	return stackStrings(d.Results)
}

func stackStrings(items []vm.StackItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.String()
	}
	return out
}
