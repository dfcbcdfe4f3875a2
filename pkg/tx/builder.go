package tx

import "github.com/Klingon-tech/klingnet-partnership/pkg/types"

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a builder for a transaction of the given type.
func NewBuilder(t Type) *Builder {
	return &Builder{
		tx: &Transaction{Version: 1, Type: t},
	}
}

// FromTransaction continues building on a copy of an existing transaction.
func FromTransaction(t *Transaction) *Builder {
	return &Builder{tx: t.Clone()}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput adds an output with a value and script.
func (b *Builder) AddOutput(value uint64, script types.Script) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Value: value, Script: script})
	return b
}

// SetScript sets the invocation script.
func (b *Builder) SetScript(script []byte) *Builder {
	b.tx.Script = append(HexBytes(nil), script...)
	return b
}

// SetGas sets the gas attached to the invocation.
func (b *Builder) SetGas(gas uint64) *Builder {
	b.tx.Gas = gas
	return b
}

// Build returns the constructed transaction.
// Does NOT validate; call Validate separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
