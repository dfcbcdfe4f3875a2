// Package tx defines invocation transactions, their canonical encoding and
// the signing context that collects witnesses for them.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-partnership/pkg/crypto"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Type distinguishes plain transfers from contract invocations.
type Type uint8

const (
	TypeTransfer   Type = 0x80
	TypeInvocation Type = 0xd1
)

// String returns a human-readable name for the transaction type.
func (t Type) String() string {
	switch t {
	case TypeTransfer:
		return "Transfer"
	case TypeInvocation:
		return "Invocation"
	default:
		return "Unknown"
	}
}

// HexBytes is a byte slice that encodes as a hex string in JSON.
type HexBytes []byte

// MarshalJSON encodes the bytes as hex.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON decodes a hex string.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = d
	return nil
}

// Transaction is a contract invocation (or transfer) funded by wallet UTXOs.
type Transaction struct {
	Version  uint32   `json:"version"`
	Type     Type     `json:"type"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	Script   HexBytes `json:"script,omitempty"`
	Gas      uint64   `json:"gas"`
	LockTime uint64   `json:"locktime"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut types.Outpoint `json:"prevout"`
	Witness Witness        `json:"witness"`
}

// Witness carries the signatures proving the right to spend an input.
// Signatures[i] was produced by PubKeys[i].
type Witness struct {
	Signatures []HexBytes `json:"signatures"`
	PubKeys    []HexBytes `json:"pubkeys"`
}

// IsEmpty reports whether the witness carries no signatures.
func (w Witness) IsEmpty() bool {
	return len(w.Signatures) == 0
}

// Output defines a new UTXO.
type Output struct {
	Value  uint64       `json:"value"`
	Script types.Script `json:"script"`
}

// Hash computes the transaction ID (BLAKE3 of the signing bytes).
// Witnesses are excluded, so the id is fixed before signing.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the canonical byte representation used for signing.
// Format: version(4) | type(1) | input_count(4) | [prevout(36)]... |
// output_count(4) | [value(8) + script_type(1) + len(4) + data]... |
// script_len(4) | script | gas(8) | locktime(8)
func (tx *Transaction) SigningBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)
	buf = append(buf, byte(tx.Type))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, byte(out.Script.Type))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Script)))
	buf = append(buf, tx.Script...)
	buf = binary.LittleEndian.AppendUint64(buf, tx.Gas)
	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)

	return buf
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}

// Clone returns a deep copy. Funding a dry-run result works on a clone so
// the original stays untouched.
func (tx *Transaction) Clone() *Transaction {
	c := &Transaction{
		Version:  tx.Version,
		Type:     tx.Type,
		Script:   append(HexBytes(nil), tx.Script...),
		Gas:      tx.Gas,
		LockTime: tx.LockTime,
	}
	if tx.Inputs != nil {
		c.Inputs = make([]Input, len(tx.Inputs))
		for i, in := range tx.Inputs {
			c.Inputs[i] = Input{PrevOut: in.PrevOut, Witness: in.Witness.clone()}
		}
	}
	if tx.Outputs != nil {
		c.Outputs = make([]Output, len(tx.Outputs))
		for i, out := range tx.Outputs {
			c.Outputs[i] = Output{
				Value:  out.Value,
				Script: types.Script{Type: out.Script.Type, Data: append([]byte(nil), out.Script.Data...)},
			}
		}
	}
	return c
}

func (w Witness) clone() Witness {
	var c Witness
	for _, s := range w.Signatures {
		c.Signatures = append(c.Signatures, append(HexBytes(nil), s...))
	}
	for _, p := range w.PubKeys {
		c.PubKeys = append(c.PubKeys, append(HexBytes(nil), p...))
	}
	return c
}
