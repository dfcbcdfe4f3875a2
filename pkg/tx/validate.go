package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-partnership/pkg/crypto"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Limits applied by Validate.
const (
	MaxInputs     = 2048
	MaxOutputs    = 2048
	MaxScriptSize = 64 * 1024
)

// Validation errors.
var (
	ErrNoInputs       = errors.New("transaction has no inputs")
	ErrDuplicateInput = errors.New("duplicate input")
	ErrOutputOverflow = errors.New("output values overflow")
	ErrZeroOutput     = errors.New("output value is zero")
	ErrInvalidScript  = errors.New("invalid script type")
	ErrEmptyScript    = errors.New("invocation has no script")
	ErrScriptTooLarge = errors.New("script too large")
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
	ErrMissingWitness = errors.New("input missing witness")
	ErrInvalidSig     = errors.New("invalid signature")
	ErrUnknownOwner   = errors.New("unknown input owner")
)

// Validate checks transaction structure. It does not check that inputs
// exist or that witnesses are present.
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(tx.Inputs) > MaxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), MaxInputs)
	}
	if len(tx.Outputs) > MaxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), MaxOutputs)
	}
	if tx.Type == TypeInvocation && len(tx.Script) == 0 {
		return ErrEmptyScript
	}
	if len(tx.Script) > MaxScriptSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrScriptTooLarge, len(tx.Script), MaxScriptSize)
	}

	seen := make(map[types.Outpoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	var total uint64
	for i, out := range tx.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		switch out.Script.Type {
		case types.ScriptTypeP2PKH, types.ScriptTypeMultiSig:
		default:
			return fmt.Errorf("output %d: %w", i, ErrInvalidScript)
		}
		if total > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		total += out.Value
	}
	return nil
}

// VerifyWitnesses checks every input's witness against the locking script
// of the output it spends.
func (tx *Transaction) VerifyWitnesses(owners OwnerResolver) error {
	hash := tx.Hash()
	for i, in := range tx.Inputs {
		script, ok := owners.OwnerScript(in.PrevOut)
		if !ok {
			return fmt.Errorf("input %d: %w", i, ErrUnknownOwner)
		}
		w := in.Witness
		if w.IsEmpty() || len(w.Signatures) != len(w.PubKeys) {
			return fmt.Errorf("input %d: %w", i, ErrMissingWitness)
		}
		for j := range w.Signatures {
			if !crypto.VerifySignature(hash[:], w.Signatures[j], w.PubKeys[j]) {
				return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
			}
		}
		switch script.Type {
		case types.ScriptTypeP2PKH:
			if crypto.AddressFromPubKey(w.PubKeys[0]) != crypto.AddressFromScript(script) {
				return fmt.Errorf("input %d: %w: key does not match owner", i, ErrInvalidSig)
			}
		case types.ScriptTypeMultiSig:
			m, keys, err := script.MultiSigParams()
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			matched := 0
			for _, pk := range w.PubKeys {
				if keyIndex(keys, pk) >= 0 {
					matched++
				}
			}
			if matched < m {
				return fmt.Errorf("input %d: %w: %d of %d signatures", i, ErrMissingWitness, matched, m)
			}
		default:
			return fmt.Errorf("input %d: %w", i, ErrInvalidScript)
		}
	}
	return nil
}
