package tx

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-partnership/pkg/crypto"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// ErrIncomplete is returned when witnesses are requested before every
// owner script has collected enough signatures.
var ErrIncomplete = errors.New("signing context incomplete")

// OwnerResolver reports the locking script of the output an outpoint
// refers to.
type OwnerResolver interface {
	OwnerScript(op types.Outpoint) (types.Script, bool)
}

// SigningContext accumulates signatures for one transaction. Inputs sharing
// the same owner script share one slot, so one signature covers all of them.
type SigningContext struct {
	tx    *Transaction
	hash  types.Hash
	slots []*slot
}

type slot struct {
	script types.Script
	need   int
	keys   [][]byte
	sigs   map[int][]byte // key index -> signature
	inputs []int

	p2pkhKey []byte
}

// NewSigningContext prepares to collect signatures for t.
func NewSigningContext(t *Transaction, owners OwnerResolver) (*SigningContext, error) {
	sc := &SigningContext{tx: t, hash: t.Hash()}
	byKey := make(map[string]*slot)
	for i, in := range t.Inputs {
		script, ok := owners.OwnerScript(in.PrevOut)
		if !ok {
			return nil, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrUnknownOwner)
		}
		s, ok := byKey[script.Key()]
		if !ok {
			var err error
			s, err = newSlot(script)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i, err)
			}
			byKey[script.Key()] = s
			sc.slots = append(sc.slots, s)
		}
		s.inputs = append(s.inputs, i)
	}
	return sc, nil
}

func newSlot(script types.Script) (*slot, error) {
	s := &slot{script: script, sigs: make(map[int][]byte)}
	switch script.Type {
	case types.ScriptTypeP2PKH:
		s.need = 1
	case types.ScriptTypeMultiSig:
		m, keys, err := script.MultiSigParams()
		if err != nil {
			return nil, err
		}
		s.need = m
		s.keys = keys
	default:
		return nil, ErrInvalidScript
	}
	return s, nil
}

// keyIndex returns the position the public key takes in the slot, or -1.
// P2PKH slots match on the derived address and always use index 0.
func (s *slot) keyIndex(pubKey []byte) int {
	if s.script.Type == types.ScriptTypeP2PKH {
		if crypto.AddressFromPubKey(pubKey) == crypto.AddressFromScript(s.script) {
			return 0
		}
		return -1
	}
	return keyIndex(s.keys, pubKey)
}

func keyIndex(keys [][]byte, pubKey []byte) int {
	for i, k := range keys {
		if bytes.Equal(k, pubKey) {
			return i
		}
	}
	return -1
}

// Hash returns the digest every signature must cover.
func (sc *SigningContext) Hash() types.Hash {
	return sc.hash
}

// Transaction returns the transaction being signed.
func (sc *SigningContext) Transaction() *Transaction {
	return sc.tx
}

// Scripts returns the distinct owner scripts that need signatures.
func (sc *SigningContext) Scripts() []types.Script {
	out := make([]types.Script, len(sc.slots))
	for i, s := range sc.slots {
		out[i] = s.script
	}
	return out
}

// AddSignature records sig from pubKey in every slot the key belongs to.
// It reports whether the key was relevant to any slot. An invalid
// signature is rejected with ErrInvalidSig.
func (sc *SigningContext) AddSignature(pubKey, sig []byte) (bool, error) {
	if !crypto.VerifySignature(sc.hash[:], sig, pubKey) {
		return false, ErrInvalidSig
	}
	used := false
	for _, s := range sc.slots {
		idx := s.keyIndex(pubKey)
		if idx < 0 {
			continue
		}
		s.sigs[idx] = append([]byte(nil), sig...)
		if s.script.Type == types.ScriptTypeP2PKH {
			s.p2pkhKey = append([]byte(nil), pubKey...)
		}
		used = true
	}
	return used, nil
}

// Completed reports whether every slot holds enough signatures.
func (sc *SigningContext) Completed() bool {
	for _, s := range sc.slots {
		if len(s.sigs) < s.need {
			return false
		}
	}
	return true
}

// ApplyWitnesses writes the collected signatures into the transaction's
// inputs. MultiSig witnesses carry the first m signatures in key order.
func (sc *SigningContext) ApplyWitnesses() error {
	if !sc.Completed() {
		return ErrIncomplete
	}
	for _, s := range sc.slots {
		var w Witness
		switch s.script.Type {
		case types.ScriptTypeP2PKH:
			w = Witness{Signatures: []HexBytes{s.sigs[0]}, PubKeys: []HexBytes{s.p2pkhKey}}
		case types.ScriptTypeMultiSig:
			for i := 0; i < len(s.keys) && len(w.Signatures) < s.need; i++ {
				sig, ok := s.sigs[i]
				if !ok {
					continue
				}
				w.Signatures = append(w.Signatures, sig)
				w.PubKeys = append(w.PubKeys, s.keys[i])
			}
		}
		for _, idx := range s.inputs {
			sc.tx.Inputs[idx].Witness = w.clone()
		}
	}
	return nil
}
