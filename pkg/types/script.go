package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ScriptType identifies the type of locking script.
type ScriptType uint8

const (
	ScriptTypeP2PKH    ScriptType = 0x01 // Pay to public key hash
	ScriptTypeMultiSig ScriptType = 0x03 // M-of-N bare multi-signature
)

// CompressedPubKeySize is the length of a compressed secp256k1 public key.
const CompressedPubKeySize = 33

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	case ScriptTypeMultiSig:
		return "MultiSig"
	default:
		return "Unknown"
	}
}

// Script defines the locking condition for a UTXO.
//
// P2PKH data is the 20-byte address. MultiSig data is
// m(1) | n(1) | n compressed public keys (33 bytes each).
type Script struct {
	Type ScriptType `json:"type"`
	Data []byte     `json:"data"`
}

// P2PKHScript returns the locking script paying to addr.
func P2PKHScript(addr Address) Script {
	return Script{Type: ScriptTypeP2PKH, Data: addr.Bytes()}
}

// MultiSigScript returns an m-of-n locking script over pubKeys.
func MultiSigScript(m int, pubKeys [][]byte) (Script, error) {
	n := len(pubKeys)
	if n == 0 || n > 255 {
		return Script{}, fmt.Errorf("multisig needs 1..255 keys, got %d", n)
	}
	if m < 1 || m > n {
		return Script{}, fmt.Errorf("multisig threshold %d out of range [1, %d]", m, n)
	}
	data := make([]byte, 0, 2+n*CompressedPubKeySize)
	data = append(data, byte(m), byte(n))
	for i, pk := range pubKeys {
		if len(pk) != CompressedPubKeySize {
			return Script{}, fmt.Errorf("pubkey %d must be %d bytes, got %d", i, CompressedPubKeySize, len(pk))
		}
		data = append(data, pk...)
	}
	return Script{Type: ScriptTypeMultiSig, Data: data}, nil
}

// MultiSigParams decodes the threshold and keys of a MultiSig script.
func (s Script) MultiSigParams() (int, [][]byte, error) {
	if s.Type != ScriptTypeMultiSig {
		return 0, nil, fmt.Errorf("not a multisig script: %s", s.Type)
	}
	if len(s.Data) < 2 {
		return 0, nil, fmt.Errorf("multisig script too short")
	}
	m, n := int(s.Data[0]), int(s.Data[1])
	if len(s.Data) != 2+n*CompressedPubKeySize {
		return 0, nil, fmt.Errorf("multisig script length mismatch")
	}
	if m < 1 || m > n {
		return 0, nil, fmt.Errorf("multisig threshold %d out of range [1, %d]", m, n)
	}
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		off := 2 + i*CompressedPubKeySize
		keys[i] = s.Data[off : off+CompressedPubKeySize]
	}
	return m, keys, nil
}

// Key returns a comparable identity for the script.
func (s Script) Key() string {
	return string(append([]byte{byte(s.Type)}, s.Data...))
}

// scriptJSON is the JSON representation of a Script with hex-encoded data.
type scriptJSON struct {
	Type ScriptType `json:"type"`
	Data string     `json:"data"`
}

// MarshalJSON encodes the script with hex-encoded data.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{
		Type: s.Type,
		Data: hex.EncodeToString(s.Data),
	})
}

// UnmarshalJSON decodes a script with hex-encoded data.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		s.Data = b
	}
	return nil
}
