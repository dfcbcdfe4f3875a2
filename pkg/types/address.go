package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AddressSize is the length of an address or script hash in bytes.
const AddressSize = 20

// Address is the 160-bit hash of a public key (P2PKH) or of a
// multi-signature verification script.
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the raw hex-encoded address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address as a hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a 40-char hex address, optionally prefixed with "0x".
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	decoded, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return Address{}, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(decoded))
	}
	var a Address
	copy(a[:], decoded)
	return a, nil
}

// ScriptHash identifies a deployed contract. It is displayed big-endian
// with a "0x" prefix while the VM consumes it little-endian, the same
// convention node explorers use for contract hashes.
type ScriptHash [AddressSize]byte

// ParseScriptHash parses a "0x"-prefixed (big-endian) or bare hex
// contract hash.
func ParseScriptHash(s string) (ScriptHash, error) {
	if s == "" {
		return ScriptHash{}, fmt.Errorf("empty script hash")
	}
	decoded, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return ScriptHash{}, fmt.Errorf("invalid script hash: %w", err)
	}
	if len(decoded) != AddressSize {
		return ScriptHash{}, fmt.Errorf("script hash must be %d bytes, got %d", AddressSize, len(decoded))
	}
	var h ScriptHash
	for i := range decoded {
		h[i] = decoded[AddressSize-1-i]
	}
	return h, nil
}

// IsZero returns true if the script hash is all zeros.
func (h ScriptHash) IsZero() bool {
	return h == ScriptHash{}
}

// String returns the big-endian "0x"-prefixed form.
func (h ScriptHash) String() string {
	var be [AddressSize]byte
	for i := range h {
		be[i] = h[AddressSize-1-i]
	}
	return "0x" + hex.EncodeToString(be[:])
}

// LittleEndian returns the raw little-endian bytes.
func (h ScriptHash) LittleEndian() []byte {
	b := make([]byte, AddressSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the script hash in its "0x" form.
func (h ScriptHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a "0x" or bare hex script hash.
func (h *ScriptHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseScriptHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
