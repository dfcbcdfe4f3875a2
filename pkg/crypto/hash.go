// Package crypto provides the hashing and signature primitives used for
// transaction ids and witnesses.
package crypto

import (
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// AddressFromScript derives the address a locking script pays to.
// P2PKH scripts carry the address directly; other scripts are hashed.
func AddressFromScript(s types.Script) types.Address {
	if s.Type == types.ScriptTypeP2PKH && len(s.Data) == types.AddressSize {
		var addr types.Address
		copy(addr[:], s.Data)
		return addr
	}
	h := Hash(append([]byte{byte(s.Type)}, s.Data...))
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes.
func HashConcat(a, b types.Hash) types.Hash {
	buf := make([]byte, 0, 2*types.HashSize)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return Hash(buf)
}
