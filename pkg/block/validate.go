package block

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-partnership/pkg/crypto"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader     = errors.New("block has nil header")
	ErrBadMerkleRoot = errors.New("merkle root mismatch")
)

// Validate checks that the header commits to the block's transactions.
// Blocks come from a trusted node, so consensus rules are not re-checked.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	if root := ComputeMerkleRoot(hashes); root != b.Header.MerkleRoot {
		return fmt.Errorf("%w: header %s, computed %s", ErrBadMerkleRoot, b.Header.MerkleRoot, root)
	}
	return nil
}

// ComputeMerkleRoot folds transaction hashes pairwise into a single root.
// An odd level pairs its last hash with itself; no hashes give the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	switch len(hashes) {
	case 0:
		return types.Hash{}
	case 1:
		return hashes[0]
	}
	parents := make([]types.Hash, (len(hashes)+1)/2)
	for i := range parents {
		left := hashes[2*i]
		right := left
		if 2*i+1 < len(hashes) {
			right = hashes[2*i+1]
		}
		parents[i] = crypto.HashConcat(left, right)
	}
	return ComputeMerkleRoot(parents)
}
