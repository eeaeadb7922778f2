// Package hash collects the small set of hashing helpers shared by the
// block and consensus-payload packages.
package hash

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hashable is implemented by anything that can report its own
// content hash, the minimal requirement for the relay cache and for
// Merkle-tree leaves.
type Hashable interface {
	Hash() common.Hash
}

// Keccak256 hashes data with Keccak-256, the core's default content
// hash for envelopes and headers.
func Keccak256(data ...[]byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(data...))
}

// Hash160 returns the 20-byte Keccak160 digest used for script hashes.
func Hash160(data []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// CalcMerkleRoot computes the Merkle tree root of the given leaf
// hashes, used to derive a block's MerkleRoot header field.
func CalcMerkleRoot(hashes []common.Hash) common.Hash {
	if len(hashes) == 0 {
		return common.Hash{}
	}

	level := make([]common.Hash, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = Keccak256(level[2*i][:], level[2*i+1][:])
		}

		level = next
	}

	return level[0]
}
