// Package block defines the structural interfaces the consensus core
// needs from a block and its transactions, without owning ledger
// semantics (native policy, state roots, ...) which stay external.
package block

import "github.com/ethereum/go-ethereum/common"

// MaxTransactionsPerBlock bounds the number of transaction hashes a
// single proposal may carry, independent of any particular network's
// configured policy ceiling.
const MaxTransactionsPerBlock = 1 << 16

// Transaction is the minimal surface the core needs from a mempool
// transaction: identity and a rough size/fee estimate for the
// VerificationContext accumulator.
type Transaction interface {
	Hash() common.Hash
	// SystemFee and Size feed the aggregate policy caps enforced by
	// CheckPrepareResponse; size is in encoded bytes. NetworkFee is not
	// used by the core.
	NetworkFee() int64
	SystemFee() int64
	Size() int
}

// Header is the partially filled skeleton the round context keeps per
// slot and finalizes once all proposed transactions are present.
type Header interface {
	Index() uint32
	PrimaryIndex() uint16
	PrevHash() common.Hash
	Timestamp() uint64
	Nonce() uint64
	Version() uint32
	// Hash of the sign-data for this header, i.e. what a Commit's
	// signature is computed over.
	Hash() common.Hash
}

// Block is a finalized, assembled block ready for submission to the
// ledger.
type Block interface {
	Header
	Transactions() []Transaction
	MerkleRoot() common.Hash
}
