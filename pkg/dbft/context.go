package dbft

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/crypto/keys"
	"github.com/vireonet/vireo/pkg/dbft/block"
	"github.com/vireonet/vireo/pkg/dbft/payload"
)

// Slot identifies one of the two parallel proposal tracks. It is an
// alias of payload.Slot so call sites can use either package's names
// interchangeably.
type Slot = payload.Slot

const (
	// PrioritySlotID is the priority proposal track (pOrF = 0).
	PrioritySlotID = payload.PrioritySlot
	// FallbackSlotID is the fallback proposal track (pOrF = 1).
	FallbackSlotID = payload.FallbackSlot
)

// SlotState is the per-slot state kept in the round context: a
// self-contained record rather than a set of parallel arrays, so its
// invariants are inspectable in isolation.
type SlotState struct {
	// PrimaryIndex is the validator index proposing on this slot at
	// the context's current view.
	PrimaryIndex uint16

	// Header skeleton, filled in as the PrepareRequest is accepted.
	Version       uint32
	PrevHash      common.Hash
	Timestamp     uint64
	Nonce         uint64
	NextConsensus common.Address

	TransactionHashes   []common.Hash
	Transactions        map[common.Hash]block.Transaction
	MissingTransactions []common.Hash
	Verification        *verificationContext

	PreparationPayloads []payload.ConsensusPayload
	PreCommitPayloads   []payload.ConsensusPayload
	CommitPayloads      []payload.ConsensusPayload

	RequestSentOrReceived bool
	ResponseSent          bool
	PreCommitSent         bool
}

func newSlotState(n int, primary uint16) *SlotState {
	return &SlotState{
		PrimaryIndex:        primary,
		Transactions:        make(map[common.Hash]block.Transaction),
		Verification:        newVerificationContext(),
		PreparationPayloads: make([]payload.ConsensusPayload, n),
		PreCommitPayloads:   make([]payload.ConsensusPayload, n),
		CommitPayloads:      make([]payload.ConsensusPayload, n),
	}
}

// hasAllTransactions reports whether every hash proposed for this slot
// has a matching entry in Transactions.
func (s *SlotState) hasAllTransactions() bool {
	return len(s.MissingTransactions) == 0 && len(s.Transactions) >= len(s.TransactionHashes)
}

func (s *SlotState) countPreparations(view byte) int {
	count := 0
	for _, m := range s.PreparationPayloads {
		if m != nil && m.ViewNumber() == view {
			count++
		}
	}
	return count
}

func (s *SlotState) countPreCommits(view byte) int {
	count := 0
	for _, m := range s.PreCommitPayloads {
		if m != nil && m.ViewNumber() == view {
			count++
		}
	}
	return count
}

func (s *SlotState) countCommits(view byte) int {
	count := 0
	for _, m := range s.CommitPayloads {
		if m != nil && m.ViewNumber() == view {
			count++
		}
	}
	return count
}

// Context is the round context: the per-height, per-view state shared
// between the Dispatcher and Phase Logic.
type Context struct {
	Config *Config

	Validators []*keys.PublicKey
	// MyIndex is this node's index in Validators, or -1 for watch-only.
	MyIndex int

	BlockIndex uint32
	ViewNumber byte

	Slots [2]*SlotState

	ChangeViewPayloads []payload.ConsensusPayload
	// LastSeenMessage[i] is the last block index at which validator i
	// was observed sending anything.
	LastSeenMessage []uint32

	knownHashes *knownHashSet

	commitSent  bool
	committedOn Slot
	blockSent   bool
	block       block.Block

	isRecovering bool

	lastBlockIndex uint32
	lastBlockTime  time.Time
}

// WatchOnly reports whether this node has no validator slot.
func (c *Context) WatchOnly() bool {
	return c.MyIndex < 0 || (c.Config != nil && c.Config.WatchOnly())
}

// IsPriorityPrimary reports whether this node is the priority primary
// for the current view.
func (c *Context) IsPriorityPrimary() bool {
	return !c.WatchOnly() && uint(c.MyIndex) == c.GetPriorityPrimaryIndex(c.ViewNumber)
}

// IsFallbackPrimary reports whether this node is the fallback primary
// for the current view.
func (c *Context) IsFallbackPrimary() bool {
	return !c.WatchOnly() && uint(c.MyIndex) == c.GetFallbackPrimaryIndex(c.ViewNumber)
}

// IsAPrimary reports whether this node is a primary on either slot.
func (c *Context) IsAPrimary() bool {
	return c.IsPriorityPrimary() || c.IsFallbackPrimary()
}

// IsBackup reports whether this node is a validator but not a primary
// on either slot.
func (c *Context) IsBackup() bool {
	return !c.WatchOnly() && !c.IsAPrimary()
}

// CommitSent reports whether this node has broadcast its own Commit
// for the current round, on either slot.
func (c *Context) CommitSent() bool { return c.commitSent }

// BlockSent reports whether a block has already been assembled and
// handed to the ledger for the current round.
func (c *Context) BlockSent() bool { return c.blockSent }

// ViewChanging reports whether this node has already voted to leave
// the current view.
func (c *Context) ViewChanging() bool {
	if c.MyIndex < 0 || c.MyIndex >= len(c.ChangeViewPayloads) {
		return false
	}
	m := c.ChangeViewPayloads[c.MyIndex]
	return m != nil && m.GetChangeView().NewViewNumber() > c.ViewNumber
}

// NotAcceptingPayloadsDueToViewChanging reports whether incoming
// preparation-phase payloads should be rejected because this node has
// already voted to change view and not enough of the set has
// committed or is lost to make that unsafe.
func (c *Context) NotAcceptingPayloadsDueToViewChanging() bool {
	return c.ViewChanging() && !c.MoreThanFNodesCommittedOrLost()
}

// CountCommitted returns the number of validators that have committed
// (on either slot) at the current view.
func (c *Context) CountCommitted() int {
	seen := make(map[int]struct{})
	for _, slot := range c.Slots {
		for i, m := range slot.CommitPayloads {
			if m != nil && m.ViewNumber() == c.ViewNumber {
				seen[i] = struct{}{}
			}
		}
	}
	return len(seen)
}

// CountFailed returns the number of validators not seen active at the
// current height.
func (c *Context) CountFailed() int {
	count := 0
	for _, h := range c.LastSeenMessage {
		if h < c.BlockIndex {
			count++
		}
	}
	return count
}

// MoreThanFNodesCommittedOrLost is the liveness guard used while a
// view change is in flight: if enough of the set has either already
// committed or appears lost, it's not safe to treat "view changing" as
// a reason to stop accepting payloads, since doing so could stall
// forever.
func (c *Context) MoreThanFNodesCommittedOrLost() bool {
	return c.CountCommitted()+c.CountFailed() > c.F()
}

// RequestSentOrReceived reports whether a PrepareRequest has been
// proposed or accepted for slot at the current view.
func (c *Context) RequestSentOrReceived(slot Slot) bool {
	return c.Slots[slot].RequestSentOrReceived
}

// ResponseSent reports whether this node already answered slot's
// PrepareRequest.
func (c *Context) ResponseSent(slot Slot) bool {
	return c.Slots[slot].ResponseSent
}

// PreCommitSent reports whether this node already sent its PreCommit
// for slot at the current view.
func (c *Context) PreCommitSent(slot Slot) bool {
	return c.Slots[slot].PreCommitSent
}

// CommittedOn returns the slot a Commit was broadcast for, valid only
// once CommitSent reports true.
func (c *Context) CommittedOn() Slot { return c.committedOn }

// reset (re)initializes the round context for view. Called both when
// moving to a brand new height (view == 0) and when changing view at
// the same height.
func (c *Context) reset(view byte) {
	if view == 0 {
		c.BlockIndex = c.Config.CurrentHeight() + 1
		c.Validators = c.Config.GetValidators(c.BlockIndex)

		idx, _, _ := c.Config.GetKeyPair(c.Validators)
		c.MyIndex = idx

		c.LastSeenMessage = make([]uint32, len(c.Validators))
		c.knownHashes = newKnownHashSet(len(c.Validators) * 4)
		c.isRecovering = false
	}

	c.ViewNumber = view
	c.ChangeViewPayloads = make([]payload.ConsensusPayload, len(c.Validators))
	c.commitSent = false
	c.blockSent = false
	c.block = nil

	n := len(c.Validators)
	c.Slots[PrioritySlotID] = newSlotState(n, uint16(c.GetPriorityPrimaryIndex(view)))
	c.Slots[FallbackSlotID] = newSlotState(n, uint16(c.GetFallbackPrimaryIndex(view)))
}

// MakeHeader builds (and caches) the header skeleton for slot, or nil
// if slot's PrepareRequest has not been accepted yet.
func (c *Context) MakeHeader(slot Slot) block.Header {
	s := c.Slots[slot]
	if !s.RequestSentOrReceived {
		return nil
	}

	return c.Config.NewHeaderFromContext(c, slot)
}

// CreateBlock assembles the full block for slot once every proposed
// transaction is present locally.
func (c *Context) CreateBlock(slot Slot) block.Block {
	return c.Config.NewBlockFromContext(c, slot)
}
