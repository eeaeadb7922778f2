package dbft

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/vireonet/vireo/pkg/dbft/payload"
)

// A 4-validator set tolerates F=1 faulty node and needs M=3 to commit.
// Only the priority primary is kicked off, so the round proceeds
// exactly the way a single slot's happy path is meant to.
func TestHappyPathPriorityPrimaryFinalizes(t *testing.T) {
	tx1, tx2 := newFakeTx(1), newFakeTx(2)
	net := newFakeNetwork(t, 4, tx1, tx2)
	net.initAll()

	primary := net.priorityPrimary()
	net.nodes[primary].d.start()

	for i, n := range net.nodes {
		require.Lenf(t, n.processed, 1, "node %d should finalize exactly one block", i)
		require.Equalf(t, uint32(2), n.d.BlockIndex, "node %d should have moved on to the next height", i)
	}

	first := net.nodes[0].processed[0]
	for i := 1; i < len(net.nodes); i++ {
		require.Equal(t, first.Hash(), net.nodes[i].processed[0].Hash(),
			"all honest nodes must finalize the identical block for the height")
	}
	require.Equal(t, uint32(1), first.Index())
	require.Len(t, first.Transactions(), 2)
	require.Equal(t, uint32(1), net.height)
}

// When the priority primary never proposes, the fallback slot alone
// must still be able to carry the round to finalization, on its own
// (full, M-gated) quorum.
func TestFallbackPrimaryFinalizesWhenPriorityIsSilent(t *testing.T) {
	tx1 := newFakeTx(1)
	net := newFakeNetwork(t, 4, tx1)
	net.initAll()

	fallback := net.fallbackPrimary()
	net.nodes[fallback].d.start()

	for i, n := range net.nodes {
		require.Lenf(t, n.processed, 1, "node %d should finalize exactly one block via the fallback slot", i)
	}
	require.Equal(t, uint32(1), net.height)
}

// A PrepareRequest whose aggregate system fee busts the configured cap
// must be rejected by CheckPrepareResponse, driving every honest node
// that has formed an opinion to vote for a view change instead of
// preparing.
func TestPolicyViolationTriggersChangeView(t *testing.T) {
	tx1 := newFakeTx(1)
	tx1.sysFee = 1000

	net := newFakeNetwork(t, 4, tx1)
	for _, n := range net.nodes {
		WithMaxBlockSystemFee(10)(&n.d.Config)
	}
	net.initAll()

	primary := net.priorityPrimary()
	net.nodes[primary].d.start()

	for i, n := range net.nodes {
		require.False(t, n.d.BlockSent(), "node %d should not finalize a block that violates policy", i)
		require.GreaterOrEqualf(t, uint(n.d.ViewNumber), uint(1), "node %d should have moved off view 0", i)
	}
}

// Equivocation: a second Commit from the same validator for the same
// slot carrying a different hash must never overwrite the first one
// recorded.
func TestEquivocatingCommitIsDropped(t *testing.T) {
	net := newFakeNetwork(t, 4, newFakeTx(1))
	net.initAll()

	node := net.nodes[2]
	slot := PrioritySlotID
	evilIdx := uint16(0)

	first := payload.NewConsensusPayload()
	first.SetHeight(node.d.BlockIndex)
	first.SetType(payload.CommitType)
	first.SetViewNumber(node.d.ViewNumber)
	first.SetValidatorIndex(evilIdx)
	first.SetPayload(payload.MakeCommit(slot, make([]byte, 65)))
	require.NoError(t, first.Sign(net.nodes[evilIdx].priv))

	second := payload.NewConsensusPayload()
	second.SetHeight(node.d.BlockIndex)
	second.SetType(payload.CommitType)
	second.SetViewNumber(node.d.ViewNumber)
	second.SetValidatorIndex(evilIdx)
	sig2 := make([]byte, 65)
	sig2[0] = 0xff
	second.SetPayload(payload.MakeCommit(slot, sig2))
	require.NoError(t, second.Sign(net.nodes[evilIdx].priv))

	require.NotEqual(t, first.Hash(), second.Hash())

	node.d.onCommit(first)
	recorded := node.d.Slots[slot].CommitPayloads[evilIdx]
	require.NotNil(t, recorded)
	require.Equal(t, first.Hash(), recorded.Hash())

	node.d.onCommit(second)
	recorded = node.d.Slots[slot].CommitPayloads[evilIdx]
	require.Equal(t, first.Hash(), recorded.Hash(),
		"a conflicting commit from the same validator must never replace the first one seen")
}

// A Commit for a view this node has already left must be parked in the
// slot's commit table without counting toward the current view's
// threshold: it only becomes usable again once recovery supplies the
// matching header data.
func TestCommitFromOtherViewIsParkedNotCounted(t *testing.T) {
	net := newFakeNetwork(t, 4, newFakeTx(1))
	net.initAll()

	node := net.nodes[2]
	node.d.InitializeConsensus(1)

	c := payload.NewConsensusPayload()
	c.SetHeight(node.d.BlockIndex)
	c.SetType(payload.CommitType)
	c.SetViewNumber(0)
	c.SetValidatorIndex(0)
	c.SetPayload(payload.MakeCommit(PrioritySlotID, make([]byte, 65)))
	require.NoError(t, c.Sign(net.nodes[0].priv))

	node.d.OnReceive(c)

	parked := node.d.Slots[PrioritySlotID].CommitPayloads[0]
	require.NotNil(t, parked, "a lower-view commit must be parked, not dropped")
	require.Equal(t, byte(0), parked.ViewNumber())
	require.Equal(t, 0, node.d.Slots[PrioritySlotID].countCommits(node.d.ViewNumber),
		"parked commits must not inflate the current view's commit count")
}

// Once the priority slot's preparations reach the full quorum M, the
// PreCommit round trip is skipped outright: the node commits even
// though fewer than M PreCommits have been observed.
func TestPriorityPreparationsAtMSkipPreCommitRoundTrip(t *testing.T) {
	tx := newFakeTx(1)
	net := newFakeNetwork(t, 4, tx)
	net.initAll()

	primary := net.priorityPrimary()
	node := net.nodes[2]
	require.NotEqual(t, 2, primary)

	node.d.Broadcast = func(p payload.ConsensusPayload) {}

	req := payload.MakePrepareRequest(PrioritySlotID, 0, node.d.CurrentBlockHash(),
		uint64(node.timer.Now().UnixNano()), 1, []common.Hash{tx.Hash()},
		net.consensusAddress(net.validators...))
	reqP := payload.NewConsensusPayload()
	reqP.SetHeight(node.d.BlockIndex)
	reqP.SetType(payload.PrepareRequestType)
	reqP.SetViewNumber(0)
	reqP.SetValidatorIndex(uint16(primary))
	reqP.SetPayload(req)
	require.NoError(t, reqP.Sign(net.nodes[primary].priv))

	node.d.OnReceive(reqP)
	require.False(t, node.d.CommitSent(), "F+1 preparations alone must not commit")

	resp := payload.NewConsensusPayload()
	resp.SetHeight(node.d.BlockIndex)
	resp.SetType(payload.PrepareResponseType)
	resp.SetViewNumber(0)
	resp.SetValidatorIndex(3)
	resp.SetPayload(payload.MakePrepareResponse(PrioritySlotID, reqP.Hash()))
	require.NoError(t, resp.Sign(net.nodes[3].priv))

	node.d.OnReceive(resp)

	require.True(t, node.d.CommitSent(),
		"M preparations on the priority slot must commit without waiting for M pre-commits")
	require.Less(t, node.d.Slots[PrioritySlotID].countPreCommits(0), node.d.M())
}

// A PreCommit may land before its slot's PrepareRequest: it is
// recorded as long as no conflicting preparation hash is pinned for
// the slot, and only acted on once the request arrives.
func TestPreCommitBeforeRequest(t *testing.T) {
	net := newFakeNetwork(t, 4, newFakeTx(1))
	net.initAll()

	node := net.nodes[2]

	var prepHash common.Hash
	prepHash[0] = 0xCC

	pc := payload.NewConsensusPayload()
	pc.SetHeight(node.d.BlockIndex)
	pc.SetType(payload.PreCommitType)
	pc.SetViewNumber(0)
	pc.SetValidatorIndex(3)
	pc.SetPayload(payload.MakePreCommit(PrioritySlotID, prepHash))
	require.NoError(t, pc.Sign(net.nodes[3].priv))

	node.d.OnReceive(pc)

	require.NotNil(t, node.d.Slots[PrioritySlotID].PreCommitPayloads[3],
		"an early PreCommit must be recorded while no preparation hash is pinned")
	require.False(t, node.d.PreCommitSent(PrioritySlotID))
}

// A repeated ChangeView from the same validator for the same target
// view must not replace the recorded one: per-validator NewViewNumber
// is strictly monotonic.
func TestDuplicateChangeViewIsIgnored(t *testing.T) {
	net := newFakeNetwork(t, 4, newFakeTx(1))
	net.initAll()

	node := net.nodes[2]

	mkCV := func(ts uint64) payload.ConsensusPayload {
		cv := payload.NewConsensusPayload()
		cv.SetHeight(node.d.BlockIndex)
		cv.SetType(payload.ChangeViewType)
		cv.SetViewNumber(0)
		cv.SetValidatorIndex(0)
		cv.SetPayload(payload.MakeChangeView(1, ts, payload.CVTimeout))
		require.NoError(t, cv.Sign(net.nodes[0].priv))
		return cv
	}

	node.d.OnReceive(mkCV(5))
	first := node.d.ChangeViewPayloads[0]
	require.NotNil(t, first)

	node.d.OnReceive(mkCV(6))
	require.Equal(t, first.Hash(), node.d.ChangeViewPayloads[0].Hash(),
		"a second ChangeView for the same target view must not replace the first")
}

// A proposal that respends a transaction already settled on the ledger
// must drive the backups to vote for a view change instead of
// preparing.
func TestPrepareRequestRespendingSettledTxIsRejected(t *testing.T) {
	tx := newFakeTx(1)
	net := newFakeNetwork(t, 4, tx)
	for _, n := range net.nodes {
		WithContainsTransaction(func(h common.Hash) bool { return h == tx.Hash() })(&n.d.Config)
	}
	net.initAll()

	primary := net.priorityPrimary()
	net.nodes[primary].d.start()

	for i, n := range net.nodes {
		require.False(t, n.d.BlockSent(), "node %d must not finalize a block respending a settled tx", i)
		if i != primary {
			require.GreaterOrEqualf(t, uint(n.d.ViewNumber), uint(1), "backup %d should have voted off view 0", i)
		}
	}
}

// OnReceive must drop an envelope whose claimed ValidatorIndex does
// not authenticate against Sender.
func TestSenderMustAuthenticateValidatorIndex(t *testing.T) {
	net := newFakeNetwork(t, 4, newFakeTx(1))
	net.initAll()

	target := net.nodes[3]
	before := target.d.Slots[PrioritySlotID].CommitPayloads[0]

	forged := payload.NewConsensusPayload()
	forged.SetHeight(target.d.BlockIndex)
	forged.SetType(payload.CommitType)
	forged.SetViewNumber(target.d.ViewNumber)
	forged.SetValidatorIndex(0)
	forged.SetPayload(payload.MakeCommit(PrioritySlotID, make([]byte, 65)))
	// Sign with a key that is not validator 0's: Sign() stamps Sender
	// from whichever key actually signs, so this mismatches index 0.
	require.NoError(t, forged.Sign(net.nodes[1].priv))

	target.d.OnReceive(forged)

	require.Equal(t, before, target.d.Slots[PrioritySlotID].CommitPayloads[0],
		"an envelope with a forged sender must be dropped before being recorded")
}

// canSynthesizePrepareRequest: the priority slot may always be
// re-synthesized by its own primary during recovery; the fallback slot
// only at view 0.
func TestCanSynthesizePrepareRequest(t *testing.T) {
	net := newFakeNetwork(t, 4, newFakeTx(1))
	net.initAll()

	priority := net.nodes[net.priorityPrimary()]
	require.True(t, priority.d.canSynthesizePrepareRequest(PrioritySlotID))

	fallback := net.nodes[net.fallbackPrimary()]
	require.True(t, fallback.d.canSynthesizePrepareRequest(FallbackSlotID))

	require.False(t, fallback.d.canSynthesizePrepareRequest(PrioritySlotID),
		"the fallback primary is never the priority primary for the same view")

	fallback.d.ViewNumber = 1
	require.False(t, fallback.d.canSynthesizePrepareRequest(FallbackSlotID),
		"fallback re-synthesis is only allowed at view 0")
}
