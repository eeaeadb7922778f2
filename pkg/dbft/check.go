package dbft

import (
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"go.uber.org/zap"
)

// CheckPrepareResponse decides whether this node answers slot's
// accepted proposal, once every proposed transaction is present. A
// primary (either slot) and a watch-only node never send responses and
// always return true; a primary still runs CheckPreparations for the
// slot. Everyone else enforces the
// aggregate policy caps first: a violation votes for a view change
// instead of preparing and returns false.
func (d *DBFT) CheckPrepareResponse(slot Slot) bool {
	if d.Context.WatchOnly() {
		return true
	}

	// A primary never responds, but it still advances its tally for the
	// other slot's proposal (CheckPreparations runs the policy check
	// before counting, so a violating proposal still earns its
	// ChangeView here).
	if d.IsAPrimary() {
		d.CheckPreparations(slot)
		return true
	}

	if err := d.checkPolicy(slot); err != nil {
		d.Logger.Warn("proposal violates policy", zap.Stringer("slot", slot), zap.Error(err))
		d.sendChangeView(payload.CVBlockRejectedByPolicy)
		return false
	}

	d.extendTimer(2)
	d.sendPrepareResponse(slot)
	d.CheckPreparations(slot)

	return true
}

// checkPolicy verifies that everything proposed so far for slot still
// fits the aggregate native-policy caps, accumulating each transaction
// into the slot's verification context exactly once.
func (d *DBFT) checkPolicy(slot Slot) error {
	s := d.Slots[slot]

	for _, h := range s.TransactionHashes {
		tx, ok := s.Transactions[h]
		if !ok {
			continue
		}
		s.Verification.add(h, tx.Size(), tx.SystemFee())
	}

	if s.Verification.exceeds(d.MaxBlockSize, d.MaxBlockSystemFee) {
		return ErrPolicyViolation
	}

	if len(s.TransactionHashes) > d.MaxTransactionsPerBlock {
		return ErrPolicyViolation
	}

	return nil
}

// preparationThreshold returns the count of preparation-stage
// payloads (PrepareRequest plus PrepareResponses) slot needs before a
// PreCommit can be sent. The priority slot only needs F+1: it is
// expected to be honest-first and proceeding on a smaller quorum lets
// the rest of the set start pre-committing sooner. The fallback slot
// only ever gets attention once the priority slot has stalled, so it
// requires the full safety quorum M before anyone commits to it.
func (d *DBFT) preparationThreshold(slot Slot) int {
	if slot == PrioritySlotID {
		return d.F() + 1
	}
	return d.M()
}

// CheckPreparations checks whether slot has collected enough
// preparation-stage payloads at the current view to advance to
// PreCommit.
func (d *DBFT) CheckPreparations(slot Slot) {
	s := d.Slots[slot]

	if !s.hasAllTransactions() {
		d.Logger.Debug("check preparations: missing tx", zap.Stringer("slot", slot))
		return
	}

	if err := d.checkPolicy(slot); err != nil {
		d.Logger.Warn("proposal violates policy", zap.Stringer("slot", slot), zap.Error(err))
		d.sendChangeView(payload.CVBlockRejectedByPolicy)
		return
	}

	count := s.countPreparations(d.ViewNumber)
	threshold := d.preparationThreshold(slot)

	d.Logger.Debug("check preparations", zap.Stringer("slot", slot), zap.Int("count", count), zap.Int("need", threshold))

	if !s.RequestSentOrReceived || count < threshold {
		return
	}

	d.sendPreCommit(slot)
	d.changeTimer(d.SecondsPerBlock)

	// Speed-up: once the priority slot's preparations reach the full
	// safety quorum M, the PreCommit round trip carries no extra
	// information and can be skipped outright.
	forced := slot == PrioritySlotID && count >= d.M()
	d.CheckPreCommits(slot, forced)
}

// CheckPreCommits checks whether slot has collected enough PreCommit
// payloads at the current view to advance to Commit. forced is the
// priority slot's speed-up: M preparations already prove the same
// quorum a PreCommit count would, so the stage is crossed without
// waiting for it. CheckCommits itself always requires M commits before
// a block is finalized, so this never loosens actual commit safety.
func (d *DBFT) CheckPreCommits(slot Slot, forced bool) {
	s := d.Slots[slot]

	if !forced {
		if !s.hasAllTransactions() {
			d.Logger.Debug("check pre-commits: missing tx", zap.Stringer("slot", slot))
			return
		}

		count := s.countPreCommits(d.ViewNumber)
		d.Logger.Debug("check pre-commits", zap.Stringer("slot", slot), zap.Int("count", count), zap.Int("need", d.M()))

		if count < d.M() {
			return
		}
	} else if s.countPreCommits(d.ViewNumber) < d.M() && d.OnForcedPreCommit != nil {
		d.OnForcedPreCommit(slot)
	}

	d.sendCommit(slot)
	d.changeTimer(d.SecondsPerBlock)
	d.CheckCommits(slot)
}

// CheckCommits finalizes and hands off the block for slot once M
// Commit payloads have been collected at the current view, regardless
// of whether the PreCommit stage was crossed via the forced path.
func (d *DBFT) CheckCommits(slot Slot) {
	s := d.Slots[slot]

	if !s.hasAllTransactions() {
		d.Logger.Debug("check commits: missing tx", zap.Stringer("slot", slot))
		return
	}

	count := s.countCommits(d.ViewNumber)
	if count < d.M() {
		d.Logger.Debug("not enough commits yet", zap.Stringer("slot", slot), zap.Int("count", count))
		return
	}

	if d.blockSent {
		return
	}

	d.lastBlockIndex = d.BlockIndex
	d.lastBlockTime = d.Timer.Now()
	d.block = d.Context.CreateBlock(slot)
	d.blockSent = true

	h := d.block.Hash()
	d.Logger.Info("finalizing block",
		zap.Uint32("height", d.BlockIndex),
		zap.Stringer("hash", h),
		zap.Stringer("slot", slot),
		zap.Int("tx_count", len(d.block.Transactions())),
		zap.Stringer("merkle", d.block.MerkleRoot()))

	d.ProcessBlock(d.block)
	d.InitializeConsensus(0)
}

// CheckExpectedView checks whether at least M validators have agreed
// (directly or by requesting an even later view) to move to view. If
// so and this node hasn't voted for it yet, it broadcasts its own
// agreement before moving.
func (d *DBFT) CheckExpectedView(view byte) {
	if d.ViewNumber >= view {
		return
	}

	count := 0
	for _, m := range d.ChangeViewPayloads {
		if m != nil && m.GetChangeView().NewViewNumber() >= view {
			count++
		}
	}

	if count < d.M() {
		return
	}

	if !d.Context.WatchOnly() {
		if m := d.ChangeViewPayloads[d.MyIndex]; m == nil || m.GetChangeView().NewViewNumber() < view {
			d.broadcast(d.makeChangeView(uint64(d.Timer.Now().UnixNano()), view, payload.CVChangeAgreement))
		}
	}

	if d.OnViewChangeAdopted != nil {
		d.OnViewChangeAdopted(view)
	}

	d.InitializeConsensus(view)
}
