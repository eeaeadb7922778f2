package dbft

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"go.uber.org/zap"
)

// knownHashSet is a small bounded dedup set used to avoid answering a
// RecoveryRequest that was already seen at this height. It is rebuilt
// on every height change so membership never leaks across heights.
type knownHashSet struct {
	cache *lru.Cache
}

func newKnownHashSet(size int) *knownHashSet {
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New(size)
	return &knownHashSet{cache: c}
}

// seen reports whether h was already recorded, recording it as a
// side effect.
func (k *knownHashSet) seen(h common.Hash) bool {
	if k == nil || k.cache == nil {
		return false
	}
	if k.cache.Contains(h) {
		return true
	}
	k.cache.Add(h, struct{}{})
	return false
}

func (d *DBFT) onRecoveryRequest(msg payload.ConsensusPayload) {
	if d.knownHashes.seen(msg.Hash()) {
		return
	}

	if d.Context.WatchOnly() {
		return
	}

	if !d.CommitSent() && !shouldRespondToRecovery(int(msg.ValidatorIndex()), d.MyIndex, d.F(), len(d.Validators)) {
		return
	}

	d.sendRecoveryMessage()
}

// shouldRespondToRecovery is the rotating-responder rule: only the F
// validators immediately after the requester, going forward around the
// ring, answer a recovery request. This bounds the fan-out of replies
// to at most F nodes per request.
func shouldRespondToRecovery(requester, my, f, n int) bool {
	for i := 1; i <= f; i++ {
		if (requester+i)%n == my {
			return true
		}
	}
	return false
}

func (d *DBFT) onRecoveryMessage(msg payload.ConsensusPayload) {
	d.Logger.Debug("recovery message received", zap.Uint16("from", msg.ValidatorIndex()))

	var (
		validPrepResp, validPreCommit, validChViews, validCommits int
	)

	recovery := msg.GetRecoveryMessage()
	total := len(d.Validators)

	d.isRecovering = true

	defer func() {
		d.Logger.Sugar().Debugf("recovering finished cv=%d/%d presp=%d/%d precommit=%d/%d co=%d/%d",
			validChViews, total,
			validPrepResp, total,
			validPreCommit, total,
			validCommits, total)
		d.isRecovering = false
	}()

	if msg.ViewNumber() > d.ViewNumber {
		if d.CommitSent() {
			return
		}

		for _, m := range recovery.GetChangeViews(msg, d.Validators) {
			validChViews++
			d.OnReceive(m)
		}
	}

	if msg.ViewNumber() == d.ViewNumber && !d.NotAcceptingPayloadsDueToViewChanging() && !d.CommitSent() {
		for slot := PrioritySlotID; slot <= FallbackSlotID; slot++ {
			if !d.RequestSentOrReceived(slot) {
				prepReq := recovery.GetPrepareRequest(msg, slot, d.Validators, uint16(d.Slots[slot].PrimaryIndex))
				if prepReq != nil {
					d.OnReceive(prepReq)
				} else if d.canSynthesizePrepareRequest(slot) {
					d.sendPrepareRequest(slot)
				}
			}

			for _, m := range recovery.GetPrepareResponses(msg, slot, d.Validators) {
				validPrepResp++
				d.OnReceive(m)
			}

			for _, m := range recovery.GetPreCommits(msg, slot, d.Validators) {
				validPreCommit++
				d.OnReceive(m)
			}
		}
	}

	if msg.ViewNumber() <= d.ViewNumber {
		// Ensure we know about every commit from lower view numbers
		// regardless of view-changing state: once any honest node
		// commits, abandoning that view is unsafe.
		for _, m := range recovery.GetCommits(msg, d.Validators) {
			validCommits++
			d.OnReceive(m)
		}
	}
}

// canSynthesizePrepareRequest reports whether this node may fabricate
// and send its own PrepareRequest for slot when a RecoveryMessage
// carried none, rather than waiting for the original primary. The
// priority slot may always be re-synthesized by its primary; the
// fallback slot only at view 0.
func (d *DBFT) canSynthesizePrepareRequest(slot Slot) bool {
	if slot == PrioritySlotID {
		return d.IsPriorityPrimary()
	}
	return d.IsFallbackPrimary() && d.ViewNumber == 0
}

func (d *DBFT) sendRecoveryMessage() {
	rm := d.NewRecoveryMessage()

	for slot := PrioritySlotID; slot <= FallbackSlotID; slot++ {
		s := d.Slots[slot]

		if s.RequestSentOrReceived {
			req := s.PreparationPayloads[s.PrimaryIndex]
			if req != nil {
				rm.AddPayload(req)
			}
		}

		for _, m := range s.PreparationPayloads {
			if m != nil && m.ViewNumber() == d.ViewNumber {
				rm.AddPayload(m)
			}
		}

		for _, m := range s.PreCommitPayloads {
			if m != nil && m.ViewNumber() == d.ViewNumber {
				rm.AddPayload(m)
			}
		}
	}

	for _, m := range d.ChangeViewPayloads {
		if m != nil {
			rm.AddPayload(m)
		}
	}

	for slot := PrioritySlotID; slot <= FallbackSlotID; slot++ {
		for _, m := range d.Slots[slot].CommitPayloads {
			if m != nil {
				rm.AddPayload(m)
			}
		}
	}

	d.broadcast(d.NewConsensusPayload(&d.Context, payload.RecoveryMessageType, rm))
}
