package dbft

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"go.uber.org/zap"
)

// defaultNewConsensusPayload wraps a filled message variant into a
// blank envelope stamped with this round's height/view and this node's
// ValidatorIndex; the signature is filled by broadcast just before it
// goes out.
func defaultNewConsensusPayload(ctx *Context, t payload.MessageType, p interface{}) payload.ConsensusPayload {
	cp := payload.NewConsensusPayload()
	cp.SetHeight(ctx.BlockIndex)
	cp.SetType(t)
	cp.SetViewNumber(ctx.ViewNumber)
	cp.SetValidatorIndex(uint16(ctx.MyIndex))
	cp.SetPayload(p)

	return cp
}

func (d *DBFT) sendPrepareRequest(slot Slot) {
	s := d.Slots[slot]

	s.Timestamp = uint64(d.Timer.Now().UnixNano())
	if !d.lastBlockTime.IsZero() {
		ts := uint64(d.lastBlockTime.UnixNano()) + d.TimestampIncrement
		if ts > s.Timestamp {
			s.Timestamp = ts
		}
	}

	s.Nonce = uint64(d.Timer.Now().UnixNano())
	s.NextConsensus = d.GetConsensusAddress(d.GetValidators(d.BlockIndex+1)...)

	txs := d.GetVerified()
	s.TransactionHashes = make([]common.Hash, 0, len(txs))
	for _, tx := range txs {
		h := tx.Hash()
		s.TransactionHashes = append(s.TransactionHashes, h)
		s.Transactions[h] = tx
	}

	s.PrevHash = d.CurrentBlockHash()
	req := payload.MakePrepareRequest(slot, 0, s.PrevHash, s.Timestamp, s.Nonce, s.TransactionHashes, s.NextConsensus)
	p := d.NewConsensusPayload(&d.Context, payload.PrepareRequestType, req)

	s.RequestSentOrReceived = true
	s.PreparationPayloads[d.MyIndex] = p

	d.Logger.Info("sending PrepareRequest", zap.Stringer("slot", slot), zap.Int("tx", len(s.TransactionHashes)))
	d.broadcast(p)

	if s.hasAllTransactions() {
		d.CheckPreparations(slot)
	}
}

func (d *DBFT) sendPrepareResponse(slot Slot) {
	s := d.Slots[slot]
	if s.ResponseSent {
		return
	}

	req := s.PreparationPayloads[s.PrimaryIndex]
	if req == nil {
		return
	}

	resp := payload.MakePrepareResponse(slot, req.Hash())
	p := d.NewConsensusPayload(&d.Context, payload.PrepareResponseType, resp)

	s.ResponseSent = true
	s.PreparationPayloads[d.MyIndex] = p

	d.Logger.Info("sending PrepareResponse", zap.Stringer("slot", slot))
	d.broadcast(p)
}

func (d *DBFT) sendPreCommit(slot Slot) {
	s := d.Slots[slot]
	if s.PreCommitSent {
		return
	}

	req := s.PreparationPayloads[s.PrimaryIndex]
	if req == nil {
		return
	}

	pc := payload.MakePreCommit(slot, req.Hash())
	p := d.NewConsensusPayload(&d.Context, payload.PreCommitType, pc)

	s.PreCommitSent = true
	s.PreCommitPayloads[d.MyIndex] = p

	if err := d.Save(&SelfState{
		BlockIndex: d.BlockIndex,
		ViewNumber: d.ViewNumber,
		Slot:       slot,
		PreCommit:  true,
		HeaderHash: req.Hash(),
	}); err != nil {
		d.Logger.Error("failed to persist pre-commit state", zap.Error(err))
	}

	d.Logger.Info("sending PreCommit", zap.Stringer("slot", slot))
	d.broadcast(p)
}

func (d *DBFT) sendCommit(slot Slot) {
	if d.commitSent {
		return
	}

	header := d.MakeHeader(slot)
	if header == nil {
		d.Logger.DPanic("sendCommit called before header was ready", zap.Stringer("slot", slot))
		return
	}

	_, priv, _ := d.GetKeyPair(d.Validators)
	if priv == nil {
		return
	}

	sig, err := priv.Sign(header.Hash().Bytes())
	if err != nil {
		d.Logger.Error("failed to sign header", zap.Error(err))
		return
	}

	c := payload.MakeCommit(slot, sig)
	p := d.NewConsensusPayload(&d.Context, payload.CommitType, c)

	if err := d.Save(&SelfState{
		BlockIndex: d.BlockIndex,
		ViewNumber: d.ViewNumber,
		Slot:       slot,
		Commit:     true,
		Signature:  sig,
		HeaderHash: header.Hash(),
	}); err != nil {
		d.Logger.Error("failed to persist commit state", zap.Error(err))
		return
	}

	d.commitSent = true
	d.committedOn = slot
	d.Slots[slot].CommitPayloads[d.MyIndex] = p

	d.Logger.Info("sending Commit", zap.Stringer("slot", slot))
	d.broadcast(p)
}

func (d *DBFT) sendChangeView(reason payload.ChangeViewReason) {
	if d.Context.WatchOnly() {
		return
	}

	newView := d.ViewNumber + 1
	d.broadcast(d.makeChangeView(uint64(d.Timer.Now().UnixNano()), newView, reason))
	d.changeTimer(d.SecondsPerBlock << (newView + 1))
}

func (d *DBFT) makeChangeView(timestamp uint64, newView byte, reason payload.ChangeViewReason) payload.ConsensusPayload {
	cv := payload.MakeChangeView(newView, timestamp, reason)
	p := d.NewConsensusPayload(&d.Context, payload.ChangeViewType, cv)
	d.ChangeViewPayloads[d.MyIndex] = p
	return p
}
