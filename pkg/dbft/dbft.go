// Package dbft implements the core state machine of a Byzantine
// fault-tolerant block-consensus participant: a single-threaded actor
// that turns network envelopes, transaction arrivals and timer firings
// into proposals, votes and finalized blocks. It runs two proposal
// tracks per view (a priority slot and a fallback slot) and inserts an
// explicit PreCommit phase between preparation and commit.
package dbft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/dbft/block"
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"github.com/vireonet/vireo/pkg/dbft/timer"
	"go.uber.org/zap"
)

type (
	// DBFT wraps a Context with the configuration and bookkeeping not
	// directly part of the state machine itself.
	DBFT struct {
		Context
		Config

		*sync.Mutex
		cache cache
	}

	// Service is the external surface of a running consensus
	// participant.
	Service interface {
		Start()
		OnTransaction(block.Transaction)
		OnReceive(payload.ConsensusPayload)
		OnTimeout(timer.HV)
	}
)

var _ Service = (*DBFT)(nil)

// New returns a new DBFT instance configured by options, or nil if
// required options are missing.
func New(options ...Option) *DBFT {
	cfg := defaultConfig()

	for _, option := range options {
		option(cfg)
	}

	if err := checkConfig(cfg); err != nil {
		return nil
	}

	d := &DBFT{
		Mutex:  new(sync.Mutex),
		Config: *cfg,
		Context: Context{
			Config: cfg,
		},
	}

	return d
}

// Start initializes the state machine and, if this node is a primary
// on either slot, kicks off the first proposal. If a SelfState for the
// current round survives from before a restart, the persisted
// PreCommit/Commit is replayed instead of proposing anew.
func (d *DBFT) Start() {
	d.cache = newCache()
	d.InitializeConsensus(0)

	if d.restoreSelfState() {
		return
	}

	d.start()
}

// restoreSelfState replays the PreCommit or Commit this node persisted
// before a crash, provided the round it was persisted for is still in
// progress. Rebuilding the payload around the recorded signature
// instead of signing fresh is what keeps a restarted node from ever
// emitting two conflicting Commits for the same (height, view).
func (d *DBFT) restoreSelfState() bool {
	if d.Context.WatchOnly() {
		return false
	}

	state, err := d.Load()
	if err != nil {
		d.Logger.Warn("failed to load persisted round state", zap.Error(err))
		return false
	}

	if state == nil || state.BlockIndex != d.BlockIndex || state.Slot > FallbackSlotID {
		return false
	}

	if state.ViewNumber != d.ViewNumber {
		d.InitializeConsensus(state.ViewNumber)
	}

	s := d.Slots[state.Slot]

	if state.Commit {
		p := d.NewConsensusPayload(&d.Context, payload.CommitType, payload.MakeCommit(state.Slot, state.Signature))

		d.commitSent = true
		d.committedOn = state.Slot
		s.PreCommitSent = true
		s.CommitPayloads[d.MyIndex] = p

		d.Logger.Info("replaying persisted Commit",
			zap.Uint32("height", state.BlockIndex),
			zap.Uint("view", uint(state.ViewNumber)),
			zap.Stringer("slot", state.Slot))
		d.broadcast(p)
		d.changeTimer(d.SecondsPerBlock)

		return true
	}

	if state.PreCommit {
		p := d.NewConsensusPayload(&d.Context, payload.PreCommitType, payload.MakePreCommit(state.Slot, state.HeaderHash))

		s.PreCommitSent = true
		s.PreCommitPayloads[d.MyIndex] = p

		d.Logger.Info("replaying persisted PreCommit",
			zap.Uint32("height", state.BlockIndex),
			zap.Uint("view", uint(state.ViewNumber)),
			zap.Stringer("slot", state.Slot))
		d.broadcast(p)

		return true
	}

	return false
}

// InitializeConsensus (re)initializes the round at view, replacing
// whatever round was in progress. Called both to start a new height
// and to move to a new view at the same height.
func (d *DBFT) InitializeConsensus(view byte) {
	d.reset(view)

	var role string

	switch {
	case d.IsAPrimary():
		role = "Primary"
	case d.Context.WatchOnly():
		role = "WatchOnly"
	default:
		role = "Backup"
	}

	logMsg := "initializing dbft"
	if view > 0 {
		logMsg = "changing dbft view"
	}

	d.Logger.Info(logMsg,
		zap.Uint32("height", d.BlockIndex),
		zap.Uint("view", uint(view)),
		zap.Int("index", d.MyIndex),
		zap.String("role", role))

	if d.Context.WatchOnly() {
		return
	}

	var timeout time.Duration
	if d.IsAPrimary() && !d.isRecovering {
		// Moving to view 0 means a block was just persisted or this
		// is the very first round: in both cases the full timeout
		// applies. A nonzero view means we must start immediately.
		if view == 0 {
			timeout = d.SecondsPerBlock
		}
	} else {
		timeout = d.SecondsPerBlock << (d.ViewNumber + 1)
	}

	if d.lastBlockIndex+1 == d.BlockIndex {
		diff := d.Timer.Now().Sub(d.lastBlockTime)
		timeout -= diff
		if timeout < 0 {
			timeout = 0
		}
	}

	d.changeTimer(timeout)
}

// OnTransaction notifies the state machine that tx has become
// available, e.g. after a RequestTx round-trip.
func (d *DBFT) OnTransaction(tx block.Transaction) {
	if d.Context.WatchOnly() || d.NotAcceptingPayloadsDueToViewChanging() || d.BlockSent() {
		return
	}

	for slot := PrioritySlotID; slot <= FallbackSlotID; slot++ {
		s := d.Slots[slot]
		if !s.RequestSentOrReceived || s.ResponseSent || len(s.MissingTransactions) == 0 {
			continue
		}

		for i, h := range s.MissingTransactions {
			if h != tx.Hash() {
				continue
			}

			last := len(s.MissingTransactions) - 1
			if i < last {
				s.MissingTransactions[i] = s.MissingTransactions[last]
			}
			s.MissingTransactions = s.MissingTransactions[:last]

			d.addTransaction(slot, tx)
			break
		}
	}
}

func (d *DBFT) addTransaction(slot Slot, tx block.Transaction) {
	s := d.Slots[slot]
	s.Transactions[tx.Hash()] = tx

	if !s.hasAllTransactions() {
		return
	}

	if !d.createAndCheckBlock(slot) {
		return
	}

	d.CheckPrepareResponse(slot)
}

// OnTimeout advances the state machine as if the round timer fired
// for hv.
func (d *DBFT) OnTimeout(hv timer.HV) {
	if d.Context.WatchOnly() {
		return
	}

	if hv.Height != d.BlockIndex || hv.View != d.ViewNumber {
		d.Logger.Debug("timeout: ignoring stale timer",
			zap.Uint32("height", hv.Height), zap.Uint("view", uint(hv.View)))
		return
	}

	d.Logger.Debug("timeout",
		zap.Uint32("height", hv.Height), zap.Uint("view", uint(hv.View)))

	proposed := false
	if d.IsPriorityPrimary() && !d.RequestSentOrReceived(PrioritySlotID) {
		d.sendPrepareRequest(PrioritySlotID)
		proposed = true
	}
	if d.IsFallbackPrimary() && !d.RequestSentOrReceived(FallbackSlotID) {
		d.sendPrepareRequest(FallbackSlotID)
		proposed = true
	}
	if proposed {
		return
	}

	if d.CommitSent() {
		d.Logger.Debug("resending commit via recovery")
		d.sendRecoveryMessage()
		d.changeTimer(d.SecondsPerBlock << 1)
		return
	}

	d.sendChangeView(payload.CVTimeout)
}

// OnReceive advances the state machine according to msg.
func (d *DBFT) OnReceive(msg payload.ConsensusPayload) {
	if d.BlockSent() {
		return
	}

	if int(msg.ValidatorIndex()) >= len(d.Validators) {
		d.Logger.Error("validator index out of range", zap.Uint16("from", msg.ValidatorIndex()))
		return
	}

	if msg.Payload() == nil {
		d.Logger.DPanic("invalid message: nil payload")
		return
	}

	if expected := d.Validators[msg.ValidatorIndex()].ScriptHash(); msg.Sender() != expected {
		d.Logger.Warn("sender does not authenticate claimed validator index",
			zap.Uint16("index", msg.ValidatorIndex()),
			zap.Stringer("sender", msg.Sender()),
			zap.Stringer("expected", expected))
		return
	}

	d.Logger.Debug("received message",
		zap.Stringer("type", msg.Type()),
		zap.Uint16("from", msg.ValidatorIndex()),
		zap.Uint32("height", msg.Height()),
		zap.Uint("view", uint(msg.ViewNumber())),
		zap.Uint32("my_height", d.BlockIndex),
		zap.Uint("my_view", uint(d.ViewNumber)))

	if msg.Height() < d.BlockIndex {
		d.Logger.Debug("ignoring message from old height", zap.Uint32("height", msg.Height()))
		return
	} else if msg.Height() > d.BlockIndex {
		d.Logger.Warn("chain is behind, caching message from a future height",
			zap.Uint32("height", msg.Height()), zap.Uint32("my_height", d.BlockIndex))
		d.cache.addMessage(msg)
		return
	} else if msg.ViewNumber() == d.ViewNumber+1 && msg.Type() != payload.RecoveryMessageType {
		d.Logger.Debug("caching message from the next view", zap.Uint("view", uint(msg.ViewNumber())))
		d.cache.addMessage(msg)
		return
	}

	if int(msg.ValidatorIndex()) < len(d.LastSeenMessage) && d.LastSeenMessage[msg.ValidatorIndex()] < msg.Height() {
		d.LastSeenMessage[msg.ValidatorIndex()] = msg.Height()
	}

	switch msg.Type() {
	case payload.ChangeViewType:
		d.onChangeView(msg)
	case payload.PrepareRequestType:
		d.onPrepareRequest(msg)
	case payload.PrepareResponseType:
		d.onPrepareResponse(msg)
	case payload.PreCommitType:
		d.onPreCommit(msg)
	case payload.CommitType:
		d.onCommit(msg)
	case payload.RecoveryRequestType:
		d.onRecoveryRequest(msg)
	case payload.RecoveryMessageType:
		d.onRecoveryMessage(msg)
	default:
		d.Logger.DPanic("unhandled message type", zap.Stringer("type", msg.Type()))
	}
}

// start replays cached future-height messages (if this height was
// already waiting in the cache) or sends this node's own proposals.
// It must run after every height or view change.
func (d *DBFT) start() {
	if box := d.cache.take(d.BlockIndex); box != nil {
		for _, m := range box.prepare {
			d.OnReceive(m)
		}
		for _, m := range box.chViews {
			d.OnReceive(m)
		}
		for _, m := range box.commit {
			d.OnReceive(m)
		}
	}

	if d.IsPriorityPrimary() {
		d.sendPrepareRequest(PrioritySlotID)
	}
	if d.IsFallbackPrimary() {
		d.sendPrepareRequest(FallbackSlotID)
	}
}

func (d *DBFT) onPrepareRequest(msg payload.ConsensusPayload) {
	p := msg.GetPrepareRequest()
	slot := p.Slot()
	s := d.Slots[slot]

	if s.RequestSentOrReceived || d.NotAcceptingPayloadsDueToViewChanging() {
		d.Logger.Debug("ignoring PrepareRequest: already have one or view changing", zap.Stringer("slot", slot))
		return
	}

	if d.ViewNumber != msg.ViewNumber() {
		d.Logger.Debug("ignoring PrepareRequest for wrong view", zap.Uint("view", uint(msg.ViewNumber())))
		return
	} else if uint(msg.ValidatorIndex()) != d.GetPrimaryIndex(d.ViewNumber, slot) {
		d.Logger.Debug("ignoring PrepareRequest from non-primary", zap.Uint16("from", msg.ValidatorIndex()))
		return
	}

	if reason, err := d.verifyPrepareRequest(p); err != nil {
		d.Logger.Warn("rejecting PrepareRequest", zap.Uint16("from", msg.ValidatorIndex()), zap.Error(err))
		d.sendChangeView(reason)
		return
	}

	if err := d.VerifyPrepareRequest(msg); err != nil {
		d.Logger.Warn("invalid PrepareRequest", zap.Uint16("from", msg.ValidatorIndex()), zap.Error(err))
		d.sendChangeView(payload.CVBlockRejectedByPolicy)
		return
	}

	d.extendTimer(2)

	if len(p.TransactionHashes()) == 0 {
		d.Logger.Debug("received empty PrepareRequest", zap.Stringer("slot", slot))
	}

	s.Version = p.Version()
	s.PrevHash = p.PrevHash()
	s.Timestamp = p.Timestamp()
	s.Nonce = p.Nonce()
	s.NextConsensus = p.NextConsensus()
	s.TransactionHashes = p.TransactionHashes()
	s.RequestSentOrReceived = true

	d.Logger.Info("received PrepareRequest",
		zap.Uint16("validator", msg.ValidatorIndex()),
		zap.Stringer("slot", slot),
		zap.Int("tx", len(s.TransactionHashes)))

	d.processMissingTx(slot)
	d.updateExistingPreparations(slot, msg)
	s.PreparationPayloads[msg.ValidatorIndex()] = msg

	if !s.hasAllTransactions() || !d.createAndCheckBlock(slot) {
		return
	}

	d.CheckPrepareResponse(slot)
}

// verifyPrepareRequest applies the structural acceptance rules a
// proposal must pass before any of it is installed into the slot: the
// skeleton header fields must agree with what this round expects, the
// proposal must fit the transaction-count cap, its timestamp must fall
// inside the accepted window and it must not respend anything already
// settled. The returned reason is what the resulting ChangeView
// carries.
func (d *DBFT) verifyPrepareRequest(p payload.PrepareRequest) (payload.ChangeViewReason, error) {
	if p.PrevHash() != d.CurrentBlockHash() {
		return payload.CVBlockRejectedByPolicy, errors.New("proposal prev-hash does not extend the current chain tip")
	}

	if p.Version() != 0 {
		return payload.CVBlockRejectedByPolicy, errors.New("unexpected proposal version")
	}

	if len(p.TransactionHashes()) > d.MaxTransactionsPerBlock {
		return payload.CVBlockRejectedByPolicy, fmt.Errorf("proposal carries %d tx, cap is %d",
			len(p.TransactionHashes()), d.MaxTransactionsPerBlock)
	}

	now := d.Timer.Now()
	if p.Timestamp() > uint64(now.Add(8*d.SecondsPerBlock).UnixNano()) {
		return payload.CVBlockRejectedByPolicy, errors.New("proposal timestamp too far in the future")
	}
	if !d.lastBlockTime.IsZero() && d.lastBlockIndex+1 == d.BlockIndex &&
		p.Timestamp() <= uint64(d.lastBlockTime.UnixNano()) {
		return payload.CVBlockRejectedByPolicy, errors.New("proposal timestamp does not advance past the previous block")
	}

	for _, h := range p.TransactionHashes() {
		if d.ContainsTransaction(h) {
			return payload.CVTxInvalid, fmt.Errorf("proposal respends settled transaction %s", h)
		}
	}

	return payload.CVTimeout, nil
}

func (d *DBFT) processMissingTx(slot Slot) {
	s := d.Slots[slot]
	missing := make([]common.Hash, 0, len(s.TransactionHashes)/2)

	for _, h := range s.TransactionHashes {
		if _, ok := s.Transactions[h]; ok {
			continue
		}
		if tx := d.GetTx(h); tx != nil {
			s.Transactions[h] = tx
		} else {
			missing = append(missing, h)
		}
	}

	if len(missing) != 0 {
		s.MissingTransactions = missing
		d.Logger.Info("missing tx", zap.Int("count", len(missing)), zap.Stringer("slot", slot))
		d.RequestTx(missing...)
	}
}

// createAndCheckBlock verifies a slot's proposal (next-consensus
// address and full block-level verification) once every transaction
// is present. On failure it sends a ChangeView and returns false.
func (d *DBFT) createAndCheckBlock(slot Slot) bool {
	s := d.Slots[slot]

	if s.NextConsensus != d.GetConsensusAddress(d.GetValidators(d.BlockIndex+1)...) {
		d.Logger.Error("invalid nextConsensus in proposal", zap.Stringer("slot", slot))
		d.sendChangeView(payload.CVBlockRejectedByPolicy)
		return false
	}

	if b := d.Context.CreateBlock(slot); b == nil || !d.VerifyBlock(b) {
		d.Logger.Warn("proposal fails verification", zap.Stringer("slot", slot))
		d.sendChangeView(payload.CVTxInvalid)
		return false
	}

	return true
}

func (d *DBFT) updateExistingPreparations(slot Slot, msg payload.ConsensusPayload) {
	s := d.Slots[slot]

	for i, m := range s.PreparationPayloads {
		if m == nil || m.Type() != payload.PrepareResponseType {
			continue
		}
		if resp := m.GetPrepareResponse(); resp != nil && resp.PreparationHash() != msg.Hash() {
			s.PreparationPayloads[i] = nil
		}
	}

	header := d.MakeHeader(slot)
	if header == nil {
		return
	}

	for i, m := range s.CommitPayloads {
		if m == nil || m.ViewNumber() != d.ViewNumber {
			continue
		}
		pub := d.Validators[m.ValidatorIndex()]
		if pub.Verify(header.Hash().Bytes(), m.GetCommit().Signature()) != nil {
			s.CommitPayloads[i] = nil
			d.Logger.Warn("dropping commit with invalid signature", zap.Stringer("slot", slot))
		}
	}
}

func (d *DBFT) onPrepareResponse(msg payload.ConsensusPayload) {
	p := msg.GetPrepareResponse()
	slot := p.Slot()
	s := d.Slots[slot]

	if d.ViewNumber != msg.ViewNumber() {
		d.Logger.Debug("ignoring PrepareResponse for wrong view", zap.Uint("view", uint(msg.ViewNumber())))
		return
	} else if uint(msg.ValidatorIndex()) == d.GetPrimaryIndex(d.ViewNumber, slot) {
		d.Logger.Debug("ignoring PrepareResponse from the primary", zap.Uint16("from", msg.ValidatorIndex()))
		return
	}

	if s.PreparationPayloads[msg.ValidatorIndex()] != nil || d.NotAcceptingPayloadsDueToViewChanging() {
		d.Logger.Debug("ignoring PrepareResponse while view changing")
		return
	}

	if err := d.VerifyPrepareResponse(msg); err != nil {
		d.Logger.Warn("invalid PrepareResponse", zap.Uint16("from", msg.ValidatorIndex()), zap.Error(err))
		return
	}

	d.Logger.Info("received PrepareResponse", zap.Uint16("validator", msg.ValidatorIndex()), zap.Stringer("slot", slot))
	s.PreparationPayloads[msg.ValidatorIndex()] = msg

	if req := s.PreparationPayloads[s.PrimaryIndex]; req != nil {
		if h := req.Hash(); p.PreparationHash() != h {
			s.PreparationPayloads[msg.ValidatorIndex()] = nil
			d.Logger.Debug("preparation hash mismatch", zap.Stringer("primary", h), zap.Stringer("received", p.PreparationHash()))
			return
		}
	}

	d.extendTimer(2)

	if !d.Context.WatchOnly() && !d.CommitSent() && s.RequestSentOrReceived {
		d.CheckPreparations(slot)
	}
}

func (d *DBFT) onPreCommit(msg payload.ConsensusPayload) {
	p := msg.GetPreCommit()
	slot := p.Slot()
	s := d.Slots[slot]

	if d.ViewNumber != msg.ViewNumber() {
		d.Logger.Debug("ignoring PreCommit for wrong view", zap.Uint("view", uint(msg.ViewNumber())))
		return
	}

	if s.PreCommitPayloads[msg.ValidatorIndex()] != nil || d.NotAcceptingPayloadsDueToViewChanging() {
		d.Logger.Debug("ignoring PreCommit while view changing", zap.Stringer("slot", slot))
		return
	}

	if req := s.PreparationPayloads[s.PrimaryIndex]; req != nil && req.Hash() != p.PreparationHash() {
		d.Logger.Debug("PreCommit references unknown preparation", zap.Stringer("slot", slot))
		return
	}

	d.Logger.Info("received PreCommit", zap.Uint16("validator", msg.ValidatorIndex()), zap.Stringer("slot", slot))
	s.PreCommitPayloads[msg.ValidatorIndex()] = msg
	d.extendTimer(2)

	if !d.Context.WatchOnly() && !d.CommitSent() && s.RequestSentOrReceived {
		d.CheckPreCommits(slot, false)
	}
}

func (d *DBFT) onChangeView(msg payload.ConsensusPayload) {
	p := msg.GetChangeView()

	if p.NewViewNumber() <= d.ViewNumber {
		d.Logger.Debug("ignoring stale ChangeView", zap.Uint("new_view", uint(p.NewViewNumber())))
		d.onRecoveryRequest(msg)
		return
	}

	if d.CommitSent() {
		d.Logger.Debug("ignoring ChangeView: already committed")
		d.sendRecoveryMessage()
		return
	}

	if m := d.ChangeViewPayloads[msg.ValidatorIndex()]; m != nil && p.NewViewNumber() <= m.GetChangeView().NewViewNumber() {
		return
	}

	d.Logger.Info("received ChangeView",
		zap.Uint("validator", uint(msg.ValidatorIndex())),
		zap.Stringer("reason", p.Reason()),
		zap.Uint("new_view", uint(p.NewViewNumber())))

	d.ChangeViewPayloads[msg.ValidatorIndex()] = msg
	d.CheckExpectedView(p.NewViewNumber())
}

func (d *DBFT) onCommit(msg payload.ConsensusPayload) {
	slot := msg.GetCommit().Slot()
	s := d.Slots[slot]

	if existing := s.CommitPayloads[msg.ValidatorIndex()]; existing != nil {
		if existing.Hash() != msg.Hash() {
			d.Logger.Warn("equivocating commit dropped",
				zap.Uint("validator", uint(msg.ValidatorIndex())), zap.Stringer("slot", slot))
		}
		return
	}

	d.extendTimer(4)

	if d.ViewNumber != msg.ViewNumber() {
		// Park it: counting only happens against the current view, but
		// a lower-view commit becomes usable once recovery supplies the
		// matching header data.
		d.Logger.Info("parking Commit from a different view",
			zap.Uint("validator", uint(msg.ValidatorIndex())), zap.Uint("view", uint(msg.ViewNumber())))
		s.CommitPayloads[msg.ValidatorIndex()] = msg
		return
	}

	d.Logger.Info("received Commit", zap.Uint("validator", uint(msg.ValidatorIndex())), zap.Stringer("slot", slot))

	header := d.MakeHeader(slot)
	if header == nil {
		s.CommitPayloads[msg.ValidatorIndex()] = msg
		return
	}

	pub := d.Validators[msg.ValidatorIndex()]
	if pub.Verify(header.Hash().Bytes(), msg.GetCommit().Signature()) != nil {
		d.Logger.Warn("invalid commit signature", zap.Uint("validator", uint(msg.ValidatorIndex())))
		return
	}

	s.CommitPayloads[msg.ValidatorIndex()] = msg
	d.CheckCommits(slot)
}

func (d *DBFT) broadcast(p payload.ConsensusPayload) {
	if _, priv, _ := d.GetKeyPair(d.Validators); priv != nil {
		if err := p.Sign(priv); err != nil {
			d.Logger.Error("failed to sign outgoing payload", zap.Error(err))
			return
		}
	}

	d.Config.Broadcast(p)
}

func (d *DBFT) changeTimer(delay time.Duration) {
	d.Logger.Debug("resetting timer",
		zap.Uint32("height", d.BlockIndex), zap.Uint("view", uint(d.ViewNumber)), zap.Duration("delay", delay))
	d.Timer.Reset(timer.HV{Height: d.BlockIndex, View: d.ViewNumber}, delay)
}

func (d *DBFT) extendTimer(factor time.Duration) {
	if !d.CommitSent() && !d.ViewChanging() {
		d.Timer.Extend(timer.HV{Height: d.BlockIndex, View: d.ViewNumber}, factor*d.SecondsPerBlock/time.Duration(d.M()))
	}
}
