package payload

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/crypto/keys"
	vio "github.com/vireonet/vireo/pkg/io"
)

type (
	// RecoveryMessage represents dBFT Recovery message. Unlike a
	// single-primary dBFT, it must carry state for both parallel
	// slots, and for the PreCommit phase between preparation and
	// commit.
	RecoveryMessage interface {
		// AddPayload adds payload from this epoch to be recovered.
		AddPayload(p ConsensusPayload)
		// GetPrepareRequest returns the PrepareRequest for slot to be
		// re-processed, or nil if none was carried.
		GetPrepareRequest(p ConsensusPayload, slot Slot, validators []*keys.PublicKey, primary uint16) ConsensusPayload
		// GetPrepareResponses returns a slice of PrepareResponse for
		// slot in any order.
		GetPrepareResponses(p ConsensusPayload, slot Slot, validators []*keys.PublicKey) []ConsensusPayload
		// GetPreCommits returns a slice of PreCommit for slot in any
		// order.
		GetPreCommits(p ConsensusPayload, slot Slot, validators []*keys.PublicKey) []ConsensusPayload
		// GetChangeViews returns a slice of ChangeView in any order.
		GetChangeViews(p ConsensusPayload, validators []*keys.PublicKey) []ConsensusPayload
		// GetCommits returns a slice of Commit in any order.
		GetCommits(p ConsensusPayload, validators []*keys.PublicKey) []ConsensusPayload

		// PreparationHash returns the hash of the PrepareRequest
		// payload for slot in this epoch. Useful when only
		// PrepareResponse/PreCommit payloads were received.
		PreparationHash(slot Slot) *common.Hash
		// SetPreparationHash sets the preparation hash for slot.
		SetPreparationHash(slot Slot, h *common.Hash)
	}

	recoveryMessage struct {
		preparationHash     [2]*common.Hash
		prepareRequest      [2]PrepareRequest
		preparationPayloads [2][]preparationCompact
		preCommitPayloads   [2][]preparationCompact
		commitPayloads      []commitCompact
		changeViewPayloads  []changeViewCompact
	}

	preparationCompact struct {
		validatorIndex uint16
	}

	changeViewCompact struct {
		validatorIndex     uint16
		originalViewNumber byte
		timestamp          uint64
	}

	commitCompact struct {
		viewNumber     byte
		validatorIndex uint16
		slot           Slot
		signature      [65]byte
	}
)

func (c *preparationCompact) EncodeBinary(w *vio.BinWriter) {
	w.WriteU64LE(uint64(c.validatorIndex))
}

func (c *preparationCompact) DecodeBinary(r *vio.BinReader) {
	c.validatorIndex = uint16(r.ReadU64LE())
}

func (c *changeViewCompact) EncodeBinary(w *vio.BinWriter) {
	w.WriteU64LE(uint64(c.validatorIndex))
	w.WriteB(c.originalViewNumber)
	w.WriteU64LE(c.timestamp)
}

func (c *changeViewCompact) DecodeBinary(r *vio.BinReader) {
	c.validatorIndex = uint16(r.ReadU64LE())
	c.originalViewNumber = r.ReadB()
	c.timestamp = r.ReadU64LE()
}

func (c *commitCompact) EncodeBinary(w *vio.BinWriter) {
	w.WriteB(c.viewNumber)
	w.WriteU64LE(uint64(c.validatorIndex))
	w.WriteB(byte(c.slot))
	w.WriteBytes(c.signature[:])
}

func (c *commitCompact) DecodeBinary(r *vio.BinReader) {
	c.viewNumber = r.ReadB()
	c.validatorIndex = uint16(r.ReadU64LE())
	c.slot = Slot(r.ReadB())
	r.ReadBytes(c.signature[:])
}

var _ RecoveryMessage = (*recoveryMessage)(nil)

// NewRecoveryMessage returns a blank RecoveryMessage variant.
func NewRecoveryMessage() RecoveryMessage { return &recoveryMessage{} }

// PreparationHash implements RecoveryMessage interface.
func (m *recoveryMessage) PreparationHash(slot Slot) *common.Hash {
	return m.preparationHash[slot]
}

// SetPreparationHash implements RecoveryMessage interface.
func (m *recoveryMessage) SetPreparationHash(slot Slot, h *common.Hash) {
	m.preparationHash[slot] = h
}

// AddPayload implements RecoveryMessage interface.
func (m *recoveryMessage) AddPayload(p ConsensusPayload) {
	switch p.Type() {
	case PrepareRequestType:
		req := p.GetPrepareRequest()
		slot := req.Slot()
		m.prepareRequest[slot] = req
		prepHash := p.Hash()
		m.preparationHash[slot] = &prepHash
	case PrepareResponseType:
		slot := p.GetPrepareResponse().Slot()
		m.preparationPayloads[slot] = append(m.preparationPayloads[slot], preparationCompact{
			validatorIndex: p.ValidatorIndex(),
		})
	case PreCommitType:
		slot := p.GetPreCommit().Slot()
		m.preCommitPayloads[slot] = append(m.preCommitPayloads[slot], preparationCompact{
			validatorIndex: p.ValidatorIndex(),
		})
	case ChangeViewType:
		m.changeViewPayloads = append(m.changeViewPayloads, changeViewCompact{
			validatorIndex:     p.ValidatorIndex(),
			originalViewNumber: p.ViewNumber(),
			timestamp:          0,
		})
	case CommitType:
		cc := commitCompact{
			viewNumber:     p.ViewNumber(),
			validatorIndex: p.ValidatorIndex(),
			slot:           p.GetCommit().Slot(),
		}
		copy(cc.signature[:], p.GetCommit().Signature())
		m.commitPayloads = append(m.commitPayloads, cc)
	}
}

func fromPayload(t MessageType, recovery ConsensusPayload, p interface{}) *Payload {
	return &Payload{
		message: message{
			cmType:     t,
			viewNumber: recovery.ViewNumber(),
			payload:    p,
		},
		height: recovery.Height(),
	}
}

// stampSender fills the rebuilt envelope's sender from the validator
// registry so the dispatcher's sender-authenticates-index check passes
// for re-injected payloads. Returns false when the carried validator
// index is out of range for the registry, in which case the entry is
// discarded.
func stampSender(p ConsensusPayload, validators []*keys.PublicKey) bool {
	idx := int(p.ValidatorIndex())
	if idx >= len(validators) {
		return false
	}

	p.SetSender(validators[idx].ScriptHash())
	return true
}

// GetPrepareRequest implements RecoveryMessage interface.
func (m *recoveryMessage) GetPrepareRequest(p ConsensusPayload, slot Slot, validators []*keys.PublicKey, ind uint16) ConsensusPayload {
	req := m.prepareRequest[slot]
	if req == nil {
		return nil
	}

	out := fromPayload(PrepareRequestType, p, &prepareRequest{
		slot:              slot,
		version:           req.Version(),
		prevHash:          req.PrevHash(),
		timestamp:         req.Timestamp(),
		nonce:             req.Nonce(),
		transactionHashes: req.TransactionHashes(),
		nextConsensus:     req.NextConsensus(),
	})
	out.SetValidatorIndex(ind)
	if !stampSender(out, validators) {
		return nil
	}

	return out
}

// GetPrepareResponses implements RecoveryMessage interface.
func (m *recoveryMessage) GetPrepareResponses(p ConsensusPayload, slot Slot, validators []*keys.PublicKey) []ConsensusPayload {
	if m.preparationHash[slot] == nil {
		return nil
	}

	payloads := make([]ConsensusPayload, 0, len(m.preparationPayloads[slot]))

	for _, resp := range m.preparationPayloads[slot] {
		out := fromPayload(PrepareResponseType, p, &prepareResponse{
			slot:            slot,
			preparationHash: *m.preparationHash[slot],
		})
		out.SetValidatorIndex(resp.validatorIndex)
		if stampSender(out, validators) {
			payloads = append(payloads, out)
		}
	}

	return payloads
}

// GetPreCommits implements RecoveryMessage interface.
func (m *recoveryMessage) GetPreCommits(p ConsensusPayload, slot Slot, validators []*keys.PublicKey) []ConsensusPayload {
	if m.preparationHash[slot] == nil {
		return nil
	}

	payloads := make([]ConsensusPayload, 0, len(m.preCommitPayloads[slot]))

	for _, resp := range m.preCommitPayloads[slot] {
		out := fromPayload(PreCommitType, p, &preCommit{
			slot:            slot,
			preparationHash: *m.preparationHash[slot],
		})
		out.SetValidatorIndex(resp.validatorIndex)
		if stampSender(out, validators) {
			payloads = append(payloads, out)
		}
	}

	return payloads
}

// GetChangeViews implements RecoveryMessage interface.
func (m *recoveryMessage) GetChangeViews(p ConsensusPayload, validators []*keys.PublicKey) []ConsensusPayload {
	payloads := make([]ConsensusPayload, 0, len(m.changeViewPayloads))

	for _, cv := range m.changeViewPayloads {
		out := fromPayload(ChangeViewType, p, &changeView{
			newViewNumber: cv.originalViewNumber + 1,
			timestamp:     cv.timestamp,
		})
		out.SetValidatorIndex(cv.validatorIndex)
		if stampSender(out, validators) {
			payloads = append(payloads, out)
		}
	}

	return payloads
}

// GetCommits implements RecoveryMessage interface.
func (m *recoveryMessage) GetCommits(p ConsensusPayload, validators []*keys.PublicKey) []ConsensusPayload {
	payloads := make([]ConsensusPayload, 0, len(m.commitPayloads))

	for _, c := range m.commitPayloads {
		out := fromPayload(CommitType, p, &commit{slot: c.slot, signature: c.signature})
		out.SetValidatorIndex(c.validatorIndex)
		out.SetViewNumber(c.viewNumber)
		if stampSender(out, validators) {
			payloads = append(payloads, out)
		}
	}

	return payloads
}

// EncodeBinary implements io.Serializable interface.
func (m *recoveryMessage) EncodeBinary(w *vio.BinWriter) {
	encodeChangeViews(w, m.changeViewPayloads)

	for slot := Slot(0); slot < 2; slot++ {
		hasReq := m.prepareRequest[slot] != nil
		w.WriteBool(hasReq)

		if hasReq {
			m.prepareRequest[slot].(vio.Serializable).EncodeBinary(w)
		} else if m.preparationHash[slot] == nil {
			w.WriteVarUint(0)
		} else {
			w.WriteVarUint(common.HashLength)
			w.WriteBytes(m.preparationHash[slot][:])
		}

		encodePreparations(w, m.preparationPayloads[slot])
		encodePreparations(w, m.preCommitPayloads[slot])
	}

	encodeCommits(w, m.commitPayloads)
}

// DecodeBinary implements io.Serializable interface.
func (m *recoveryMessage) DecodeBinary(r *vio.BinReader) {
	m.changeViewPayloads = decodeChangeViews(r)

	for slot := Slot(0); slot < 2; slot++ {
		if hasReq := r.ReadBool(); hasReq {
			req := new(prepareRequest)
			req.DecodeBinary(r)
			m.prepareRequest[slot] = req
		} else {
			l := r.ReadVarUint()
			if l != 0 {
				if l == common.HashLength {
					h := new(common.Hash)
					r.ReadBytes(h[:])
					m.preparationHash[slot] = h
				} else {
					r.Err = errors.New("wrong common.Hash length")
				}
			}
		}

		m.preparationPayloads[slot] = decodePreparations(r)
		m.preCommitPayloads[slot] = decodePreparations(r)
	}

	m.commitPayloads = decodeCommits(r)
}

func encodePreparations(w *vio.BinWriter, arr []preparationCompact) {
	w.WriteVarUint(uint64(len(arr)))
	for i := range arr {
		arr[i].EncodeBinary(w)
	}
}

func decodePreparations(r *vio.BinReader) []preparationCompact {
	n := r.ReadVarUint()
	arr := make([]preparationCompact, n)
	for i := range arr {
		arr[i].DecodeBinary(r)
	}
	return arr
}

func encodeChangeViews(w *vio.BinWriter, arr []changeViewCompact) {
	w.WriteVarUint(uint64(len(arr)))
	for i := range arr {
		arr[i].EncodeBinary(w)
	}
}

func decodeChangeViews(r *vio.BinReader) []changeViewCompact {
	n := r.ReadVarUint()
	arr := make([]changeViewCompact, n)
	for i := range arr {
		arr[i].DecodeBinary(r)
	}
	return arr
}

func encodeCommits(w *vio.BinWriter, arr []commitCompact) {
	w.WriteVarUint(uint64(len(arr)))
	for i := range arr {
		arr[i].EncodeBinary(w)
	}
}

func decodeCommits(r *vio.BinReader) []commitCompact {
	n := r.ReadVarUint()
	arr := make([]commitCompact, n)
	for i := range arr {
		arr[i].DecodeBinary(r)
	}
	return arr
}
