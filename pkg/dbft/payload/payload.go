// Package payload defines the seven consensus message kinds as a
// tagged variant sharing a common header (BlockIndex, ValidatorIndex,
// ViewNumber), plus the envelope (ConsensusPayload) that carries
// sender authentication and a signature over it.
package payload

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/crypto/hash"
	"github.com/vireonet/vireo/pkg/crypto/keys"
	vio "github.com/vireonet/vireo/pkg/io"
)

type (
	// PrepareRequest is sent by a slot's primary to propose a block.
	PrepareRequest interface {
		Slot() Slot
		Timestamp() uint64
		Nonce() uint64
		TransactionHashes() []common.Hash
		NextConsensus() common.Address
		Version() uint32
		PrevHash() common.Hash
	}

	// PrepareResponse is sent by a backup once it has verified the
	// slot's PrepareRequest and holds every transaction it proposes.
	PrepareResponse interface {
		Slot() Slot
		// PreparationHash is the hash of the PrepareRequest envelope
		// this response is for.
		PreparationHash() common.Hash
	}

	// PreCommit gates transaction-dissemination progress between
	// preparation and commit: a backup sends it once its slot's
	// preparation threshold is met and it holds every transaction.
	PreCommit interface {
		Slot() Slot
		PreparationHash() common.Hash
	}

	// ChangeView requests (or announces agreement on) moving to a new
	// view.
	ChangeView interface {
		NewViewNumber() byte
		Timestamp() uint64
		Reason() ChangeViewReason
	}

	// Commit carries a validator's signature over a slot's finalized
	// header.
	Commit interface {
		Slot() Slot
		Signature() []byte
	}

	// RecoveryRequest asks peers to resend their round state.
	RecoveryRequest interface {
		Timestamp() uint64
	}

	// ConsensusPayload is the signed envelope wrapping exactly one of
	// the message variants above plus the shared header fields.
	ConsensusPayload interface {
		hash.Hashable
		vio.Serializable

		Height() uint32
		SetHeight(uint32)
		Type() MessageType
		SetType(MessageType)
		ViewNumber() byte
		SetViewNumber(byte)
		ValidatorIndex() uint16
		SetValidatorIndex(uint16)
		Payload() interface{}
		SetPayload(interface{})

		GetChangeView() ChangeView
		GetPrepareRequest() PrepareRequest
		GetPrepareResponse() PrepareResponse
		GetPreCommit() PreCommit
		GetCommit() Commit
		GetRecoveryRequest() RecoveryRequest
		GetRecoveryMessage() RecoveryMessage

		Sender() common.Address
		SetSender(common.Address)
		Signature() []byte
		Sign(priv *keys.PrivateKey) error
		Verify(expected common.Address) error
	}
)

// message is the shared header plus variant payload, embedded in
// Payload. It exists separately so fromPayload in recovery_message.go (and
// tests) can build one without going through the full envelope.
type message struct {
	cmType     MessageType
	viewNumber byte
	payload    interface{}
}

// Payload is the concrete ConsensusPayload implementation.
type Payload struct {
	message

	height         uint32
	validatorIndex uint16
	sender         common.Address
	signature      []byte

	hashCached *common.Hash
}

var _ ConsensusPayload = (*Payload)(nil)

// NewConsensusPayload returns a blank envelope, used by tests and by
// the default config constructor.
func NewConsensusPayload() *Payload { return &Payload{} }

func (p *Payload) Height() uint32 { return p.height }
func (p *Payload) SetHeight(h uint32) { p.height = h; p.hashCached = nil }
func (p *Payload) Type() MessageType { return p.cmType }
func (p *Payload) SetType(t MessageType) { p.cmType = t; p.hashCached = nil }
func (p *Payload) ViewNumber() byte { return p.viewNumber }
func (p *Payload) SetViewNumber(v byte) { p.viewNumber = v; p.hashCached = nil }
func (p *Payload) ValidatorIndex() uint16 { return p.validatorIndex }
func (p *Payload) SetValidatorIndex(i uint16) { p.validatorIndex = i; p.hashCached = nil }
func (p *Payload) Payload() interface{} { return p.payload }
func (p *Payload) SetPayload(pl interface{}) { p.payload = pl; p.hashCached = nil }
func (p *Payload) Sender() common.Address { return p.sender }
func (p *Payload) SetSender(s common.Address) { p.sender = s }
func (p *Payload) Signature() []byte { return p.signature }

func (p *Payload) GetChangeView() ChangeView {
	cv, _ := p.payload.(ChangeView)
	return cv
}

func (p *Payload) GetPrepareRequest() PrepareRequest {
	pr, _ := p.payload.(PrepareRequest)
	return pr
}

func (p *Payload) GetPrepareResponse() PrepareResponse {
	pr, _ := p.payload.(PrepareResponse)
	return pr
}

func (p *Payload) GetPreCommit() PreCommit {
	pc, _ := p.payload.(PreCommit)
	return pc
}

func (p *Payload) GetCommit() Commit {
	c, _ := p.payload.(Commit)
	return c
}

func (p *Payload) GetRecoveryRequest() RecoveryRequest {
	rr, _ := p.payload.(RecoveryRequest)
	return rr
}

func (p *Payload) GetRecoveryMessage() RecoveryMessage {
	rm, _ := p.payload.(RecoveryMessage)
	return rm
}

// hashableData returns the bytes a signature and Hash are computed
// over: everything except the signature itself.
func (p *Payload) hashableData() []byte {
	bs := newByteSink()
	bw := vio.NewBinWriterFromIO(bs)
	p.encodeUnsigned(bw)
	bw.Flush()

	return bs.buf
}

// Hash returns the content hash of the envelope, implementing
// hash.Hashable.
func (p *Payload) Hash() common.Hash {
	if p.hashCached != nil {
		return *p.hashCached
	}

	h := hash.Keccak256(p.hashableData())
	p.hashCached = &h

	return h
}

// Sign computes and stores the envelope's signature with priv.
func (p *Payload) Sign(priv *keys.PrivateKey) error {
	sig, err := priv.Sign(p.hashableData())
	if err != nil {
		return err
	}

	p.signature = sig
	p.sender = priv.PublicKey().ScriptHash()

	return nil
}

// Verify checks that the envelope's sender is the script hash of the
// expected validator's single-sig redeem script and that a signature
// is present. It does not know the validator's public key, only its
// script hash, so callers must resolve the key from the validator
// registry and verify the signature separately when the sender check
// alone isn't sufficient.
func (p *Payload) Verify(expected common.Address) error {
	if p.sender != expected {
		return errors.New("sender does not match expected validator script hash")
	}

	if len(p.signature) == 0 {
		return errors.New("missing signature")
	}

	return nil
}

// EncodeBinary implements io.Serializable.
func (p *Payload) EncodeBinary(w *vio.BinWriter) {
	p.encodeUnsigned(w)
	w.WriteVarBytes(p.signature)
}

func (p *Payload) encodeUnsigned(w *vio.BinWriter) {
	w.WriteU32LE(p.height)
	w.WriteB(byte(p.cmType))
	w.WriteB(p.viewNumber)
	var vi [2]byte
	vi[0], vi[1] = byte(p.validatorIndex), byte(p.validatorIndex>>8)
	w.WriteBytes(vi[:])
	w.WriteBytes(p.sender.Bytes())

	switch v := p.payload.(type) {
	case vio.Serializable:
		v.EncodeBinary(w)
	default:
		w.Err = errors.New("payload: unknown or unset message variant")
	}
}

// DecodeBinary implements io.Serializable. The caller must have
// already set a suitable empty payload variant matching cmType before
// calling, so DecodeBinary only fills in what it can read generically
// plus delegates to the variant's own DecodeBinary.
func (p *Payload) DecodeBinary(r *vio.BinReader) {
	p.height = r.ReadU32LE()
	p.cmType = MessageType(r.ReadB())
	p.viewNumber = r.ReadB()

	var vi [2]byte
	r.ReadBytes(vi[:])
	p.validatorIndex = uint16(vi[0]) | uint16(vi[1])<<8

	var addr [20]byte
	r.ReadBytes(addr[:])
	p.sender = common.Address(addr)

	if v, ok := p.payload.(vio.Serializable); ok {
		v.DecodeBinary(r)
	} else {
		r.Err = errors.New("payload: decode target not set")
	}

	p.signature = r.ReadVarBytes()
	p.hashCached = nil
}

type byteSink struct{ buf []byte }

func newByteSink() *byteSink { return &byteSink{} }

func (b *byteSink) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}
