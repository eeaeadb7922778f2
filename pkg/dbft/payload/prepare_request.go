package payload

import (
	"github.com/ethereum/go-ethereum/common"
	vio "github.com/vireonet/vireo/pkg/io"
)

type prepareRequest struct {
	slot              Slot
	version           uint32
	prevHash          common.Hash
	timestamp         uint64
	nonce             uint64
	transactionHashes []common.Hash
	nextConsensus     common.Address
}

var _ PrepareRequest = (*prepareRequest)(nil)
var _ vio.Serializable = (*prepareRequest)(nil)

// NewPrepareRequest returns a blank PrepareRequest variant.
func NewPrepareRequest() PrepareRequest { return &prepareRequest{} }

// MakePrepareRequest returns a filled PrepareRequest variant ready to
// be wrapped in a ConsensusPayload and broadcast.
func MakePrepareRequest(slot Slot, version uint32, prevHash common.Hash, timestamp, nonce uint64, txHashes []common.Hash, nextConsensus common.Address) PrepareRequest {
	return &prepareRequest{
		slot:              slot,
		version:           version,
		prevHash:          prevHash,
		timestamp:         timestamp,
		nonce:             nonce,
		transactionHashes: txHashes,
		nextConsensus:     nextConsensus,
	}
}

func (p *prepareRequest) Slot() Slot { return p.slot }
func (p *prepareRequest) Version() uint32 { return p.version }
func (p *prepareRequest) PrevHash() common.Hash { return p.prevHash }
func (p *prepareRequest) Timestamp() uint64 { return p.timestamp }
func (p *prepareRequest) Nonce() uint64 { return p.nonce }
func (p *prepareRequest) TransactionHashes() []common.Hash { return p.transactionHashes }
func (p *prepareRequest) NextConsensus() common.Address { return p.nextConsensus }

func (p *prepareRequest) EncodeBinary(w *vio.BinWriter) {
	w.WriteB(byte(p.slot))
	w.WriteU32LE(p.version)
	w.WriteBytes(p.prevHash[:])
	w.WriteU64LE(p.timestamp)
	w.WriteU64LE(p.nonce)
	w.WriteBytes(p.nextConsensus.Bytes())
	w.WriteVarUint(uint64(len(p.transactionHashes)))
	for _, h := range p.transactionHashes {
		w.WriteBytes(h[:])
	}
}

func (p *prepareRequest) DecodeBinary(r *vio.BinReader) {
	p.slot = Slot(r.ReadB())
	p.version = r.ReadU32LE()
	r.ReadBytes(p.prevHash[:])
	p.timestamp = r.ReadU64LE()
	p.nonce = r.ReadU64LE()

	var addr [20]byte
	r.ReadBytes(addr[:])
	p.nextConsensus = common.Address(addr)

	n := r.ReadVarUint()
	p.transactionHashes = make([]common.Hash, n)
	for i := range p.transactionHashes {
		r.ReadBytes(p.transactionHashes[i][:])
	}
}
