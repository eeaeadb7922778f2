package payload

import (
	"github.com/ethereum/go-ethereum/common"
	vio "github.com/vireonet/vireo/pkg/io"
)

type prepareResponse struct {
	slot            Slot
	preparationHash common.Hash
}

var _ PrepareResponse = (*prepareResponse)(nil)

// NewPrepareResponse returns a blank PrepareResponse variant.
func NewPrepareResponse() PrepareResponse { return &prepareResponse{} }

// MakePrepareResponse returns a filled PrepareResponse variant.
func MakePrepareResponse(slot Slot, preparationHash common.Hash) PrepareResponse {
	return &prepareResponse{slot: slot, preparationHash: preparationHash}
}

func (p *prepareResponse) Slot() Slot { return p.slot }
func (p *prepareResponse) PreparationHash() common.Hash { return p.preparationHash }

func (p *prepareResponse) EncodeBinary(w *vio.BinWriter) {
	w.WriteB(byte(p.slot))
	w.WriteBytes(p.preparationHash[:])
}

func (p *prepareResponse) DecodeBinary(r *vio.BinReader) {
	p.slot = Slot(r.ReadB())
	r.ReadBytes(p.preparationHash[:])
}
