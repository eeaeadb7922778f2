package payload

import (
	"github.com/ethereum/go-ethereum/common"
	vio "github.com/vireonet/vireo/pkg/io"
)

// preCommit is the payload of the PreCommit phase inserted between
// preparation and commit: it gates transaction-dissemination progress
// before validators lock their signatures on a header.
type preCommit struct {
	slot            Slot
	preparationHash common.Hash
}

var _ PreCommit = (*preCommit)(nil)

// NewPreCommit returns a blank PreCommit variant.
func NewPreCommit() PreCommit { return &preCommit{} }

// MakePreCommit returns a filled PreCommit variant.
func MakePreCommit(slot Slot, preparationHash common.Hash) PreCommit {
	return &preCommit{slot: slot, preparationHash: preparationHash}
}

func (p *preCommit) Slot() Slot { return p.slot }
func (p *preCommit) PreparationHash() common.Hash { return p.preparationHash }

func (p *preCommit) EncodeBinary(w *vio.BinWriter) {
	w.WriteB(byte(p.slot))
	w.WriteBytes(p.preparationHash[:])
}

func (p *preCommit) DecodeBinary(r *vio.BinReader) {
	p.slot = Slot(r.ReadB())
	r.ReadBytes(p.preparationHash[:])
}
