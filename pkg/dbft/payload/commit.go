package payload

import vio "github.com/vireonet/vireo/pkg/io"

type commit struct {
	slot      Slot
	signature [65]byte
}

var _ Commit = (*commit)(nil)

// NewCommit returns a blank Commit variant.
func NewCommit() Commit { return &commit{} }

// MakeCommit returns a filled Commit variant carrying sig, which must
// be exactly 65 bytes, for the finalized slot.
func MakeCommit(slot Slot, sig []byte) Commit {
	c := &commit{slot: slot}
	copy(c.signature[:], sig)
	return c
}

func (c *commit) Slot() Slot { return c.slot }
func (c *commit) Signature() []byte { return c.signature[:] }

func (c *commit) EncodeBinary(w *vio.BinWriter) {
	w.WriteB(byte(c.slot))
	w.WriteBytes(c.signature[:])
}

func (c *commit) DecodeBinary(r *vio.BinReader) {
	c.slot = Slot(r.ReadB())
	r.ReadBytes(c.signature[:])
}
