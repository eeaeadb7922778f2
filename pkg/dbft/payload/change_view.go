package payload

import vio "github.com/vireonet/vireo/pkg/io"

type changeView struct {
	newViewNumber byte
	timestamp     uint64
	reason        ChangeViewReason
}

var _ ChangeView = (*changeView)(nil)

// NewChangeView returns a blank ChangeView variant.
func NewChangeView() ChangeView { return &changeView{} }

// MakeChangeView returns a filled ChangeView variant.
func MakeChangeView(newViewNumber byte, timestamp uint64, reason ChangeViewReason) ChangeView {
	return &changeView{newViewNumber: newViewNumber, timestamp: timestamp, reason: reason}
}

func (c *changeView) NewViewNumber() byte { return c.newViewNumber }
func (c *changeView) Timestamp() uint64 { return c.timestamp }
func (c *changeView) Reason() ChangeViewReason { return c.reason }

func (c *changeView) EncodeBinary(w *vio.BinWriter) {
	w.WriteB(c.newViewNumber)
	w.WriteU64LE(c.timestamp)
	w.WriteB(byte(c.reason))
}

func (c *changeView) DecodeBinary(r *vio.BinReader) {
	c.newViewNumber = r.ReadB()
	c.timestamp = r.ReadU64LE()
	c.reason = ChangeViewReason(r.ReadB())
}
