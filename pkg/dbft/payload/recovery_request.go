package payload

import vio "github.com/vireonet/vireo/pkg/io"

type recoveryRequest struct {
	timestamp uint64
}

var _ RecoveryRequest = (*recoveryRequest)(nil)

// NewRecoveryRequest returns a blank RecoveryRequest variant.
func NewRecoveryRequest() RecoveryRequest { return &recoveryRequest{} }

func (r *recoveryRequest) Timestamp() uint64 { return r.timestamp }

func (r *recoveryRequest) EncodeBinary(w *vio.BinWriter) {
	w.WriteU64LE(r.timestamp)
}

func (r *recoveryRequest) DecodeBinary(br *vio.BinReader) {
	r.timestamp = br.ReadU64LE()
}
