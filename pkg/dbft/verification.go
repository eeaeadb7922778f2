package dbft

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// verificationContext accumulates the aggregate totals the policy
// check uses to reject a proposal that would violate a native-policy
// cap (combined size, combined system fee). Each transaction counts
// exactly once no matter how many times the check re-runs as payloads
// trickle in.
type verificationContext struct {
	seen      map[common.Hash]struct{}
	blockSize int
	systemFee *uint256.Int
}

func newVerificationContext() *verificationContext {
	return &verificationContext{
		seen:      make(map[common.Hash]struct{}),
		systemFee: uint256.NewInt(0),
	}
}

func (v *verificationContext) add(h common.Hash, size int, systemFee int64) {
	if _, ok := v.seen[h]; ok {
		return
	}
	v.seen[h] = struct{}{}

	v.blockSize += size
	if systemFee > 0 {
		v.systemFee.Add(v.systemFee, uint256.NewInt(uint64(systemFee)))
	}
}

// exceeds reports whether the accumulated totals violate either cap.
// A zero cap means "uncapped".
func (v *verificationContext) exceeds(maxBlockSize int, maxSystemFee int64) bool {
	if maxBlockSize > 0 && v.blockSize > maxBlockSize {
		return true
	}
	if maxSystemFee > 0 && v.systemFee.Cmp(uint256.NewInt(uint64(maxSystemFee))) > 0 {
		return true
	}
	return false
}
