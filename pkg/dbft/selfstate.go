package dbft

import (
	"github.com/ethereum/go-ethereum/common"
)

// SelfState is the durable record of this node's own progress through
// a round: enough to replay a PreCommit/Commit after a crash instead
// of re-signing. Save is invoked before a PreCommit or Commit is
// broadcast; Load is read once at startup so a restarted node never
// double-signs a view it already committed.
type SelfState struct {
	BlockIndex uint32
	ViewNumber byte
	Slot       Slot
	PreCommit  bool
	Commit     bool
	Signature  []byte
	HeaderHash common.Hash
}
