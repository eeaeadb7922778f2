package dbft

import "github.com/vireonet/vireo/pkg/dbft/payload"

// mailbox holds messages from a future height, bucketed by kind so
// `start` can replay them in the right order once that height begins.
type mailbox struct {
	prepare []payload.ConsensusPayload
	chViews []payload.ConsensusPayload
	commit  []payload.ConsensusPayload
}

// cache is a small future-height message buffer. The dispatcher is
// single-threaded, so no locking is needed here.
type cache struct {
	mail map[uint32]*mailbox
}

func newCache() cache {
	return cache{mail: make(map[uint32]*mailbox)}
}

func (c *cache) addMessage(m payload.ConsensusPayload) {
	box, ok := c.mail[m.Height()]
	if !ok {
		box = &mailbox{}
		c.mail[m.Height()] = box
	}

	switch m.Type() {
	case payload.ChangeViewType:
		box.chViews = append(box.chViews, m)
	case payload.CommitType:
		box.commit = append(box.commit, m)
	default:
		// PrepareRequest, PrepareResponse, PreCommit and recovery
		// messages are all replayed through the same bucket: they
		// only make sense once the height they target has begun and
		// dispatching re-validates each on replay.
		box.prepare = append(box.prepare, m)
	}
}

func (c *cache) getHeight(h uint32) *mailbox {
	return c.mail[h]
}

// take returns the mailbox for h and drops it together with anything
// cached for lower heights, which can never be replayed again.
func (c *cache) take(h uint32) *mailbox {
	box := c.mail[h]
	for k := range c.mail {
		if k <= h {
			delete(c.mail, k)
		}
	}
	return box
}
