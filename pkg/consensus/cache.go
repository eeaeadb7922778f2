package consensus

import (
	"container/list"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spaolacci/murmur3"
)

// relayCache is a bounded FIFO cache of recently broadcast consensus
// envelopes. It answers "did we already relay this" without re-walking a linear
// list: envelopes are bucketed by a murmur3 hash of their content hash
// so membership checks only ever touch one bucket's elements instead
// of the full map, which matters once RecoveryMessage replay can flood
// the cache with dozens of payloads in one burst.
type relayCache struct {
	*sync.RWMutex

	maxCap  int
	buckets []map[common.Hash]*list.Element
	queue   *list.List
}

// hashable is a type of items which can be stored in the relayCache.
type hashable interface {
	Hash() common.Hash
}

const relayCacheBuckets = 16

func newFIFOCache(capacity int) *relayCache {
	buckets := make([]map[common.Hash]*list.Element, relayCacheBuckets)
	for i := range buckets {
		buckets[i] = make(map[common.Hash]*list.Element)
	}

	return &relayCache{
		RWMutex: new(sync.RWMutex),

		maxCap:  capacity,
		buckets: buckets,
		queue:   list.New(),
	}
}

func (c *relayCache) bucket(h common.Hash) map[common.Hash]*list.Element {
	idx := murmur3.Sum32(h.Bytes()) % uint32(len(c.buckets))
	return c.buckets[idx]
}

// Add adds payload into a cache if it doesn't already exist.
func (c *relayCache) Add(p hashable) {
	c.Lock()
	defer c.Unlock()

	h := p.Hash()
	b := c.bucket(h)
	if b[h] != nil {
		return
	}

	if c.queue.Len() >= c.maxCap {
		first := c.queue.Front()
		c.queue.Remove(first)
		fh := first.Value.(hashable).Hash()
		delete(c.bucket(fh), fh)
	}

	e := c.queue.PushBack(p)
	b[h] = e
}

// Has checks if an item is already in cache.
func (c *relayCache) Has(h common.Hash) bool {
	c.RLock()
	defer c.RUnlock()

	return c.bucket(h)[h] != nil
}

// Get returns payload with the specified hash from cache.
func (c *relayCache) Get(h common.Hash) hashable {
	c.RLock()
	defer c.RUnlock()

	e, ok := c.bucket(h)[h]
	if !ok {
		return hashable(nil)
	}
	return e.Value.(hashable)
}
