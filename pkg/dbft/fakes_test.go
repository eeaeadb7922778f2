package dbft

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vireonet/vireo/pkg/crypto/hash"
	"github.com/vireonet/vireo/pkg/crypto/keys"
	"github.com/vireonet/vireo/pkg/dbft/block"
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"github.com/vireonet/vireo/pkg/dbft/timer"
)

// fakeTx is the minimal block.Transaction a test proposal needs.
type fakeTx struct {
	hash   common.Hash
	netFee int64
	sysFee int64
	size   int
}

func newFakeTx(seed byte) *fakeTx {
	var h common.Hash
	h[31] = seed
	return &fakeTx{hash: h, netFee: 10, sysFee: 10, size: 250}
}

func (tx *fakeTx) Hash() common.Hash { return tx.hash }
func (tx *fakeTx) NetworkFee() int64 { return tx.netFee }
func (tx *fakeTx) SystemFee() int64 { return tx.sysFee }
func (tx *fakeTx) Size() int { return tx.size }

// fakeHeader is the block.Header a test NewHeaderFromContext returns.
type fakeHeader struct {
	index     uint32
	primary   uint16
	prevHash  common.Hash
	timestamp uint64
	nonce     uint64
	version   uint32
}

func (h *fakeHeader) Index() uint32 { return h.index }
func (h *fakeHeader) PrimaryIndex() uint16 { return h.primary }
func (h *fakeHeader) PrevHash() common.Hash { return h.prevHash }
func (h *fakeHeader) Timestamp() uint64 { return h.timestamp }
func (h *fakeHeader) Nonce() uint64 { return h.nonce }
func (h *fakeHeader) Version() uint32 { return h.version }

func (h *fakeHeader) Hash() common.Hash {
	var buf [4 + 2 + 32 + 8 + 8 + 4]byte
	off := 0
	binary.BigEndian.PutUint32(buf[off:], h.index)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], h.primary)
	off += 2
	copy(buf[off:], h.prevHash.Bytes())
	off += 32
	binary.BigEndian.PutUint64(buf[off:], h.timestamp)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], h.nonce)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], h.version)

	return hash.Keccak256(buf[:])
}

func newFakeHeader(ctx *Context, slot Slot) block.Header {
	s := ctx.Slots[slot]
	return &fakeHeader{
		index:     ctx.BlockIndex,
		primary:   s.PrimaryIndex,
		prevHash:  s.PrevHash,
		timestamp: s.Timestamp,
		nonce:     s.Nonce,
		version:   s.Version,
	}
}

// fakeBlock is the block.Block a test NewBlockFromContext returns.
type fakeBlock struct {
	*fakeHeader
	txs []block.Transaction
}

func (b *fakeBlock) Transactions() []block.Transaction { return b.txs }

func (b *fakeBlock) MerkleRoot() common.Hash {
	hashes := make([]common.Hash, len(b.txs))
	for i, tx := range b.txs {
		hashes[i] = tx.Hash()
	}
	return hash.CalcMerkleRoot(hashes)
}

func newFakeBlock(ctx *Context, slot Slot) block.Block {
	s := ctx.Slots[slot]

	txs := make([]block.Transaction, 0, len(s.TransactionHashes))
	for _, h := range s.TransactionHashes {
		tx, ok := s.Transactions[h]
		if !ok {
			return nil
		}
		txs = append(txs, tx)
	}

	return &fakeBlock{
		fakeHeader: newFakeHeader(ctx, slot).(*fakeHeader),
		txs:        txs,
	}
}

// fakeTimer is a deterministic stand-in for timer.Timer: tests fire
// timeouts explicitly via OnTimeout rather than waiting on wall time.
type fakeTimer struct {
	now      time.Time
	cur      timer.HV
	deadline time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{now: time.Unix(1700000000, 0)}
}

func (t *fakeTimer) Now() time.Time { return t.now }

func (t *fakeTimer) Reset(hv timer.HV, delay time.Duration) {
	t.cur = hv
	t.deadline = t.now.Add(delay)
}

func (t *fakeTimer) Extend(hv timer.HV, delay time.Duration) {
	if hv != t.cur {
		return
	}
	if nd := t.now.Add(delay); nd.After(t.deadline) {
		t.deadline = nd
	}
}

func (t *fakeTimer) Stop() {}
func (t *fakeTimer) C() <-chan timer.HV { return nil }

// fakeNode is one validator's DBFT instance wired into a fakeNetwork.
type fakeNode struct {
	d         *DBFT
	priv      *keys.PrivateKey
	pub       *keys.PublicKey
	timer     *fakeTimer
	processed []block.Block
	selfState *SelfState

	height    uint32
	blockHash common.Hash
}

// fakeNetwork wires N validators into one simulated chain and relays
// every broadcast payload synchronously to every other node, driving
// the dispatchers without a real transport. Each node sees only the
// chain tip it has finalized itself; the network's height and
// blockHash track the first node to finalize each block.
type fakeNetwork struct {
	t          *testing.T
	nodes      []*fakeNode
	validators []*keys.PublicKey
	mempool    map[common.Hash]block.Transaction
	verified   []block.Transaction

	height    uint32
	blockHash common.Hash
}

func newFakeNetwork(t *testing.T, n int, txs ...block.Transaction) *fakeNetwork {
	t.Helper()

	net := &fakeNetwork{
		t:       t,
		mempool: make(map[common.Hash]block.Transaction),
	}

	privs := make([]*keys.PrivateKey, n)
	pubs := make([]*keys.PublicKey, n)
	for i := 0; i < n; i++ {
		var seed [32]byte
		seed[31] = byte(i + 1)
		priv, err := keys.NewPrivateKeyFromBytes(seed[:])
		if err != nil {
			t.Fatalf("generating validator key %d: %v", i, err)
		}
		privs[i] = priv
		pubs[i] = priv.PublicKey()
	}
	net.validators = pubs

	for _, tx := range txs {
		net.mempool[tx.Hash()] = tx
		net.verified = append(net.verified, tx)
	}

	net.nodes = make([]*fakeNode, n)
	for i := 0; i < n; i++ {
		node := &fakeNode{priv: privs[i], pub: pubs[i], timer: newFakeTimer()}
		net.nodes[i] = node

		idx := i
		node.d = New(
			WithKeyPair(privs[idx], pubs[idx]),
			WithTimer(node.timer),
			WithSecondsPerBlock(time.Second),
			WithCurrentHeight(func() uint32 { return node.height }),
			WithCurrentBlockHash(func() common.Hash { return node.blockHash }),
			WithGetValidators(func(uint32) []*keys.PublicKey { return net.validators }),
			WithGetConsensusAddress(net.consensusAddress),
			WithGetVerified(func() []block.Transaction { return net.verified }),
			WithGetTx(func(h common.Hash) block.Transaction { return net.mempool[h] }),
			WithRequestTx(func(h ...common.Hash) {}),
			WithContainsTransaction(func(common.Hash) bool { return false }),
			WithVerifyBlock(func(block.Block) bool { return true }),
			WithNewHeaderFromContext(newFakeHeader),
			WithNewBlockFromContext(newFakeBlock),
			WithBroadcast(func(p payload.ConsensusPayload) { net.broadcastFrom(idx, p) }),
			WithProcessBlock(func(b block.Block) { net.onProcessBlock(node, b) }),
			WithSave(func(s *SelfState) error { node.selfState = s; return nil }),
			WithLoad(func() (*SelfState, error) { return nil, nil }),
		)

		if node.d == nil {
			t.Fatalf("New returned nil for validator %d", i)
		}
	}

	return net
}

func (net *fakeNetwork) consensusAddress(pubs ...*keys.PublicKey) common.Address {
	var buf []byte
	for _, p := range pubs {
		buf = append(buf, p.Bytes()...)
	}
	return common.BytesToAddress(hash.Keccak256(buf).Bytes()[12:])
}

func (net *fakeNetwork) broadcastFrom(sender int, p payload.ConsensusPayload) {
	for i, n := range net.nodes {
		if i == sender {
			continue
		}
		n.d.OnReceive(p)
	}
}

func (net *fakeNetwork) onProcessBlock(node *fakeNode, b block.Block) {
	node.processed = append(node.processed, b)
	if b.Index() == node.height+1 {
		node.height = b.Index()
		node.blockHash = b.Hash()
	}
	if b.Index() == net.height+1 {
		net.height = b.Index()
		net.blockHash = b.Hash()
	}
}

// initAll brings every node's round context up for height 1/view 0
// without sending anything, mirroring a real boot where every node is
// live before the network starts carrying traffic. Tests then kick off
// whichever primary's proposal they want to exercise explicitly, since
// calling start() on every node here would let a height that finishes
// finalizing mid-cascade immediately re-trigger another one underneath
// a later node in the loop.
func (net *fakeNetwork) initAll() {
	for _, n := range net.nodes {
		n.d.cache = newCache()
		n.d.InitializeConsensus(0)
	}
}

// priorityPrimary returns the current priority-slot primary's index;
// valid once initAll has run and before any round finalizes.
func (net *fakeNetwork) priorityPrimary() int {
	return int(net.nodes[0].d.GetPriorityPrimaryIndex(net.nodes[0].d.ViewNumber))
}

// fallbackPrimary returns the current fallback-slot primary's index.
func (net *fakeNetwork) fallbackPrimary() int {
	return int(net.nodes[0].d.GetFallbackPrimaryIndex(net.nodes[0].d.ViewNumber))
}
