// Package consensus hosts the node-level half of recovery handling and
// the single-threaded actor that owns a dbft.DBFT: a mailbox of typed
// events (inbound envelopes, transaction arrivals, timer fires)
// drained on its own goroutine. Everything here is glue between the
// core state machine (pkg/dbft) and its external collaborators (P2P,
// mempool, ledger): this package owns the wiring, not the protocol
// logic.
package consensus

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/vireonet/vireo/pkg/crypto/keys"
	"github.com/vireonet/vireo/pkg/dbft"
	"github.com/vireonet/vireo/pkg/dbft/block"
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"github.com/vireonet/vireo/pkg/dbft/timer"
)

type eventKind byte

const (
	eventPayload eventKind = iota
	eventTransaction
	eventTimeout
	eventStart
)

type event struct {
	kind    eventKind
	payload payload.ConsensusPayload
	tx      block.Transaction
	hv      timer.HV
}

// Config wires a Service to its host process: the outbound transport
// callback, persistence, and the handful of ledger/mempool lookups
// dbft.Config itself needs.
type Config struct {
	Logger *zap.Logger
	// Broadcast sends a signed envelope to the rest of the validator
	// set; the P2P transport behind it belongs to the host process.
	Broadcast func(payload.ConsensusPayload)
	// Store persists the node's own signed round state across
	// restarts; the relay cache is not persisted.
	Store *Store
	// Notifier, if set, is told about every finalized block so an RPC
	// layer can fan it out to subscribers; wiring it is optional.
	Notifier *Notifier

	Timer                   timer.Timer
	SecondsPerBlock         time.Duration
	TimestampIncrement      uint64
	MaxTransactionsPerBlock int
	MaxBlockSize            int
	MaxBlockSystemFee       int64

	GetKeyPair           func([]*keys.PublicKey) (int, *keys.PrivateKey, *keys.PublicKey)
	NewHeaderFromContext func(ctx *dbft.Context, slot dbft.Slot) block.Header
	NewBlockFromContext  func(ctx *dbft.Context, slot dbft.Slot) block.Block
	RequestTx            func(h ...common.Hash)
	GetTx                func(h common.Hash) block.Transaction
	GetVerified          func() []block.Transaction
	ContainsTransaction  func(h common.Hash) bool
	VerifyBlock          func(b block.Block) bool
	ProcessBlock         func(b block.Block)
	WatchOnly            func() bool
	CurrentHeight        func() uint32
	CurrentBlockHash     func() common.Hash
	GetValidators        func(index uint32) []*keys.PublicKey
	GetConsensusAddress  func(...*keys.PublicKey) common.Address
}

// Service is the running consensus participant: a DBFT core plus the
// mailbox, dedup cache and recovery throttle that make it safe to run
// against a real, lossy, possibly-Byzantine network.
type Service struct {
	log  *zap.Logger
	dbft *dbft.DBFT
	cfg  Config

	mailbox chan event
	done    chan struct{}

	relayed *relayCache

	recoveryMinInterval time.Duration
	lastRecoveryReply   map[common.Address]time.Time

	started atomic.Bool
}

// NewService builds a Service around a fresh dbft.DBFT, wiring Save/Load
// to cfg.Store if one was provided.
func NewService(cfg Config, recoveryMinInterval time.Duration) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		log:                 log,
		cfg:                 cfg,
		mailbox:             make(chan event, 256),
		done:                make(chan struct{}),
		relayed:             newFIFOCache(4096),
		recoveryMinInterval: recoveryMinInterval,
		lastRecoveryReply:   make(map[common.Address]time.Time),
	}

	opts := []dbft.Option{
		dbft.WithLogger(log),
		dbft.WithGetKeyPair(cfg.GetKeyPair),
		dbft.WithNewHeaderFromContext(cfg.NewHeaderFromContext),
		dbft.WithNewBlockFromContext(cfg.NewBlockFromContext),
		dbft.WithRequestTx(cfg.RequestTx),
		dbft.WithGetTx(cfg.GetTx),
		dbft.WithGetVerified(cfg.GetVerified),
		dbft.WithContainsTransaction(cfg.ContainsTransaction),
		dbft.WithVerifyBlock(cfg.VerifyBlock),
		dbft.WithBroadcast(s.broadcast),
		dbft.WithProcessBlock(s.processBlock),
		dbft.WithWatchOnly(cfg.WatchOnly),
		dbft.WithCurrentHeight(cfg.CurrentHeight),
		dbft.WithCurrentBlockHash(cfg.CurrentBlockHash),
		dbft.WithGetValidators(cfg.GetValidators),
		dbft.WithGetConsensusAddress(cfg.GetConsensusAddress),
		func(c *dbft.Config) {
			c.OnForcedPreCommit = func(dbft.Slot) { observeForcedPreCommit() }
			c.OnViewChangeAdopted = func(byte) { observeViewChange() }
		},
	}

	if cfg.SecondsPerBlock > 0 {
		opts = append(opts, dbft.WithSecondsPerBlock(cfg.SecondsPerBlock))
	}
	if cfg.TimestampIncrement > 0 {
		opts = append(opts, dbft.WithTimestampIncrement(cfg.TimestampIncrement))
	}
	if cfg.MaxTransactionsPerBlock > 0 {
		opts = append(opts, dbft.WithMaxTransactionsPerBlock(cfg.MaxTransactionsPerBlock))
	}
	if cfg.MaxBlockSize > 0 {
		opts = append(opts, dbft.WithMaxBlockSize(cfg.MaxBlockSize))
	}
	if cfg.MaxBlockSystemFee > 0 {
		opts = append(opts, dbft.WithMaxBlockSystemFee(cfg.MaxBlockSystemFee))
	}
	if cfg.Timer != nil {
		opts = append(opts, dbft.WithTimer(cfg.Timer))
	}
	if cfg.Store != nil {
		opts = append(opts,
			dbft.WithSave(cfg.Store.SaveSelfState),
			dbft.WithLoad(cfg.Store.LoadSelfState))
	}

	s.dbft = dbft.New(opts...)

	return s
}

// Start runs the actor loop on its own goroutine and returns
// immediately; stop it with Shutdown. Repeated calls are no-ops.
func (s *Service) Start() {
	if s.dbft == nil {
		s.log.Error("consensus service misconfigured, refusing to start")
		return
	}

	if !s.started.CAS(false, true) {
		return
	}

	go s.run()
}

// Shutdown stops the actor loop. It does not flush in-flight state;
// the last Save() call already did that.
func (s *Service) Shutdown() {
	close(s.done)
}

// OnPayload enqueues an inbound consensus envelope for processing on
// the actor goroutine.
func (s *Service) OnPayload(p payload.ConsensusPayload) {
	select {
	case s.mailbox <- event{kind: eventPayload, payload: p}:
	case <-s.done:
	}
}

// OnTransaction enqueues a transaction that became available, e.g.
// after a RequestTx round trip resolved via the mempool.
func (s *Service) OnTransaction(tx block.Transaction) {
	select {
	case s.mailbox <- event{kind: eventTransaction, tx: tx}:
	case <-s.done:
	}
}

func (s *Service) run() {
	s.mailbox <- event{kind: eventStart}

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.mailbox:
			s.handle(ev)
		case hv := <-s.dbft.Timer.C():
			s.handle(event{kind: eventTimeout, hv: hv})
		}
	}
}

func (s *Service) handle(ev event) {
	switch ev.kind {
	case eventStart:
		s.dbft.Start()
	case eventPayload:
		s.onReceive(ev.payload)
	case eventTransaction:
		s.dbft.OnTransaction(ev.tx)
	case eventTimeout:
		s.dbft.OnTimeout(ev.hv)
	}

	updateRoundMetric(s.dbft.BlockIndex, s.dbft.ViewNumber)
}

// onReceive relay-dedups and rate-limits RecoveryRequest handling
// before handing the envelope to the core dispatcher, which is where
// every other protocol rule actually lives.
func (s *Service) onReceive(p payload.ConsensusPayload) {
	if s.relayed.Has(p.Hash()) {
		return
	}

	if p.Type() == payload.RecoveryRequestType {
		if !s.throttleRecoveryReply(p.Sender()) {
			return
		}
	}

	s.dbft.OnReceive(p)
}

// throttleRecoveryReply reports whether enough time has passed since
// this node last let a RecoveryRequest from sender through to the
// core, supplementing
// the core's rotating-responder rule with a per-peer cooldown so a
// misbehaving requester flooding RecoveryRequests can't make this
// node re-derive and resend its full round state on every one.
func (s *Service) throttleRecoveryReply(sender common.Address) bool {
	if s.recoveryMinInterval <= 0 {
		return true
	}

	now := s.dbft.Timer.Now()
	if last, ok := s.lastRecoveryReply[sender]; ok && now.Sub(last) < s.recoveryMinInterval {
		return false
	}

	s.lastRecoveryReply[sender] = now
	observeRecoveryResponse()
	return true
}

func (s *Service) broadcast(p payload.ConsensusPayload) {
	s.relayed.Add(p)

	if s.cfg.Broadcast != nil {
		s.cfg.Broadcast(p)
	}
}

func (s *Service) processBlock(b block.Block) {
	if s.dbft.CommittedOn() == dbft.FallbackSlotID {
		observeSlotOutcome("fallback")
	} else {
		observeSlotOutcome("priority")
	}

	if s.cfg.ProcessBlock != nil {
		s.cfg.ProcessBlock(b)
	}

	if s.cfg.Notifier != nil {
		s.cfg.Notifier.NotifyBlock(b)
	}
}
