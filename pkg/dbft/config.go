package dbft

import (
	"bytes"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vireonet/vireo/pkg/crypto/keys"
	"github.com/vireonet/vireo/pkg/dbft/block"
	"github.com/vireonet/vireo/pkg/dbft/payload"
	"github.com/vireonet/vireo/pkg/dbft/timer"
	"go.uber.org/zap"
)

// Config contains initialization and working parameters for dBFT.
type Config struct {
	// Logger
	Logger *zap.Logger
	// Timer
	Timer timer.Timer
	// SecondsPerBlock is the number of seconds that
	// need to pass before another block will be accepted.
	SecondsPerBlock time.Duration
	// TimestampIncrement is the amount of units to add to timestamp
	// if current time is less than that of the previous context.
	// By default use millisecond precision.
	TimestampIncrement uint64
	// MaxTransactionsPerBlock bounds the size of a single proposal.
	MaxTransactionsPerBlock int
	// MaxBlockSize bounds the aggregate encoded size of a proposal; 0
	// means uncapped.
	MaxBlockSize int
	// MaxBlockSystemFee bounds the aggregate system fee of a
	// proposal; 0 means uncapped.
	MaxBlockSystemFee int64

	// GetKeyPair returns an index of the node in the list of validators
	// together with it's key pair.
	GetKeyPair func([]*keys.PublicKey) (int, *keys.PrivateKey, *keys.PublicKey)
	// NewHeaderFromContext should allocate and fill a block header from
	// one slot of the round context.
	NewHeaderFromContext func(ctx *Context, slot Slot) block.Header
	// NewBlockFromContext should allocate, fill from Context and return new block.Block
	// for the given slot.
	NewBlockFromContext func(ctx *Context, slot Slot) block.Block
	// RequestTx is a callback which is called when transaction contained
	// in current block can't be found in memory pool.
	RequestTx func(h ...common.Hash)
	// GetTx returns a transaction from memory pool.
	GetTx func(h common.Hash) block.Transaction
	// GetVerified returns a slice of verified transactions
	// to be proposed in a new block.
	GetVerified func() []block.Transaction
	// ContainsTransaction reports whether h is already recorded on the
	// ledger, used to reject a proposal double-spending a settled tx.
	ContainsTransaction func(h common.Hash) bool
	// VerifyBlock verifies if block is valid.
	VerifyBlock func(b block.Block) bool
	// Broadcast should broadcast payload m to the consensus nodes.
	Broadcast func(m payload.ConsensusPayload)
	// ProcessBlock is called every time a new block is accepted.
	ProcessBlock func(b block.Block)
	// GetBlock should return block with hash.
	GetBlock func(h common.Hash) block.Block
	// WatchOnly tells if a node should only watch.
	WatchOnly func() bool
	// CurrentHeight returns index of the last accepted block.
	CurrentHeight func() uint32
	// CurrentBlockHash returns hash of the last accepted block.
	CurrentBlockHash func() common.Hash
	// GetValidators returns list of the validators for the block at
	// index; dbft calls it with BlockIndex for the current round and
	// with BlockIndex+1 for the next block's validators.
	// If this function ever returns 0-length slice, dbft will panic.
	GetValidators func(index uint32) []*keys.PublicKey
	// GetConsensusAddress returns hash of the validator list.
	GetConsensusAddress func(...*keys.PublicKey) common.Address
	// NewConsensusPayload is a constructor for payload.ConsensusPayload.
	NewConsensusPayload func(*Context, payload.MessageType, interface{}) payload.ConsensusPayload
	// NewPrepareRequest is a constructor for payload.PrepareRequest.
	NewPrepareRequest func() payload.PrepareRequest
	// NewPrepareResponse is a constructor for payload.PrepareResponse.
	NewPrepareResponse func() payload.PrepareResponse
	// NewPreCommit is a constructor for payload.PreCommit.
	NewPreCommit func() payload.PreCommit
	// NewChangeView is a constructor for payload.ChangeView.
	NewChangeView func() payload.ChangeView
	// NewCommit is a constructor for payload.Commit.
	NewCommit func() payload.Commit
	// NewRecoveryRequest is a constructor for payload.RecoveryRequest.
	NewRecoveryRequest func() payload.RecoveryRequest
	// NewRecoveryMessage is a constructor for payload.RecoveryMessage.
	NewRecoveryMessage func() payload.RecoveryMessage
	// VerifyPrepareRequest can perform external payload verification and returns nil iff it was successful.
	VerifyPrepareRequest func(p payload.ConsensusPayload) error
	// VerifyPrepareResponse performs external PrepareResponse verification and returns nil if it's successful.
	VerifyPrepareResponse func(p payload.ConsensusPayload) error

	// Save persists this node's own signed round progress so a restart
	// can replay rather than re-sign. Load is read once at startup.
	Save func(s *SelfState) error
	Load func() (*SelfState, error)

	// OnForcedPreCommit, if set, is called when the priority slot's
	// speed-up crosses the PreCommit stage on preparations alone
	// instead of waiting for M PreCommits. Purely observational;
	// metrics/logging.
	OnForcedPreCommit func(slot Slot)
	// OnViewChangeAdopted, if set, is called when CheckExpectedView
	// moves this node to a new view. Purely observational.
	OnViewChangeAdopted func(view byte)
}

const defaultSecondsPerBlock = time.Second * 15

const defaultTimestampIncrement = uint64(time.Millisecond / time.Nanosecond)

// Option is a generic options type. It can modify config in any way it wants.
type Option = func(*Config)

func defaultConfig() *Config {
	// fields which are set to nil must be provided from client
	return &Config{
		Logger:                  zap.NewNop(),
		Timer:                   timer.New(),
		SecondsPerBlock:         defaultSecondsPerBlock,
		TimestampIncrement:      defaultTimestampIncrement,
		MaxTransactionsPerBlock: block.MaxTransactionsPerBlock,
		GetKeyPair:              nil,
		NewHeaderFromContext:    nil,
		NewBlockFromContext:     nil,
		RequestTx:               func(h ...common.Hash) {},
		GetTx:                   func(h common.Hash) block.Transaction { return nil },
		GetVerified:             func() []block.Transaction { return make([]block.Transaction, 0) },
		ContainsTransaction:     func(h common.Hash) bool { return false },
		VerifyBlock:             func(b block.Block) bool { return true },
		Broadcast:               func(m payload.ConsensusPayload) {},
		ProcessBlock:            func(b block.Block) {},
		GetBlock:                func(h common.Hash) block.Block { return nil },
		WatchOnly:               func() bool { return false },
		CurrentHeight:           nil,
		CurrentBlockHash:        nil,
		GetValidators:           nil,
		GetConsensusAddress:     func(...*keys.PublicKey) common.Address { return common.Address{} },
		NewConsensusPayload:     defaultNewConsensusPayload,
		NewPrepareRequest:       payload.NewPrepareRequest,
		NewPrepareResponse:      payload.NewPrepareResponse,
		NewPreCommit:            payload.NewPreCommit,
		NewChangeView:           payload.NewChangeView,
		NewCommit:               payload.NewCommit,
		NewRecoveryRequest:      payload.NewRecoveryRequest,
		NewRecoveryMessage:      payload.NewRecoveryMessage,

		VerifyPrepareRequest:  func(payload.ConsensusPayload) error { return nil },
		VerifyPrepareResponse: func(payload.ConsensusPayload) error { return nil },

		Save: func(*SelfState) error { return nil },
		Load: func() (*SelfState, error) { return nil, nil },
	}
}

func checkConfig(cfg *Config) error {
	if cfg.GetKeyPair == nil {
		return errors.New("private key is nil")
	} else if cfg.CurrentHeight == nil {
		return errors.New("CurrentHeight is nil")
	} else if cfg.CurrentBlockHash == nil {
		return errors.New("CurrentBlockHash is nil")
	} else if cfg.GetValidators == nil {
		return errors.New("GetValidators is nil")
	} else if cfg.NewHeaderFromContext == nil {
		return errors.New("NewHeaderFromContext is nil")
	} else if cfg.NewBlockFromContext == nil {
		return errors.New("NewBlockFromContext is nil")
	}

	return nil
}

// WithKeyPair sets GetKeyPair to a function returning default key pair
// if it is present in a list of validators.
func WithKeyPair(priv *keys.PrivateKey, pub *keys.PublicKey) Option {
	myPub := pub.Bytes()

	return func(cfg *Config) {
		cfg.GetKeyPair = func(ps []*keys.PublicKey) (int, *keys.PrivateKey, *keys.PublicKey) {
			for i := range ps {
				pi := ps[i].Bytes()
				if bytes.Equal(myPub, pi) {
					return i, priv, pub
				}
			}
			return -1, nil, nil
		}
	}
}

// WithGetKeyPair sets GetKeyPair.
func WithGetKeyPair(f func([]*keys.PublicKey) (int, *keys.PrivateKey, *keys.PublicKey)) Option {
	return func(cfg *Config) {
		cfg.GetKeyPair = f
	}
}

// WithLogger sets Logger.
func WithLogger(log *zap.Logger) Option {
	return func(cfg *Config) {
		cfg.Logger = log
	}
}

// WithTimer sets Timer.
func WithTimer(t timer.Timer) Option {
	return func(cfg *Config) {
		cfg.Timer = t
	}
}

// WithSecondsPerBlock sets SecondsPerBlock.
func WithSecondsPerBlock(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.SecondsPerBlock = d
	}
}

// WithTimestampIncrement sets TimestampIncrement.
func WithTimestampIncrement(u uint64) Option {
	return func(cfg *Config) {
		cfg.TimestampIncrement = u
	}
}

// WithMaxTransactionsPerBlock sets MaxTransactionsPerBlock.
func WithMaxTransactionsPerBlock(n int) Option {
	return func(cfg *Config) {
		cfg.MaxTransactionsPerBlock = n
	}
}

// WithMaxBlockSize sets MaxBlockSize.
func WithMaxBlockSize(n int) Option {
	return func(cfg *Config) {
		cfg.MaxBlockSize = n
	}
}

// WithMaxBlockSystemFee sets MaxBlockSystemFee.
func WithMaxBlockSystemFee(n int64) Option {
	return func(cfg *Config) {
		cfg.MaxBlockSystemFee = n
	}
}

// WithNewHeaderFromContext sets NewHeaderFromContext.
func WithNewHeaderFromContext(f func(ctx *Context, slot Slot) block.Header) Option {
	return func(cfg *Config) {
		cfg.NewHeaderFromContext = f
	}
}

// WithNewBlockFromContext sets NewBlockFromContext.
func WithNewBlockFromContext(f func(ctx *Context, slot Slot) block.Block) Option {
	return func(cfg *Config) {
		cfg.NewBlockFromContext = f
	}
}

// WithRequestTx sets RequestTx.
func WithRequestTx(f func(h ...common.Hash)) Option {
	return func(cfg *Config) {
		cfg.RequestTx = f
	}
}

// WithGetTx sets GetTx.
func WithGetTx(f func(h common.Hash) block.Transaction) Option {
	return func(cfg *Config) {
		cfg.GetTx = f
	}
}

// WithGetVerified sets GetVerified.
func WithGetVerified(f func() []block.Transaction) Option {
	return func(cfg *Config) {
		cfg.GetVerified = f
	}
}

// WithContainsTransaction sets ContainsTransaction.
func WithContainsTransaction(f func(h common.Hash) bool) Option {
	return func(cfg *Config) {
		cfg.ContainsTransaction = f
	}
}

// WithVerifyBlock sets VerifyBlock.
func WithVerifyBlock(f func(b block.Block) bool) Option {
	return func(cfg *Config) {
		cfg.VerifyBlock = f
	}
}

// WithBroadcast sets Broadcast.
func WithBroadcast(f func(m payload.ConsensusPayload)) Option {
	return func(cfg *Config) {
		cfg.Broadcast = f
	}
}

// WithProcessBlock sets ProcessBlock.
func WithProcessBlock(f func(b block.Block)) Option {
	return func(cfg *Config) {
		cfg.ProcessBlock = f
	}
}

// WithGetBlock sets GetBlock.
func WithGetBlock(f func(h common.Hash) block.Block) Option {
	return func(cfg *Config) {
		cfg.GetBlock = f
	}
}

// WithWatchOnly sets WatchOnly.
func WithWatchOnly(f func() bool) Option {
	return func(cfg *Config) {
		cfg.WatchOnly = f
	}
}

// WithCurrentHeight sets CurrentHeight.
func WithCurrentHeight(f func() uint32) Option {
	return func(cfg *Config) {
		cfg.CurrentHeight = f
	}
}

// WithCurrentBlockHash sets CurrentBlockHash.
func WithCurrentBlockHash(f func() common.Hash) Option {
	return func(cfg *Config) {
		cfg.CurrentBlockHash = f
	}
}

// WithGetValidators sets GetValidators.
func WithGetValidators(f func(uint32) []*keys.PublicKey) Option {
	return func(cfg *Config) {
		cfg.GetValidators = f
	}
}

// WithGetConsensusAddress sets GetConsensusAddress.
func WithGetConsensusAddress(f func(keys ...*keys.PublicKey) common.Address) Option {
	return func(cfg *Config) {
		cfg.GetConsensusAddress = f
	}
}

// WithNewConsensusPayload sets NewConsensusPayload.
func WithNewConsensusPayload(f func(*Context, payload.MessageType, interface{}) payload.ConsensusPayload) Option {
	return func(cfg *Config) {
		cfg.NewConsensusPayload = f
	}
}

// WithNewPrepareRequest sets NewPrepareRequest.
func WithNewPrepareRequest(f func() payload.PrepareRequest) Option {
	return func(cfg *Config) {
		cfg.NewPrepareRequest = f
	}
}

// WithNewPrepareResponse sets NewPrepareResponse.
func WithNewPrepareResponse(f func() payload.PrepareResponse) Option {
	return func(cfg *Config) {
		cfg.NewPrepareResponse = f
	}
}

// WithNewPreCommit sets NewPreCommit.
func WithNewPreCommit(f func() payload.PreCommit) Option {
	return func(cfg *Config) {
		cfg.NewPreCommit = f
	}
}

// WithNewChangeView sets NewChangeView.
func WithNewChangeView(f func() payload.ChangeView) Option {
	return func(cfg *Config) {
		cfg.NewChangeView = f
	}
}

// WithNewCommit sets NewCommit.
func WithNewCommit(f func() payload.Commit) Option {
	return func(cfg *Config) {
		cfg.NewCommit = f
	}
}

// WithNewRecoveryRequest sets NewRecoveryRequest.
func WithNewRecoveryRequest(f func() payload.RecoveryRequest) Option {
	return func(cfg *Config) {
		cfg.NewRecoveryRequest = f
	}
}

// WithNewRecoveryMessage sets NewRecoveryMessage.
func WithNewRecoveryMessage(f func() payload.RecoveryMessage) Option {
	return func(cfg *Config) {
		cfg.NewRecoveryMessage = f
	}
}

// WithVerifyPrepareRequest sets VerifyPrepareRequest.
func WithVerifyPrepareRequest(f func(payload.ConsensusPayload) error) Option {
	return func(cfg *Config) {
		cfg.VerifyPrepareRequest = f
	}
}

// WithVerifyPrepareResponse sets VerifyPrepareResponse.
func WithVerifyPrepareResponse(f func(payload.ConsensusPayload) error) Option {
	return func(cfg *Config) {
		cfg.VerifyPrepareResponse = f
	}
}

// WithSave sets Save.
func WithSave(f func(*SelfState) error) Option {
	return func(cfg *Config) {
		cfg.Save = f
	}
}

// WithLoad sets Load.
func WithLoad(f func() (*SelfState, error)) Option {
	return func(cfg *Config) {
		cfg.Load = f
	}
}
