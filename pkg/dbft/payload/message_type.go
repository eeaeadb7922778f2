package payload

// MessageType is a tag identifying one of the seven consensus message
// kinds. Dispatch on it is meant to be exhaustive.
type MessageType byte

const (
	// ChangeViewType identifies a ChangeView message.
	ChangeViewType MessageType = iota
	// PrepareRequestType identifies a PrepareRequest message.
	PrepareRequestType
	// PrepareResponseType identifies a PrepareResponse message.
	PrepareResponseType
	// PreCommitType identifies a PreCommit message, the phase this
	// implementation inserts between preparation and commit.
	PreCommitType
	// CommitType identifies a Commit message.
	CommitType
	// RecoveryRequestType identifies a RecoveryRequest message.
	RecoveryRequestType
	// RecoveryMessageType identifies a RecoveryMessage message.
	RecoveryMessageType
)

// String implements fmt.Stringer.
func (t MessageType) String() string {
	switch t {
	case ChangeViewType:
		return "ChangeView"
	case PrepareRequestType:
		return "PrepareRequest"
	case PrepareResponseType:
		return "PrepareResponse"
	case PreCommitType:
		return "PreCommit"
	case CommitType:
		return "Commit"
	case RecoveryRequestType:
		return "RecoveryRequest"
	case RecoveryMessageType:
		return "RecoveryMessage"
	default:
		return "UNKNOWN"
	}
}

// ChangeViewReason explains why a validator requested a view change,
// carried in the ChangeView payload for diagnostics and tests.
type ChangeViewReason byte

const (
	// CVTimeout is used when the round timer fired with no progress.
	CVTimeout ChangeViewReason = iota
	// CVChangeAgreement is used when broadcasting the view adoption
	// itself, once CheckExpectedView's threshold is met.
	CVChangeAgreement
	// CVBlockRejectedByPolicy is used when a locally assembled or
	// verified proposal violates a native-policy cap.
	CVBlockRejectedByPolicy
	// CVTxInvalid is used when a proposed block fails verification.
	CVTxInvalid
	// CVTxNotFound is used when requested transactions never arrived.
	CVTxNotFound
)

// String implements fmt.Stringer.
func (r ChangeViewReason) String() string {
	switch r {
	case CVTimeout:
		return "Timeout"
	case CVChangeAgreement:
		return "ChangeAgreement"
	case CVBlockRejectedByPolicy:
		return "BlockRejectedByPolicy"
	case CVTxInvalid:
		return "TxInvalid"
	case CVTxNotFound:
		return "TxNotFound"
	default:
		return "UNKNOWN"
	}
}

// Slot identifies which of the two parallel proposal tracks a
// PrepareRequest/PrepareResponse/PreCommit belongs to.
type Slot byte

const (
	// PrioritySlot is the primary proposal track (pOrF = 0).
	PrioritySlot Slot = iota
	// FallbackSlot is the secondary proposal track (pOrF = 1).
	FallbackSlot
)

// String implements fmt.Stringer.
func (s Slot) String() string {
	if s == FallbackSlot {
		return "fallback"
	}
	return "priority"
}
