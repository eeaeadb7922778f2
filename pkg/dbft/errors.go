package dbft

import "errors"

// Sentinel errors returned by VerifyPrepareRequest/VerifyPrepareResponse
// implementations and surfaced through logging; dBFT itself only
// branches on whether VerifyPrepareRequest/VerifyPrepareResponse
// returned a non-nil error; the Config owner decides which of these to
// use. ErrPolicyViolation is also what the core's own aggregate policy
// check in CheckPrepareResponse/CheckPreparations returns.
var (
	// ErrInvalidNextConsensus is returned when a PrepareRequest's
	// NextConsensus does not match the next validator set's address.
	ErrInvalidNextConsensus = errors.New("dbft: invalid next consensus address")
	// ErrBlockVerification is returned when an assembled proposal
	// fails external block verification.
	ErrBlockVerification = errors.New("dbft: block verification failed")
	// ErrDuplicateTransaction is returned when a proposal double-spends
	// a transaction already recorded on the ledger.
	ErrDuplicateTransaction = errors.New("dbft: transaction already on ledger")
	// ErrPolicyViolation is returned when a proposal's aggregate size
	// or system fee exceeds a configured native-policy cap.
	ErrPolicyViolation = errors.New("dbft: proposal exceeds policy limits")
)
