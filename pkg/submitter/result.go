package submitter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Outcome classifies a submission after one round trip through the endpoint.
type Outcome string

const (
	// OutcomeConfirmed: the transaction (or every bundle transaction) was
	// mined and executed successfully.
	OutcomeConfirmed Outcome = "confirmed"

	// OutcomeReverted: mined, but execution aborted. Not an error; the
	// receipt's status field distinguishes it from Confirmed.
	OutcomeReverted Outcome = "reverted"

	// OutcomeRelayRejected: the relay refused the bundle, either at
	// simulation or by dropping it. Retrying without modification is futile.
	OutcomeRelayRejected Outcome = "relay_rejected"

	// OutcomeNetworkError: the endpoint rejected the send or the polling
	// budget ran out before a receipt appeared.
	OutcomeNetworkError Outcome = "network_error"
)

// Cause qualifies OutcomeNetworkError.
type Cause string

const (
	CauseSendRejected Cause = "send_rejected"
	CauseTimeout      Cause = "timeout"
)

// Result is the tagged outcome of a submission.
type Result struct {
	Outcome Outcome

	// TxHash identifies the transaction under test; for bundles it is the
	// first transaction.
	TxHash common.Hash

	// BundleHash is set for bundle submissions that reached the relay.
	BundleHash common.Hash

	// Receipt is set for Confirmed and Reverted.
	Receipt *types.Receipt

	// RevertReason is set for Reverted; never empty.
	RevertReason string

	// Reason is the relay's explanation for OutcomeRelayRejected.
	Reason string

	// Cause is set for OutcomeNetworkError.
	Cause Cause

	// Err carries the underlying failure for OutcomeNetworkError.
	Err error
}

func (r *Result) String() string {
	switch r.Outcome {
	case OutcomeConfirmed:
		return fmt.Sprintf("confirmed in block %d (tx %s)", r.Receipt.BlockNumber.Uint64(), r.TxHash.Hex())
	case OutcomeReverted:
		return fmt.Sprintf("reverted: %s (tx %s)", r.RevertReason, r.TxHash.Hex())
	case OutcomeRelayRejected:
		return fmt.Sprintf("relay rejected: %s", r.Reason)
	case OutcomeNetworkError:
		return fmt.Sprintf("network error (%s): %v", r.Cause, r.Err)
	default:
		return string(r.Outcome)
	}
}
