package submitter

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/txforge/txforge/pkg/bundle"
	"github.com/txforge/txforge/pkg/config"
	"github.com/txforge/txforge/pkg/relay"
)

// ReceiptReader looks up the receipt of a mined transaction. Narrower than
// go-ethereum's TransactionReader: the submitter polls for receipts and never
// subscribes.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client is the node surface the submitter needs, composed from go-ethereum's
// capability interfaces so tests can mock it.
type Client interface {
	ethereum.TransactionSender
	ReceiptReader
	ethereum.ContractCaller
	ethereum.BlockNumberReader
}

// Submission is the tagged input: exactly one of Tx or Bundle is set. Both
// shapes flow through the same polling logic.
type Submission struct {
	Tx     *types.Transaction
	Bundle *bundle.Bundle
}

// SingleTransaction wraps a standalone signed transaction.
func SingleTransaction(tx *types.Transaction) Submission {
	return Submission{Tx: tx}
}

// BundleOf wraps an assembled bundle.
func BundleOf(b *bundle.Bundle) Submission {
	return Submission{Bundle: b}
}

// Policy bounds the receipt polling loop: MaxAttempts lookups, paced at one
// per Interval. Exhausting the budget surfaces a timeout instead of hanging.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: config.DefaultPollAttempts,
		Interval:    config.PollInterval_Mainnet,
	}
}

type Submitter struct {
	client Client
	relay  relay.IRelay
	policy Policy
	logger *zap.Logger
}

// New constructs a submitter. relayClient may be nil when bundle mode is not
// used.
func New(client Client, relayClient relay.IRelay, policy Policy, logger *zap.Logger) *Submitter {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = config.DefaultPollAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = config.PollInterval_Mainnet
	}
	return &Submitter{
		client: client,
		relay:  relayClient,
		policy: policy,
		logger: logger,
	}
}

// Submit dispatches the submission to the endpoint and classifies the
// outcome. The returned error is reserved for programming mistakes (malformed
// Submission, missing relay); every endpoint-side failure is expressed as a
// Result variant.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*Result, error) {
	switch {
	case sub.Tx != nil && sub.Bundle != nil:
		return nil, fmt.Errorf("submission must hold a transaction or a bundle, not both")
	case sub.Tx != nil:
		return s.submitTx(ctx, sub.Tx)
	case sub.Bundle != nil:
		if s.relay == nil {
			return nil, fmt.Errorf("bundle submission requires a relay client")
		}
		return s.submitBundle(ctx, sub.Bundle)
	default:
		return nil, fmt.Errorf("empty submission")
	}
}

func (s *Submitter) submitTx(ctx context.Context, tx *types.Transaction) (*Result, error) {
	txHash := tx.Hash()
	s.logger.Sugar().Infow("Sending transaction",
		zap.String("txHash", txHash.Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)

	if err := s.client.SendTransaction(ctx, tx); err != nil {
		s.logger.Sugar().Warnw("Endpoint rejected transaction",
			zap.String("txHash", txHash.Hex()),
			zap.Error(err),
		)
		return &Result{
			Outcome: OutcomeNetworkError,
			TxHash:  txHash,
			Cause:   CauseSendRejected,
			Err:     err,
		}, nil
	}

	receipt := s.pollReceipt(ctx, txHash, nil)
	if receipt == nil {
		return &Result{
			Outcome: OutcomeNetworkError,
			TxHash:  txHash,
			Cause:   CauseTimeout,
			Err:     fmt.Errorf("no receipt for %s after %d attempts", txHash.Hex(), s.policy.MaxAttempts),
		}, nil
	}

	return s.classifyReceipt(ctx, tx, receipt), nil
}

func (s *Submitter) submitBundle(ctx context.Context, b *bundle.Bundle) (*Result, error) {
	firstHash := b.First().Hash()

	// Simulate before broadcasting so a bundle known to fail costs neither a
	// nonce nor fees.
	sim, err := s.relay.CallBundle(ctx, b)
	if err != nil {
		return &Result{
			Outcome: OutcomeNetworkError,
			TxHash:  firstHash,
			Cause:   CauseSendRejected,
			Err:     fmt.Errorf("bundle simulation failed: %w", err),
		}, nil
	}
	if !sim.Success {
		s.logger.Sugar().Warnw("Relay rejected bundle at simulation",
			zap.String("reason", sim.Reason),
		)
		return &Result{
			Outcome: OutcomeRelayRejected,
			TxHash:  firstHash,
			Reason:  fmt.Sprintf("simulation failed: %s", sim.Reason),
		}, nil
	}

	bundleHash, err := s.relay.SendBundle(ctx, b)
	if err != nil {
		var rpcErr *relay.RPCError
		if errors.As(err, &rpcErr) {
			return &Result{
				Outcome: OutcomeRelayRejected,
				TxHash:  firstHash,
				Reason:  rpcErr.Message,
			}, nil
		}
		return &Result{
			Outcome: OutcomeNetworkError,
			TxHash:  firstHash,
			Cause:   CauseSendRejected,
			Err:     err,
		}, nil
	}

	// Inclusion is observed through the first transaction's receipt; bundle
	// transactions land atomically or not at all.
	receipt, dropped, reason := s.pollBundle(ctx, b, bundleHash)
	if dropped {
		return &Result{
			Outcome:    OutcomeRelayRejected,
			TxHash:     firstHash,
			BundleHash: bundleHash,
			Reason:     reason,
		}, nil
	}
	if receipt == nil {
		return &Result{
			Outcome:    OutcomeNetworkError,
			TxHash:     firstHash,
			BundleHash: bundleHash,
			Cause:      CauseTimeout,
			Err:        fmt.Errorf("bundle %s not included after %d attempts", bundleHash.Hex(), s.policy.MaxAttempts),
		}, nil
	}

	result := s.classifyReceipt(ctx, b.First(), receipt)
	result.BundleHash = bundleHash
	return result, nil
}

// pollReceipt looks up the receipt at a fixed pace until it appears or the
// attempt budget is spent. Transient lookup errors consume attempts; only the
// budget bounds the loop.
func (s *Submitter) pollReceipt(ctx context.Context, txHash common.Hash, onAttempt func(attempt int) bool) *types.Receipt {
	limiter := rate.NewLimiter(rate.Every(s.policy.Interval), 1)
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		receipt, err := s.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt
		}

		s.logger.Sugar().Debugw("Receipt not yet available",
			zap.String("txHash", txHash.Hex()),
			zap.Int("attempt", attempt),
		)

		if onAttempt != nil && !onAttempt(attempt) {
			return nil
		}
	}
	return nil
}

// pollBundle polls like pollReceipt, but once the target block has passed it
// asks the relay what happened: a bundle no builder ever considered is
// explicitly dropped, while a considered one keeps polling until the budget
// expires.
func (s *Submitter) pollBundle(ctx context.Context, b *bundle.Bundle, bundleHash common.Hash) (receipt *types.Receipt, dropped bool, reason string) {
	firstHash := b.First().Hash()
	checkedStats := false

	receipt = s.pollReceipt(ctx, firstHash, func(attempt int) bool {
		if checkedStats {
			return true
		}
		head, err := s.client.BlockNumber(ctx)
		if err != nil || head <= b.TargetBlock {
			return true
		}

		stats, err := s.relay.GetBundleStats(ctx, bundleHash, b.TargetBlock)
		if err != nil {
			// Stats are advisory; keep polling on lookup failure.
			s.logger.Sugar().Debugw("Bundle stats lookup failed",
				zap.Error(err),
			)
			return true
		}
		checkedStats = true
		if !stats.Considered() {
			dropped = true
			reason = fmt.Sprintf("bundle %s not considered by any builder for block %d", bundleHash.Hex(), b.TargetBlock)
			return false
		}
		return true
	})
	return receipt, dropped, reason
}

// classifyReceipt maps a receipt onto Confirmed or Reverted. Reverts carry a
// reason recovered by replaying the transaction at the block it was mined in.
func (s *Submitter) classifyReceipt(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) *Result {
	if receipt.Status == types.ReceiptStatusSuccessful {
		s.logger.Sugar().Infow("Transaction confirmed",
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.Uint64("blockNumber", receipt.BlockNumber.Uint64()),
			zap.Uint64("gasUsed", receipt.GasUsed),
		)
		return &Result{
			Outcome: OutcomeConfirmed,
			TxHash:  receipt.TxHash,
			Receipt: receipt,
		}
	}

	reason := s.revertReason(ctx, tx, receipt.BlockNumber)
	s.logger.Sugar().Infow("Transaction reverted",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.String("reason", reason),
	)
	return &Result{
		Outcome:      OutcomeReverted,
		TxHash:       receipt.TxHash,
		Receipt:      receipt,
		RevertReason: reason,
	}
}

// revertReason replays the transaction as a call at the block it was mined
// in. The node's error message carries the revert reason when one exists.
func (s *Submitter) revertReason(ctx context.Context, tx *types.Transaction, blockNumber *big.Int) string {
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "execution reverted"
	}

	msg := ethereum.CallMsg{
		From:      from,
		To:        tx.To(),
		Gas:       tx.Gas(),
		GasFeeCap: tx.GasFeeCap(),
		GasTipCap: tx.GasTipCap(),
		Value:     tx.Value(),
		Data:      tx.Data(),
	}
	if _, err := s.client.CallContract(ctx, msg, blockNumber); err != nil {
		return err.Error()
	}
	return "execution reverted"
}
