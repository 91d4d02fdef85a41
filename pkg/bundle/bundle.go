package bundle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrEmptyBundle is returned when assembly is attempted with no
	// transactions.
	ErrEmptyBundle = errors.New("bundle contains no transactions")

	// ErrUnsignedTx is returned when a transaction lacks a signature. All
	// transactions must be signed before assembly.
	ErrUnsignedTx = errors.New("bundle transaction is not signed")
)

// Bundle is an ordered group of signed transactions targeting a single block.
// Insertion order is the execution order guaranteed by the relay; the
// assembler never reorders.
type Bundle struct {
	txs []*types.Transaction

	// TargetBlock is the block number the bundle is submitted for.
	TargetBlock uint64

	// ReplacementUUID identifies the bundle to the relay so a resubmission
	// for the same slot replaces rather than duplicates it.
	ReplacementUUID string
}

// Assemble wraps already-signed transactions into a bundle, preserving input
// order verbatim. Ordering semantics belong to the relay; inferring or
// rewriting dependencies here would second-guess that guarantee.
func Assemble(txs []*types.Transaction, targetBlock uint64) (*Bundle, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBundle
	}

	for i, tx := range txs {
		if tx == nil {
			return nil, fmt.Errorf("%w: transaction %d is nil", ErrUnsignedTx, i)
		}
		_, r, s := tx.RawSignatureValues()
		if r.Sign() == 0 && s.Sign() == 0 {
			return nil, fmt.Errorf("%w: transaction %d (%s)", ErrUnsignedTx, i, tx.Hash().Hex())
		}
	}

	copied := make([]*types.Transaction, len(txs))
	copy(copied, txs)

	return &Bundle{
		txs:             copied,
		TargetBlock:     targetBlock,
		ReplacementUUID: uuid.New().String(),
	}, nil
}

// Transactions returns the bundle's transactions in execution order.
func (b *Bundle) Transactions() []*types.Transaction {
	out := make([]*types.Transaction, len(b.txs))
	copy(out, b.txs)
	return out
}

func (b *Bundle) Len() int {
	return len(b.txs)
}

// First returns the transaction under test: bundle inclusion is observed
// through its receipt.
func (b *Bundle) First() *types.Transaction {
	return b.txs[0]
}

// RawTxs returns the relay wire form: 0x-prefixed RLP of each transaction,
// in execution order.
func (b *Bundle) RawTxs() ([]string, error) {
	raw := make([]string, len(b.txs))
	for i, tx := range b.txs {
		encoded, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction %d: %w", i, err)
		}
		raw[i] = hexutil.Encode(encoded)
	}
	return raw, nil
}
