package txbuilder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// SucceedTarget is the destination of the always-succeeding scenario: a plain
// 100 wei transfer to a known externally owned account.
var SucceedTarget = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")

// RevertInitCode is the init code of the always-reverting scenario: a contract
// creation whose constructor executes PUSH1 0x00 PUSH1 0x00 REVERT. Creation
// aborts unconditionally, independent of chain state.
var RevertInitCode = hexutil.MustDecode("0x60006000fd")

const (
	// GasLimit is fixed well above what either scenario needs, so a revert is
	// always attributable to the init code rather than gas exhaustion. Gas
	// estimation is not used: eth_estimateGas refuses reverting transactions.
	GasLimit = 300000

	// TransferValueWei is the amount moved by the succeeding scenario.
	TransferValueWei = 100
)

// FallbackGasTipCap is used when the endpoint does not support
// eth_maxPriorityFeePerGas.
var FallbackGasTipCap = big.NewInt(1500000000) // 1.5 gwei

// Client is the read-only subset of ethclient.Client the builder needs.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Request is an unsigned EIP-1559 transaction request. To == nil denotes
// contract creation.
type Request struct {
	ChainID   *big.Int
	Nonce     uint64
	To        *common.Address
	Value     *big.Int
	Data      []byte
	GasLimit  uint64
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

type Builder struct {
	client Client
	logger *zap.Logger
}

func NewBuilder(client Client, logger *zap.Logger) *Builder {
	return &Builder{
		client: client,
		logger: logger,
	}
}

// Build constructs the unsigned request for the selected scenario. Nonce and
// fee parameters come from the endpoint; nothing on the remote system is
// mutated.
func (b *Builder) Build(ctx context.Context, from common.Address, reverts bool) (*Request, error) {
	chainID, err := b.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasFeeCap, gasTipCap, err := b.suggestFees(ctx)
	if err != nil {
		return nil, err
	}

	req := &Request{
		ChainID:   chainID,
		Nonce:     nonce,
		GasLimit:  GasLimit,
		GasFeeCap: gasFeeCap,
		GasTipCap: gasTipCap,
	}

	if reverts {
		req.Value = big.NewInt(0)
		req.Data = RevertInitCode
	} else {
		to := SucceedTarget
		req.To = &to
		req.Value = big.NewInt(TransferValueWei)
	}

	b.logger.Sugar().Infow("Built transaction request",
		zap.Bool("reverts", reverts),
		zap.Uint64("nonce", req.Nonce),
		zap.String("maxFeePerGas", req.GasFeeCap.String()),
		zap.String("maxPriorityFeePerGas", req.GasTipCap.String()),
	)

	return req, nil
}

// Companion derives a second succeeding request at the next nonce, reusing the
// fee parameters already fetched for req. Used to pair the transaction under
// test with a sibling inside a bundle without another round of lookups.
func (b *Builder) Companion(req *Request) *Request {
	to := SucceedTarget
	return &Request{
		ChainID:   req.ChainID,
		Nonce:     req.Nonce + 1,
		To:        &to,
		Value:     big.NewInt(TransferValueWei),
		GasLimit:  GasLimit,
		GasFeeCap: new(big.Int).Set(req.GasFeeCap),
		GasTipCap: new(big.Int).Set(req.GasTipCap),
	}
}

// suggestFees returns (maxFeePerGas, maxPriorityFeePerGas) as
// baseFee*2 + tip, the buffer used so the transaction survives base fee
// movement between lookup and inclusion.
func (b *Builder) suggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	gasTipCap, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		// Backend may not support eth_maxPriorityFeePerGas.
		b.logger.Sugar().Warnw("Cannot get gasTipCap, using fallback",
			zap.Error(err),
		)
		gasTipCap = new(big.Int).Set(FallbackGasTipCap)
	}

	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest block header: %w", err)
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(baseFee, big.NewInt(2)),
		gasTipCap,
	)
	return gasFeeCap, gasTipCap, nil
}
