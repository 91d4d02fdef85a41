package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/txforge/txforge/pkg/txbuilder"
)

var (
	// ErrInvalidKey is returned when the private key material is malformed.
	ErrInvalidKey = errors.New("invalid private key")

	// ErrInvalidRequest is returned when a request is missing required fields.
	// Request errors are never retried.
	ErrInvalidRequest = errors.New("invalid transaction request")
)

// ITransactionSigner produces signed transaction envelopes from unsigned
// requests.
type ITransactionSigner interface {
	// Address returns the sender address derived from the signing key.
	Address() common.Address

	// SignRequest signs an unsigned request and returns the immutable
	// signed transaction.
	SignRequest(req *txbuilder.Request) (*types.Transaction, error)
}

// PrivateKeySigner signs with a local ECDSA private key. The key lives only
// in process memory and is never logged.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	logger     *zap.Logger
}

var _ ITransactionSigner = (*PrivateKeySigner)(nil)

// NewPrivateKeySigner parses a hex-encoded private key, with or without the
// 0x prefix.
func NewPrivateKeySigner(privateKeyHex string, logger *zap.Logger) (*PrivateKeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	privateKey, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	logger.Sugar().Infow("Loaded signing key",
		zap.String("address", address.Hex()),
	)

	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    address,
		logger:     logger,
	}, nil
}

func (s *PrivateKeySigner) Address() common.Address {
	return s.address
}

// SignRequest signs req as an EIP-1559 transaction. Signing is deterministic:
// the signature nonce is derived from the digest and key, so the same request
// always yields a byte-identical envelope.
func (s *PrivateKeySigner) SignRequest(req *txbuilder.Request) (*types.Transaction, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := &types.DynamicFeeTx{
		ChainID:   req.ChainID,
		Nonce:     req.Nonce,
		GasTipCap: req.GasTipCap,
		GasFeeCap: req.GasFeeCap,
		Gas:       req.GasLimit,
		To:        req.To,
		Value:     value,
		Data:      req.Data,
	}

	signedTx, err := types.SignNewTx(s.privateKey, types.LatestSignerForChainID(req.ChainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	s.logger.Sugar().Infow("Signed transaction",
		zap.String("txHash", signedTx.Hash().Hex()),
		zap.Uint64("nonce", signedTx.Nonce()),
	)

	return signedTx, nil
}

func validateRequest(req *txbuilder.Request) error {
	if req == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if req.ChainID == nil || req.ChainID.Sign() <= 0 {
		return fmt.Errorf("%w: chain ID is missing", ErrInvalidRequest)
	}
	if req.GasLimit == 0 {
		return fmt.Errorf("%w: gas limit is missing", ErrInvalidRequest)
	}
	if req.GasFeeCap == nil || req.GasTipCap == nil {
		return fmt.Errorf("%w: fee caps are missing", ErrInvalidRequest)
	}
	return nil
}
