package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/txforge/txforge/pkg/bundle"
)

// IRelay is the relay surface the submitter depends on. Abstracted so tests
// can substitute a mock for a live relay.
type IRelay interface {
	// CallBundle simulates the bundle against the latest state without
	// broadcasting anything. Corresponds to eth_callBundle.
	CallBundle(ctx context.Context, b *bundle.Bundle) (*SimulationResult, error)

	// SendBundle submits the bundle for inclusion in its target block and
	// returns the relay's bundle hash. Corresponds to eth_sendBundle.
	SendBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error)

	// GetBundleStats reports what the relay did with a previously submitted
	// bundle. Corresponds to flashbots_getBundleStatsV2.
	GetBundleStats(ctx context.Context, bundleHash common.Hash, blockNumber uint64) (*BundleStats, error)
}

type Config struct {
	BaseUrl string
	// AuthPrivateKey signs the request body for the X-Flashbots-Signature
	// header. It identifies the searcher to the relay and need not hold funds.
	AuthPrivateKey string
	Timeout        time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Timeout: 12 * time.Second,
	}
}

// Client talks JSON-RPC over HTTP to a Flashbots-style relay, signing each
// request body with the auth key.
type Client struct {
	baseUrl     string
	authKey     *ecdsa.PrivateKey
	authAddress common.Address
	httpClient  *http.Client
	logger      *zap.Logger
}

var _ IRelay = (*Client)(nil)

func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseUrl == "" {
		return nil, fmt.Errorf("relay URL cannot be empty")
	}

	trimmed := strings.TrimPrefix(strings.TrimSpace(cfg.AuthPrivateKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("relay auth private key cannot be empty")
	}
	authKey, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse relay auth key")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}

	return &Client{
		baseUrl:     strings.TrimRight(cfg.BaseUrl, "/"),
		authKey:     authKey,
		authAddress: crypto.PubkeyToAddress(authKey.PublicKey),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}, nil
}

// SetHttpClient allows setting a custom HTTP client, useful for testing.
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) CallBundle(ctx context.Context, b *bundle.Bundle) (*SimulationResult, error) {
	raw, err := b.RawTxs()
	if err != nil {
		return nil, err
	}

	params := []interface{}{
		callBundleArgs{
			Txs:              raw,
			BlockNumber:      hexutil.EncodeUint64(b.TargetBlock),
			StateBlockNumber: "latest",
		},
	}

	var result callBundleResult
	if err := c.call(ctx, "eth_callBundle", params, &result); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			// The relay refused to even simulate; treat as a failed
			// simulation with the relay's message as the reason.
			return &SimulationResult{Success: false, Reason: rpcErr.Message}, nil
		}
		return nil, err
	}

	sim := &SimulationResult{Success: true}
	for _, txResult := range result.Results {
		if txResult.Error != "" {
			sim.Success = false
			sim.Reason = txResult.Error
			if txResult.Revert != "" {
				sim.Reason = fmt.Sprintf("%s (revert data %s)", txResult.Error, txResult.Revert)
			}
			sim.FailedTxHash = common.HexToHash(txResult.TxHash)
			break
		}
	}

	c.logger.Sugar().Infow("Simulated bundle",
		zap.Bool("success", sim.Success),
		zap.String("reason", sim.Reason),
		zap.Uint64("targetBlock", b.TargetBlock),
	)

	return sim, nil
}

func (c *Client) SendBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error) {
	raw, err := b.RawTxs()
	if err != nil {
		return common.Hash{}, err
	}

	params := []interface{}{
		sendBundleArgs{
			Txs:             raw,
			BlockNumber:     hexutil.EncodeUint64(b.TargetBlock),
			ReplacementUUID: b.ReplacementUUID,
		},
	}

	var result sendBundleResult
	if err := c.call(ctx, "eth_sendBundle", params, &result); err != nil {
		return common.Hash{}, err
	}

	bundleHash := common.HexToHash(result.BundleHash)
	c.logger.Sugar().Infow("Sent bundle",
		zap.String("bundleHash", bundleHash.Hex()),
		zap.Uint64("targetBlock", b.TargetBlock),
		zap.Int("numTxs", b.Len()),
	)

	return bundleHash, nil
}

func (c *Client) GetBundleStats(ctx context.Context, bundleHash common.Hash, blockNumber uint64) (*BundleStats, error) {
	params := []interface{}{
		bundleStatsArgs{
			BundleHash:  bundleHash.Hex(),
			BlockNumber: hexutil.EncodeUint64(blockNumber),
		},
	}

	var stats BundleStats
	if err := c.call(ctx, "flashbots_getBundleStatsV2", params, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// call posts one JSON-RPC request with the flashbots signature header and
// decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload := jsonRpcRequest{
		Id:      1,
		Version: "2.0",
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	sig, err := c.signBody(body)
	if err != nil {
		return fmt.Errorf("failed to sign %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request %s failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned http %d for %s: %s", resp.StatusCode, method, strings.TrimSpace(string(respBody)))
	}

	var decoded jsonRpcResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// signBody produces the X-Flashbots-Signature header value: the auth address
// and an EIP-191 signature over the hex-encoded keccak256 of the body.
func (c *Client) signBody(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), c.authKey)
	if err != nil {
		return "", err
	}
	return c.authAddress.Hex() + ":" + "0x" + hex.EncodeToString(sig), nil
}
