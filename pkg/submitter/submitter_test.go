package submitter

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/txforge/txforge/pkg/bundle"
	"github.com/txforge/txforge/pkg/relay"
	"github.com/txforge/txforge/pkg/signer"
	"github.com/txforge/txforge/pkg/txbuilder"
)

// The real node client and the mock must both cover the narrowed Client
// surface.
var (
	_ Client = (*ethclient.Client)(nil)
	_ Client = (*mockEthClient)(nil)
)

type mockEthClient struct {
	sendErr      error
	sent         []*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	receiptCalls int
	callResult   []byte
	callErr      error
	blockNumber  uint64
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.receiptCalls++
	if receipt, ok := m.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func (m *mockEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.callResult, m.callErr
}

func (m *mockEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return m.blockNumber, nil
}

type mockRelay struct {
	simResult *relay.SimulationResult
	simErr    error
	simCalls  int

	sendHash  common.Hash
	sendErr   error
	sendCalls int

	stats      *relay.BundleStats
	statsErr   error
	statsCalls int
}

func (m *mockRelay) CallBundle(ctx context.Context, b *bundle.Bundle) (*relay.SimulationResult, error) {
	m.simCalls++
	return m.simResult, m.simErr
}

func (m *mockRelay) SendBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error) {
	m.sendCalls++
	return m.sendHash, m.sendErr
}

func (m *mockRelay) GetBundleStats(ctx context.Context, bundleHash common.Hash, blockNumber uint64) (*relay.BundleStats, error) {
	m.statsCalls++
	return m.stats, m.statsErr
}

func testPolicy() Policy {
	return Policy{MaxAttempts: 3, Interval: time.Millisecond}
}

// signedTestTx builds and signs a scenario transaction the way the CLI does.
func signedTestTx(t *testing.T, reverts bool, nonce uint64) *types.Transaction {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := signer.NewPrivateKeySigner(common.Bytes2Hex(crypto.FromECDSA(key)), zaptest.NewLogger(t))
	require.NoError(t, err)

	req := &txbuilder.Request{
		ChainID:   big.NewInt(31337),
		Nonce:     nonce,
		Value:     big.NewInt(0),
		GasLimit:  txbuilder.GasLimit,
		GasFeeCap: big.NewInt(20000000000),
		GasTipCap: big.NewInt(1500000000),
	}
	if reverts {
		req.Data = txbuilder.RevertInitCode
	} else {
		to := txbuilder.SucceedTarget
		req.To = &to
		req.Value = big.NewInt(txbuilder.TransferValueWei)
	}

	tx, err := s.SignRequest(req)
	require.NoError(t, err)
	return tx
}

func receiptFor(tx *types.Transaction, status uint64) *types.Receipt {
	return &types.Receipt{
		TxHash:      tx.Hash(),
		Status:      status,
		BlockNumber: big.NewInt(42),
		GasUsed:     21000,
	}
}

func TestSubmit_StandaloneConfirmed(t *testing.T) {
	tx := signedTestTx(t, false, 0)
	client := &mockEthClient{
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): receiptFor(tx, types.ReceiptStatusSuccessful),
		},
	}
	s := New(client, nil, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), SingleTransaction(tx))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, result.Outcome)
	require.Equal(t, tx.Hash(), result.TxHash)
	require.NotNil(t, result.Receipt)
	require.Len(t, client.sent, 1)
}

func TestSubmit_StandaloneReverted(t *testing.T) {
	tx := signedTestTx(t, true, 0)
	client := &mockEthClient{
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): receiptFor(tx, types.ReceiptStatusFailed),
		},
		callErr: errors.New("execution reverted"),
	}
	s := New(client, nil, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), SingleTransaction(tx))
	require.NoError(t, err)
	require.Equal(t, OutcomeReverted, result.Outcome)
	require.NotEmpty(t, result.RevertReason)
	require.Contains(t, result.RevertReason, "execution reverted")
}

func TestSubmit_RevertReasonFallback(t *testing.T) {
	// Some endpoints return success for the replayed call; the reason then
	// falls back to a generic non-empty string.
	tx := signedTestTx(t, true, 0)
	client := &mockEthClient{
		receipts: map[common.Hash]*types.Receipt{
			tx.Hash(): receiptFor(tx, types.ReceiptStatusFailed),
		},
	}
	s := New(client, nil, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), SingleTransaction(tx))
	require.NoError(t, err)
	require.Equal(t, OutcomeReverted, result.Outcome)
	require.Equal(t, "execution reverted", result.RevertReason)
}

func TestSubmit_SendRejected(t *testing.T) {
	tx := signedTestTx(t, false, 0)
	client := &mockEthClient{sendErr: errors.New("nonce too low")}
	s := New(client, nil, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), SingleTransaction(tx))
	require.NoError(t, err)
	require.Equal(t, OutcomeNetworkError, result.Outcome)
	require.Equal(t, CauseSendRejected, result.Cause)
	require.Zero(t, client.receiptCalls)
}

func TestSubmit_PollingTimeout(t *testing.T) {
	// An endpoint that never produces a receipt must yield a timeout after
	// the attempt budget, not hang.
	tx := signedTestTx(t, false, 0)
	client := &mockEthClient{}
	s := New(client, nil, testPolicy(), zaptest.NewLogger(t))

	done := make(chan *Result, 1)
	go func() {
		result, err := s.Submit(context.Background(), SingleTransaction(tx))
		require.NoError(t, err)
		done <- result
	}()

	select {
	case result := <-done:
		require.Equal(t, OutcomeNetworkError, result.Outcome)
		require.Equal(t, CauseTimeout, result.Cause)
		require.Equal(t, 3, client.receiptCalls)
	case <-time.After(5 * time.Second):
		t.Fatal("polling did not terminate")
	}
}

func TestSubmit_BundleSimulationFailure(t *testing.T) {
	// A bundle that fails simulation is rejected before anything is
	// broadcast: no send, no nonce consumed.
	b := assembleTestBundle(t)
	client := &mockEthClient{}
	relayMock := &mockRelay{
		simResult: &relay.SimulationResult{Success: false, Reason: "execution reverted"},
	}
	s := New(client, relayMock, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), BundleOf(b))
	require.NoError(t, err)
	require.Equal(t, OutcomeRelayRejected, result.Outcome)
	require.Contains(t, result.Reason, "execution reverted")
	require.Equal(t, 1, relayMock.simCalls)
	require.Zero(t, relayMock.sendCalls)
	require.Empty(t, client.sent)
	require.Zero(t, client.receiptCalls)
}

func TestSubmit_BundleConfirmed(t *testing.T) {
	b := assembleTestBundle(t)
	bundleHash := common.HexToHash("0xbeef")
	client := &mockEthClient{
		receipts: map[common.Hash]*types.Receipt{
			b.First().Hash(): receiptFor(b.First(), types.ReceiptStatusSuccessful),
		},
		blockNumber: b.TargetBlock - 1,
	}
	relayMock := &mockRelay{
		simResult: &relay.SimulationResult{Success: true},
		sendHash:  bundleHash,
	}
	s := New(client, relayMock, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), BundleOf(b))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, result.Outcome)
	require.Equal(t, b.First().Hash(), result.TxHash)
	require.Equal(t, bundleHash, result.BundleHash)
	require.Equal(t, 1, relayMock.simCalls)
	require.Equal(t, 1, relayMock.sendCalls)
}

func TestSubmit_BundleSendRejectedByRelay(t *testing.T) {
	b := assembleTestBundle(t)
	relayMock := &mockRelay{
		simResult: &relay.SimulationResult{Success: true},
		sendErr:   &relay.RPCError{Code: -32600, Message: "bundle already known"},
	}
	s := New(&mockEthClient{}, relayMock, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), BundleOf(b))
	require.NoError(t, err)
	require.Equal(t, OutcomeRelayRejected, result.Outcome)
	require.Equal(t, "bundle already known", result.Reason)
}

func TestSubmit_BundleDropped(t *testing.T) {
	// Target block passed and no builder ever considered the bundle: an
	// explicit drop, not a timeout.
	b := assembleTestBundle(t)
	client := &mockEthClient{blockNumber: b.TargetBlock + 2}
	relayMock := &mockRelay{
		simResult: &relay.SimulationResult{Success: true},
		sendHash:  common.HexToHash("0xbeef"),
		stats:     &relay.BundleStats{IsSimulated: true},
	}
	s := New(client, relayMock, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), BundleOf(b))
	require.NoError(t, err)
	require.Equal(t, OutcomeRelayRejected, result.Outcome)
	require.Contains(t, result.Reason, "not considered")
	require.Equal(t, 1, relayMock.statsCalls)
}

func TestSubmit_BundleStatsUnavailableTimesOut(t *testing.T) {
	// A failed stats lookup is not evidence of a drop: polling continues,
	// retrying the lookup, until the budget expires.
	b := assembleTestBundle(t)
	client := &mockEthClient{blockNumber: b.TargetBlock + 2}
	relayMock := &mockRelay{
		simResult: &relay.SimulationResult{Success: true},
		sendHash:  common.HexToHash("0xbeef"),
		statsErr:  errors.New("relay unavailable"),
	}
	s := New(client, relayMock, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), BundleOf(b))
	require.NoError(t, err)
	require.Equal(t, OutcomeNetworkError, result.Outcome)
	require.Equal(t, CauseTimeout, result.Cause)
	require.Equal(t, 3, relayMock.statsCalls)
}

func TestSubmit_BundleNotIncludedTimesOut(t *testing.T) {
	// Considered but never sealed: keep polling until the budget expires.
	b := assembleTestBundle(t)
	client := &mockEthClient{blockNumber: b.TargetBlock + 2}
	relayMock := &mockRelay{
		simResult: &relay.SimulationResult{Success: true},
		sendHash:  common.HexToHash("0xbeef"),
		stats: &relay.BundleStats{
			IsSimulated:            true,
			ConsideredByBuildersAt: []relay.BuilderEvent{{Pubkey: "0xaa", Timestamp: time.Now()}},
		},
	}
	s := New(client, relayMock, testPolicy(), zaptest.NewLogger(t))

	result, err := s.Submit(context.Background(), BundleOf(b))
	require.NoError(t, err)
	require.Equal(t, OutcomeNetworkError, result.Outcome)
	require.Equal(t, CauseTimeout, result.Cause)
}

func TestSubmit_InvalidSubmission(t *testing.T) {
	s := New(&mockEthClient{}, &mockRelay{}, testPolicy(), zaptest.NewLogger(t))

	_, err := s.Submit(context.Background(), Submission{})
	require.Error(t, err)

	tx := signedTestTx(t, false, 0)
	b := assembleTestBundle(t)
	_, err = s.Submit(context.Background(), Submission{Tx: tx, Bundle: b})
	require.Error(t, err)
}

func TestSubmit_BundleWithoutRelay(t *testing.T) {
	s := New(&mockEthClient{}, nil, testPolicy(), zaptest.NewLogger(t))

	_, err := s.Submit(context.Background(), BundleOf(assembleTestBundle(t)))
	require.Error(t, err)
}

func assembleTestBundle(t *testing.T) *bundle.Bundle {
	t.Helper()
	txs := []*types.Transaction{
		signedTestTx(t, false, 0),
		signedTestTx(t, false, 1),
	}
	b, err := bundle.Assemble(txs, 100)
	require.NoError(t, err)

	// Input order is the bundle's execution order.
	got := b.Transactions()
	require.Equal(t, txs[0].Hash(), got[0].Hash())
	require.Equal(t, txs[1].Hash(), got[1].Hash())
	return b
}
