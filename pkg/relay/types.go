package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type jsonRpcRequest struct {
	Id      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Version string      `json:"jsonrpc,omitempty"`
}

type jsonRpcResponse struct {
	Id      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Version string          `json:"jsonrpc,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the relay.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("relay rpc error %d: %s", e.Code, e.Message)
}

type callBundleArgs struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber"`
}

type sendBundleArgs struct {
	Txs             []string `json:"txs"`
	BlockNumber     string   `json:"blockNumber"`
	MinTimestamp    uint64   `json:"minTimestamp,omitempty"`
	MaxTimestamp    uint64   `json:"maxTimestamp,omitempty"`
	ReplacementUUID string   `json:"replacementUuid,omitempty"`
}

type sendBundleResult struct {
	BundleHash string `json:"bundleHash"`
}

type bundleStatsArgs struct {
	BundleHash  string `json:"bundleHash"`
	BlockNumber string `json:"blockNumber"`
}

type callBundleResult struct {
	BundleHash       string             `json:"bundleHash"`
	BundleGasPrice   string             `json:"bundleGasPrice"`
	TotalGasUsed     uint64             `json:"totalGasUsed"`
	StateBlockNumber uint64             `json:"stateBlockNumber"`
	Results          []callBundleTxInfo `json:"results"`
}

type callBundleTxInfo struct {
	TxHash  string `json:"txHash"`
	Error   string `json:"error,omitempty"`
	Revert  string `json:"revert,omitempty"`
	GasUsed uint64 `json:"gasUsed"`
	Value   string `json:"value,omitempty"`
}

// SimulationResult is the classified outcome of eth_callBundle.
type SimulationResult struct {
	Success      bool
	Reason       string
	FailedTxHash common.Hash
}

// BundleStats mirrors the flashbots_getBundleStatsV2 response. The timestamps
// are zero when the corresponding event has not happened.
type BundleStats struct {
	IsHighPriority bool      `json:"isHighPriority"`
	IsSimulated    bool      `json:"isSimulated"`
	SimulatedAt    time.Time `json:"simulatedAt"`
	ReceivedAt     time.Time `json:"receivedAt"`

	ConsideredByBuildersAt []BuilderEvent `json:"consideredByBuildersAt"`
	SealedByBuildersAt     []BuilderEvent `json:"sealedByBuildersAt"`
}

type BuilderEvent struct {
	Pubkey    string    `json:"pubkey"`
	Timestamp time.Time `json:"timestamp"`
}

// Considered reports whether any builder picked the bundle up.
func (s *BundleStats) Considered() bool {
	return len(s.ConsideredByBuildersAt) > 0
}
