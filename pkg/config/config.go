package config

import (
	"fmt"
	"strings"
	"time"
)

// Environment variable names for txforge configuration
const (
	EnvPrivateKey = "TXFORGE_PRIVATE_KEY"
	EnvRPCURL     = "TXFORGE_RPC_URL"
	EnvRelayURL   = "TXFORGE_RELAY_URL"
	EnvReverts    = "TXFORGE_REVERTS"
	EnvBundle     = "TXFORGE_BUNDLE"
	EnvVerbose    = "TXFORGE_VERBOSE"
)

type ChainId uint64

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}

func GetSupportedChainIDs() []ChainId {
	return []ChainId{ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil}
}

func GetSupportedChainIDsString() string {
	ids := GetSupportedChainIDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d (%s)", id, ChainIdToName[id])
	}
	return strings.Join(parts, ", ")
}

// Default relay endpoints by chain. Chains without a public relay get no
// default and require --relay-url for bundle mode.
var chainIdToRelayURL = map[ChainId]string{
	ChainId_EthereumMainnet: "https://relay.flashbots.net",
	ChainId_EthereumSepolia: "https://relay-sepolia.flashbots.net",
}

func GetRelayURLForChain(chainId ChainId) string {
	return chainIdToRelayURL[chainId]
}

// Polling policy defaults. 40 attempts at one lookup per interval bounds a
// submission to roughly ten mainnet blocks before it is reported as timed out.
const (
	DefaultPollAttempts = 40

	PollInterval_Mainnet = 3 * time.Second
	PollInterval_Anvil   = 500 * time.Millisecond
)

// GetPollIntervalForChain returns the receipt polling interval for a chain.
// Anvil mines near-instantly, so polling waits far less between lookups.
func GetPollIntervalForChain(chainId ChainId) time.Duration {
	switch chainId {
	case ChainId_EthereumAnvil:
		return PollInterval_Anvil
	default:
		return PollInterval_Mainnet
	}
}

// Config holds the CLI configuration for a single submission run.
type Config struct {
	PrivateKey string
	RPCUrl     string
	RelayURL   string
	Reverts    bool
	Bundle     bool
	Verbose    bool
	DryRun     bool
}

// Validate checks the configuration before any network connection is made.
// It does not modify the config; the private key is accepted with or without
// the 0x prefix, matching what the signer accepts.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("private key cannot be empty")
	}
	if key := strings.TrimPrefix(c.PrivateKey, "0x"); len(key) != 64 {
		return fmt.Errorf("private key must be 32 bytes (64 hex chars), got %d chars", len(key))
	}

	if c.RPCUrl == "" {
		return fmt.Errorf("RPC URL cannot be empty")
	}
	if !strings.HasPrefix(c.RPCUrl, "http://") && !strings.HasPrefix(c.RPCUrl, "https://") && !strings.HasPrefix(c.RPCUrl, "ws://") && !strings.HasPrefix(c.RPCUrl, "wss://") {
		return fmt.Errorf("RPC URL must start with http://, https://, ws://, or wss://")
	}

	if c.RelayURL != "" && !strings.HasPrefix(c.RelayURL, "http://") && !strings.HasPrefix(c.RelayURL, "https://") {
		return fmt.Errorf("relay URL must start with http:// or https://")
	}

	return nil
}
