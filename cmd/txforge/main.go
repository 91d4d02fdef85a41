package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/txforge/txforge/pkg/bundle"
	"github.com/txforge/txforge/pkg/config"
	"github.com/txforge/txforge/pkg/logger"
	"github.com/txforge/txforge/pkg/relay"
	"github.com/txforge/txforge/pkg/signer"
	"github.com/txforge/txforge/pkg/submitter"
	"github.com/txforge/txforge/pkg/txbuilder"
)

func main() {
	app := &cli.App{
		Name:  "txforge",
		Usage: "Sign and submit a demonstration Ethereum transaction",
		Description: `Sign and submit one Ethereum transaction through a remote node.

By default the transaction is a small transfer guaranteed to succeed.
With --reverts it becomes a contract creation guaranteed to revert, so the
run demonstrates revert classification. With --bundle the transaction is
paired with a companion transfer and submitted through a Flashbots-style
relay as an ordered two-transaction bundle.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "private-key",
				Aliases:  []string{"priv"},
				Usage:    "ECDSA private key (hex string) for signing transactions",
				EnvVars:  []string{config.EnvPrivateKey},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "rpc-url",
				Aliases:  []string{"rpc"},
				Usage:    "Ethereum RPC URL (e.g. http://localhost:8545, https://mainnet.infura.io/v3/...)",
				EnvVars:  []string{config.EnvRPCURL},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "reverts",
				Usage:   "Submit a transaction guaranteed to revert on chain",
				EnvVars: []string{config.EnvReverts},
			},
			&cli.BoolFlag{
				Name:    "bundle",
				Usage:   "Submit as a two-transaction bundle via a relay instead of standalone",
				EnvVars: []string{config.EnvBundle},
			},
			&cli.StringFlag{
				Name:    "relay-url",
				Usage:   "Bundle relay URL (defaults to the chain's public Flashbots relay)",
				EnvVars: []string{config.EnvRelayURL},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvVerbose},
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Validate parameters without submitting anything",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg := &config.Config{
		PrivateKey: c.String("private-key"),
		RPCUrl:     c.String("rpc-url"),
		RelayURL:   c.String("relay-url"),
		Reverts:    c.Bool("reverts"),
		Bundle:     c.Bool("bundle"),
		Verbose:    c.Bool("verbose"),
		DryRun:     c.Bool("dry-run"),
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	appLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()

	appLogger.Sugar().Infow("Submission configuration",
		"rpc_url", cfg.RPCUrl,
		"reverts", cfg.Reverts,
		"bundle", cfg.Bundle,
		"dry_run", cfg.DryRun,
	)

	if cfg.DryRun {
		appLogger.Sugar().Info("Dry run mode - parameters validated successfully")
		return nil
	}

	result, reverts, err := submitOnce(c.Context, cfg, appLogger)
	if err != nil {
		return err
	}
	return report(result, reverts, appLogger)
}

// submitOnce wires the clients and performs the single submission of this
// invocation.
func submitOnce(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) (*submitter.Result, bool, error) {
	sugar := appLogger.Sugar()

	client, err := ethclient.DialContext(ctx, cfg.RPCUrl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get chain ID: %w", err)
	}
	chain := config.ChainId(chainID.Uint64())

	txSigner, err := signer.NewPrivateKeySigner(cfg.PrivateKey, appLogger)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create signer: %w", err)
	}
	sugar.Infow("Address of the signer",
		"address", txSigner.Address().Hex(),
	)

	builder := txbuilder.NewBuilder(client, appLogger)
	req, err := builder.Build(ctx, txSigner.Address(), cfg.Reverts)
	if err != nil {
		return nil, false, fmt.Errorf("failed to build transaction request: %w", err)
	}

	signedTx, err := txSigner.SignRequest(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to sign transaction: %w", err)
	}

	policy := submitter.Policy{
		MaxAttempts: config.DefaultPollAttempts,
		Interval:    config.GetPollIntervalForChain(chain),
	}

	var relayClient relay.IRelay
	var sub submitter.Submission

	if cfg.Bundle {
		relayURL := cfg.RelayURL
		if relayURL == "" {
			relayURL = config.GetRelayURLForChain(chain)
		}
		if relayURL == "" {
			return nil, false, fmt.Errorf("no relay URL configured and no default for chain %d; set --relay-url", chain)
		}

		// The signing key doubles as the relay auth key; a dedicated
		// searcher identity is overkill for a demonstration.
		relayClient, err = relay.NewClient(&relay.Config{
			BaseUrl:        relayURL,
			AuthPrivateKey: cfg.PrivateKey,
		}, appLogger)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create relay client: %w", err)
		}

		companionTx, err := txSigner.SignRequest(builder.Companion(req))
		if err != nil {
			return nil, false, fmt.Errorf("failed to sign companion transaction: %w", err)
		}

		head, err := client.BlockNumber(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get head block: %w", err)
		}

		b, err := bundle.Assemble([]*types.Transaction{signedTx, companionTx}, head+1)
		if err != nil {
			return nil, false, fmt.Errorf("failed to assemble bundle: %w", err)
		}
		sub = submitter.BundleOf(b)
	} else {
		sub = submitter.SingleTransaction(signedTx)
	}

	sm := submitter.New(client, relayClient, policy, appLogger)
	result, err := sm.Submit(ctx, sub)
	if err != nil {
		return nil, false, fmt.Errorf("submission failed: %w", err)
	}
	return result, cfg.Reverts, nil
}

// report maps the submission result onto the process exit status. A revert is
// the intended outcome of a --reverts run, so it is reported as a successful
// demonstration there; everywhere else only Confirmed exits zero.
func report(result *submitter.Result, reverts bool, appLogger *zap.Logger) error {
	sugar := appLogger.Sugar()

	switch result.Outcome {
	case submitter.OutcomeConfirmed:
		sugar.Infow("Demonstration succeeded: transaction confirmed",
			"tx_hash", result.TxHash.Hex(),
			"block", result.Receipt.BlockNumber.Uint64(),
		)
		return nil
	case submitter.OutcomeReverted:
		if reverts {
			sugar.Infow("Demonstration succeeded: transaction reverted as intended",
				"tx_hash", result.TxHash.Hex(),
				"revert_reason", result.RevertReason,
			)
			return nil
		}
		return cli.Exit(fmt.Sprintf("transaction reverted unexpectedly: %s", result.String()), 1)
	default:
		return cli.Exit(result.String(), 1)
	}
}
