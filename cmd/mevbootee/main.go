// mevbootee runs the MEV-BooTEE bundle selection engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"github.com/flashbots/mev-bootee/builder"
	"github.com/flashbots/mev-bootee/flashbotsextra"
	"github.com/flashbots/mev-bootee/internal/ethapi"
	"github.com/flashbots/mev-bootee/miner"
	"github.com/flashbots/mev-bootee/ofac"
	"github.com/flashbots/mev-bootee/validation"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var app = &cli.App{
	Name:   "mevbootee",
	Usage:  "greedy bundle selection and partial block building",
	Flags:  append(append([]cli.Flag{}, builderFlags...), loggingFlags...),
	Before: setupLogging,
	Action: run,
	Commands: []*cli.Command{
		{
			Name:      "dumpconfig",
			Usage:     "Export configuration values in a TOML format",
			ArgsUsage: "<dumpfile (optional)>",
			Flags:     builderFlags,
			Action:    dumpConfig,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), false)
	log.SetDefault(log.NewLogger(handler))

	if ctx.Bool(metricsEnabledFlag.Name) {
		metrics.Enabled = true
		log.Info("Enabling metrics export", "addr", ctx.String(metricsAddrFlag.Name))
		exp.Setup(ctx.String(metricsAddrFlag.Name))
	}
	return nil
}

func run(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordinator, service, err := assemble(sigCtx, cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return coordinator.Run(gctx)
	})
	g.Go(func() error {
		return service.Run(gctx)
	})
	return g.Wait()
}

func assemble(ctx context.Context, cfg mevbooteeConfig) (*builder.Coordinator, *builder.Service, error) {
	bcfg := cfg.Builder

	algo, err := miner.AlgoTypeFlagToEnum(bcfg.Algo)
	if err != nil {
		return nil, nil, err
	}

	verifier, err := validation.NewVerifier(cfg.Validation)
	if err != nil {
		return nil, nil, err
	}
	proposer, err := cfg.Validation.Proposer()
	if err != nil {
		return nil, nil, err
	}

	var feeRecipient common.Address
	if bcfg.FeeRecipient != "" {
		if !common.IsHexAddress(bcfg.FeeRecipient) {
			return nil, nil, fmt.Errorf("invalid fee recipient %q", bcfg.FeeRecipient)
		}
		feeRecipient = common.HexToAddress(bcfg.FeeRecipient)
	}

	var compliance *ofac.ComplianceList
	if bcfg.Blocklist != "" {
		compliance, err = ofac.LoadComplianceList(bcfg.Blocklist)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load blocklist: %w", err)
		}
		log.Info("Loaded blocklist", "addresses", compliance.Len())
	}

	var ds flashbotsextra.IDatabaseService
	if bcfg.DatabaseDSN != "" {
		ds, err = flashbotsextra.NewDatabaseService(bcfg.DatabaseDSN)
		if err != nil {
			log.Error("could not connect to the DB", "err", err)
			ds = flashbotsextra.NilDbService{}
		}
	} else {
		log.Info("db dsn is not provided, starting nil db svc")
		ds = flashbotsextra.NilDbService{}
	}

	var publisher builder.Publisher = builder.LogPublisher{}
	if bcfg.BlockConsumerURL != "" {
		publisher = flashbotsextra.NewRpcBlockClient(bcfg.BlockConsumerURL)
	}

	chain, err := builder.DialEthereumService(ctx, bcfg.ExecutionEndpoint, bcfg.HeaderCacheSize)
	if err != nil {
		return nil, nil, err
	}

	coordinator := builder.NewCoordinator(builder.CoordinatorArgs{
		Chain:            chain,
		Mode:             bcfg.Mode,
		Algo:             algo,
		Verifier:         verifier,
		VerifyProposer:   cfg.Validation.VerifyProposer,
		Proposer:         proposer,
		FeeRecipient:     feeRecipient,
		GasLimit:         bcfg.GasLimit,
		ExtraData:        []byte(bcfg.ExtraData),
		SecondsInSlot:    bcfg.SecondsInSlot,
		MinRoundDuration: bcfg.MinRoundDuration,
		QueueSize:        bcfg.RequestQueueSize,
		Compliance:       compliance,
		Db:               ds,
		Publisher:        publisher,
		PublishRetryFor:  bcfg.PublishRetryFor,
		PublishInterval:  bcfg.PublishInterval,
		HeadPollInterval: bcfg.HeadPollInterval,
	})

	if bcfg.RateLimit <= 0 {
		return nil, nil, errors.New("rate limit must be positive")
	}
	limiter := rate.NewLimiter(rate.Limit(bcfg.RateLimit), bcfg.RateBurst)
	service, err := builder.NewService(bcfg.ListenAddr, coordinator, ethapi.GetAPIs(coordinator, limiter))
	if err != nil {
		return nil, nil, err
	}

	log.Info("Starting mev-bootee", "mode", bcfg.Mode, "algo", algo, "listen", bcfg.ListenAddr,
		"execution", bcfg.ExecutionEndpoint, "proposer", proposer, "verifyProposer", cfg.Validation.VerifyProposer)
	return coordinator, service, nil
}
