package main

import (
	"github.com/flashbots/mev-bootee/builder"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/urfave/cli/v2"
)

const (
	builderCategory  = "BUILDER"
	proposerCategory = "PROPOSER"
	storageCategory  = "STORAGE"
	loggingCategory  = "LOGGING AND METRICS"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	listenAddrFlag = &cli.StringFlag{
		Name:     "listen.addr",
		Usage:    "Listening address of the JSON-RPC server",
		Value:    builder.DefaultConfig.ListenAddr,
		Category: builderCategory,
	}
	executionEndpointFlag = &cli.StringFlag{
		Name:     "execution.endpoint",
		Usage:    "JSON-RPC endpoint of the execution client the rounds build on",
		Value:    builder.DefaultConfig.ExecutionEndpoint,
		Category: builderCategory,
	}
	modeFlag = &cli.StringFlag{
		Name:     "mode",
		Usage:    "Partial block building mode: BuilderProposes, ProposerProposes or ProposerChooses",
		Value:    builder.DefaultConfig.Mode.String(),
		Category: builderCategory,
	}
	algoFlag = &cli.StringFlag{
		Name:     "algo",
		Usage:    "Bundle selection algorithm (greedy)",
		Value:    builder.DefaultConfig.Algo,
		Category: builderCategory,
	}
	feeRecipientFlag = &cli.StringFlag{
		Name:     "feerecipient",
		Usage:    "Coinbase of the built blocks",
		Category: builderCategory,
	}
	secondsInSlotFlag = &cli.Uint64Flag{
		Name:     "slot.seconds",
		Usage:    "Seconds between the parent block and the block being built",
		Value:    builder.DefaultConfig.SecondsInSlot,
		Category: builderCategory,
	}
	minRoundDurationFlag = &cli.DurationFlag{
		Name:     "round.min-duration",
		Usage:    "Shortest time a round accepts requests",
		Value:    builder.DefaultConfig.MinRoundDuration,
		Category: builderCategory,
	}
	headPollIntervalFlag = &cli.DurationFlag{
		Name:     "head.poll-interval",
		Usage:    "Interval between chain head polls while waiting for the next block",
		Value:    builder.DefaultConfig.HeadPollInterval,
		Category: builderCategory,
	}
	gasLimitFlag = &cli.Uint64Flag{
		Name:     "gaslimit",
		Usage:    "Target gas limit of the built blocks",
		Value:    builder.DefaultConfig.GasLimit,
		Category: builderCategory,
	}
	extraDataFlag = &cli.StringFlag{
		Name:     "extradata",
		Usage:    "Extra data of the built blocks",
		Value:    builder.DefaultConfig.ExtraData,
		Category: builderCategory,
	}
	queueSizeFlag = &cli.IntFlag{
		Name:     "queue.size",
		Usage:    "Number of requests waiting for the round loop",
		Value:    builder.DefaultConfig.RequestQueueSize,
		Category: builderCategory,
	}
	rateLimitFlag = &cli.Float64Flag{
		Name:     "ratelimit",
		Usage:    "Requests per second accepted by the JSON-RPC API",
		Value:    builder.DefaultConfig.RateLimit,
		Category: builderCategory,
	}
	rateBurstFlag = &cli.IntFlag{
		Name:     "ratelimit.burst",
		Usage:    "Request burst accepted by the JSON-RPC API",
		Value:    builder.DefaultConfig.RateBurst,
		Category: builderCategory,
	}
	blocklistFlag = &cli.StringFlag{
		Name:     "blocklist",
		Usage:    "JSON file with the addresses no included transaction may touch",
		Category: builderCategory,
	}
	headerCacheSizeFlag = &cli.IntFlag{
		Name:     "headercache.size",
		Usage:    "Number of block headers cached",
		Value:    builder.DefaultConfig.HeaderCacheSize,
		Category: builderCategory,
	}
	verifyProposerFlag = &cli.BoolFlag{
		Name:     "proposer.verify",
		Usage:    "Check the proposer signature of block offer requests",
		Category: proposerCategory,
	}
	proposerAddressFlag = &cli.StringFlag{
		Name:     "proposer.address",
		Usage:    "Address of the proposer signing requests and headers",
		Category: proposerCategory,
	}
	blockConsumerURLFlag = &cli.StringFlag{
		Name:     "blockconsumer.url",
		Usage:    "JSON-RPC endpoint the signed blocks are published to",
		Category: proposerCategory,
	}
	publishRetryForFlag = &cli.DurationFlag{
		Name:     "publish.retry-for",
		Usage:    "How long a failed publication is retried",
		Value:    builder.DefaultConfig.PublishRetryFor,
		Category: proposerCategory,
	}
	publishIntervalFlag = &cli.DurationFlag{
		Name:     "publish.interval",
		Usage:    "Interval between publication retries",
		Value:    builder.DefaultConfig.PublishInterval,
		Category: proposerCategory,
	}
	databaseDSNFlag = &cli.StringFlag{
		Name:     "db.dsn",
		Usage:    "Postgres DSN the closed rounds are stored in",
		EnvVars:  []string{"MEVBOOTEE_POSTGRES_DSN"},
		Category: storageCategory,
	}
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value:    3,
		Category: loggingCategory,
	}
	metricsEnabledFlag = &cli.BoolFlag{
		Name:     "metrics",
		Usage:    "Enable metrics collection and reporting",
		Category: loggingCategory,
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:     "metrics.addr",
		Usage:    "Listening address of the metrics server",
		Value:    "127.0.0.1:6060",
		Category: loggingCategory,
	}

	builderFlags = []cli.Flag{
		configFileFlag,
		listenAddrFlag,
		executionEndpointFlag,
		modeFlag,
		algoFlag,
		feeRecipientFlag,
		secondsInSlotFlag,
		minRoundDurationFlag,
		headPollIntervalFlag,
		gasLimitFlag,
		extraDataFlag,
		queueSizeFlag,
		rateLimitFlag,
		rateBurstFlag,
		blocklistFlag,
		headerCacheSizeFlag,
		verifyProposerFlag,
		proposerAddressFlag,
		blockConsumerURLFlag,
		publishRetryForFlag,
		publishIntervalFlag,
		databaseDSNFlag,
	}

	loggingFlags = []cli.Flag{
		verbosityFlag,
		metricsEnabledFlag,
		metricsAddrFlag,
	}
)

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(ctx *cli.Context, cfg *mevbooteeConfig) error {
	b := &cfg.Builder
	if ctx.IsSet(listenAddrFlag.Name) {
		b.ListenAddr = ctx.String(listenAddrFlag.Name)
	}
	if ctx.IsSet(executionEndpointFlag.Name) {
		b.ExecutionEndpoint = ctx.String(executionEndpointFlag.Name)
	}
	if ctx.IsSet(modeFlag.Name) {
		mode, err := types.ParsePartialBlockBuildingMode(ctx.String(modeFlag.Name))
		if err != nil {
			return err
		}
		b.Mode = mode
	}
	if ctx.IsSet(algoFlag.Name) {
		b.Algo = ctx.String(algoFlag.Name)
	}
	if ctx.IsSet(feeRecipientFlag.Name) {
		b.FeeRecipient = ctx.String(feeRecipientFlag.Name)
	}
	if ctx.IsSet(secondsInSlotFlag.Name) {
		b.SecondsInSlot = ctx.Uint64(secondsInSlotFlag.Name)
	}
	if ctx.IsSet(minRoundDurationFlag.Name) {
		b.MinRoundDuration = ctx.Duration(minRoundDurationFlag.Name)
	}
	if ctx.IsSet(headPollIntervalFlag.Name) {
		b.HeadPollInterval = ctx.Duration(headPollIntervalFlag.Name)
	}
	if ctx.IsSet(gasLimitFlag.Name) {
		b.GasLimit = ctx.Uint64(gasLimitFlag.Name)
	}
	if ctx.IsSet(extraDataFlag.Name) {
		b.ExtraData = ctx.String(extraDataFlag.Name)
	}
	if ctx.IsSet(queueSizeFlag.Name) {
		b.RequestQueueSize = ctx.Int(queueSizeFlag.Name)
	}
	if ctx.IsSet(rateLimitFlag.Name) {
		b.RateLimit = ctx.Float64(rateLimitFlag.Name)
	}
	if ctx.IsSet(rateBurstFlag.Name) {
		b.RateBurst = ctx.Int(rateBurstFlag.Name)
	}
	if ctx.IsSet(blocklistFlag.Name) {
		b.Blocklist = ctx.String(blocklistFlag.Name)
	}
	if ctx.IsSet(headerCacheSizeFlag.Name) {
		b.HeaderCacheSize = ctx.Int(headerCacheSizeFlag.Name)
	}
	if ctx.IsSet(blockConsumerURLFlag.Name) {
		b.BlockConsumerURL = ctx.String(blockConsumerURLFlag.Name)
	}
	if ctx.IsSet(publishRetryForFlag.Name) {
		b.PublishRetryFor = ctx.Duration(publishRetryForFlag.Name)
	}
	if ctx.IsSet(publishIntervalFlag.Name) {
		b.PublishInterval = ctx.Duration(publishIntervalFlag.Name)
	}
	if ctx.IsSet(databaseDSNFlag.Name) {
		b.DatabaseDSN = ctx.String(databaseDSNFlag.Name)
	}

	v := &cfg.Validation
	if ctx.IsSet(verifyProposerFlag.Name) {
		v.VerifyProposer = ctx.Bool(verifyProposerFlag.Name)
	}
	if ctx.IsSet(proposerAddressFlag.Name) {
		v.ProposerAddress = ctx.String(proposerAddressFlag.Name)
	}
	return nil
}
