package miner

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	blockProfitHistogram = metrics.NewRegisteredHistogram("miner/block/profit", nil, metrics.NewExpDecaySample(1028, 0.015))
	bundleTxNumHistogram = metrics.NewRegisteredHistogram("miner/bundle/txnum", nil, metrics.NewExpDecaySample(1028, 0.015))
	blockProfitGauge     = metrics.NewRegisteredGauge("miner/block/profit/gauge", nil)

	rebuildTimer      = metrics.NewRegisteredTimer("miner/block/rebuild", nil)
	buildBlockTimer   = metrics.NewRegisteredTimer("miner/block/build", nil)
	createBundleTimer = metrics.NewRegisteredTimer("miner/bundle/create", nil)

	acceptedBundleMeter    = metrics.NewRegisteredMeter("miner/bundle/accepted", nil)
	excludedBundleMeter    = metrics.NewRegisteredMeter("miner/bundle/excluded", nil)
	conflictingBundleMeter = metrics.NewRegisteredMeter("miner/bundle/conflicting", nil)
	invalidBundleMeter     = metrics.NewRegisteredMeter("miner/bundle/invalid", nil)

	ledgerSizeGauge     = metrics.NewRegisteredGauge("miner/ledger/size", nil)
	gasUsedGauge        = metrics.NewRegisteredGauge("miner/block/gasused", nil)
	transactionNumGauge = metrics.NewRegisteredGauge("miner/block/txnum", nil)
)
