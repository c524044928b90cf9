package builder

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	committedBlockLandedMeter = metrics.NewRegisteredMeter("builder/committed/canonical", nil)
	committedBlockMissedMeter = metrics.NewRegisteredMeter("builder/committed/missed", nil)
)
