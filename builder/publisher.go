package builder

import (
	"context"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// Publisher releases a block the proposer signed off on.
// *flashbotsextra.RpcBlockClient implements it.
type Publisher interface {
	Publish(ctx context.Context, block *gethtypes.Block, value *uint256.Int) (bool, error)
}

// LogPublisher only logs the block, it is used when no consumer is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, block *gethtypes.Block, value *uint256.Int) (bool, error) {
	log.Info("Publishing block", "number", block.NumberU64(), "hash", block.Hash(), "txs", len(block.Transactions()), "value", value)
	return true, nil
}
