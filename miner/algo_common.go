package miner

import (
	"errors"
	"fmt"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidBundle              = errors.New("invalid bundle")
	ErrInclusionListNotExecutable = errors.New("inclusion list cannot be executed on top of the draft")
)

// executionEstimate is the effect of applying a list of transactions on the adapter.
type executionEstimate struct {
	applied bool
	tip     *uint256.Int
	gasUsed uint64
}

// estimateExecution applies txs on top of the current adapter state and
// reverts, reporting what the application changed.
func estimateExecution(adapter ExecutionAdapter, txs []*types.Transaction) (executionEstimate, error) {
	cp := adapter.Checkpoint()
	defer adapter.Revert(cp)

	profitBefore := adapter.Profit()
	gasBefore := adapter.GasUsed()

	ok, err := adapter.Apply(txs)
	if err != nil {
		return executionEstimate{}, err
	}
	if !ok {
		return executionEstimate{}, nil
	}
	return executionEstimate{
		applied: true,
		tip:     new(uint256.Int).Sub(adapter.Profit(), profitBefore),
		gasUsed: adapter.GasUsed() - gasBefore,
	}, nil
}

func bundleSender(signer gethtypes.Signer, txs []*types.Transaction) (*gethtypes.Transaction, error) {
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrInvalidBundle)
	}
	first := txs[0].Tx()
	if first == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBundle, types.ErrInvalidTransaction)
	}
	if _, err := gethtypes.Sender(signer, first); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	return first, nil
}
