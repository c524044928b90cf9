package miner

import (
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mev-bootee/core"
	"github.com/flashbots/mev-bootee/core/state"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/holiman/uint256"
)

// ExecutionAdapter applies transactions to the world state of a round.
// Apply returning false is an ordinary conflict, an error is fatal to the
// round. *state.CheckpointState implements it.
type ExecutionAdapter interface {
	Checkpoint() state.Checkpoint
	Apply(txs []*types.Transaction) (bool, error)
	Revert(cp state.Checkpoint)
	Finalize() (*gethtypes.Header, *gethtypes.Block, error)

	Profit() *uint256.Int
	GasUsed() uint64
}

// BlockBuildingStrategy decides which bundles enter the block and in which order.
// Every mutation recomputes the draft before returning.
type BlockBuildingStrategy interface {
	AddBundle(bundle *types.Bundle) (types.BundleId, error)
	RemoveBundle(id types.BundleId) (bool, error)
	AddInclusionList(txs []*types.Transaction) error

	// CreateBundle validates txs against the current draft and estimates their tip and gas.
	CreateBundle(txs []*types.Transaction, bid types.Bid) (*types.Bundle, error)

	Draft() types.BlockDraft
	Ledger() *core.BundleLedger

	// Block seals the current draft. The adapter is left at the draft frontier.
	Block() (*gethtypes.Header, *gethtypes.Block, error)
}
