package miner

import (
	"fmt"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flashbots/mev-bootee/core"
	"github.com/flashbots/mev-bootee/core/state"
	"github.com/flashbots/mev-bootee/core/types"
)

// GreedyBlockBuildingStrategy walks the bundles by descending bid value and
// keeps every bundle that applies on top of the previously accepted ones
// without making the inclusion list unexecutable.
//
// To use it:
// 1. Create it with the round environment
// 2. Add bundles and inclusion lists, each call rebuilds the draft
// 3. Call Block to seal the current draft
// Its lifecycle is tied to one round and it is not safe for concurrent use.
type GreedyBlockBuildingStrategy struct {
	env    *RoundEnv
	state  ExecutionAdapter
	ledger *core.BundleLedger
	signer gethtypes.Signer

	inclusionList []*types.Transaction
	draft         types.BlockDraft

	// state as of round start, nothing applied
	genesis state.Checkpoint
}

// NewGreedyBlockBuildingStrategy takes ownership of env.State. A nil ledger
// creates an empty one.
func NewGreedyBlockBuildingStrategy(env *RoundEnv, ledger *core.BundleLedger) *GreedyBlockBuildingStrategy {
	if ledger == nil {
		ledger = core.NewBundleLedger(nil)
	}
	return &GreedyBlockBuildingStrategy{
		env:     env,
		state:   env.State,
		ledger:  ledger,
		signer:  gethtypes.LatestSignerForChainID(env.ChainID),
		genesis: env.State.Checkpoint(),
	}
}

func (b *GreedyBlockBuildingStrategy) AddBundle(bundle *types.Bundle) (types.BundleId, error) {
	id := b.ledger.Insert(bundle)
	bundleTxNumHistogram.Update(int64(len(bundle.Txs)))
	return id, b.rebuild()
}

func (b *GreedyBlockBuildingStrategy) RemoveBundle(id types.BundleId) (bool, error) {
	if !b.ledger.Remove(id) {
		return false, nil
	}
	return true, b.rebuild()
}

// AddInclusionList replaces the inclusion list.
func (b *GreedyBlockBuildingStrategy) AddInclusionList(txs []*types.Transaction) error {
	b.inclusionList = make([]*types.Transaction, len(txs))
	copy(b.inclusionList, txs)
	return b.rebuild()
}

func (b *GreedyBlockBuildingStrategy) InclusionList() []*types.Transaction {
	txs := make([]*types.Transaction, len(b.inclusionList))
	copy(txs, b.inclusionList)
	return txs
}

func (b *GreedyBlockBuildingStrategy) CreateBundle(txs []*types.Transaction, bid types.Bid) (*types.Bundle, error) {
	start := time.Now()
	defer createBundleTimer.UpdateSince(start)

	first, err := bundleSender(b.signer, txs)
	if err != nil {
		invalidBundleMeter.Mark(1)
		return nil, err
	}
	searcher, _ := gethtypes.Sender(b.signer, first)

	estimate, err := estimateExecution(b.state, txs)
	if err != nil {
		return nil, err
	}
	if !estimate.applied {
		invalidBundleMeter.Mark(1)
		return nil, fmt.Errorf("%w: execution failed", ErrInvalidBundle)
	}
	if estimate.gasUsed > types.MaxGasCost {
		invalidBundleMeter.Mark(1)
		return nil, fmt.Errorf("%w: gas cost %d exceeds %d", ErrInvalidBundle, estimate.gasUsed, types.MaxGasCost)
	}

	return &types.Bundle{
		Searcher:         searcher,
		Bid:              bid,
		Txs:              txs,
		EstimatedTip:     estimate.tip,
		EstimatedGasCost: estimate.gasUsed,
	}, nil
}

// Draft returns a copy of the current draft.
func (b *GreedyBlockBuildingStrategy) Draft() types.BlockDraft {
	return b.draft.Copy()
}

func (b *GreedyBlockBuildingStrategy) Ledger() *core.BundleLedger {
	return b.ledger
}

func (b *GreedyBlockBuildingStrategy) Block() (*gethtypes.Header, *gethtypes.Block, error) {
	start := time.Now()
	defer buildBlockTimer.UpdateSince(start)

	cp := b.state.Checkpoint()
	defer b.state.Revert(cp)

	ok, err := b.state.Apply(b.draft.InclusionList)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrInclusionListNotExecutable
	}

	header, block, err := b.state.Finalize()
	if err != nil {
		return nil, nil, err
	}

	profit := b.state.Profit()
	blockProfitGauge.Update(int64(profit.Uint64()))
	blockProfitHistogram.Update(int64(profit.Uint64()))
	gasUsedGauge.Update(int64(header.GasUsed))
	transactionNumGauge.Update(int64(len(block.Transactions())))

	log.Debug("Sealed block", "round", b.env.Id, "number", header.Number, "hash", header.Hash(),
		"bundles", len(b.draft.Bundles), "txs", len(block.Transactions()), "profit", profit)
	return header, block, nil
}

// rebuild recomputes the draft from scratch. Only adapter errors are
// returned, conflicts just exclude the offending bundle.
func (b *GreedyBlockBuildingStrategy) rebuild() error {
	start := time.Now()
	defer rebuildTimer.UpdateSince(start)

	b.draft = types.BlockDraft{}
	b.state.Revert(b.genesis)

	pending := make([]*types.Transaction, len(b.inclusionList))
	copy(pending, b.inclusionList)

	for _, id := range b.ledger.OrderedIds() {
		bundle, ok := b.ledger.Get(id)
		if !ok {
			continue
		}

		before := b.state.Checkpoint()
		ok, err := b.state.Apply(bundle.Txs)
		if err != nil {
			return err
		}
		if !ok {
			b.state.Revert(before)
			excludedBundleMeter.Mark(1)
			log.Trace("Excluded bundle", "id", id, "value", bundle.Value())
			continue
		}

		if len(pending) == 0 {
			b.draft.Bundles = append(b.draft.Bundles, id)
			acceptedBundleMeter.Mark(1)
			log.Trace("Accepted bundle", "id", id, "value", bundle.Value())
			continue
		}

		remaining := withoutBundleTxs(pending, bundle)
		after := b.state.Checkpoint()
		ok, err = b.state.Apply(remaining)
		if err != nil {
			return err
		}
		if !ok {
			// the inclusion list wins over the bundle, pending stays as it was
			b.state.Revert(before)
			conflictingBundleMeter.Mark(1)
			log.Trace("Bundle conflicts with inclusion list", "id", id, "value", bundle.Value())
			continue
		}

		b.draft.Bundles = append(b.draft.Bundles, id)
		b.state.Revert(after)
		pending = remaining
		acceptedBundleMeter.Mark(1)
		log.Trace("Accepted bundle", "id", id, "value", bundle.Value(), "inclusionList", len(pending))
	}

	b.draft.InclusionList = pending
	ledgerSizeGauge.Update(int64(b.ledger.Len()))

	log.Debug("Rebuilt draft", "round", b.env.Id, "bundles", len(b.draft.Bundles), "ledger", b.ledger.Len(),
		"inclusionList", len(pending), "elapsed", time.Since(start))
	return nil
}

// withoutBundleTxs returns the transactions of txs not carried by bundle.
func withoutBundleTxs(txs []*types.Transaction, bundle *types.Bundle) []*types.Transaction {
	remaining := make([]*types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if !bundle.ContainsTransaction(tx) {
			remaining = append(remaining, tx)
		}
	}
	return remaining
}
