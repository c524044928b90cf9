package miner

import (
	"errors"
	"strings"

	"github.com/flashbots/mev-bootee/core"
)

type AlgoType int

const (
	ALGO_GREEDY AlgoType = iota
)

func (a AlgoType) String() string {
	switch a {
	case ALGO_GREEDY:
		return "greedy"
	default:
		return "unsupported"
	}
}

func AlgoTypeFlagToEnum(algoString string) (AlgoType, error) {
	switch strings.ToLower(algoString) {
	case ALGO_GREEDY.String():
		return ALGO_GREEDY, nil
	default:
		return ALGO_GREEDY, errors.New("algo not recognized")
	}
}

// NewBlockBuildingStrategy creates the selection strategy for a round. A nil
// ledger creates an empty one.
func NewBlockBuildingStrategy(algo AlgoType, env *RoundEnv, ledger *core.BundleLedger) (BlockBuildingStrategy, error) {
	switch algo {
	case ALGO_GREEDY:
		return NewGreedyBlockBuildingStrategy(env, ledger), nil
	default:
		return nil, errors.New("algo not recognized")
	}
}
