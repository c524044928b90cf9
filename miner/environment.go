package miner

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip1559"
	gethcore "github.com/ethereum/go-ethereum/core"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/flashbots/mev-bootee/core/state"
	"github.com/flashbots/mev-bootee/ofac"
	"github.com/google/uuid"
)

// RoundArgs describes the block a round builds on top of parent.
type RoundArgs struct {
	Parent        *gethtypes.Header
	ChainID       *big.Int
	FeeRecipient  common.Address
	GasLimit      uint64
	ExtraData     []byte
	SecondsInSlot uint64
	Proposer      common.Address
	Deadline      time.Time
	Fetcher       state.StateFetcher
	Compliance    *ofac.ComplianceList
}

// RoundEnv is the immutable context of one round together with the
// execution state it owns. It is bound to a single parent header.
type RoundEnv struct {
	Id       uuid.UUID
	Parent   *gethtypes.Header
	Header   *gethtypes.Header
	ChainID  *big.Int
	Proposer common.Address
	Deadline time.Time

	State ExecutionAdapter
}

func NewRoundEnv(args RoundArgs) *RoundEnv {
	header := PendingHeader(args)
	return &RoundEnv{
		Id:       uuid.New(),
		Parent:   gethtypes.CopyHeader(args.Parent),
		Header:   header,
		ChainID:  new(big.Int).Set(args.ChainID),
		Proposer: args.Proposer,
		Deadline: args.Deadline,
		State:    state.NewCheckpointState(header, args.ChainID, args.Fetcher, args.Compliance),
	}
}

func (env *RoundEnv) BaseFee() *big.Int {
	return new(big.Int).Set(env.Header.BaseFee)
}

func (env *RoundEnv) Number() uint64 {
	return env.Header.Number.Uint64()
}

// PendingHeader is the template of the block built on top of args.Parent.
func PendingHeader(args RoundArgs) *gethtypes.Header {
	parent := args.Parent
	gasLimit := args.GasLimit
	if gasLimit == 0 {
		gasLimit = parent.GasLimit
	}
	return &gethtypes.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:   gethcore.CalcGasLimit(parent.GasLimit, gasLimit),
		Time:       parent.Time + args.SecondsInSlot,
		Coinbase:   args.FeeRecipient,
		Extra:      common.CopyBytes(args.ExtraData),
		BaseFee:    nextBaseFee(ChainConfig(args.ChainID), parent),
		Difficulty: new(big.Int),
	}
}

func nextBaseFee(config *params.ChainConfig, parent *gethtypes.Header) *big.Int {
	if parent.BaseFee == nil {
		return new(big.Int).SetUint64(params.InitialBaseFee)
	}
	return eip1559.CalcBaseFee(config, parent)
}

// ChainConfig returns the known configuration for chainID, or one with every
// fork active from genesis.
func ChainConfig(chainID *big.Int) *params.ChainConfig {
	for _, config := range []*params.ChainConfig{params.MainnetChainConfig, params.SepoliaChainConfig, params.HoleskyChainConfig} {
		if config.ChainID.Cmp(chainID) == 0 {
			return config
		}
	}
	config := *params.AllEthashProtocolChanges
	config.ChainID = new(big.Int).Set(chainID)
	return &config
}
