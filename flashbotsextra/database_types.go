package flashbotsextra

import (
	"strings"
	"time"

	"github.com/flashbots/mev-bootee/core/types"
	"github.com/google/uuid"
)

type BuiltBlock struct {
	BlockId           uint64    `db:"block_id"`
	RoundId           uuid.UUID `db:"round_id"`
	BlockNumber       uint64    `db:"block_number"`
	Profit            string    `db:"profit"`
	Hash              string    `db:"hash"`
	GasLimit          uint64    `db:"gas_limit"`
	GasUsed           uint64    `db:"gas_used"`
	BaseFee           uint64    `db:"base_fee"`
	ParentHash        string    `db:"parent_hash"`
	Proposer          string    `db:"proposer"`
	FeeRecipient      string    `db:"fee_recipient"`
	TxCount           int       `db:"tx_count"`
	Timestamp         uint64    `db:"timestamp"`
	TimestampDatetime time.Time `db:"timestamp_datetime"`
	OrdersClosedAt    time.Time `db:"orders_closed_at"`
	SealedAt          time.Time `db:"sealed_at"`
}

type DbBundle struct {
	DbId     uint64    `db:"id"`
	BundleId string    `db:"bundle_id"`
	RoundId  uuid.UUID `db:"round_id"`

	BundleHash       string `db:"bundle_hash"`
	Searcher         string `db:"searcher"`
	BidKind          string `db:"bid_kind"`
	BidValue         string `db:"bid_value"`
	ParamSignedTxs   string `db:"param_signed_txs"`
	ParamBlockNumber uint64 `db:"param_block_number"`
	EstimatedTip     string `db:"estimated_tip"`
	TotalGasUsed     uint64 `db:"total_gas_used"`
}

type blockAndBundleId struct {
	BlockId  uint64 `db:"block_id"`
	BundleId uint64 `db:"bundle_id"`
}

// RoundBundle is a bundle known in a round together with its ledger id.
type RoundBundle struct {
	Id     types.BundleId
	Bundle *types.Bundle
}

func RoundBundleToDbBundle(roundId uuid.UUID, blockNumber uint64, rb RoundBundle) DbBundle {
	estimatedTip := "0"
	if rb.Bundle.EstimatedTip != nil {
		estimatedTip = rb.Bundle.EstimatedTip.Dec()
	}

	return DbBundle{
		BundleId:         rb.Id.String(),
		RoundId:          roundId,
		BundleHash:       rb.Bundle.Hash().String(),
		Searcher:         rb.Bundle.Searcher.String(),
		BidKind:          rb.Bundle.Bid.Kind.String(),
		BidValue:         rb.Bundle.Value().Dec(),
		ParamSignedTxs:   strings.Join(types.EncodeTransactions(rb.Bundle.Txs), ","),
		ParamBlockNumber: blockNumber,
		EstimatedTip:     estimatedTip,
		TotalGasUsed:     rb.Bundle.Cost(),
	}
}
