package flashbotsextra

import (
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testRoundBundle(id string, value uint64, raw byte) RoundBundle {
	return RoundBundle{
		Id: types.BundleId(id),
		Bundle: &types.Bundle{
			Searcher:         common.Address{raw},
			Bid:              types.NewBid(types.RestOfBlock, value),
			Txs:              []*types.Transaction{{Raw: []byte{raw}}},
			EstimatedTip:     uint256.NewInt(value * 2),
			EstimatedGasCost: 21000,
		},
	}
}

func TestRoundBundleToDbBundle(t *testing.T) {
	roundId := uuid.New()
	rb := testRoundBundle("0x01", 5, 0xaa)

	require.Equal(t, DbBundle{
		BundleId:         "0x01",
		RoundId:          roundId,
		BundleHash:       rb.Bundle.Hash().String(),
		Searcher:         common.Address{0xaa}.String(),
		BidKind:          "RestOfBlock",
		BidValue:         "5",
		ParamSignedTxs:   "0xaa",
		ParamBlockNumber: 12,
		EstimatedTip:     "10",
		TotalGasUsed:     21000,
	}, RoundBundleToDbBundle(roundId, 12, rb))
}

func TestDatabaseBlockInsertion(t *testing.T) {
	dsn := os.Getenv("MEVBOOTEE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip()
	}
	ds, err := NewDatabaseService(dsn)
	require.NoError(t, err)

	block := gethtypes.NewBlockWithHeader(&gethtypes.Header{
		ParentHash: common.HexToHash("0xafafafa"),
		Number:     big.NewInt(12),
		GasLimit:   uint64(10000),
		GasUsed:    uint64(1000),
		Time:       16000000,
		BaseFee:    big.NewInt(7),
	})

	_, err = ds.db.Exec("delete from built_blocks_bundles where block_id = (select block_id from built_blocks where hash = $1)", block.Hash().String())
	require.NoError(t, err)
	_, err = ds.db.Exec("delete from built_blocks_all_bundles where block_id = (select block_id from built_blocks where hash = $1)", block.Hash().String())
	require.NoError(t, err)
	_, err = ds.db.Exec("delete from built_blocks where hash = $1", block.Hash().String())
	require.NoError(t, err)
	_, err = ds.db.Exec("delete from bundles where bundle_id in ('0xb1', '0xb2', '0xb3')")
	require.NoError(t, err)

	b1 := testRoundBundle("0xb1", 100, 0x01)
	b2 := testRoundBundle("0xb2", 50, 0x02)
	b3 := testRoundBundle("0xb3", 10, 0x03)

	record := &RoundRecord{
		RoundId:          uuid.New(),
		Block:            block,
		Profit:           uint256.NewInt(10),
		Proposer:         common.HexToAddress("0x1234"),
		OrdersClosedAt:   time.Now().Add(-time.Hour).UTC(),
		SealedAt:         time.Now().Add(-30 * time.Minute).UTC(),
		CommittedBundles: []RoundBundle{b1, b2},
		AllBundles:       []RoundBundle{b1, b2, b3},
	}
	ds.ConsumeBuiltBlock(record)

	var dbBlock BuiltBlock
	require.NoError(t, ds.db.Get(&dbBlock, "select block_id, round_id, block_number, profit, hash, gas_limit, gas_used, base_fee, parent_hash, proposer, fee_recipient, tx_count, timestamp, timestamp_datetime, orders_closed_at, sealed_at from built_blocks where hash = $1", block.Hash().String()))
	require.Equal(t, record.RoundId, dbBlock.RoundId)
	require.Equal(t, uint64(12), dbBlock.BlockNumber)
	require.Equal(t, "0.000000000000000010", dbBlock.Profit)
	require.Equal(t, uint64(7), dbBlock.BaseFee)
	require.True(t, dbBlock.TimestampDatetime.Equal(time.Unix(16000000, 0)))

	var committed []string
	require.NoError(t, ds.db.Select(&committed, "select b.bundle_id from built_blocks_bundles bbb inner join bundles b on b.id = bbb.bundle_id where bbb.block_id = $1 order by b.bundle_id", dbBlock.BlockId))
	require.Equal(t, []string{"0xb1", "0xb2"}, committed)

	var all []string
	require.NoError(t, ds.db.Select(&all, "select b.bundle_id from built_blocks_all_bundles bbb inner join bundles b on b.id = bbb.bundle_id where bbb.block_id = $1 order by b.bundle_id", dbBlock.BlockId))
	require.Equal(t, []string{"0xb1", "0xb2", "0xb3"}, all)
}
