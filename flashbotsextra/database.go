package flashbotsextra

import (
	"context"
	"database/sql"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const bundleIdBatchSize = 500

// RoundRecord is what a closed round leaves behind.
type RoundRecord struct {
	RoundId          uuid.UUID
	Block            *gethtypes.Block
	Profit           *uint256.Int
	Proposer         common.Address
	OrdersClosedAt   time.Time
	SealedAt         time.Time
	CommittedBundles []RoundBundle
	AllBundles       []RoundBundle
}

type IDatabaseService interface {
	ConsumeBuiltBlock(record *RoundRecord)
}

type NilDbService struct{}

func (NilDbService) ConsumeBuiltBlock(*RoundRecord) {}

type DatabaseService struct {
	db *sqlx.DB

	insertBuiltBlockStmt    *sqlx.NamedStmt
	insertMissingBundleStmt *sqlx.NamedStmt
}

func NewDatabaseService(postgresDSN string) (*DatabaseService, error) {
	db, err := sqlx.Connect("postgres", postgresDSN)
	if err != nil {
		return nil, err
	}

	insertBuiltBlockStmt, err := db.PrepareNamed("insert into built_blocks (round_id, block_number, profit, hash, gas_limit, gas_used, base_fee, parent_hash, proposer, fee_recipient, tx_count, timestamp, timestamp_datetime, orders_closed_at, sealed_at) values (:round_id, :block_number, :profit, :hash, :gas_limit, :gas_used, :base_fee, :parent_hash, :proposer, :fee_recipient, :tx_count, :timestamp, to_timestamp(:timestamp), :orders_closed_at, :sealed_at) returning block_id")
	if err != nil {
		return nil, err
	}

	insertMissingBundleStmt, err := db.PrepareNamed("insert into bundles (bundle_id, round_id, bundle_hash, searcher, bid_kind, bid_value, param_signed_txs, param_block_number, estimated_tip, total_gas_used) values (:bundle_id, :round_id, :bundle_hash, :searcher, :bid_kind, :bid_value, :param_signed_txs, :param_block_number, :estimated_tip, :total_gas_used) on conflict (bundle_id) do nothing returning id")
	if err != nil {
		return nil, err
	}

	return &DatabaseService{
		db:                      db,
		insertBuiltBlockStmt:    insertBuiltBlockStmt,
		insertMissingBundleStmt: insertMissingBundleStmt,
	}, nil
}

func (ds *DatabaseService) getBundleIds(ctx context.Context, bundles []RoundBundle) (map[string]uint64, error) {
	if len(bundles) == 0 {
		return nil, nil
	}

	bundleIdsMap := make(map[string]uint64, len(bundles))
	for start := 0; start < len(bundles); start += bundleIdBatchSize {
		end := min(start+bundleIdBatchSize, len(bundles))
		request := make([]string, 0, end-start)
		for _, rb := range bundles[start:end] {
			request = append(request, rb.Id.String())
		}

		query, args, err := sqlx.In("select id, bundle_id from bundles where bundle_id in (?)", request)
		if err != nil {
			return nil, err
		}
		query = ds.db.Rebind(query)

		queryRes := []struct {
			Id       uint64 `db:"id"`
			BundleId string `db:"bundle_id"`
		}{}
		if err := ds.db.SelectContext(ctx, &queryRes, query, args...); err != nil {
			return nil, err
		}
		for _, row := range queryRes {
			bundleIdsMap[row.BundleId] = row.Id
		}
	}
	return bundleIdsMap, nil
}

func (ds *DatabaseService) getBundleIdsAndInsertMissingBundles(ctx context.Context, record *RoundRecord) (map[string]uint64, error) {
	bundleIdsMap, err := ds.getBundleIds(ctx, record.AllBundles)
	if err != nil {
		return nil, err
	}
	if bundleIdsMap == nil {
		bundleIdsMap = make(map[string]uint64)
	}

	toRetry := []RoundBundle{}
	for _, rb := range record.AllBundles {
		if _, found := bundleIdsMap[rb.Id.String()]; found {
			continue
		}

		var dbId uint64
		missing := RoundBundleToDbBundle(record.RoundId, record.Block.NumberU64(), rb)
		err = ds.insertMissingBundleStmt.GetContext(ctx, &dbId, missing)
		if err == nil {
			bundleIdsMap[rb.Id.String()] = dbId
		} else if err == sql.ErrNoRows /* conflict, inserted concurrently */ {
			toRetry = append(toRetry, rb)
		} else {
			log.Error("could not insert missing bundle", "err", err)
		}
	}

	retried, err := ds.getBundleIds(ctx, toRetry)
	if err != nil {
		return nil, err
	}
	for id, dbId := range retried {
		bundleIdsMap[id] = dbId
	}
	return bundleIdsMap, nil
}

func (ds *DatabaseService) insertBuiltBlock(tx *sqlx.Tx, ctx context.Context, record *RoundRecord) (uint64, error) {
	block := record.Block
	profit := new(big.Int)
	if record.Profit != nil {
		profit = record.Profit.ToBig()
	}
	baseFee := uint64(0)
	if block.BaseFee() != nil {
		baseFee = block.BaseFee().Uint64()
	}

	blockData := BuiltBlock{
		RoundId:        record.RoundId,
		BlockNumber:    block.NumberU64(),
		Profit:         new(big.Rat).SetFrac(profit, big.NewInt(1e18)).FloatString(18),
		Hash:           block.Hash().String(),
		GasLimit:       block.GasLimit(),
		GasUsed:        block.GasUsed(),
		BaseFee:        baseFee,
		ParentHash:     block.ParentHash().String(),
		Proposer:       record.Proposer.String(),
		FeeRecipient:   block.Coinbase().String(),
		TxCount:        len(block.Transactions()),
		Timestamp:      block.Time(),
		OrdersClosedAt: record.OrdersClosedAt.UTC(),
		SealedAt:       record.SealedAt.UTC(),
	}

	var blockId uint64
	if err := tx.NamedStmtContext(ctx, ds.insertBuiltBlockStmt).GetContext(ctx, &blockId, blockData); err != nil {
		return 0, err
	}
	return blockId, nil
}

func (ds *DatabaseService) insertBlockBundleIds(tx *sqlx.Tx, ctx context.Context, table string, blockId uint64, bundleIds []uint64) error {
	if len(bundleIds) == 0 {
		return nil
	}

	toInsert := make([]blockAndBundleId, len(bundleIds))
	for i, bundleId := range bundleIds {
		toInsert[i] = blockAndBundleId{blockId, bundleId}
	}

	_, err := tx.NamedExecContext(ctx, "insert into "+table+" (block_id, bundle_id) values (:block_id, :bundle_id)", toInsert)
	return err
}

func lookupIds(bundles []RoundBundle, bundleIdsMap map[string]uint64) []uint64 {
	ids := make([]uint64, 0, len(bundles))
	for _, rb := range bundles {
		if id, found := bundleIdsMap[rb.Id.String()]; found {
			ids = append(ids, id)
		}
	}
	return ids
}

func (ds *DatabaseService) ConsumeBuiltBlock(record *RoundRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	bundleIdsMap, err := ds.getBundleIdsAndInsertMissingBundles(ctx, record)
	if err != nil {
		log.Error("could not insert bundles", "err", err)
	}

	tx, err := ds.db.Beginx()
	if err != nil {
		log.Error("could not open DB transaction", "err", err)
		return
	}

	blockId, err := ds.insertBuiltBlock(tx, ctx, record)
	if err != nil {
		tx.Rollback()
		log.Error("could not insert built block", "err", err)
		return
	}

	err = ds.insertBlockBundleIds(tx, ctx, "built_blocks_bundles", blockId, lookupIds(record.CommittedBundles, bundleIdsMap))
	if err != nil {
		tx.Rollback()
		log.Error("could not insert built block bundles", "err", err)
		return
	}

	err = ds.insertBlockBundleIds(tx, ctx, "built_blocks_all_bundles", blockId, lookupIds(record.AllBundles, bundleIdsMap))
	if err != nil {
		tx.Rollback()
		log.Error("could not insert built block all bundles", "err", err)
		return
	}

	if err = tx.Commit(); err != nil {
		log.Error("could not commit DB transaction", "err", err)
	}
}
