package ethapi

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/mev-bootee/builder"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/flashbots/mev-bootee/miner"
	"github.com/flashbots/mev-bootee/test_utils"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	err     error
	txs     []*types.Transaction
	bid     types.Bid
	offer   *builder.BlockOffer
	partial *builder.PartialBlock
}

func (b *fakeBackend) SubmitBundle(ctx context.Context, txs []*types.Transaction, bid types.Bid) (types.BundleId, error) {
	b.txs, b.bid = txs, bid
	return "0x01", b.err
}

func (b *fakeBackend) CancelBundle(ctx context.Context, id types.BundleId) (bool, error) {
	return id == "0x01", b.err
}

func (b *fakeBackend) GetBlockOffer(ctx context.Context, txs []*types.Transaction, blockNumber uint64, signature []byte) (*builder.BlockOffer, error) {
	b.txs = txs
	return b.offer, b.err
}

func (b *fakeBackend) SubmitSignedHeader(ctx context.Context, header *gethtypes.Header, signature []byte) (bool, error) {
	return b.err == nil, b.err
}

func (b *fakeBackend) CommitToPartialBlock(ctx context.Context, header *gethtypes.Header, signature []byte) (*builder.PartialBlock, error) {
	return b.partial, b.err
}

func dial(t *testing.T, b Backend) *rpc.Client {
	server := rpc.NewServer()
	for _, api := range GetAPIs(b, nil) {
		require.NoError(t, server.RegisterName(api.Namespace, api.Service))
	}
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}

func requireErrorCode(t *testing.T, err error, code int) {
	t.Helper()
	var rpcErr rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, code, rpcErr.ErrorCode())
}

func TestEcho(t *testing.T) {
	client := dial(t, &fakeBackend{})
	var res string
	require.NoError(t, client.Call(&res, "mevbootee_echo", "hello"))
	require.Equal(t, "hello", res)
}

func TestSubmitBundle(t *testing.T) {
	backend := &fakeBackend{}
	client := dial(t, backend)
	accounts := test_utils.NewAccounts(1)
	tx := test_utils.Transfer(accounts[0], 0, accounts[0].Address, 1, 1, 2)

	var id types.BundleId
	err := client.Call(&id, "mevbootee_submitBundle", SubmitBundleArgs{
		Txs: []hexutil.Bytes{tx.Raw},
		Bid: BidArgs{Kind: types.RestOfBlock, Value: (*hexutil.Big)(big.NewInt(42))},
	})
	require.NoError(t, err)
	require.Equal(t, types.BundleId("0x01"), id)
	require.Len(t, backend.txs, 1)
	require.True(t, tx.Equal(backend.txs[0]))
	require.Equal(t, types.RestOfBlock, backend.bid.Kind)
	require.Equal(t, uint256.NewInt(42), backend.bid.Amount)
}

func TestSubmitBundleErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    SubmitBundleArgs
		err     error
		code    int
		message string
	}{
		{
			name:    "undecodable tx",
			args:    SubmitBundleArgs{Txs: []hexutil.Bytes{{0x02, 0x01}}, Bid: BidArgs{Value: (*hexutil.Big)(big.NewInt(1))}},
			code:    ClientError,
			message: "invalid request",
		},
		{
			name:    "missing bid value",
			args:    SubmitBundleArgs{},
			code:    ClientError,
			message: "invalid request",
		},
		{
			name:    "bundle rejected",
			args:    SubmitBundleArgs{Bid: BidArgs{Value: (*hexutil.Big)(big.NewInt(1))}},
			err:     fmt.Errorf("%w: execution failed", miner.ErrInvalidBundle),
			code:    ClientError,
			message: "invalid bundle",
		},
		{
			name:    "internal failure",
			args:    SubmitBundleArgs{Bid: BidArgs{Value: (*hexutil.Big)(big.NewInt(1))}},
			err:     fmt.Errorf("could not fetch balance: %w", context.DeadlineExceeded),
			code:    InternalError,
			message: "internal error",
		},
		{
			name:    "round closed",
			args:    SubmitBundleArgs{Bid: BidArgs{Value: (*hexutil.Big)(big.NewInt(1))}},
			err:     builder.ErrRoundClosed,
			code:    ClientError,
			message: "invalid request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := dial(t, &fakeBackend{err: tt.err})
			var id types.BundleId
			err := client.Call(&id, "mevbootee_submitBundle", tt.args)
			require.Error(t, err)
			requireErrorCode(t, err, tt.code)
			require.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestGetBlockOffer(t *testing.T) {
	header := &gethtypes.Header{Number: big.NewInt(100), Difficulty: new(big.Int), BaseFee: big.NewInt(1)}
	backend := &fakeBackend{offer: &builder.BlockOffer{BundleCount: 2, Value: uint256.NewInt(7), Header: header}}
	client := dial(t, backend)

	var res BlockOfferResult
	require.NoError(t, client.Call(&res, "mevbootee_getBlockOffer", BlockOfferArgs{BlockNumber: 100}))
	require.Equal(t, hexutil.Uint64(2), res.BundleCount)
	require.Equal(t, big.NewInt(7), res.Value.ToInt())
	require.Equal(t, header.Hash(), res.Header.Hash())

	backend.err = builder.ErrBadSender
	err := client.Call(&res, "mevbootee_getBlockOffer", BlockOfferArgs{BlockNumber: 100})
	requireErrorCode(t, err, ClientError)
	require.Contains(t, err.Error(), "invalid request")
}

func TestCommitPaths(t *testing.T) {
	accounts := test_utils.NewAccounts(1)
	tx := test_utils.Transfer(accounts[0], 0, accounts[0].Address, 1, 1, 2)
	header := &gethtypes.Header{Number: big.NewInt(100), Difficulty: new(big.Int)}
	backend := &fakeBackend{partial: &builder.PartialBlock{Header: header, Transactions: []*types.Transaction{tx}}}
	client := dial(t, backend)

	var published bool
	require.NoError(t, client.Call(&published, "mevbootee_submitSignedHeader", SignedHeaderArgs{Header: header}))
	require.True(t, published)

	var partial PartialBlockResult
	require.NoError(t, client.Call(&partial, "mevbootee_commitToPartialBlock", SignedHeaderArgs{Header: header}))
	require.Equal(t, []hexutil.Bytes{tx.Raw}, partial.Transactions)

	err := client.Call(&published, "mevbootee_submitSignedHeader", SignedHeaderArgs{})
	requireErrorCode(t, err, ClientError)

	backend.err = builder.ErrModeDisabled
	err = client.Call(&partial, "mevbootee_commitToPartialBlock", SignedHeaderArgs{Header: header})
	requireErrorCode(t, err, ClientError)
	require.Contains(t, err.Error(), "invalid request")
}

func TestCancelBundle(t *testing.T) {
	client := dial(t, &fakeBackend{})
	var ok bool
	require.NoError(t, client.Call(&ok, "mevbootee_cancelBundle", "0x01"))
	require.True(t, ok)
	require.NoError(t, client.Call(&ok, "mevbootee_cancelBundle", "0x02"))
	require.False(t, ok)
}
