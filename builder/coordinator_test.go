package builder

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/flashbots/mev-bootee/miner"
	"github.com/flashbots/mev-bootee/test_utils"
	"github.com/flashbots/mev-bootee/validation"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var testRecipient = common.HexToAddress("0xbeef")

type fakeChain struct {
	mu          sync.Mutex
	head        *gethtypes.Header
	headers     map[uint64]*gethtypes.Header
	headErr     error
	balances    map[common.Address]*big.Int
	headerCalls int
}

func newFakeChain(funded ...common.Address) *fakeChain {
	chain := &fakeChain{
		headers:  make(map[uint64]*gethtypes.Header),
		balances: make(map[common.Address]*big.Int),
	}
	chain.setHead(&gethtypes.Header{
		Number:     big.NewInt(99),
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(1),
		Time:       uint64(time.Now().Unix()),
		Difficulty: new(big.Int),
	})
	for _, addr := range funded {
		chain.balances[addr] = big.NewInt(1_000_000_000)
	}
	return chain
}

func (f *fakeChain) setHead(head *gethtypes.Header) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = gethtypes.CopyHeader(head)
	f.headers[head.Number.Uint64()] = f.head
}

// advance appends an empty block to the chain.
func (f *fakeChain) advance() *gethtypes.Header {
	f.mu.Lock()
	parent := f.head
	f.mu.Unlock()

	head := &gethtypes.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:   parent.GasLimit,
		BaseFee:    big.NewInt(1),
		Time:       uint64(time.Now().Unix()),
		Difficulty: new(big.Int),
	}
	f.setHead(head)
	return head
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerCalls++
	if f.headErr != nil {
		return nil, f.headErr
	}
	if number == nil {
		return gethtypes.CopyHeader(f.head), nil
	}
	header, ok := f.headers[number.Uint64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return gethtypes.CopyHeader(header), nil
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return test_utils.TestChainID, nil
}

func (f *fakeChain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return 0, nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[account]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

type fakePublisher struct {
	blocks chan *gethtypes.Block
	ok     bool
	err    error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{blocks: make(chan *gethtypes.Block, 4), ok: true}
}

func (p *fakePublisher) Publish(ctx context.Context, block *gethtypes.Block, value *uint256.Int) (bool, error) {
	select {
	case p.blocks <- block:
	default:
	}
	return p.ok, p.err
}

type coordinatorFixture struct {
	c         *Coordinator
	chain     *fakeChain
	publisher *fakePublisher
	proposer  test_utils.Account
	searcher  test_utils.Account
	results   chan RoundResult
	sub       event.Subscription
}

func newCoordinatorFixture(t *testing.T, mode types.PartialBlockBuildingMode, roundDuration time.Duration) *coordinatorFixture {
	accounts := test_utils.NewAccounts(2)
	f := &coordinatorFixture{
		chain:     newFakeChain(accounts[1].Address),
		publisher: newFakePublisher(),
		proposer:  accounts[0],
		searcher:  accounts[1],
		results:   make(chan RoundResult, 8),
	}
	f.c = NewCoordinator(CoordinatorArgs{
		Chain:            f.chain,
		Mode:             mode,
		Algo:             miner.ALGO_GREEDY,
		Verifier:         validation.NewECDSAVerifier(f.proposer.Address),
		VerifyProposer:   true,
		Proposer:         f.proposer.Address,
		FeeRecipient:     common.HexToAddress("0xc0ffee"),
		GasLimit:         30_000_000,
		MinRoundDuration: roundDuration,
		QueueSize:        16,
		Publisher:        f.publisher,
		PublishRetryFor:  100 * time.Millisecond,
		PublishInterval:  10 * time.Millisecond,
		HeadPollInterval: 10 * time.Millisecond,
	})
	f.sub = f.c.SubscribeRoundResults(f.results)
	return f
}

// start runs the coordinator until the test ends.
func (f *coordinatorFixture) start(t *testing.T) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		// unblocks a round loop waiting on a full results channel
		f.sub.Unsubscribe()
		<-f.c.done
	})
	return errCh
}

func (f *coordinatorFixture) offer(t *testing.T, txs []*types.Transaction) *BlockOffer {
	payload, err := validation.OfferPayload(100, txs)
	require.NoError(t, err)
	sig, err := validation.SignPayload(payload, f.proposer.Key)
	require.NoError(t, err)

	offer, err := f.c.GetBlockOffer(context.Background(), txs, 100, sig)
	require.NoError(t, err)
	return offer
}

func (f *coordinatorFixture) signHeader(t *testing.T, header *gethtypes.Header) []byte {
	sig, err := validation.SignPayload(validation.HeaderPayload(header), f.proposer.Key)
	require.NoError(t, err)
	return sig
}

func TestCoordinatorSignedHeader(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	f.start(t)
	ctx := context.Background()

	id, err := f.c.SubmitBundle(ctx, []*types.Transaction{test_utils.Transfer(f.searcher, 0, testRecipient, 1, 2, 10)}, types.NewBid(types.TopOfBlock, 5))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	offer := f.offer(t, nil)
	require.Equal(t, 1, offer.BundleCount)
	require.Equal(t, uint256.NewInt(5), offer.Value)
	require.Equal(t, big.NewInt(100), offer.Header.Number)

	published, err := f.c.SubmitSignedHeader(ctx, offer.Header, f.signHeader(t, offer.Header))
	require.NoError(t, err)
	require.True(t, published)

	block := test_utils.RequireChan[*gethtypes.Block](f.publisher.blocks, time.Second)
	require.False(t, block.Timeout)
	require.Equal(t, offer.Header.Hash(), block.Value.Hash())

	result := test_utils.RequireChan[RoundResult](f.results, time.Second)
	require.False(t, result.Timeout)
	require.True(t, result.Value.Committed)
	require.Equal(t, uint64(100), result.Value.Number)
	require.Equal(t, offer.Header.Hash(), result.Value.Block.Hash())
	require.Equal(t, []types.BundleId{id}, result.Value.Bundles)
}

func TestCoordinatorPublishFailure(t *testing.T) {
	f := newCoordinatorFixture(t, types.BuilderProposes, time.Minute)
	f.publisher.err = errors.New("consumer down")
	f.start(t)

	offer := f.offer(t, nil)
	published, err := f.c.SubmitSignedHeader(context.Background(), offer.Header, f.signHeader(t, offer.Header))
	require.NoError(t, err)
	require.False(t, published)

	// the round still closes on the commitment
	result := test_utils.RequireChan[RoundResult](f.results, time.Second)
	require.False(t, result.Timeout)
	require.True(t, result.Value.Committed)
}

func TestCoordinatorPartialBlock(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerProposes, time.Minute)
	f.start(t)
	ctx := context.Background()

	bundleTx := test_utils.Transfer(f.searcher, 0, testRecipient, 1, 2, 10)
	_, err := f.c.SubmitBundle(ctx, []*types.Transaction{bundleTx}, types.NewBid(types.RestOfBlock, 1))
	require.NoError(t, err)

	offer := f.offer(t, nil)
	partial, err := f.c.CommitToPartialBlock(ctx, offer.Header, f.signHeader(t, offer.Header))
	require.NoError(t, err)
	require.Equal(t, offer.Header.Hash(), partial.Header.Hash())
	require.Len(t, partial.Transactions, 1)
	require.True(t, bundleTx.Equal(partial.Transactions[0]))

	result := test_utils.RequireChan[RoundResult](f.results, time.Second)
	require.False(t, result.Timeout)
	require.True(t, result.Value.Committed)
	require.True(t, test_utils.RequireNoValue[*gethtypes.Block](f.publisher.blocks, 50*time.Millisecond))
}

func TestCoordinatorModeGating(t *testing.T) {
	ctx := context.Background()

	f := newCoordinatorFixture(t, types.BuilderProposes, time.Minute)
	f.start(t)
	offer := f.offer(t, nil)
	_, err := f.c.CommitToPartialBlock(ctx, offer.Header, f.signHeader(t, offer.Header))
	require.ErrorIs(t, err, ErrModeDisabled)

	f = newCoordinatorFixture(t, types.ProposerProposes, time.Minute)
	f.start(t)
	offer = f.offer(t, nil)
	_, err = f.c.SubmitSignedHeader(ctx, offer.Header, f.signHeader(t, offer.Header))
	require.ErrorIs(t, err, ErrModeDisabled)
}

func TestCoordinatorRejections(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	f.start(t)
	ctx := context.Background()

	_, err := f.c.SubmitBundle(ctx, []*types.Transaction{test_utils.Transfer(f.searcher, 3, testRecipient, 1, 2, 10)}, types.NewBid(types.TopOfBlock, 5))
	require.ErrorIs(t, err, miner.ErrInvalidBundle)

	ok, err := f.c.CancelBundle(ctx, "0x00")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.c.GetBlockOffer(ctx, nil, 100, []byte{0x01})
	require.ErrorIs(t, err, ErrBadSender)

	_, err = f.c.GetBlockOffer(ctx, nil, 7, nil)
	require.ErrorIs(t, err, ErrWrongBlockNumber)

	offer := f.offer(t, nil)

	unknown := gethtypes.CopyHeader(offer.Header)
	unknown.Extra = []byte("other")
	_, err = f.c.SubmitSignedHeader(ctx, unknown, f.signHeader(t, unknown))
	require.ErrorIs(t, err, ErrUnknownHeader)

	sig, err := validation.SignPayload(validation.HeaderPayload(offer.Header), f.searcher.Key)
	require.NoError(t, err)
	_, err = f.c.SubmitSignedHeader(ctx, offer.Header, sig)
	require.ErrorIs(t, err, ErrBadSender)

	// none of the above closed the round
	require.True(t, test_utils.RequireNoValue[RoundResult](f.results, 50*time.Millisecond))
	require.Equal(t, RoundAccepting, f.c.State())
}

func TestCoordinatorCancelBundle(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	f.start(t)
	ctx := context.Background()

	id, err := f.c.SubmitBundle(ctx, []*types.Transaction{test_utils.Transfer(f.searcher, 0, testRecipient, 1, 2, 10)}, types.NewBid(types.TopOfBlock, 5))
	require.NoError(t, err)

	ok, err := f.c.CancelBundle(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	offer := f.offer(t, nil)
	require.Equal(t, 0, offer.BundleCount)
	require.True(t, offer.Value.IsZero())
}

func TestCoordinatorDeadline(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, 50*time.Millisecond)
	f.start(t)

	result := test_utils.RequireChan[RoundResult](f.results, time.Second)
	require.False(t, result.Timeout)
	require.False(t, result.Value.Committed)
	require.NotNil(t, result.Value.Block)
	require.Equal(t, uint64(100), result.Value.Number)
	require.True(t, result.Value.Value.IsZero())

	// no new round until the chain moves
	require.True(t, test_utils.RequireNoValue[RoundResult](f.results, 150*time.Millisecond))

	f.chain.advance()
	next := test_utils.RequireChan[RoundResult](f.results, time.Second)
	require.False(t, next.Timeout)
	require.NotEqual(t, result.Value.RoundId, next.Value.RoundId)
	require.Equal(t, uint64(101), next.Value.Number)
}

func TestCoordinatorWaitsForHeadAfterCommit(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	f.start(t)
	ctx := context.Background()

	offer := f.offer(t, nil)
	published, err := f.c.SubmitSignedHeader(ctx, offer.Header, f.signHeader(t, offer.Header))
	require.NoError(t, err)
	require.True(t, published)

	result := test_utils.RequireChan[RoundResult](f.results, time.Second)
	require.False(t, result.Timeout)
	require.True(t, result.Value.Committed)
	require.Equal(t, uint64(100), result.Value.Number)

	// the head is still 99, block 100 must not be offered twice
	payload, err := validation.OfferPayload(100, nil)
	require.NoError(t, err)
	sig, err := validation.SignPayload(payload, f.proposer.Key)
	require.NoError(t, err)
	_, err = f.c.GetBlockOffer(ctx, nil, 100, sig)
	require.ErrorIs(t, err, ErrRoundClosed)
	require.Never(t, func() bool {
		return f.c.State() == RoundAccepting
	}, 100*time.Millisecond, 10*time.Millisecond)
	require.True(t, test_utils.RequireNoValue[RoundResult](f.results, 50*time.Millisecond))

	// the committed block lands, the next round builds on it
	f.chain.setHead(offer.Header)
	require.Eventually(t, func() bool {
		status := f.c.Status()
		return status.State == RoundAccepting && status.Number == 101
	}, time.Second, 10*time.Millisecond)
}

func TestRequestsQueuedWhileFinalizingAreRejected(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, 50*time.Millisecond)
	results := make(chan RoundResult)
	f.sub.Unsubscribe()
	f.sub = f.c.SubscribeRoundResults(results)
	f.start(t)

	// the round loop blocks on the unread result
	require.Eventually(t, func() bool {
		return f.c.State() == RoundFinalizing
	}, time.Second, 5*time.Millisecond)
	req := &cancelBundleRequest{id: "0x00", result: make(chan reply[bool], 1)}
	f.c.requests <- req
	f.chain.advance()

	result := test_utils.RequireChan[RoundResult](results, time.Second)
	require.False(t, result.Timeout)
	res := test_utils.RequireChan[reply[bool]](req.result, time.Second)
	require.False(t, res.Timeout)
	require.ErrorIs(t, res.Value.err, ErrRoundClosed)
}

func TestCoordinatorStatus(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	f.start(t)

	require.Eventually(t, func() bool {
		return f.c.State() == RoundAccepting
	}, time.Second, 10*time.Millisecond)

	_, err := f.c.SubmitBundle(context.Background(), []*types.Transaction{test_utils.Transfer(f.searcher, 0, testRecipient, 1, 2, 10)}, types.NewBid(types.TopOfBlock, 5))
	require.NoError(t, err)

	status := f.c.Status()
	require.Equal(t, RoundAccepting, status.State)
	require.Equal(t, uint64(100), status.Number)
	require.Equal(t, 1, status.Bundles)
}

func TestCoordinatorHeadFailure(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	f.chain.headErr = errors.New("node unreachable")

	errCh := f.start(t)
	res := test_utils.RequireChan[error](errCh, time.Second)
	require.False(t, res.Timeout)
	require.ErrorIs(t, res.Value, f.chain.headErr)

	_, err := f.c.CancelBundle(context.Background(), "0x00")
	require.ErrorIs(t, err, ErrCoordinatorClosed)
}

func TestCoordinatorShutdown(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.c.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return f.c.State() == RoundAccepting
	}, time.Second, 10*time.Millisecond)
	cancel()

	res := test_utils.RequireChan[error](errCh, time.Second)
	require.False(t, res.Timeout)
	require.NoError(t, res.Value)

	_, err := f.c.SubmitBundle(context.Background(), nil, types.NewBid(types.TopOfBlock, 1))
	require.ErrorIs(t, err, ErrCoordinatorClosed)
}

func TestDrainFailsQueuedRequests(t *testing.T) {
	f := newCoordinatorFixture(t, types.ProposerChooses, time.Minute)

	cancelReq := &cancelBundleRequest{id: "0x00", result: make(chan reply[bool], 1)}
	offerReq := &blockOfferRequest{blockNumber: 100, result: make(chan reply[*BlockOffer], 1)}
	f.c.requests <- cancelReq
	f.c.requests <- offerReq

	f.c.drain(ErrRoundClosed)

	require.ErrorIs(t, (<-cancelReq.result).err, ErrRoundClosed)
	require.ErrorIs(t, (<-offerReq.result).err, ErrRoundClosed)
	require.Len(t, f.c.requests, 0)
}

func TestUndeliverableReplyIsDropped(t *testing.T) {
	ch := make(chan reply[bool], 1)
	deliver(ch, true, nil)
	// a second reply must not block
	deliver(ch, false, ErrRoundClosed)
	require.True(t, (<-ch).value)
}
