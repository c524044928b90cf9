package builder

import (
	"context"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/holiman/uint256"
)

// BlockOffer is the reply to a block offer request.
type BlockOffer struct {
	BundleCount int
	Value       *uint256.Int
	Header      *gethtypes.Header
}

// PartialBlock is what a proposer committing to a partial block receives.
type PartialBlock struct {
	Header       *gethtypes.Header
	Transactions []*types.Transaction
}

type reply[V any] struct {
	value V
	err   error
}

// roundRequest is a message for the round loop. Each request carries its own
// reply channel with room for exactly one reply.
type roundRequest interface {
	fail(err error)
}

type submitBundleRequest struct {
	txs    []*types.Transaction
	bid    types.Bid
	result chan reply[types.BundleId]
}

type cancelBundleRequest struct {
	id     types.BundleId
	result chan reply[bool]
}

type blockOfferRequest struct {
	txs         []*types.Transaction
	blockNumber uint64
	signature   []byte
	result      chan reply[*BlockOffer]
}

type signedHeaderRequest struct {
	header    *gethtypes.Header
	signature []byte
	result    chan reply[bool]
}

type partialBlockRequest struct {
	header    *gethtypes.Header
	signature []byte
	result    chan reply[*PartialBlock]
}

func (r *submitBundleRequest) fail(err error) { deliver(r.result, "", err) }
func (r *cancelBundleRequest) fail(err error) { deliver(r.result, false, err) }
func (r *blockOfferRequest) fail(err error)   { deliver(r.result, nil, err) }
func (r *signedHeaderRequest) fail(err error) { deliver(r.result, false, err) }
func (r *partialBlockRequest) fail(err error) { deliver(r.result, nil, err) }

// deliver never blocks the round loop, a reply nobody can take is dropped.
func deliver[V any](ch chan reply[V], value V, err error) {
	select {
	case ch <- reply[V]{value: value, err: err}:
	default:
		log.Warn("Dropping undeliverable reply", "err", err)
	}
}

// await enqueues req and waits for its reply.
func await[V any](ctx context.Context, c *Coordinator, req roundRequest, result chan reply[V]) (V, error) {
	var zero V
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrCoordinatorClosed
	}

	select {
	case r := <-result:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		select {
		case r := <-result:
			return r.value, r.err
		default:
			return zero, ErrCoordinatorClosed
		}
	}
}

// SubmitBundle adds a bundle to the current round.
func (c *Coordinator) SubmitBundle(ctx context.Context, txs []*types.Transaction, bid types.Bid) (types.BundleId, error) {
	req := &submitBundleRequest{txs: txs, bid: bid, result: make(chan reply[types.BundleId], 1)}
	return await(ctx, c, req, req.result)
}

// CancelBundle removes a bundle, reporting whether it was known.
func (c *Coordinator) CancelBundle(ctx context.Context, id types.BundleId) (bool, error) {
	req := &cancelBundleRequest{id: id, result: make(chan reply[bool], 1)}
	return await(ctx, c, req, req.result)
}

// GetBlockOffer sets the proposer inclusion list and seals the resulting draft.
func (c *Coordinator) GetBlockOffer(ctx context.Context, txs []*types.Transaction, blockNumber uint64, signature []byte) (*BlockOffer, error) {
	req := &blockOfferRequest{txs: txs, blockNumber: blockNumber, signature: signature, result: make(chan reply[*BlockOffer], 1)}
	return await(ctx, c, req, req.result)
}

// SubmitSignedHeader publishes a previously offered block the proposer signed.
func (c *Coordinator) SubmitSignedHeader(ctx context.Context, header *gethtypes.Header, signature []byte) (bool, error) {
	req := &signedHeaderRequest{header: header, signature: signature, result: make(chan reply[bool], 1)}
	return await(ctx, c, req, req.result)
}

// CommitToPartialBlock returns the body of a previously offered block to the proposer.
func (c *Coordinator) CommitToPartialBlock(ctx context.Context, header *gethtypes.Header, signature []byte) (*PartialBlock, error) {
	req := &partialBlockRequest{header: header, signature: signature, result: make(chan reply[*PartialBlock], 1)}
	return await(ctx, c, req, req.result)
}
