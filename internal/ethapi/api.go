package ethapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/mev-bootee/builder"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/flashbots/mev-bootee/miner"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"
)

const (
	Namespace = "mevbootee"

	ClientError   = -32000
	InternalError = -32603
)

var (
	errInvalidBundle  = errors.New("invalid bundle")
	errInvalidRequest = errors.New("invalid request")
	errInternal       = errors.New("internal error")
)

// Backend is the round coordinator as seen by the API.
type Backend interface {
	SubmitBundle(ctx context.Context, txs []*types.Transaction, bid types.Bid) (types.BundleId, error)
	CancelBundle(ctx context.Context, id types.BundleId) (bool, error)
	GetBlockOffer(ctx context.Context, txs []*types.Transaction, blockNumber uint64, signature []byte) (*builder.BlockOffer, error)
	SubmitSignedHeader(ctx context.Context, header *gethtypes.Header, signature []byte) (bool, error)
	CommitToPartialBlock(ctx context.Context, header *gethtypes.Header, signature []byte) (*builder.PartialBlock, error)
}

type BidArgs struct {
	Kind  types.BidKind `json:"kind"`
	Value *hexutil.Big  `json:"value"`
}

type SubmitBundleArgs struct {
	Txs []hexutil.Bytes `json:"txs"`
	Bid BidArgs         `json:"bid"`
}

type BlockOfferArgs struct {
	Txs         []hexutil.Bytes `json:"txs"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
	Signature   hexutil.Bytes   `json:"signature"`
}

type BlockOfferResult struct {
	BundleCount hexutil.Uint64    `json:"bundleCount"`
	Value       *hexutil.Big      `json:"value"`
	Header      *gethtypes.Header `json:"header"`
}

type SignedHeaderArgs struct {
	Header    *gethtypes.Header `json:"header"`
	Signature hexutil.Bytes     `json:"signature"`
}

type PartialBlockResult struct {
	Header       *gethtypes.Header `json:"header"`
	Transactions []hexutil.Bytes   `json:"transactions"`
}

// MevBooTeeAPI is the searcher and proposer facing API.
type MevBooTeeAPI struct {
	b       Backend
	limiter *rate.Limiter
}

// NewMevBooTeeAPI creates the API, a nil limiter disables rate limiting.
func NewMevBooTeeAPI(b Backend, limiter *rate.Limiter) *MevBooTeeAPI {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &MevBooTeeAPI{b: b, limiter: limiter}
}

func GetAPIs(b Backend, limiter *rate.Limiter) []rpc.API {
	return []rpc.API{
		{
			Namespace: Namespace,
			Service:   NewMevBooTeeAPI(b, limiter),
		},
	}
}

// Echo returns its input, it is used to check liveness.
func (api *MevBooTeeAPI) Echo(s string) string {
	return s
}

func (api *MevBooTeeAPI) SubmitBundle(ctx context.Context, args SubmitBundleArgs) (types.BundleId, error) {
	if err := api.wait(ctx); err != nil {
		return "", err
	}
	txs, err := decodeTxs(args.Txs)
	if err != nil {
		return "", err
	}
	bid, err := args.Bid.toBid()
	if err != nil {
		return "", err
	}

	id, err := api.b.SubmitBundle(ctx, txs, bid)
	if err != nil {
		return "", newAPIError(err)
	}
	return id, nil
}

func (api *MevBooTeeAPI) CancelBundle(ctx context.Context, id types.BundleId) (bool, error) {
	if err := api.wait(ctx); err != nil {
		return false, err
	}
	ok, err := api.b.CancelBundle(ctx, id)
	if err != nil {
		return false, newAPIError(err)
	}
	return ok, nil
}

func (api *MevBooTeeAPI) GetBlockOffer(ctx context.Context, args BlockOfferArgs) (*BlockOfferResult, error) {
	if err := api.wait(ctx); err != nil {
		return nil, err
	}
	txs, err := decodeTxs(args.Txs)
	if err != nil {
		return nil, err
	}

	offer, err := api.b.GetBlockOffer(ctx, txs, uint64(args.BlockNumber), args.Signature)
	if err != nil {
		return nil, newAPIError(err)
	}
	return &BlockOfferResult{
		BundleCount: hexutil.Uint64(offer.BundleCount),
		Value:       (*hexutil.Big)(offer.Value.ToBig()),
		Header:      offer.Header,
	}, nil
}

func (api *MevBooTeeAPI) SubmitSignedHeader(ctx context.Context, args SignedHeaderArgs) (bool, error) {
	if err := api.wait(ctx); err != nil {
		return false, err
	}
	if args.Header == nil {
		return false, &apiError{ClientError, errInvalidRequest, errors.New("missing header")}
	}
	published, err := api.b.SubmitSignedHeader(ctx, args.Header, args.Signature)
	if err != nil {
		return false, newAPIError(err)
	}
	return published, nil
}

func (api *MevBooTeeAPI) CommitToPartialBlock(ctx context.Context, args SignedHeaderArgs) (*PartialBlockResult, error) {
	if err := api.wait(ctx); err != nil {
		return nil, err
	}
	if args.Header == nil {
		return nil, &apiError{ClientError, errInvalidRequest, errors.New("missing header")}
	}
	partial, err := api.b.CommitToPartialBlock(ctx, args.Header, args.Signature)
	if err != nil {
		return nil, newAPIError(err)
	}

	raws := make([]hexutil.Bytes, len(partial.Transactions))
	for i, tx := range partial.Transactions {
		raws[i] = tx.Raw
	}
	return &PartialBlockResult{Header: partial.Header, Transactions: raws}, nil
}

func (api *MevBooTeeAPI) wait(ctx context.Context) error {
	if err := api.limiter.Wait(ctx); err != nil {
		return &apiError{ClientError, errInvalidRequest, fmt.Errorf("rate limited: %w", err)}
	}
	return nil
}

func (b BidArgs) toBid() (types.Bid, error) {
	if b.Value == nil {
		return types.Bid{}, &apiError{ClientError, errInvalidRequest, errors.New("missing bid value")}
	}
	amount, overflow := uint256.FromBig(b.Value.ToInt())
	if overflow || b.Value.ToInt().Sign() < 0 {
		return types.Bid{}, &apiError{ClientError, errInvalidRequest, errors.New("bid value out of range")}
	}
	return types.Bid{Kind: b.Kind, Amount: amount}, nil
}

func decodeTxs(raws []hexutil.Bytes) ([]*types.Transaction, error) {
	txs := make([]*types.Transaction, 0, len(raws))
	for i, raw := range raws {
		tx, err := types.NewTransaction(raw)
		if err != nil {
			return nil, &apiError{ClientError, errInvalidRequest, fmt.Errorf("tx %d: %w", i, err)}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// apiError carries a JSON-RPC error code. Client errors are the caller's
// fault, anything else is reported as an internal error without details.
type apiError struct {
	code  int
	kind  error
	cause error
}

func (e *apiError) Error() string {
	if e.code == InternalError {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *apiError) ErrorCode() int {
	return e.code
}

func (e *apiError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func newAPIError(err error) *apiError {
	switch {
	case errors.Is(err, miner.ErrInvalidBundle):
		return &apiError{ClientError, errInvalidBundle, err}
	case errors.Is(err, types.ErrInvalidTransaction),
		errors.Is(err, miner.ErrInclusionListNotExecutable),
		errors.Is(err, builder.ErrBadSender),
		errors.Is(err, builder.ErrUnknownHeader),
		errors.Is(err, builder.ErrWrongBlockNumber),
		errors.Is(err, builder.ErrModeDisabled),
		errors.Is(err, builder.ErrRoundClosed):
		return &apiError{ClientError, errInvalidRequest, err}
	default:
		log.Error("Request failed", "err", err)
		return &apiError{InternalError, errInternal, err}
	}
}
