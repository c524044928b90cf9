package builder

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flashbots/mev-bootee/core"
	"github.com/flashbots/mev-bootee/core/state"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/flashbots/mev-bootee/flashbotsextra"
	"github.com/flashbots/mev-bootee/miner"
	"github.com/flashbots/mev-bootee/ofac"
	"github.com/flashbots/mev-bootee/validation"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrRoundClosed       = errors.New("round closed")
	ErrBadSender         = errors.New("bad sender")
	ErrUnknownHeader     = errors.New("unknown header")
	ErrWrongBlockNumber  = errors.New("block number not built in this round")
	ErrModeDisabled      = errors.New("operation disabled in this mode")
	ErrCoordinatorClosed = errors.New("coordinator closed")
)

type RoundState uint32

const (
	RoundInitializing RoundState = iota
	RoundAccepting
	RoundFinalizing
	RoundClosed
)

func (s RoundState) String() string {
	switch s {
	case RoundInitializing:
		return "Initializing"
	case RoundAccepting:
		return "Accepting"
	case RoundFinalizing:
		return "Finalizing"
	case RoundClosed:
		return "Closed"
	default:
		return fmt.Sprintf("RoundState(%d)", uint32(s))
	}
}

func (s RoundState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RoundStatus is a snapshot of the current round.
type RoundStatus struct {
	Id       uuid.UUID  `json:"id"`
	Number   uint64     `json:"number"`
	State    RoundState `json:"state"`
	Deadline time.Time  `json:"deadline"`
	Bundles  int        `json:"bundles"`
}

// RoundResult is sent on the round feed once a round is finalized. Block is
// nil when nothing could be sealed.
type RoundResult struct {
	RoundId   uuid.UUID
	Number    uint64
	Block     *gethtypes.Block
	Value     *uint256.Int
	Bundles   []types.BundleId
	Committed bool
}

type CoordinatorArgs struct {
	Chain            ChainClient
	Mode             types.PartialBlockBuildingMode
	Algo             miner.AlgoType
	Verifier         validation.SenderVerifier
	VerifyProposer   bool
	Proposer         common.Address
	FeeRecipient     common.Address
	GasLimit         uint64
	ExtraData        []byte
	SecondsInSlot    uint64
	MinRoundDuration time.Duration
	QueueSize        int
	Compliance       *ofac.ComplianceList
	Db               flashbotsextra.IDatabaseService
	Publisher        Publisher
	Rand             io.Reader
	PublishRetryFor  time.Duration
	PublishInterval  time.Duration
	HeadPollInterval time.Duration
}

// Coordinator runs the rounds. All ledger and execution state is owned by the
// goroutine calling Run, everything else talks to it through the request queue.
type Coordinator struct {
	chain            ChainClient
	mode             types.PartialBlockBuildingMode
	algo             miner.AlgoType
	verifier         validation.SenderVerifier
	verifyProposer   bool
	proposer         common.Address
	feeRecipient     common.Address
	gasLimit         uint64
	extraData        []byte
	secondsInSlot    uint64
	minRoundDuration time.Duration
	compliance       *ofac.ComplianceList
	ds               flashbotsextra.IDatabaseService
	publisher        Publisher
	rand             io.Reader
	publishRetryFor  time.Duration
	publishInterval  time.Duration
	headPollInterval time.Duration

	// last is the round closed most recently, owned by the Run goroutine.
	last *closedRound

	resubmitter Resubmitter
	roundFeed   event.Feed

	requests  chan roundRequest
	done      chan struct{}
	closeOnce sync.Once

	state  atomic.Uint32
	status atomic.Pointer[RoundStatus]
}

func NewCoordinator(args CoordinatorArgs) *Coordinator {
	c := &Coordinator{
		chain:            args.Chain,
		mode:             args.Mode,
		algo:             args.Algo,
		verifier:         args.Verifier,
		verifyProposer:   args.VerifyProposer,
		proposer:         args.Proposer,
		feeRecipient:     args.FeeRecipient,
		gasLimit:         args.GasLimit,
		extraData:        common.CopyBytes(args.ExtraData),
		secondsInSlot:    args.SecondsInSlot,
		minRoundDuration: args.MinRoundDuration,
		compliance:       args.Compliance,
		ds:               args.Db,
		publisher:        args.Publisher,
		rand:             args.Rand,
		publishRetryFor:  args.PublishRetryFor,
		publishInterval:  args.PublishInterval,
		headPollInterval: args.HeadPollInterval,
		done:             make(chan struct{}),
	}
	if c.verifier == nil {
		c.verifier = validation.NilVerifier{}
	}
	if c.ds == nil {
		c.ds = flashbotsextra.NilDbService{}
	}
	if c.publisher == nil {
		c.publisher = LogPublisher{}
	}
	if c.rand == nil {
		c.rand = rand.Reader
	}
	if c.headPollInterval <= 0 {
		c.headPollInterval = DefaultConfig.HeadPollInterval
	}
	queueSize := args.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultConfig.RequestQueueSize
	}
	c.requests = make(chan roundRequest, queueSize)
	c.status.Store(&RoundStatus{State: RoundInitializing})
	return c
}

func (c *Coordinator) State() RoundState {
	return RoundState(c.state.Load())
}

func (c *Coordinator) Status() RoundStatus {
	return *c.status.Load()
}

// SubscribeRoundResults delivers the result of every finalized round. The
// round loop blocks until each subscriber took the result.
func (c *Coordinator) SubscribeRoundResults(ch chan<- RoundResult) event.Subscription {
	return c.roundFeed.Subscribe(ch)
}

type offer struct {
	header   *gethtypes.Header
	block    *gethtypes.Block
	value    *uint256.Int
	bundles  []flashbotsextra.RoundBundle
	sealedAt time.Time
}

// closedRound is what the next round needs to know about the previous one.
type closedRound struct {
	number    uint64
	committed common.Hash // header the proposer signed, zero otherwise
}

type round struct {
	ctx      context.Context
	env      *miner.RoundEnv
	strategy miner.BlockBuildingStrategy
	offers   map[common.Hash]*offer

	committed *offer
	signed    bool
	published bool
}

// Run executes rounds until ctx is cancelled. Any other return is fatal.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.shutdown()

	chainID, err := c.chain.ChainID(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("could not fetch chain id: %w", err)
	}

	for ctx.Err() == nil {
		if err := c.runRound(ctx, chainID); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *Coordinator) runRound(ctx context.Context, chainID *big.Int) error {
	c.setState(RoundInitializing, nil, 0)
	r, err := c.newRound(ctx, chainID)
	if err != nil {
		return err
	}

	roundCtx, cancel := context.WithDeadline(ctx, r.env.Deadline)
	defer cancel()

	c.setState(RoundAccepting, r.env, 0)
	log.Info("Round started", "round", r.env.Id, "number", r.env.Number(), "parent", r.env.Parent.Hash(),
		"baseFee", r.env.BaseFee(), "deadline", r.env.Deadline)

accepting:
	for r.committed == nil {
		select {
		case <-roundCtx.Done():
			break accepting
		case req := <-c.requests:
			if err := c.handle(r, req); err != nil {
				log.Error("Round failed", "round", r.env.Id, "err", err)
				return err
			}
			c.setState(RoundAccepting, r.env, r.strategy.Ledger().Len())
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return c.finalize(r)
}

// awaitHead returns the first chain head past the parent of the last closed
// round. Requests arriving meanwhile have no round to go to.
func (c *Coordinator) awaitHead(ctx context.Context) (*gethtypes.Header, error) {
	ticker := time.NewTicker(c.headPollInterval)
	defer ticker.Stop()

	for {
		head, err := c.chain.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("could not fetch head: %w", err)
		}
		if c.last == nil || head.Number.Uint64() >= c.last.number {
			return head, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case req := <-c.requests:
			req.fail(ErrRoundClosed)
		case <-ticker.C:
		}
	}
}

// checkCommitted reports whether the header committed in the last round made
// it into the chain.
func (c *Coordinator) checkCommitted(ctx context.Context) {
	if c.last == nil || c.last.committed == (common.Hash{}) {
		return
	}
	canonical, err := c.chain.HeaderByNumber(ctx, new(big.Int).SetUint64(c.last.number))
	if err != nil {
		log.Debug("Could not look up committed block", "number", c.last.number, "err", err)
		return
	}
	if canonical.Hash() == c.last.committed {
		committedBlockLandedMeter.Mark(1)
		log.Info("Committed block is canonical", "number", c.last.number, "hash", c.last.committed)
	} else {
		committedBlockMissedMeter.Mark(1)
		log.Warn("Committed block is not canonical", "number", c.last.number, "hash", c.last.committed, "canonical", canonical.Hash())
	}
}

func (c *Coordinator) newRound(ctx context.Context, chainID *big.Int) (*round, error) {
	parent, err := c.awaitHead(ctx)
	if err != nil {
		return nil, err
	}
	c.checkCommitted(ctx)

	deadline := time.Unix(int64(parent.Time+c.secondsInSlot), 0)
	if earliest := time.Now().Add(c.minRoundDuration); deadline.Before(earliest) {
		deadline = earliest
	}

	env := miner.NewRoundEnv(miner.RoundArgs{
		Parent:        parent,
		ChainID:       chainID,
		FeeRecipient:  c.feeRecipient,
		GasLimit:      c.gasLimit,
		ExtraData:     c.extraData,
		SecondsInSlot: c.secondsInSlot,
		Proposer:      c.proposer,
		Deadline:      deadline,
		Fetcher:       state.NewRemoteStateFetcher(ctx, c.chain, parent.Number),
		Compliance:    c.compliance,
	})
	strategy, err := miner.NewBlockBuildingStrategy(c.algo, env, core.NewBundleLedger(c.rand))
	if err != nil {
		return nil, err
	}
	return &round{
		ctx:      ctx,
		env:      env,
		strategy: strategy,
		offers:   make(map[common.Hash]*offer),
	}, nil
}

func (c *Coordinator) handle(r *round, req roundRequest) error {
	switch req := req.(type) {
	case *submitBundleRequest:
		return c.submitBundle(r, req)
	case *cancelBundleRequest:
		ok, err := r.strategy.RemoveBundle(req.id)
		deliver(req.result, ok, err)
		return err
	case *blockOfferRequest:
		return c.getBlockOffer(r, req)
	case *signedHeaderRequest:
		return c.submitSignedHeader(r, req)
	case *partialBlockRequest:
		return c.commitToPartialBlock(r, req)
	default:
		log.Warn("Unknown round request", "type", fmt.Sprintf("%T", req))
		req.fail(errors.New("unknown request"))
		return nil
	}
}

func (c *Coordinator) submitBundle(r *round, req *submitBundleRequest) error {
	bundle, err := r.strategy.CreateBundle(req.txs, req.bid)
	if errors.Is(err, miner.ErrInvalidBundle) {
		log.Debug("Rejected bundle", "round", r.env.Id, "err", err)
		deliver(req.result, "", err)
		return nil
	} else if err != nil {
		deliver(req.result, "", err)
		return err
	}

	id, err := r.strategy.AddBundle(bundle)
	if err != nil {
		deliver(req.result, "", err)
		return err
	}
	log.Debug("Added bundle", "round", r.env.Id, "id", id, "searcher", bundle.Searcher, "value", bundle.Value(), "txs", len(bundle.Txs))
	deliver(req.result, id, nil)
	return nil
}

func (c *Coordinator) getBlockOffer(r *round, req *blockOfferRequest) error {
	if req.blockNumber != r.env.Number() {
		deliver(req.result, nil, fmt.Errorf("%w: %d, building %d", ErrWrongBlockNumber, req.blockNumber, r.env.Number()))
		return nil
	}
	if c.verifyProposer {
		payload, err := validation.OfferPayload(req.blockNumber, req.txs)
		if err != nil {
			deliver(req.result, nil, err)
			return err
		}
		if !c.verifier.ValidateSender(payload, req.signature, validation.RoleProposer) {
			deliver(req.result, nil, ErrBadSender)
			return nil
		}
	}

	if err := r.strategy.AddInclusionList(req.txs); err != nil {
		deliver(req.result, nil, err)
		return err
	}

	o, err := c.seal(r)
	if errors.Is(err, miner.ErrInclusionListNotExecutable) {
		log.Debug("Inclusion list not executable", "round", r.env.Id, "txs", len(req.txs))
		deliver(req.result, nil, err)
		return nil
	} else if err != nil {
		deliver(req.result, nil, err)
		return err
	}

	r.offers[o.header.Hash()] = o
	log.Debug("Offered block", "round", r.env.Id, "hash", o.header.Hash(), "bundles", len(o.bundles), "value", o.value)
	deliver(req.result, &BlockOffer{
		BundleCount: len(o.bundles),
		Value:       o.value.Clone(),
		Header:      gethtypes.CopyHeader(o.header),
	}, nil)
	return nil
}

// lookupOffer resolves a proposer signed header to a block offered this round.
func (c *Coordinator) lookupOffer(r *round, header *gethtypes.Header, signature []byte) (*offer, error) {
	if header == nil {
		return nil, ErrUnknownHeader
	}
	if !c.verifier.ValidateSender(validation.HeaderPayload(header), signature, validation.RoleProposer) {
		return nil, ErrBadSender
	}
	o, ok := r.offers[header.Hash()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHeader, header.Hash())
	}
	return o, nil
}

func (c *Coordinator) submitSignedHeader(r *round, req *signedHeaderRequest) error {
	if !c.mode.HeaderSubmissionEnabled() {
		deliver(req.result, false, fmt.Errorf("%w: %s", ErrModeDisabled, c.mode))
		return nil
	}
	o, err := c.lookupOffer(r, req.header, req.signature)
	if err != nil {
		deliver(req.result, false, err)
		return nil
	}

	block, value := o.block, o.value.Clone()
	err = c.resubmitter.newTask(c.publishRetryFor, c.publishInterval, func() error {
		ok, err := c.publisher.Publish(r.ctx, block, value)
		if err != nil {
			log.Warn("Could not publish block", "hash", block.Hash(), "err", err)
			return err
		}
		if !ok {
			return errors.New("block rejected by consumer")
		}
		return nil
	})

	r.committed = o
	r.signed = true
	r.published = err == nil
	log.Info("Proposer committed to header", "round", r.env.Id, "hash", o.header.Hash(), "published", r.published)
	deliver(req.result, r.published, nil)
	return nil
}

func (c *Coordinator) commitToPartialBlock(r *round, req *partialBlockRequest) error {
	if !c.mode.PartialBlockCommitEnabled() {
		deliver(req.result, nil, fmt.Errorf("%w: %s", ErrModeDisabled, c.mode))
		return nil
	}
	o, err := c.lookupOffer(r, req.header, req.signature)
	if err != nil {
		deliver(req.result, nil, err)
		return nil
	}

	txs := make([]*types.Transaction, 0, len(o.block.Transactions()))
	for _, tx := range o.block.Transactions() {
		wrapped, err := types.WrapTransaction(tx)
		if err != nil {
			deliver(req.result, nil, err)
			return err
		}
		txs = append(txs, wrapped)
	}

	r.committed = o
	log.Info("Proposer committed to partial block", "round", r.env.Id, "hash", o.header.Hash(), "txs", len(txs))
	deliver(req.result, &PartialBlock{Header: gethtypes.CopyHeader(o.header), Transactions: txs}, nil)
	return nil
}

// seal finalizes the current draft. The value of a block is the sum of the
// bid values of its bundles.
func (c *Coordinator) seal(r *round) (*offer, error) {
	header, block, err := r.strategy.Block()
	if err != nil {
		return nil, err
	}

	ledger := r.strategy.Ledger()
	draft := r.strategy.Draft()
	value := new(uint256.Int)
	bundles := make([]flashbotsextra.RoundBundle, 0, len(draft.Bundles))
	for _, id := range draft.Bundles {
		bundle, ok := ledger.Get(id)
		if !ok {
			continue
		}
		value.Add(value, bundle.Value())
		bundles = append(bundles, flashbotsextra.RoundBundle{Id: id, Bundle: bundle})
	}
	return &offer{header: header, block: block, value: value, bundles: bundles, sealedAt: time.Now()}, nil
}

func (c *Coordinator) finalize(r *round) error {
	c.setState(RoundFinalizing, r.env, r.strategy.Ledger().Len())
	ordersClosedAt := time.Now()
	c.drain(ErrRoundClosed)

	sealed := r.committed
	if sealed == nil {
		var err error
		sealed, err = c.seal(r)
		if errors.Is(err, miner.ErrInclusionListNotExecutable) {
			log.Warn("Round closed without a block", "round", r.env.Id, "err", err)
			sealed = nil
		} else if err != nil {
			return err
		}
	}

	result := RoundResult{
		RoundId:   r.env.Id,
		Number:    r.env.Number(),
		Committed: r.committed != nil,
	}
	if sealed != nil {
		result.Block = sealed.block
		result.Value = sealed.value.Clone()
		for _, rb := range sealed.bundles {
			result.Bundles = append(result.Bundles, rb.Id)
		}

		ledger := r.strategy.Ledger()
		all := make([]flashbotsextra.RoundBundle, 0, ledger.Len())
		for _, id := range ledger.OrderedIds() {
			if bundle, ok := ledger.Get(id); ok {
				all = append(all, flashbotsextra.RoundBundle{Id: id, Bundle: bundle})
			}
		}
		go c.ds.ConsumeBuiltBlock(&flashbotsextra.RoundRecord{
			RoundId:          r.env.Id,
			Block:            sealed.block,
			Profit:           sealed.value.Clone(),
			Proposer:         r.env.Proposer,
			OrdersClosedAt:   ordersClosedAt,
			SealedAt:         sealed.sealedAt,
			CommittedBundles: sealed.bundles,
			AllBundles:       all,
		})
	}

	log.Info("Round closed", "round", r.env.Id, "number", result.Number, "committed", result.Committed,
		"published", r.published, "bundles", len(result.Bundles), "value", result.Value)
	c.roundFeed.Send(result)

	c.last = &closedRound{number: r.env.Number()}
	if r.signed {
		c.last.committed = r.committed.header.Hash()
	}
	// Send may have blocked, requests queued since belong to no round.
	c.drain(ErrRoundClosed)
	c.setState(RoundClosed, r.env, r.strategy.Ledger().Len())
	return nil
}

// drain answers every queued request with err.
func (c *Coordinator) drain(err error) {
	for {
		select {
		case req := <-c.requests:
			req.fail(err)
		default:
			return
		}
	}
}

func (c *Coordinator) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.drain(ErrCoordinatorClosed)
		c.resubmitter.Stop()
	})
}

func (c *Coordinator) setState(s RoundState, env *miner.RoundEnv, bundles int) {
	c.state.Store(uint32(s))
	status := &RoundStatus{State: s, Bundles: bundles}
	if env != nil {
		status.Id = env.Id
		status.Number = env.Number()
		status.Deadline = env.Deadline
	}
	c.status.Store(status)
}
