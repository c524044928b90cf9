package state

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const defaultFetchTimeout = 5 * time.Second

// Account is the part of an account the checkpoint state executes against.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
}

func (a *Account) copy() *Account {
	cpy := &Account{Nonce: a.Nonce, Balance: new(uint256.Int)}
	if a.Balance != nil {
		cpy.Balance.Set(a.Balance)
	}
	return cpy
}

func (a *Account) equal(other *Account) bool {
	return a.Nonce == other.Nonce && a.Balance.Eq(other.Balance)
}

// StateFetcher loads accounts from the state the round is rooted at.
type StateFetcher interface {
	FetchAccount(addr common.Address) (*Account, error)
}

// AccountReader is the subset of the execution client used to fetch state.
// *ethclient.Client satisfies it.
type AccountReader interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// RemoteStateFetcher fetches accounts on demand at a fixed block.
type RemoteStateFetcher struct {
	ctx     context.Context
	client  AccountReader
	block   *big.Int
	timeout time.Duration
}

func NewRemoteStateFetcher(ctx context.Context, client AccountReader, block *big.Int) *RemoteStateFetcher {
	return &RemoteStateFetcher{
		ctx:     ctx,
		client:  client,
		block:   new(big.Int).Set(block),
		timeout: defaultFetchTimeout,
	}
}

func (f *RemoteStateFetcher) FetchAccount(addr common.Address) (*Account, error) {
	ctx, cancel := context.WithTimeout(f.ctx, f.timeout)
	defer cancel()

	nonce, err := f.client.NonceAt(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("could not fetch nonce of %s at %d: %w", addr, f.block, err)
	}
	balance, err := f.client.BalanceAt(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("could not fetch balance of %s at %d: %w", addr, f.block, err)
	}
	b, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, fmt.Errorf("balance of %s overflows", addr)
	}
	return &Account{Nonce: nonce, Balance: b}, nil
}
