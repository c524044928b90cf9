package builder

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/flashbots/mev-bootee/core/state"
	lru "github.com/hashicorp/golang-lru"
)

// ChainClient is the view of the execution client a round needs.
// *ethclient.Client satisfies it.
type ChainClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
	state.AccountReader
}

// EthereumService wraps a chain client with a header cache keyed by number.
// The latest header is always refetched, and a fetched head evicts a cached
// parent it does not build on.
type EthereumService struct {
	ChainClient

	headers *lru.Cache

	mu      sync.Mutex
	chainID *big.Int
}

func NewEthereumService(client ChainClient, cacheSize int) (*EthereumService, error) {
	headers, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create header cache: %w", err)
	}
	return &EthereumService{ChainClient: client, headers: headers}, nil
}

// DialEthereumService connects to the JSON-RPC endpoint of an execution client.
func DialEthereumService(ctx context.Context, endpoint string, cacheSize int) (*EthereumService, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", endpoint, err)
	}
	return NewEthereumService(client, cacheSize)
}

func (s *EthereumService) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	if number != nil {
		if cached, ok := s.headers.Get(number.Uint64()); ok {
			return gethtypes.CopyHeader(cached.(*gethtypes.Header)), nil
		}
	}
	header, err := s.ChainClient.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if number == nil && header.Number.Sign() > 0 {
		parent := header.Number.Uint64() - 1
		if cached, ok := s.headers.Peek(parent); ok && cached.(*gethtypes.Header).Hash() != header.ParentHash {
			s.headers.Remove(parent)
		}
	}
	s.headers.Add(header.Number.Uint64(), gethtypes.CopyHeader(header))
	return header, nil
}

// ChainID is fetched once.
func (s *EthereumService) ChainID(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return new(big.Int).Set(s.chainID), nil
	}
	chainID, err := s.ChainClient.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	s.chainID = new(big.Int).Set(chainID)
	return chainID, nil
}
