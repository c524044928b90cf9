package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// MaxGasCost is the largest estimated gas cost a single bundle may have.
const MaxGasCost = 3_000_000

type BidKind uint8

const (
	TopOfBlock BidKind = iota
	RestOfBlock
)

func (k BidKind) String() string {
	switch k {
	case TopOfBlock:
		return "TopOfBlock"
	case RestOfBlock:
		return "RestOfBlock"
	default:
		return fmt.Sprintf("BidKind(%d)", uint8(k))
	}
}

func (k BidKind) MarshalText() ([]byte, error) {
	switch k {
	case TopOfBlock, RestOfBlock:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown bid kind %d", uint8(k))
}

func (k *BidKind) UnmarshalText(input []byte) error {
	switch string(input) {
	case "TopOfBlock":
		*k = TopOfBlock
	case "RestOfBlock":
		*k = RestOfBlock
	default:
		return fmt.Errorf("unknown bid kind %q", input)
	}
	return nil
}

// multiplier is the weight of a bid kind in ordering. Both kinds weigh the
// same until differential ordering is introduced.
func (k BidKind) multiplier() uint64 {
	return 1
}

type Bid struct {
	Kind   BidKind
	Amount *uint256.Int
}

func NewBid(kind BidKind, amount uint64) Bid {
	return Bid{Kind: kind, Amount: uint256.NewInt(amount)}
}

// Value is the ordering priority of the bid.
func (b Bid) Value() *uint256.Int {
	if b.Amount == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Mul(b.Amount, uint256.NewInt(b.Kind.multiplier()))
}

// BundleId is the externally addressable handle of a bundle in a round.
type BundleId string

func (id BundleId) String() string {
	return string(id)
}

// Bundle is an atomic, ordered group of transactions offered with a bid
type Bundle struct {
	Searcher         common.Address
	Bid              Bid
	Txs              []*Transaction
	EstimatedTip     *uint256.Int
	EstimatedGasCost uint64
}

func (b *Bundle) Value() *uint256.Int {
	return b.Bid.Value()
}

// Cost is the gas the bundle used when it was created.
func (b *Bundle) Cost() uint64 {
	return b.EstimatedGasCost
}

// ContainsTransaction reports whether tx is structurally part of the bundle.
func (b *Bundle) ContainsTransaction(tx *Transaction) bool {
	for _, btx := range b.Txs {
		if btx.Equal(tx) {
			return true
		}
	}
	return false
}

// Hash identifies the bundle content, independent of its id.
func (b *Bundle) Hash() common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, h := range TxHashes(b.Txs) {
		hasher.Write(h[:])
	}
	return common.BytesToHash(hasher.Sum(nil))
}
