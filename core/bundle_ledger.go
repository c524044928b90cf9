package core

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/flashbots/mev-bootee/core/types"
)

const bundleIdLength = 32

// BundleLedger holds the bundles known in a round together with their ids
// ordered by descending bid value. Bundles with the same value stay in
// arrival order.
//
// The ledger is not safe for concurrent use, it is owned by the round loop.
type BundleLedger struct {
	rand io.Reader

	bundles map[types.BundleId]*types.Bundle
	ordered []types.BundleId
}

// NewBundleLedger creates an empty ledger drawing ids from source. A nil
// source means crypto/rand.
func NewBundleLedger(source io.Reader) *BundleLedger {
	if source == nil {
		source = rand.Reader
	}
	return &BundleLedger{
		rand:    source,
		bundles: make(map[types.BundleId]*types.Bundle),
	}
}

func (l *BundleLedger) newBundleId() types.BundleId {
	var buf [bundleIdLength]byte
	if _, err := io.ReadFull(l.rand, buf[:]); err != nil {
		panic(fmt.Sprintf("bundle id randomness unavailable: %v", err))
	}
	return types.BundleId(hexutil.Encode(buf[:]))
}

// Insert stores bundle under a fresh id and returns the id.
func (l *BundleLedger) Insert(bundle *types.Bundle) types.BundleId {
	id := l.newBundleId()
	if _, exists := l.bundles[id]; exists {
		panic("bundle id collision")
	}
	l.bundles[id] = bundle

	value := bundle.Value()
	for i, other := range l.ordered {
		if l.bundles[other].Value().Lt(value) {
			l.ordered = append(l.ordered, "")
			copy(l.ordered[i+1:], l.ordered[i:])
			l.ordered[i] = id
			return id
		}
	}
	l.ordered = append(l.ordered, id)
	return id
}

// Remove deletes the bundle, returning whether it was known. The caller is
// responsible for rebuilding any draft that referenced it.
func (l *BundleLedger) Remove(id types.BundleId) bool {
	if _, ok := l.bundles[id]; !ok {
		return false
	}
	delete(l.bundles, id)
	for i, other := range l.ordered {
		if other == id {
			l.ordered = append(l.ordered[:i], l.ordered[i+1:]...)
			break
		}
	}
	return true
}

func (l *BundleLedger) Get(id types.BundleId) (*types.Bundle, bool) {
	bundle, ok := l.bundles[id]
	return bundle, ok
}

// OrderedIds returns a snapshot of the value ordering.
func (l *BundleLedger) OrderedIds() []types.BundleId {
	ids := make([]types.BundleId, len(l.ordered))
	copy(ids, l.ordered)
	return ids
}

func (l *BundleLedger) Len() int {
	return len(l.bundles)
}
