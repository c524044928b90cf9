package types

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidTransaction = errors.New("invalid transaction")

// Transaction is an opaque encoded transaction as submitted by a searcher or
// the proposer. Two transactions are the same iff their payloads are equal.
type Transaction struct {
	Raw              hexutil.Bytes
	EstimatedGasCost uint64

	tx   *gethtypes.Transaction
	hash atomic.Value
}

// NewTransaction decodes an EIP-2718 binary payload.
func NewTransaction(raw []byte) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidTransaction)
	}
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return &Transaction{
		Raw:              common.CopyBytes(raw),
		EstimatedGasCost: tx.Gas(),
		tx:               tx,
	}, nil
}

// NewTransactionFromHex decodes a 0x-prefixed hex payload.
func NewTransactionFromHex(s string) (*Transaction, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return NewTransaction(raw)
}

// WrapTransaction encodes an already decoded transaction.
func WrapTransaction(tx *gethtypes.Transaction) (*Transaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Transaction{Raw: raw, EstimatedGasCost: tx.Gas(), tx: tx}, nil
}

// DecodeTransactions decodes a list of hex payloads, failing on the first bad one.
func DecodeTransactions(encoded []string) ([]*Transaction, error) {
	txs := make([]*Transaction, 0, len(encoded))
	for i, s := range encoded {
		tx, err := NewTransactionFromHex(s)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Tx returns the decoded transaction.
func (t *Transaction) Tx() *gethtypes.Transaction {
	return t.tx
}

// Hash is keccak256 of the raw payload.
func (t *Transaction) Hash() common.Hash {
	if hash := t.hash.Load(); hash != nil {
		return hash.(common.Hash)
	}
	h := crypto.Keccak256Hash(t.Raw)
	t.hash.Store(h)
	return h
}

func (t *Transaction) Equal(other *Transaction) bool {
	if t == nil || other == nil {
		return t == other
	}
	return bytes.Equal(t.Raw, other.Raw)
}

func (t *Transaction) String() string {
	return t.Hash().String()
}

// TxHashes returns the payload hashes of txs, in order.
func TxHashes(txs []*Transaction) []common.Hash {
	hashes := make([]common.Hash, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash()
	}
	return hashes
}

// EncodeTransactions returns the hex payloads of txs.
func EncodeTransactions(txs []*Transaction) []string {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = tx.Raw.String()
	}
	return encoded
}
