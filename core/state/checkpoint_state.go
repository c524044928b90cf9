package state

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethcore "github.com/ethereum/go-ethereum/core"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/flashbots/mev-bootee/core/types"
	"github.com/flashbots/mev-bootee/ofac"
	"github.com/holiman/uint256"
)

var (
	ErrContractCreation = errors.New("contract creation not supported")
	ErrBlocklisted      = errors.New("address is blocklisted")
	ErrUndecodedTx      = errors.New("transaction not decoded")
)

// fetchError marks a failure of the state fetcher, as opposed to an invalid transaction.
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// Checkpoint identifies a point in the applied transaction history. It stays
// valid while the history it saw is not reverted.
type Checkpoint struct {
	TxCount int

	journal int
	state   *CheckpointState
}

// Root is the state root at cp, computed when first asked for.
func (cp Checkpoint) Root() common.Hash {
	if cp.state == nil {
		return gethtypes.EmptyRootHash
	}
	return cp.state.rootAt(cp.journal)
}

type journalEntry struct {
	address common.Address
	// prev is nil when the account was not part of the overlay before
	prev *Account
}

type appliedTx struct {
	tx      *gethtypes.Transaction
	receipt *gethtypes.Receipt
	// cumulative coinbase profit including this transaction
	profit *uint256.Int
}

// CheckpointState executes value transfers on top of the state of a parent
// block. Accounts are fetched on first use and cached for the lifetime of
// the state, every change is journaled so that any checkpoint can be
// restored without re-execution.
//
// CheckpointState is not safe for concurrent use.
type CheckpointState struct {
	header     *gethtypes.Header
	signer     gethtypes.Signer
	fetcher    StateFetcher
	compliance *ofac.ComplianceList

	pristine map[common.Address]*Account
	accounts map[common.Address]*Account
	journal  []journalEntry
	applied  []appliedTx

	root *common.Hash
}

// NewCheckpointState creates a state for the block described by header. The
// header must carry the number, gas limit, base fee and coinbase of the block.
func NewCheckpointState(header *gethtypes.Header, chainID *big.Int, fetcher StateFetcher, compliance *ofac.ComplianceList) *CheckpointState {
	return &CheckpointState{
		header:     gethtypes.CopyHeader(header),
		signer:     gethtypes.LatestSignerForChainID(chainID),
		fetcher:    fetcher,
		compliance: compliance,
		pristine:   make(map[common.Address]*Account),
		accounts:   make(map[common.Address]*Account),
	}
}

func (s *CheckpointState) Checkpoint() Checkpoint {
	return Checkpoint{
		TxCount: len(s.applied),
		journal: len(s.journal),
		state:   s,
	}
}

// Revert restores the state captured by cp. Reverting to a checkpoint taken
// after the current point is a no-op.
func (s *CheckpointState) Revert(cp Checkpoint) {
	if cp.journal > len(s.journal) || cp.TxCount > len(s.applied) {
		return
	}
	if cp.journal < len(s.journal) {
		undo(s.accounts, s.journal[cp.journal:])
		s.journal = s.journal[:cp.journal]
		s.root = nil
	}
	s.applied = s.applied[:cp.TxCount]
}

// undo rolls accounts back over entries, newest first.
func undo(accounts map[common.Address]*Account, entries []journalEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.prev == nil {
			delete(accounts, entry.address)
		} else {
			accounts[entry.address] = entry.prev
		}
	}
}

// Apply executes txs in order. Either all of them apply and true is
// returned, or the state is left as it was before the call and false is
// returned. An error means the state could not be fetched.
func (s *CheckpointState) Apply(txs []*types.Transaction) (bool, error) {
	cp := s.Checkpoint()
	for _, tx := range txs {
		if err := s.applyTransaction(tx); err != nil {
			s.Revert(cp)
			var ferr *fetchError
			if errors.As(err, &ferr) {
				return false, ferr.err
			}
			log.Trace("Transaction not applicable", "hash", tx.Hash(), "err", err)
			return false, nil
		}
	}
	return true, nil
}

func (s *CheckpointState) applyTransaction(ptx *types.Transaction) error {
	tx := ptx.Tx()
	if tx == nil {
		return ErrUndecodedTx
	}
	if tx.Type() == gethtypes.BlobTxType {
		return gethtypes.ErrTxTypeNotSupported
	}
	if tx.To() == nil {
		return ErrContractCreation
	}
	from, err := gethtypes.Sender(s.signer, tx)
	if err != nil {
		return err
	}
	to := *tx.To()
	if !ofac.CheckCompliance(s.compliance, []common.Address{from, to}) {
		return ErrBlocklisted
	}

	gas, err := gethcore.IntrinsicGas(tx.Data(), tx.AccessList(), false, true, true, true)
	if err != nil {
		return err
	}
	if tx.Gas() < gas {
		return fmt.Errorf("%w: have %d, want %d", gethcore.ErrIntrinsicGas, tx.Gas(), gas)
	}
	gp := new(gethcore.GasPool).AddGas(s.header.GasLimit - s.GasUsed())
	if err := gp.SubGas(tx.Gas()); err != nil {
		return err
	}

	baseFee, _ := uint256.FromBig(s.header.BaseFee)
	if baseFee == nil {
		baseFee = new(uint256.Int)
	}
	feeCap, overflow := uint256.FromBig(tx.GasFeeCap())
	if overflow {
		return gethcore.ErrFeeCapVeryHigh
	}
	tipCap, overflow := uint256.FromBig(tx.GasTipCap())
	if overflow {
		return gethcore.ErrTipVeryHigh
	}
	if feeCap.Lt(baseFee) {
		return fmt.Errorf("%w: fee cap %s, base fee %s", gethcore.ErrFeeCapTooLow, feeCap, baseFee)
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return gethcore.ErrInsufficientFunds
	}

	sender, err := s.touch(from)
	if err != nil {
		return err
	}
	if sender.Nonce != tx.Nonce() {
		if sender.Nonce > tx.Nonce() {
			return fmt.Errorf("%w: address %s, tx %d state %d", gethcore.ErrNonceTooLow, from, tx.Nonce(), sender.Nonce)
		}
		return fmt.Errorf("%w: address %s, tx %d state %d", gethcore.ErrNonceTooHigh, from, tx.Nonce(), sender.Nonce)
	}

	maxCost := new(uint256.Int).Mul(uint256.NewInt(tx.Gas()), feeCap)
	maxCost.Add(maxCost, value)
	if sender.Balance.Lt(maxCost) {
		return fmt.Errorf("%w: address %s have %s want %s", gethcore.ErrInsufficientFunds, from, sender.Balance, maxCost)
	}

	tip := new(uint256.Int).Sub(feeCap, baseFee)
	if tipCap.Lt(tip) {
		tip.Set(tipCap)
	}
	price := new(uint256.Int).Add(baseFee, tip)
	gasUsed := uint256.NewInt(gas)

	cost := new(uint256.Int).Mul(gasUsed, price)
	cost.Add(cost, value)
	sender.Nonce++
	sender.Balance.Sub(sender.Balance, cost)

	recipient, err := s.touch(to)
	if err != nil {
		return err
	}
	recipient.Balance.Add(recipient.Balance, value)

	reward := new(uint256.Int).Mul(gasUsed, tip)
	coinbase, err := s.touch(s.header.Coinbase)
	if err != nil {
		return err
	}
	coinbase.Balance.Add(coinbase.Balance, reward)

	receipt := &gethtypes.Receipt{
		Type:              tx.Type(),
		Status:            gethtypes.ReceiptStatusSuccessful,
		CumulativeGasUsed: s.GasUsed() + gas,
		TxHash:            tx.Hash(),
		GasUsed:           gas,
		EffectiveGasPrice: price.ToBig(),
		BlockNumber:       new(big.Int).Set(s.header.Number),
		TransactionIndex:  uint(len(s.applied)),
	}
	receipt.Bloom = gethtypes.CreateBloom(gethtypes.Receipts{receipt})

	s.applied = append(s.applied, appliedTx{
		tx:      tx,
		receipt: receipt,
		profit:  new(uint256.Int).Add(s.Profit(), reward),
	})
	return nil
}

// touch returns the overlay account for addr after journaling its current value.
func (s *CheckpointState) touch(addr common.Address) (*Account, error) {
	s.root = nil
	if acc, ok := s.accounts[addr]; ok {
		s.journal = append(s.journal, journalEntry{address: addr, prev: acc.copy()})
		return acc, nil
	}
	base, ok := s.pristine[addr]
	if !ok {
		fetched, err := s.fetcher.FetchAccount(addr)
		if err != nil {
			return nil, &fetchError{err: err}
		}
		if fetched.Balance == nil {
			fetched.Balance = new(uint256.Int)
		}
		s.pristine[addr] = fetched
		base = fetched
	}
	acc := base.copy()
	s.journal = append(s.journal, journalEntry{address: addr})
	s.accounts[addr] = acc
	return acc, nil
}

type rlpAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// Root is the trie root over the accounts touched by the applied history.
func (s *CheckpointState) Root() common.Hash {
	if s.root == nil {
		root := stateRoot(s.accounts)
		s.root = &root
	}
	return *s.root
}

// rootAt is the root of the overlay as it was when the journal had n entries.
func (s *CheckpointState) rootAt(n int) common.Hash {
	if n >= len(s.journal) {
		return s.Root()
	}
	accounts := maps.Clone(s.accounts)
	undo(accounts, s.journal[n:])
	return stateRoot(accounts)
}

func stateRoot(accounts map[common.Address]*Account) common.Hash {
	type leaf struct {
		key, value []byte
	}
	leaves := make([]leaf, 0, len(accounts))
	for addr, acc := range accounts {
		value, err := rlp.EncodeToBytes(&rlpAccount{Nonce: acc.Nonce, Balance: acc.Balance.ToBig()})
		if err != nil {
			panic(fmt.Sprintf("could not encode account %s: %v", addr, err))
		}
		leaves = append(leaves, leaf{key: crypto.Keccak256(addr.Bytes()), value: value})
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i].key, leaves[j].key) < 0
	})
	st := trie.NewStackTrie(nil)
	for _, l := range leaves {
		if err := st.Update(l.key, l.value); err != nil {
			panic(fmt.Sprintf("could not update state trie: %v", err))
		}
	}
	return st.Hash()
}

func (s *CheckpointState) GasUsed() uint64 {
	if len(s.applied) == 0 {
		return 0
	}
	return s.applied[len(s.applied)-1].receipt.CumulativeGasUsed
}

// Profit is the amount credited to the coinbase by the applied history.
func (s *CheckpointState) Profit() *uint256.Int {
	if len(s.applied) == 0 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(s.applied[len(s.applied)-1].profit)
}

// Finalize seals the applied history into a header and block.
func (s *CheckpointState) Finalize() (*gethtypes.Header, *gethtypes.Block, error) {
	txs := make(gethtypes.Transactions, len(s.applied))
	receipts := make(gethtypes.Receipts, len(s.applied))
	for i, applied := range s.applied {
		txs[i] = applied.tx
		receipts[i] = applied.receipt
	}

	header := gethtypes.CopyHeader(s.header)
	header.GasUsed = s.GasUsed()
	header.Root = s.Root()
	header.TxHash = gethtypes.DeriveSha(txs, trie.NewStackTrie(nil))
	header.ReceiptHash = gethtypes.DeriveSha(receipts, trie.NewStackTrie(nil))
	header.Bloom = gethtypes.CreateBloom(receipts)
	header.UncleHash = gethtypes.EmptyUncleHash
	if header.Difficulty == nil {
		header.Difficulty = new(big.Int)
	}

	block := gethtypes.NewBlockWithHeader(header).WithBody(txs, nil)
	return block.Header(), block, nil
}
