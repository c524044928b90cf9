package test_utils

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/flashbots/mev-bootee/core/types"
)

var TestChainID = big.NewInt(1337)

type Account struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

func NewAccounts(num int) []Account {
	accounts := make([]Account, num)
	for i := range accounts {
		key, err := crypto.GenerateKey()
		if err != nil {
			panic(err)
		}
		accounts[i] = Account{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
	}
	return accounts
}

// Transfer signs a dynamic fee value transfer. Tip and fee cap are in wei.
func Transfer(from Account, nonce uint64, to common.Address, value, tip, feeCap int64) *types.Transaction {
	tx := gethtypes.MustSignNewTx(from.Key, gethtypes.LatestSignerForChainID(TestChainID), &gethtypes.DynamicFeeTx{
		ChainID:   TestChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(tip),
		GasFeeCap: big.NewInt(feeCap),
		Gas:       params.TxGas,
		To:        &to,
		Value:     big.NewInt(value),
	})
	wrapped, err := types.WrapTransaction(tx)
	if err != nil {
		panic(err)
	}
	return wrapped
}
