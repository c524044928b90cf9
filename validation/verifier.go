package validation

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/flashbots/mev-bootee/core/types"
)

var ErrInvalidSignature = errors.New("invalid signature")

type Role uint8

const (
	RoleProposer Role = iota
)

func (r Role) String() string {
	switch r {
	case RoleProposer:
		return "proposer"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// SenderVerifier checks that payload was signed by a party acting in role.
type SenderVerifier interface {
	ValidateSender(payload, signature []byte, role Role) bool
}

// ECDSAVerifier recovers secp256k1 signatures over keccak256(payload). The
// proposer role is bound to a single address.
type ECDSAVerifier struct {
	proposer common.Address
}

func NewECDSAVerifier(proposer common.Address) *ECDSAVerifier {
	return &ECDSAVerifier{proposer: proposer}
}

func (v *ECDSAVerifier) ValidateSender(payload, signature []byte, role Role) bool {
	signer, err := RecoverSender(payload, signature)
	if err != nil {
		log.Debug("Could not recover sender", "role", role, "err", err)
		return false
	}
	switch role {
	case RoleProposer:
		return signer == v.proposer
	default:
		return false
	}
}

// RecoverSender returns the address that produced the 65 byte [R || S || V]
// signature, V may be 0/1 or 27/28.
func RecoverSender(payload, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(signature))
	}
	sig := common.CopyBytes(signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(payload), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignPayload signs keccak256(payload) with key.
func SignPayload(payload []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(payload), key)
}

// OfferPayload is what a proposer signs to request a block offer:
// rlp([blockNumber, [raw txs]]).
func OfferPayload(blockNumber uint64, txs []*types.Transaction) ([]byte, error) {
	raws := make([][]byte, len(txs))
	for i, tx := range txs {
		raws[i] = tx.Raw
	}
	return rlp.EncodeToBytes([]interface{}{blockNumber, raws})
}

// HeaderPayload is what a proposer signs to commit to a header.
func HeaderPayload(header *gethtypes.Header) []byte {
	return header.Hash().Bytes()
}

// NilVerifier accepts every signature.
type NilVerifier struct{}

func (NilVerifier) ValidateSender(payload, signature []byte, role Role) bool {
	return true
}
