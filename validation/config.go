package validation

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

type Config struct {
	// VerifyProposer enables signature checks on block offer requests.
	VerifyProposer  bool   `toml:",omitempty"`
	ProposerAddress string `toml:",omitempty"`
}

// DefaultConfig is the default config for sender validation.
var DefaultConfig = Config{
	VerifyProposer:  false,
	ProposerAddress: "",
}

// Proposer returns the configured proposer address, zero if none is set.
func (c Config) Proposer() (common.Address, error) {
	if c.ProposerAddress == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(c.ProposerAddress) {
		return common.Address{}, fmt.Errorf("invalid proposer address %q", c.ProposerAddress)
	}
	return common.HexToAddress(c.ProposerAddress), nil
}

// NewVerifier returns the verifier for cfg. Without a proposer address every
// signature is accepted.
func NewVerifier(cfg Config) (SenderVerifier, error) {
	proposer, err := cfg.Proposer()
	if err != nil {
		return nil, err
	}
	if proposer == (common.Address{}) {
		if cfg.VerifyProposer {
			return nil, errors.New("proposer verification requires a proposer address")
		}
		log.Warn("No proposer address configured, signatures are not checked")
		return NilVerifier{}, nil
	}
	return NewECDSAVerifier(proposer), nil
}
