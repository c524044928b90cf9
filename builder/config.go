package builder

import (
	"time"

	"github.com/flashbots/mev-bootee/core/types"
)

type Config struct {
	ListenAddr        string                         `toml:",omitempty"`
	ExecutionEndpoint string                         `toml:",omitempty"`
	Mode              types.PartialBlockBuildingMode `toml:",omitempty"`
	Algo              string                         `toml:",omitempty"`
	FeeRecipient      string                         `toml:",omitempty"`
	SecondsInSlot     uint64                         `toml:",omitempty"`
	MinRoundDuration  time.Duration                  `toml:",omitempty"`
	GasLimit          uint64                         `toml:",omitempty"`
	ExtraData         string                         `toml:",omitempty"`
	RequestQueueSize  int                            `toml:",omitempty"`
	RateLimit         float64                        `toml:",omitempty"`
	RateBurst         int                            `toml:",omitempty"`
	Blocklist         string                         `toml:",omitempty"`
	DatabaseDSN       string                         `toml:",omitempty"`
	BlockConsumerURL  string                         `toml:",omitempty"`
	HeaderCacheSize   int                            `toml:",omitempty"`
	PublishRetryFor   time.Duration                  `toml:",omitempty"`
	PublishInterval   time.Duration                  `toml:",omitempty"`
	HeadPollInterval  time.Duration                  `toml:",omitempty"`
}

// DefaultConfig is the default config for the builder.
var DefaultConfig = Config{
	ListenAddr:        ":28545",
	ExecutionEndpoint: "http://127.0.0.1:8545",
	Mode:              types.ProposerChooses,
	Algo:              "greedy",
	FeeRecipient:      "",
	SecondsInSlot:     12,
	MinRoundDuration:  time.Second,
	GasLimit:          30_000_000,
	ExtraData:         "mev-bootee",
	RequestQueueSize:  1024,
	RateLimit:         500,
	RateBurst:         510,
	Blocklist:         "",
	DatabaseDSN:       "",
	BlockConsumerURL:  "",
	HeaderCacheSize:   128,
	PublishRetryFor:   4 * time.Second,
	PublishInterval:   500 * time.Millisecond,
	HeadPollInterval:  500 * time.Millisecond,
}
