package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/chainsync"
	"github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/sirupsen/logrus"
)

// Config contains the runtime parameters of a Node.
type Config struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`
	MempoolInterval  time.Duration `mapstructure:"mempool-interval"`
	SyncBatch        int           `mapstructure:"sync-batch"`
	SyncParallelism  int           `mapstructure:"sync-parallelism"`
	SyncSpan         int           `mapstructure:"sync-span"`
	Moniker          string        `mapstructure:"moniker"`

	// Mine starts the miner once the node is Running.
	Mine bool

	// Identity is written in the headers of mined blocks.
	Identity []byte

	Logger *logrus.Entry
}

// NewConfig ...
func NewConfig(heartbeat time.Duration,
	mempoolInterval time.Duration,
	syncBatch int,
	syncParallelism int,
	logger *logrus.Entry) *Config {

	return &Config{
		HeartbeatTimeout: heartbeat,
		MempoolInterval:  mempoolInterval,
		SyncBatch:        syncBatch,
		SyncParallelism:  syncParallelism,
		Logger:           logger,
	}
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout: 1000 * time.Millisecond,
		MempoolInterval:  5000 * time.Millisecond,
		SyncBatch:        chainsync.DefaultBatchSize,
		SyncParallelism:  chainsync.DefaultParallelism,
		SyncSpan:         chainsync.DefaultMaxSpan,
		Logger:           logrus.NewEntry(logger),
	}
}

// TestConfig returns a Config with a fast heartbeat, logging through t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.HeartbeatTimeout = 20 * time.Millisecond
	config.MempoolInterval = 100 * time.Millisecond
	config.Logger = common.NewTestEntry(t, common.TestLogLevel)
	return config
}

func (c *Config) syncConfig() chainsync.Config {
	return chainsync.Config{
		BatchSize:   c.SyncBatch,
		Parallelism: c.SyncParallelism,
		MaxSpan:     c.SyncSpan,
	}
}
