package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/chainsync"
	"github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/mosaicnetworks/dpcnode/src/peers"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the miner's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultVerifyingKeyFile is the default name of the file containing the
	// Groth16 verifying key of the transaction circuit.
	DefaultVerifyingKeyFile = "verifying.key"
)

// Default configuration values.
const (
	DefaultLogLevel        = "debug"
	DefaultBindAddr        = "127.0.0.1:1337"
	DefaultServiceAddr     = "127.0.0.1:8000"
	DefaultHeartbeat       = 1000 * time.Millisecond
	DefaultMempoolInterval = 5000 * time.Millisecond
	DefaultTCPTimeout      = 1000 * time.Millisecond
	DefaultBlockTimeout    = 10000 * time.Millisecond
	DefaultMaxPool         = 2
	DefaultStore           = false
	DefaultMiner           = false
	DefaultIsBootnode      = false
	DefaultVKCurve         = "bn254"
	DefaultDev             = false
)

// Config contains all the configuration properties of a node.
type Config struct {
	// DataDir is the top-level directory containing configuration and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// Quiet restricts the log output to warnings and errors.
	Quiet bool `mapstructure:"quiet"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// BindAddr is the local address:port where this node talks to peers.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes. It is also the identifier of this node in their peer lists.
	AdvertiseAddr string `mapstructure:"advertise"`

	// TCPTimeout is the timeout of RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// BlockTimeout is the timeout of block requests, which carry larger
	// responses.
	BlockTimeout time.Duration `mapstructure:"block-timeout"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// HeartbeatTimeout is the period of the peer polling timer.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// MempoolInterval is the period of the mempool housekeeping.
	MempoolInterval time.Duration `mapstructure:"mempool-interval"`

	// MempoolCapacity is the maximum number of pending transactions.
	MempoolCapacity int `mapstructure:"mempool-capacity"`

	// SyncBatch is the number of headers or blocks per sync request.
	SyncBatch int `mapstructure:"sync-batch"`

	// SyncParallelism is the number of block requests in flight per peer.
	SyncParallelism int `mapstructure:"sync-parallelism"`

	// SyncSpan is the number of blocks past the common ancestor fetched from
	// a peer in one round.
	SyncSpan int `mapstructure:"sync-span"`

	// Bootnodes are the addresses contacted at startup.
	Bootnodes []string `mapstructure:"bootnodes"`

	// IsBootnode allows the node to start without reaching any bootnode.
	IsBootnode bool `mapstructure:"bootnode"`

	// MinPeers is the number of connections below which the node looks for
	// more peers.
	MinPeers int `mapstructure:"min-peers"`

	// MaxPeers is the maximum number of connections.
	MaxPeers int `mapstructure:"max-peers"`

	// BanDuration is how long a misbehaving peer is refused.
	BanDuration time.Duration `mapstructure:"ban-duration"`

	// Miner enables the miner.
	Miner bool `mapstructure:"miner"`

	// Coinbase is the hex-encoded public key receiving mined blocks. If it is
	// empty, the key in DataDir is used, and created if necessary.
	Coinbase string `mapstructure:"coinbase"`

	// MaxBlockSize is the maximum encoded size of a block, in bytes.
	MaxBlockSize int `mapstructure:"max-block-size"`

	// MaxNonce is the largest nonce a block may carry.
	MaxNonce uint32 `mapstructure:"max-nonce"`

	// TargetBlockTime is the block interval the difficulty adjusts to.
	TargetBlockTime time.Duration `mapstructure:"target-block-time"`

	// VerifyingKey is the path of the Groth16 verifying key. It defaults to
	// verifying.key in DataDir.
	VerifyingKey string `mapstructure:"vk"`

	// VKCurve is the curve of the verifying key.
	VKCurve string `mapstructure:"vk-curve"`

	// Dev accepts every proof. It must only be used on test networks.
	Dev bool `mapstructure:"dev"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		ServiceAddr:      DefaultServiceAddr,
		TCPTimeout:       DefaultTCPTimeout,
		BlockTimeout:     DefaultBlockTimeout,
		MaxPool:          DefaultMaxPool,
		Store:            DefaultStore,
		DatabaseDir:      DefaultDatabaseDir(),
		HeartbeatTimeout: DefaultHeartbeat,
		MempoolInterval:  DefaultMempoolInterval,
		MempoolCapacity:  mempool.DefaultCapacity,
		SyncBatch:        chainsync.DefaultBatchSize,
		SyncParallelism:  chainsync.DefaultParallelism,
		SyncSpan:         chainsync.DefaultMaxSpan,
		Bootnodes:        []string{},
		IsBootnode:       DefaultIsBootnode,
		MinPeers:         peers.DefaultMinPeers,
		MaxPeers:         peers.DefaultMaxPeers,
		BanDuration:      peers.DefaultBanDuration,
		Miner:            DefaultMiner,
		MaxBlockSize:     consensus.DefaultMaxBlockSize,
		MaxNonce:         consensus.DefaultMaxNonce,
		TargetBlockTime:  consensus.DefaultTargetBlockTime,
		VKCurve:          DefaultVKCurve,
		Dev:              DefaultDev,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the miner's private
// key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PeersFile returns the full path of the optional peers.json file listing
// additional bootnodes.
func (c *Config) PeersFile() string {
	return filepath.Join(c.DataDir, peers.PeersJSON)
}

// VerifyingKeyFile returns the path of the verifying key.
func (c *Config) VerifyingKeyFile() string {
	if c.VerifyingKey != "" {
		return c.VerifyingKey
	}
	return filepath.Join(c.DataDir, DefaultVerifyingKeyFile)
}

// ConsensusParams returns the consensus parameters with the default genesis.
func (c *Config) ConsensusParams() consensus.Params {
	params := consensus.DefaultParams(nil)
	if c.MaxBlockSize > 0 {
		params.MaxBlockSize = c.MaxBlockSize
	}
	if c.MaxNonce > 0 {
		params.MaxNonce = c.MaxNonce
	}
	if c.TargetBlockTime > 0 {
		params.TargetBlockTime = c.TargetBlockTime
	}
	return params
}

// Logger returns a formatted logrus Entry, with prefix set to "dpcnode".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		if c.Quiet && c.logger.Level > logrus.WarnLevel {
			c.logger.Level = logrus.WarnLevel
		}
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.addFileHook()
		}
	}
	return c.logger.WithField("prefix", "dpcnode")
}

// addFileHook mirrors every level to LogFile.
func (c *Config) addFileHook() {
	f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		c.logger.WithError(err).Info("Failed to open log file, using default stderr")
		return
	}
	f.Close()

	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = c.LogFile
	}

	c.logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for the node's
// configuration and data, based on the underlying OS, attempting to respect
// conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".DPCNode")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "DPCNode")
		} else {
			return filepath.Join(home, ".dpcnode")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
