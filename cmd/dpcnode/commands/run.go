package commands

import (
	"github.com/mosaicnetworks/dpcnode/src/dpcnode"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRunCmd returns the command that starts a node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runDPCNode,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runDPCNode(cmd *cobra.Command, args []string) error {
	engine := dpcnode.NewDPCNode(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Duration("block-timeout", _config.BlockTimeout, "Timeout of block requests")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Peers
	cmd.Flags().StringSlice("bootnodes", _config.Bootnodes, "Comma-separated IP:Port of the bootnodes")
	cmd.Flags().Bool("bootnode", _config.IsBootnode, "Start without reaching any bootnode")
	cmd.Flags().Int("min-peers", _config.MinPeers, "Look for more peers below this number of connections")
	cmd.Flags().Int("max-peers", _config.MaxPeers, "Maximum number of connections")
	cmd.Flags().Duration("ban-duration", _config.BanDuration, "How long a misbehaving peer is refused")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")

	// Node configuration
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between peer polls")
	cmd.Flags().Duration("mempool-interval", _config.MempoolInterval, "Time between mempool revalidations")
	cmd.Flags().Int("mempool-capacity", _config.MempoolCapacity, "Max number of pending transactions")
	cmd.Flags().Int("sync-batch", _config.SyncBatch, "Number of headers or blocks per sync request")
	cmd.Flags().Int("sync-parallelism", _config.SyncParallelism, "Number of block requests in flight per peer")
	cmd.Flags().Int("sync-span", _config.SyncSpan, "Number of blocks fetched past the common ancestor per sync round")

	// Miner
	cmd.Flags().Bool("miner", _config.Miner, "Mine blocks")
	cmd.Flags().String("coinbase", _config.Coinbase, "Hex public key receiving mined blocks (default: key in datadir)")

	// Consensus
	cmd.Flags().Int("max-block-size", _config.MaxBlockSize, "Max encoded block size in bytes")
	cmd.Flags().Uint32("max-nonce", _config.MaxNonce, "Largest block nonce")
	cmd.Flags().Duration("target-block-time", _config.TargetBlockTime, "Block interval the difficulty adjusts to")
	cmd.Flags().String("vk", _config.VerifyingKey, "Groth16 verifying key file (default [datadir]/verifying.key)")
	cmd.Flags().String("vk-curve", _config.VKCurve, "Curve of the verifying key")
	cmd.Flags().Bool("dev", _config.Dev, "Accept every proof; test networks only")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":          _config.DataDir,
		"BindAddr":         _config.BindAddr,
		"AdvertiseAddr":    _config.AdvertiseAddr,
		"ServiceAddr":      _config.ServiceAddr,
		"NoService":        _config.NoService,
		"MaxPool":          _config.MaxPool,
		"Store":            _config.Store,
		"LogLevel":         _config.LogLevel,
		"Moniker":          _config.Moniker,
		"HeartbeatTimeout": _config.HeartbeatTimeout,
		"TCPTimeout":       _config.TCPTimeout,
		"Bootnodes":        _config.Bootnodes,
		"IsBootnode":       _config.IsBootnode,
		"Miner":            _config.Miner,
		"Dev":              _config.Dev,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/dpcnode.toml (.json, .yaml also work)
	viper.SetConfigName("dpcnode")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
