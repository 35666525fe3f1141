package commands

import (
	"github.com/mosaicnetworks/dpcnode/src/config"
	"github.com/spf13/cobra"
)

var _config = config.NewDefaultConfig()

// RootCmd is the root command for dpcnode
var RootCmd = &cobra.Command{
	Use:              "dpcnode",
	Short:            "private payments ledger node",
	TraverseChildren: true,
}

func init() {
	RootCmd.PersistentFlags().StringP("datadir", "d", _config.DataDir, "Top-level directory for configuration and data")
	RootCmd.PersistentFlags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	RootCmd.PersistentFlags().String("log-file", _config.LogFile, "Also write the log to this file")
	RootCmd.PersistentFlags().BoolP("quiet", "q", _config.Quiet, "Only log warnings and errors")
}
