package main

import (
	_ "net/http/pprof"
	"os"

	cmd "github.com/mosaicnetworks/dpcnode/cmd/dpcnode/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewRunCmd(),
		cmd.NewKeygenCmd(),
		cmd.VersionCmd,
	)

	// Do not print usage when an error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
