package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/dpcnode/src/dpcnode"
	"github.com/spf13/cobra"
)

var keyFile string

// NewKeygenCmd produces a KeygenCmd which creates the miner key
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keygen",
		Short:   "Create a new miner key",
		PreRunE: loadConfig,
		RunE:    keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

// AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyFile, "key", "", "File where the private key will be written (default [datadir]/priv_key)")
}

func keygen(cmd *cobra.Command, args []string) error {
	if keyFile == "" {
		keyFile = _config.Keyfile()
	}

	if err := os.MkdirAll(filepath.Dir(keyFile), 0700); err != nil {
		return fmt.Errorf("writing private key: %s", err)
	}

	id, err := dpcnode.Keygen(keyFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Your private key has been saved to: %s\n", keyFile)
	fmt.Fprintf(cmd.OutOrStdout(), "Coinbase: %s\n", id)

	return nil
}
