package miner

import (
	"fmt"
	"os"

	"github.com/mosaicnetworks/dpcnode/src/crypto/keys"
)

// LoadIdentity returns the receiving identity of mined blocks: the coinbase
// if it is set, otherwise the public key of the key file, which is created if
// it does not exist.
func LoadIdentity(coinbase string, keyfile string) ([]byte, error) {
	if coinbase != "" {
		id, err := keys.ParseIdentity(coinbase)
		if err != nil {
			return nil, fmt.Errorf("parsing coinbase: %w", err)
		}
		return id, nil
	}

	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	key, err := simpleKeyfile.ReadKey()
	if os.IsNotExist(err) {
		key, err = keys.GenerateECDSAKey()
		if err != nil {
			return nil, err
		}
		if err := simpleKeyfile.WriteKey(key); err != nil {
			return nil, fmt.Errorf("writing miner key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("reading miner key: %w", err)
	}

	return keys.Identity(&key.PublicKey), nil
}
