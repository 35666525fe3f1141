// Package config defines the configuration of a node.
//
// Regardless of how the node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, the node relies on a data directory, defined by Config.DataDir,
// where it expects to find a few additional files:
//
//	priv_key       // (optional) the miner's private key (cf. dpcnode keygen).
//	peers.json     // (optional) a JSON list of additional bootnodes.
//	verifying.key  // the Groth16 verifying key of the transaction circuit.
//	dpcnode.toml   // (optional) configuration file, also .yaml or .json.
package config
