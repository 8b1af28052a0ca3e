package main

import (
	"github.com/urfave/cli/v2"

	"github.com/eth2030/metricproof/config"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "YAML configuration file",
		EnvVars: []string{"METRICPROOF_CONFIG"},
	}
	rpcFlag = &cli.StringFlag{
		Name:    "rpc",
		Usage:   "JSON-RPC endpoint of the node serving state",
		EnvVars: []string{"METRICPROOF_RPC"},
	}
	modeFlag = &cli.StringFlag{
		Name:    "mode",
		Usage:   "Proof mode: dev, groth16, remote",
		EnvVars: []string{"METRICPROOF_MODE"},
	}
	proverFlag = &cli.StringFlag{
		Name:    "prover",
		Usage:   "JSON-RPC endpoint of a remote proving service",
		EnvVars: []string{"METRICPROOF_PROVER"},
	}
	keyDirFlag = &cli.StringFlag{
		Name:    "keydir",
		Usage:   "Directory holding the Groth16 keys",
		EnvVars: []string{"METRICPROOF_KEYDIR"},
	}
	dataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory for the verifier database",
		EnvVars: []string{"METRICPROOF_DATADIR"},
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Number of requests processed concurrently",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Log level 0-5 (0=silent, 5=trace)",
	}
	keyFileFlag = &cli.StringFlag{
		Name:    "keyfile",
		Usage:   "File holding the hex-encoded transaction signing key",
		EnvVars: []string{"METRICPROOF_KEYFILE"},
	}
	destinationFlag = &cli.StringFlag{
		Name:  "destination",
		Usage: "Verifier contract address",
	}
	allowDevFlag = &cli.BoolFlag{
		Name:  "allow-dev",
		Usage: "Accept development seals (never in production)",
	}
	requestFlag = &cli.StringSliceFlag{
		Name:  "request",
		Usage: "Run only the named requests (default: all)",
	}
	outFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Directory artifacts are written to",
		Value: ".",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP listen address of the proving service",
		Value: "127.0.0.1:8547",
	}
)

var commonFlags = []cli.Flag{
	configFlag, rpcFlag, modeFlag, proverFlag, keyDirFlag, dataDirFlag, workersFlag, verbosityFlag,
}

// loadConfig loads the configuration file and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if c.IsSet(rpcFlag.Name) {
		cfg.RPC = c.String(rpcFlag.Name)
	}
	if c.IsSet(modeFlag.Name) {
		cfg.Mode = c.String(modeFlag.Name)
	}
	if c.IsSet(proverFlag.Name) {
		cfg.Prover = c.String(proverFlag.Name)
	}
	if c.IsSet(keyDirFlag.Name) {
		cfg.KeyDir = c.String(keyDirFlag.Name)
	}
	if c.IsSet(dataDirFlag.Name) {
		cfg.DataDir = c.String(dataDirFlag.Name)
	}
	if c.IsSet(workersFlag.Name) {
		cfg.Workers = c.Int(workersFlag.Name)
	}
	if c.IsSet(verbosityFlag.Name) {
		cfg.Verbosity = c.Int(verbosityFlag.Name)
	}
	if c.IsSet(keyFileFlag.Name) {
		cfg.KeyFile = c.String(keyFileFlag.Name)
	}
	if c.IsSet(destinationFlag.Name) {
		cfg.Destination = c.String(destinationFlag.Name)
	}
	if c.IsSet(allowDevFlag.Name) {
		cfg.Verifier.AllowDevProofs = c.Bool(allowDevFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setupLogging(cfg.Verbosity)
	return cfg, nil
}
