// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "descwallet.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "descwallet.log"
	defaultSeedFilename   = "seed.enc"
	defaultBoltFilename   = "wallet.db"
	defaultSQLiteFilename = "wallet.sqlite"

	defaultLogLevel       = "info"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultNetwork        = "mainnet"
	defaultBackend        = backendBolt
	defaultSource         = sourceEsplora
	defaultParallel       = 4
	defaultDBTimeout      = 10 * time.Second

	backendMemory   = "memory"
	backendBolt     = "bolt"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"

	sourceEsplora = "esplora"
	sourceRPC     = "rpc"
)

var (
	defaultAppDataDir = btcutil.AppDataDir("descwallet", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir,
		defaultConfigFilename)

	// defaultEsploraURLs are the public servers used when no URL is set.
	defaultEsploraURLs = map[string]string{
		"mainnet":  "https://blockstream.info/api",
		"testnet3": "https://blockstream.info/testnet/api",
		"signet":   "https://mempool.space/signet/api",
	}
)

// esploraConfig holds the options of the Esplora chain source.
type esploraConfig struct {
	URL               string        `long:"url" description:"Esplora API base URL; defaults to a public server for mainnet, testnet3 and signet"`
	Proxy             string        `long:"proxy" description:"Connect through a SOCKS5 proxy (eg. 127.0.0.1:9050 for Tor)"`
	Timeout           time.Duration `long:"timeout" description:"Timeout of a single request"`
	RequestsPerSecond int           `long:"rps" description:"Maximum requests per second to the server; 0 is unlimited"`
}

// rpcConfig holds the options of the bitcoind chain source.
type rpcConfig struct {
	Host       string `long:"host" description:"Host:port of the bitcoind RPC server"`
	User       string `long:"user" description:"RPC user name"`
	Pass       string `long:"pass" default-mask:"-" description:"RPC password"`
	CAFile     string `long:"cafile" description:"File containing the RPC server certificate"`
	DisableTLS bool   `long:"notls" description:"Talk plain HTTP to the RPC server"`
}

// postgresConfig holds the options of the postgres backend.
type postgresConfig struct {
	DSN string `long:"dsn" description:"Postgres connection string"`
}

// config defines the configuration options shared by every command.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile     string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string `short:"b" long:"datadir" description:"Directory to store the seed file and wallet database"`
	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Network  string `long:"network" description:"The bitcoin network of the wallet" choice:"mainnet" choice:"testnet3" choice:"regtest" choice:"signet" choice:"simnet"`
	Backend  string `long:"backend" description:"Wallet storage backend" choice:"memory" choice:"bolt" choice:"sqlite" choice:"postgres"`
	Source   string `long:"source" description:"Chain data source" choice:"esplora" choice:"rpc"`
	Parallel int    `long:"parallel" description:"Number of concurrent script lookups during a sync"`

	Esplora  *esploraConfig  `group:"Esplora" namespace:"esplora"`
	RPC      *rpcConfig      `group:"RPC" namespace:"rpc"`
	Postgres *postgresConfig `group:"Postgres" namespace:"postgres"`
}

// defaultConfig returns a config with every default applied.
func defaultConfig() *config {
	return &config{
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultAppDataDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,
		Network:        defaultNetwork,
		Backend:        defaultBackend,
		Source:         defaultSource,
		Parallel:       defaultParallel,
		Esplora:        &esploraConfig{},
		RPC:            &rpcConfig{},
		Postgres:       &postgresConfig{},
	}
}

// netParams returns the chain parameters of the configured network.
func (c *config) netParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet3":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil
	}

	return nil, fmt.Errorf("unknown network %q", c.Network)
}

// networkDir is the data directory of the configured network.
func (c *config) networkDir() string {
	return filepath.Join(c.DataDir, c.Network)
}

// seedFile is the path of the encrypted seed file.
func (c *config) seedFile() string {
	return filepath.Join(c.networkDir(), defaultSeedFilename)
}

// esploraURL returns the configured Esplora URL or the network default.
func (c *config) esploraURL() (string, error) {
	if c.Esplora.URL != "" {
		return c.Esplora.URL, nil
	}

	url, ok := defaultEsploraURLs[c.Network]
	if !ok {
		return "", fmt.Errorf("no default esplora server for %v, set "+
			"--esplora.url", c.Network)
	}

	return url, nil
}

// validate checks the option combinations flags cannot express.
func (c *config) validate() error {
	if c.Parallel < 1 {
		return errors.New("--parallel must be at least 1")
	}

	if c.Backend == backendPostgres && c.Postgres.DSN == "" {
		return errors.New("--postgres.dsn is required for the " +
			"postgres backend")
	}

	if c.Source == sourceRPC && c.RPC.Host == "" {
		return errors.New("--rpc.host is required for the rpc source")
	}

	if c.Source == sourceEsplora {
		if _, err := c.esploraURL(); err != nil {
			return err
		}
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if path[0] == '~' {
		homeDir := filepath.Dir(defaultAppDataDir)
		path = filepath.Join(homeDir, path[1:])
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig fills cfg from the config file and then the command line, so
// flags given on the command line win. parser must be built around cfg.
//
// The config file is read before the command line is parsed because go-flags
// runs the command as part of parsing.
func loadConfig(cfg *config, parser *flags.Parser, args []string) error {
	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := defaultConfig()
	preParser := flags.NewParser(
		preCfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown,
	)
	if _, err := preParser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			// Help is printed by the real parser.
			return nil
		}

		return err
	}

	configFile := cleanAndExpandPath(preCfg.ConfigFile)

	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) ||
			preCfg.ConfigFile != defaultConfigFile {

			return fmt.Errorf("error parsing config file: %w", err)
		}
	}

	return nil
}

// finishConfig runs after the command line is parsed. It expands paths,
// validates the options and sets up logging.
func finishConfig(cfg *config) error {
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, defaultLogDirname)
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.MaxLogFiles > 0 {
		logFile := filepath.Join(cfg.LogDir, cfg.Network, defaultLogFilename)
		err := initLogRotator(
			logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles,
		)
		if err != nil {
			return err
		}
	}

	return parseAndSetDebugLevels(cfg.DebugLevel)
}
