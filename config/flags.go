package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version is the relay version string.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network  string
	DataDir  string
	Config   string
	Contract string
	PIDFile  string

	// Node
	NodeRPC string

	// Gateway
	GatewayAddr    string
	GatewayPort    int
	GatewayAllowed string
	GatewayCORS    string

	// P2P
	P2P     bool
	P2PPort int
	Seeds   string

	// Wallet
	WalletFile string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetP2P     bool
	SetLogJSON bool
}

// ParseFlags parses args (without the program name). The network may be
// selected with --network or one of --mainnet, --testnet, --privnet,
// --coznet, but only once.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("partnershipd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "")
	fs.BoolVar(&f.Help, "h", false, "")
	fs.BoolVar(&f.Version, "version", false, "")
	fs.BoolVar(&f.Version, "v", false, "")

	var mainnet, testnet, privnet, coznet bool
	fs.StringVar(&f.Network, "network", "", "")
	fs.BoolVar(&mainnet, "mainnet", false, "")
	fs.BoolVar(&mainnet, "m", false, "")
	fs.BoolVar(&testnet, "testnet", false, "")
	fs.BoolVar(&testnet, "t", false, "")
	fs.BoolVar(&privnet, "privnet", false, "")
	fs.BoolVar(&privnet, "p", false, "")
	fs.BoolVar(&coznet, "coznet", false, "")
	fs.StringVar(&f.DataDir, "datadir", "", "")
	fs.StringVar(&f.Config, "config", "", "")
	fs.StringVar(&f.Config, "c", "", "")
	fs.StringVar(&f.Contract, "contract", "", "")
	fs.StringVar(&f.PIDFile, "pidfile", "", "")

	fs.StringVar(&f.NodeRPC, "node-rpc", "", "")

	fs.StringVar(&f.GatewayAddr, "gateway-addr", "", "")
	fs.IntVar(&f.GatewayPort, "port-rest", 0, "")
	fs.StringVar(&f.GatewayAllowed, "gateway-allowed", "", "")
	fs.StringVar(&f.GatewayCORS, "gateway-cors", "", "")

	fs.BoolVar(&f.P2P, "p2p", true, "")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "")
	fs.StringVar(&f.Seeds, "seeds", "", "")

	fs.StringVar(&f.WalletFile, "wallet-file", "", "")

	fs.StringVar(&f.LogLevel, "log-level", "", "")
	fs.StringVar(&f.LogFile, "log-file", "", "")
	fs.BoolVar(&f.LogJSON, "log-json", false, "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var selected []string
	if f.Network != "" {
		selected = append(selected, strings.ToLower(f.Network))
	}
	for _, n := range []struct {
		set  bool
		name NetworkType
	}{{mainnet, Mainnet}, {testnet, Testnet}, {privnet, Privnet}, {coznet, Coznet}} {
		if n.set {
			selected = append(selected, string(n.name))
		}
	}
	if len(selected) > 1 {
		return nil, fmt.Errorf("only one network may be selected, got %s", strings.Join(selected, ", "))
	}
	if len(selected) == 1 {
		f.Network = selected[0]
	}

	f.SetP2P = isFlagSet(fs, "p2p")
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// ApplyFlags applies command-line flags to cfg.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Contract != "" {
		cfg.Contract = f.Contract
	}
	if f.PIDFile != "" {
		cfg.PIDFile = f.PIDFile
	}

	if f.NodeRPC != "" {
		cfg.Node.RPC = f.NodeRPC
	}

	if f.GatewayAddr != "" {
		cfg.Gateway.Addr = f.GatewayAddr
	}
	if f.GatewayPort != 0 {
		cfg.Gateway.Port = f.GatewayPort
	}
	if f.GatewayAllowed != "" {
		cfg.Gateway.AllowedIPs = parseStringList(f.GatewayAllowed)
	}
	if f.GatewayCORS != "" {
		cfg.Gateway.CORSOrigins = parseStringList(f.GatewayCORS)
	}

	if f.SetP2P {
		cfg.P2P.Enabled = f.P2P
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Seeds != "" {
		cfg.P2P.Seeds = parseStringList(f.Seeds)
	}

	if f.WalletFile != "" {
		cfg.Wallet.FilePath = f.WalletFile
	}

	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// ApplyEnv reads secrets from the environment. The token in the
// environment wins over one in the config file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if tok := strings.TrimSpace(getenv(EnvAPIToken)); tok != "" {
		cfg.Gateway.Token = tok
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the daemon's help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, `Partnership relay - REST API for the partnership contract

Usage:
  partnershipd [options]
  partnershipd --help

Commands:
  --help, -h        Show this help message
  --version, -v     Show version information

Network (pick one):
  --mainnet, -m     Use mainnet (default)
  --testnet, -t     Use testnet
  --privnet, -p     Use a private network
  --coznet          Use the CoZ network
  --network         Network by name

Core Options:
  --datadir         Data directory (default: ~/.partnership)
  --config, -c      Config file path (default: <datadir>/partnership.conf)
  --contract        Partnership contract script hash
  --pidfile         Write the process id to this file

Node Options:
  --node-rpc        Node JSON-RPC endpoint

REST API Options:
  --gateway-addr    Listen address (default: 0.0.0.0)
  --port-rest       Listen port
  --gateway-allowed Allowed client IPs (comma-separated)
  --gateway-cors    Allowed CORS origins (comma-separated)

Notification Options:
  --p2p             Subscribe to contract notifications (default: true)
  --p2p-port        P2P listen port
  --seeds           Seed peers as comma-separated libp2p multiaddrs

Wallet Options:
  --wallet-file     Relay wallet file

Logging Options:
  --log-level       Log level: debug, info, warn, error (default: info)
  --log-file        Log file path (default: stdout)
  --log-json        Output logs as JSON

Environment:
  `+EnvAPIToken+`       API bearer token (required)
  `+EnvWalletPassword+` Wallet password (prompted when unset)
`)
}

// ErrHelp is returned by Load when help or version output was requested.
var ErrHelp = errors.New("help requested")

// Load builds the configuration with the following precedence:
//  1. Network defaults
//  2. Config file
//  3. Command-line flags
//  4. Environment secrets
//
// Data directories and a default config file are created on first start.
func Load(args []string, getenv func(string) string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		PrintUsage(os.Stdout)
		return nil, flags, ErrHelp
	}
	if flags.Version {
		fmt.Println("partnershipd version " + Version)
		return nil, flags, ErrHelp
	}

	network := Mainnet
	if flags.Network != "" {
		network = NetworkType(flags.Network)
	}
	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	ApplyFlags(cfg, flags)
	ApplyEnv(cfg, getenv)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	// The file or flags may have moved the network or data dir.
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory layout and a default config
// file if missing. Safe to call on every start.
func EnsureDataDirs(cfg *Config) error {
	for _, dir := range []string{cfg.DataDir, cfg.ChainDataDir(), cfg.DBDir(), cfg.P2PDir(), cfg.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
