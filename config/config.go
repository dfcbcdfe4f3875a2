// Package config handles relay configuration.
//
// Settings are layered: network defaults, then the partnership.conf file,
// then command-line flags, then secrets from the environment.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// NetworkType selects the node endpoints and peer seeds.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Privnet NetworkType = "privnet"
	Coznet  NetworkType = "coznet"
)

// Networks lists every supported network.
var Networks = []NetworkType{Mainnet, Testnet, Privnet, Coznet}

// Environment variables holding secrets.
const (
	EnvAPIToken       = "PARTNERSHIP_API_TOKEN"
	EnvWalletPassword = "PARTNERSHIP_WALLET_PASSWORD"
)

// Config holds the relay's runtime configuration.
type Config struct {
	// Core
	Network  NetworkType `conf:"network"`
	DataDir  string      `conf:"datadir"`
	Contract string      `conf:"contract"` // script hash, 0x-prefixed big-endian hex
	PIDFile  string      `conf:"pidfile"`

	// Node JSON-RPC endpoint
	Node NodeConfig

	// REST API
	Gateway GatewayConfig

	// Notification gossip
	P2P P2PConfig

	// Relay wallet
	Wallet WalletConfig

	// Wallet synchronization
	Sync SyncConfig

	// Logging
	Log LogConfig
}

// NodeConfig holds the ledger node connection settings.
type NodeConfig struct {
	RPC     string        `conf:"node.rpc"`
	Timeout time.Duration `conf:"node.timeout"`
}

// GatewayConfig holds REST API settings.
type GatewayConfig struct {
	Addr        string   `conf:"gateway.addr"`
	Port        int      `conf:"gateway.port"`
	AllowedIPs  []string `conf:"gateway.allowed"`
	CORSOrigins []string `conf:"gateway.cors"`
	RateLimit   float64  `conf:"gateway.ratelimit"` // requests/second, 0 = off
	RateBurst   int      `conf:"gateway.burst"`
	Token       string   `conf:"gateway.token"` // prefer PARTNERSHIP_API_TOKEN
}

// P2PConfig holds the notification gossip settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
}

// WalletConfig holds relay wallet settings.
type WalletConfig struct {
	FilePath   string        `conf:"wallet.file"`
	FeeRate    uint64        `conf:"wallet.feerate"`
	BatchSize  int           `conf:"wallet.batch"`
	PendingTTL time.Duration `conf:"wallet.pending_ttl"`
}

// SyncConfig holds wallet sync loop intervals.
type SyncConfig struct {
	Interval       time.Duration `conf:"sync.interval"`
	StatusInterval time.Duration `conf:"sync.status_interval"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.partnership
//	macOS:   ~/Library/Application Support/Partnership
//	Windows: %APPDATA%\Partnership
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".partnership"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Partnership")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Partnership")
		}
		return filepath.Join(home, "AppData", "Roaming", "Partnership")
	default:
		return filepath.Join(home, ".partnership")
	}
}

// ChainDataDir returns the network-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the wallet state database directory.
func (c *Config) DBDir() string {
	return filepath.Join(c.ChainDataDir(), "db")
}

// P2PDir returns the directory holding the libp2p identity.
func (c *Config) P2PDir() string {
	return filepath.Join(c.ChainDataDir(), "p2p")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// WalletFile returns the wallet file path, defaulting into the chain dir.
func (c *Config) WalletFile() string {
	if c.Wallet.FilePath != "" {
		return c.Wallet.FilePath
	}
	return filepath.Join(c.ChainDataDir(), "relay.wallet")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "partnership.conf")
}

// GatewayListenAddr returns host:port for the REST API.
func (c *Config) GatewayListenAddr() string {
	return joinHostPort(c.Gateway.Addr, c.Gateway.Port)
}
