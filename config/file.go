package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile reads key = value pairs from a .conf file. A missing file yields
// no values. Lines starting with # are comments.
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return values, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// ApplyFileConfig applies file values to cfg. Unknown keys are ignored.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	var err error
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value
	case "contract":
		cfg.Contract = value
	case "pidfile":
		cfg.PIDFile = value

	// Node
	case "node.rpc":
		cfg.Node.RPC = value
	case "node.timeout":
		cfg.Node.Timeout, err = time.ParseDuration(value)

	// Gateway
	case "gateway.addr":
		cfg.Gateway.Addr = value
	case "gateway.port", "port-rest":
		cfg.Gateway.Port, err = strconv.Atoi(value)
	case "gateway.allowed":
		cfg.Gateway.AllowedIPs = parseStringList(value)
	case "gateway.cors":
		cfg.Gateway.CORSOrigins = parseStringList(value)
	case "gateway.ratelimit":
		cfg.Gateway.RateLimit, err = strconv.ParseFloat(value, 64)
	case "gateway.burst":
		cfg.Gateway.RateBurst, err = strconv.Atoi(value)
	case "gateway.token":
		cfg.Gateway.Token = value

	// P2P
	case "p2p.enabled", "p2p":
		cfg.P2P.Enabled = parseBool(value)
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "p2p.port":
		cfg.P2P.Port, err = strconv.Atoi(value)
	case "p2p.seeds":
		cfg.P2P.Seeds = parseStringList(value)

	// Wallet
	case "wallet.file":
		cfg.Wallet.FilePath = value
	case "wallet.feerate":
		cfg.Wallet.FeeRate, err = strconv.ParseUint(value, 10, 64)
	case "wallet.batch":
		cfg.Wallet.BatchSize, err = strconv.Atoi(value)
	case "wallet.pending_ttl":
		cfg.Wallet.PendingTTL, err = time.ParseDuration(value)

	// Sync
	case "sync.interval":
		cfg.Sync.Interval, err = time.ParseDuration(value)
	case "sync.status_interval":
		cfg.Sync.StatusInterval, err = time.ParseDuration(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	}
	return err
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a commented configuration file for network.
func WriteDefaultConfig(path string, network NetworkType) error {
	p := Params(network)
	content := `# Partnership relay configuration

# Network: mainnet, testnet, privnet or coznet
network = ` + string(network) + `

# Data directory (default: ~/.partnership)
# datadir = ~/.partnership

# Partnership contract script hash (required)
# contract = 0x...

# PID file, removed on clean shutdown
# pidfile = /tmp/partnershipd.pid

# ============================================================================
# Node
# ============================================================================

node.rpc = ` + p.NodeRPC + `
node.timeout = 30s

# ============================================================================
# REST API
# ============================================================================

gateway.addr = 0.0.0.0
gateway.port = ` + strconv.Itoa(p.GatewayPort) + `
# gateway.allowed = 127.0.0.1,10.0.0.0/8
# gateway.cors = https://app.example.org
gateway.ratelimit = 20
gateway.burst = 40
# The API token is read from ` + EnvAPIToken + `.

# ============================================================================
# Contract notifications
# ============================================================================

p2p.enabled = true
p2p.listen = 0.0.0.0
p2p.port = ` + strconv.Itoa(p.P2PPort) + `
# p2p.seeds = /ip4/203.0.113.1/tcp/30304/p2p/12D3KooW...

# ============================================================================
# Wallet
# ============================================================================

# wallet.file = relay.wallet
wallet.feerate = 10
wallet.batch = 500
wallet.pending_ttl = 1h
# The wallet password is read from ` + EnvWalletPassword + ` or prompted.

# ============================================================================
# Sync
# ============================================================================

sync.interval = 1s
sync.status_interval = 15s

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
