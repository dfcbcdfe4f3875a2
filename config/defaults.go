package config

import (
	"net"
	"strconv"
	"time"
)

// NetworkParams are the per-network defaults.
type NetworkParams struct {
	ID          string // gossip namespace
	NodeRPC     string
	P2PPort     int
	GatewayPort int
	Seeds       []string
}

// Params returns the defaults for network. Unknown networks get mainnet's.
func Params(network NetworkType) NetworkParams {
	switch network {
	case Testnet:
		return NetworkParams{ID: "klingnet-testnet-1", NodeRPC: "http://127.0.0.1:8645", P2PPort: 30314, GatewayPort: 8181}
	case Privnet:
		return NetworkParams{ID: "klingnet-privnet", NodeRPC: "http://127.0.0.1:8745", P2PPort: 30324, GatewayPort: 8281}
	case Coznet:
		return NetworkParams{ID: "klingnet-coznet", NodeRPC: "http://127.0.0.1:8845", P2PPort: 30334, GatewayPort: 8381}
	default:
		// Seeds are multiaddrs, e.g. "/dns4/seed1.example.org/tcp/30303/p2p/12D3KooW...".
		return NetworkParams{ID: "klingnet-mainnet-1", NodeRPC: "http://127.0.0.1:8545", P2PPort: 30304, GatewayPort: 8081}
	}
}

// Default returns the default configuration for network.
func Default(network NetworkType) *Config {
	p := Params(network)
	return &Config{
		Network: network,
		DataDir: DefaultDataDir(),
		Node: NodeConfig{
			RPC:     p.NodeRPC,
			Timeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:      "0.0.0.0",
			Port:      p.GatewayPort,
			RateLimit: 20,
			RateBurst: 40,
		},
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       p.P2PPort,
			Seeds:      append([]string(nil), p.Seeds...),
		},
		Wallet: WalletConfig{
			FeeRate:    10,
			BatchSize:  500,
			PendingTTL: time.Hour,
		},
		Sync: SyncConfig{
			Interval:       time.Second,
			StatusInterval: 15 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
