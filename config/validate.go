package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
)

// ErrMissingToken is returned when no API token is configured.
var ErrMissingToken = errors.New("no API token configured (set " + EnvAPIToken + ")")

// Validate checks the configuration for operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !validNetwork(cfg.Network) {
		return fmt.Errorf("network must be one of %v", Networks)
	}
	if cfg.Gateway.Token == "" {
		return ErrMissingToken
	}
	if cfg.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if _, err := types.ParseScriptHash(cfg.Contract); err != nil {
		return fmt.Errorf("contract: %w", err)
	}

	u, err := url.Parse(cfg.Node.RPC)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("node.rpc must be an http(s) URL, got %q", cfg.Node.RPC)
	}
	if cfg.Node.Timeout <= 0 {
		return fmt.Errorf("node.timeout must be positive")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be in range [0, 65535]")
	}
	if cfg.Gateway.RateLimit < 0 || cfg.Gateway.RateBurst < 0 {
		return fmt.Errorf("gateway.ratelimit and gateway.burst must not be negative")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}

	if cfg.Wallet.FeeRate == 0 {
		return fmt.Errorf("wallet.feerate must be positive")
	}
	if cfg.Wallet.BatchSize <= 0 {
		return fmt.Errorf("wallet.batch must be positive")
	}
	if cfg.Wallet.PendingTTL <= 0 {
		return fmt.Errorf("wallet.pending_ttl must be positive")
	}
	if cfg.Sync.Interval <= 0 || cfg.Sync.StatusInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	return nil
}

func validNetwork(n NetworkType) bool {
	for _, known := range Networks {
		if n == known {
			return true
		}
	}
	return false
}
