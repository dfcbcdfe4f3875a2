// Package node assembles the relay: wallet state, sync loop, invocation
// pipeline, notification source and REST gateway.
package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Klingon-tech/klingnet-partnership/config"
	"github.com/Klingon-tech/klingnet-partnership/internal/events"
	"github.com/Klingon-tech/klingnet-partnership/internal/gateway"
	"github.com/Klingon-tech/klingnet-partnership/internal/invocation"
	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
	"github.com/Klingon-tech/klingnet-partnership/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-partnership/internal/storage"
	"github.com/Klingon-tech/klingnet-partnership/internal/syncloop"
	"github.com/Klingon-tech/klingnet-partnership/internal/wallet"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized relay.
type Node struct {
	cfg      *config.Config
	logger   zerolog.Logger
	contract types.ScriptHash

	db      *storage.BadgerDB
	client  *rpcclient.Client
	wallet  *wallet.Wallet
	metrics *metrics.Metrics

	sync       *syncloop.Loop
	builder    *invocation.Builder
	pipeline   *invocation.Pipeline
	dispatcher *events.Dispatcher
	source     *events.Source // nil when p2p is disabled
	gateway    *gateway.Server

	ctx     context.Context
	cancel  context.CancelFunc
	pidFile string
}

// New opens storage and the wallet and wires every component. It does not
// start background work; call Start for that. A wallet that cannot be
// opened yields invocation.ErrWalletUnavailable.
func New(cfg *config.Config, password []byte) (*Node, error) {
	// ── 1. Logger ───────────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "partnershipd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.Node

	contract, err := types.ParseScriptHash(cfg.Contract)
	if err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	logger.Info().
		Str("network", string(cfg.Network)).
		Str("contract", contract.String()).
		Str("node", cfg.Node.RPC).
		Msg("Starting partnership relay")

	// ── 2. Storage ──────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	// ── 3. Node client and wallet ───────────────────────────────────
	client := rpcclient.NewWithTimeout(cfg.Node.RPC, cfg.Node.Timeout)
	m := metrics.New()

	walletPath := expandHome(cfg.WalletFile())
	w, err := wallet.Open(walletPath, password, db, client, wallet.Options{
		FeeRate:    cfg.Wallet.FeeRate,
		BatchSize:  cfg.Wallet.BatchSize,
		PendingTTL: cfg.Wallet.PendingTTL,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", invocation.ErrWalletUnavailable, walletPath, err)
	}
	logger.Info().
		Str("path", walletPath).
		Str("address", w.DefaultAddress().String()).
		Int("accounts", len(w.Accounts())).
		Msg("Opened wallet")

	// ── 4. Core ─────────────────────────────────────────────────────
	loop := syncloop.New(w, syncloop.Config{
		Interval:       cfg.Sync.Interval,
		StatusInterval: cfg.Sync.StatusInterval,
		TickTimeout:    cfg.Node.Timeout,
	}, m)
	builder := invocation.NewBuilder(contract, client, w, m)
	pipeline := invocation.NewPipeline(w, client, loop, m)
	dispatcher := events.NewDispatcher(m)

	// ── 5. Notification source ──────────────────────────────────────
	var source *events.Source
	if cfg.P2P.Enabled {
		source = events.NewSource(events.SourceConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			NetworkID:  config.Params(cfg.Network).ID,
			DataDir:    cfg.P2PDir(),
			Contract:   contract,
		}, dispatcher)
	} else {
		logger.Warn().Msg("P2P disabled by config; contract notifications unavailable")
	}

	// ── 6. Gateway ──────────────────────────────────────────────────
	gw := gateway.New(gateway.Config{
		Addr:        cfg.GatewayListenAddr(),
		Token:       cfg.Gateway.Token,
		AllowedIPs:  cfg.Gateway.AllowedIPs,
		CORSOrigins: cfg.Gateway.CORSOrigins,
		RateLimit:   cfg.Gateway.RateLimit,
		RateBurst:   cfg.Gateway.RateBurst,
	}, gateway.Deps{
		Contract: builder,
		Pipeline: pipeline,
		Ledger:   client,
		Wallet:   w,
		Metrics:  m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:        cfg,
		logger:     logger,
		contract:   contract,
		db:         db,
		client:     client,
		wallet:     w,
		metrics:    m,
		sync:       loop,
		builder:    builder,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		source:     source,
		gateway:    gw,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start writes the PID file and launches the sync loop, the notification
// source and the gateway.
func (n *Node) Start() error {
	if n.cfg.PIDFile != "" {
		path := expandHome(n.cfg.PIDFile)
		if err := writePIDFile(path); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		n.pidFile = path
	}

	n.checkContract()

	if err := n.sync.Start(n.ctx); err != nil {
		return fmt.Errorf("start sync loop: %w", err)
	}
	if n.source != nil {
		if err := n.source.Start(); err != nil {
			return fmt.Errorf("start event source: %w", err)
		}
	}
	if err := n.gateway.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	n.logger.Info().
		Str("gateway", n.gateway.Addr()).
		Bool("p2p", n.source != nil).
		Msg("Everything is set up and running. Waiting for events...")
	return nil
}

// checkContract warns when the node does not know the configured contract.
func (n *Node) checkContract() {
	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.Node.Timeout)
	defer cancel()
	info, err := n.client.GetContract(ctx, n.contract)
	switch {
	case err != nil:
		n.logger.Warn().Err(err).Msg("Could not look up contract")
	case info == nil:
		n.logger.Warn().Str("contract", n.contract.String()).Msg("Contract not deployed on node")
	default:
		n.logger.Info().Str("name", info.Name).Str("version", info.Version).Msg("Contract found")
	}
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	if err := n.gateway.Stop(); err != nil {
		n.logger.Warn().Err(err).Msg("Gateway shutdown")
	}
	if n.source != nil {
		if err := n.source.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("Event source shutdown")
		}
	}
	n.sync.Stop()
	n.cancel()

	if cp, err := n.wallet.Checkpoint(); err == nil {
		n.logger.Info().Uint64("height", cp.Height).Int("pending", cp.Pending).Msg("Wallet checkpointed")
	}
	n.wallet.Close()
	if rewrites, err := n.db.CollectGarbage(0.5); err != nil {
		n.logger.Warn().Err(err).Msg("Value log GC")
	} else if rewrites > 0 {
		n.logger.Debug().Int("rewrites", rewrites).Msg("Value log GC")
	}
	if err := n.db.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("Close database")
	}
	if n.pidFile != "" {
		os.Remove(n.pidFile)
	}
	n.logger.Info().Msg("Shutting down.")
}

// GatewayAddr returns the address the REST API listens on.
func (n *Node) GatewayAddr() string {
	return n.gateway.Addr()
}

// Ready reports whether the wallet has completed a sync pass.
func (n *Node) Ready() bool {
	return n.sync.Ready()
}

// Dispatcher exposes the notification dispatcher for extra subscribers.
func (n *Node) Dispatcher() *events.Dispatcher {
	return n.dispatcher
}
