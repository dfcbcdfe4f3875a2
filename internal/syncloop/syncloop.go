// Package syncloop keeps wallet state current by absorbing new blocks on a
// fixed interval.
package syncloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/internal/metrics"
	"github.com/Klingon-tech/klingnet-partnership/internal/wallet"
)

// ErrAlreadyStarted is returned by Start on a running loop.
var ErrAlreadyStarted = errors.New("sync loop already started")

// Wallet is the state the loop keeps current.
type Wallet interface {
	ProcessNewBlocks(ctx context.Context) error
	Checkpoint() (wallet.Checkpoint, error)
}

// Config sets the loop's intervals.
type Config struct {
	Interval       time.Duration // block absorption
	StatusInterval time.Duration // checkpoint and height log
	TickTimeout    time.Duration // bound on one absorption pass
}

// DefaultConfig returns the daemon's intervals.
func DefaultConfig() Config {
	return Config{Interval: time.Second, StatusInterval: 15 * time.Second, TickTimeout: 30 * time.Second}
}

// Loop periodically asks the wallet to absorb new blocks. A failed tick is
// logged and counted; the next tick runs regardless.
type Loop struct {
	wallet  Wallet
	cfg     Config
	metrics *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready    atomic.Bool
	passes   atomic.Uint64
	failures atomic.Uint64
}

// New creates a stopped loop. m may be nil.
func New(w Wallet, cfg Config, m *metrics.Metrics) *Loop {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = def.TickTimeout
	}
	return &Loop{wallet: w, cfg: cfg, metrics: m}
}

// Start runs the loop in the background until ctx ends or Stop is called.
// The first pass runs immediately.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
	klog.Sync.Info().
		Dur("interval", l.cfg.Interval).
		Dur("status_interval", l.cfg.StatusInterval).
		Msg("Sync loop started")
	return nil
}

// Stop cancels the loop and waits for the current tick to finish. Calling
// Stop on a stopped loop does nothing.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.wg.Wait()
	l.cancel = nil
	klog.Sync.Info().Uint64("passes", l.passes.Load()).Uint64("failures", l.failures.Load()).Msg("Sync loop stopped")
}

func (l *Loop) run(ctx context.Context) {
	tick := time.NewTicker(l.cfg.Interval)
	defer tick.Stop()
	status := time.NewTicker(l.cfg.StatusInterval)
	defer status.Stop()

	l.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			l.Tick(ctx)
		case <-status.C:
			l.Status()
		}
	}
}

// Tick runs one absorption pass. A pass with no new blocks is a no-op.
func (l *Loop) Tick(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, l.cfg.TickTimeout)
	defer cancel()

	err := l.wallet.ProcessNewBlocks(tctx)
	l.metrics.SyncTick(err)
	if err != nil {
		n := l.failures.Add(1)
		if ctx.Err() == nil {
			klog.Sync.Warn().Err(err).Uint64("failures", n).Msg("Wallet sync tick failed")
		}
		return err
	}
	l.passes.Add(1)
	if !l.ready.Swap(true) {
		klog.Sync.Info().Msg("Wallet state ready")
	}
	return nil
}

// Status checkpoints the wallet and logs its height against the chain.
func (l *Loop) Status() {
	cp, err := l.wallet.Checkpoint()
	if err != nil {
		klog.Sync.Error().Err(err).Msg("Wallet checkpoint failed")
		return
	}
	l.metrics.Heights(cp.Height, cp.ChainHeight)
	klog.Sync.Info().
		Uint64("wallet_height", cp.Height).
		Uint64("chain_height", cp.ChainHeight).
		Int("pending", cp.Pending).
		Msg("Block height")
}

// Ready reports whether at least one pass has succeeded.
func (l *Loop) Ready() bool {
	return l.ready.Load()
}

// Passes is the number of successful passes.
func (l *Loop) Passes() uint64 {
	return l.passes.Load()
}

// Failures is the number of failed passes.
func (l *Loop) Failures() uint64 {
	return l.failures.Load()
}
