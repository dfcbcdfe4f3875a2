package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-partnership/internal/log"
	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const (
	seedConnectTimeout = 10 * time.Second
	seedRetryInterval  = 10 * time.Second
	maxMessageSize     = 256 * 1024
)

// NotificationTopic returns the GossipSub topic carrying contract
// notifications for a network.
func NotificationTopic(networkID string) string {
	return fmt.Sprintf("/klingnet/%s/notify/1.0.0", networkID)
}

// joinTopic joins and subscribes to the notification topic.
var joinTopic = func(ps *pubsub.PubSub, name string) (*pubsub.Topic, *pubsub.Subscription, error) {
	t, err := ps.Join(name)
	if err != nil {
		return nil, nil, fmt.Errorf("join notify topic: %w", err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		t.Close()
		return nil, nil, fmt.Errorf("subscribe notify: %w", err)
	}
	return t, sub, nil
}

// Sink consumes notifications read from the network.
type Sink interface {
	OnNotification(Notification)
}

// SourceConfig holds the event source's libp2p settings.
type SourceConfig struct {
	ListenAddr string
	Port       int
	Seeds      []string         // full multiaddrs ending in /p2p/<id>
	NetworkID  string           // selects the topic
	DataDir    string           // identity key location; empty = ephemeral
	Contract   types.ScriptHash // zero accepts every contract
}

// Source subscribes to the notification topic and feeds a Sink.
type Source struct {
	cfg  SourceConfig
	sink Sink

	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	peers map[peer.ID]time.Time
}

// NewSource creates a stopped source.
func NewSource(cfg SourceConfig, sink Sink) *Source {
	ctx, cancel := context.WithCancel(context.Background())
	return &Source{
		cfg:    cfg,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[peer.ID]time.Time),
	}
}

// Start creates the libp2p host, joins the topic and connects to seeds.
func (s *Source) Start() error {
	seeds, err := ParseSeeds(s.cfg.Seeds)
	if err != nil {
		return err
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", s.cfg.ListenAddr, s.cfg.Port)),
	}
	if s.cfg.DataDir != "" {
		priv, err := loadOrCreateIdentity(s.cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			s.addPeer(c.RemotePeer())
		},
		DisconnectedF: func(n network.Network, c network.Conn) {
			if len(n.ConnsToPeer(c.RemotePeer())) == 0 {
				s.removePeer(c.RemotePeer())
			}
		},
	})

	// The source only keeps the host once the subscription is live, so a
	// failed Start leaves it stopped.
	ps, err := pubsub.NewGossipSub(s.ctx, h, pubsub.WithMaxMessageSize(maxMessageSize))
	if err != nil {
		h.Close()
		return fmt.Errorf("create pubsub: %w", err)
	}
	topic := NotificationTopic(s.cfg.NetworkID)
	t, sub, err := joinTopic(ps, topic)
	if err != nil {
		h.Close()
		return err
	}
	s.host, s.ps, s.topic, s.sub = h, ps, t, sub

	s.wg.Add(1)
	go s.readLoop()

	if len(seeds) > 0 {
		klog.P2P.Info().Int("seeds", len(seeds)).Msg("Connecting to seeds...")
		s.connectSeeds(seeds)
		s.wg.Add(1)
		go s.connectSeedsLoop(seeds)
	}

	klog.P2P.Info().Str("id", h.ID().String()).Str("topic", topic).Msg("Event source started")
	return nil
}

// Stop shuts down the host. Calling it before Start is allowed.
func (s *Source) Stop() error {
	s.cancel()
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.wg.Wait()
	if s.topic != nil {
		s.topic.Close()
	}
	if s.host != nil {
		return s.host.Close()
	}
	return nil
}

// ID returns the host's peer ID (empty before Start).
func (s *Source) ID() peer.ID {
	if s.host == nil {
		return ""
	}
	return s.host.ID()
}

// Addrs returns the host's full multiaddrs.
func (s *Source) Addrs() []string {
	if s.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range s.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, s.host.ID()))
	}
	return addrs
}

// PeerCount returns the number of connected peers.
func (s *Source) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Publish gossips a notification on the topic.
func (s *Source) Publish(ctx context.Context, n Notification) error {
	if s.topic == nil {
		return fmt.Errorf("event source not started")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return s.topic.Publish(ctx, data)
}

func (s *Source) readLoop() {
	defer s.wg.Done()
	for {
		msg, err := s.sub.Next(s.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}
		s.handleMessage(msg.ReceivedFrom, msg.Data)
	}
}

func (s *Source) handleMessage(from peer.ID, data []byte) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		klog.P2P.Debug().Err(err).Str("peer", shortID(from)).Msg("Dropping bad notification")
		return
	}
	if !s.cfg.Contract.IsZero() && n.Contract != s.cfg.Contract {
		return
	}
	s.sink.OnNotification(n)
}

func (s *Source) connectSeeds(seeds []peer.AddrInfo) bool {
	connected := false
	for _, info := range seeds {
		ctx, cancel := context.WithTimeout(s.ctx, seedConnectTimeout)
		err := s.host.Connect(ctx, info)
		cancel()
		if err != nil {
			klog.P2P.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		s.addPeer(info.ID)
		klog.P2P.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected = true
	}
	return connected
}

func (s *Source) connectSeedsLoop(seeds []peer.AddrInfo) {
	defer s.wg.Done()
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.PeerCount() == 0 {
				klog.P2P.Info().Int("seeds", len(seeds)).Msg("No peers, retrying seeds...")
				s.connectSeeds(seeds)
			}
		}
	}
}

func (s *Source) addPeer(id peer.ID) {
	if s.host != nil && id == s.host.ID() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		s.peers[id] = time.Now()
	}
}

func (s *Source) removePeer(id peer.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// ParseSeeds converts seed multiaddr strings into peer address info,
// merging addresses that share a peer ID.
func ParseSeeds(seeds []string) ([]peer.AddrInfo, error) {
	byID := make(map[peer.ID]int)
	var out []peer.AddrInfo
	for _, s := range seeds {
		ma, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", s, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", s, err)
		}
		if i, ok := byID[info.ID]; ok {
			out[i].Addrs = append(out[i].Addrs, info.Addrs...)
			continue
		}
		byID[info.ID] = len(out)
		out = append(out, *info)
	}
	return out, nil
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// loadOrCreateIdentity keeps the peer ID stable across restarts.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "p2p.key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode p2p key: %w", err)
		}
		return libp2pcrypto.UnmarshalEd25519PrivateKey(raw)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := priv.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("save p2p key: %w", err)
	}
	return priv, nil
}
