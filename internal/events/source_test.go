package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-partnership/pkg/types"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

type chanSink chan Notification

func (c chanSink) OnNotification(n Notification) {
	select {
	case c <- n:
	default:
	}
}

func startTestSource(t *testing.T, cfg SourceConfig, sink Sink) *Source {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1"
	if cfg.NetworkID == "" {
		cfg.NetworkID = "testnet"
	}
	s := NewSource(cfg, sink)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestNotificationTopic(t *testing.T) {
	require.Equal(t, "/klingnet/mainnet/notify/1.0.0", NotificationTopic("mainnet"))
}

func TestSource_StopBeforeStart(t *testing.T) {
	s := NewSource(SourceConfig{ListenAddr: "127.0.0.1"}, chanSink(make(chan Notification)))
	require.NoError(t, s.Stop())
	require.Empty(t, s.ID())
	require.Nil(t, s.Addrs())
	require.Error(t, s.Publish(context.Background(), Notification{}))
}

func TestSource_FailedJoinLeavesSourceStopped(t *testing.T) {
	errJoin := errors.New("join refused")
	orig := joinTopic
	joinTopic = func(*pubsub.PubSub, string) (*pubsub.Topic, *pubsub.Subscription, error) {
		return nil, nil, errJoin
	}
	t.Cleanup(func() { joinTopic = orig })

	s := NewSource(SourceConfig{ListenAddr: "127.0.0.1", NetworkID: "testnet"}, chanSink(make(chan Notification)))
	require.ErrorIs(t, s.Start(), errJoin)
	require.Empty(t, s.ID())
	require.Nil(t, s.Addrs())
	require.Error(t, s.Publish(context.Background(), Notification{}))

	// A retry with a working join gets a fresh host.
	joinTopic = orig
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.ID())
	require.NoError(t, s.Stop())
}

func TestParseSeeds(t *testing.T) {
	_, pub, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pid, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	id := pid.String()

	infos, err := ParseSeeds([]string{
		"/ip4/10.0.0.1/tcp/30303/p2p/" + id,
		"/ip4/10.0.0.2/tcp/30303/p2p/" + id,
	})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Len(t, infos[0].Addrs, 2)

	_, err = ParseSeeds([]string{"not-a-multiaddr"})
	require.Error(t, err)
	_, err = ParseSeeds([]string{"/ip4/10.0.0.1/tcp/30303"})
	require.Error(t, err)
}

func TestSource_HandleMessageFiltersContract(t *testing.T) {
	want := types.ScriptHash{0x42}
	sink := make(chanSink, 4)
	s := NewSource(SourceConfig{Contract: want}, sink)

	s.handleMessage("", []byte("{not json"))

	other, err := json.Marshal(Notification{Contract: types.ScriptHash{0x01}, Payload: [][]byte{[]byte("x")}})
	require.NoError(t, err)
	s.handleMessage("", other)

	mine, err := json.Marshal(Notification{Contract: want, Type: TypeNotify, Payload: [][]byte{[]byte("x")}})
	require.NoError(t, err)
	s.handleMessage("", mine)

	require.Len(t, sink, 1)
	got := <-sink
	require.Equal(t, want, got.Contract)
}

func TestSource_GossipBetweenPeers(t *testing.T) {
	contract := types.ScriptHash{0x42}
	a := startTestSource(t, SourceConfig{}, chanSink(make(chan Notification, 1)))

	sink := make(chanSink, 16)
	b := startTestSource(t, SourceConfig{Seeds: a.Addrs()[:1], Contract: contract}, sink)
	require.Eventually(t, func() bool { return b.PeerCount() > 0 }, 5*time.Second, 50*time.Millisecond)

	n := Notification{Contract: contract, Type: TypeNotify, Payload: [][]byte{[]byte("partnership_created")}}

	// Publish until the mesh forms.
	var got Notification
	require.Eventually(t, func() bool {
		require.NoError(t, a.Publish(context.Background(), n))
		select {
		case got = <-sink:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
	require.Equal(t, n.Payload, got.Payload)
}
