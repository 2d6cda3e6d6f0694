package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rose-party/partymode/crypto"
	"github.com/rose-party/partymode/protocol"
	"github.com/rose-party/partymode/token"
	"github.com/rose-party/partymode/transport"
	"github.com/stretchr/testify/assert"
)

type harness struct {
	trA, trB     *transport.Transport
	portA, portB int
	keyA, keyB   []byte
	tokA, tokB   *token.Token
}

func newHarness(t *testing.T) *harness {
	trA := transport.New()
	portA, err := trA.Bind(0)
	assert.Nil(t, err)
	trA.Start()

	trB := transport.New()
	portB, err := trB.Bind(0)
	assert.Nil(t, err)
	trB.Start()

	keyA, _ := crypto.GenerateKey()
	keyB, _ := crypto.GenerateKey()

	loopback := net.ParseIP("127.0.0.1")
	tokA, err := token.New(1001, loopback, loopback, uint16(portA), uint16(portA), keyA)
	assert.Nil(t, err)
	tokB, err := token.New(2002, loopback, loopback, uint16(portB), uint16(portB), keyB)
	assert.Nil(t, err)

	return &harness{trA: trA, trB: trB, portA: portA, portB: portB, keyA: keyA, keyB: keyB, tokA: tokA, tokB: tokB}
}

func (h *harness) close() {
	h.trA.Close()
	h.trB.Close()
}

func TestHandshakeReachesConnectedBothSides(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	connA := New(LocalIdentity{SummonerID: 1001, SummonerName: "Alice"}, h.tokB, h.keyA, h.trA, Callbacks{})
	connB := New(LocalIdentity{SummonerID: 2002, SummonerName: "Bob"}, h.tokA, h.keyB, h.trB, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- connA.Connect(ctx, nil) }()
	go func() { errB <- connB.Connect(ctx, nil) }()

	assert.Nil(t, <-errA)
	assert.Nil(t, <-errB)

	assert.Equal(t, Connected, connA.State())
	assert.Equal(t, Connected, connB.State())
	assert.Equal(t, "Bob", connA.SummonerName())
	assert.Equal(t, "Alice", connB.SummonerName())
}

func TestDisconnectIsIdempotentAndReachesDisconnected(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	connA := New(LocalIdentity{SummonerID: 1001, SummonerName: "Alice"}, h.tokB, h.keyA, h.trA, Callbacks{})
	connA.Disconnect()
	connA.Disconnect()
	assert.Equal(t, Disconnected, connA.State())
}

func TestSkinUpdatePropagatesViaCallback(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	received := make(chan protocol.SkinSelection, 1)
	connA := New(LocalIdentity{SummonerID: 1001, SummonerName: "Alice"}, h.tokB, h.keyA, h.trA, Callbacks{})
	connB := New(LocalIdentity{SummonerID: 2002, SummonerName: "Bob"}, h.tokA, h.keyB, h.trB, Callbacks{
		OnSkinUpdate: func(peerID uint64, sel protocol.SkinSelection) {
			received <- sel
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { errA <- connA.Connect(ctx, nil) }()
	go func() { errB <- connB.Connect(ctx, nil) }()
	assert.Nil(t, <-errA)
	assert.Nil(t, <-errB)

	connA.SendSkinUpdate(protocol.SkinSelection{
		SummonerID: 1001,
		ChampionID: 103,
		SkinID:     12,
	})

	select {
	case sel := <-received:
		assert.Equal(t, uint32(103), sel.ChampionID)
		assert.Equal(t, uint32(12), sel.SkinID)
	case <-time.After(3 * time.Second):
		t.Fatal("skin update never arrived")
	}
}

func TestStateChangeCallbackFiresOnConnect(t *testing.T) {
	h := newHarness(t)
	defer h.close()

	states := make(chan ConnectionState, 8)
	connA := New(LocalIdentity{SummonerID: 1001, SummonerName: "Alice"}, h.tokB, h.keyA, h.trA, Callbacks{
		OnStateChange: func(peerID uint64, s ConnectionState) { states <- s },
	})
	connB := New(LocalIdentity{SummonerID: 2002, SummonerName: "Bob"}, h.tokA, h.keyB, h.trB, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go connB.Connect(ctx, nil)
	assert.Nil(t, connA.Connect(ctx, nil))

	seen := []ConnectionState{}
	timeout := time.After(time.Second)
drain:
	for {
		select {
		case s := <-states:
			seen = append(seen, s)
		case <-timeout:
			break drain
		}
	}
	assert.Contains(t, seen, Connecting)
	assert.Contains(t, seen, Handshaking)
	assert.Contains(t, seen, Connected)
}

func TestKeepAliveDeclaresDeadAfterSilence(t *testing.T) {
	oldPing, oldDead := pingInterval, deadTimeout
	pingInterval, deadTimeout = 50*time.Millisecond, 150*time.Millisecond
	defer func() { pingInterval, deadTimeout = oldPing, oldDead }()

	h := newHarness(t)
	defer h.close()

	states := make(chan ConnectionState, 8)
	connA := New(LocalIdentity{SummonerID: 1001, SummonerName: "Alice"}, h.tokB, h.keyA, h.trA, Callbacks{
		OnStateChange: func(peerID uint64, s ConnectionState) { states <- s },
	})
	connB := New(LocalIdentity{SummonerID: 2002, SummonerName: "Bob"}, h.tokA, h.keyB, h.trB, Callbacks{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errA := make(chan error, 1)
	go func() { errA <- connA.Connect(ctx, nil) }()
	go connB.Connect(ctx, nil)
	assert.Nil(t, <-errA)

	// Silence the remote side entirely; A's keep-alive must notice.
	connB.Disconnect()
	h.trB.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == Dead {
				return
			}
		case <-deadline:
			t.Fatal("connection never transitioned to Dead")
		}
	}
}
