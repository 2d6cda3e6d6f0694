package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func bindLocal(t *testing.T) (*Transport, int) {
	tr := New()
	port, err := tr.Bind(0)
	assert.Nil(t, err)
	tr.Start()
	return tr, port
}

func TestBindReturnsNonZeroPort(t *testing.T) {
	tr, port := bindLocal(t)
	defer tr.Close()
	assert.NotZero(t, port)
}

func TestSendRecvRoundTrip(t *testing.T) {
	a, portA := bindLocal(t)
	defer a.Close()
	b, portB := bindLocal(t)
	defer b.Close()

	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: portA}
	err := b.Send([]byte("hello from b"), addrA)
	assert.Nil(t, err)

	data, from, err := a.Recv(2 * time.Second)
	assert.Nil(t, err)
	assert.Equal(t, "hello from b", string(data))
	assert.Equal(t, portB, from.Port)
}

func TestSetHandlerReceivesInsteadOfRecv(t *testing.T) {
	a, portA := bindLocal(t)
	defer a.Close()
	b, portB := bindLocal(t)
	defer b.Close()

	received := make(chan string, 1)
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: portB}
	a.SetHandler(addrB, func(data []byte, from *net.UDPAddr) {
		received <- string(data)
	})

	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: portA}
	err := b.Send([]byte("via handler"), addrA)
	assert.Nil(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "via handler", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	_, _, err = a.Recv(100 * time.Millisecond)
	assert.Equal(t, ErrRecvTimeout, err)
}

func TestPunchPacketIsEchoedAndNeverDeliveredAsData(t *testing.T) {
	a, _ := bindLocal(t)
	defer a.Close()
	b, portB := bindLocal(t)
	defer b.Close()

	endpoint := Endpoint{ExternalIP: net.ParseIP("127.0.0.1"), ExternalPort: portB}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := a.HolePunch(ctx, endpoint, []byte("PUNCH-A"))
	assert.Nil(t, err)
	assert.Equal(t, portB, addr.Port)

	// B echoed the probe and A's punch driver consumed the echo; neither
	// side may surface either packet as application data.
	_, _, err = a.Recv(200 * time.Millisecond)
	assert.Equal(t, ErrRecvTimeout, err)
	_, _, err = b.Recv(200 * time.Millisecond)
	assert.Equal(t, ErrRecvTimeout, err)
}

func TestHolePunchHappyPath(t *testing.T) {
	a, portA := bindLocal(t)
	defer a.Close()
	b, _ := bindLocal(t)
	defer b.Close()

	_ = portA
	endpoint := Endpoint{
		ExternalIP:   net.ParseIP("127.0.0.1"),
		ExternalPort: b.Conn().LocalAddr().(*net.UDPAddr).Port,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := a.HolePunch(ctx, endpoint, []byte("PUNCH-A"))
	assert.Nil(t, err)
	assert.Equal(t, endpoint.ExternalPort, addr.Port)
}

func TestHolePunchRequiresPunchPrefix(t *testing.T) {
	a, _ := bindLocal(t)
	defer a.Close()

	ctx := context.Background()
	_, err := a.HolePunch(ctx, Endpoint{ExternalIP: net.ParseIP("127.0.0.1"), ExternalPort: 1}, []byte("not a punch"))
	assert.NotNil(t, err)
}

func TestEndpointAddressesSkipsInvalidInternal(t *testing.T) {
	e := Endpoint{
		ExternalIP:   net.ParseIP("203.0.113.1"),
		ExternalPort: 1000,
		InternalIP:   net.IPv4zero,
		InternalPort: 2000,
	}
	addrs := e.Addresses()
	assert.Len(t, addrs, 1)
}

func TestEndpointAddressesIncludesDistinctInternal(t *testing.T) {
	e := Endpoint{
		ExternalIP:   net.ParseIP("203.0.113.1"),
		ExternalPort: 1000,
		InternalIP:   net.ParseIP("192.168.1.5"),
		InternalPort: 2000,
	}
	addrs := e.Addresses()
	assert.Len(t, addrs, 2)
}
