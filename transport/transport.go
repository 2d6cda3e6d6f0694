// BSD 3-Clause License
//
// Copyright (c) 2020, Sperax
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
//    list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
//    this list of conditions and the following disclaimer in the documentation
//    and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived from
//    this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package transport owns the single shared UDP socket a party-mode node
// uses for everything: STUN discovery, hole punching, and ordinary
// encrypted traffic to every connected peer. One socket, one receive loop,
// dispatched by source address so NAT state stays consistent across all of
// it.
package transport

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/rose-party/partymode/internal/metrics"
)

const (
	// PunchPrefix marks a UDP payload as a hole-punch probe rather than
	// application data.
	PunchPrefix = "PUNCH"

	holePunchAttempts    = 10
	holePunchInterval    = 300 * time.Millisecond
	holePunchReplyWindow = 800 * time.Millisecond

	inboundQueueSize = 256
	readBufferSize   = 2048
)

// ErrNotBound is returned by Send/Recv when the transport has not been
// bound yet, or has already been closed.
var ErrNotBound = errors.New("transport: socket not bound")

// ErrRecvTimeout is returned by Recv when no unclaimed packet arrives
// within the requested window.
var ErrRecvTimeout = errors.New("transport: recv timed out")

// Handler receives application payloads already stripped of any
// transport-level framing for one specific source address.
type Handler func(data []byte, from *net.UDPAddr)

// packet is one inbound datagram queued for Recv.
type packet struct {
	data []byte
	from *net.UDPAddr
}

// Endpoint is a peer's candidate address pair: the externally visible
// address everyone should try first, and an optional internal (LAN)
// address tried when it differs from the external one.
type Endpoint struct {
	ExternalIP   net.IP
	ExternalPort int
	InternalIP   net.IP
	InternalPort int
}

// Addresses returns the candidate addresses to attempt, external first.
func (e Endpoint) Addresses() []*net.UDPAddr {
	addrs := []*net.UDPAddr{{IP: e.ExternalIP, Port: e.ExternalPort}}
	if e.InternalIP != nil && !e.InternalIP.Equal(net.IPv4zero) && !e.InternalIP.Equal(e.ExternalIP) {
		addrs = append(addrs, &net.UDPAddr{IP: e.InternalIP, Port: e.InternalPort})
	}
	return addrs
}

// Transport multiplexes one UDP socket across STUN, hole-punching, and
// per-peer application traffic.
type Transport struct {
	mu       sync.Mutex
	conn     *net.UDPConn
	handlers map[string]Handler

	inbound chan packet

	waiterMu sync.Mutex
	waiters  []*punchWaiter

	die       chan struct{}
	dieOnce   sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
}

// punchWaiter lets an in-flight HolePunch call learn that some packet
// arrived from a candidate it is probing. A matched PUNCH packet is
// consumed there (neither echoed nor delivered); any other packet still
// flows through the normal handler/inbound path so a handshake waiting
// behind it can pick it up.
type punchWaiter struct {
	candidateIP net.IP
	externalIP  net.IP
	ch          chan *net.UDPAddr
}

// New allocates an unbound Transport.
func New() *Transport {
	return &Transport{
		handlers: make(map[string]Handler),
		inbound:  make(chan packet, inboundQueueSize),
		die:      make(chan struct{}),
	}
}

// Bind opens a UDPv4 socket on 0.0.0.0:port (port 0 for auto-assign) and
// returns the bound port. The receive loop is not started yet: callers
// that need a raw exchange on the socket first (STUN discovery) read it
// directly via Conn, then call Start — two concurrent readers on one
// socket would race for the discovery response.
func (t *Transport) Bind(port int) (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	bound := conn.LocalAddr().(*net.UDPAddr).Port
	log.Printf("[transport] bound to port %d", bound)
	return bound, nil
}

// Start launches the receive-dispatch loop. Call once, after Bind and
// after any direct reads on Conn have finished. Idempotent.
func (t *Transport) Start() {
	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.receiveLoop()
	})
}

// Conn returns the underlying socket, for STUN discovery to reuse.
func (t *Transport) Conn() *net.UDPConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// Close stops the receive loop and releases the socket. Idempotent.
func (t *Transport) Close() {
	t.dieOnce.Do(func() {
		close(t.die)
		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.mu.Unlock()
	})
	t.wg.Wait()
}

// Send fires a single datagram at addr, propagating any socket error.
func (t *Transport) Send(data []byte, addr *net.UDPAddr) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return ErrNotBound
	}
	_, err := conn.WriteToUDP(data, addr)
	if err != nil {
		log.Printf("[transport] send to %s failed: %v", addr, err)
	}
	return err
}

// Recv removes and returns one packet not claimed by any registered
// handler, waiting up to timeout.
func (t *Transport) Recv(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	select {
	case p := <-t.inbound:
		return p.data, p.from, nil
	case <-time.After(timeout):
		return nil, nil, ErrRecvTimeout
	case <-t.die:
		return nil, nil, ErrNotBound
	}
}

// SetHandler registers a fast-path handler for all future packets from addr.
func (t *Transport) SetHandler(addr *net.UDPAddr, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[addr.String()] = h
}

// RemoveHandler unregisters addr's handler, if any.
func (t *Transport) RemoveHandler(addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, addr.String())
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-t.die:
			return
		default:
		}

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.die:
				return
			default:
			}
			continue
		}

		data := append([]byte{}, buf[:n]...)

		if bytes.HasPrefix(data, []byte(PunchPrefix)) {
			// If an in-flight HolePunch is probing this source, the
			// packet is its reply: hand it the address and stop there.
			// Echoing it back would have the two sides bounce the same
			// probe at each other forever.
			if t.notifyWaiters(from) {
				continue
			}
			t.Send(data, from)
			continue
		}

		// Non-punch traffic from a probed source (an early HELLO from the
		// remote-initiated side) still tells the punch driver the path is
		// open; the packet itself continues to the handler/queue below.
		t.notifyWaiters(from)

		t.mu.Lock()
		handler := t.handlers[from.String()]
		t.mu.Unlock()

		if handler != nil {
			handler(data, from)
			continue
		}

		select {
		case t.inbound <- packet{data: data, from: from}:
		default:
			log.Printf("[transport] inbound queue full, dropping packet from %s", from)
		}
	}
}

// HolePunch repeatedly probes endpoint's candidate addresses with a PUNCH
// payload until one of them answers, or attempts are exhausted on every
// candidate. It returns the address that produced a reply.
//
// A reply is any packet arriving from the candidate's IP or the endpoint's
// external IP — not necessarily a PUNCH echo, since the remote side may
// already have sent its HELLO by the time our probe lands. A PUNCH-shaped
// reply is consumed by the receive loop; anything else is left on the
// inbound queue (or the peer's handler) for the handshake to pick up.
func (t *Transport) HolePunch(ctx context.Context, endpoint Endpoint, payload []byte) (*net.UDPAddr, error) {
	if !bytes.HasPrefix(payload, []byte(PunchPrefix)) {
		return nil, errors.New("transport: punch payload must start with PUNCH")
	}

	for _, candidate := range endpoint.Addresses() {
		addr, ok := t.punchCandidate(ctx, candidate, endpoint.ExternalIP, payload)
		if ok {
			return addr, nil
		}
	}
	return nil, errors.New("transport: hole punch exhausted all candidates")
}

func (t *Transport) punchCandidate(ctx context.Context, candidate *net.UDPAddr, externalIP net.IP, payload []byte) (*net.UDPAddr, bool) {
	waiter := t.registerWaiter(candidate.IP, externalIP)
	defer t.removeWaiter(waiter)

	for attempt := 0; attempt < holePunchAttempts; attempt++ {
		metrics.HolePunchAttemptsTotal.Inc()
		if err := t.Send(payload, candidate); err != nil {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(holePunchInterval):
		case addr := <-waiter.ch:
			return addr, true
		}

		select {
		case addr := <-waiter.ch:
			return addr, true
		case <-time.After(holePunchReplyWindow):
		case <-ctx.Done():
			return nil, false
		}
	}
	return nil, false
}

func (t *Transport) registerWaiter(candidateIP, externalIP net.IP) *punchWaiter {
	w := &punchWaiter{candidateIP: candidateIP, externalIP: externalIP, ch: make(chan *net.UDPAddr, 1)}
	t.waiterMu.Lock()
	t.waiters = append(t.waiters, w)
	t.waiterMu.Unlock()
	return w
}

func (t *Transport) removeWaiter(w *punchWaiter) {
	t.waiterMu.Lock()
	defer t.waiterMu.Unlock()
	for i, other := range t.waiters {
		if other == w {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// notifyWaiters signals every in-flight HolePunch probing from's IP and
// reports whether any waiter matched.
func (t *Transport) notifyWaiters(from *net.UDPAddr) bool {
	t.waiterMu.Lock()
	defer t.waiterMu.Unlock()
	matched := false
	for _, w := range t.waiters {
		if from.IP.Equal(w.candidateIP) || from.IP.Equal(w.externalIP) {
			matched = true
			select {
			case w.ch <- from:
			default:
			}
		}
	}
	return matched
}
