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

// Package peer implements the per-peer connection state machine: hole
// punch, handshake, encrypted framing, keep-alive, and dead detection.
// Each Connection owns its own state exclusively; the only way another
// component learns about it is through the Callbacks it was constructed
// with, never by reaching into the Connection directly.
package peer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"

	"github.com/rose-party/partymode/crypto"
	"github.com/rose-party/partymode/protocol"
	"github.com/rose-party/partymode/token"
	"github.com/rose-party/partymode/transport"
)

// Debug gates the debug-level log lines: discarded malformed messages and
// the verbose spew dump of their plaintext. Off by default; a host application flips it on when diagnosing a
// specific peer's framing.
var Debug = false

func debugf(format string, args ...interface{}) {
	if Debug {
		log.Printf(format, args...)
	}
}

// ConnectionState is one node in the peer connection state machine.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Handshaking
	Connected
	Dead
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

const (
	handshakeTotalTimeout = 10 * time.Second
	handshakeResendPeriod = 1 * time.Second

	incomingQueueSize = 64
)

// Variables so the dead-detection path can be exercised in tests without
// waiting out the production timeouts.
var (
	pingInterval = 15 * time.Second
	deadTimeout  = 45 * time.Second
)

// Errors returned by Connect. A failed hole punch or handshake leaves the
// connection in Disconnected, per the "no failure of one peer affects
// another" rule; ErrAlreadyConnecting is returned without changing state.
var (
	ErrHolePunchFailed   = errors.New("peer: hole punch exhausted")
	ErrHandshakeTimeout  = errors.New("peer: handshake timed out")
	ErrAlreadyConnecting = errors.New("peer: connect already in progress")
)

// Callbacks lets a Connection notify its owner (the party manager) of
// events without either side holding a pointer into the other's internals.
type Callbacks struct {
	OnSkinUpdate  func(peerID uint64, sel protocol.SkinSelection)
	OnSkinClear   func(peerID uint64, championID uint32)
	OnLobbyInfo   func(peerID uint64, lobbySummonerIDs []uint64, gameMode *string)
	OnLobbyMatch  func(peerID uint64, matched bool, commonSummonerIDs []uint64)
	OnStateChange func(peerID uint64, state ConnectionState)
}

// LocalIdentity is this node's own identity, sent during the handshake.
type LocalIdentity struct {
	SummonerID   uint64
	SummonerName string
}

// Connection is the state machine and encrypted channel for one remote peer.
type Connection struct {
	id    uuid.UUID
	local LocalIdentity
	tok   *token.Token
	myKey []byte
	tr    *transport.Transport
	cb    Callbacks

	mu                 sync.Mutex
	state              ConnectionState
	summonerName       string
	remoteAddr         *net.UDPAddr
	cipher             *crypto.Cipher
	connectedAt        time.Time
	lastSeen           time.Time
	inLobby            bool
	lastKnownSelection *protocol.SkinSelection
	txSeq              uint16
	pendingPingSeq     *uint16

	incoming chan *protocol.Message

	bytesSent uint64
	bytesRecv uint64

	die     chan struct{}
	dieOnce sync.Once
	wg      sync.WaitGroup
}

// New constructs a Connection for the remote peer described by tok. It does
// not start connecting; call Connect to do that.
func New(local LocalIdentity, tok *token.Token, myKey []byte, tr *transport.Transport, cb Callbacks) *Connection {
	return &Connection{
		id:       uuid.New(),
		local:    local,
		tok:      tok,
		myKey:    myKey,
		tr:       tr,
		cb:       cb,
		state:    Disconnected,
		incoming: make(chan *protocol.Message, incomingQueueSize),
		die:      make(chan struct{}),
	}
}

// SummonerID returns the remote peer's identifier, taken from their token.
func (c *Connection) SummonerID() uint64 {
	return c.tok.SummonerID
}

// CorrelationID identifies this Connection instance across reconnects to
// the same SummonerID, so repeated connect/disconnect cycles are
// distinguishable in logs.
func (c *Connection) CorrelationID() uuid.UUID {
	return c.id
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SummonerName returns the remote peer's display name, once learned via
// the handshake. Empty until then.
func (c *Connection) SummonerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summonerName
}

// LastSeen returns the timestamp of the most recently decrypted packet.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// InLobby reports whether the lobby matcher last marked this peer present
// in the local player's lobby.
func (c *Connection) InLobby() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inLobby
}

// SetInLobby is called by the lobby matcher to update this peer's status.
func (c *Connection) SetInLobby(v bool) {
	c.mu.Lock()
	c.inLobby = v
	c.mu.Unlock()
}

// LastKnownSelection returns the most recent skin selection received from
// this peer, or nil if none has arrived yet.
func (c *Connection) LastKnownSelection() *protocol.SkinSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastKnownSelection
}

// BytesExchanged returns the total ciphertext bytes sent to and received
// from this peer since the connection was constructed.
func (c *Connection) BytesExchanged() (sent, recv uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesSent, c.bytesRecv
}

func (c *Connection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(c.tok.SummonerID, s)
	}
}

// Connect drives the full state machine: hole punch, shared-key
// derivation, transport handler registration, and the handshake. On
// success the keep-alive loop is started and the caller's initial
// selection is sent immediately.
func (c *Connection) Connect(ctx context.Context, initialSelection *protocol.SkinSelection) error {
	if c.State() != Disconnected {
		return ErrAlreadyConnecting
	}
	c.setState(Connecting)

	endpoint := endpointFromToken(c.tok)
	addr, err := c.tr.HolePunch(ctx, endpoint, []byte(holePunchPayload(c.local.SummonerID)))
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("%w: %v", ErrHolePunchFailed, err)
	}

	sharedKey, err := crypto.DeriveSharedKey(c.myKey, c.tok.Key[:])
	if err != nil {
		c.setState(Disconnected)
		return err
	}
	cipher, err := crypto.New(sharedKey)
	if err != nil {
		c.setState(Disconnected)
		return err
	}

	c.mu.Lock()
	c.remoteAddr = addr
	c.cipher = cipher
	c.mu.Unlock()

	c.tr.SetHandler(addr, c.onRawPacket)

	c.setState(Handshaking)

	// The message loop must not run yet: it would compete with the
	// handshake for c.incoming and could swallow the HELLO_ACK.
	if err := c.handshake(ctx); err != nil {
		c.Disconnect()
		return err
	}

	now := time.Now()
	c.mu.Lock()
	c.connectedAt = now
	c.lastSeen = now
	c.mu.Unlock()
	c.setState(Connected)

	c.wg.Add(2)
	go c.messageLoop()
	go c.keepAliveLoop()

	if initialSelection != nil {
		c.sendSkinUpdate(*initialSelection)
	}
	return nil
}

func (c *Connection) handshake(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTotalTimeout)
	ticker := time.NewTicker(handshakeResendPeriod)
	defer ticker.Stop()

	send := func() {
		seq := c.nextSeq()
		keyHex := hex.EncodeToString(c.myKey)
		msg := protocol.NewHello(seq, c.local.SummonerID, c.local.SummonerName, keyHex)
		c.sendMessage(msg)
	}
	send()

	for {
		if time.Now().After(deadline) {
			return ErrHandshakeTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.die:
			return ErrHandshakeTimeout
		case <-ticker.C:
			send()
		case msg := <-c.incoming:
			switch msg.Type {
			case protocol.TypeHello:
				name, _ := msg.Payload["summoner_name"].(string)
				c.mu.Lock()
				c.summonerName = name
				c.mu.Unlock()
				ack := protocol.NewHelloAck(c.nextSeq(), c.local.SummonerID, c.local.SummonerName)
				c.sendMessage(ack)
				return nil
			case protocol.TypeHelloAck:
				name, _ := msg.Payload["summoner_name"].(string)
				c.mu.Lock()
				c.summonerName = name
				c.mu.Unlock()
				return nil
			default:
				log.Printf("[peer] ignoring %s during handshake with %d", msg.Type, c.tok.SummonerID)
			}
		}
	}
}

func (c *Connection) keepAliveLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.die:
			return
		case <-ticker.C:
			if time.Since(c.LastSeen()) > deadTimeout {
				c.setState(Dead)
				c.Disconnect()
				return
			}
			seq := c.nextSeq()
			c.mu.Lock()
			c.pendingPingSeq = &seq
			c.mu.Unlock()
			c.sendMessage(protocol.NewPing(seq))
		}
	}
}

func (c *Connection) messageLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.die:
			return
		case msg := <-c.incoming:
			c.handleMessage(msg)
		}
	}
}

func (c *Connection) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePing:
		c.sendMessage(protocol.NewPong(msg.Sequence))
	case protocol.TypePong:
		c.mu.Lock()
		if c.pendingPingSeq != nil && *c.pendingPingSeq == msg.Sequence {
			c.pendingPingSeq = nil
		}
		c.mu.Unlock()
	case protocol.TypeSkinUpdate, protocol.TypeSkinSync:
		sel, ok := selectionFromPayload(msg.Payload)
		if !ok {
			log.Printf("[peer] malformed skin update from %d", c.tok.SummonerID)
			return
		}
		c.mu.Lock()
		c.lastKnownSelection = &sel
		c.mu.Unlock()
		if c.cb.OnSkinUpdate != nil {
			c.cb.OnSkinUpdate(c.tok.SummonerID, sel)
		}
	case protocol.TypeSkinClear:
		c.mu.Lock()
		c.lastKnownSelection = nil
		c.mu.Unlock()
		championID, _ := toUint32(msg.Payload["champion_id"])
		if c.cb.OnSkinClear != nil {
			c.cb.OnSkinClear(c.tok.SummonerID, championID)
		}
	case protocol.TypeLobbyInfo:
		ids := toUint64Slice(msg.Payload["lobby_summoner_ids"])
		var mode *string
		if v, ok := msg.Payload["game_mode"].(string); ok {
			mode = &v
		}
		if c.cb.OnLobbyInfo != nil {
			c.cb.OnLobbyInfo(c.tok.SummonerID, ids, mode)
		}
	case protocol.TypeLobbyMatch:
		matched, _ := msg.Payload["matched"].(bool)
		common := toUint64Slice(msg.Payload["common_summoner_ids"])
		c.SetInLobby(matched)
		if c.cb.OnLobbyMatch != nil {
			c.cb.OnLobbyMatch(c.tok.SummonerID, matched, common)
		}
	case protocol.TypeHello:
		// The remote lost our HELLO_ACK and is resending; re-acknowledge.
		c.sendMessage(protocol.NewHelloAck(c.nextSeq(), c.local.SummonerID, c.local.SummonerName))
	case protocol.TypeHelloAck:
		// Duplicate ack from a resent HELLO; liveness was already recorded.
	case protocol.TypeReady:
		// No state beyond liveness; the manager may surface this to UI.
	case protocol.TypeError:
		code, _ := msg.Payload["code"].(string)
		message, _ := msg.Payload["message"].(string)
		log.Printf("[peer] peer %d reported error %s: %s", c.tok.SummonerID, code, message)
	default:
		log.Printf("[peer] discarding unknown message type %q from %d", msg.Type, c.tok.SummonerID)
	}
}

// onRawPacket is the transport handler registered for this peer's chosen
// address. It decrypts and parses before handing the message to whichever
// goroutine is currently draining c.incoming (handshake or steady state).
func (c *Connection) onRawPacket(data []byte, from *net.UDPAddr) {
	c.mu.Lock()
	cipher := c.cipher
	c.mu.Unlock()
	if cipher == nil {
		return
	}

	plaintext, err := cipher.Decrypt(data)
	if err != nil {
		log.Printf("[peer %s] discarding undecryptable packet from %d: %v", c.id, c.tok.SummonerID, err)
		return
	}

	msg, err := protocol.Deserialize(plaintext)
	if err != nil {
		debugf("[peer %s] discarding malformed message from %d: %v", c.id, c.tok.SummonerID, err)
		debugf("[peer %s] malformed payload: %s", c.id, spew.Sdump(plaintext))
		return
	}

	c.mu.Lock()
	c.lastSeen = time.Now()
	c.bytesRecv += uint64(len(data))
	c.mu.Unlock()

	select {
	case c.incoming <- msg:
	default:
		log.Printf("[peer] incoming queue full for %d, dropping message", c.tok.SummonerID)
	}
}

// SendSkinUpdate encrypts and sends a SKIN_UPDATE for the given selection.
func (c *Connection) SendSkinUpdate(sel protocol.SkinSelection) {
	c.sendSkinUpdate(sel)
}

func (c *Connection) sendSkinUpdate(sel protocol.SkinSelection) {
	c.sendMessage(protocol.NewSkinUpdate(c.nextSeq(), sel))
}

// SendLobbyInfo encrypts and sends a LOBBY_INFO broadcast.
func (c *Connection) SendLobbyInfo(summonerID uint64, lobbyIDs []uint64, gameMode *string) {
	c.sendMessage(protocol.NewLobbyInfo(c.nextSeq(), summonerID, lobbyIDs, gameMode))
}

// SendSkinClear encrypts and sends a SKIN_CLEAR for the given champion.
func (c *Connection) SendSkinClear(summonerID uint64, championID uint32) {
	c.sendMessage(protocol.NewSkinClear(c.nextSeq(), summonerID, championID))
}

// SendLobbyMatch encrypts and sends a LOBBY_MATCH.
func (c *Connection) SendLobbyMatch(matched bool, common []uint64) {
	c.sendMessage(protocol.NewLobbyMatch(c.nextSeq(), matched, common))
}

func (c *Connection) sendMessage(msg *protocol.Message) {
	msg.Timestamp = float64(time.Now().UnixNano()) / 1e9

	c.mu.Lock()
	cipher := c.cipher
	addr := c.remoteAddr
	c.mu.Unlock()
	if cipher == nil || addr == nil {
		return
	}

	plaintext, err := protocol.Serialize(msg)
	if err != nil {
		log.Printf("[peer] failed to serialize %s for %d: %v", msg.Type, c.tok.SummonerID, err)
		return
	}

	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		log.Printf("[peer] failed to encrypt %s for %d: %v", msg.Type, c.tok.SummonerID, err)
		return
	}

	if err := c.tr.Send(ciphertext, addr); err != nil {
		log.Printf("[peer] send failed to %d: %v", c.tok.SummonerID, err)
		return
	}
	c.mu.Lock()
	c.bytesSent += uint64(len(ciphertext))
	c.mu.Unlock()
}

func (c *Connection) nextSeq() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.txSeq
	c.txSeq = protocol.NextSequence(c.txSeq)
	return seq
}

// Disconnect cancels the keep-alive and message loops, removes the
// transport handler, and transitions to Disconnected. Idempotent.
func (c *Connection) Disconnect() {
	c.dieOnce.Do(func() {
		close(c.die)
		c.mu.Lock()
		addr := c.remoteAddr
		c.mu.Unlock()
		if addr != nil {
			c.tr.RemoveHandler(addr)
		}
	})
	if c.State() != Dead {
		c.setState(Disconnected)
	}
}

func holePunchPayload(summonerID uint64) string {
	return transport.PunchPrefix + "-" + fmt.Sprint(summonerID)
}

func selectionFromPayload(payload map[string]interface{}) (protocol.SkinSelection, bool) {
	summonerID, ok1 := toUint64(payload["summoner_id"])
	championID, ok2 := toUint32(payload["champion_id"])
	skinID, ok3 := toUint32(payload["skin_id"])
	if !ok1 || !ok2 || !ok3 {
		return protocol.SkinSelection{}, false
	}

	name, _ := payload["summoner_name"].(string)
	sel := protocol.SkinSelection{
		SummonerID:   summonerID,
		SummonerName: name,
		ChampionID:   championID,
		SkinID:       skinID,
	}
	if v, ok := toUint32(payload["chroma_id"]); ok {
		sel.ChromaID = &v
	}
	if v, ok := payload["custom_mod_path"].(string); ok {
		sel.CustomModPath = &v
	}
	return sel, true
}
