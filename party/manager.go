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

// Package party orchestrates the rest of party mode: it owns the UDP
// transport, the SummonerID -> peer.Connection map, and the two background
// loops (lobby-check, skin-broadcast) that keep every peer's view of the
// lobby and cosmetic selections current.
package party

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rose-party/partymode/crypto"
	"github.com/rose-party/partymode/internal/metrics"
	"github.com/rose-party/partymode/internal/sched"
	"github.com/rose-party/partymode/lobby"
	"github.com/rose-party/partymode/peer"
	"github.com/rose-party/partymode/protocol"
	"github.com/rose-party/partymode/skins"
	"github.com/rose-party/partymode/stun"
	"github.com/rose-party/partymode/token"
	"github.com/rose-party/partymode/transport"
)

const (
	lobbyCheckPeriod    = 2 * time.Second
	skinBroadcastPeriod = 1 * time.Second
)

// LobbyProvider is the host application's view of its own lobby, champion
// select, and game mode state. Methods report "nothing known" via an empty
// or nil set, or for GameMode the bool return, rather than failing -- the
// game client being offline is not an error.
type LobbyProvider interface {
	MySummonerID() uint64
	MySummonerName() string
	CurrentLobbyIDs() map[uint64]struct{}
	ChampSelectTeamIDs() map[uint64]struct{}
	TeamChampionMap() map[uint64]uint32
	GameMode() (string, bool)
}

// LocalSelectionProvider is the host application's view of the local
// player's current cosmetic selection.
type LocalSelectionProvider interface {
	CurrentChampionID() (uint32, bool)
	CurrentSkinID() (uint32, bool)
	CurrentChromaID() (uint32, bool)
	CurrentCustomModPath(skinID uint32) (string, bool)
}

// Config configures a Manager. Construct with New, which calls
// VerifyConfig for you.
type Config struct {
	SummonerID   uint64
	SummonerName string

	// BindPort is the local UDP port to bind. 0 lets the OS choose.
	BindPort int
	// StunServers overrides stun.DefaultServers when non-empty.
	StunServers []string

	LobbyProvider     LobbyProvider
	SelectionProvider LocalSelectionProvider
}

// VerifyConfig checks the integrity of cfg, returning the first violated
// invariant as a sentinel error.
func VerifyConfig(cfg *Config) error {
	if cfg.SummonerID == 0 {
		return ErrConfigNoSummonerID
	}
	if cfg.LobbyProvider == nil {
		return ErrConfigNoLobbyProvider
	}
	if cfg.SelectionProvider == nil {
		return ErrConfigNoSelectionProvider
	}
	if cfg.BindPort < 0 || cfg.BindPort > 65535 {
		return ErrConfigBadBindPort
	}
	return nil
}

// Manager is the single entry point a host application embeds: bind,
// discover, publish a Token, accept peer Tokens, and read back the
// aggregated party skin list.
type Manager struct {
	cfg     Config
	matcher *lobby.Matcher
	collect *skins.Collector

	registry *peerRegistry

	mu            sync.Mutex
	enabled       bool
	tr            *transport.Transport
	myKey         []byte
	tok           *token.Token
	lastBroadcast *protocol.SkinSelection
	die           chan struct{}

	lobbyLoop *sched.Task
	skinLoop  *sched.Task
}

// New constructs a Manager from cfg, which is validated via VerifyConfig.
func New(cfg Config) (*Manager, error) {
	if err := VerifyConfig(&cfg); err != nil {
		return nil, err
	}
	la := &lobbyProviderAdapter{cfg.LobbyProvider}
	sa := &selectionProviderAdapter{cfg.SelectionProvider}
	return &Manager{
		cfg:      cfg,
		matcher:  lobby.New(la),
		collect:  skins.New(sa),
		registry: newPeerRegistry(),
	}, nil
}

// Enable binds the UDP socket, discovers this node's public address via
// STUN on that same socket, generates a fresh shared-key material, and
// assembles a publishable Token. Idempotent: a second call while already
// enabled returns the existing Token without rebinding.
func (m *Manager) Enable(ctx context.Context) (*token.Token, error) {
	m.mu.Lock()
	if m.enabled {
		tok := m.tok
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tr := transport.New()
	internalPort, err := tr.Bind(m.cfg.BindPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	servers := m.cfg.StunServers
	if len(servers) == 0 {
		servers = stun.DefaultServers
	}
	result, err := stun.Discover(tr.Conn(), servers)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("%w: %v", ErrStunFailed, err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		tr.Close()
		return nil, err
	}

	tok, err := token.New(m.cfg.SummonerID, result.ExternalIP, localOutboundIP(), uint16(result.ExternalPort), uint16(internalPort), key)
	if err != nil {
		tr.Close()
		return nil, err
	}

	tr.Start()

	m.mu.Lock()
	m.tr = tr
	m.myKey = key
	m.tok = tok
	m.enabled = true
	m.die = make(chan struct{})
	m.mu.Unlock()

	m.lobbyLoop = sched.Every(lobbyCheckPeriod, m.lobbyCheckTick)
	m.skinLoop = sched.Every(skinBroadcastPeriod, m.skinBroadcastTick)

	metrics.ConnectedPeers.Set(0)
	return tok, nil
}

// Disable tears down every peer connection, stops both background loops,
// and closes the UDP socket. Idempotent.
func (m *Manager) Disable() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	die := m.die
	tr := m.tr
	m.mu.Unlock()

	close(die)
	if m.lobbyLoop != nil {
		m.lobbyLoop.Stop()
	}
	if m.skinLoop != nil {
		m.skinLoop.Stop()
	}

	for _, e := range m.registry.snapshot() {
		e.conn.Disconnect()
		m.registry.delete(e.conn.SummonerID())
	}

	if tr != nil {
		tr.Close()
	}
	metrics.ConnectedPeers.Set(0)
}

// AddPeer decodes tokenStr and drives a new Connection to it. Rejects a
// token that names this node's own SummonerID. If a prior connection to
// the same SummonerID exists and is not Connected, it is disconnected and
// replaced; if it is already Connected, AddPeer is a no-op that reports
// success.
func (m *Manager) AddPeer(ctx context.Context, tokenStr string) (bool, error) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return false, ErrNotEnabled
	}
	myKey, tr := m.myKey, m.tr
	local := peer.LocalIdentity{SummonerID: m.cfg.SummonerID, SummonerName: m.cfg.SummonerName}
	m.mu.Unlock()

	tok, err := token.Decode(tokenStr)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTokenDecodeFailed, err)
	}
	if tok.SummonerID == m.cfg.SummonerID {
		return false, ErrSelfPeer
	}

	if existing, ok := m.registry.get(tok.SummonerID); ok {
		if existing.conn.State() == peer.Connected {
			return true, nil
		}
		existing.conn.Disconnect()
		m.registry.delete(tok.SummonerID)
	}

	cb := peer.Callbacks{
		OnSkinUpdate: func(peerID uint64, sel protocol.SkinSelection) {
			m.collect.UpdateFromPeer(sel)
			metrics.MessagesTotal.WithLabelValues("skin_update", "recv").Inc()
		},
		OnSkinClear: func(peerID uint64, championID uint32) {
			m.collect.ClearPeer(peerID)
			metrics.MessagesTotal.WithLabelValues("skin_clear", "recv").Inc()
		},
		OnLobbyInfo: func(peerID uint64, ids []uint64, mode *string) {
			metrics.MessagesTotal.WithLabelValues("lobby_info", "recv").Inc()
			common := m.matcher.CommonSummonerIDs(ids)
			e, ok := m.registry.get(peerID)
			if !ok {
				return
			}
			if len(common) > 0 {
				e.conn.SetInLobby(true)
			}
			e.conn.SendLobbyMatch(len(common) > 0, common)
			metrics.MessagesTotal.WithLabelValues("lobby_match", "send").Inc()
		},
		OnLobbyMatch: func(peerID uint64, matched bool, common []uint64) {
			metrics.MessagesTotal.WithLabelValues("lobby_match", "recv").Inc()
		},
		OnStateChange: m.onPeerStateChange,
	}

	conn := peer.New(local, tok, myKey, tr, cb)
	m.registry.put(tok.SummonerID, newPeerEntry(conn))

	initial := m.collect.GetMySelection(m.cfg.SummonerID, m.cfg.SummonerName)
	if err := conn.Connect(ctx, initial); err != nil {
		m.registry.delete(tok.SummonerID)
		return false, err
	}
	return true, nil
}

// RemovePeer disconnects and forgets the peer identified by summonerID. A
// no-op if no such peer exists.
func (m *Manager) RemovePeer(summonerID uint64) {
	e, ok := m.registry.get(summonerID)
	if !ok {
		return
	}
	e.conn.Disconnect()
	m.registry.delete(summonerID)
	m.refreshConnectedGauge()
}

// BroadcastSkinUpdate sends the local player's current selection to every
// Connected peer, swallowing per-peer send failures (peer.Connection logs
// its own).
func (m *Manager) BroadcastSkinUpdate() {
	sel := m.collect.GetMySelection(m.cfg.SummonerID, m.cfg.SummonerName)
	if sel == nil {
		return
	}
	for _, e := range m.registry.snapshot() {
		if e.conn.State() != peer.Connected {
			continue
		}
		e.conn.SendSkinUpdate(*sel)
		metrics.MessagesTotal.WithLabelValues("skin_update", "send").Inc()
	}

	m.mu.Lock()
	m.lastBroadcast = sel
	m.mu.Unlock()
}

// GetPartySkins is the synchronous injector hook: the local selection plus
// every connected peer's most recent selection, filtered through the
// current champion-select team map.
func (m *Manager) GetPartySkins() []skins.PartySkinData {
	entries := m.registry.snapshot()
	peers := make([]skins.ConnectedPeer, 0, len(entries))
	for _, e := range entries {
		if e.conn.State() == peer.Connected {
			peers = append(peers, e.conn)
		}
	}
	return m.collect.CollectAllSkins(m.cfg.SummonerID, m.cfg.SummonerName, peers, m.matcher.TeamChampionMap())
}

// Peers returns every peer connection currently tracked, regardless of
// connection state, for the status CLI to enumerate.
func (m *Manager) Peers() []*peer.Connection {
	entries := m.registry.snapshot()
	out := make([]*peer.Connection, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.conn)
	}
	return out
}

func (m *Manager) onPeerStateChange(peerID uint64, state peer.ConnectionState) {
	if state == peer.Dead || state == peer.Disconnected {
		m.registry.delete(peerID)
	}
	m.refreshConnectedGauge()
}

func (m *Manager) refreshConnectedGauge() {
	count := 0
	for _, e := range m.registry.snapshot() {
		if e.conn.State() == peer.Connected {
			count++
		}
	}
	metrics.ConnectedPeers.Set(float64(count))
}

func (m *Manager) lobbyCheckTick() {
	m.mu.Lock()
	die := m.die
	m.mu.Unlock()
	select {
	case <-die:
		return
	default:
	}

	ids := m.matcher.CurrentSummonerIDs()
	idList := make([]uint64, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	mode := m.matcher.GameMode()

	for _, e := range m.registry.snapshot() {
		e.conn.SetInLobby(m.matcher.IsInSameLobby(e.conn.SummonerID()))
		if e.conn.State() == peer.Connected {
			e.conn.SendLobbyInfo(m.cfg.SummonerID, idList, mode)
			metrics.MessagesTotal.WithLabelValues("lobby_info", "send").Inc()
		}
	}
}

func (m *Manager) skinBroadcastTick() {
	m.mu.Lock()
	die := m.die
	m.mu.Unlock()
	select {
	case <-die:
		return
	default:
	}

	sel := m.collect.GetMySelection(m.cfg.SummonerID, m.cfg.SummonerName)

	m.mu.Lock()
	last := m.lastBroadcast
	m.mu.Unlock()

	if sel == nil {
		// Selection went away (left champion select, cleared the pick):
		// tell peers to drop the stale one.
		if last != nil {
			m.broadcastSkinClear(last.ChampionID)
			m.mu.Lock()
			m.lastBroadcast = nil
			m.mu.Unlock()
		}
		return
	}

	if last == nil || last.SkinID != sel.SkinID || !chromaEqual(last.ChromaID, sel.ChromaID) {
		m.BroadcastSkinUpdate()
	}
}

func (m *Manager) broadcastSkinClear(championID uint32) {
	for _, e := range m.registry.snapshot() {
		if e.conn.State() != peer.Connected {
			continue
		}
		e.conn.SendSkinClear(m.cfg.SummonerID, championID)
		metrics.MessagesTotal.WithLabelValues("skin_clear", "send").Inc()
	}
}

func chromaEqual(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// localOutboundIP best-effort discovers the machine's local network
// interface address by opening a UDP socket toward a public address
// without actually sending anything. Used only for the Token's internal
// (LAN) candidate -- STUN supplies the authoritative external address.
func localOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}

type lobbyProviderAdapter struct {
	p LobbyProvider
}

func (a *lobbyProviderAdapter) MySummonerID() uint64                 { return a.p.MySummonerID() }
func (a *lobbyProviderAdapter) MySummonerName() string               { return a.p.MySummonerName() }
func (a *lobbyProviderAdapter) CurrentLobbyIDs() map[uint64]struct{} { return a.p.CurrentLobbyIDs() }
func (a *lobbyProviderAdapter) ChampSelectTeamIDs() map[uint64]struct{} {
	return a.p.ChampSelectTeamIDs()
}
func (a *lobbyProviderAdapter) TeamChampionMap() map[uint64]uint32 { return a.p.TeamChampionMap() }
func (a *lobbyProviderAdapter) GameMode() *string {
	v, ok := a.p.GameMode()
	if !ok {
		return nil
	}
	return &v
}

type selectionProviderAdapter struct {
	p LocalSelectionProvider
}

func (a *selectionProviderAdapter) CurrentChampionID() *uint32 {
	v, ok := a.p.CurrentChampionID()
	if !ok {
		return nil
	}
	return &v
}

func (a *selectionProviderAdapter) CurrentSkinID() *uint32 {
	v, ok := a.p.CurrentSkinID()
	if !ok {
		return nil
	}
	return &v
}

func (a *selectionProviderAdapter) CurrentChromaID() *uint32 {
	v, ok := a.p.CurrentChromaID()
	if !ok {
		return nil
	}
	return &v
}

func (a *selectionProviderAdapter) CurrentCustomModPath(skinID uint32) *string {
	v, ok := a.p.CurrentCustomModPath(skinID)
	if !ok {
		return nil
	}
	return &v
}
