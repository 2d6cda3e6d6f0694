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

package party

import (
	"sync"

	"github.com/rose-party/partymode/peer"
)

// peerEntry is the Manager's own bookkeeping for a peer.Connection. It
// exists as its own type, rather than keying the registry directly on
// *peer.Connection, so manager-side-only fields can grow here later
// without reshaping the registry's locking.
type peerEntry struct {
	conn *peer.Connection
}

func newPeerEntry(conn *peer.Connection) *peerEntry {
	return &peerEntry{conn: conn}
}

// peerRegistry is the SummonerID -> peerEntry map shared by the manager's
// public operations and its two background loops. All mutation and
// iteration goes through this type so the locking discipline lives in one
// place instead of being repeated at every call site.
type peerRegistry struct {
	mu    sync.Mutex
	peers map[uint64]*peerEntry
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{peers: make(map[uint64]*peerEntry)}
}

func (r *peerRegistry) get(summonerID uint64) (*peerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[summonerID]
	return e, ok
}

func (r *peerRegistry) put(summonerID uint64, e *peerEntry) {
	r.mu.Lock()
	r.peers[summonerID] = e
	r.mu.Unlock()
}

func (r *peerRegistry) delete(summonerID uint64) {
	r.mu.Lock()
	delete(r.peers, summonerID)
	r.mu.Unlock()
}

// snapshot returns the current entries as a slice, safe to range over
// after the background loops or a disable() may mutate the map -- this is
// the "snapshot the list before awaiting" rule applied to a map protected
// by a mutex instead of a single-threaded scheduler.
func (r *peerRegistry) snapshot() []*peerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peerEntry, 0, len(r.peers))
	for _, e := range r.peers {
		out = append(out, e)
	}
	return out
}
