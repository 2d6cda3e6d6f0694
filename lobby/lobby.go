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

// Package lobby reconciles a node's view of its game lobby (summoner IDs,
// champion-select team, game mode) against the set of connected peers. It
// is a pure read layer over whatever LobbyProvider the host application
// wires in — it keeps no background state of its own.
package lobby

// Provider is the interface the host application implements to expose the
// local game client's lobby state. A nil return from any set-valued method
// is treated the same as an empty set: the provider being offline (the
// game client not running) must never fail a lookup, only report nothing.
type Provider interface {
	MySummonerID() uint64
	MySummonerName() string
	CurrentLobbyIDs() map[uint64]struct{}
	ChampSelectTeamIDs() map[uint64]struct{}
	TeamChampionMap() map[uint64]uint32
	GameMode() *string
}

// Matcher wraps a Provider with the read-only queries the rest of party
// mode needs: the current lobby roster and the champion-select team map.
type Matcher struct {
	provider Provider
}

// New wraps provider in a Matcher.
func New(provider Provider) *Matcher {
	return &Matcher{provider: provider}
}

// CurrentSummonerIDs returns the lobby roster if the provider has one,
// else the champion-select team, else the union of both sets.
func (m *Matcher) CurrentSummonerIDs() map[uint64]struct{} {
	lobby := m.provider.CurrentLobbyIDs()
	if len(lobby) > 0 {
		return lobby
	}

	team := m.provider.ChampSelectTeamIDs()
	if len(team) > 0 {
		return team
	}

	union := make(map[uint64]struct{})
	for id := range lobby {
		union[id] = struct{}{}
	}
	for id := range team {
		union[id] = struct{}{}
	}
	return union
}

// TeamChampionMap returns the summoner_id -> champion_id map visible
// during champion select, empty outside of that phase.
func (m *Matcher) TeamChampionMap() map[uint64]uint32 {
	return m.provider.TeamChampionMap()
}

// GameMode returns the current lobby's game mode, if known.
func (m *Matcher) GameMode() *string {
	return m.provider.GameMode()
}

// IsInSameLobby reports whether peerID is present in the current lobby
// roster as seen by the provider.
func (m *Matcher) IsInSameLobby(peerID uint64) bool {
	_, ok := m.CurrentSummonerIDs()[peerID]
	return ok
}

// CommonSummonerIDs intersects the local roster with a peer-reported one,
// used to answer a remote LOBBY_INFO with a LOBBY_MATCH.
func (m *Matcher) CommonSummonerIDs(peerReported []uint64) []uint64 {
	local := m.CurrentSummonerIDs()
	common := make([]uint64, 0, len(peerReported))
	for _, id := range peerReported {
		if _, ok := local[id]; ok {
			common = append(common, id)
		}
	}
	return common
}
