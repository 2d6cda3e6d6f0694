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

// Package skins aggregates the local player's cosmetic selection with the
// most recent selection reported by every connected peer, filtering out
// anything that contradicts the current champion-select team map.
package skins

import (
	"log"
	"sync"

	"github.com/rose-party/partymode/protocol"
)

// LocalProvider exposes the host game client's current selection. Any
// method may return nil to mean "not currently picking."
type LocalProvider interface {
	CurrentChampionID() *uint32
	CurrentSkinID() *uint32
	CurrentChromaID() *uint32
	CurrentCustomModPath(skinID uint32) *string
}

// PartySkinData is one entry in the aggregated party skin list, handed to
// the injector.
type PartySkinData struct {
	SummonerID    uint64
	SummonerName  string
	ChampionID    uint32
	SkinID        uint32
	ChromaID      *uint32
	CustomModPath *string
	IsLocal       bool
}

// ConnectedPeer is the minimal view of a peer connection the collector
// needs: its identity and its most recently received selection.
type ConnectedPeer interface {
	SummonerID() uint64
	SummonerName() string
	LastKnownSelection() *protocol.SkinSelection
}

// Collector caches the latest selection reported by each peer and combines
// it with the local selection on demand.
type Collector struct {
	local LocalProvider

	mu    sync.Mutex
	cache map[uint64]protocol.SkinSelection
}

// New constructs a Collector backed by local for the host's own selection.
func New(local LocalProvider) *Collector {
	return &Collector{
		local: local,
		cache: make(map[uint64]protocol.SkinSelection),
	}
}

// UpdateFromPeer caches sel as the latest known selection for its summoner.
func (c *Collector) UpdateFromPeer(sel protocol.SkinSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[sel.SummonerID] = sel
}

// ClearPeer drops any cached selection for summonerID, used on SKIN_CLEAR.
func (c *Collector) ClearPeer(summonerID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, summonerID)
}

func (c *Collector) cached(summonerID uint64) (protocol.SkinSelection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sel, ok := c.cache[summonerID]
	return sel, ok
}

// GetMySelection builds a SkinSelection from the LocalProvider, returning
// nil if no champion or no skin is currently picked.
func (c *Collector) GetMySelection(summonerID uint64, summonerName string) *protocol.SkinSelection {
	champ := c.local.CurrentChampionID()
	skin := c.local.CurrentSkinID()
	if champ == nil || skin == nil {
		return nil
	}

	sel := &protocol.SkinSelection{
		SummonerID:   summonerID,
		SummonerName: summonerName,
		ChampionID:   *champ,
		SkinID:       *skin,
		ChromaID:     c.local.CurrentChromaID(),
	}
	if modPath := c.local.CurrentCustomModPath(*skin); modPath != nil {
		sel.CustomModPath = modPath
	}
	return sel
}

// CollectAllSkins returns the local selection (tagged IsLocal) plus each
// connected peer's most recent selection, dropping any peer entry whose
// champion contradicts teamMap.
func (c *Collector) CollectAllSkins(summonerID uint64, summonerName string, peers []ConnectedPeer, teamMap map[uint64]uint32) []PartySkinData {
	var out []PartySkinData

	if mine := c.GetMySelection(summonerID, summonerName); mine != nil {
		out = append(out, PartySkinData{
			SummonerID:    mine.SummonerID,
			SummonerName:  mine.SummonerName,
			ChampionID:    mine.ChampionID,
			SkinID:        mine.SkinID,
			ChromaID:      mine.ChromaID,
			CustomModPath: mine.CustomModPath,
			IsLocal:       true,
		})
	}

	for _, peer := range peers {
		sel := peer.LastKnownSelection()
		if sel == nil {
			if cached, ok := c.cached(peer.SummonerID()); ok {
				sel = &cached
			}
		}
		if sel == nil {
			continue
		}

		if expectedChamp, known := teamMap[peer.SummonerID()]; known && expectedChamp != sel.ChampionID {
			log.Printf("[skins] dropping selection from %d: team map says champion %d, selection claims %d", peer.SummonerID(), expectedChamp, sel.ChampionID)
			continue
		}

		out = append(out, PartySkinData{
			SummonerID:    sel.SummonerID,
			SummonerName:  sel.SummonerName,
			ChampionID:    sel.ChampionID,
			SkinID:        sel.SkinID,
			ChromaID:      sel.ChromaID,
			CustomModPath: sel.CustomModPath,
			IsLocal:       false,
		})
	}

	return out
}
