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

package main

import (
	"encoding/json"
	"os"
	"strconv"
)

// lobbyFile is the on-disk shape of the mock LobbyProvider: a JSON file a
// test harness (or a human) edits by hand to simulate the game client
// entering champion select or a lobby.
type lobbyFile struct {
	SummonerID     uint64            `json:"summoner_id"`
	SummonerName   string            `json:"summoner_name"`
	LobbyIDs       []uint64          `json:"lobby_ids"`
	ChampSelectIDs []uint64          `json:"champ_select_ids"`
	TeamChampions  map[string]uint32 `json:"team_champions"` // summoner id (decimal string) -> champion id
	GameMode       string            `json:"game_mode"`
}

// fileLobbyProvider implements party.LobbyProvider by re-reading path on
// every call. No caching: the file is small and the lobby-check loop only
// polls every 2s, so a read-then-parse per call is cheap enough and keeps
// hand-edited changes visible immediately.
type fileLobbyProvider struct {
	path string
}

func newFileLobbyProvider(path string) *fileLobbyProvider {
	return &fileLobbyProvider{path: path}
}

func (p *fileLobbyProvider) load() lobbyFile {
	var f lobbyFile
	data, err := os.ReadFile(p.path)
	if err != nil {
		return f
	}
	_ = json.Unmarshal(data, &f)
	return f
}

func (p *fileLobbyProvider) MySummonerID() uint64   { return p.load().SummonerID }
func (p *fileLobbyProvider) MySummonerName() string { return p.load().SummonerName }

func (p *fileLobbyProvider) CurrentLobbyIDs() map[uint64]struct{} {
	return toSet(p.load().LobbyIDs)
}

func (p *fileLobbyProvider) ChampSelectTeamIDs() map[uint64]struct{} {
	return toSet(p.load().ChampSelectIDs)
}

func (p *fileLobbyProvider) TeamChampionMap() map[uint64]uint32 {
	f := p.load()
	out := make(map[uint64]uint32, len(f.TeamChampions))
	for k, v := range f.TeamChampions {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

func (p *fileLobbyProvider) GameMode() (string, bool) {
	mode := p.load().GameMode
	return mode, mode != ""
}

func toSet(ids []uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// selectionFile is the on-disk shape of the mock LocalSelectionProvider.
// Zero values mean "nothing selected" except where ok flags disambiguate
// a legitimate zero (champion/skin id 0 is not a real game id, so its
// presence alone is used there).
type selectionFile struct {
	ChampionID    uint32  `json:"champion_id"`
	SkinID        uint32  `json:"skin_id"`
	HasChroma     bool    `json:"has_chroma"`
	ChromaID      uint32  `json:"chroma_id"`
	CustomModPath *string `json:"custom_mod_path"`
}

type fileSelectionProvider struct {
	path string
}

func newFileSelectionProvider(path string) *fileSelectionProvider {
	return &fileSelectionProvider{path: path}
}

func (p *fileSelectionProvider) load() selectionFile {
	var f selectionFile
	data, err := os.ReadFile(p.path)
	if err != nil {
		return f
	}
	_ = json.Unmarshal(data, &f)
	return f
}

func (p *fileSelectionProvider) CurrentChampionID() (uint32, bool) {
	f := p.load()
	return f.ChampionID, f.ChampionID != 0
}

func (p *fileSelectionProvider) CurrentSkinID() (uint32, bool) {
	f := p.load()
	return f.SkinID, f.SkinID != 0
}

func (p *fileSelectionProvider) CurrentChromaID() (uint32, bool) {
	f := p.load()
	return f.ChromaID, f.HasChroma
}

func (p *fileSelectionProvider) CurrentCustomModPath(uint32) (string, bool) {
	f := p.load()
	if f.CustomModPath == nil {
		return "", false
	}
	return *f.CustomModPath, true
}
