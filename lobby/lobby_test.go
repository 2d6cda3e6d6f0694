package lobby

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProvider struct {
	lobbyIDs map[uint64]struct{}
	teamIDs  map[uint64]struct{}
	teamMap  map[uint64]uint32
	mode     *string
}

func (f *fakeProvider) MySummonerID() uint64                    { return 1 }
func (f *fakeProvider) MySummonerName() string                  { return "Alice" }
func (f *fakeProvider) CurrentLobbyIDs() map[uint64]struct{}    { return f.lobbyIDs }
func (f *fakeProvider) ChampSelectTeamIDs() map[uint64]struct{} { return f.teamIDs }
func (f *fakeProvider) TeamChampionMap() map[uint64]uint32      { return f.teamMap }
func (f *fakeProvider) GameMode() *string                       { return f.mode }

func setOf(ids ...uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{})
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestCurrentSummonerIDsPrefersLobby(t *testing.T) {
	m := New(&fakeProvider{lobbyIDs: setOf(1, 2), teamIDs: setOf(3, 4)})
	ids := m.CurrentSummonerIDs()
	assert.Len(t, ids, 2)
	_, ok := ids[1]
	assert.True(t, ok)
}

func TestCurrentSummonerIDsFallsBackToTeam(t *testing.T) {
	m := New(&fakeProvider{teamIDs: setOf(3, 4)})
	ids := m.CurrentSummonerIDs()
	_, ok := ids[3]
	assert.True(t, ok)
}

func TestCurrentSummonerIDsUnionWhenBothEmpty(t *testing.T) {
	m := New(&fakeProvider{})
	ids := m.CurrentSummonerIDs()
	assert.Len(t, ids, 0)
}

func TestIsInSameLobby(t *testing.T) {
	m := New(&fakeProvider{lobbyIDs: setOf(1, 2)})
	assert.True(t, m.IsInSameLobby(2))
	assert.False(t, m.IsInSameLobby(99))
}

func TestCommonSummonerIDs(t *testing.T) {
	m := New(&fakeProvider{lobbyIDs: setOf(1, 2, 3)})
	common := m.CommonSummonerIDs([]uint64{2, 3, 4})
	assert.ElementsMatch(t, []uint64{2, 3}, common)
}

func TestTeamChampionMapPassthrough(t *testing.T) {
	m := New(&fakeProvider{teamMap: map[uint64]uint32{42: 103}})
	assert.Equal(t, uint32(103), m.TeamChampionMap()[42])
}
