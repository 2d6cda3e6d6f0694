package skins

import (
	"testing"

	"github.com/rose-party/partymode/protocol"
	"github.com/stretchr/testify/assert"
)

type fakeLocal struct {
	champ, skin, chroma *uint32
	modPath             *string
}

func (f *fakeLocal) CurrentChampionID() *uint32                 { return f.champ }
func (f *fakeLocal) CurrentSkinID() *uint32                     { return f.skin }
func (f *fakeLocal) CurrentChromaID() *uint32                   { return f.chroma }
func (f *fakeLocal) CurrentCustomModPath(skinID uint32) *string { return f.modPath }

func u32(v uint32) *uint32 { return &v }

type fakePeer struct {
	id   uint64
	name string
	sel  *protocol.SkinSelection
}

func (p *fakePeer) SummonerID() uint64                          { return p.id }
func (p *fakePeer) SummonerName() string                        { return p.name }
func (p *fakePeer) LastKnownSelection() *protocol.SkinSelection { return p.sel }

func TestGetMySelectionNilWithoutChampionOrSkin(t *testing.T) {
	c := New(&fakeLocal{})
	assert.Nil(t, c.GetMySelection(1, "me"))
}

func TestGetMySelectionPopulated(t *testing.T) {
	c := New(&fakeLocal{champ: u32(103), skin: u32(12)})
	sel := c.GetMySelection(1, "me")
	assert.NotNil(t, sel)
	assert.Equal(t, uint32(103), sel.ChampionID)
	assert.Equal(t, uint32(12), sel.SkinID)
}

func TestCollectAllSkinsIncludesLocalAndPeers(t *testing.T) {
	c := New(&fakeLocal{champ: u32(103), skin: u32(12)})

	peers := []ConnectedPeer{
		&fakePeer{id: 42, name: "Bob", sel: &protocol.SkinSelection{SummonerID: 42, ChampionID: 77, SkinID: 5}},
	}

	out := c.CollectAllSkins(1, "Alice", peers, nil)
	assert.Len(t, out, 2)
	assert.True(t, out[0].IsLocal)
	assert.False(t, out[1].IsLocal)
}

func TestCollectAllSkinsDropsTeamMapContradiction(t *testing.T) {
	c := New(&fakeLocal{})

	peers := []ConnectedPeer{
		&fakePeer{id: 42, name: "Bob", sel: &protocol.SkinSelection{SummonerID: 42, ChampionID: 77, SkinID: 5}},
	}
	teamMap := map[uint64]uint32{42: 103}

	out := c.CollectAllSkins(1, "Alice", peers, teamMap)
	assert.Len(t, out, 0)
}

func TestCollectAllSkinsAcceptsWhenTeamMapSilent(t *testing.T) {
	c := New(&fakeLocal{})

	peers := []ConnectedPeer{
		&fakePeer{id: 42, name: "Bob", sel: &protocol.SkinSelection{SummonerID: 42, ChampionID: 77, SkinID: 5}},
	}

	out := c.CollectAllSkins(1, "Alice", peers, map[uint64]uint32{})
	assert.Len(t, out, 1)
}

func TestCollectAllSkinsFallsBackToCache(t *testing.T) {
	c := New(&fakeLocal{})
	c.UpdateFromPeer(protocol.SkinSelection{SummonerID: 42, ChampionID: 77, SkinID: 5})

	peers := []ConnectedPeer{
		&fakePeer{id: 42, name: "Bob", sel: nil},
	}

	out := c.CollectAllSkins(1, "Alice", peers, nil)
	assert.Len(t, out, 1)
	assert.Equal(t, uint32(77), out[0].ChampionID)
}

func TestClearPeerRemovesCachedSelection(t *testing.T) {
	c := New(&fakeLocal{})
	c.UpdateFromPeer(protocol.SkinSelection{SummonerID: 42, ChampionID: 77, SkinID: 5})
	c.ClearPeer(42)

	peers := []ConnectedPeer{
		&fakePeer{id: 42, name: "Bob", sel: nil},
	}
	out := c.CollectAllSkins(1, "Alice", peers, nil)
	assert.Len(t, out, 0)
}
