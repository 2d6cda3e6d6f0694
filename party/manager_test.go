package party

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rose-party/partymode/crypto"
	"github.com/rose-party/partymode/token"
)

type fakeLobbyProvider struct {
	id      uint64
	name    string
	lobby   map[uint64]struct{}
	team    map[uint64]struct{}
	champs  map[uint64]uint32
	mode    string
	hasMode bool
}

func (f *fakeLobbyProvider) MySummonerID() uint64                    { return f.id }
func (f *fakeLobbyProvider) MySummonerName() string                  { return f.name }
func (f *fakeLobbyProvider) CurrentLobbyIDs() map[uint64]struct{}    { return f.lobby }
func (f *fakeLobbyProvider) ChampSelectTeamIDs() map[uint64]struct{} { return f.team }
func (f *fakeLobbyProvider) TeamChampionMap() map[uint64]uint32      { return f.champs }
func (f *fakeLobbyProvider) GameMode() (string, bool)                { return f.mode, f.hasMode }

type fakeSelectionProvider struct {
	champ, skin, chroma uint32
	hasChamp, hasSkin   bool
}

func (f *fakeSelectionProvider) CurrentChampionID() (uint32, bool) { return f.champ, f.hasChamp }
func (f *fakeSelectionProvider) CurrentSkinID() (uint32, bool)     { return f.skin, f.hasSkin }
func (f *fakeSelectionProvider) CurrentChromaID() (uint32, bool)   { return f.chroma, false }
func (f *fakeSelectionProvider) CurrentCustomModPath(uint32) (string, bool) {
	return "", false
}

func testConfig(id uint64) Config {
	return Config{
		SummonerID:        id,
		SummonerName:      "tester",
		BindPort:          0,
		LobbyProvider:     &fakeLobbyProvider{id: id},
		SelectionProvider: &fakeSelectionProvider{},
	}
}

func TestVerifyConfigRejectsMissingFields(t *testing.T) {
	cfg := testConfig(1)
	cfg.SummonerID = 0
	assert.ErrorIs(t, VerifyConfig(&cfg), ErrConfigNoSummonerID)

	cfg = testConfig(1)
	cfg.LobbyProvider = nil
	assert.ErrorIs(t, VerifyConfig(&cfg), ErrConfigNoLobbyProvider)

	cfg = testConfig(1)
	cfg.SelectionProvider = nil
	assert.ErrorIs(t, VerifyConfig(&cfg), ErrConfigNoSelectionProvider)
}

func TestEnableSurfacesStunFailure(t *testing.T) {
	m, err := New(testConfig(1))
	require.NoError(t, err)

	// A server list pointing nowhere keeps the test deterministic without
	// a real network dependency.
	m.cfg.StunServers = []string{"127.0.0.1:1"}

	_, err = m.Enable(context.Background())
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrStunFailed)
}

func TestAddPeerRejectsSelf(t *testing.T) {
	m, err := New(testConfig(42))
	require.NoError(t, err)
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()

	tok, err := makeTestToken(t, 42)
	require.NoError(t, err)

	ok, err := m.AddPeer(context.Background(), tok)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSelfPeer)
}

func TestAddPeerRequiresEnabled(t *testing.T) {
	m, err := New(testConfig(1))
	require.NoError(t, err)

	tok, err := makeTestToken(t, 2)
	require.NoError(t, err)

	ok, err := m.AddPeer(context.Background(), tok)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestAddPeerRejectsBadToken(t *testing.T) {
	m, err := New(testConfig(1))
	require.NoError(t, err)
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()

	ok, err := m.AddPeer(context.Background(), "not-a-token")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTokenDecodeFailed)
}

func TestGetPartySkinsEmptyWithoutSelectionOrPeers(t *testing.T) {
	m, err := New(testConfig(1))
	require.NoError(t, err)
	assert.Len(t, m.GetPartySkins(), 0)
}

func TestGetPartySkinsIncludesLocalSelection(t *testing.T) {
	cfg := testConfig(1)
	cfg.SelectionProvider = &fakeSelectionProvider{champ: 103, hasChamp: true, skin: 7, hasSkin: true}
	m, err := New(cfg)
	require.NoError(t, err)

	out := m.GetPartySkins()
	assert.Len(t, out, 1)
	assert.True(t, out[0].IsLocal)
	assert.Equal(t, uint32(103), out[0].ChampionID)
}

func TestDisableWithoutEnableIsNoop(t *testing.T) {
	m, err := New(testConfig(1))
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.Disable() })
}

func TestRemovePeerOnUnknownIsNoop(t *testing.T) {
	m, err := New(testConfig(1))
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.RemovePeer(999) })
}

func TestChromaEqual(t *testing.T) {
	a := uint32(5)
	b := uint32(5)
	c := uint32(6)
	assert.True(t, chromaEqual(&a, &b))
	assert.False(t, chromaEqual(&a, &c))
	assert.True(t, chromaEqual(nil, nil))
	assert.False(t, chromaEqual(&a, nil))
}

func makeTestToken(t *testing.T, summonerID uint64) (string, error) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tok, err := token.New(summonerID, net.IPv4(1, 2, 3, 4), net.IPv4(10, 0, 0, 1), 4000, 4001, key)
	require.NoError(t, err)
	return tok.Encode()
}
