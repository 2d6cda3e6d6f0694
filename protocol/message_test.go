package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	msg := NewPing(41)
	data, err := Serialize(msg)
	assert.Nil(t, err)

	got, err := Deserialize(data)
	assert.Nil(t, err)
	assert.Equal(t, TypePing, got.Type)
	assert.Equal(t, uint16(41), got.Sequence)
}

func TestDeserializeRejectsInvalidJSON(t *testing.T) {
	_, err := Deserialize([]byte("{not json"))
	assert.Equal(t, ErrMalformed, err)
}

func TestDeserializeRejectsUnknownType(t *testing.T) {
	_, err := Deserialize([]byte(`{"type":"NOT_A_REAL_TYPE","sequence":1,"payload":{}}`))
	assert.Equal(t, ErrMalformed, err)
}

func TestNextSequenceWrapsAt65536(t *testing.T) {
	assert.Equal(t, uint16(0), NextSequence(65535))
	assert.Equal(t, uint16(1), NextSequence(0))
}

func TestPongEchoesPingSequence(t *testing.T) {
	ping := NewPing(1234)
	pong := NewPong(ping.Sequence)
	assert.Equal(t, ping.Sequence, pong.Sequence)
	assert.Equal(t, TypePong, pong.Type)
}

func TestSkinUpdatePayloadFields(t *testing.T) {
	chroma := uint32(7)
	sel := SkinSelection{
		SummonerID:   99,
		SummonerName: "Fizzlebang",
		ChampionID:   103,
		SkinID:       12,
		ChromaID:     &chroma,
	}
	msg := NewSkinUpdate(1, sel)
	assert.Equal(t, TypeSkinUpdate, msg.Type)
	assert.Equal(t, uint64(99), msg.Payload["summoner_id"])
	assert.Equal(t, uint32(103), msg.Payload["champion_id"])
	assert.Equal(t, uint32(7), msg.Payload["chroma_id"])
	assert.Nil(t, msg.Payload["custom_mod_path"])
}

func TestSkinSyncIsSkinUpdateWithDifferentType(t *testing.T) {
	sel := SkinSelection{SummonerID: 1, ChampionID: 2, SkinID: 3}
	msg := NewSkinSync(1, sel)
	assert.Equal(t, TypeSkinSync, msg.Type)
	assert.Equal(t, uint32(2), msg.Payload["champion_id"])
}

func TestLobbyMatchPayload(t *testing.T) {
	msg := NewLobbyMatch(1, true, []uint64{1, 2, 3})
	assert.Equal(t, true, msg.Payload["matched"])
	assert.Equal(t, []uint64{1, 2, 3}, msg.Payload["common_summoner_ids"])
}

func TestErrorMessageRoundTrip(t *testing.T) {
	msg := NewError(1, "bad_state", "peer was already connected")
	data, err := Serialize(msg)
	assert.Nil(t, err)

	got, err := Deserialize(data)
	assert.Nil(t, err)
	assert.Equal(t, "bad_state", got.Payload["code"])
}
