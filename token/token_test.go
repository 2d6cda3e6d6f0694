package token

import (
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/rose-party/partymode/crypto"
	"github.com/stretchr/testify/assert"
)

func testKey() []byte {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok, err := New(123456789, net.ParseIP("203.0.113.5"), net.ParseIP("192.168.1.42"), 51820, 51821, testKey())
	assert.Nil(t, err)

	encoded, err := tok.Encode()
	assert.Nil(t, err)
	assert.True(t, bytesHasPrefix(encoded, Prefix))

	decoded, err := Decode(encoded)
	assert.Nil(t, err)
	assert.Equal(t, tok.Version, decoded.Version)
	assert.Equal(t, tok.SummonerID, decoded.SummonerID)
	assert.Equal(t, tok.ExternalPort, decoded.ExternalPort)
	assert.Equal(t, tok.InternalPort, decoded.InternalPort)
	assert.Equal(t, tok.ExternalIP.To4(), decoded.ExternalIP.To4())
	assert.Equal(t, tok.InternalIP.To4(), decoded.InternalIP.To4())
	assert.Equal(t, tok.Key, decoded.Key)
}

func TestDecodeRejectsMissingPrefix(t *testing.T) {
	_, err := Decode("not-a-token")
	assert.Equal(t, ErrBadPrefix, err)
}

func TestDecodeRejectsBadBase64(t *testing.T) {
	_, err := Decode(Prefix + "!!!not-base64!!!")
	assert.Equal(t, ErrBadBase64, err)
}

func TestDecodeExpiredToken(t *testing.T) {
	tok, err := New(1, net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.1"), 1, 1, testKey())
	assert.Nil(t, err)

	tok.Timestamp = uint32(time.Now().Add(-TTL - time.Second).Unix())
	encoded, err := tok.Encode()
	assert.Nil(t, err)

	_, err = Decode(encoded)
	assert.Equal(t, ErrExpired, err)
}

func TestDecodeAcceptsPaddedBase64(t *testing.T) {
	tok, err := New(42, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), 1000, 2000, testKey())
	assert.Nil(t, err)

	encoded, err := tok.Encode()
	assert.Nil(t, err)

	unprefixed := encoded[len(Prefix):]
	padded := Prefix + reencodeWithPadding(t, unprefixed)

	decoded, err := Decode(padded)
	assert.Nil(t, err)
	assert.Equal(t, tok.SummonerID, decoded.SummonerID)
}

func reencodeWithPadding(t *testing.T, raw string) string {
	b, err := decodeBase64(raw)
	assert.Nil(t, err)
	return base64.URLEncoding.EncodeToString(b)
}
