package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	assert.Nil(t, err)

	c, err := New(key)
	assert.Nil(t, err)

	plaintext := []byte("ready check: everyone on blue side pick your skins")
	ciphertext, err := c.Encrypt(plaintext)
	assert.Nil(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	recovered, err := c.Decrypt(ciphertext)
	assert.Nil(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestEncryptProducesDistinctNoncesEachCall(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := New(key)

	plaintext := []byte("same message twice")
	first, err := c.Encrypt(plaintext)
	assert.Nil(t, err)
	second, err := c.Encrypt(plaintext)
	assert.Nil(t, err)

	assert.NotEqual(t, first, second, "nonce reuse would make ciphertexts identical")
}

func TestDecryptRejectsShortInput(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := New(key)

	_, err := c.Decrypt([]byte("too short"))
	assert.Equal(t, ErrShort, err)
}

func TestDecryptRejectsTamperedChecksum(t *testing.T) {
	key, _ := GenerateKey()
	c, _ := New(key)

	ciphertext, err := c.Encrypt([]byte("untampered payload"))
	assert.Nil(t, err)

	tampered := append([]byte{}, ciphertext...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = c.Decrypt(tampered)
	assert.Equal(t, ErrTamper, err)
}

func TestDecryptWithWrongKeyFailsChecksum(t *testing.T) {
	keyA, _ := GenerateKey()
	keyB, _ := GenerateKey()

	cA, _ := New(keyA)
	cB, _ := New(keyB)

	ciphertext, err := cA.Encrypt([]byte("only keyA should read this"))
	assert.Nil(t, err)

	_, err = cB.Decrypt(ciphertext)
	assert.Equal(t, ErrTamper, err)
}

func TestNewRejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.Equal(t, ErrKeySize, err)
}

func TestDeriveSharedKeyIsCommutative(t *testing.T) {
	a, _ := GenerateKey()
	b, _ := GenerateKey()

	ab, err := DeriveSharedKey(a, b)
	assert.Nil(t, err)
	ba, err := DeriveSharedKey(b, a)
	assert.Nil(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, KeySize)
}

func TestDeriveSharedKeyRejectsBadSizes(t *testing.T) {
	a, _ := GenerateKey()
	_, err := DeriveSharedKey(a, []byte("short"))
	assert.Equal(t, ErrKeySize, err)
}

func TestDeriveSharedKeyDoesNotDegenerateWhenHalvesMatch(t *testing.T) {
	a, _ := GenerateKey()

	shared, err := DeriveSharedKey(a, a)
	assert.Nil(t, err)

	allZero := true
	for _, b := range shared {
		if b != 0 {
			allZero = false
			break
		}
	}
	assert.False(t, allZero, "identical halves must not derive an all-zero key")
}
