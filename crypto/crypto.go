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

// Package crypto implements the Party Mode wire-format cipher.
//
// This is the single agreed format every peer in a deployment must use —
// there is no negotiation and no "with/without crypto" branch. It is
// obfuscation plus tamper detection, not an attempt at secure messaging
// against an active network attacker: the token that seeds the shared key
// is itself unauthenticated (see token.Token), so a keyed stream cipher
// plus a keyed checksum gives the protocol everything it can actually rely
// on. Deployments wanting real confidentiality should swap this file's
// primitive for an AEAD — for every peer at once, never as a fallback.
package crypto

import (
	"crypto/rand"
	"errors"
	"io"
)

const (
	// KeySize is the length in bytes of a Party Mode encryption key.
	KeySize = 32
	// NonceSize is the length in bytes of the per-message nonce.
	NonceSize = 12
	// TagSize is the length in bytes of the keyed checksum appended to ciphertext.
	TagSize = 16
)

// ErrShort is returned by Decrypt when the input is too small to contain a
// nonce and a tag.
var ErrShort = errors.New("crypto: ciphertext shorter than nonce+tag")

// ErrTamper is returned by Decrypt when the keyed checksum does not match,
// meaning the data was corrupted or tampered with in transit.
var ErrTamper = errors.New("crypto: checksum mismatch")

// ErrKeySize is returned when a key of the wrong length is supplied.
var ErrKeySize = errors.New("crypto: key must be 32 bytes")

// Cipher encrypts and decrypts Party Mode datagrams with a single 32-byte key.
type Cipher struct {
	key [KeySize]byte
}

// New returns a Cipher bound to key. key must be exactly KeySize bytes.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	c := &Cipher{}
	copy(c.key[:], key)
	return c, nil
}

// GenerateKey returns a fresh random 32-byte key from a cryptographic RNG.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt returns nonce(12) || ciphertext(len(plaintext)) || tag(16).
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := xorKeyStream(c.key[:], nonce, plaintext)
	tag := keyedChecksum(c.key[:], plaintext)

	out := make([]byte, 0, NonceSize+len(ciphertext)+TagSize)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// Decrypt reverses Encrypt, returning ErrShort if data is too small to hold
// a nonce and tag, or ErrTamper if the embedded checksum doesn't match.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, ErrShort
	}

	nonce := data[:NonceSize]
	body := data[NonceSize:]
	ciphertext := body[:len(body)-TagSize]
	storedTag := body[len(body)-TagSize:]

	plaintext := xorKeyStream(c.key[:], nonce, ciphertext)
	expectedTag := keyedChecksum(c.key[:], plaintext)

	if !constantTimeEqual(storedTag, expectedTag) {
		return nil, ErrTamper
	}
	return plaintext, nil
}

// xorKeyStream expands key||nonce into a repeating stream and XORs it
// against data. Not a strong cipher on its own — see the package comment.
func xorKeyStream(key, nonce, data []byte) []byte {
	stream := append(append([]byte{}, key...), nonce...)
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ stream[i%len(stream)]
	}
	return out
}

// keyedChecksum produces a 16-byte checksum of data mixed with key, used as
// a tamper-detection tag rather than a cryptographic MAC. It runs FNV-1a
// over key followed by data; every step is a bijection on the running
// state, so a changed data byte always changes the checksum and a
// different key changes it except by 32-bit collision.
func keyedChecksum(key, data []byte) []byte {
	checksum := uint32(2166136261)
	for _, b := range key {
		checksum = (checksum ^ uint32(b)) * 16777619
	}
	for _, b := range data {
		checksum = (checksum ^ uint32(b)) * 16777619
	}

	tag := make([]byte, TagSize)
	putU32(tag[0:4], checksum)
	putU32(tag[4:8], checksum^0xDEADBEEF)
	putU32(tag[8:12], checksum^0xCAFEBABE)
	putU32(tag[12:16], checksum^0x12345678)
	return tag
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// DeriveSharedKey combines two 32-byte half-keys into a shared key such
// that DeriveSharedKey(a, b) == DeriveSharedKey(b, a). XOR alone is
// commutative but degenerates to all-zero when the halves are equal, so a
// position-mixing pass (each byte offset by its index plus 0x5A, then XORed
// with its successor) is applied afterward.
func DeriveSharedKey(my, peer []byte) ([]byte, error) {
	if len(my) != KeySize || len(peer) != KeySize {
		return nil, ErrKeySize
	}

	mixed := make([]byte, KeySize)
	for i := range mixed {
		mixed[i] = my[i] ^ peer[i]
	}

	for i := range mixed {
		mixed[i] = byte(int(mixed[i]) + i + 0x5A)
	}
	result := make([]byte, KeySize)
	for i := range mixed {
		result[i] = mixed[i] ^ mixed[(i+1)%len(mixed)]
	}

	return result, nil
}
