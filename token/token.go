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

// Package token encodes and decodes the Party Mode connection descriptor
// exchanged out of band (chat, clipboard, QR code) between two players who
// want to link up. The wire form favors compactness over readability: a
// fixed-width binary struct, deflated, and base64'd behind a short prefix
// so it survives being pasted into any text field.
package token

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/rose-party/partymode/crypto"
)

// Version is the only Token wire version this implementation understands.
const Version = 1

// Prefix is prepended to every encoded token.
const Prefix = "ROSE:"

// TTL is how long after its timestamp a token remains acceptable to decode.
const TTL = time.Hour

// plaintextSize is the fixed size of the big-endian struct before deflate:
// 1 + 4 + 8 + 2 + 2 + 4 + 4 + 32 = 57 bytes.
const plaintextSize = 57

// Decode errors, returned verbatim so callers can branch on them.
var (
	ErrBadPrefix    = errors.New("token: missing ROSE: prefix")
	ErrBadBase64    = errors.New("token: invalid base64")
	ErrBadDeflate   = errors.New("token: invalid deflate stream")
	ErrShortPayload = errors.New("token: payload shorter than expected")
	ErrBadVersion   = errors.New("token: unsupported version")
	ErrExpired      = errors.New("token: expired")
	ErrBadIP        = errors.New("token: address is not a valid IPv4 address")
)

// Token is the shareable connection descriptor for one party-mode peer.
type Token struct {
	Version      uint8
	Timestamp    uint32
	SummonerID   uint64
	ExternalPort uint16
	InternalPort uint16
	ExternalIP   net.IP
	InternalIP   net.IP
	Key          [crypto.KeySize]byte
}

// New builds a Token stamped with the current time and Version 1.
func New(summonerID uint64, externalIP, internalIP net.IP, externalPort, internalPort uint16, key []byte) (*Token, error) {
	if len(key) != crypto.KeySize {
		return nil, crypto.ErrKeySize
	}
	t := &Token{
		Version:      Version,
		Timestamp:    uint32(time.Now().Unix()),
		SummonerID:   summonerID,
		ExternalPort: externalPort,
		InternalPort: internalPort,
		ExternalIP:   externalIP,
		InternalIP:   internalIP,
	}
	copy(t.Key[:], key)
	return t, nil
}

// Encode produces the "ROSE:"-prefixed, base64, deflated wire form.
func (t *Token) Encode() (string, error) {
	raw, err := t.pack()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	return Prefix + encoded, nil
}

// Decode parses the wire form produced by Encode, rejecting expired or
// malformed tokens. Padded and unpadded base64 are both accepted.
func Decode(s string) (*Token, error) {
	if !bytesHasPrefix(s, Prefix) {
		return nil, ErrBadPrefix
	}
	encoded := s[len(Prefix):]

	compressed, err := decodeBase64(encoded)
	if err != nil {
		return nil, ErrBadBase64
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, ErrBadDeflate
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, ErrBadDeflate
	}

	t, err := unpack(raw)
	if err != nil {
		return nil, err
	}

	if t.Version != Version {
		return nil, ErrBadVersion
	}
	if time.Unix(int64(t.Timestamp), 0).Add(TTL).Before(time.Now()) {
		return nil, ErrExpired
	}
	return t, nil
}

func (t *Token) pack() ([]byte, error) {
	eip := t.ExternalIP.To4()
	iip := t.InternalIP.To4()
	if eip == nil || iip == nil {
		return nil, ErrBadIP
	}

	buf := make([]byte, plaintextSize)
	buf[0] = t.Version
	binary.BigEndian.PutUint32(buf[1:5], t.Timestamp)
	binary.BigEndian.PutUint64(buf[5:13], t.SummonerID)
	binary.BigEndian.PutUint16(buf[13:15], t.ExternalPort)
	binary.BigEndian.PutUint16(buf[15:17], t.InternalPort)
	copy(buf[17:21], eip)
	copy(buf[21:25], iip)
	copy(buf[25:57], t.Key[:])
	return buf, nil
}

func unpack(raw []byte) (*Token, error) {
	if len(raw) < plaintextSize {
		return nil, ErrShortPayload
	}

	t := &Token{
		Version:      raw[0],
		Timestamp:    binary.BigEndian.Uint32(raw[1:5]),
		SummonerID:   binary.BigEndian.Uint64(raw[5:13]),
		ExternalPort: binary.BigEndian.Uint16(raw[13:15]),
		InternalPort: binary.BigEndian.Uint16(raw[15:17]),
		ExternalIP:   net.IP(append([]byte{}, raw[17:21]...)),
		InternalIP:   net.IP(append([]byte{}, raw[21:25]...)),
	}
	copy(t.Key[:], raw[25:57])
	return t, nil
}

func bytesHasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// decodeBase64 accepts both padded and unpadded url-safe base64, per the
// wire-form contract that consumers must tolerate either.
func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
