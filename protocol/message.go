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

// Package protocol defines the typed message envelope peers exchange once
// a connection is established. Messages are compact JSON rather than a
// binary format — the wire cost is negligible at party-mode scale and JSON
// keeps the envelope debuggable from a packet capture.
package protocol

import (
	"encoding/json"
	"errors"
)

// MessageType names one of the fixed set of message kinds a peer may send.
type MessageType string

const (
	TypePing       MessageType = "ping"
	TypePong       MessageType = "pong"
	TypeHello      MessageType = "hello"
	TypeHelloAck   MessageType = "hello_ack"
	TypeSkinUpdate MessageType = "skin_update"
	TypeSkinSync   MessageType = "skin_sync"
	TypeSkinClear  MessageType = "skin_clear"
	TypeLobbyInfo  MessageType = "lobby_info"
	TypeLobbyMatch MessageType = "lobby_match"
	TypeReady      MessageType = "ready"
	TypeError      MessageType = "error"
)

// ErrMalformed is returned by Deserialize for any JSON decoding failure or
// unrecognized MessageType. Callers MUST log it at debug and discard the
// packet rather than propagate it as a connection error.
var ErrMalformed = errors.New("protocol: malformed message")

// Message is the envelope carried inside every encrypted datagram.
type Message struct {
	Type      MessageType            `json:"type"`
	Sequence  uint16                 `json:"sequence"`
	Timestamp float64                `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Serialize encodes msg as compact UTF-8 JSON.
func Serialize(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Deserialize decodes bytes into a Message, returning ErrMalformed itself
// (the underlying cause is not wrapped) on any failure.
func Deserialize(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrMalformed
	}
	if !validType(msg.Type) {
		return nil, ErrMalformed
	}
	if msg.Payload == nil {
		msg.Payload = map[string]interface{}{}
	}
	return &msg, nil
}

func validType(t MessageType) bool {
	switch t {
	case TypePing, TypePong, TypeHello, TypeHelloAck, TypeSkinUpdate,
		TypeSkinSync, TypeSkinClear, TypeLobbyInfo, TypeLobbyMatch,
		TypeReady, TypeError:
		return true
	default:
		return false
	}
}

// NextSequence advances a monotonic 16-bit sequence counter, wrapping from
// 65535 back to 0.
func NextSequence(current uint16) uint16 {
	return current + 1
}

// SkinSelection is a single player's current cosmetic choice.
type SkinSelection struct {
	SummonerID    uint64
	SummonerName  string
	ChampionID    uint32
	SkinID        uint32
	ChromaID      *uint32
	CustomModPath *string
}

// NewPing builds a PING message with an empty payload.
func NewPing(seq uint16) *Message {
	return &Message{Type: TypePing, Sequence: seq, Payload: map[string]interface{}{}}
}

// NewPong builds a PONG that echoes the sequence of the PING it answers.
func NewPong(seq uint16) *Message {
	return &Message{Type: TypePong, Sequence: seq, Payload: map[string]interface{}{}}
}

// NewReady builds a READY message with an empty payload.
func NewReady(seq uint16) *Message {
	return &Message{Type: TypeReady, Sequence: seq, Payload: map[string]interface{}{}}
}

// NewHello builds the outgoing half of the handshake.
func NewHello(seq uint16, summonerID uint64, summonerName string, keyHex string) *Message {
	return &Message{
		Type:     TypeHello,
		Sequence: seq,
		Payload: map[string]interface{}{
			"summoner_id":   summonerID,
			"summoner_name": summonerName,
			"key":           keyHex,
			"version":       1,
		},
	}
}

// NewHelloAck builds the reply to a received HELLO.
func NewHelloAck(seq uint16, summonerID uint64, summonerName string) *Message {
	return &Message{
		Type:     TypeHelloAck,
		Sequence: seq,
		Payload: map[string]interface{}{
			"summoner_id":   summonerID,
			"summoner_name": summonerName,
		},
	}
}

// NewSkinUpdate builds a SKIN_UPDATE announcing a selection change.
func NewSkinUpdate(seq uint16, sel SkinSelection) *Message {
	payload := map[string]interface{}{
		"summoner_id":     sel.SummonerID,
		"summoner_name":   sel.SummonerName,
		"champion_id":     sel.ChampionID,
		"skin_id":         sel.SkinID,
		"chroma_id":       nil,
		"custom_mod_path": nil,
	}
	if sel.ChromaID != nil {
		payload["chroma_id"] = *sel.ChromaID
	}
	if sel.CustomModPath != nil {
		payload["custom_mod_path"] = *sel.CustomModPath
	}
	return &Message{Type: TypeSkinUpdate, Sequence: seq, Payload: payload}
}

// NewSkinSync re-announces the sender's full current selection state with
// the same payload as SKIN_UPDATE. Nothing in this module sends it; a
// receiving peer.Connection handles it exactly like a SKIN_UPDATE.
func NewSkinSync(seq uint16, sel SkinSelection) *Message {
	msg := NewSkinUpdate(seq, sel)
	msg.Type = TypeSkinSync
	return msg
}

// NewSkinClear builds a SKIN_CLEAR for a summoner who left champion select
// or cleared their pick.
func NewSkinClear(seq uint16, summonerID uint64, championID uint32) *Message {
	return &Message{
		Type:     TypeSkinClear,
		Sequence: seq,
		Payload: map[string]interface{}{
			"summoner_id": summonerID,
			"champion_id": championID,
		},
	}
}

// NewLobbyInfo builds a LOBBY_INFO broadcast carrying the sender's lobby
// snapshot.
func NewLobbyInfo(seq uint16, summonerID uint64, lobbySummonerIDs []uint64, gameMode *string) *Message {
	payload := map[string]interface{}{
		"summoner_id":        summonerID,
		"lobby_summoner_ids": lobbySummonerIDs,
		"game_mode":          nil,
	}
	if gameMode != nil {
		payload["game_mode"] = *gameMode
	}
	return &Message{Type: TypeLobbyInfo, Sequence: seq, Payload: payload}
}

// NewLobbyMatch builds a LOBBY_MATCH reporting whether the recipient is in
// the same lobby as the sender.
func NewLobbyMatch(seq uint16, matched bool, commonSummonerIDs []uint64) *Message {
	return &Message{
		Type:     TypeLobbyMatch,
		Sequence: seq,
		Payload: map[string]interface{}{
			"matched":             matched,
			"common_summoner_ids": commonSummonerIDs,
		},
	}
}

// NewError builds an ERROR message describing a protocol-level failure.
func NewError(seq uint16, code, message string) *Message {
	return &Message{
		Type:     TypeError,
		Sequence: seq,
		Payload: map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}
