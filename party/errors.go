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

package party

import "errors"

// Config validation errors, returned by VerifyConfig.
var (
	ErrConfigNoSummonerID        = errors.New("party: config missing SummonerID")
	ErrConfigNoLobbyProvider     = errors.New("party: config missing LobbyProvider")
	ErrConfigNoSelectionProvider = errors.New("party: config missing SelectionProvider")
	ErrConfigBadBindPort         = errors.New("party: BindPort must be 0 (any) or a valid port number")
)

// Enable/AddPeer errors.
var (
	// ErrStunFailed wraps a STUN discovery failure during Enable.
	ErrStunFailed = errors.New("party: stun discovery failed")
	// ErrBindFailed wraps a UDP socket bind failure during Enable.
	ErrBindFailed = errors.New("party: failed to bind udp socket")
	// ErrNotEnabled is returned by any operation that requires Enable to
	// have succeeded first.
	ErrNotEnabled = errors.New("party: manager is not enabled")
	// ErrTokenDecodeFailed wraps a token.Decode failure in AddPeer.
	ErrTokenDecodeFailed = errors.New("party: failed to decode peer token")
	// ErrSelfPeer is returned by AddPeer when the token's SummonerID
	// matches this node's own.
	ErrSelfPeer = errors.New("party: refusing to add self as a peer")
)
