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

// Package stun discovers a UDP socket's externally visible address using
// a minimal RFC 5389 Binding Request/Response exchange. It deliberately
// speaks only the subset of STUN that party-mode NAT traversal needs — no
// TURN, no ICE, no message integrity attributes.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"time"
)

const (
	bindingRequest  uint16 = 0x0001
	bindingResponse uint16 = 0x0101

	attrMappedAddress    uint16 = 0x0001
	attrXorMappedAddress uint16 = 0x0020

	magicCookie uint32 = 0x2112A442

	familyIPv4 uint8 = 0x01
	familyIPv6 uint8 = 0x02
)

// DefaultServers is the well-known public STUN server list tried in order.
var DefaultServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun2.l.google.com:19302",
	"stun.cloudflare.com:3478",
	"stun.stunprotocol.org:3478",
}

// PerServerTimeout bounds how long a single server is given to answer
// before discover moves on to the next one.
const PerServerTimeout = 3 * time.Second

// ErrFailed is returned once every configured STUN server has failed to
// answer with a usable Binding Response.
var ErrFailed = errors.New("stun: all servers failed")

// Result is the outcome of a successful discovery.
type Result struct {
	ExternalIP   net.IP
	ExternalPort int
	LocalIP      net.IP
	LocalPort    int
}

// Discover performs a Binding Request over conn against each of servers in
// turn, returning the first successful result.
//
// conn MUST be the exact socket the UDP transport will keep using —
// sending the probe from a throwaway socket would let a symmetric NAT bind
// a different external port than the one traffic will actually flow
// through, making the discovered address useless.
func Discover(conn *net.UDPConn, servers []string) (*Result, error) {
	if len(servers) == 0 {
		servers = DefaultServers
	}

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.New("stun: connection has no UDP local address")
	}

	for _, server := range servers {
		result, err := probe(conn, server, localAddr)
		if err != nil {
			continue
		}
		return result, nil
	}
	return nil, ErrFailed
}

func probe(conn *net.UDPConn, server string, localAddr *net.UDPAddr) (*Result, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, err
	}

	request, txID, err := buildBindingRequest()
	if err != nil {
		return nil, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(PerServerTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	if _, err := conn.WriteToUDP(request, serverAddr); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !udpAddrEqual(from, serverAddr) {
			continue
		}

		ip, port, err := parseBindingResponse(buf[:n], txID)
		if err != nil {
			continue
		}

		return &Result{
			ExternalIP:   ip,
			ExternalPort: port,
			LocalIP:      localAddr.IP,
			LocalPort:    localAddr.Port,
		}, nil
	}
}

func buildBindingRequest() ([]byte, []byte, error) {
	txID := make([]byte, 12)
	if _, err := randRead(txID); err != nil {
		return nil, nil, err
	}

	msg := make([]byte, 20)
	binary.BigEndian.PutUint16(msg[0:2], bindingRequest)
	binary.BigEndian.PutUint16(msg[2:4], 0)
	binary.BigEndian.PutUint32(msg[4:8], magicCookie)
	copy(msg[8:20], txID)

	return msg, txID, nil
}

var randRead = rand.Read

func parseBindingResponse(data, expectedTxID []byte) (net.IP, int, error) {
	if len(data) < 20 {
		return nil, 0, errors.New("stun: response too short")
	}

	msgType := binary.BigEndian.Uint16(data[0:2])
	msgLength := binary.BigEndian.Uint16(data[2:4])
	cookie := binary.BigEndian.Uint32(data[4:8])
	txID := data[8:20]

	if msgType != bindingResponse {
		return nil, 0, errors.New("stun: unexpected message type")
	}
	if cookie != magicCookie {
		return nil, 0, errors.New("stun: bad magic cookie")
	}
	if !bytesEqual(txID, expectedTxID) {
		return nil, 0, errors.New("stun: transaction ID mismatch")
	}

	attrs := data[20:]
	if int(msgLength) < len(attrs) {
		attrs = attrs[:msgLength]
	}

	offset := 0
	for offset+4 <= len(attrs) {
		attrType := binary.BigEndian.Uint16(attrs[offset : offset+2])
		attrLen := int(binary.BigEndian.Uint16(attrs[offset+2 : offset+4]))
		offset += 4

		if offset+attrLen > len(attrs) {
			break
		}
		value := attrs[offset : offset+attrLen]

		switch attrType {
		case attrXorMappedAddress:
			if ip, port, ok := parseXorMappedAddress(value, txID); ok {
				return ip, port, nil
			}
		case attrMappedAddress:
			if ip, port, ok := parseMappedAddress(value); ok {
				return ip, port, nil
			}
		}

		offset += attrLen
		if attrLen%4 != 0 {
			offset += 4 - (attrLen % 4)
		}
	}

	return nil, 0, errors.New("stun: no mapped address attribute found")
}

func parseMappedAddress(value []byte) (net.IP, int, bool) {
	if len(value) < 8 {
		return nil, 0, false
	}
	family := value[1]
	port := binary.BigEndian.Uint16(value[2:4])
	if family != familyIPv4 {
		return nil, 0, false
	}
	ip := net.IP(append([]byte{}, value[4:8]...))
	return ip, int(port), true
}

func parseXorMappedAddress(value, txID []byte) (net.IP, int, bool) {
	if len(value) < 8 {
		return nil, 0, false
	}
	family := value[1]
	xport := binary.BigEndian.Uint16(value[2:4])
	port := xport ^ uint16(magicCookie>>16)

	if family != familyIPv4 {
		return nil, 0, false
	}

	var magicBytes [4]byte
	binary.BigEndian.PutUint32(magicBytes[:], magicCookie)

	xip := value[4:8]
	ip := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		ip[i] = xip[i] ^ magicBytes[i]
	}

	return ip, int(port), true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
