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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/rose-party/partymode/internal/metrics"
	"github.com/rose-party/partymode/party"
)

func main() {
	app := &cli.App{
		Name:                 "partynode",
		Usage:                "Run or probe a Party Mode overlay node",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			tokenCommand,
			enableCommand,
			addPeerCommand,
			removePeerCommand,
			statusCommand,
			skinsCommand,
			serveCommand,
		},
		Action: func(c *cli.Context) error {
			cli.ShowAppHelp(c)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// nodeFlags are the flags every subcommand that stands up a Manager shares:
// identity, bind port, and the file-backed provider paths.
func nodeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{Name: "id", Required: true, Usage: "this node's summoner id"},
		&cli.StringFlag{Name: "name", Value: "player", Usage: "this node's summoner name"},
		&cli.IntFlag{Name: "port", Value: 0, Usage: "local udp port, 0 for OS-assigned"},
		&cli.StringFlag{Name: "lobby", Value: "./lobby.json", Usage: "mock LobbyProvider state file"},
		&cli.StringFlag{Name: "selection", Value: "./selection.json", Usage: "mock LocalSelectionProvider state file"},
		&cli.StringFlag{Name: "metrics-addr", Value: "", Usage: "if set, serve Prometheus metrics on this address"},
	}
}

func buildManager(c *cli.Context) (*party.Manager, error) {
	cfg := party.Config{
		SummonerID:        c.Uint64("id"),
		SummonerName:      c.String("name"),
		BindPort:          c.Int("port"),
		LobbyProvider:     newFileLobbyProvider(c.String("lobby")),
		SelectionProvider: newFileSelectionProvider(c.String("selection")),
	}
	return party.New(cfg)
}

// enableManager binds, discovers, and prints the resulting token to stderr,
// leaving stdout to the status and skin tables the subcommands print.
func enableManager(m *party.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tok, err := m.Enable(ctx)
	if err != nil {
		return err
	}

	encoded, err := tok.Encode()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "enabled, token:", encoded)
	return nil
}

func maybeServeMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	go func() {
		log.Println("serving metrics on", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Println("metrics server stopped:", err)
		}
	}()
}

func connectPeers(m *party.Manager, peersCSV string) {
	for _, peerTok := range splitNonEmpty(peersCSV, ",") {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		ok, err := m.AddPeer(ctx, peerTok)
		cancel()
		if err != nil {
			log.Println("add-peer failed:", err)
			continue
		}
		log.Println("add-peer connected:", ok)
	}
}

// waitForSignal blocks until the process receives SIGINT/SIGTERM, calling
// onTick every interval in the meantime. Used by every subcommand that
// keeps a node alive after its initial action.
func waitForSignal(m *party.Manager, interval time.Duration, onTick func(*party.Manager)) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigs:
			log.Println("shutting down")
			return
		case <-ticker.C:
			if onTick != nil {
				onTick(m)
			}
		}
	}
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "bind a socket, discover the public address via STUN, and print a publishable token",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "id", Required: true, Usage: "this node's summoner id"},
		&cli.StringFlag{Name: "name", Value: "player", Usage: "this node's summoner name"},
		&cli.IntFlag{Name: "port", Value: 0, Usage: "local udp port, 0 for OS-assigned"},
	},
	Action: func(c *cli.Context) error {
		cfg := party.Config{
			SummonerID:        c.Uint64("id"),
			SummonerName:      c.String("name"),
			BindPort:          c.Int("port"),
			LobbyProvider:     noopLobbyProvider{},
			SelectionProvider: noopSelectionProvider{},
		}
		m, err := party.New(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		tok, err := m.Enable(ctx)
		if err != nil {
			return err
		}
		defer m.Disable()

		encoded, err := tok.Encode()
		if err != nil {
			return err
		}

		fmt.Println(encoded)
		fmt.Fprintf(os.Stderr, "token size: %s\n", bytefmt.ByteSize(uint64(len(encoded))))
		return nil
	},
}

var enableCommand = &cli.Command{
	Name:  "enable",
	Usage: "bind, discover, and keep a node alive against file-backed providers without connecting to any peer",
	Flags: nodeFlags(),
	Action: func(c *cli.Context) error {
		m, err := buildManager(c)
		if err != nil {
			return err
		}
		if err := enableManager(m); err != nil {
			return err
		}
		defer m.Disable()

		maybeServeMetrics(c.String("metrics-addr"))
		waitForSignal(m, 5*time.Second, printStatus)
		return nil
	},
}

var addPeerCommand = &cli.Command{
	Name:  "add-peer",
	Usage: "enable a node and connect it to a single peer token",
	Flags: append(nodeFlags(), &cli.StringFlag{Name: "peer", Required: true, Usage: "peer token string to connect to"}),
	Action: func(c *cli.Context) error {
		m, err := buildManager(c)
		if err != nil {
			return err
		}
		if err := enableManager(m); err != nil {
			return err
		}
		defer m.Disable()

		maybeServeMetrics(c.String("metrics-addr"))
		connectPeers(m, c.String("peer"))
		waitForSignal(m, 5*time.Second, printStatus)
		return nil
	},
}

var removePeerCommand = &cli.Command{
	Name:  "remove-peer",
	Usage: "enable a node, connect initial peers, then drop one by summoner id",
	Flags: append(nodeFlags(),
		&cli.StringFlag{Name: "peers", Value: "", Usage: "comma-separated token strings to connect to on startup"},
		&cli.Uint64Flag{Name: "remove", Required: true, Usage: "summoner id to remove once connected"},
		&cli.DurationFlag{Name: "grace", Value: 5 * time.Second, Usage: "time to wait for handshakes before removing"},
	),
	Action: func(c *cli.Context) error {
		m, err := buildManager(c)
		if err != nil {
			return err
		}
		if err := enableManager(m); err != nil {
			return err
		}
		defer m.Disable()

		maybeServeMetrics(c.String("metrics-addr"))
		connectPeers(m, c.String("peers"))

		time.Sleep(c.Duration("grace"))
		removeID := c.Uint64("remove")
		m.RemovePeer(removeID)
		log.Println("removed peer:", removeID)

		waitForSignal(m, 5*time.Second, printStatus)
		return nil
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "enable a node, connect initial peers, wait for handshakes, print a status table once, and exit",
	Flags: append(nodeFlags(),
		&cli.StringFlag{Name: "peers", Value: "", Usage: "comma-separated token strings to connect to on startup"},
		&cli.DurationFlag{Name: "grace", Value: 5 * time.Second, Usage: "time to wait for handshakes before printing"},
	),
	Action: func(c *cli.Context) error {
		m, err := buildManager(c)
		if err != nil {
			return err
		}
		if err := enableManager(m); err != nil {
			return err
		}
		defer m.Disable()

		connectPeers(m, c.String("peers"))
		time.Sleep(c.Duration("grace"))
		printStatus(m)
		return nil
	},
}

var skinsCommand = &cli.Command{
	Name:  "skins",
	Usage: "enable a node, connect initial peers, wait for handshakes, print the aggregated party skin list once, and exit",
	Flags: append(nodeFlags(),
		&cli.StringFlag{Name: "peers", Value: "", Usage: "comma-separated token strings to connect to on startup"},
		&cli.DurationFlag{Name: "grace", Value: 5 * time.Second, Usage: "time to wait for handshakes before printing"},
	),
	Action: func(c *cli.Context) error {
		m, err := buildManager(c)
		if err != nil {
			return err
		}
		if err := enableManager(m); err != nil {
			return err
		}
		defer m.Disable()

		connectPeers(m, c.String("peers"))
		time.Sleep(c.Duration("grace"))
		printSkins(m)
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run a party mode node against file-backed lobby/selection providers",
	Flags: append(nodeFlags(),
		&cli.StringFlag{Name: "peers", Value: "", Usage: "comma-separated token strings to connect to on startup"},
	),
	Action: func(c *cli.Context) error {
		m, err := buildManager(c)
		if err != nil {
			return err
		}
		if err := enableManager(m); err != nil {
			return err
		}
		defer m.Disable()

		maybeServeMetrics(c.String("metrics-addr"))
		connectPeers(m, c.String("peers"))
		waitForSignal(m, 5*time.Second, printStatus)
		return nil
	},
}

func printStatus(m *party.Manager) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Summoner ID", "Name", "State", "In Lobby", "Last Seen", "Sent", "Recv"})

	for _, conn := range m.Peers() {
		sent, recv := conn.BytesExchanged()
		lastSeen := "never"
		if !conn.LastSeen().IsZero() {
			lastSeen = conn.LastSeen().Format(time.RFC3339)
		}
		table.Append([]string{
			strconv.FormatUint(conn.SummonerID(), 10),
			conn.SummonerName(),
			conn.State().String(),
			strconv.FormatBool(conn.InLobby()),
			lastSeen,
			bytefmt.ByteSize(sent),
			bytefmt.ByteSize(recv),
		})
	}

	table.Render()
}

// printSkins renders the aggregated party skin list -- the same data an
// embedding game client's injector hook would read via GetPartySkins.
func printSkins(m *party.Manager) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Summoner ID", "Name", "Champion", "Skin", "Chroma", "Custom Mod"})

	for _, s := range m.GetPartySkins() {
		chroma := "-"
		if s.ChromaID != nil {
			chroma = strconv.FormatUint(uint64(*s.ChromaID), 10)
		}
		customMod := "-"
		if s.CustomModPath != nil {
			customMod = *s.CustomModPath
		}
		table.Append([]string{
			strconv.FormatUint(s.SummonerID, 10),
			s.SummonerName,
			strconv.FormatUint(uint64(s.ChampionID), 10),
			strconv.FormatUint(uint64(s.SkinID), 10),
			chroma,
			customMod,
		})
	}

	table.Render()
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

type noopLobbyProvider struct{}

func (noopLobbyProvider) MySummonerID() uint64                    { return 0 }
func (noopLobbyProvider) MySummonerName() string                  { return "" }
func (noopLobbyProvider) CurrentLobbyIDs() map[uint64]struct{}    { return nil }
func (noopLobbyProvider) ChampSelectTeamIDs() map[uint64]struct{} { return nil }
func (noopLobbyProvider) TeamChampionMap() map[uint64]uint32      { return nil }
func (noopLobbyProvider) GameMode() (string, bool)                { return "", false }

type noopSelectionProvider struct{}

func (noopSelectionProvider) CurrentChampionID() (uint32, bool)          { return 0, false }
func (noopSelectionProvider) CurrentSkinID() (uint32, bool)              { return 0, false }
func (noopSelectionProvider) CurrentChromaID() (uint32, bool)            { return 0, false }
func (noopSelectionProvider) CurrentCustomModPath(uint32) (string, bool) { return "", false }
