// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command meshnode runs a demo mesh node: it listens, dials the given
// peers and greets every ready node toward which it holds the writer
// socket.
package main

import (
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sagernet/meshnet"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagID         string
	flagListen     string
	flagConnect    []string
	flagConfigPath string
	flagReconnect  time.Duration
	flagVerbose    bool
)

func main() {
	command := &cobra.Command{
		Use:  "meshnode",
		RunE: run,
	}
	command.Flags().StringVar(&flagID, "id", "", "node id (random when empty)")
	command.Flags().StringVar(&flagListen, "listen", "127.0.0.1:4001", "listen address")
	command.Flags().StringSliceVar(&flagConnect, "connect", nil, "peer addresses to dial")
	command.Flags().StringVar(&flagConfigPath, "config", "", "TOML configuration file")
	command.Flags().DurationVar(&flagReconnect, "reconnect", 5*time.Second, "reconnection timeout, 0 disables")
	command.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	if err := command.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	if flagVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	id := meshnet.NewNodeID()
	if flagID != "" {
		var err error
		if id, err = meshnet.ParseNodeID(flagID); err != nil {
			return err
		}
	}

	config := meshnet.DefaultConfig()
	if flagConfigPath != "" {
		var err error
		if config, err = meshnet.ParseConfig(flagConfigPath); err != nil {
			return err
		}
	}

	var policy meshnet.ReconnectPolicy = meshnet.NoReconnect{}
	if flagReconnect > 0 {
		policy = meshnet.FixedReconnect{Interval: flagReconnect}
	}

	var node *meshnet.Node
	node, err := meshnet.NewNode(id, config, policy, meshnet.Callbacks{
		OnNodeReady: func(peer meshnet.NodeID) {
			logger.Infof("node ready: %s", peer)
			if err := node.SendTo(peer, []byte("hello from "+id.String())); err != nil {
				logger.Debugf("greeting skipped: %s", err)
			}
		},
		OnNodeClosed: func(peer meshnet.NodeID) {
			logger.Infof("node closed: %s", peer)
		},
		OnMessage: func(peer meshnet.NodeID, payload []byte) {
			logger.Infof("message from %s: %s", peer, payload)
		},
		OnFailure: func(id int, err error) {
			logger.Warnf("socket #%d: %s", id, err)
		},
	}, logrus.NewEntry(logger))
	if err != nil {
		return err
	}

	listenAddr, err := netip.ParseAddrPort(flagListen)
	if err != nil {
		return err
	}
	if err = node.AddListener(listenAddr); err != nil {
		return err
	}
	if err = node.Listen(0); err != nil {
		return err
	}
	logger.Infof("listening on %s as %s", listenAddr, id)

	for _, peer := range flagConnect {
		addr, err := netip.ParseAddrPort(peer)
		if err != nil {
			return err
		}
		if !node.ConnectHost(addr) {
			logger.Warnf("connect dispatch failed: %s", addr)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-stop:
			logger.Info("shutting down")
			return nil
		default:
			node.Step(100 * time.Millisecond)
		}
	}
}
