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

package meshnet

import (
	"os"
	"time"

	toml "github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const (
	maxHeartbeatTimeout = 86400 * time.Second
	maxChunkSize        = 1<<16 - 1
)

// Config is used to tune a node.
type Config struct {
	// ListenBacklog is passed to listen(2) on every listener socket.
	ListenBacklog int

	// HandshakeTimeout bounds the HELLO/ACK exchange on a fresh
	// socket; on expiry the socket is closed.
	HandshakeTimeout time.Duration

	// HeartbeatTimeout is the interval between heartbeat frames on an
	// established socket. Clamped to [0, 24h]. Zero sends a heartbeat
	// on every step.
	HeartbeatTimeout time.Duration

	// BehindNAT is advertised in the HELLO frame this node sends on the
	// sockets it dials. A peer that has received the flag does not
	// schedule reconnection toward this node.
	BehindNAT bool

	// ChunkSize is the initial per-writer-account MTU.
	ChunkSize int

	// ReadChunkSize is the drain quantum of the reader pool.
	ReadChunkSize int
}

// DefaultConfig is used to return a default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenBacklog:    50,
		HandshakeTimeout: 5 * time.Second,
		HeartbeatTimeout: 5 * time.Second,
		ChunkSize:        1500,
		ReadChunkSize:    512,
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config.ListenBacklog <= 0 {
		return errors.New("listen backlog must be positive")
	}
	if config.ChunkSize <= 0 || config.ChunkSize > maxChunkSize {
		return errors.Errorf("chunk size must be in (0, %d]", maxChunkSize)
	}
	if config.ReadChunkSize <= 0 {
		return errors.New("read chunk size must be positive")
	}
	if config.HandshakeTimeout < 0 {
		config.HandshakeTimeout = 0
	}
	if config.HeartbeatTimeout < 0 {
		config.HeartbeatTimeout = 0
	}
	if config.HeartbeatTimeout > maxHeartbeatTimeout {
		config.HeartbeatTimeout = maxHeartbeatTimeout
	}
	return nil
}

type tomlConfig struct {
	ListenBacklog    int    `toml:"listen_backlog"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	HeartbeatTimeout string `toml:"heartbeat_timeout"`
	BehindNAT        bool   `toml:"behind_nat"`
	ChunkSize        int    `toml:"chunk_size"`
	ReadChunkSize    int    `toml:"read_chunk_size"`
}

// ParseConfig loads a TOML configuration file; absent keys keep their
// defaults. Durations use the Go syntax ("5s", "100ms").
func ParseConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var raw tomlConfig
	if err = toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	config := DefaultConfig()
	if raw.ListenBacklog != 0 {
		config.ListenBacklog = raw.ListenBacklog
	}
	if raw.ChunkSize != 0 {
		config.ChunkSize = raw.ChunkSize
	}
	if raw.ReadChunkSize != 0 {
		config.ReadChunkSize = raw.ReadChunkSize
	}
	config.BehindNAT = raw.BehindNAT
	if raw.HandshakeTimeout != "" {
		if config.HandshakeTimeout, err = time.ParseDuration(raw.HandshakeTimeout); err != nil {
			return nil, errors.Wrap(err, "parse handshake_timeout")
		}
	}
	if raw.HeartbeatTimeout != "" {
		if config.HeartbeatTimeout, err = time.ParseDuration(raw.HeartbeatTimeout); err != nil {
			return nil, errors.Wrap(err, "parse heartbeat_timeout")
		}
	}
	if err = VerifyConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}
