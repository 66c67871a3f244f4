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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, VerifyConfig(config))
	require.Equal(t, 50, config.ListenBacklog)
	require.Equal(t, 5*time.Second, config.HandshakeTimeout)
	require.Equal(t, 5*time.Second, config.HeartbeatTimeout)
	require.Equal(t, 1500, config.ChunkSize)
	require.Equal(t, 512, config.ReadChunkSize)
	require.False(t, config.BehindNAT)
}

func TestVerifyConfigClamps(t *testing.T) {
	config := DefaultConfig()
	config.HandshakeTimeout = -time.Second
	config.HeartbeatTimeout = 48 * time.Hour
	require.NoError(t, VerifyConfig(config))
	require.Equal(t, time.Duration(0), config.HandshakeTimeout)
	require.Equal(t, maxHeartbeatTimeout, config.HeartbeatTimeout)
}

func TestVerifyConfigRejects(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 0
	require.Error(t, VerifyConfig(config))

	config = DefaultConfig()
	config.ChunkSize = 1 << 16
	require.Error(t, VerifyConfig(config))

	config = DefaultConfig()
	config.ListenBacklog = -1
	require.Error(t, VerifyConfig(config))
}

func TestParseConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshnode.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_backlog = 10
handshake_timeout = "2s"
heartbeat_timeout = "100ms"
behind_nat = true
chunk_size = 64
`), 0o644))

	config, err := ParseConfig(path)
	require.NoError(t, err)
	require.Equal(t, 10, config.ListenBacklog)
	require.Equal(t, 2*time.Second, config.HandshakeTimeout)
	require.Equal(t, 100*time.Millisecond, config.HeartbeatTimeout)
	require.True(t, config.BehindNAT)
	require.Equal(t, 64, config.ChunkSize)
	require.Equal(t, 512, config.ReadChunkSize) // default kept
}

func TestParseConfigBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshnode.toml")
	require.NoError(t, os.WriteFile(path, []byte(`handshake_timeout = "soon"`), 0o644))
	_, err := ParseConfig(path)
	require.Error(t, err)
}
