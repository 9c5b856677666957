// Copyright 2025 Chainvault Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chainvault

import (
	"log/slog"
	"net"

	"github.com/chainvault/chainvault/protocol/blockstore"
	"github.com/chainvault/chainvault/protocol/handshake"
)

// ConnectionOptionFunc is a type that represents functions that modify the Connection config
type ConnectionOptionFunc func(*Connection)

// WithConnection specifies an existing connection to use. If none is provided, the Dial() function can be
// used to create one later
func WithConnection(conn net.Conn) ConnectionOptionFunc {
	return func(c *Connection) {
		c.conn = conn
	}
}

// WithServer specifies whether to act as a server
func WithServer(server bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.server = server
	}
}

// WithLogger specifies the logger to use. If none is provided, logging is
// discarded.
func WithLogger(logger *slog.Logger) ConnectionOptionFunc {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithErrorChan specifies the error channel to use. If none is provided, one will be created
func WithErrorChan(errorChan chan error) ConnectionOptionFunc {
	return func(c *Connection) {
		c.errorChan = errorChan
	}
}

// WithBlockSize specifies the block size to propose during the handshake.
// On a server connection this value is authoritative.
func WithBlockSize(blockSize uint32) ConnectionOptionFunc {
	return func(c *Connection) {
		c.blockSize = blockSize
	}
}

// WithDelayMuxerStart specifies whether to delay the muxer start. This is useful if you need to take some
// custom actions before the muxer starts processing messages, generally when acting as a server
func WithDelayMuxerStart(delayMuxerStart bool) ConnectionOptionFunc {
	return func(c *Connection) {
		c.delayMuxerStart = delayMuxerStart
	}
}

// WithBlockStoreConfig specifies BlockStore protocol config
func WithBlockStoreConfig(cfg blockstore.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.blockStoreConfig = &cfg
	}
}

// WithHandshakeConfig specifies Handshake protocol config
func WithHandshakeConfig(cfg handshake.Config) ConnectionOptionFunc {
	return func(c *Connection) {
		c.handshakeConfig = &cfg
	}
}
