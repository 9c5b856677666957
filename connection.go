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

// Package chainvault implements a content-addressed file store backed by a
// hash-linked block chain, accessed over a network protocol.
//
// The protocol consists of a muxer and two mini-protocols: a handshake that
// negotiates the protocol version and block size, and the block-store
// protocol that adds, checks, verifies, and fetches file content.
//
// This package is the main entry point into this library. The other packages
// can be used outside of this one, but it's not a primary design goal.
package chainvault

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/chainvault/chainvault/chunk"
	"github.com/chainvault/chainvault/muxer"
	"github.com/chainvault/chainvault/protocol"
	"github.com/chainvault/chainvault/protocol/blockstore"
	"github.com/chainvault/chainvault/protocol/handshake"
)

// Supported protocol versions, in increasing order
var protocolVersions = []uint16{1}

// The Connection type is a wrapper around a net.Conn object that handles
// communication using the chainvault network protocol over that connection
type Connection struct {
	conn                  net.Conn
	server                bool
	blockSize             uint32
	negotiatedVersion     uint16
	negotiatedBlockSize   uint32
	logger                *slog.Logger
	muxer                 *muxer.Muxer
	errorChan             chan error
	protoErrorChan        chan error
	handshakeFinishedChan chan any
	doneChan              chan any
	waitGroup             sync.WaitGroup
	onceClose             sync.Once
	delayMuxerStart       bool
	// Mini-protocols
	blockStore       *blockstore.BlockStore
	blockStoreConfig *blockstore.Config
	handshake        *handshake.Handshake
	handshakeConfig  *handshake.Config
}

// NewConnection returns a new Connection object with the specified options.
// If a connection is provided, the handshake will be started. An error will
// be returned if the handshake fails.
func NewConnection(options ...ConnectionOptionFunc) (*Connection, error) {
	c := &Connection{
		protoErrorChan:        make(chan error, 10),
		handshakeFinishedChan: make(chan any),
		doneChan:              make(chan any),
	}
	// Apply provided options functions
	for _, option := range options {
		option(c)
	}
	if c.errorChan == nil {
		c.errorChan = make(chan error, 10)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.conn != nil {
		if err := c.setupConnection(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// New is an alias to NewConnection
func New(options ...ConnectionOptionFunc) (*Connection, error) {
	return NewConnection(options...)
}

// Muxer returns the muxer object for the connection
func (c *Connection) Muxer() *muxer.Muxer {
	return c.muxer
}

// ErrorChan returns the channel for asynchronous errors
func (c *Connection) ErrorChan() chan error {
	return c.errorChan
}

// BlockSize returns the block size negotiated during the handshake
func (c *Connection) BlockSize() uint32 {
	return c.negotiatedBlockSize
}

// ProtocolVersion returns the protocol version negotiated during the
// handshake
func (c *Connection) ProtocolVersion() uint16 {
	return c.negotiatedVersion
}

// Dial will establish a connection using the specified protocol and
// address. These parameters are passed to the [net.Dial] func. The handshake
// will be started when a connection is established. An error will be
// returned if the connection fails, a connection was already established, or
// the handshake fails.
func (c *Connection) Dial(proto string, address string) error {
	if c.conn != nil {
		return fmt.Errorf("a connection was already established")
	}
	conn, err := net.Dial(proto, address)
	if err != nil {
		return err
	}
	c.conn = conn
	if err := c.setupConnection(); err != nil {
		return err
	}
	return nil
}

// Close will shutdown the connection. The shutdown happens asynchronously;
// the connection's error channel is closed once shutdown is complete.
func (c *Connection) Close() error {
	c.onceClose.Do(func() {
		// Close doneChan to signify that we're shutting down
		close(c.doneChan)
	})
	return nil
}

// shutdown performs the actual connection teardown. It runs in its own
// goroutine so that internal goroutines tracked by the wait group can
// trigger a close without deadlocking on themselves.
func (c *Connection) shutdown() {
	// Gracefully stop the muxer. This closes the underlying connection,
	// which unblocks the mini-protocol receive loops.
	if c.muxer != nil {
		c.muxer.Stop()
	}
	// Wait for other goroutines to finish
	c.waitGroup.Wait()
	// Close consumer error channel to signify connection shutdown
	close(c.errorChan)
}

// BlockStore returns the block-store protocol handler
func (c *Connection) BlockStore() *blockstore.BlockStore {
	return c.blockStore
}

// Handshake returns the handshake protocol handler
func (c *Connection) Handshake() *handshake.Handshake {
	return c.handshake
}

// setupConnection establishes the muxer, configures and starts the
// handshake process, and initializes the block-store mini-protocol
func (c *Connection) setupConnection() error {
	c.muxer = muxer.New(c.conn)
	// Start Goroutine to perform the connection shutdown when signaled.
	// This is not part of the wait group, since it waits on the wait group
	// itself.
	go func() {
		<-c.doneChan
		c.shutdown()
	}()
	// Start Goroutine to pass along errors from the muxer
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		select {
		case <-c.doneChan:
			return
		case err, ok := <-c.muxer.ErrorChan():
			// Break out of goroutine if muxer's error channel is closed
			if !ok {
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				// Return a bare io.EOF error if error is EOF/ErrUnexpectedEOF
				c.errorChan <- io.EOF
			} else {
				// Wrap error message to denote it comes from the muxer
				c.errorChan <- fmt.Errorf("muxer error: %w", err)
			}
			// Close connection on muxer errors
			c.Close()
		}
	}()
	protoOptions := protocol.ProtocolOptions{
		ConnectionId: c.conn.RemoteAddr().String(),
		Muxer:        c.muxer,
		Logger:       c.logger,
		ErrorChan:    c.protoErrorChan,
	}
	// The server always has an authoritative block size
	blockSize := c.blockSize
	if c.server && blockSize == 0 {
		blockSize = chunk.DefaultBlockSize
	}
	// Perform handshake
	handshakeConfig := handshake.NewConfig(
		handshake.WithProtocolVersions(protocolVersions),
		handshake.WithBlockSize(blockSize),
		handshake.WithFinishedFunc(func(version uint16, negotiatedBlockSize uint32) error {
			c.negotiatedVersion = version
			c.negotiatedBlockSize = negotiatedBlockSize
			close(c.handshakeFinishedChan)
			return nil
		}),
	)
	if c.handshakeConfig != nil {
		if c.handshakeConfig.Timeout > 0 {
			handshakeConfig.Timeout = c.handshakeConfig.Timeout
		}
	}
	c.handshake = handshake.New(protoOptions, &handshakeConfig)
	if c.server {
		c.handshake.Server.Start()
	} else {
		c.handshake.Client.Start()
	}
	// Wait for handshake completion or error
	select {
	case <-c.doneChan:
		// Return an error if we're shutting down
		return io.EOF
	case err := <-c.protoErrorChan:
		// Shut down the muxer and its goroutines before reporting failure
		c.Close()
		return err
	case <-c.handshakeFinishedChan:
		// This is purposely empty, but we need this case to break out when this channel is closed
	}
	c.logger.Debug(
		"handshake complete",
		"component", "network",
		"connection_id", protoOptions.ConnectionId,
		"version", c.negotiatedVersion,
		"block_size", c.negotiatedBlockSize,
	)
	// Start Goroutine to pass along errors from the mini-protocols
	c.waitGroup.Add(1)
	go func() {
		defer c.waitGroup.Done()
		select {
		case <-c.doneChan:
			// Return if we're shutting down
			return
		case err, ok := <-c.protoErrorChan:
			// The channel is closed, which means we're already shutting down
			if !ok {
				return
			}
			c.errorChan <- fmt.Errorf("protocol error: %w", err)
			// Close connection on mini-protocol errors
			c.Close()
		}
	}()
	// Provide the negotiated block size to the block-store protocol
	protoOptions.BlockSize = c.negotiatedBlockSize
	c.blockStore = blockstore.New(protoOptions, c.blockStoreConfig)
	if c.server {
		c.blockStore.Server.Start()
	} else {
		c.blockStore.Client.Start()
	}
	// Start muxer
	if !c.delayMuxerStart {
		c.muxer.Start()
	}
	return nil
}
