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

// Package node implements the chainvault server: it owns the chain and its
// persistence, accepts client connections, and serves the block-store
// protocol over each of them.
package node

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/chainvault/chainvault"
	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/chunk"
	"github.com/chainvault/chainvault/protocol/blockstore"
	"github.com/chainvault/chainvault/store"
)

// Node is a chainvault server instance
type Node struct {
	config      Config
	chain       *chain.Chain
	store       store.Store
	listener    net.Listener
	doneChan    chan struct{}
	onceStop    sync.Once
	waitGroup   sync.WaitGroup
	connMutex   sync.Mutex
	connections map[*chainvault.Connection]struct{}
}

// New returns a new Node, loading any existing chain from the configured
// store
func New(cfg Config) (*Node, error) {
	cfg.populateDefaults()
	n := &Node{
		config:      cfg,
		store:       cfg.store,
		doneChan:    make(chan struct{}),
		connections: make(map[*chainvault.Connection]struct{}),
	}
	if n.store == nil {
		if cfg.dataDir == "" {
			n.store = store.NewMemoryStore()
		} else {
			fileStore, err := store.NewFileStore(cfg.dataDir)
			if err != nil {
				return nil, err
			}
			n.store = fileStore
		}
	}
	blocks, err := n.store.Load()
	if err != nil {
		n.store.Close()
		return nil, fmt.Errorf("load chain: %w", err)
	}
	n.chain, err = chain.FromBlocks(blocks)
	if err != nil {
		n.store.Close()
		return nil, fmt.Errorf("load chain: %w", err)
	}
	n.config.logger.Info(
		"loaded chain",
		"component", "node",
		"blocks", len(blocks),
		"head", n.chain.HeadHash(),
	)
	return n, nil
}

// Chain returns the node's chain
func (n *Node) Chain() *chain.Chain {
	return n.chain
}

// Addr returns the address the node is listening on
func (n *Node) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Start begins listening for client connections
func (n *Node) Start() error {
	listenAddr := net.JoinHostPort(
		n.config.listenAddress,
		fmt.Sprintf("%d", n.config.listenPort),
	)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	n.listener = listener
	n.config.logger.Info(
		"listening for connections",
		"component", "node",
		"address", listener.Addr().String(),
	)
	n.waitGroup.Add(1)
	go n.acceptLoop()
	return nil
}

// Stop shuts down the node: the listener, all open connections, and the
// store
func (n *Node) Stop() error {
	var err error
	n.onceStop.Do(func() {
		close(n.doneChan)
		if n.listener != nil {
			n.listener.Close()
		}
		n.connMutex.Lock()
		for conn := range n.connections {
			conn.Close()
		}
		n.connMutex.Unlock()
		n.waitGroup.Wait()
		err = n.store.Close()
	})
	return err
}

func (n *Node) acceptLoop() {
	defer n.waitGroup.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.doneChan:
				return
			default:
			}
			n.config.logger.Error(
				"accept failure",
				"component", "node",
				"error", err,
			)
			return
		}
		n.waitGroup.Add(1)
		go n.serveConnection(conn)
	}
}

// serveConnection runs the server side of the protocol over a single client
// connection
func (n *Node) serveConnection(conn net.Conn) {
	defer n.waitGroup.Done()
	connId := conn.RemoteAddr().String()
	logger := n.config.logger
	logger.Info(
		"accepted connection",
		"component", "node",
		"connection_id", connId,
	)
	oConn, err := chainvault.NewConnection(
		chainvault.WithConnection(conn),
		chainvault.WithServer(true),
		chainvault.WithLogger(logger),
		chainvault.WithBlockSize(n.config.blockSize),
		chainvault.WithBlockStoreConfig(
			blockstore.NewConfig(
				blockstore.WithAddFileFunc(n.addFile),
				blockstore.WithCheckHashFunc(n.checkHash),
				blockstore.WithVerifyChainFunc(n.verifyChain),
				blockstore.WithGetFileFunc(n.getFile),
			),
		),
	)
	if err != nil {
		logger.Error(
			"connection setup failure",
			"component", "node",
			"connection_id", connId,
			"error", err,
		)
		conn.Close()
		return
	}
	n.connMutex.Lock()
	n.connections[oConn] = struct{}{}
	n.connMutex.Unlock()
	defer func() {
		n.connMutex.Lock()
		delete(n.connections, oConn)
		n.connMutex.Unlock()
		oConn.Close()
	}()
	select {
	case <-n.doneChan:
	case err, ok := <-oConn.ErrorChan():
		if !ok {
			return
		}
		if errors.Is(err, io.EOF) {
			logger.Info(
				"client disconnected",
				"component", "node",
				"connection_id", connId,
			)
		} else {
			logger.Error(
				"connection failure",
				"component", "node",
				"connection_id", connId,
				"error", err,
			)
		}
	}
}

// addFile commits a complete file to the chain. The file hash claimed by
// the client is recomputed from the received blocks before anything is
// appended.
func (n *Node) addFile(fileHash chain.Hash, payloads [][]byte) error {
	content, err := chunk.Reassemble(payloads)
	if err != nil {
		return err
	}
	if contentHash := chain.HashData(content); contentHash != fileHash {
		return fmt.Errorf(
			"content hash %s does not match claimed file hash %s",
			contentHash,
			fileHash,
		)
	}
	blocks, err := n.chain.AppendFile(fileHash, payloads, n.store.Persist)
	if err != nil {
		return err
	}
	n.config.logger.Info(
		"stored file",
		"component", "node",
		"file_hash", fileHash,
		"blocks", len(blocks),
		"head", n.chain.HeadHash(),
	)
	return nil
}

// checkHash reports whether the hash names a block or a file in the chain
func (n *Node) checkHash(hash chain.Hash) (bool, error) {
	index := n.chain.Index()
	return index.HasBlock(hash) || index.HasFile(hash), nil
}

// verifyChain walks the chain and reports the first broken block, if any
func (n *Node) verifyChain() (bool, uint64, error) {
	err := n.chain.Verify()
	if err == nil {
		return true, 0, nil
	}
	var corruptErr *chain.CorruptionError
	if errors.As(err, &corruptErr) {
		n.config.logger.Error(
			"chain verification failed",
			"component", "node",
			"block", corruptErr.Index,
			"reason", corruptErr.Reason,
		)
		return false, corruptErr.Index, nil
	}
	return false, 0, err
}

// getFile returns a file's payloads in sequence order
func (n *Node) getFile(fileHash chain.Hash) ([][]byte, error) {
	blocks, err := n.chain.BlocksForFile(fileHash)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, len(blocks))
	for i, block := range blocks {
		payloads[i] = block.Payload
	}
	return payloads, nil
}
