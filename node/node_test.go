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

package node_test

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	chainvault "github.com/chainvault/chainvault"
	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/node"
	"github.com/chainvault/chainvault/protocol/blockstore"
)

func startTestNode(t *testing.T, opts ...node.ConfigOptionFunc) *node.Node {
	t.Helper()
	opts = append(
		[]node.ConfigOptionFunc{
			node.WithListenAddress("127.0.0.1"),
			node.WithListenPort(0),
		},
		opts...,
	)
	n, err := node.New(node.NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, n.Start())
	return n
}

func connectTestClient(t *testing.T, n *node.Node) *chainvault.Connection {
	t.Helper()
	conn, err := chainvault.New()
	require.NoError(t, err)
	require.NoError(t, conn.Dial("tcp", n.Addr().String()))
	return conn
}

func TestNodeAddCheckGet(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := startTestNode(t)
	conn := connectTestClient(t, n)
	content := bytes.Repeat([]byte("spread across multiple blocks "), 40)
	// Add
	fileHash, err := conn.AddFile(content)
	require.NoError(t, err)
	assert.Equal(t, chain.HashData(content), fileHash)
	// The file was split into blocks of the negotiated size
	blocks, err := n.Chain().BlocksForFile(fileHash)
	require.NoError(t, err)
	assert.Len(t, blocks, (len(content)+499)/500)
	// Check file hash and a block hash
	present, err := conn.CheckHash(fileHash)
	require.NoError(t, err)
	assert.True(t, present)
	present, err = conn.CheckHash(blocks[0].Hash)
	require.NoError(t, err)
	assert.True(t, present)
	present, err = conn.CheckHash(chain.HashData([]byte("unknown")))
	require.NoError(t, err)
	assert.False(t, present)
	// Get
	fetched, err := conn.GetFile(fileHash)
	require.NoError(t, err)
	assert.Equal(t, content, fetched)
	// Get unknown
	_, err = conn.GetFile(chain.HashData([]byte("unknown")))
	assert.ErrorIs(t, err, blockstore.ErrFileNotFound)
	// Verify
	result, err := conn.VerifyChain()
	require.NoError(t, err)
	assert.True(t, result.Ok)
	conn.Close()
	require.NoError(t, n.Stop())
}

func TestNodeDuplicateAdd(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := startTestNode(t)
	conn := connectTestClient(t, n)
	content := []byte("store me exactly once")
	_, err := conn.AddFile(content)
	require.NoError(t, err)
	_, err = conn.AddFile(content)
	var serverErr *blockstore.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Contains(t, serverErr.Reason, "already stored")
	// The chain is unchanged
	assert.Equal(t, uint64(1), n.Chain().Len())
	conn.Close()
	require.NoError(t, n.Stop())
}

func TestNodeEmptyFile(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := startTestNode(t)
	conn := connectTestClient(t, n)
	fileHash, err := conn.AddFile(nil)
	require.NoError(t, err)
	// An empty file still occupies one block
	blocks, err := n.Chain().BlocksForFile(fileHash)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Payload)
	fetched, err := conn.GetFile(fileHash)
	require.NoError(t, err)
	assert.Empty(t, fetched)
	conn.Close()
	require.NoError(t, n.Stop())
}

func TestNodePersistence(t *testing.T) {
	defer goleak.VerifyNone(t)
	dataDir := t.TempDir()
	content := bytes.Repeat([]byte("durable content "), 100)
	var fileHash chain.Hash
	// Store a file and shut the node down
	{
		n := startTestNode(t, node.WithDataDir(dataDir))
		conn := connectTestClient(t, n)
		var err error
		fileHash, err = conn.AddFile(content)
		require.NoError(t, err)
		conn.Close()
		require.NoError(t, n.Stop())
	}
	// Restart from the same data dir and fetch the file back
	{
		n := startTestNode(t, node.WithDataDir(dataDir))
		conn := connectTestClient(t, n)
		fetched, err := conn.GetFile(fileHash)
		require.NoError(t, err)
		assert.Equal(t, content, fetched)
		result, err := conn.VerifyChain()
		require.NoError(t, err)
		assert.True(t, result.Ok)
		conn.Close()
		require.NoError(t, n.Stop())
	}
}

func TestNodeConcurrentClients(t *testing.T) {
	defer goleak.VerifyNone(t)
	n := startTestNode(t)
	const clients = 5
	contents := make([][]byte, clients)
	hashes := make([]chain.Hash, clients)
	var wg sync.WaitGroup
	errChan := make(chan error, clients)
	for i := range clients {
		contents[i] = bytes.Repeat(
			[]byte(fmt.Sprintf("client %d content ", i)),
			50,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := chainvault.New()
			if err != nil {
				errChan <- err
				return
			}
			defer conn.Close()
			if err := conn.Dial("tcp", n.Addr().String()); err != nil {
				errChan <- err
				return
			}
			fileHash, err := conn.AddFile(contents[i])
			if err != nil {
				errChan <- err
				return
			}
			hashes[i] = fileHash
			fetched, err := conn.GetFile(fileHash)
			if err != nil {
				errChan <- err
				return
			}
			if !bytes.Equal(fetched, contents[i]) {
				errChan <- fmt.Errorf("client %d got unexpected content", i)
			}
		}()
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		require.NoError(t, err)
	}
	// All files landed on a single valid chain
	require.NoError(t, n.Chain().Verify())
	for i := range clients {
		blocks, err := n.Chain().BlocksForFile(hashes[i])
		require.NoError(t, err)
		assert.NotEmpty(t, blocks)
	}
	require.NoError(t, n.Stop())
}
