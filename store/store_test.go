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

package store_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/store"
)

func buildTestBlocks(t *testing.T, content string, payloadSize int) []*chain.Block {
	t.Helper()
	c := chain.NewChain()
	data := []byte(content)
	var payloads [][]byte
	for len(data) > 0 {
		chunk := data
		if len(chunk) > payloadSize {
			chunk = data[:payloadSize]
		}
		payloads = append(payloads, chunk)
		data = data[len(chunk):]
	}
	blocks, err := c.AppendFile(chain.HashData([]byte(content)), payloads, nil)
	require.NoError(t, err)
	return blocks
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	blocks := buildTestBlocks(t, "memory store content", 8)
	require.NoError(t, s.Persist(blocks))
	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, blocks, loaded)
	require.NoError(t, s.Close())
}

func TestFileStoreRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	s, err := store.NewFileStore(dataDir)
	require.NoError(t, err)
	blocks := buildTestBlocks(
		t,
		// Compressible content
		string(bytes.Repeat([]byte("chainvault"), 200)),
		500,
	)
	require.NoError(t, s.Persist(blocks))
	require.NoError(t, s.Close())
	// Reopen and reload
	s2, err := store.NewFileStore(dataDir)
	require.NoError(t, err)
	defer s2.Close()
	loaded, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, loaded, len(blocks))
	for i, block := range blocks {
		assert.Equal(t, block, loaded[i], "block %d", i)
	}
	// The reloaded blocks still form a valid chain
	_, err = chain.FromBlocks(loaded)
	require.NoError(t, err)
}

func TestFileStoreEmpty(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	blocks, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestFileStoreTruncatedLog(t *testing.T) {
	dataDir := t.TempDir()
	s, err := store.NewFileStore(dataDir)
	require.NoError(t, err)
	blocks := buildTestBlocks(t, "content that will be torn", 8)
	require.NoError(t, s.Persist(blocks))
	require.NoError(t, s.Close())
	// Tear the log mid-record
	logPath := filepath.Join(dataDir, "chain.log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(logPath, data[:len(data)-3], 0o644))
	s2, err := store.NewFileStore(dataDir)
	require.NoError(t, err)
	defer s2.Close()
	_, err = s2.Load()
	require.Error(t, err)
}

func TestFileStoreMultipleBatches(t *testing.T) {
	dataDir := t.TempDir()
	s, err := store.NewFileStore(dataDir)
	require.NoError(t, err)
	c := chain.NewChain()
	for _, content := range []string{"first file", "second file", "third file"} {
		_, err := c.AppendFile(
			chain.HashData([]byte(content)),
			[][]byte{[]byte(content)},
			s.Persist,
		)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
	s2, err := store.NewFileStore(dataDir)
	require.NoError(t, err)
	defer s2.Close()
	loaded, err := s2.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	reloaded, err := chain.FromBlocks(loaded)
	require.NoError(t, err)
	assert.Equal(t, c.HeadHash(), reloaded.HeadHash())
}
