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

package chain

import (
	"sync"
)

// Record describes where a block lives in the chain and which file it
// belongs to
type Record struct {
	Index    uint64
	FileHash Hash
	Sequence uint32
}

// ContentIndex maps block and file hashes to chain positions, giving O(1)
// presence checks and per-file block lookup without walking the chain.
type ContentIndex struct {
	mutex  sync.RWMutex
	blocks map[Hash]Record
	files  map[Hash][]uint64
}

// NewContentIndex returns a new empty ContentIndex
func NewContentIndex() *ContentIndex {
	return &ContentIndex{
		blocks: make(map[Hash]Record),
		files:  make(map[Hash][]uint64),
	}
}

// Add indexes a single block
func (c *ContentIndex) Add(block *Block) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.addLocked(block)
}

func (c *ContentIndex) addLocked(block *Block) {
	c.blocks[block.Hash] = Record{
		Index:    block.Index,
		FileHash: block.FileHash,
		Sequence: block.Sequence,
	}
	c.files[block.FileHash] = append(c.files[block.FileHash], block.Index)
}

// Rebuild replaces the index contents from a full chain snapshot
func (c *ContentIndex) Rebuild(blocks []*Block) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.blocks = make(map[Hash]Record, len(blocks))
	c.files = make(map[Hash][]uint64)
	for _, block := range blocks {
		c.addLocked(block)
	}
}

// HasBlock returns whether a block with the given hash is in the chain
func (c *ContentIndex) HasBlock(blockHash Hash) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.blocks[blockHash]
	return ok
}

// HasFile returns whether any block belongs to the given file hash
func (c *ContentIndex) HasFile(fileHash Hash) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.files[fileHash]
	return ok
}

// BlockLocation returns the chain record for the given block hash
func (c *ContentIndex) BlockLocation(blockHash Hash) (Record, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	record, ok := c.blocks[blockHash]
	return record, ok
}

// FileBlocks returns the chain indexes of the blocks belonging to the given
// file hash, in append order
func (c *ContentIndex) FileBlocks(fileHash Hash) []uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	indexes, ok := c.files[fileHash]
	if !ok {
		return nil
	}
	ret := make([]uint64, len(indexes))
	copy(ret, indexes)
	return ret
}

// Len returns the number of indexed blocks
func (c *ContentIndex) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.blocks)
}
