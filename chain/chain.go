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
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/jinzhu/copier"
)

// PersistFunc is called with a batch of new blocks before they become
// visible in the chain. Returning an error aborts the append.
type PersistFunc func([]*Block) error

// Chain is the single-writer hash-linked block chain. All mutation goes
// through AppendFile, which either appends a whole file's blocks or nothing.
type Chain struct {
	mutex  sync.RWMutex
	blocks []*Block
	index  *ContentIndex
}

// NewChain returns a new empty Chain
func NewChain() *Chain {
	return &Chain{
		index: NewContentIndex(),
	}
}

// FromBlocks builds a Chain from an existing block sequence, verifying the
// hash links before accepting it
func FromBlocks(blocks []*Block) (*Chain, error) {
	c := &Chain{
		blocks: blocks,
		index:  NewContentIndex(),
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	c.index.Rebuild(blocks)
	return c, nil
}

// Index returns the content index over the chain
func (c *Chain) Index() *ContentIndex {
	return c.index
}

// Len returns the number of blocks in the chain
func (c *Chain) Len() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return uint64(len(c.blocks))
}

// HeadHash returns the hash of the most recent block, or ZeroHash for an
// empty chain
func (c *Chain) HeadHash() Hash {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.headHashLocked()
}

func (c *Chain) headHashLocked() Hash {
	if len(c.blocks) == 0 {
		return ZeroHash
	}
	return c.blocks[len(c.blocks)-1].Hash
}

// AppendFile appends one block per payload, all belonging to the given file
// hash. The persist callback runs before the blocks become visible; if it
// fails, the chain is unchanged. A file hash already present in the chain is
// rejected with ErrDuplicateFile.
func (c *Chain) AppendFile(
	fileHash Hash,
	payloads [][]byte,
	persist PersistFunc,
) ([]*Block, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no payloads to append")
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.index.HasFile(fileHash) {
		return nil, ErrDuplicateFile
	}
	newBlocks := make([]*Block, 0, len(payloads))
	prevHash := c.headHashLocked()
	nextIndex := uint64(len(c.blocks))
	for i, payload := range payloads {
		if uint64(i) > math.MaxUint32 {
			return nil, fmt.Errorf("too many payloads for file")
		}
		block, err := NewBlock(nextIndex, payload, fileHash, uint32(i), prevHash)
		if err != nil {
			return nil, err
		}
		newBlocks = append(newBlocks, block)
		prevHash = block.Hash
		nextIndex++
	}
	if persist != nil {
		if err := persist(newBlocks); err != nil {
			return nil, err
		}
	}
	c.blocks = append(c.blocks, newBlocks...)
	for _, block := range newBlocks {
		c.index.Add(block)
	}
	return copyBlocks(newBlocks)
}

// Verify walks the whole chain checking each block's content hash and its
// link to the previous block. The first failure is reported as a
// CorruptionError.
func (c *Chain) Verify() error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	prevHash := ZeroHash
	for i, block := range c.blocks {
		if block.Index != uint64(i) {
			return &CorruptionError{
				Index:  uint64(i),
				Reason: fmt.Sprintf("unexpected block index %d", block.Index),
			}
		}
		if block.PrevHash != prevHash {
			return &CorruptionError{
				Index:  uint64(i),
				Reason: "previous-hash link broken",
			}
		}
		if !block.Valid() {
			return &CorruptionError{
				Index:  uint64(i),
				Reason: "block hash does not match contents",
			}
		}
		prevHash = block.Hash
	}
	return nil
}

// Block returns a copy of the block at the given chain index
func (c *Chain) Block(index uint64) (*Block, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if index >= uint64(len(c.blocks)) {
		return nil, ErrNotFound
	}
	var ret Block
	if err := copier.CopyWithOption(
		&ret, c.blocks[index], copier.Option{DeepCopy: true},
	); err != nil {
		return nil, err
	}
	return &ret, nil
}

// BlocksForFile returns copies of the blocks belonging to the given file
// hash, ordered by sequence number
func (c *Chain) BlocksForFile(fileHash Hash) ([]*Block, error) {
	indexes := c.index.FileBlocks(fileHash)
	if len(indexes) == 0 {
		return nil, ErrNotFound
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	blocks := make([]*Block, 0, len(indexes))
	for _, index := range indexes {
		if index >= uint64(len(c.blocks)) {
			return nil, ErrNotFound
		}
		blocks = append(blocks, c.blocks[index])
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Sequence < blocks[j].Sequence
	})
	return copyBlocks(blocks)
}

// Blocks returns a copy of the full chain
func (c *Chain) Blocks() ([]*Block, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return copyBlocks(c.blocks)
}

func copyBlocks(blocks []*Block) ([]*Block, error) {
	ret := make([]*Block, 0, len(blocks))
	for _, block := range blocks {
		var tmpBlock Block
		if err := copier.CopyWithOption(
			&tmpBlock, block, copier.Option{DeepCopy: true},
		); err != nil {
			return nil, err
		}
		ret = append(ret, &tmpBlock)
	}
	return ret, nil
}
