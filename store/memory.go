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

package store

import (
	"sync"

	"github.com/chainvault/chainvault/chain"
)

// MemoryStore keeps blocks in memory only. Used when the server runs
// without a data directory, and in tests.
type MemoryStore struct {
	mutex  sync.Mutex
	blocks []*chain.Block
}

// NewMemoryStore returns a new empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns all stored blocks in chain order
func (m *MemoryStore) Load() ([]*chain.Block, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ret := make([]*chain.Block, len(m.blocks))
	copy(ret, m.blocks)
	return ret, nil
}

// Persist stores a batch of blocks
func (m *MemoryStore) Persist(blocks []*chain.Block) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.blocks = append(m.blocks, blocks...)
	return nil
}

// Close is a no-op for MemoryStore
func (m *MemoryStore) Close() error {
	return nil
}
