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

// Package store provides durable persistence for the block chain. A store
// only ever sees whole-file batches: either every block of a batch is
// persisted or none of it is.
package store

import (
	"github.com/chainvault/chainvault/chain"
)

// Store persists chain blocks across restarts
type Store interface {
	// Load returns all persisted blocks in chain order
	Load() ([]*chain.Block, error)
	// Persist durably writes a batch of blocks. The batch is the unit of
	// atomicity.
	Persist(blocks []*chain.Block) error
	// Close releases any resources held by the store
	Close() error
}
