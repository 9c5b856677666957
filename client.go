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
	"fmt"

	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/chunk"
	"github.com/chainvault/chainvault/protocol/blockstore"
)

// AddFile splits content into blocks of the negotiated size and stores it
// on the server. The returned hash identifies the file for later retrieval.
func (c *Connection) AddFile(content []byte) (chain.Hash, error) {
	if c.blockStore == nil {
		return chain.Hash{}, fmt.Errorf("connection not established")
	}
	fileHash := chain.HashData(content)
	payloads, err := chunk.Split(content, c.negotiatedBlockSize)
	if err != nil {
		return chain.Hash{}, err
	}
	if err := c.blockStore.Client.AddFile(fileHash, payloads); err != nil {
		return chain.Hash{}, err
	}
	return fileHash, nil
}

// GetFile fetches a file by hash and reassembles it, verifying that the
// returned content matches the requested hash
func (c *Connection) GetFile(fileHash chain.Hash) ([]byte, error) {
	if c.blockStore == nil {
		return nil, fmt.Errorf("connection not established")
	}
	payloads, err := c.blockStore.Client.GetFile(fileHash)
	if err != nil {
		return nil, err
	}
	content, err := chunk.Reassemble(payloads)
	if err != nil {
		return nil, err
	}
	if contentHash := chain.HashData(content); contentHash != fileHash {
		return nil, fmt.Errorf(
			"retrieved content hash %s does not match requested hash %s",
			contentHash,
			fileHash,
		)
	}
	return content, nil
}

// CheckHash asks the server whether a block or file hash is present in the
// chain
func (c *Connection) CheckHash(hash chain.Hash) (bool, error) {
	if c.blockStore == nil {
		return false, fmt.Errorf("connection not established")
	}
	return c.blockStore.Client.CheckHash(hash)
}

// VerifyChain asks the server to verify the integrity of its chain
func (c *Connection) VerifyChain() (blockstore.VerifyResult, error) {
	if c.blockStore == nil {
		return blockstore.VerifyResult{}, fmt.Errorf("connection not established")
	}
	return c.blockStore.Client.VerifyChain()
}
