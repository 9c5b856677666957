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

// Package chain implements the hash-linked block chain and the
// content-addressed index over it. Every stored file is split into blocks
// that are appended to a single chain, with each block carrying the hash of
// its predecessor.
package chain

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/chainvault/chainvault/cbor"
)

// HashSize is the size of a block or file hash in bytes
const HashSize = 32

// Hash is a BLAKE2b-256 digest. The zero value marks the predecessor of the
// first block in a chain.
type Hash [HashSize]byte

// ZeroHash is the hash value used as the previous-hash of a genesis block
var ZeroHash = Hash{}

// HashData returns the hash of the provided data
func HashData(data []byte) Hash {
	return blake2b.Sum256(data)
}

// String returns the base58 form of the hash
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero returns whether the hash is the zero value
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes returns the hash as a byte slice
func (h Hash) Bytes() []byte {
	return h[:]
}

// MarshalCBOR encodes the hash as a CBOR byte string
func (h Hash) MarshalCBOR() ([]byte, error) {
	return cbor.Encode(h[:])
}

// UnmarshalCBOR decodes the hash from a CBOR byte string
func (h *Hash) UnmarshalCBOR(data []byte) error {
	var tmpData []byte
	if _, err := cbor.Decode(data, &tmpData); err != nil {
		return err
	}
	if len(tmpData) != HashSize {
		return fmt.Errorf("invalid hash length: %d", len(tmpData))
	}
	copy(h[:], tmpData)
	return nil
}

// ParseHash decodes a base58-encoded hash string
func ParseHash(s string) (Hash, error) {
	var h Hash
	decoded := base58.Decode(s)
	if len(decoded) != HashSize {
		return h, fmt.Errorf("invalid hash string: %q", s)
	}
	copy(h[:], decoded)
	return h, nil
}

// Block is a single entry in the chain. Payload holds one chunk of file
// content, FileHash identifies the file the chunk belongs to, and Sequence
// is the chunk's position within that file.
type Block struct {
	Index    uint64
	Payload  []byte
	FileHash Hash
	Sequence uint32
	PrevHash Hash
	Hash     Hash
}

// blockHashBody is the canonical encoding a block hash is computed over.
// The stored Hash field is deliberately excluded.
type blockHashBody struct {
	cbor.StructAsArray
	Index    uint64
	Payload  []byte
	FileHash Hash
	Sequence uint32
	PrevHash Hash
}

// ComputeHash returns the hash of the block contents
func (b *Block) ComputeHash() (Hash, error) {
	body := blockHashBody{
		Index:    b.Index,
		Payload:  b.Payload,
		FileHash: b.FileHash,
		Sequence: b.Sequence,
		PrevHash: b.PrevHash,
	}
	data, err := cbor.Encode(&body)
	if err != nil {
		return Hash{}, err
	}
	return HashData(data), nil
}

// NewBlock builds a block with its hash populated
func NewBlock(
	index uint64,
	payload []byte,
	fileHash Hash,
	sequence uint32,
	prevHash Hash,
) (*Block, error) {
	b := &Block{
		Index:    index,
		Payload:  payload,
		FileHash: fileHash,
		Sequence: sequence,
		PrevHash: prevHash,
	}
	blockHash, err := b.ComputeHash()
	if err != nil {
		return nil, err
	}
	b.Hash = blockHash
	return b, nil
}

// Valid reports whether the stored hash matches the block contents
func (b *Block) Valid() bool {
	blockHash, err := b.ComputeHash()
	if err != nil {
		return false
	}
	return bytes.Equal(blockHash[:], b.Hash[:])
}
