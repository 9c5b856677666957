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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/chainvault/chainvault/cbor"
	"github.com/chainvault/chainvault/chain"
)

// chainLogFilename is the name of the append-only chain log inside the data
// directory
const chainLogFilename = "chain.log"

// fileRecord is the on-disk form of a single block. Payloads are
// zstd-compressed.
type fileRecord struct {
	cbor.StructAsArray
	Index    uint64
	PrevHash chain.Hash
	Hash     chain.Hash
	FileHash chain.Hash
	Sequence uint32
	Payload  []byte
}

// FileStore persists blocks to an append-only log file. Each Persist call
// appends the whole batch with a single write followed by a sync, so a
// crash can only lose whole batches, never tear one.
type FileStore struct {
	mutex   sync.Mutex
	path    string
	file    *os.File
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore opens (or creates) the chain log in the given data directory
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, chainLogFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chain log: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		file.Close()
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileStore{
		path:    path,
		file:    file,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Load reads the full chain log and returns the blocks in chain order
func (f *FileStore) Load() ([]*chain.Block, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read chain log: %w", err)
	}
	var blocks []*chain.Block
	for len(data) > 0 {
		var record fileRecord
		numBytesRead, err := cbor.Decode(data, &record)
		if err != nil {
			return nil, fmt.Errorf(
				"decode chain log record %d: %w", len(blocks), err,
			)
		}
		payload, err := f.decoder.DecodeAll(record.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf(
				"decompress chain log record %d: %w", len(blocks), err,
			)
		}
		blocks = append(blocks, &chain.Block{
			Index:    record.Index,
			Payload:  payload,
			FileHash: record.FileHash,
			Sequence: record.Sequence,
			PrevHash: record.PrevHash,
			Hash:     record.Hash,
		})
		data = data[numBytesRead:]
	}
	return blocks, nil
}

// Persist appends a batch of blocks to the chain log and syncs it
func (f *FileStore) Persist(blocks []*chain.Block) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	buf := &bytes.Buffer{}
	for _, block := range blocks {
		record := fileRecord{
			Index:    block.Index,
			PrevHash: block.PrevHash,
			Hash:     block.Hash,
			FileHash: block.FileHash,
			Sequence: block.Sequence,
			Payload:  f.encoder.EncodeAll(block.Payload, nil),
		}
		data, err := cbor.Encode(&record)
		if err != nil {
			return fmt.Errorf("encode chain log record: %w", err)
		}
		buf.Write(data)
	}
	if _, err := f.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write chain log: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync chain log: %w", err)
	}
	return nil
}

// Close closes the chain log and releases the compressor
func (f *FileStore) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.decoder.Close()
	if err := f.encoder.Close(); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}
