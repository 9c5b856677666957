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

// Package chunk splits file content into fixed-size payloads and reassembles
// them.
package chunk

import (
	"errors"
	"fmt"
)

// DefaultBlockSize is the block size used when none is negotiated
const DefaultBlockSize = 500

// ErrInvalidBlockSize is returned when the block size is zero
var ErrInvalidBlockSize = errors.New("block size must be greater than zero")

// Split divides data into payloads of at most blockSize bytes. Empty input
// produces a single zero-length payload so that an empty file still occupies
// a block in the chain.
func Split(data []byte, blockSize uint32) ([][]byte, error) {
	if blockSize == 0 {
		return nil, ErrInvalidBlockSize
	}
	if len(data) == 0 {
		return [][]byte{{}}, nil
	}
	size := int(blockSize)
	payloads := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		chunk := data
		if len(chunk) > size {
			chunk = data[:size]
		}
		payload := make([]byte, len(chunk))
		copy(payload, chunk)
		payloads = append(payloads, payload)
		data = data[len(chunk):]
	}
	return payloads, nil
}

// Reassemble concatenates payloads back into file content. The payloads
// must already be in sequence order.
func Reassemble(payloads [][]byte) ([]byte, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no payloads to reassemble")
	}
	var total int
	for _, payload := range payloads {
		total += len(payload)
	}
	data := make([]byte, 0, total)
	for _, payload := range payloads {
		data = append(data, payload...)
	}
	return data, nil
}
