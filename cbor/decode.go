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

package cbor

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	_cbor "github.com/fxamacker/cbor/v2"
)

var (
	cachedDecMode     _cbor.DecMode
	cachedDecModeErr  error
	cachedDecModeOnce sync.Once
)

// getDecMode returns a cached DecMode, initializing it on first use.
func getDecMode() (_cbor.DecMode, error) {
	cachedDecModeOnce.Do(func() {
		opts := _cbor.DecOptions{
			ExtraReturnErrors: _cbor.ExtraDecErrorUnknownField,
		}
		cachedDecMode, cachedDecModeErr = opts.DecMode()
	})
	return cachedDecMode, cachedDecModeErr
}

// Decode decodes the first CBOR item in data into dest and returns the
// number of bytes consumed. A truncated item returns io.ErrUnexpectedEOF,
// which callers use to detect partial multi-segment messages.
func Decode(data []byte, dest any) (int, error) {
	dm, err := getDecMode()
	if err != nil {
		return 0, err
	}
	dec := dm.NewDecoder(bytes.NewReader(data))
	err = dec.Decode(dest)
	return dec.NumBytesRead(), err
}

// ListLength returns the length of the CBOR list at the start of data
func ListLength(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("empty CBOR data")
	}
	if data[0]&CborTypeMask != CborTypeArray {
		return 0, fmt.Errorf("CBOR value is not a list: 0x%02x", data[0])
	}
	var tmp []RawMessage
	if _, err := Decode(data, &tmp); err != nil {
		return 0, err
	}
	return len(tmp), nil
}

// DecodeIdFromList extracts the first item from a CBOR list. This is used
// to peek at the message type before full message decoding.
func DecodeIdFromList(data []byte) (int, error) {
	listLen, err := ListLength(data)
	if err != nil {
		return 0, err
	}
	if listLen == 0 {
		return 0, errors.New("cannot return first item from empty list")
	}
	var tmpList []any
	if _, err := Decode(data, &tmpList); err != nil {
		return 0, err
	}
	id, ok := tmpList[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("first list item is not numeric: %v", tmpList[0])
	}
	return int(id), nil
}
