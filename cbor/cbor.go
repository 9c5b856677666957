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

// Package cbor wraps the fxamacker/cbor library with the encoding options
// used for all chainvault wire messages and persisted records.
package cbor

import (
	_cbor "github.com/fxamacker/cbor/v2"
)

const (
	CborTypeArray uint8 = 0x80

	// Only the top 3 bits are used to specify the type
	CborTypeMask uint8 = 0xe0
)

// RawMessage is an alias for convenience
type RawMessage = _cbor.RawMessage

// StructAsArray is useful for embedding and easier to remember
type StructAsArray struct {
	// Tells the CBOR decoder to convert to/from a struct and a CBOR array
	_ struct{} `cbor:",toarray"`
}
