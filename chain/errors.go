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
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested block or file is not in the chain
var ErrNotFound = errors.New("not found in chain")

// ErrDuplicateFile is returned when appending a file whose hash is already
// present in the chain
var ErrDuplicateFile = errors.New("file already stored in chain")

// CorruptionError reports the first block at which chain verification failed
type CorruptionError struct {
	Index  uint64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("chain corrupt at block %d: %s", e.Index, e.Reason)
}
