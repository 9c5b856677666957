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

package blockstore

import (
	"errors"
	"fmt"
)

// ErrFileNotFound is returned by GetFile when the server does not have the
// requested file
var ErrFileNotFound = errors.New("file not found")

// ServerError wraps a failure reason reported by the server
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Reason)
}
