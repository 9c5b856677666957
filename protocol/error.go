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

package protocol

import "errors"

// ErrProtocolShuttingDown is returned when an operation is attempted while
// the protocol is shutting down
var ErrProtocolShuttingDown = errors.New("protocol is shutting down")

// Protocol violation errors cause connection termination
var (
	ErrProtocolViolationNoAgency = errors.New(
		"protocol violation: sender does not have agency in the current state",
	)
	ErrProtocolViolationInvalidMessage = errors.New(
		"protocol violation: invalid message received for current state",
	)
)
