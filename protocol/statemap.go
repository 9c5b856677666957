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

import (
	"time"
)

// ProtocolRole identifies whether a protocol instance acts as the client or
// the server
type ProtocolRole uint

const (
	ProtocolRoleNone   ProtocolRole = 0
	ProtocolRoleClient ProtocolRole = 1
	ProtocolRoleServer ProtocolRole = 2
)

// StateAgency identifies which side is allowed to send the next message in
// a given state
type StateAgency uint

const (
	AgencyNone   StateAgency = 0
	AgencyClient StateAgency = 1
	AgencyServer StateAgency = 2
)

// State represents a protocol state
type State struct {
	Id   uint
	Name string
}

// NewState returns a new State object with the provided state ID and name
func NewState(id uint, name string) State {
	return State{
		Id:   id,
		Name: name,
	}
}

func (s State) String() string {
	return s.Name
}

// StateTransitionMatchFunc can be used to further qualify a transition
// beyond the message type
type StateTransitionMatchFunc func(Message) bool

// StateTransition describes a valid transition out of a state for a given
// message type
type StateTransition struct {
	MsgType   uint8
	NewState  State
	MatchFunc StateTransitionMatchFunc
}

// StateMapEntry describes a protocol state: which side has agency, how long
// the other side will wait for a message, and the valid transitions
type StateMapEntry struct {
	Agency      StateAgency
	Timeout     time.Duration
	Transitions []StateTransition
}

// StateMap is a mapping of protocol states to their possible transitions
type StateMap map[State]StateMapEntry

// Copy returns a copy of the state map. Mini-protocols use this to apply
// configured timeouts without mutating the shared map.
func (s StateMap) Copy() StateMap {
	ret := StateMap{}
	for state, entry := range s {
		ret[state] = entry
	}
	return ret
}
