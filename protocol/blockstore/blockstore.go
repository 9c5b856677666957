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

// Package blockstore implements the mini-protocol used to store and
// retrieve files from the chain. The client drives one operation at a time:
// add a file (streamed as blocks and committed atomically), check a hash,
// verify the chain, or fetch a file back as a block stream.
package blockstore

import (
	"time"

	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/protocol"
)

// Protocol identifiers
const (
	ProtocolName = "block-store"
	ProtocolId   = 1
)

var (
	stateIdle      = protocol.NewState(1, "Idle")
	stateAdding    = protocol.NewState(2, "Adding")
	stateAddAck    = protocol.NewState(3, "AddAck")
	stateChecking  = protocol.NewState(4, "Checking")
	stateVerifying = protocol.NewState(5, "Verifying")
	stateGetting   = protocol.NewState(6, "Getting")
	stateStreaming = protocol.NewState(7, "Streaming")
	stateDone      = protocol.NewState(8, "Done")
)

// BlockStore protocol state machine
var StateMap = protocol.StateMap{
	stateIdle: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeAddRequest,
				NewState: stateAdding,
			},
			{
				MsgType:  MessageTypeCheckRequest,
				NewState: stateChecking,
			},
			{
				MsgType:  MessageTypeVerifyRequest,
				NewState: stateVerifying,
			},
			{
				MsgType:  MessageTypeGetRequest,
				NewState: stateGetting,
			},
			{
				MsgType:  MessageTypeDone,
				NewState: stateDone,
			},
		},
	},
	stateAdding: protocol.StateMapEntry{
		Agency: protocol.AgencyClient,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeAddBlock,
				NewState: stateAdding,
			},
			{
				MsgType:  MessageTypeAddDone,
				NewState: stateAddAck,
			},
		},
	},
	stateAddAck: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeAddAck,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeError,
				NewState: stateIdle,
			},
		},
	},
	stateChecking: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeCheckResponse,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeError,
				NewState: stateIdle,
			},
		},
	},
	stateVerifying: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeVerifyResponse,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeError,
				NewState: stateIdle,
			},
		},
	},
	stateGetting: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeStartStream,
				NewState: stateStreaming,
			},
			{
				MsgType:  MessageTypeNotFound,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeError,
				NewState: stateIdle,
			},
		},
	},
	stateStreaming: protocol.StateMapEntry{
		Agency: protocol.AgencyServer,
		Transitions: []protocol.StateTransition{
			{
				MsgType:  MessageTypeBlock,
				NewState: stateStreaming,
			},
			{
				MsgType:  MessageTypeStreamDone,
				NewState: stateIdle,
			},
			{
				MsgType:  MessageTypeError,
				NewState: stateIdle,
			},
		},
	},
	stateDone: protocol.StateMapEntry{
		Agency: protocol.AgencyNone,
	},
}

// BlockStore is a wrapper object that holds the client and server instances
type BlockStore struct {
	Client *Client
	Server *Server
}

// Callback function types
type (
	// AddFileFunc commits a complete file to the chain
	AddFileFunc func(fileHash chain.Hash, payloads [][]byte) error
	// CheckHashFunc reports whether a block or file hash is in the chain
	CheckHashFunc func(hash chain.Hash) (bool, error)
	// VerifyChainFunc verifies chain integrity, returning the index of the
	// first broken block when verification fails
	VerifyChainFunc func() (ok bool, brokenIndex uint64, err error)
	// GetFileFunc returns a file's payloads in sequence order
	GetFileFunc func(fileHash chain.Hash) ([][]byte, error)
)

// Config is used to configure the BlockStore protocol instance
type Config struct {
	AddFileFunc     AddFileFunc
	CheckHashFunc   CheckHashFunc
	VerifyChainFunc VerifyChainFunc
	GetFileFunc     GetFileFunc
	Timeout         time.Duration
}

// New returns a new BlockStore object
func New(protoOptions protocol.ProtocolOptions, cfg *Config) *BlockStore {
	b := &BlockStore{
		Client: NewClient(protoOptions, cfg),
		Server: NewServer(protoOptions, cfg),
	}
	return b
}

// BlockStoreOptionFunc represents a function used to modify the BlockStore protocol config
type BlockStoreOptionFunc func(*Config)

// NewConfig returns a new BlockStore config object with the provided options
func NewConfig(options ...BlockStoreOptionFunc) Config {
	c := Config{
		Timeout: 30 * time.Second,
	}
	// Apply provided options functions
	for _, option := range options {
		option(&c)
	}
	return c
}

// WithAddFileFunc specifies the AddFile callback function
func WithAddFileFunc(addFileFunc AddFileFunc) BlockStoreOptionFunc {
	return func(c *Config) {
		c.AddFileFunc = addFileFunc
	}
}

// WithCheckHashFunc specifies the CheckHash callback function
func WithCheckHashFunc(checkHashFunc CheckHashFunc) BlockStoreOptionFunc {
	return func(c *Config) {
		c.CheckHashFunc = checkHashFunc
	}
}

// WithVerifyChainFunc specifies the VerifyChain callback function
func WithVerifyChainFunc(verifyChainFunc VerifyChainFunc) BlockStoreOptionFunc {
	return func(c *Config) {
		c.VerifyChainFunc = verifyChainFunc
	}
}

// WithGetFileFunc specifies the GetFile callback function
func WithGetFileFunc(getFileFunc GetFileFunc) BlockStoreOptionFunc {
	return func(c *Config) {
		c.GetFileFunc = getFileFunc
	}
}

// WithTimeout specifies the timeout for operations against the server
func WithTimeout(timeout time.Duration) BlockStoreOptionFunc {
	return func(c *Config) {
		c.Timeout = timeout
	}
}
