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

package mock

import (
	"github.com/chainvault/chainvault/chunk"
	"github.com/chainvault/chainvault/protocol"
	"github.com/chainvault/chainvault/protocol/handshake"
)

// MockBlockSize is the block size negotiated by the mock handshake entries
const MockBlockSize uint32 = chunk.DefaultBlockSize

// ConversationEntry is an entry in a scripted mock conversation
type ConversationEntry interface {
	isConversationEntry()
}

// ConversationEntryInput expects a message from the peer under test. If
// Message is set, the received message must encode to the same CBOR;
// otherwise only the message type is checked.
type ConversationEntryInput struct {
	ProtocolId      uint16
	IsResponse      bool
	Message         protocol.Message
	MessageType     uint
	MsgFromCborFunc protocol.MessageFromCborFunc
}

func (ConversationEntryInput) isConversationEntry() {}

// ConversationEntryOutput sends messages to the peer under test
type ConversationEntryOutput struct {
	ProtocolId uint16
	IsResponse bool
	Messages   []protocol.Message
}

func (ConversationEntryOutput) isConversationEntry() {}

// ConversationEntryClose closes the connection
type ConversationEntryClose struct{}

func (ConversationEntryClose) isConversationEntry() {}

// ConversationEntryHandshakeRequestGeneric matches any handshake proposal
// from a client under test
var ConversationEntryHandshakeRequestGeneric = ConversationEntryInput{
	ProtocolId:      handshake.ProtocolId,
	MessageType:     handshake.MessageTypeProposeVersions,
	MsgFromCborFunc: handshake.NewMsgFromCbor,
}

// ConversationEntryHandshakeResponse accepts protocol version 1 with the
// mock block size
var ConversationEntryHandshakeResponse = ConversationEntryOutput{
	ProtocolId: handshake.ProtocolId,
	IsResponse: true,
	Messages: []protocol.Message{
		handshake.NewMsgAcceptVersion(1, MockBlockSize),
	},
}
