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

package handshake

import (
	"fmt"

	"github.com/chainvault/chainvault/cbor"
	"github.com/chainvault/chainvault/protocol"
)

// Message types
const (
	MessageTypeProposeVersions = 0
	MessageTypeAcceptVersion   = 1
	MessageTypeRefuse          = 2
)

// Refusal reasons
const (
	RefuseReasonVersionMismatch uint64 = 0
	RefuseReasonDecodeError     uint64 = 1
	RefuseReasonRefused         uint64 = 2
)

// NewMsgFromCbor parses a Handshake message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeProposeVersions:
		ret = &MsgProposeVersions{}
	case MessageTypeAcceptVersion:
		ret = &MsgAcceptVersion{}
	case MessageTypeRefuse:
		ret = &MsgRefuse{}
	default:
		return nil, fmt.Errorf("%s: unknown message type: %d", ProtocolName, msgType)
	}
	if _, err := cbor.Decode(data, ret); err != nil {
		return nil, fmt.Errorf("%s: decode error: %w", ProtocolName, err)
	}
	// Store the raw message CBOR
	ret.SetCbor(data)
	return ret, nil
}

// MsgProposeVersions proposes the client's supported protocol versions and
// preferred block size
type MsgProposeVersions struct {
	protocol.MessageBase
	Versions  []uint16
	BlockSize uint32
}

func NewMsgProposeVersions(versions []uint16, blockSize uint32) *MsgProposeVersions {
	m := &MsgProposeVersions{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeProposeVersions,
		},
		Versions:  versions,
		BlockSize: blockSize,
	}
	return m
}

// MsgAcceptVersion confirms the negotiated protocol version and carries the
// server's authoritative block size
type MsgAcceptVersion struct {
	protocol.MessageBase
	Version   uint16
	BlockSize uint32
}

func NewMsgAcceptVersion(version uint16, blockSize uint32) *MsgAcceptVersion {
	m := &MsgAcceptVersion{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAcceptVersion,
		},
		Version:   version,
		BlockSize: blockSize,
	}
	return m
}

// MsgRefuse rejects the proposal. Reason is one of the RefuseReason values
// followed by reason-specific items.
type MsgRefuse struct {
	protocol.MessageBase
	Reason []any
}

func NewMsgRefuse(reason []any) *MsgRefuse {
	m := &MsgRefuse{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeRefuse,
		},
		Reason: reason,
	}
	return m
}
