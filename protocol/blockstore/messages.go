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
	"fmt"

	"github.com/chainvault/chainvault/cbor"
	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/protocol"
)

// Message types
const (
	MessageTypeAddRequest     = 0
	MessageTypeAddBlock       = 1
	MessageTypeAddDone        = 2
	MessageTypeAddAck         = 3
	MessageTypeCheckRequest   = 4
	MessageTypeCheckResponse  = 5
	MessageTypeVerifyRequest  = 6
	MessageTypeVerifyResponse = 7
	MessageTypeGetRequest     = 8
	MessageTypeStartStream    = 9
	MessageTypeBlock          = 10
	MessageTypeStreamDone     = 11
	MessageTypeNotFound       = 12
	MessageTypeError          = 13
	MessageTypeDone           = 14
)

// NewMsgFromCbor parses a BlockStore message from CBOR
func NewMsgFromCbor(msgType uint, data []byte) (protocol.Message, error) {
	var ret protocol.Message
	switch msgType {
	case MessageTypeAddRequest:
		ret = &MsgAddRequest{}
	case MessageTypeAddBlock:
		ret = &MsgAddBlock{}
	case MessageTypeAddDone:
		ret = &MsgAddDone{}
	case MessageTypeAddAck:
		ret = &MsgAddAck{}
	case MessageTypeCheckRequest:
		ret = &MsgCheckRequest{}
	case MessageTypeCheckResponse:
		ret = &MsgCheckResponse{}
	case MessageTypeVerifyRequest:
		ret = &MsgVerifyRequest{}
	case MessageTypeVerifyResponse:
		ret = &MsgVerifyResponse{}
	case MessageTypeGetRequest:
		ret = &MsgGetRequest{}
	case MessageTypeStartStream:
		ret = &MsgStartStream{}
	case MessageTypeBlock:
		ret = &MsgBlock{}
	case MessageTypeStreamDone:
		ret = &MsgStreamDone{}
	case MessageTypeNotFound:
		ret = &MsgNotFound{}
	case MessageTypeError:
		ret = &MsgError{}
	case MessageTypeDone:
		ret = &MsgDone{}
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

// MsgAddRequest announces a file to be stored: its content hash and how
// many blocks will follow
type MsgAddRequest struct {
	protocol.MessageBase
	FileHash   chain.Hash
	BlockCount uint32
}

func NewMsgAddRequest(fileHash chain.Hash, blockCount uint32) *MsgAddRequest {
	m := &MsgAddRequest{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAddRequest,
		},
		FileHash:   fileHash,
		BlockCount: blockCount,
	}
	return m
}

// MsgAddBlock carries one chunk of the file being added
type MsgAddBlock struct {
	protocol.MessageBase
	Sequence uint32
	Payload  []byte
}

func NewMsgAddBlock(sequence uint32, payload []byte) *MsgAddBlock {
	m := &MsgAddBlock{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAddBlock,
		},
		Sequence: sequence,
		Payload:  payload,
	}
	return m
}

// MsgAddDone signals that all blocks of the file have been sent
type MsgAddDone struct {
	protocol.MessageBase
}

func NewMsgAddDone() *MsgAddDone {
	m := &MsgAddDone{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAddDone,
		},
	}
	return m
}

// MsgAddAck confirms that the file was committed to the chain
type MsgAddAck struct {
	protocol.MessageBase
	FileHash chain.Hash
}

func NewMsgAddAck(fileHash chain.Hash) *MsgAddAck {
	m := &MsgAddAck{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeAddAck,
		},
		FileHash: fileHash,
	}
	return m
}

// MsgCheckRequest asks whether a block or file hash is present in the chain
type MsgCheckRequest struct {
	protocol.MessageBase
	Hash chain.Hash
}

func NewMsgCheckRequest(hash chain.Hash) *MsgCheckRequest {
	m := &MsgCheckRequest{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeCheckRequest,
		},
		Hash: hash,
	}
	return m
}

// MsgCheckResponse answers a presence check
type MsgCheckResponse struct {
	protocol.MessageBase
	Present bool
}

func NewMsgCheckResponse(present bool) *MsgCheckResponse {
	m := &MsgCheckResponse{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeCheckResponse,
		},
		Present: present,
	}
	return m
}

// MsgVerifyRequest asks the server to verify chain integrity
type MsgVerifyRequest struct {
	protocol.MessageBase
}

func NewMsgVerifyRequest() *MsgVerifyRequest {
	m := &MsgVerifyRequest{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeVerifyRequest,
		},
	}
	return m
}

// MsgVerifyResponse reports the verification result. BrokenIndex is only
// meaningful when Ok is false.
type MsgVerifyResponse struct {
	protocol.MessageBase
	Ok          bool
	BrokenIndex uint64
}

func NewMsgVerifyResponse(ok bool, brokenIndex uint64) *MsgVerifyResponse {
	m := &MsgVerifyResponse{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeVerifyResponse,
		},
		Ok:          ok,
		BrokenIndex: brokenIndex,
	}
	return m
}

// MsgGetRequest asks for a file's content by its hash
type MsgGetRequest struct {
	protocol.MessageBase
	FileHash chain.Hash
}

func NewMsgGetRequest(fileHash chain.Hash) *MsgGetRequest {
	m := &MsgGetRequest{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeGetRequest,
		},
		FileHash: fileHash,
	}
	return m
}

// MsgStartStream opens the block stream for a GetRequest
type MsgStartStream struct {
	protocol.MessageBase
	BlockCount uint32
}

func NewMsgStartStream(blockCount uint32) *MsgStartStream {
	m := &MsgStartStream{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeStartStream,
		},
		BlockCount: blockCount,
	}
	return m
}

// MsgBlock carries one chunk of a streamed file
type MsgBlock struct {
	protocol.MessageBase
	Sequence uint32
	Payload  []byte
}

func NewMsgBlock(sequence uint32, payload []byte) *MsgBlock {
	m := &MsgBlock{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeBlock,
		},
		Sequence: sequence,
		Payload:  payload,
	}
	return m
}

// MsgStreamDone closes the block stream
type MsgStreamDone struct {
	protocol.MessageBase
}

func NewMsgStreamDone() *MsgStreamDone {
	m := &MsgStreamDone{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeStreamDone,
		},
	}
	return m
}

// MsgNotFound reports that the requested file is not in the chain
type MsgNotFound struct {
	protocol.MessageBase
}

func NewMsgNotFound() *MsgNotFound {
	m := &MsgNotFound{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeNotFound,
		},
	}
	return m
}

// MsgError reports an operation failure
type MsgError struct {
	protocol.MessageBase
	Reason string
}

func NewMsgError(reason string) *MsgError {
	m := &MsgError{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeError,
		},
		Reason: reason,
	}
	return m
}

// MsgDone signals that the client is finished with the protocol
type MsgDone struct {
	protocol.MessageBase
}

func NewMsgDone() *MsgDone {
	m := &MsgDone{
		MessageBase: protocol.MessageBase{
			MessageType: MessageTypeDone,
		},
	}
	return m
}
