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
	"math"

	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/protocol"
)

// Server implements the BlockStore server
type Server struct {
	*protocol.Protocol
	config    *Config
	blockSize uint32
	// In-flight ADD operation. Blocks are buffered here and only handed to
	// the AddFileFunc callback once the client sends AddDone, so a dropped
	// connection never leaves a partial file behind.
	pendingFileHash chain.Hash
	pendingCount    uint32
	pendingPayloads [][]byte
	pendingAdd      bool
}

// NewServer returns a new BlockStore server object
func NewServer(protoOptions protocol.ProtocolOptions, cfg *Config) *Server {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	s := &Server{
		config:    cfg,
		blockSize: protoOptions.BlockSize,
	}
	// Update state map with timeout for the mid-add client-agency state so
	// a client that stalls partway through an add is disconnected and its
	// buffered payloads discarded. Idle carries no timeout: a connected
	// client with no operation in flight is fine.
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[stateAdding]; ok {
		entry.Timeout = cfg.Timeout
		stateMap[stateAdding] = entry
	}
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		Role:                protocol.ProtocolRoleServer,
		MessageHandlerFunc:  s.handleMessage,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		InitialState:        stateIdle,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

// Start registers the protocol with the muxer
func (s *Server) Start() {
	s.Protocol.Logger().
		Debug("starting server protocol",
			"component", "network",
			"protocol", ProtocolName,
		)
	s.Protocol.Start()
}

func (s *Server) handleMessage(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeAddRequest:
		err = s.handleAddRequest(msg)
	case MessageTypeAddBlock:
		err = s.handleAddBlock(msg)
	case MessageTypeAddDone:
		err = s.handleAddDone()
	case MessageTypeCheckRequest:
		err = s.handleCheckRequest(msg)
	case MessageTypeVerifyRequest:
		err = s.handleVerifyRequest()
	case MessageTypeGetRequest:
		err = s.handleGetRequest(msg)
	case MessageTypeDone:
		err = s.handleDone()
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleAddRequest(msg protocol.Message) error {
	msgAddRequest := msg.(*MsgAddRequest)
	s.pendingAdd = true
	s.pendingFileHash = msgAddRequest.FileHash
	s.pendingCount = msgAddRequest.BlockCount
	s.pendingPayloads = make([][]byte, 0, msgAddRequest.BlockCount)
	return nil
}

func (s *Server) handleAddBlock(msg protocol.Message) error {
	msgAddBlock := msg.(*MsgAddBlock)
	if !s.pendingAdd {
		return fmt.Errorf("%s: received block without an add request", ProtocolName)
	}
	if s.blockSize > 0 && uint32(len(msgAddBlock.Payload)) > s.blockSize {
		return fmt.Errorf(
			"%s: received block of %d bytes, negotiated block size is %d",
			ProtocolName,
			len(msgAddBlock.Payload),
			s.blockSize,
		)
	}
	if int(msgAddBlock.Sequence) != len(s.pendingPayloads) {
		return fmt.Errorf(
			"%s: received out-of-order block %d (expected %d)",
			ProtocolName,
			msgAddBlock.Sequence,
			len(s.pendingPayloads),
		)
	}
	s.pendingPayloads = append(s.pendingPayloads, msgAddBlock.Payload)
	return nil
}

func (s *Server) handleAddDone() error {
	if !s.pendingAdd {
		return fmt.Errorf("%s: add finished before it started", ProtocolName)
	}
	fileHash := s.pendingFileHash
	count := s.pendingCount
	payloads := s.pendingPayloads
	s.pendingAdd = false
	s.pendingPayloads = nil
	if uint32(len(payloads)) != count {
		return s.sendErrorMsg(fmt.Sprintf(
			"expected %d blocks, received %d", count, len(payloads),
		))
	}
	if s.config.AddFileFunc == nil {
		return fmt.Errorf(
			"received block-store AddDone message but no callback function is defined",
		)
	}
	if err := s.config.AddFileFunc(fileHash, payloads); err != nil {
		if errors.Is(err, chain.ErrDuplicateFile) {
			return s.sendErrorMsg("file already stored")
		}
		return s.sendErrorMsg(err.Error())
	}
	return s.SendMessage(NewMsgAddAck(fileHash))
}

func (s *Server) handleCheckRequest(msg protocol.Message) error {
	msgCheckRequest := msg.(*MsgCheckRequest)
	if s.config.CheckHashFunc == nil {
		return fmt.Errorf(
			"received block-store CheckRequest message but no callback function is defined",
		)
	}
	present, err := s.config.CheckHashFunc(msgCheckRequest.Hash)
	if err != nil {
		return s.sendErrorMsg(err.Error())
	}
	return s.SendMessage(NewMsgCheckResponse(present))
}

func (s *Server) handleVerifyRequest() error {
	if s.config.VerifyChainFunc == nil {
		return fmt.Errorf(
			"received block-store VerifyRequest message but no callback function is defined",
		)
	}
	ok, brokenIndex, err := s.config.VerifyChainFunc()
	if err != nil {
		return s.sendErrorMsg(err.Error())
	}
	return s.SendMessage(NewMsgVerifyResponse(ok, brokenIndex))
}

func (s *Server) handleGetRequest(msg protocol.Message) error {
	msgGetRequest := msg.(*MsgGetRequest)
	if s.config.GetFileFunc == nil {
		return fmt.Errorf(
			"received block-store GetRequest message but no callback function is defined",
		)
	}
	payloads, err := s.config.GetFileFunc(msgGetRequest.FileHash)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return s.SendMessage(NewMsgNotFound())
		}
		return s.sendErrorMsg(err.Error())
	}
	if uint64(len(payloads)) > math.MaxUint32 {
		return s.sendErrorMsg("file too large to stream")
	}
	if err := s.SendMessage(NewMsgStartStream(uint32(len(payloads)))); err != nil {
		return err
	}
	for i, payload := range payloads {
		if err := s.SendMessage(NewMsgBlock(uint32(i), payload)); err != nil {
			return err
		}
	}
	return s.SendMessage(NewMsgStreamDone())
}

func (s *Server) handleDone() error {
	// Discard any in-flight add
	s.pendingAdd = false
	s.pendingPayloads = nil
	return nil
}

func (s *Server) sendErrorMsg(reason string) error {
	return s.SendMessage(NewMsgError(reason))
}
