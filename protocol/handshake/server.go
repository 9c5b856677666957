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
	"sort"

	"github.com/chainvault/chainvault/protocol"
)

// Server implements the Handshake server
type Server struct {
	*protocol.Protocol
	config *Config
}

// NewServer returns a new Handshake server object
func NewServer(protoOptions protocol.ProtocolOptions, cfg *Config) *Server {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	s := &Server{
		config: cfg,
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[statePropose]; ok {
		entry.Timeout = s.config.Timeout
		stateMap[statePropose] = entry
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
		InitialState:        statePropose,
	}
	s.Protocol = protocol.New(protoConfig)
	return s
}

func (s *Server) handleMessage(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeProposeVersions:
		err = s.handleProposeVersions(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (s *Server) handleProposeVersions(msg protocol.Message) error {
	if s.config.FinishedFunc == nil {
		return fmt.Errorf(
			"received handshake ProposeVersions message but no callback function is defined",
		)
	}
	msgProposeVersions := msg.(*MsgProposeVersions)
	// Compute intersection of supported and proposed protocol versions
	supported := make(map[uint16]struct{})
	for _, version := range s.config.ProtocolVersions {
		supported[version] = struct{}{}
	}
	var highestVersion uint16
	var haveMatch bool
	for _, proposedVersion := range msgProposeVersions.Versions {
		if _, ok := supported[proposedVersion]; !ok {
			continue
		}
		if !haveMatch || proposedVersion > highestVersion {
			highestVersion = proposedVersion
			haveMatch = true
		}
	}
	// Send refusal if there are no matching versions
	if !haveMatch {
		supportedVersions := make([]uint16, len(s.config.ProtocolVersions))
		copy(supportedVersions, s.config.ProtocolVersions)
		sort.Slice(supportedVersions, func(i, j int) bool {
			return supportedVersions[i] < supportedVersions[j]
		})
		msgRefuse := NewMsgRefuse(
			[]any{
				RefuseReasonVersionMismatch,
				supportedVersions,
			},
		)
		if err := s.SendMessage(msgRefuse); err != nil {
			return err
		}
		return fmt.Errorf("handshake failed: refused due to version mismatch")
	}
	// The server's block size is authoritative. The client's proposal is
	// only used when the server has no explicit preference.
	blockSize := s.config.BlockSize
	if blockSize == 0 {
		blockSize = msgProposeVersions.BlockSize
	}
	if blockSize == 0 {
		errMsg := "no usable block size"
		msgRefuse := NewMsgRefuse(
			[]any{
				RefuseReasonRefused,
				highestVersion,
				errMsg,
			},
		)
		if err := s.SendMessage(msgRefuse); err != nil {
			return err
		}
		return fmt.Errorf("handshake failed: refused: %s", errMsg)
	}
	// Accept the proposed version
	msgAcceptVersion := NewMsgAcceptVersion(highestVersion, blockSize)
	if err := s.SendMessage(msgAcceptVersion); err != nil {
		return err
	}
	return s.config.FinishedFunc(highestVersion, blockSize)
}
