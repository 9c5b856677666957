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
	"sync"

	"github.com/chainvault/chainvault/protocol"
)

// Client implements the Handshake client
type Client struct {
	*protocol.Protocol
	config    *Config
	onceStart sync.Once
}

// NewClient returns a new Handshake client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config: cfg,
	}
	// Update state map with timeout
	stateMap := StateMap.Copy()
	if entry, ok := stateMap[stateConfirm]; ok {
		entry.Timeout = c.config.Timeout
		stateMap[stateConfirm] = entry
	}
	// Configure underlying Protocol
	protoConfig := protocol.ProtocolConfig{
		Name:                ProtocolName,
		ProtocolId:          ProtocolId,
		Muxer:               protoOptions.Muxer,
		Logger:              protoOptions.Logger,
		ErrorChan:           protoOptions.ErrorChan,
		Role:                protocol.ProtocolRoleClient,
		MessageHandlerFunc:  c.handleMessage,
		MessageFromCborFunc: NewMsgFromCbor,
		StateMap:            stateMap,
		InitialState:        statePropose,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start begins the handshake process
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Logger().
			Debug("starting client protocol",
				"component", "network",
				"protocol", ProtocolName,
			)
		c.Protocol.Start()
		// Send our ProposeVersions message
		msg := NewMsgProposeVersions(c.config.ProtocolVersions, c.config.BlockSize)
		if err := c.SendMessage(msg); err != nil {
			c.SendError(err)
		}
	})
}

func (c *Client) handleMessage(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeAcceptVersion:
		err = c.handleAcceptVersion(msg)
	case MessageTypeRefuse:
		err = c.handleRefuse(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleAcceptVersion(msg protocol.Message) error {
	if c.config.FinishedFunc == nil {
		return fmt.Errorf(
			"received handshake AcceptVersion message but no callback function is defined",
		)
	}
	msgAcceptVersion := msg.(*MsgAcceptVersion)
	return c.config.FinishedFunc(msgAcceptVersion.Version, msgAcceptVersion.BlockSize)
}

func (c *Client) handleRefuse(msgGeneric protocol.Message) error {
	msg := msgGeneric.(*MsgRefuse)
	if len(msg.Reason) == 0 {
		return fmt.Errorf("%s: refused without a reason", ProtocolName)
	}
	reason, ok := msg.Reason[0].(uint64)
	if !ok {
		return fmt.Errorf("%s: refused with malformed reason", ProtocolName)
	}
	var err error
	switch reason {
	case RefuseReasonVersionMismatch:
		err = fmt.Errorf("%s: version mismatch", ProtocolName)
	case RefuseReasonDecodeError:
		err = fmt.Errorf(
			"%s: decode error: %s",
			ProtocolName,
			msg.Reason[len(msg.Reason)-1],
		)
	case RefuseReasonRefused:
		err = fmt.Errorf(
			"%s: refused: %s",
			ProtocolName,
			msg.Reason[len(msg.Reason)-1],
		)
	default:
		err = fmt.Errorf("%s: refused with unknown reason %d", ProtocolName, reason)
	}
	return err
}
