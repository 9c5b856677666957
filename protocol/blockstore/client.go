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
	"math"
	"sync"

	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/protocol"
)

// VerifyResult is the outcome of a chain verification
type VerifyResult struct {
	Ok          bool
	BrokenIndex uint64
}

// Client implements the BlockStore client
type Client struct {
	*protocol.Protocol
	config           *Config
	busyMutex        sync.Mutex
	addResultChan    chan chain.Hash
	checkResultChan  chan bool
	verifyResultChan chan VerifyResult
	getResultChan    chan [][]byte
	opErrChan        chan error
	streamPayloads   [][]byte
	streaming        bool
	onceStart        sync.Once
	onceStop         sync.Once
}

// NewClient returns a new BlockStore client object
func NewClient(protoOptions protocol.ProtocolOptions, cfg *Config) *Client {
	if cfg == nil {
		tmpCfg := NewConfig()
		cfg = &tmpCfg
	}
	c := &Client{
		config:           cfg,
		addResultChan:    make(chan chain.Hash),
		checkResultChan:  make(chan bool),
		verifyResultChan: make(chan VerifyResult),
		getResultChan:    make(chan [][]byte),
		opErrChan:        make(chan error),
	}
	// Update state map with timeout for server-agency states
	stateMap := StateMap.Copy()
	for _, state := range []protocol.State{
		stateAddAck, stateChecking, stateVerifying, stateGetting, stateStreaming,
	} {
		if entry, ok := stateMap[state]; ok {
			entry.Timeout = c.config.Timeout
			stateMap[state] = entry
		}
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
		InitialState:        stateIdle,
	}
	c.Protocol = protocol.New(protoConfig)
	return c
}

// Start registers the protocol with the muxer
func (c *Client) Start() {
	c.onceStart.Do(func() {
		c.Protocol.Logger().
			Debug("starting client protocol",
				"component", "network",
				"protocol", ProtocolName,
			)
		c.Protocol.Start()
	})
}

// Stop tells the server we're finished and shuts down the protocol
func (c *Client) Stop() error {
	var err error
	c.onceStop.Do(func() {
		c.busyMutex.Lock()
		defer c.busyMutex.Unlock()
		msg := NewMsgDone()
		err = c.SendMessage(msg)
	})
	return err
}

// AddFile streams a file's blocks to the server and waits for it to be
// committed to the chain. The file is identified by the hash of its full
// content.
func (c *Client) AddFile(fileHash chain.Hash, payloads [][]byte) error {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	if len(payloads) == 0 {
		return fmt.Errorf("%s: no payloads to add", ProtocolName)
	}
	if uint64(len(payloads)) > math.MaxUint32 {
		return fmt.Errorf("%s: too many payloads", ProtocolName)
	}
	msg := NewMsgAddRequest(fileHash, uint32(len(payloads)))
	if err := c.SendMessage(msg); err != nil {
		return err
	}
	for i, payload := range payloads {
		msgBlock := NewMsgAddBlock(uint32(i), payload)
		if err := c.SendMessage(msgBlock); err != nil {
			return err
		}
	}
	if err := c.SendMessage(NewMsgAddDone()); err != nil {
		return err
	}
	select {
	case <-c.DoneChan():
		return protocol.ErrProtocolShuttingDown
	case err := <-c.opErrChan:
		return err
	case ackHash := <-c.addResultChan:
		if ackHash != fileHash {
			return fmt.Errorf(
				"%s: server acknowledged unexpected file hash %s",
				ProtocolName,
				ackHash,
			)
		}
		return nil
	}
}

// CheckHash asks the server whether a block or file hash is present in the
// chain
func (c *Client) CheckHash(hash chain.Hash) (bool, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	msg := NewMsgCheckRequest(hash)
	if err := c.SendMessage(msg); err != nil {
		return false, err
	}
	select {
	case <-c.DoneChan():
		return false, protocol.ErrProtocolShuttingDown
	case err := <-c.opErrChan:
		return false, err
	case present := <-c.checkResultChan:
		return present, nil
	}
}

// VerifyChain asks the server to verify the integrity of the whole chain
func (c *Client) VerifyChain() (VerifyResult, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	msg := NewMsgVerifyRequest()
	if err := c.SendMessage(msg); err != nil {
		return VerifyResult{}, err
	}
	select {
	case <-c.DoneChan():
		return VerifyResult{}, protocol.ErrProtocolShuttingDown
	case err := <-c.opErrChan:
		return VerifyResult{}, err
	case result := <-c.verifyResultChan:
		return result, nil
	}
}

// GetFile fetches a file's payloads from the server in sequence order.
// ErrFileNotFound is returned when the server doesn't have the file.
func (c *Client) GetFile(fileHash chain.Hash) ([][]byte, error) {
	c.busyMutex.Lock()
	defer c.busyMutex.Unlock()
	msg := NewMsgGetRequest(fileHash)
	if err := c.SendMessage(msg); err != nil {
		return nil, err
	}
	select {
	case <-c.DoneChan():
		return nil, protocol.ErrProtocolShuttingDown
	case err := <-c.opErrChan:
		return nil, err
	case payloads := <-c.getResultChan:
		return payloads, nil
	}
}

func (c *Client) handleMessage(msg protocol.Message) error {
	var err error
	switch msg.Type() {
	case MessageTypeAddAck:
		err = c.handleAddAck(msg)
	case MessageTypeCheckResponse:
		err = c.handleCheckResponse(msg)
	case MessageTypeVerifyResponse:
		err = c.handleVerifyResponse(msg)
	case MessageTypeStartStream:
		err = c.handleStartStream(msg)
	case MessageTypeBlock:
		err = c.handleBlock(msg)
	case MessageTypeStreamDone:
		err = c.handleStreamDone()
	case MessageTypeNotFound:
		err = c.handleNotFound()
	case MessageTypeError:
		err = c.handleError(msg)
	default:
		err = fmt.Errorf(
			"%s: received unexpected message type %d",
			ProtocolName,
			msg.Type(),
		)
	}
	return err
}

func (c *Client) handleAddAck(msg protocol.Message) error {
	msgAddAck := msg.(*MsgAddAck)
	select {
	case <-c.DoneChan():
	case c.addResultChan <- msgAddAck.FileHash:
	}
	return nil
}

func (c *Client) handleCheckResponse(msg protocol.Message) error {
	msgCheckResponse := msg.(*MsgCheckResponse)
	select {
	case <-c.DoneChan():
	case c.checkResultChan <- msgCheckResponse.Present:
	}
	return nil
}

func (c *Client) handleVerifyResponse(msg protocol.Message) error {
	msgVerifyResponse := msg.(*MsgVerifyResponse)
	result := VerifyResult{
		Ok:          msgVerifyResponse.Ok,
		BrokenIndex: msgVerifyResponse.BrokenIndex,
	}
	select {
	case <-c.DoneChan():
	case c.verifyResultChan <- result:
	}
	return nil
}

func (c *Client) handleStartStream(msg protocol.Message) error {
	msgStartStream := msg.(*MsgStartStream)
	c.streaming = true
	c.streamPayloads = make([][]byte, 0, msgStartStream.BlockCount)
	return nil
}

func (c *Client) handleBlock(msg protocol.Message) error {
	msgBlock := msg.(*MsgBlock)
	if !c.streaming {
		return fmt.Errorf("%s: received block outside of a stream", ProtocolName)
	}
	if int(msgBlock.Sequence) != len(c.streamPayloads) {
		return fmt.Errorf(
			"%s: received out-of-order block %d (expected %d)",
			ProtocolName,
			msgBlock.Sequence,
			len(c.streamPayloads),
		)
	}
	c.streamPayloads = append(c.streamPayloads, msgBlock.Payload)
	return nil
}

func (c *Client) handleStreamDone() error {
	if !c.streaming {
		return fmt.Errorf("%s: stream closed before it was opened", ProtocolName)
	}
	payloads := c.streamPayloads
	c.streaming = false
	c.streamPayloads = nil
	select {
	case <-c.DoneChan():
	case c.getResultChan <- payloads:
	}
	return nil
}

func (c *Client) handleNotFound() error {
	select {
	case <-c.DoneChan():
	case c.opErrChan <- ErrFileNotFound:
	}
	return nil
}

func (c *Client) handleError(msg protocol.Message) error {
	msgError := msg.(*MsgError)
	c.streaming = false
	c.streamPayloads = nil
	select {
	case <-c.DoneChan():
	case c.opErrChan <- &ServerError{Reason: msgError.Reason}:
	}
	return nil
}
