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

// Package mock provides a scripted peer for protocol tests. A Connection
// plays both directions of a conversation over an in-memory pipe, checking
// each message the code under test sends and replying with canned messages.
package mock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/chainvault/chainvault/cbor"
	"github.com/chainvault/chainvault/muxer"
)

// Connection implements net.Conn. The code under test reads and writes one
// end of a pipe while the conversation script drives the other.
type Connection struct {
	net.Conn
	mockConn     net.Conn
	conversation []ConversationEntry
	errorChan    chan error
	onceClose    sync.Once
	waitGroup    sync.WaitGroup
	recvBuffer   bytes.Buffer
}

// NewConnection starts a mock connection that plays through the given
// conversation
func NewConnection(conversation []ConversationEntry) *Connection {
	appSide, mockSide := net.Pipe()
	c := &Connection{
		Conn:         appSide,
		mockConn:     mockSide,
		conversation: conversation,
		errorChan:    make(chan error, 1),
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

// ErrorChan returns the channel used to report conversation errors. It is
// closed when the conversation finishes.
func (c *Connection) ErrorChan() chan error {
	return c.errorChan
}

// Close shuts down both ends of the mock connection
func (c *Connection) Close() error {
	var err error
	c.onceClose.Do(func() {
		err = c.Conn.Close()
		c.mockConn.Close()
		c.waitGroup.Wait()
	})
	return err
}

func (c *Connection) run() {
	defer c.waitGroup.Done()
	defer close(c.errorChan)
	for _, entry := range c.conversation {
		var err error
		switch e := entry.(type) {
		case ConversationEntryInput:
			err = c.processInputEntry(e)
		case ConversationEntryOutput:
			err = c.processOutputEntry(e)
		case ConversationEntryClose:
			c.mockConn.Close()
			return
		default:
			err = fmt.Errorf("unknown conversation entry type: %T", entry)
		}
		if err != nil {
			select {
			case c.errorChan <- err:
			default:
			}
			return
		}
	}
}

// readSegment reads a single muxer segment from the mock side of the pipe
func (c *Connection) readSegment() (*muxer.Segment, error) {
	header := muxer.SegmentHeader{}
	if err := binary.Read(c.mockConn, binary.BigEndian, &header); err != nil {
		return nil, err
	}
	segment := &muxer.Segment{
		SegmentHeader: header,
		Payload:       make([]byte, header.PayloadLength),
	}
	if _, err := io.ReadFull(c.mockConn, segment.Payload); err != nil {
		return nil, err
	}
	return segment, nil
}

func (c *Connection) processInputEntry(entry ConversationEntryInput) error {
	// Read segments until we have a decodable message
	var msgData []byte
	for {
		segment, err := c.readSegment()
		if err != nil {
			return err
		}
		if segment.GetProtocolId() != entry.ProtocolId {
			return fmt.Errorf(
				"received message for unexpected protocol ID: expected %d, got %d",
				entry.ProtocolId,
				segment.GetProtocolId(),
			)
		}
		if segment.IsResponse() != entry.IsResponse {
			return fmt.Errorf(
				"received message with unexpected response flag: %v",
				segment.IsResponse(),
			)
		}
		c.recvBuffer.Write(segment.Payload)
		var tmpMsg []cbor.RawMessage
		numBytesRead, err := cbor.Decode(c.recvBuffer.Bytes(), &tmpMsg)
		if err == nil {
			msgData = make([]byte, numBytesRead)
			copy(msgData, c.recvBuffer.Bytes()[:numBytesRead])
			c.recvBuffer.Next(numBytesRead)
			break
		}
	}
	msgType, err := cbor.DecodeIdFromList(msgData)
	if err != nil {
		return err
	}
	if entry.MsgFromCborFunc == nil {
		return fmt.Errorf("no message decode function provided")
	}
	msg, err := entry.MsgFromCborFunc(uint(msgType), msgData)
	if err != nil {
		return err
	}
	if entry.Message != nil {
		expectedData, err := cbor.Encode(entry.Message)
		if err != nil {
			return err
		}
		if !bytes.Equal(expectedData, msgData) {
			return fmt.Errorf(
				"received unexpected message\n  got:    %#v\n  wanted: %#v",
				msg,
				entry.Message,
			)
		}
		return nil
	}
	if uint(msgType) != entry.MessageType {
		return fmt.Errorf(
			"received unexpected message type: expected %d, got %d",
			entry.MessageType,
			msgType,
		)
	}
	return nil
}

func (c *Connection) processOutputEntry(entry ConversationEntryOutput) error {
	for _, msg := range entry.Messages {
		data := msg.Cbor()
		if data == nil {
			var err error
			data, err = cbor.Encode(msg)
			if err != nil {
				return err
			}
		}
		segment := muxer.NewSegment(entry.ProtocolId, data, entry.IsResponse)
		buf := &bytes.Buffer{}
		if err := binary.Write(buf, binary.BigEndian, segment.SegmentHeader); err != nil {
			return err
		}
		buf.Write(segment.Payload)
		if _, err := c.mockConn.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
