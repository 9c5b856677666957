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

// Package muxer provides the segment multiplexer that allows multiple
// mini-protocols to share a single connection.
package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// protocolKey identifies one registered protocol instance. The same
// protocol id is registered twice on a connection (once per role); inbound
// segments are routed by the response flag, so requests reach the server
// instance and responses reach the client instance.
type protocolKey struct {
	id       uint16
	response bool
}

// Muxer wraps a net.Conn and fans segments in and out of per-protocol
// channels. Only one segment is read before Start() is called, which gates
// all other traffic behind handshake completion.
type Muxer struct {
	conn              net.Conn
	sendMutex         sync.Mutex
	startChan         chan bool
	doneChan          chan bool
	waitGroup         sync.WaitGroup
	onceStop          sync.Once
	errorChan         chan error
	protocolSenders   map[protocolKey]chan *Segment
	protocolReceivers map[protocolKey]chan *Segment
}

// New creates a new Muxer object and starts the read loop
func New(conn net.Conn) *Muxer {
	m := &Muxer{
		conn:              conn,
		startChan:         make(chan bool, 1),
		doneChan:          make(chan bool),
		errorChan:         make(chan error, 10),
		protocolSenders:   make(map[protocolKey]chan *Segment),
		protocolReceivers: make(map[protocolKey]chan *Segment),
	}
	m.waitGroup.Add(1)
	go m.readLoop()
	return m
}

// Start unblocks the read loop after the handshake is complete
func (m *Muxer) Start() {
	m.startChan <- true
}

// Stop shuts down the muxer and closes the underlying connection. Closing
// the connection unblocks any in-flight read so the read loop can exit.
func (m *Muxer) Stop() {
	m.onceStop.Do(func() {
		// Close doneChan to signify that we're shutting down
		close(m.doneChan)
		m.conn.Close()
		// Wait for read loop to finish
		m.waitGroup.Wait()
		// Close protocol receive channels
		// We rely on the individual mini-protocols to stop reading their
		// sender channel
		for _, recvChan := range m.protocolReceivers {
			close(recvChan)
		}
		// Close errorChan to signify to consumer that we're shutting down
		close(m.errorChan)
	})
}

// ErrorChan returns the channel used to report asynchronous errors
func (m *Muxer) ErrorChan() chan error {
	return m.errorChan
}

func (m *Muxer) sendError(err error) {
	// Immediately return if we're already shutting down
	select {
	case <-m.doneChan:
		return
	default:
	}
	// Send error to consumer
	m.errorChan <- err
}

// RegisterProtocol registers the given protocol id and role with the muxer
// and returns a pair of channels for outbound and inbound segments. This
// must be called before the muxer is started. A server-role instance
// receives request segments and sends responses; a client-role instance is
// the inverse.
func (m *Muxer) RegisterProtocol(protocolId uint16, asServer bool) (chan *Segment, chan *Segment) {
	senderChan := make(chan *Segment, 10)
	receiverChan := make(chan *Segment, 10)
	m.protocolSenders[protocolKey{protocolId, asServer}] = senderChan
	m.protocolReceivers[protocolKey{protocolId, !asServer}] = receiverChan
	// Start goroutine to handle outbound segments
	go func() {
		for {
			select {
			case <-m.doneChan:
				return
			case segment := <-senderChan:
				if err := m.Send(segment); err != nil {
					m.sendError(err)
					return
				}
			}
		}
	}()
	return senderChan, receiverChan
}

// Send writes a single segment to the connection. A mutex makes sure only
// one protocol can send at a time.
func (m *Muxer) Send(segment *Segment) error {
	m.sendMutex.Lock()
	defer m.sendMutex.Unlock()
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, segment.SegmentHeader); err != nil {
		return err
	}
	buf.Write(segment.Payload)
	if _, err := m.conn.Write(buf.Bytes()); err != nil {
		return err
	}
	return nil
}

// readLoop reads segments from the connection and routes them to the
// registered receiver for their protocol
func (m *Muxer) readLoop() {
	defer m.waitGroup.Done()
	started := false
	for {
		// Break out of read loop if we're shutting down
		select {
		case <-m.doneChan:
			return
		default:
		}
		header := SegmentHeader{}
		if err := binary.Read(m.conn, binary.BigEndian, &header); err != nil {
			m.sendError(err)
			return
		}
		segment := &Segment{
			SegmentHeader: header,
			Payload:       make([]byte, header.PayloadLength),
		}
		// ReadFull guarantees the expected number of bytes or an error
		if _, err := io.ReadFull(m.conn, segment.Payload); err != nil {
			m.sendError(err)
			return
		}
		recvChan := m.protocolReceivers[protocolKey{segment.GetProtocolId(), segment.IsResponse()}]
		if recvChan == nil {
			m.sendError(fmt.Errorf(
				"received segment for unknown protocol ID %d",
				segment.GetProtocolId(),
			))
			return
		}
		select {
		case <-m.doneChan:
			return
		case recvChan <- segment:
		}
		// Wait until the muxer is started to read more than one segment.
		// We don't want to read past the peer's handshake response until
		// the handshake is confirmed complete.
		if !started {
			select {
			case <-m.doneChan:
				return
			case <-m.startChan:
				started = true
			}
		}
	}
}
