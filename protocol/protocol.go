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

// Package protocol provides the generic mini-protocol framework: a typed
// state machine with per-state agency and timeouts, driven by CBOR-encoded
// messages exchanged through the muxer.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chainvault/chainvault/cbor"
	"github.com/chainvault/chainvault/muxer"
)

// DefaultRecvQueueSize is the number of received messages that can be
// queued for handling before the receiver blocks
const DefaultRecvQueueSize = 50

// MessageHandlerFunc is called for each received message after its state
// transition has been applied
type MessageHandlerFunc func(Message) error

// MessageFromCborFunc parses a message of the given type from CBOR
type MessageFromCborFunc func(uint, []byte) (Message, error)

// ProtocolConfig provides the configuration for Protocol
type ProtocolConfig struct {
	Name                string
	ProtocolId          uint16
	Muxer               *muxer.Muxer
	Logger              *slog.Logger
	ErrorChan           chan error
	Role                ProtocolRole
	MessageHandlerFunc  MessageHandlerFunc
	MessageFromCborFunc MessageFromCborFunc
	StateMap            StateMap
	InitialState        State
	RecvQueueSize       int
}

// ProtocolOptions is a convenience bundle passed by the connection to each
// mini-protocol constructor
type ProtocolOptions struct {
	ConnectionId string
	Muxer        *muxer.Muxer
	Logger       *slog.Logger
	ErrorChan    chan error
	BlockSize    uint32
}

// Protocol implements the shared mini-protocol machinery. Mini-protocol
// client/server objects embed a *Protocol.
type Protocol struct {
	config      ProtocolConfig
	sendChan    chan *muxer.Segment
	recvChan    chan *muxer.Segment
	state       State
	stateMutex  sync.Mutex
	stateTimer  *time.Timer
	recvBuffer  *bytes.Buffer
	recvMsgChan chan Message
	doneChan    chan struct{}
	onceStart   sync.Once
	onceDone    sync.Once
}

// New returns a new Protocol object
func New(config ProtocolConfig) *Protocol {
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.RecvQueueSize <= 0 {
		config.RecvQueueSize = DefaultRecvQueueSize
	}
	p := &Protocol{
		config:      config,
		recvBuffer:  bytes.NewBuffer(nil),
		recvMsgChan: make(chan Message, config.RecvQueueSize),
		doneChan:    make(chan struct{}),
	}
	return p
}

// Start registers the protocol with the muxer, sets the initial state, and
// starts the receive goroutines. Safe to call multiple times.
func (p *Protocol) Start() {
	p.onceStart.Do(func() {
		p.sendChan, p.recvChan = p.config.Muxer.RegisterProtocol(
			p.config.ProtocolId,
			p.config.Role == ProtocolRoleServer,
		)
		p.stateMutex.Lock()
		p.setState(p.config.InitialState)
		p.stateMutex.Unlock()
		go p.recvLoop()
		go p.dispatchLoop()
	})
}

// Logger returns the protocol logger
func (p *Protocol) Logger() *slog.Logger {
	return p.config.Logger
}

// Role returns the protocol role
func (p *Protocol) Role() ProtocolRole {
	return p.config.Role
}

// DoneChan returns a channel that is closed when the protocol shuts down
func (p *Protocol) DoneChan() <-chan struct{} {
	return p.doneChan
}

// IsDone returns whether the protocol has shut down
func (p *Protocol) IsDone() bool {
	select {
	case <-p.doneChan:
		return true
	default:
		return false
	}
}

// SendMessage validates the message against the state map, applies the
// state transition, and queues the message for transmission. Attempting to
// send without agency or with a message invalid for the current state is a
// local protocol violation.
func (p *Protocol) SendMessage(msg Message) error {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	if p.IsDone() {
		return ErrProtocolShuttingDown
	}
	entry, ok := p.config.StateMap[p.state]
	if !ok {
		return fmt.Errorf(
			"%s: unknown protocol state: %s", p.config.Name, p.state,
		)
	}
	if entry.Agency != p.agency() {
		return fmt.Errorf(
			"%s: %w: state %s", p.config.Name, ErrProtocolViolationNoAgency, p.state,
		)
	}
	transition, err := p.findTransition(entry, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", p.config.Name, err)
	}
	data := msg.Cbor()
	if data == nil {
		data, err = cbor.Encode(msg)
		if err != nil {
			return err
		}
	}
	// Split the message into as many segments as needed
	isResponse := p.config.Role == ProtocolRoleServer
	for {
		chunk := data
		if len(chunk) > muxer.SegmentMaxPayloadLength {
			chunk = data[:muxer.SegmentMaxPayloadLength]
		}
		segment := muxer.NewSegment(p.config.ProtocolId, chunk, isResponse)
		select {
		case <-p.doneChan:
			return ErrProtocolShuttingDown
		case p.sendChan <- segment:
		}
		data = data[len(chunk):]
		if len(data) == 0 {
			break
		}
	}
	p.setState(transition.NewState)
	return nil
}

// agency returns the agency value corresponding to our role
func (p *Protocol) agency() StateAgency {
	if p.config.Role == ProtocolRoleServer {
		return AgencyServer
	}
	return AgencyClient
}

// peerAgency returns the agency value corresponding to the peer's role
func (p *Protocol) peerAgency() StateAgency {
	if p.config.Role == ProtocolRoleServer {
		return AgencyClient
	}
	return AgencyServer
}

// findTransition locates the state transition matching the given message
func (p *Protocol) findTransition(entry StateMapEntry, msg Message) (StateTransition, error) {
	for _, transition := range entry.Transitions {
		if transition.MsgType != msg.Type() {
			continue
		}
		if transition.MatchFunc != nil && !transition.MatchFunc(msg) {
			continue
		}
		return transition, nil
	}
	return StateTransition{}, fmt.Errorf(
		"%w: message type %d in state %s",
		ErrProtocolViolationInvalidMessage, msg.Type(), p.state,
	)
}

// setState updates the current state and manages the state timeout timer.
// Must be called with stateMutex held.
func (p *Protocol) setState(state State) {
	if p.stateTimer != nil {
		p.stateTimer.Stop()
		p.stateTimer = nil
	}
	p.state = state
	entry := p.config.StateMap[state]
	if entry.Agency == AgencyNone {
		// Terminal state
		p.shutdown()
		return
	}
	// Start a timeout timer when it's the peer's turn to send. A stalled
	// peer surfaces as a connection error rather than blocking forever.
	if entry.Timeout > 0 && entry.Agency == p.peerAgency() {
		p.stateTimer = time.AfterFunc(entry.Timeout, func() {
			p.sendError(fmt.Errorf(
				"%s: timeout waiting on transition from protocol state %s",
				p.config.Name, state,
			))
		})
	}
}

// recvTransition validates a received message against the state map and
// applies the resulting transition
func (p *Protocol) recvTransition(msg Message) error {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	entry, ok := p.config.StateMap[p.state]
	if !ok {
		return fmt.Errorf(
			"%s: unknown protocol state: %s", p.config.Name, p.state,
		)
	}
	if entry.Agency != p.peerAgency() {
		return fmt.Errorf(
			"%s: %w: state %s", p.config.Name, ErrProtocolViolationNoAgency, p.state,
		)
	}
	transition, err := p.findTransition(entry, msg)
	if err != nil {
		return fmt.Errorf("%s: %w", p.config.Name, err)
	}
	p.setState(transition.NewState)
	return nil
}

// SendError reports an error on the protocol error channel. Mini-protocols
// use this for failures that happen outside of message dispatch.
func (p *Protocol) SendError(err error) {
	p.sendError(err)
}

func (p *Protocol) sendError(err error) {
	select {
	case p.config.ErrorChan <- err:
	case <-p.doneChan:
		// The protocol can reach a terminal state before a handler error is
		// delivered, so still attempt a non-blocking send
		select {
		case p.config.ErrorChan <- err:
		default:
		}
	}
}

func (p *Protocol) shutdown() {
	p.onceDone.Do(func() {
		if p.stateTimer != nil {
			p.stateTimer.Stop()
		}
		close(p.doneChan)
	})
}

// recvLoop reassembles messages from inbound segments, applies their state
// transitions, and queues them for dispatch
func (p *Protocol) recvLoop() {
	defer p.shutdown()
	leftoverData := false
	for {
		if !leftoverData {
			segment, ok := <-p.recvChan
			if !ok {
				// Muxer is shutting down
				return
			}
			p.recvBuffer.Write(segment.Payload)
		}
		leftoverData = false
		// Decode into a list of raw items to determine the message type and
		// the message length in bytes
		var tmpMsg []cbor.RawMessage
		numBytesRead, err := cbor.Decode(p.recvBuffer.Bytes(), &tmpMsg)
		if err != nil {
			if p.recvBuffer.Len() > 0 &&
				(errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				// This is a multi-segment message, wait for more data
				continue
			}
			p.sendError(fmt.Errorf("%s: decode error: %w", p.config.Name, err))
			return
		}
		if len(tmpMsg) == 0 {
			p.sendError(fmt.Errorf("%s: received empty message", p.config.Name))
			return
		}
		var msgType uint
		if _, err := cbor.Decode(tmpMsg[0], &msgType); err != nil {
			p.sendError(fmt.Errorf("%s: decode error: %w", p.config.Name, err))
			return
		}
		msgData := p.recvBuffer.Bytes()[:numBytesRead]
		msg, err := p.config.MessageFromCborFunc(msgType, msgData)
		if err != nil {
			p.sendError(err)
			return
		}
		if err := p.recvTransition(msg); err != nil {
			p.sendError(err)
			return
		}
		// Prefer queueing over shutdown: a message that moves the protocol
		// into a terminal state closes doneChan before the message itself
		// has been dispatched, and it must still reach the handler
		select {
		case p.recvMsgChan <- msg:
		default:
			select {
			case <-p.doneChan:
				return
			case p.recvMsgChan <- msg:
			}
		}
		if numBytesRead < p.recvBuffer.Len() {
			// There is another message in the buffer, so reset the buffer
			// with just the remaining data
			p.recvBuffer = bytes.NewBuffer(p.recvBuffer.Bytes()[numBytesRead:])
			leftoverData = true
		} else {
			// Empty out the buffer since we processed the whole message
			p.recvBuffer.Reset()
		}
	}
}

// dispatchLoop feeds received messages to the configured handler. Queued
// messages are drained before shutdown is honored, so the message that put
// the protocol into a terminal state still reaches the handler.
func (p *Protocol) dispatchLoop() {
	for {
		select {
		case msg := <-p.recvMsgChan:
			if err := p.config.MessageHandlerFunc(msg); err != nil {
				p.sendError(err)
				return
			}
		default:
			select {
			case <-p.doneChan:
				return
			case msg := <-p.recvMsgChan:
				if err := p.config.MessageHandlerFunc(msg); err != nil {
					p.sendError(err)
					return
				}
			}
		}
	}
}
