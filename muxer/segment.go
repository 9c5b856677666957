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

package muxer

import (
	"time"
)

const (
	// SegmentProtocolIdResponseFlag marks a segment sent in the
	// server-to-client direction
	SegmentProtocolIdResponseFlag uint16 = 0x8000

	// SegmentMaxPayloadLength is the maximum payload that fits in a single
	// segment. Larger protocol messages are split across segments and
	// reassembled by the receiving protocol.
	SegmentMaxPayloadLength int = 65535
)

// SegmentHeader is the fixed wire header preceding every segment payload
type SegmentHeader struct {
	Timestamp     uint32
	ProtocolId    uint16
	PayloadLength uint16
}

// Segment is a single framed unit on the wire. Message boundaries within a
// protocol are preserved by the CBOR layer, not the segment layer.
type Segment struct {
	SegmentHeader
	Payload []byte
}

func NewSegment(protocolId uint16, payload []byte, isResponse bool) *Segment {
	header := SegmentHeader{
		Timestamp:  uint32(time.Now().UnixNano() & 0xffffffff),
		ProtocolId: protocolId,
	}
	if isResponse {
		header.ProtocolId += SegmentProtocolIdResponseFlag
	}
	header.PayloadLength = uint16(len(payload))
	return &Segment{
		SegmentHeader: header,
		Payload:       payload,
	}
}

// IsRequest returns true if the segment was sent in the client-to-server
// direction
func (s *SegmentHeader) IsRequest() bool {
	return (s.ProtocolId & SegmentProtocolIdResponseFlag) == 0
}

// IsResponse returns true if the segment was sent in the server-to-client
// direction
func (s *SegmentHeader) IsResponse() bool {
	return (s.ProtocolId & SegmentProtocolIdResponseFlag) > 0
}

// GetProtocolId returns the protocol id with the response flag stripped
func (s *SegmentHeader) GetProtocolId() uint16 {
	return s.ProtocolId &^ SegmentProtocolIdResponseFlag
}
