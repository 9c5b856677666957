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

package handshake_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	chainvault "github.com/chainvault/chainvault"
	"github.com/chainvault/chainvault/internal/mock"
	"github.com/chainvault/chainvault/protocol"
	"github.com/chainvault/chainvault/protocol/handshake"
)

func TestClientAccept(t *testing.T) {
	defer goleak.VerifyNone(t)
	mockConn := mock.NewConnection(
		[]mock.ConversationEntry{
			mock.ConversationEntryHandshakeRequestGeneric,
			mock.ConversationEntryHandshakeResponse,
		},
	)
	oConn, err := chainvault.New(
		chainvault.WithConnection(mockConn),
	)
	if err != nil {
		t.Fatalf("unexpected error when creating Connection object: %s", err)
	}
	// Async error handler
	go func() {
		err, ok := <-oConn.ErrorChan()
		if !ok {
			return
		}
		// We can't call t.Fatalf() from a different Goroutine, so we panic instead
		panic(fmt.Sprintf("unexpected connection error: %s", err))
	}()
	if oConn.ProtocolVersion() != 1 {
		t.Fatalf(
			"did not get expected protocol version: got %d, wanted 1",
			oConn.ProtocolVersion(),
		)
	}
	if oConn.BlockSize() != mock.MockBlockSize {
		t.Fatalf(
			"did not get expected block size: got %d, wanted %d",
			oConn.BlockSize(),
			mock.MockBlockSize,
		)
	}
	// Close connection
	if err := oConn.Close(); err != nil {
		t.Fatalf("unexpected error when closing Connection object: %s", err)
	}
	// Wait for connection shutdown
	select {
	case <-oConn.ErrorChan():
	case <-time.After(10 * time.Second):
		t.Errorf("did not shutdown within timeout")
	}
}

func TestClientRefuseVersionMismatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	mockConn := mock.NewConnection(
		[]mock.ConversationEntry{
			mock.ConversationEntryHandshakeRequestGeneric,
			mock.ConversationEntryOutput{
				ProtocolId: handshake.ProtocolId,
				IsResponse: true,
				Messages: []protocol.Message{
					handshake.NewMsgRefuse(
						[]any{
							handshake.RefuseReasonVersionMismatch,
							[]uint16{99},
						},
					),
				},
			},
		},
	)
	defer mockConn.Close()
	_, err := chainvault.New(
		chainvault.WithConnection(mockConn),
	)
	if err == nil {
		t.Fatal("expected handshake to fail but it did not")
	}
	if !strings.Contains(err.Error(), "version mismatch") {
		t.Fatalf("did not get expected error, got: %s", err)
	}
}

func TestClientRefuseRefused(t *testing.T) {
	defer goleak.VerifyNone(t)
	mockConn := mock.NewConnection(
		[]mock.ConversationEntry{
			mock.ConversationEntryHandshakeRequestGeneric,
			mock.ConversationEntryOutput{
				ProtocolId: handshake.ProtocolId,
				IsResponse: true,
				Messages: []protocol.Message{
					handshake.NewMsgRefuse(
						[]any{
							handshake.RefuseReasonRefused,
							uint16(1),
							"no usable block size",
						},
					),
				},
			},
		},
	)
	defer mockConn.Close()
	_, err := chainvault.New(
		chainvault.WithConnection(mockConn),
	)
	if err == nil {
		t.Fatal("expected handshake to fail but it did not")
	}
	if !strings.Contains(err.Error(), "no usable block size") {
		t.Fatalf("did not get expected error, got: %s", err)
	}
}
