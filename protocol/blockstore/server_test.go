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

package blockstore_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	chainvault "github.com/chainvault/chainvault"
	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/internal/mock"
	"github.com/chainvault/chainvault/protocol"
	"github.com/chainvault/chainvault/protocol/blockstore"
	"github.com/chainvault/chainvault/protocol/handshake"
)

var conversationEntryServerHandshake = []mock.ConversationEntry{
	mock.ConversationEntryOutput{
		ProtocolId: handshake.ProtocolId,
		Messages: []protocol.Message{
			handshake.NewMsgProposeVersions([]uint16{1}, 0),
		},
	},
	mock.ConversationEntryInput{
		ProtocolId:      handshake.ProtocolId,
		IsResponse:      true,
		Message:         handshake.NewMsgAcceptVersion(1, mock.MockBlockSize),
		MsgFromCborFunc: handshake.NewMsgFromCbor,
	},
}

// runServerTest runs a conversation that drives the block-store server with
// the provided callback config
func runServerTest(
	t *testing.T,
	conversation []mock.ConversationEntry,
	cfg blockstore.Config,
) {
	t.Helper()
	defer goleak.VerifyNone(t)
	mockConn := mock.NewConnection(conversation)
	oConn, err := chainvault.New(
		chainvault.WithConnection(mockConn),
		chainvault.WithServer(true),
		chainvault.WithBlockStoreConfig(cfg),
	)
	if err != nil {
		t.Fatalf("unexpected error when creating Connection object: %s", err)
	}
	// Wait for mock connection shutdown
	select {
	case err, ok := <-mockConn.ErrorChan():
		if ok {
			t.Fatalf("received unexpected error: %s", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("mock connection did not complete within timeout")
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

func TestServerAddFile(t *testing.T) {
	content := []byte("content committed through the server callback")
	fileHash := chain.HashData(content)
	var gotHash chain.Hash
	var gotPayloads [][]byte
	conversation := append(
		append([]mock.ConversationEntry{}, conversationEntryServerHandshake...),
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			Messages: []protocol.Message{
				blockstore.NewMsgAddRequest(fileHash, 1),
				blockstore.NewMsgAddBlock(0, content),
				blockstore.NewMsgAddDone(),
			},
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgAddAck(fileHash),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
	)
	runServerTest(
		t,
		conversation,
		blockstore.NewConfig(
			blockstore.WithAddFileFunc(
				func(h chain.Hash, payloads [][]byte) error {
					gotHash = h
					gotPayloads = payloads
					return nil
				},
			),
		),
	)
	if gotHash != fileHash {
		t.Fatalf(
			"callback got unexpected file hash\n  got:    %s\n  wanted: %s",
			gotHash,
			fileHash,
		)
	}
	if len(gotPayloads) != 1 || !bytes.Equal(gotPayloads[0], content) {
		t.Fatalf("callback got unexpected payloads: %v", gotPayloads)
	}
}

func TestServerAddFileRejected(t *testing.T) {
	content := []byte("rejected content")
	fileHash := chain.HashData(content)
	conversation := append(
		append([]mock.ConversationEntry{}, conversationEntryServerHandshake...),
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			Messages: []protocol.Message{
				blockstore.NewMsgAddRequest(fileHash, 1),
				blockstore.NewMsgAddBlock(0, content),
				blockstore.NewMsgAddDone(),
			},
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgError("file already stored"),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
	)
	runServerTest(
		t,
		conversation,
		blockstore.NewConfig(
			blockstore.WithAddFileFunc(
				func(chain.Hash, [][]byte) error {
					return chain.ErrDuplicateFile
				},
			),
		),
	)
}

func TestServerAddTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	fileHash := chain.HashData([]byte("stalled upload"))
	// The client announces two blocks, sends one, and then goes silent
	conversation := append(
		append([]mock.ConversationEntry{}, conversationEntryServerHandshake...),
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			Messages: []protocol.Message{
				blockstore.NewMsgAddRequest(fileHash, 2),
				blockstore.NewMsgAddBlock(0, []byte("first block")),
			},
		},
	)
	mockConn := mock.NewConnection(conversation)
	oConn, err := chainvault.New(
		chainvault.WithConnection(mockConn),
		chainvault.WithServer(true),
		chainvault.WithBlockStoreConfig(
			blockstore.NewConfig(
				blockstore.WithTimeout(200*time.Millisecond),
				blockstore.WithAddFileFunc(
					func(chain.Hash, [][]byte) error {
						t.Error("add callback invoked for an incomplete file")
						return nil
					},
				),
			),
		),
	)
	if err != nil {
		t.Fatalf("unexpected error when creating Connection object: %s", err)
	}
	// The server disconnects the stalled client after the configured timeout
	select {
	case err, ok := <-oConn.ErrorChan():
		if !ok {
			t.Fatal("connection shut down without reporting an error")
		}
		if !strings.Contains(err.Error(), "timeout") {
			t.Fatalf("did not get expected timeout error, got: %s", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not time out the stalled client")
	}
	// Close connection
	oConn.Close()
	// Wait for connection shutdown
	select {
	case <-oConn.ErrorChan():
	case <-time.After(10 * time.Second):
		t.Errorf("did not shutdown within timeout")
	}
}

func TestServerCheckHash(t *testing.T) {
	checkHash := chain.HashData([]byte("checked content"))
	conversation := append(
		append([]mock.ConversationEntry{}, conversationEntryServerHandshake...),
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			Messages: []protocol.Message{
				blockstore.NewMsgCheckRequest(checkHash),
			},
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgCheckResponse(true),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
	)
	runServerTest(
		t,
		conversation,
		blockstore.NewConfig(
			blockstore.WithCheckHashFunc(
				func(h chain.Hash) (bool, error) {
					if h != checkHash {
						return false, fmt.Errorf("unexpected hash: %s", h)
					}
					return true, nil
				},
			),
		),
	)
}

func TestServerGetFileStream(t *testing.T) {
	fileHash := chain.HashData([]byte("streamed file"))
	payloads := [][]byte{
		[]byte("streamed "),
		[]byte("file"),
	}
	conversation := append(
		append([]mock.ConversationEntry{}, conversationEntryServerHandshake...),
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			Messages: []protocol.Message{
				blockstore.NewMsgGetRequest(fileHash),
			},
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgStartStream(2),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgBlock(0, payloads[0]),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgBlock(1, payloads[1]),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgStreamDone(),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
	)
	runServerTest(
		t,
		conversation,
		blockstore.NewConfig(
			blockstore.WithGetFileFunc(
				func(h chain.Hash) ([][]byte, error) {
					if h != fileHash {
						return nil, chain.ErrNotFound
					}
					return payloads, nil
				},
			),
		),
	)
}

func TestServerGetFileNotFound(t *testing.T) {
	fileHash := chain.HashData([]byte("missing"))
	conversation := append(
		append([]mock.ConversationEntry{}, conversationEntryServerHandshake...),
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			Messages: []protocol.Message{
				blockstore.NewMsgGetRequest(fileHash),
			},
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			IsResponse:      true,
			Message:         blockstore.NewMsgNotFound(),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
	)
	runServerTest(
		t,
		conversation,
		blockstore.NewConfig(
			blockstore.WithGetFileFunc(
				func(chain.Hash) ([][]byte, error) {
					return nil, chain.ErrNotFound
				},
			),
		),
	)
}
