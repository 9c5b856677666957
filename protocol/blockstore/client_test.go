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
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"

	chainvault "github.com/chainvault/chainvault"
	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/internal/mock"
	"github.com/chainvault/chainvault/protocol"
	"github.com/chainvault/chainvault/protocol/blockstore"
)

// runClientTest runs a conversation against the block-store client and the
// provided test body
func runClientTest(
	t *testing.T,
	conversation []mock.ConversationEntry,
	innerFunc func(*testing.T, *chainvault.Connection),
) {
	t.Helper()
	defer goleak.VerifyNone(t)
	mockConn := mock.NewConnection(conversation)
	// Async mock connection error handler
	asyncErrChan := make(chan error, 1)
	go func() {
		err := <-mockConn.ErrorChan()
		if err != nil {
			asyncErrChan <- fmt.Errorf(
				"received unexpected error\n  got:    %v\n  wanted: no error",
				err,
			)
		}
		close(asyncErrChan)
	}()
	oConn, err := chainvault.New(
		chainvault.WithConnection(mockConn),
	)
	if err != nil {
		t.Fatalf("unexpected error when creating Connection object: %s", err)
	}
	innerFunc(t, oConn)
	// Wait for mock connection shutdown
	select {
	case err, ok := <-asyncErrChan:
		if ok {
			t.Fatal(err.Error())
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

func TestAddFile(t *testing.T) {
	content := []byte("test file content for the add operation")
	fileHash := chain.HashData(content)
	conversation := []mock.ConversationEntry{
		mock.ConversationEntryHandshakeRequestGeneric,
		mock.ConversationEntryHandshakeResponse,
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgAddRequest(fileHash, 1),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgAddBlock(0, content),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgAddDone(),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockstore.NewMsgAddAck(fileHash),
			},
		},
	}
	runClientTest(
		t,
		conversation,
		func(t *testing.T, oConn *chainvault.Connection) {
			storedHash, err := oConn.AddFile(content)
			if err != nil {
				t.Fatalf("unexpected error when adding file: %s", err)
			}
			if storedHash != fileHash {
				t.Fatalf(
					"did not get expected file hash\n  got:    %s\n  wanted: %s",
					storedHash,
					fileHash,
				)
			}
		},
	)
}

func TestAddFileServerError(t *testing.T) {
	content := []byte("duplicate file content")
	fileHash := chain.HashData(content)
	conversation := []mock.ConversationEntry{
		mock.ConversationEntryHandshakeRequestGeneric,
		mock.ConversationEntryHandshakeResponse,
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgAddRequest(fileHash, 1),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgAddBlock(0, content),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgAddDone(),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockstore.NewMsgError("file already stored"),
			},
		},
	}
	runClientTest(
		t,
		conversation,
		func(t *testing.T, oConn *chainvault.Connection) {
			_, err := oConn.AddFile(content)
			var serverErr *blockstore.ServerError
			if !errors.As(err, &serverErr) {
				t.Fatalf(
					"did not get expected error\n  got:    %v\n  wanted: server error",
					err,
				)
			}
			if serverErr.Reason != "file already stored" {
				t.Fatalf("did not get expected error reason: %s", serverErr.Reason)
			}
		},
	)
}

func TestCheckHash(t *testing.T) {
	checkHash := chain.HashData([]byte("present content"))
	conversation := []mock.ConversationEntry{
		mock.ConversationEntryHandshakeRequestGeneric,
		mock.ConversationEntryHandshakeResponse,
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgCheckRequest(checkHash),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockstore.NewMsgCheckResponse(true),
			},
		},
	}
	runClientTest(
		t,
		conversation,
		func(t *testing.T, oConn *chainvault.Connection) {
			present, err := oConn.CheckHash(checkHash)
			if err != nil {
				t.Fatalf("unexpected error when checking hash: %s", err)
			}
			if !present {
				t.Fatal("expected hash to be reported present")
			}
		},
	)
}

func TestVerifyChain(t *testing.T) {
	conversation := []mock.ConversationEntry{
		mock.ConversationEntryHandshakeRequestGeneric,
		mock.ConversationEntryHandshakeResponse,
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgVerifyRequest(),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockstore.NewMsgVerifyResponse(false, 42),
			},
		},
	}
	runClientTest(
		t,
		conversation,
		func(t *testing.T, oConn *chainvault.Connection) {
			result, err := oConn.VerifyChain()
			if err != nil {
				t.Fatalf("unexpected error when verifying chain: %s", err)
			}
			if result.Ok {
				t.Fatal("expected verification failure")
			}
			if result.BrokenIndex != 42 {
				t.Fatalf(
					"did not get expected broken index\n  got:    %d\n  wanted: 42",
					result.BrokenIndex,
				)
			}
		},
	)
}

func TestGetFile(t *testing.T) {
	part1 := []byte("first half of the file ")
	part2 := []byte("and the second half")
	content := append(append([]byte{}, part1...), part2...)
	fileHash := chain.HashData(content)
	conversation := []mock.ConversationEntry{
		mock.ConversationEntryHandshakeRequestGeneric,
		mock.ConversationEntryHandshakeResponse,
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgGetRequest(fileHash),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockstore.NewMsgStartStream(2),
				blockstore.NewMsgBlock(0, part1),
				blockstore.NewMsgBlock(1, part2),
				blockstore.NewMsgStreamDone(),
			},
		},
	}
	runClientTest(
		t,
		conversation,
		func(t *testing.T, oConn *chainvault.Connection) {
			fetched, err := oConn.GetFile(fileHash)
			if err != nil {
				t.Fatalf("unexpected error when fetching file: %s", err)
			}
			if string(fetched) != string(content) {
				t.Fatalf(
					"did not get expected content\n  got:    %q\n  wanted: %q",
					fetched,
					content,
				)
			}
		},
	)
}

func TestGetFileNotFound(t *testing.T) {
	fileHash := chain.HashData([]byte("missing file"))
	conversation := []mock.ConversationEntry{
		mock.ConversationEntryHandshakeRequestGeneric,
		mock.ConversationEntryHandshakeResponse,
		mock.ConversationEntryInput{
			ProtocolId:      blockstore.ProtocolId,
			Message:         blockstore.NewMsgGetRequest(fileHash),
			MsgFromCborFunc: blockstore.NewMsgFromCbor,
		},
		mock.ConversationEntryOutput{
			ProtocolId: blockstore.ProtocolId,
			IsResponse: true,
			Messages: []protocol.Message{
				blockstore.NewMsgNotFound(),
			},
		},
	}
	runClientTest(
		t,
		conversation,
		func(t *testing.T, oConn *chainvault.Connection) {
			_, err := oConn.GetFile(fileHash)
			if !errors.Is(err, blockstore.ErrFileNotFound) {
				t.Fatalf(
					"did not get expected error\n  got:    %v\n  wanted: %v",
					err,
					blockstore.ErrFileNotFound,
				)
			}
		},
	)
}
