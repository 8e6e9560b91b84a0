package ipc

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	payload, err := Encode(&GetKeyRequest{Address: "key:0.1.2"})
	require.NoError(t, err)

	msg := NewMessage(MsgGetKey, 42, payload)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)

	assert.Equal(t, uint32(ProtocolMagic), got.Header.Magic)
	assert.Equal(t, MsgGetKey, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)

	var req GetKeyRequest
	require.NoError(t, Decode(got.Payload, &req))
	assert.Equal(t, "key:0.1.2", req.Address)
}

func TestMessageEmptyPayload(t *testing.T) {
	msg := NewMessage(MsgPing, 1, nil)

	var buf bytes.Buffer
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgPing, got.Header.Type)
	assert.Empty(t, got.Payload)
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0xDE
	buf[1] = 0xAD

	_, err := ReadHeader(bytes.NewReader(buf))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid magic")
}

func TestReadMessageRejectsOversizedPayload(t *testing.T) {
	h := Header{
		Magic:   ProtocolMagic,
		Version: ProtocolVersion,
		Type:    MsgImportLayout,
		Length:  MaxPayloadSize + 1,
	}
	var buf bytes.Buffer
	require.NoError(t, h.Write(&buf))

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload too large")
}

func TestErrorMessageCarriesCode(t *testing.T) {
	msg := NewErrorMessage(7, ErrBadAddress, "no such region")

	var resp ErrorResponse
	require.NoError(t, Decode(msg.Payload, &resp))
	assert.Equal(t, ErrBadAddress, resp.Code)
	assert.Equal(t, "no such region", resp.Message)
	assert.Equal(t, uint32(7), msg.Header.RequestID)
}

func startTestServer(t *testing.T, handler Handler) (*Server, string) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(ServerConfig{SocketPath: sock, Version: "test"}, handler, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, sock
}

func connectTestClient(t *testing.T, sock string) *Client {
	t.Helper()

	cfg := DefaultClientConfig(filepath.Dir(sock))
	cfg.SocketPath = sock
	cfg.RequestTimeout = 5 * time.Second
	cli := NewClient(cfg)
	require.NoError(t, cli.Connect())
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestClientServerRequestResponse(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
		switch msg.Header.Type {
		case MsgStatusRequest:
			return NewResponse(MsgStatusResponse, msg.Header.RequestID, &StatusResponse{
				Version:        "test",
				PendingChanges: 3,
				InstantMode:    true,
			})
		default:
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unhandled"), nil
		}
	})

	_, sock := startTestServer(t, handler)
	cli := connectTestClient(t, sock)

	require.NoError(t, cli.Ping())
	assert.NotEmpty(t, cli.ClientID())
	assert.Equal(t, "test", cli.ServerVersion())

	status, err := cli.Status()
	require.NoError(t, err)
	assert.Equal(t, 3, status.PendingChanges)
	assert.True(t, status.InstantMode)
}

func TestClientSurfacesDaemonErrors(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, client *ClientConn, msg *Message) (*Message, error) {
		return NewErrorMessage(msg.Header.RequestID, ErrNoDevice, "no keyboard attached"), nil
	})

	_, sock := startTestServer(t, handler)
	cli := connectTestClient(t, sock)

	_, err := cli.Commit()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no keyboard attached")
}

func TestEventBroadcastReachesSubscriber(t *testing.T) {
	srv, sock := startTestServer(t, nil)
	cli := connectTestClient(t, sock)

	require.NoError(t, cli.Subscribe(nil))

	srv.Broadcast(&Event{
		Type:      EventPendingChanged,
		Timestamp: time.Now(),
		Data:      PendingChangedEvent{Pending: 2},
	})

	select {
	case ev := <-cli.Events():
		assert.Equal(t, EventPendingChanged, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestBroadcastSkipsUnsubscribedTypes(t *testing.T) {
	srv, sock := startTestServer(t, nil)
	cli := connectTestClient(t, sock)

	require.NoError(t, cli.Subscribe([]EventType{EventCommitApplied}))

	srv.Broadcast(&Event{Type: EventPendingChanged, Timestamp: time.Now()})
	srv.Broadcast(&Event{Type: EventCommitApplied, Timestamp: time.Now()})

	select {
	case ev := <-cli.Events():
		assert.Equal(t, EventCommitApplied, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestServerRemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "d.sock")

	first := NewServer(ServerConfig{SocketPath: sock, Version: "test"}, nil, nil)
	require.NoError(t, first.Start())
	require.NoError(t, first.Stop())

	// A crashed daemon leaves the socket file behind; simulate by
	// starting over the same path.
	second := NewServer(ServerConfig{SocketPath: sock, Version: "test"}, nil, nil)
	require.NoError(t, second.Start())
	defer second.Stop()

	cli := connectTestClient(t, sock)
	require.NoError(t, cli.Ping())
}
