package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// Client is the client side of the daemon protocol. It is safe for
// concurrent use; requests from multiple goroutines are correlated by
// request ID over a single connection.
type Client struct {
	mu         sync.RWMutex
	conn       net.Conn
	socketPath string
	clientID   string
	version    string

	// Connection state
	connected    atomic.Bool
	reconnecting atomic.Bool

	// Request handling
	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	// Event handling
	eventChan chan *Event

	// Reconnection
	autoReconnect bool
	reconnectWait time.Duration
	maxReconnect  int

	// Shutdown coordination
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(runtimeDir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(runtimeDir, "keymapd.sock"),
		ClientName:     "keymapctl",
		ClientVersion:  "1.0.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  false,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	return &Client{
		socketPath:    cfg.SocketPath,
		pending:       make(map[uint32]chan *Message),
		eventChan:     make(chan *Event, 100),
		autoReconnect: cfg.AutoReconnect,
		reconnectWait: cfg.ReconnectWait,
		maxReconnect:  cfg.MaxReconnect,
		stopChan:      make(chan struct{}),
		config:        cfg,
	}
}

// Connect establishes a connection to the daemon and performs the
// protocol handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.socketPath)
	if err != nil {
		c.mu.Unlock()
		if _, statErr := os.Stat(c.socketPath); os.IsNotExist(statErr) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}

	return nil
}

// Close closes the connection to the daemon
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	return nil
}

// close closes the connection without signaling shutdown
func (c *Client) close() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
	c.mu.Unlock()

	// Cancel all pending requests
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the ID assigned by the server during handshake
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerVersion returns the daemon version reported during handshake
func (c *Client) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Events returns the channel of streamed daemon events. Subscribe must
// be called before events arrive.
func (c *Client) Events() <-chan *Event {
	return c.eventChan
}

// handshake performs the initial handshake with the server
func (c *Client) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}

	resp, err := c.request(MsgHandshake, req)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgHandshakeAck {
		return fmt.Errorf("unexpected response type: %#04x", uint16(resp.Header.Type))
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.clientID = ack.ClientID
	c.version = ack.ServerVersion
	c.mu.Unlock()

	return nil
}

// request sends a request and waits for a response
func (c *Client) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

// requestWithTimeout sends a request with a custom timeout
func (c *Client) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := msg.Write(conn); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.stopChan:
		return nil, ErrNotConnected
	}
}

// readLoop reads messages from the connection
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			if c.autoReconnect && c.tryReconnect() {
				continue
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			select {
			case <-c.stopChan:
				return
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendPing()
				continue
			}

			c.close()
			if c.autoReconnect && c.tryReconnect() {
				continue
			}
			return
		}

		c.handleMessage(msg)
	}
}

// handleMessage processes an incoming message
func (c *Client) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Keepalive response, ignore

	case MsgPing:
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			pong := NewMessage(MsgPong, msg.Header.RequestID, nil)
			pong.Write(conn)
		}

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err == nil {
			select {
			case c.eventChan <- &event:
			default:
				// Channel full, drop event
			}
		}

	default:
		// Response to a request
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// sendPing sends a ping to keep connection alive
func (c *Client) sendPing() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		msg := NewMessage(MsgPing, c.nextReqID.Add(1), nil)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		msg.Write(conn)
	}
}

// tryReconnect attempts to reconnect to the daemon. Returns true when a
// connection was re-established.
func (c *Client) tryReconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.maxReconnect; i++ {
		select {
		case <-c.stopChan:
			return false
		case <-time.After(c.reconnectWait):
		}

		if err := c.Connect(); err == nil {
			return true
		}
	}
	return false
}

// call sends a typed request and decodes the typed response, converting
// daemon error messages into Go errors.
func (c *Client) call(msgType MessageType, req, result any) error {
	return c.callWithTimeout(msgType, req, result, c.config.RequestTimeout)
}

func (c *Client) callWithTimeout(msgType MessageType, req, result any, timeout time.Duration) error {
	resp, err := c.requestWithTimeout(msgType, req, timeout)
	if err != nil {
		return err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("daemon error (undecodable): %w", err)
		}
		if errResp.Details != "" {
			return fmt.Errorf("%s: %s", errResp.Message, errResp.Details)
		}
		return errors.New(errResp.Message)
	}

	if result == nil {
		return nil
	}
	if err := Decode(resp.Payload, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// High-level API methods

// Ping checks if the daemon is responsive
func (c *Client) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %#04x", uint16(resp.Header.Type))
	}
	return nil
}

// Status requests the daemon status
func (c *Client) Status() (*StatusResponse, error) {
	var result StatusResponse
	if err := c.call(MsgStatusRequest, &StatusRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetLayout fetches the current layout document
func (c *Client) GetLayout() (*GetLayoutResponse, error) {
	var result GetLayoutResponse
	if err := c.call(MsgGetLayout, &GetLayoutRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetKey reads the value at an address
func (c *Client) GetKey(address string) (*GetKeyResponse, error) {
	var result GetKeyResponse
	if err := c.call(MsgGetKey, &GetKeyRequest{Address: address}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetKey stages a new value for an address
func (c *Client) SetKey(address, keycode string) (*SetKeyResponse, error) {
	var result SetKeyResponse
	req := &SetKeyRequest{Address: address, Keycode: keycode}
	if err := c.call(MsgSetKey, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Recompose toggles modifiers on the key at an address
func (c *Client) Recompose(address, mods string, tap bool) (*RecomposeResponse, error) {
	var result RecomposeResponse
	req := &RecomposeRequest{Address: address, Mods: mods, Tap: tap}
	if err := c.call(MsgRecompose, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Pending lists staged changes in queue order
func (c *Client) Pending() (*PendingResponse, error) {
	var result PendingResponse
	if err := c.call(MsgPending, &PendingRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Commit flushes staged changes to the device
func (c *Client) Commit() (*CommitResponse, error) {
	var result CommitResponse
	if err := c.callWithTimeout(MsgCommit, &CommitRequest{}, &result, 2*time.Minute); err != nil {
		return nil, err
	}
	return &result, nil
}

// Revert restores device values for staged changes
func (c *Client) Revert() (*RevertResponse, error) {
	var result RevertResponse
	if err := c.callWithTimeout(MsgRevert, &RevertRequest{}, &result, 2*time.Minute); err != nil {
		return nil, err
	}
	return &result, nil
}

// Clear drops staged changes without touching the device
func (c *Client) Clear() (*ClearResponse, error) {
	var result ClearResponse
	if err := c.call(MsgClear, &ClearRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetInstant toggles instant mode
func (c *Client) SetInstant(instant bool) (*SetInstantResponse, error) {
	var result SetInstantResponse
	if err := c.call(MsgSetInstant, &SetInstantRequest{Instant: instant}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// History fetches commit history, newest first
func (c *Client) History(limit, offset int) (*GetHistoryResponse, error) {
	var result GetHistoryResponse
	req := &GetHistoryRequest{Limit: limit, Offset: offset}
	if err := c.call(MsgGetHistory, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HistoryForBatch fetches the entries of one commit batch
func (c *Client) HistoryForBatch(batch string) (*GetHistoryResponse, error) {
	var result GetHistoryResponse
	req := &GetHistoryRequest{Batch: batch}
	if err := c.call(MsgGetHistory, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExportLayout fetches the layout export document
func (c *Client) ExportLayout() (*ExportLayoutResponse, error) {
	var result ExportLayoutResponse
	if err := c.call(MsgExportLayout, &ExportLayoutRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ImportLayout stages a layout document onto the device
func (c *Client) ImportLayout(layout []byte) (*ImportLayoutResponse, error) {
	var result ImportLayoutResponse
	req := &ImportLayoutRequest{Layout: layout}
	if err := c.callWithTimeout(MsgImportLayout, req, &result, 2*time.Minute); err != nil {
		return nil, err
	}
	return &result, nil
}

// SnapshotSave saves the current layout under a name
func (c *Client) SnapshotSave(name string) (*SnapshotSaveResponse, error) {
	var result SnapshotSaveResponse
	if err := c.call(MsgSnapshotSave, &SnapshotSaveRequest{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SnapshotList lists saved snapshots
func (c *Client) SnapshotList() (*SnapshotListResponse, error) {
	var result SnapshotListResponse
	if err := c.call(MsgSnapshotList, &SnapshotListRequest{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SnapshotRestore stages a saved snapshot onto the device
func (c *Client) SnapshotRestore(name string) (*SnapshotRestoreResponse, error) {
	var result SnapshotRestoreResponse
	req := &SnapshotRestoreRequest{Name: name}
	if err := c.callWithTimeout(MsgSnapshotRestore, req, &result, 2*time.Minute); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe subscribes to daemon events. An empty list subscribes to
// all event types.
func (c *Client) Subscribe(events []EventType) error {
	var result SubscribeResponse
	if err := c.call(MsgSubscribe, &SubscribeRequest{Events: events}, &result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("subscription failed")
	}
	return nil
}

// Unsubscribe unsubscribes from daemon events
func (c *Client) Unsubscribe() error {
	return c.call(MsgUnsubscribe, &UnsubscribeRequest{}, nil)
}
