// Package ipc provides inter-process communication between the keymapd
// daemon and client applications (keymapctl, scripts, third-party tools).
//
// The protocol is designed for:
// - Request/response pattern for commands
// - Event streaming for real-time updates
// - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4B4D5043 // "KMPC" - Keymapd IPC
)

// MaxPayloadSize caps a single message payload. Layout exports for large
// boards stay well under this.
const MaxPayloadSize = 10 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Keymap and codec operations (0x02xx)
	MsgGetLayout     MessageType = 0x0200
	MsgGetLayoutResp MessageType = 0x0201
	MsgGetKey        MessageType = 0x0202
	MsgGetKeyResp    MessageType = 0x0203
	MsgSetKey        MessageType = 0x0204
	MsgSetKeyResp    MessageType = 0x0205
	MsgRecompose     MessageType = 0x0206
	MsgRecomposeResp MessageType = 0x0207

	// Change log operations (0x03xx)
	MsgPending        MessageType = 0x0300
	MsgPendingResp    MessageType = 0x0301
	MsgCommit         MessageType = 0x0302
	MsgCommitResp     MessageType = 0x0303
	MsgRevert         MessageType = 0x0304
	MsgRevertResp     MessageType = 0x0305
	MsgClear          MessageType = 0x0306
	MsgClearResp      MessageType = 0x0307
	MsgSetInstant     MessageType = 0x0308
	MsgSetInstantResp MessageType = 0x0309

	// Persistence operations (0x04xx)
	MsgGetHistory          MessageType = 0x0400
	MsgGetHistoryResp      MessageType = 0x0401
	MsgExportLayout        MessageType = 0x0402
	MsgExportLayoutResp    MessageType = 0x0403
	MsgImportLayout        MessageType = 0x0404
	MsgImportLayoutResp    MessageType = 0x0405
	MsgSnapshotSave        MessageType = 0x0406
	MsgSnapshotSaveResp    MessageType = 0x0407
	MsgSnapshotList        MessageType = 0x0408
	MsgSnapshotListResp    MessageType = 0x0409
	MsgSnapshotRestore     MessageType = 0x040A
	MsgSnapshotRestoreResp MessageType = 0x040B

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventDeviceAttached EventType = 0x0001
	EventDeviceDetached EventType = 0x0002
	EventCommitApplied  EventType = 0x0003
	EventPendingChanged EventType = 0x0004
	EventInstantChanged EventType = 0x0005
	EventConfigReloaded EventType = 0x0006
	EventDaemonShutdown EventType = 0x0007
)

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON        uint8 = 0x01
	FlagStreamStart uint8 = 0x02
	FlagStreamEnd   uint8 = 0x04
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown        = 1
	ErrInvalidRequest = 2
	ErrNotFound       = 3
	ErrNoDevice       = 4
	ErrInternalError  = 5
	ErrBadKeycode     = 6
	ErrBadAddress     = 7
	ErrCommitFailed   = 8
)

// StatusRequest requests daemon status
type StatusRequest struct{}

// DeviceStatus describes the attached keyboard, if any
type DeviceStatus struct {
	Connected       bool   `json:"connected"`
	Path            string `json:"path,omitempty"`
	ProtocolVersion uint16 `json:"protocol_version,omitempty"`
	Layers          uint8  `json:"layers,omitempty"`
	Rows            uint8  `json:"rows,omitempty"`
	Cols            uint8  `json:"cols,omitempty"`
	Combos          uint8  `json:"combos,omitempty"`
	Macros          uint8  `json:"macros,omitempty"`
	TapDances       uint8  `json:"tap_dances,omitempty"`
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version        string        `json:"version"`
	StartedAt      time.Time     `json:"started_at"`
	Uptime         time.Duration `json:"uptime"`
	Device         DeviceStatus  `json:"device"`
	PendingChanges int           `json:"pending_changes"`
	InstantMode    bool          `json:"instant_mode"`
	Fingerprint    string        `json:"fingerprint,omitempty"`
	ActiveSessions int           `json:"active_sessions"`
	Clients        int           `json:"clients"`
}

// GetLayoutRequest requests the current layout document
type GetLayoutRequest struct{}

// GetLayoutResponse carries the exported layout JSON
type GetLayoutResponse struct {
	Layout      []byte `json:"layout"`
	Fingerprint string `json:"fingerprint"`
}

// GetKeyRequest requests the value at an address
type GetKeyRequest struct {
	Address string `json:"address"`
}

// GetKeyResponse contains the decoded value at an address
type GetKeyResponse struct {
	Address string `json:"address"`
	Keycode string `json:"keycode"`
	Raw     uint16 `json:"raw"`
	Pending bool   `json:"pending"` // a staged change targets this address
}

// SetKeyRequest stages (or, in instant mode, applies) a value
type SetKeyRequest struct {
	Address string `json:"address"`
	Keycode string `json:"keycode"`
}

// SetKeyResponse acknowledges a staged change
type SetKeyResponse struct {
	Address string `json:"address"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Applied bool   `json:"applied"` // true when instant mode wrote it through
	Pending int    `json:"pending"`
}

// RecomposeRequest edits the modifiers of the key at an address.
// Mods is the canonical modifier string ("Ctrl+Shift"); each named
// modifier is toggled against the current value. Tap switches the
// wrapper to hold-tap form.
type RecomposeRequest struct {
	Address string `json:"address"`
	Mods    string `json:"mods"`
	Tap     bool   `json:"tap,omitempty"`
}

// RecomposeResponse reports the recomposed chord
type RecomposeResponse struct {
	Address string `json:"address"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Pending int    `json:"pending"`
}

// PendingRequest lists staged changes
type PendingRequest struct{}

// PendingChange describes one staged change
type PendingChange struct {
	Address  string    `json:"address"`
	Old      string    `json:"old,omitempty"`
	New      string    `json:"new"`
	QueuedAt time.Time `json:"queued_at"`
}

// PendingResponse contains the staged change list in queue order
type PendingResponse struct {
	Changes []PendingChange `json:"changes"`
	Instant bool            `json:"instant"`
}

// CommitRequest flushes staged changes to the device
type CommitRequest struct{}

// CommitResponse reports commit results
type CommitResponse struct {
	Applied     int    `json:"applied"`
	Remaining   int    `json:"remaining"`
	BatchID     string `json:"batch_id,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	FailedAddr  string `json:"failed_addr,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RevertRequest restores baselines for staged changes
type RevertRequest struct{}

// RevertResponse reports revert results
type RevertResponse struct {
	Restored  int    `json:"restored"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// ClearRequest drops staged changes without touching the device
type ClearRequest struct{}

// ClearResponse reports how many changes were dropped
type ClearResponse struct {
	Dropped int `json:"dropped"`
}

// SetInstantRequest toggles instant mode
type SetInstantRequest struct {
	Instant bool `json:"instant"`
}

// SetInstantResponse acknowledges the mode change
type SetInstantResponse struct {
	Instant bool `json:"instant"`
	Pending int  `json:"pending"` // staged changes left behind by the switch
}

// GetHistoryRequest requests commit history
type GetHistoryRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Batch  string `json:"batch,omitempty"` // restrict to one batch
}

// HistoryEntry describes one applied change
type HistoryEntry struct {
	BatchID   string    `json:"batch_id"`
	AppliedAt time.Time `json:"applied_at"`
	Address   string    `json:"address"`
	Old       string    `json:"old,omitempty"`
	New       string    `json:"new"`
}

// GetHistoryResponse contains commit history, newest first
type GetHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// ExportLayoutRequest requests a layout export document
type ExportLayoutRequest struct{}

// ExportLayoutResponse contains the layout document
type ExportLayoutResponse struct {
	Layout      []byte `json:"layout"`
	Fingerprint string `json:"fingerprint"`
}

// ImportLayoutRequest stages a full layout document. Every cell that
// differs from the device is queued as a pending change.
type ImportLayoutRequest struct {
	Layout []byte `json:"layout"`
}

// ImportLayoutResponse reports how much of the import differed
type ImportLayoutResponse struct {
	Queued  int    `json:"queued"`
	Applied bool   `json:"applied"` // instant mode wrote changes through
	Error   string `json:"error,omitempty"`
}

// SnapshotSaveRequest saves the current layout under a name
type SnapshotSaveRequest struct {
	Name string `json:"name"`
}

// SnapshotSaveResponse acknowledges a saved snapshot
type SnapshotSaveResponse struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// SnapshotListRequest lists saved snapshots
type SnapshotListRequest struct{}

// SnapshotInfo summarizes one saved snapshot
type SnapshotInfo struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	Fingerprint string    `json:"fingerprint"`
}

// SnapshotListResponse contains saved snapshots, newest first
type SnapshotListResponse struct {
	Snapshots []SnapshotInfo `json:"snapshots"`
}

// SnapshotRestoreRequest stages a saved snapshot onto the device
type SnapshotRestoreRequest struct {
	Name string `json:"name"`
}

// SnapshotRestoreResponse reports the restore staging result
type SnapshotRestoreResponse struct {
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Applied bool   `json:"applied"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeRequest requests event unsubscription
type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// CommitAppliedEvent reports a completed commit to subscribers
type CommitAppliedEvent struct {
	BatchID     string `json:"batch_id"`
	Applied     int    `json:"applied"`
	Fingerprint string `json:"fingerprint"`
}

// PendingChangedEvent reports a change in the staged-change count
type PendingChangedEvent struct {
	Pending int `json:"pending"`
}

// DeviceChangeEvent reports attach/detach of the keyboard
type DeviceChangeEvent struct {
	Path string `json:"path,omitempty"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
