// Package peer implements the OpenFang Wire Protocol (OFP): an
// HMAC-authenticated, length-prefixed TCP protocol that exposes agents to
// other kernel processes for federation.
package peer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openfang-project/openfang/internal/store"
)

// ProtocolVersion is the wire protocol version. Handshakes require an
// exact match between peers.
const ProtocolVersion uint32 = 1

// MaxMessageSize bounds a single framed message body (16 MiB).
const MaxMessageSize uint32 = 16 << 20

// ErrConnectionClosed signals a clean EOF while reading a frame header.
var ErrConnectionClosed = errors.New("peer: connection closed")

// MessageTooLargeError reports a frame whose declared length exceeds MaxMessageSize.
type MessageTooLargeError struct {
	Size uint32
	Max  uint32
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("peer: message too large: %d bytes (max %d)", e.Size, e.Max)
}

// VersionMismatchError reports a protocol version disagreement during handshake.
type VersionMismatchError struct {
	Local  uint32
	Remote uint32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("peer: protocol version mismatch: local=%d, remote=%d", e.Local, e.Remote)
}

// MessageKind discriminates the WireMessage payload.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindNotification MessageKind = "notification"
)

// RequestKind discriminates a Request's concrete operation.
type RequestKind string

const (
	ReqHandshake   RequestKind = "handshake"
	ReqPing        RequestKind = "ping"
	ReqDiscover    RequestKind = "discover"
	ReqAgentMessage RequestKind = "agent_message"
)

// ResponseKind discriminates a Response's concrete operation.
type ResponseKind string

const (
	RespHandshakeAck   ResponseKind = "handshake_ack"
	RespPong           ResponseKind = "pong"
	RespDiscoverResult ResponseKind = "discover_result"
	RespAgentResponse  ResponseKind = "agent_response"
	RespError          ResponseKind = "error"
)

// NotificationKind discriminates a Notification's concrete operation.
type NotificationKind string

const (
	NotifAgentSpawned    NotificationKind = "agent_spawned"
	NotifAgentTerminated NotificationKind = "agent_terminated"
	NotifShuttingDown    NotificationKind = "shutting_down"
)

// RemoteAgentInfo describes one agent a peer is willing to expose. Tags and
// Tools use the lenient slice wrapper so a peer running a newer kernel that
// has migrated either field's shape doesn't break handshake decoding for
// older peers still on this version.
type RemoteAgentInfo struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Tags        store.LenientSlice[string] `json:"tags,omitempty"`
	Tools       store.LenientSlice[string] `json:"tools,omitempty"`
	State       string                     `json:"state"`
}

// Request is the payload of a WireMessage carrying KindRequest.
type Request struct {
	Kind RequestKind `json:"kind"`

	// ReqHandshake
	NodeID          string            `json:"node_id,omitempty"`
	NodeName        string            `json:"node_name,omitempty"`
	ProtocolVersion uint32            `json:"protocol_version,omitempty"`
	Agents          []RemoteAgentInfo `json:"agents,omitempty"`
	Nonce           string            `json:"nonce,omitempty"`
	AuthHMAC        string            `json:"auth_hmac,omitempty"`

	// ReqDiscover
	Query string `json:"query,omitempty"`

	// ReqAgentMessage
	Agent   string `json:"agent,omitempty"`
	Message string `json:"message,omitempty"`
	Sender  string `json:"sender,omitempty"`
}

// Response is the payload of a WireMessage carrying KindResponse.
type Response struct {
	Kind ResponseKind `json:"kind"`

	// RespHandshakeAck
	NodeID          string            `json:"node_id,omitempty"`
	NodeName        string            `json:"node_name,omitempty"`
	ProtocolVersion uint32            `json:"protocol_version,omitempty"`
	Agents          []RemoteAgentInfo `json:"agents,omitempty"`
	Nonce           string            `json:"nonce,omitempty"`
	AuthHMAC        string            `json:"auth_hmac,omitempty"`

	// RespPong
	UptimeSecs uint64 `json:"uptime_secs,omitempty"`

	// RespAgentResponse
	Text string `json:"text,omitempty"`

	// RespError
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Notification is the payload of a WireMessage carrying KindNotification.
type Notification struct {
	Kind NotificationKind `json:"kind"`

	// NotifAgentSpawned
	Agent RemoteAgentInfo `json:"agent,omitempty"`

	// NotifAgentTerminated
	AgentID string `json:"agent_id,omitempty"`
}

// WireMessage is the single envelope type exchanged over the wire.
type WireMessage struct {
	ID           string        `json:"id"`
	Kind         MessageKind   `json:"kind"`
	Request      *Request      `json:"request,omitempty"`
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

func encodeMessage(msg *WireMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("peer: encode message: %w", err)
	}
	if uint32(len(body)) > MaxMessageSize {
		return nil, &MessageTooLargeError{Size: uint32(len(body)), Max: MaxMessageSize}
	}
	framed := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(body)))
	copy(framed[4:], body)
	return framed, nil
}

func decodeMessage(body []byte) (*WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("peer: decode message: %w", err)
	}
	return &msg, nil
}

// WriteMessage writes a framed message (4-byte big-endian length + JSON) to w.
func WriteMessage(w io.Writer, msg *WireMessage) error {
	framed, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(framed)
	return err
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (*WireMessage, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageSize {
		return nil, &MessageTooLargeError{Size: length, Max: MaxMessageSize}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	return decodeMessage(body)
}

func errorResponse(id string, code int, message string) *WireMessage {
	return &WireMessage{
		ID:   id,
		Kind: KindResponse,
		Response: &Response{
			Kind:    RespError,
			Code:    code,
			Message: message,
		},
	}
}
