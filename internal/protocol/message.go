// Package protocol defines the wire envelope shared by the coordinator and
// its workers/clients: a typed, correlated JSON message with an optional
// companion binary body. It has no transport or domain dependencies.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types, grouped as in the wire protocol's handshake / steady-state /
// job lifecycle / artifact transfer / shutdown sections.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeGoodbye = "GOODBYE"

	TypeAuthChallenge = "AUTH_CHALLENGE"
	TypeAuthResponse  = "AUTH_RESPONSE"
	TypeAuthSuccess   = "AUTH_SUCCESS"
	TypeAuthFailed    = "AUTH_FAILED"

	TypeHeartbeat    = "HEARTBEAT"
	TypeHeartbeatAck = "HEARTBEAT_ACK"
	TypeStatusUpdate = "STATUS_UPDATE"

	TypeJobRequest   = "JOB_REQUEST"
	TypeJobAccept    = "JOB_ACCEPT"
	TypeJobReject    = "JOB_REJECT"
	TypeJobProgress  = "JOB_PROGRESS"
	TypeJobComplete  = "JOB_COMPLETE"
	TypeJobFailed    = "JOB_FAILED"
	TypeJobCancel    = "JOB_CANCEL"
	TypeJobCancelled = "JOB_CANCELLED"

	TypeArtifactRequest  = "ARTIFACT_REQUEST"
	TypeArtifactResponse = "ARTIFACT_RESPONSE"
	TypeArtifactPush     = "ARTIFACT_PUSH"
	TypeArtifactAck      = "ARTIFACT_ACK"

	TypeFileTransferStart = "FILE_TRANSFER_START"
	TypeFileTransferChunk = "FILE_TRANSFER_CHUNK"
	TypeFileTransferEnd   = "FILE_TRANSFER_END"
	TypeFileTransferAck   = "FILE_TRANSFER_ACK"

	TypeShutdown = "SHUTDOWN"
	TypeError    = "ERROR"
)

// Message is the envelope for every frame exchanged over the transport.
// Payload is left as json.RawMessage so decoding a message never needs to
// know the type in advance; handlers decode their own payload shape with
// DecodePayload.
type Message struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	Sender        string          `json:"sender,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	BinarySize    int64           `json:"binary_size,omitempty"`
	HasBinary     bool            `json:"has_binary,omitempty"`

	// Binary carries the companion binary body once reassembled by the
	// transport; it is never part of the JSON wire form.
	Binary []byte `json:"-"`
}

// ParseError reports a malformed or unparsable message, preserving as much
// of the original envelope as could be recovered.
type ParseError struct {
	Len           int
	ID            string
	CorrelationID string
	Err           error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("protocol: failed to parse %d-byte message: %v", e.Len, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// NowMS returns the current time in milliseconds since the Unix epoch.
func NowMS() int64 {
	return time.Now().UnixMilli()
}

// NewMessage builds a Message with a fresh id, current timestamp, and the
// payload marshaled to JSON.
func NewMessage(msgType, sender string, payload any) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		ID:        NewID(),
		Timestamp: NowMS(),
		Sender:    sender,
		Payload:   raw,
	}, nil
}

// MakeResponse builds a response to req: its correlation_id is set to req's
// id, per the invariant that every response carries the request's id as its
// correlation_id.
func MakeResponse(req *Message, msgType, sender string, payload any) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:          msgType,
		ID:            NewID(),
		CorrelationID: req.ID,
		Timestamp:     NowMS(),
		Sender:        sender,
		Payload:       raw,
	}, nil
}

// MakeError builds an ERROR response to req, preserving req's id as the
// correlation_id even when req itself failed to parse.
func MakeError(req *Message, sender, reason string) *Message {
	raw, _ := marshalPayload(ErrorPayload{Reason: reason})
	corrID := ""
	if req != nil {
		corrID = req.ID
	}
	return &Message{
		Type:          TypeError,
		ID:            NewID(),
		CorrelationID: corrID,
		Timestamp:     NowMS(),
		Sender:        sender,
		Payload:       raw,
	}
}

// ErrorPayload is the payload carried by ERROR messages.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return data, nil
}

// Encode serializes a Message to its JSON wire form. The caller is
// responsible for framing Binary separately when HasBinary is set.
func Encode(msg *Message) ([]byte, error) {
	if msg.Binary != nil {
		msg.HasBinary = true
		msg.BinarySize = int64(len(msg.Binary))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// Decode parses the JSON wire form of a message. Unknown fields are
// ignored by encoding/json by default; an unrecognized Type string is
// preserved as an opaque string rather than rejected — callers that don't
// recognize it should reply with an ERROR message of their own.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ParseError{Len: len(data), Err: err}
	}
	if msg.ID == "" {
		return nil, &ParseError{Len: len(data), Err: fmt.Errorf("protocol: missing id")}
	}
	return &msg, nil
}

// DecodePayload unmarshals a message's payload into T.
func DecodePayload[T any](msg *Message) (T, error) {
	var v T
	if len(msg.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return v, fmt.Errorf("protocol: decode payload of %s: %w", msg.Type, err)
	}
	return v, nil
}
