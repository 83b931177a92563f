// Package protocol defines the frames exchanged between SyncChat clients and
// the server. Client-to-server frames are events wrapped in a type-tagged
// JSON envelope; server-to-client frames are room snapshots.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/syncchat/internal/room"
)

var (
	// ErrUnknownEvent is returned when an envelope carries an unrecognized type tag.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrMalformedFrame is returned when a frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Kind is the type tag of an event envelope.
type Kind string

const (
	KindLogin        Kind = "login"
	KindMessage      Kind = "message"
	KindLogout       Kind = "logout"
	KindStateRequest Kind = "state_request"
)

// Event is a client-to-server request. The set of implementations is closed:
// Login, Message, Logout and StateRequest.
type Event interface {
	Kind() Kind
	isEvent()
}

// Login asks the server to admit the connection under Name. Host and Port
// record where the client dialed and are informational on the server.
type Login struct {
	Name string `json:"name"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// Message submits a chat line. Since is the sender's watermark at send time.
type Message struct {
	Text  string     `json:"text"`
	Since *time.Time `json:"since"`
}

// Logout ends the session.
type Logout struct{}

// StateRequest asks for every message at or after Since.
type StateRequest struct {
	Since *time.Time `json:"since"`
}

func (Login) Kind() Kind        { return KindLogin }
func (Message) Kind() Kind      { return KindMessage }
func (Logout) Kind() Kind       { return KindLogout }
func (StateRequest) Kind() Kind { return KindStateRequest }

func (Login) isEvent()        {}
func (Message) isEvent()      {}
func (Logout) isEvent()       {}
func (StateRequest) isEvent() {}

type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent serializes an event into a single frame.
func EncodeEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode event: %w", ErrUnknownEvent)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Kind(), err)
	}
	return json.Marshal(envelope{Type: ev.Kind(), Payload: payload})
}

// DecodeEvent parses a frame produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var ev Event
	switch env.Type {
	case KindLogin:
		var e Login
		if err := decodePayload(env.Payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case KindMessage:
		var e Message
		if err := decodePayload(env.Payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case KindLogout:
		ev = Logout{}
	case KindStateRequest:
		var e StateRequest
		if err := decodePayload(env.Payload, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return ev, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// EncodeSnapshot serializes a snapshot into a single frame.
func EncodeSnapshot(s room.Snapshot) ([]byte, error) {
	if s.Messages == nil {
		s.Messages = []room.Message{}
	}
	if s.Names == nil {
		s.Names = []string{}
	}
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot frame and rejects unknown statuses.
func DecodeSnapshot(data []byte) (room.Snapshot, error) {
	var s room.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return room.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !s.Status.Valid() {
		return room.Snapshot{}, fmt.Errorf("%w: unknown status %q", ErrMalformedFrame, s.Status)
	}
	return room.NewSnapshot(s.Messages, s.Names, s.Status), nil
}
