// Package protocol defines the JSON messages naoengine exchanges with its
// HTTP and websocket clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of a message.
type MessageType string

const (
	// Engine → client
	TypeFrame    MessageType = "frame"    // Completed control frame
	TypeState    MessageType = "state"    // Register snapshot
	TypeResult   MessageType = "result"   // Outcome of a submitted intent
	TypeCommands MessageType = "commands" // Addressable components

	// Client → engine
	TypeIntent MessageType = "intent" // Read or write request

	// Bidirectional
	TypePing  MessageType = "ping"  // Health check
	TypePong  MessageType = "pong"  // Health check response
	TypeError MessageType = "error" // Request failed
)

// Message is the envelope for every message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Values
// =============================================================================

// Value is the JSON form of a register value. Exactly one of the payload
// fields is set, selected by Shape.
type Value struct {
	Shape  string            `json:"shape"` // "scalar", "pair", "text", "ledmap"
	Scalar *float64          `json:"scalar,omitempty"`
	Pair   *[2]float64       `json:"pair,omitempty"`
	Text   *string           `json:"text,omitempty"`
	LEDs   map[string]string `json:"leds,omitempty"` // name → "off", "red", ...
}

// Bound is one degree's range.
type Bound struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// =============================================================================
// Engine → Client Message Types
// =============================================================================

// FrameData summarizes one control frame.
type FrameData struct {
	ID         string        `json:"id"`
	Seq        uint64        `json:"seq"`
	Start      int64         `json:"start"` // Unix milliseconds
	DurationUs int64         `json:"duration_us"`
	OK         bool          `json:"ok"`
	Intents    []ResultData  `json:"intents,omitempty"`
	Failures   []FailureData `json:"failures,omitempty"`
	Pushed     []string      `json:"pushed,omitempty"`
	Pulled     []string      `json:"pulled,omitempty"`
}

// FailureData is one component that did not synchronize.
type FailureData struct {
	Component string `json:"component,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// StateData is a register snapshot.
type StateData struct {
	State     string           `json:"state"`
	Robot     string           `json:"robot,omitempty"`
	ProfileID uint16           `json:"profile_id"`
	Seq       uint64           `json:"seq"` // last frame, 0 before the first
	Registers map[string]Value `json:"registers,omitempty"`
}

// ResultData is the outcome of one intent.
type ResultData struct {
	ID        string    `json:"id"`
	Module    string    `json:"module,omitempty"`
	Component string    `json:"component"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"` // "accepted", "clamped", "rejected"
	Applied   []float64 `json:"applied,omitempty"`
	Value     *Value    `json:"value,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CommandData describes one addressable component.
type CommandData struct {
	Component string  `json:"component"`
	Shape     string  `json:"shape"`
	Writable  bool    `json:"writable"`
	Bounds    []Bound `json:"bounds,omitempty"`
}

// StatusData is the engine state without registers, plus the websocket
// stream's state.
type StatusData struct {
	StateData
	Streaming bool `json:"streaming"`
	Clients   int  `json:"clients"`
}

// =============================================================================
// Client → Engine Message Types
// =============================================================================

// ReconfigureData asks the engine to rebuild from a profile. Profile is a
// path on the engine's host; empty reuses the current profile.
type ReconfigureData struct {
	Profile string `json:"profile,omitempty"`
	ID      uint16 `json:"id"`
}

// IntentData requests a read or a write. Values holds one entry per degree
// for writes.
type IntentData struct {
	Module    string    `json:"module"`
	Component string    `json:"component"`
	Kind      string    `json:"kind"` // "read" or "write"
	Values    []float64 `json:"values,omitempty"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// ErrorData reports a failed request.
type ErrorData struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
