// Package hub fans frames out to websocket clients using a channel-based
// broadcast loop.
package hub

import "encoding/json"

// Message is one encoded payload queued for every client. Seq is the frame
// sequence number, or 0 for payloads that are not frames.
type Message struct {
	Seq  uint64
	Data []byte
}

// Encode marshals v into a message.
func Encode(seq uint64, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Seq: seq, Data: data}, nil
}
