package queue

import (
	"context"
	"encoding/json"
)

// Client sends extraction job messages to a queue backend. The service falls
// back to in-process dispatch when no client is configured.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Message is the payload sent to downstream queue consumers.
type Message struct {
	ExtractionID string `json:"extractionId"`
	RequestID    string `json:"requestId"`
	EnqueuedAt   string `json:"enqueuedAt"`
	Version      int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
