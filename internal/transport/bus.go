// Package transport provides the pub/sub bus the gateway listens and publishes
// on. Topics use MQTT-style slash notation ("homeassistant/light/kitchen/config",
// wildcards "+" and "#"); the NATS-backed implementation maps them to subject
// notation on the wire.
package transport

import (
	"context"
	"errors"
	"strings"
)

// ErrNotConnected is returned when an operation requires a live broker
// connection and none is available.
var ErrNotConnected = errors.New("not connected to broker")

// MessageHandler processes one inbound message. Handlers run on the network
// loop and must not block on external services.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Bus is the pub/sub primitive the registry and router are built on.
// Implementations provide best-effort, at-most-once delivery; no ordering
// guarantees beyond the underlying broker's.
type Bus interface {
	// Publish sends payload to a slash-notation topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for every message matching the
	// slash-notation topic pattern ("+" single level, "#" trailing multi level).
	Subscribe(ctx context.Context, pattern string, handler MessageHandler) error

	// Close drains subscriptions and disconnects.
	Close(ctx context.Context) error
}

// topicToSubject converts a slash-notation topic or pattern to NATS subject
// form: "/"→".", "+"→"*", trailing "#"→">".
func topicToSubject(topic string) string {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		switch p {
		case "+":
			parts[i] = "*"
		case "#":
			parts[i] = ">"
		}
	}
	return strings.Join(parts, ".")
}

// subjectToTopic converts a NATS subject back to slash notation.
func subjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
