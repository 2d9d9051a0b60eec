package eventstream

import (
	"context"
)

// Message is a single message received from the transport.
type Message struct {
	Subject string
	Data    []byte
	// Number of times this message has been delivered, starting at 1. Always 1 for best-effort subscriptions.
	NumDelivered uint64
}

// MessageHandler processes a single message. A nil error acknowledges the message. An error for which
// prominenceerrors.IsPermanent returns true is logged and the message acknowledged.
// Any other error is transient: the message is retried in place, with backoff, ahead of every later
// message on the same subject. Retries abandoned on shutdown leave the message for redelivery.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes a payload on a subject. Implementations return only once the transport has
// accepted the message, or with an error if it didn't.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Consumer delivers messages to a MessageHandler until its context is cancelled, then drains:
// no new messages are accepted, messages already received are processed and acknowledged,
// and only then does Run return.
type Consumer interface {
	Run(ctx context.Context) error
}
