package eventstream

import "time"

type NatsConfig struct {
	// Comma separated list of servers, e.g. nats://localhost:4222
	Url            string `validate:"required"`
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	// Time allowed for in-flight messages to be processed on shutdown
	DrainTimeout time.Duration
}

type StreamConfig struct {
	Name     string   `validate:"required"`
	Subjects []string `validate:"required,min=1"`
	MaxAge   time.Duration
	Replicas int
	InMemory bool
}

type ConsumerConfig struct {
	// Name of the durable consumer; consumers with the same name share the messages.
	Durable string `validate:"required"`
	// Subject filter, may contain wildcards
	Subject string `validate:"required"`
	// How long the server waits for an acknowledgement before redelivering
	AckWait time.Duration
	// Maximum number of deliveries of a single message, -1 for unlimited
	MaxDeliver int
	// Maximum number of unacknowledged messages in flight
	MaxAckPending int
	// Number of messages processed concurrently. Messages on the same subject are always processed in order.
	Shards int `validate:"gte=1"`
	// Delay before retrying a message that failed with a transient error, doubled on each further
	// retry up to MaxRetryDelay. Messages behind it on the same shard wait.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

type KeyValueConfig struct {
	Bucket   string `validate:"required"`
	Replicas int
	InMemory bool
}
