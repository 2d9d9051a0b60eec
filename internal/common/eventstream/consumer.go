package eventstream

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
)

const shardBuffer = 64

// JetstreamConsumer delivers the messages of a durable consumer to a handler,
// acknowledging each only once the handler has returned.
type JetstreamConsumer struct {
	js           nats.JetStreamContext
	stream       string
	config       ConsumerConfig
	drainTimeout time.Duration
	handler      MessageHandler
}

func NewJetstreamConsumer(
	js nats.JetStreamContext,
	stream string,
	config ConsumerConfig,
	drainTimeout time.Duration,
	handler MessageHandler,
) *JetstreamConsumer {
	return &JetstreamConsumer{
		js:           js,
		stream:       stream,
		config:       config,
		drainTimeout: drainTimeout,
		handler:      handler,
	}
}

func (c *JetstreamConsumer) Run(ctx context.Context) error {
	if err := ensureConsumer(c.js, c.stream, c.config); err != nil {
		return err
	}

	dispatcher := newShardedDispatcher(c.config.Shards, shardBuffer, c.config.RetryDelay, c.config.MaxRetryDelay, c.handler)
	dispatcher.start(context.Background())

	sub, err := c.js.QueueSubscribe(
		c.config.Subject,
		c.config.Durable,
		func(m *nats.Msg) {
			msg := &Message{Subject: m.Subject, Data: m.Data, NumDelivered: 1}
			if meta, err := m.Metadata(); err == nil {
				msg.NumDelivered = meta.NumDelivered
			}
			dispatcher.dispatch(msg, func() { inProgress(m) }, func(err error) { settle(m, msg, err) })
		},
		nats.Bind(c.stream, c.config.Durable),
		nats.ManualAck(),
	)
	if err != nil {
		dispatcher.stop()
		return errors.WithStack(err)
	}
	log.Infof("Consuming %s from stream %s as %s", c.config.Subject, c.stream, c.config.Durable)

	<-ctx.Done()
	drain(sub, c.drainTimeout)
	dispatcher.stop()
	log.Infof("Stopped consuming %s", c.config.Subject)
	return nil
}

// inProgress resets the ack wait of a message that is still being retried.
func inProgress(m *nats.Msg) {
	if err := m.InProgress(); err != nil {
		log.WithField("subject", m.Subject).WithError(err).Warn("Failed to extend ack wait")
	}
}

// settle acks a message that was processed or can't ever be, and naks one whose retries were
// abandoned on shutdown.
func settle(m *nats.Msg, msg *Message, err error) {
	logger := log.WithField("subject", msg.Subject)
	if err != nil && !prominenceerrors.IsPermanent(err) {
		logger.WithError(err).Warnf("Gave up processing message (delivery %d), will be redelivered", msg.NumDelivered)
		if nakErr := m.Nak(); nakErr != nil {
			logger.WithError(nakErr).Error("Failed to nak message")
		}
		return
	}
	if err != nil {
		logger.WithError(err).Error("Dropping message that can't be processed")
	}
	if ackErr := m.Ack(); ackErr != nil {
		logger.WithError(ackErr).Error("Failed to ack message")
	}
}

// CoreConsumer delivers best-effort messages published outside any stream.
// Messages arriving while the consumer is down are lost.
type CoreConsumer struct {
	nc           *nats.Conn
	subject      string
	queue        string
	shards       int
	drainTimeout time.Duration
	handler      MessageHandler
}

func NewCoreConsumer(nc *nats.Conn, subject string, queue string, shards int, drainTimeout time.Duration, handler MessageHandler) *CoreConsumer {
	return &CoreConsumer{
		nc:           nc,
		subject:      subject,
		queue:        queue,
		shards:       shards,
		drainTimeout: drainTimeout,
		handler:      handler,
	}
}

func (c *CoreConsumer) Run(ctx context.Context) error {
	dispatcher := newShardedDispatcher(c.shards, shardBuffer, 0, 0, c.handler)
	dispatcher.start(context.Background())

	sub, err := c.nc.QueueSubscribe(c.subject, c.queue, func(m *nats.Msg) {
		msg := &Message{Subject: m.Subject, Data: m.Data, NumDelivered: 1}
		dispatcher.dispatch(msg, nil, func(err error) {
			if err != nil {
				log.WithField("subject", msg.Subject).WithError(err).Error("Failed to process message")
			}
		})
	})
	if err != nil {
		dispatcher.stop()
		return errors.WithStack(err)
	}
	log.Infof("Consuming %s", c.subject)

	<-ctx.Done()
	drain(sub, c.drainTimeout)
	dispatcher.stop()
	log.Infof("Stopped consuming %s", c.subject)
	return nil
}

// drain stops new deliveries to sub and waits until the messages already received have been
// handed to the callback.
func drain(sub *nats.Subscription, timeout time.Duration) {
	if err := sub.Drain(); err != nil {
		log.WithError(err).Warnf("Failed to drain subscription to %s", sub.Subject)
		_ = sub.Unsubscribe()
		return
	}
	deadline := time.Now().Add(timeout)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sub.IsValid() {
		log.Warnf("Timed out draining subscription to %s", sub.Subject)
		_ = sub.Unsubscribe()
	}
}
