package eventstream

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type PublishConfig struct {
	// Number of attempts before a publish is reported as failed
	Attempts uint
	// Delay before the first retry; doubled on each further attempt
	RetryDelay time.Duration
}

// JetstreamPublisher publishes onto subjects captured by a stream and waits for the stream to
// confirm that the message has been stored.
type JetstreamPublisher struct {
	js     nats.JetStreamContext
	config PublishConfig
}

func NewJetstreamPublisher(js nats.JetStreamContext, config PublishConfig) *JetstreamPublisher {
	if config.Attempts == 0 {
		config.Attempts = 1
	}
	return &JetstreamPublisher{js: js, config: config}
}

func (p *JetstreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return retry.Do(
		func() error {
			_, err := p.js.Publish(subject, data, nats.Context(ctx))
			return err
		},
		retry.Context(ctx),
		retry.Attempts(p.config.Attempts),
		retry.Delay(p.config.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Publish to %s failed on attempt %d", subject, n+1)
		}),
	)
}

// CorePublisher publishes best-effort messages without any delivery guarantee.
type CorePublisher struct {
	nc *nats.Conn
}

func NewCorePublisher(nc *nats.Conn) *CorePublisher {
	return &CorePublisher{nc: nc}
}

func (p *CorePublisher) Publish(_ context.Context, subject string, data []byte) error {
	return errors.WithStack(p.nc.Publish(subject, data))
}
