package eventstream

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/prominence-eu/prominence/internal/common/health"
)

// Connect opens a connection to NATS that reconnects forever once established.
// Failing to connect initially is returned as an error.
func Connect(config NatsConfig, clientName string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("Got disconnected from NATS")
			} else {
				log.Error("Got disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Warnf("Got reconnected to NATS at %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.WithError(err).Errorf("NATS error on subscription to %s", sub.Subject)
			} else {
				log.WithError(err).Error("NATS error")
			}
		}),
	}
	if config.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(config.ConnectTimeout))
	}
	if config.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(config.ReconnectWait))
	}
	return nats.Connect(config.Url, opts...)
}

// Close drains the connection, flushing anything published, and waits up to timeout for it to close.
func Close(nc *nats.Conn, timeout time.Duration) {
	if nc == nil || nc.IsClosed() {
		return
	}
	if err := nc.Drain(); err != nil {
		log.WithError(err).Warn("Failed to drain NATS connection")
		nc.Close()
		return
	}
	deadline := time.Now().Add(timeout)
	for !nc.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	nc.Close()
}

// HealthChecker reports unhealthy while the connection is not connected.
func HealthChecker(nc *nats.Conn) health.Checker {
	return health.CheckerFunc(func() error {
		if !nc.IsConnected() {
			return errors.New("not connected to NATS")
		}
		return nil
	})
}
