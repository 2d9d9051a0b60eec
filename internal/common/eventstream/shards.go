package eventstream

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
)

const (
	defaultRetryDelay    = 100 * time.Millisecond
	defaultMaxRetryDelay = 10 * time.Second
)

var errStopping = errors.New("consumer is stopping")

type delivery struct {
	msg *Message
	// Called before each retry to hold off redelivery. May be nil.
	progress func()
	done     func(err error)
}

// shardedDispatcher runs the handler on a fixed number of goroutines. Messages with the same subject
// always land on the same goroutine, so they are handled in the order they were received.
// A transient handler error is retried in place, holding back the messages queued behind it,
// until the handler succeeds or the dispatcher stops.
type shardedDispatcher struct {
	shards        []chan delivery
	handler       MessageHandler
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	stopping      chan struct{}
	// Cancelled on stop to abandon retries in progress.
	retryCtx    context.Context
	cancelRetry context.CancelFunc
	wg          sync.WaitGroup
}

func newShardedDispatcher(n int, buffer int, retryDelay time.Duration, maxRetryDelay time.Duration, handler MessageHandler) *shardedDispatcher {
	if n < 1 {
		n = 1
	}
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	if maxRetryDelay <= 0 {
		maxRetryDelay = defaultMaxRetryDelay
	}
	retryCtx, cancelRetry := context.WithCancel(context.Background())
	d := &shardedDispatcher{
		shards:        make([]chan delivery, n),
		handler:       handler,
		retryDelay:    retryDelay,
		maxRetryDelay: maxRetryDelay,
		stopping:      make(chan struct{}),
		retryCtx:      retryCtx,
		cancelRetry:   cancelRetry,
	}
	for i := range d.shards {
		d.shards[i] = make(chan delivery, buffer)
	}
	return d
}

// start launches the shard goroutines. Handlers get ctx, which should outlive the subscription so
// that messages received before a drain can still be processed.
func (d *shardedDispatcher) start(ctx context.Context) {
	for _, shard := range d.shards {
		d.wg.Add(1)
		go func(shard chan delivery) {
			defer d.wg.Done()
			// Set once a retry has been abandoned. Everything queued after it on this shard is
			// returned unprocessed so that it isn't handled ahead of the abandoned message.
			abandoned := false
			process := func(del delivery) {
				if abandoned {
					del.done(errStopping)
					return
				}
				err := d.handle(ctx, del)
				if err != nil && !prominenceerrors.IsPermanent(err) {
					abandoned = true
				}
				del.done(err)
			}
			for {
				select {
				case del := <-shard:
					process(del)
				case <-d.stopping:
					for {
						select {
						case del := <-shard:
							process(del)
						default:
							return
						}
					}
				}
			}
		}(shard)
	}
}

// handle calls the handler until it succeeds or fails permanently. A transient error is only
// returned once the dispatcher is stopping.
func (d *shardedDispatcher) handle(ctx context.Context, del delivery) error {
	err := d.handler(ctx, del.msg)
	if err == nil || prominenceerrors.IsPermanent(err) {
		return err
	}
	logger := log.WithField("subject", del.msg.Subject)
	logger.WithError(err).Warn("Failed to process message, retrying")
	return retry.Do(
		func() error {
			if del.progress != nil {
				del.progress()
			}
			return d.handler(ctx, del.msg)
		},
		retry.Context(d.retryCtx),
		retry.Attempts(math.MaxUint32),
		retry.Delay(d.retryDelay),
		retry.MaxDelay(d.maxRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !prominenceerrors.IsPermanent(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).Warnf("Failed to process message on retry %d", n+1)
		}),
	)
}

// dispatch queues msg on its shard. Once stop has been called the message is dropped without
// calling done, so a durable message is left for redelivery.
func (d *shardedDispatcher) dispatch(msg *Message, progress func(), done func(err error)) {
	select {
	case d.shards[shardFor(msg.Subject, len(d.shards))] <- delivery{msg: msg, progress: progress, done: done}:
	case <-d.stopping:
	}
}

// stop abandons retries in progress, processes whatever has been queued, then waits for the
// shard goroutines to exit.
func (d *shardedDispatcher) stop() {
	close(d.stopping)
	d.cancelRetry()
	d.wg.Wait()
}

func shardFor(subject string, n int) int {
	return int(xxhash.Sum64String(subject) % uint64(n))
}
