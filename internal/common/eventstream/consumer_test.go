package eventstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prominence-eu/prominence/internal/common/eventstream/natstest"
	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
)

var testStream = StreamConfig{
	Name:     "JOBS",
	Subjects: []string{"jobs.*.events"},
	InMemory: true,
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Durable:    "job-handler",
		Subject:    "jobs.*.events",
		AckWait:    200 * time.Millisecond,
		MaxDeliver: 5,
		Shards:     4,
		RetryDelay: 10 * time.Millisecond,
	}
}

type recorder struct {
	mu       sync.Mutex
	received map[string][]string
	count    int
}

func (r *recorder) handle(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.received == nil {
		r.received = map[string][]string{}
	}
	r.received[msg.Subject] = append(r.received[msg.Subject], string(msg.Data))
	r.count++
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func runConsumer(t *testing.T, consumer Consumer) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()
	return func() {
		cancelCtx()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
}

func TestEnsureStream_Idempotent(t *testing.T) {
	_, js := natstest.Connect(t)
	require.NoError(t, EnsureStream(js, testStream))
	require.NoError(t, EnsureStream(js, testStream))

	info, err := js.StreamInfo(testStream.Name)
	require.NoError(t, err)
	assert.Equal(t, testStream.Subjects, info.Config.Subjects)
	assert.Equal(t, nats.MemoryStorage, info.Config.Storage)
}

func TestJetstreamConsumer_PreservesPerSubjectOrder(t *testing.T) {
	_, js := natstest.Connect(t)
	require.NoError(t, EnsureStream(js, testStream))
	publisher := NewJetstreamPublisher(js, PublishConfig{Attempts: 3, RetryDelay: 10 * time.Millisecond})

	const jobs = 10
	const eventsPerJob = 20
	for i := 0; i < eventsPerJob; i++ {
		for j := 0; j < jobs; j++ {
			err := publisher.Publish(context.Background(), fmt.Sprintf("jobs.job%d.events", j), []byte(fmt.Sprint(i)))
			require.NoError(t, err)
		}
	}

	r := &recorder{}
	stop := runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, r.handle))
	require.Eventually(t, func() bool { return r.total() == jobs*eventsPerJob }, 5*time.Second, 10*time.Millisecond)
	stop()

	for j := 0; j < jobs; j++ {
		received := r.received[fmt.Sprintf("jobs.job%d.events", j)]
		require.Len(t, received, eventsPerJob)
		for i, data := range received {
			assert.Equal(t, fmt.Sprint(i), data)
		}
	}

	info, err := js.ConsumerInfo(testStream.Name, "job-handler")
	require.NoError(t, err)
	assert.Equal(t, 0, info.NumAckPending)
	assert.Equal(t, uint64(0), info.NumPending)
}

func TestJetstreamConsumer_RetriesTransientErrorBeforeLaterMessages(t *testing.T) {
	_, js := natstest.Connect(t)
	require.NoError(t, EnsureStream(js, testStream))

	var mu sync.Mutex
	var attempts []string
	var applied []string
	var deliveries []uint64
	handler := func(_ context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, string(msg.Data))
		deliveries = append(deliveries, msg.NumDelivered)
		if len(attempts) == 1 {
			return errors.New("store unavailable")
		}
		applied = append(applied, string(msg.Data))
		return nil
	}
	_, err := js.Publish("jobs.j1.events", []byte("start"))
	require.NoError(t, err)
	_, err = js.Publish("jobs.j1.events", []byte("success"))
	require.NoError(t, err)

	stop := runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, handler))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(applied) == 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []string{"start", "start", "success"}, attempts)
	assert.Equal(t, []string{"start", "success"}, applied)
	assert.Equal(t, []uint64{1, 1, 1}, deliveries)

	info, err := js.ConsumerInfo(testStream.Name, "job-handler")
	require.NoError(t, err)
	assert.Equal(t, 0, info.NumAckPending)
}

func TestJetstreamConsumer_RedeliversWhenStoppedWhileRetrying(t *testing.T) {
	_, js := natstest.Connect(t)
	require.NoError(t, EnsureStream(js, testStream))

	var mu sync.Mutex
	failures := 0
	failing := func(_ context.Context, _ *Message) error {
		mu.Lock()
		defer mu.Unlock()
		failures++
		return errors.New("store unavailable")
	}
	_, err := js.Publish("jobs.a.events", []byte("1"))
	require.NoError(t, err)

	stop := runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, failing))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures >= 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	var redelivered uint64
	handler := func(_ context.Context, msg *Message) error {
		mu.Lock()
		redelivered = msg.NumDelivered
		mu.Unlock()
		return nil
	}
	stop = runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, handler))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return redelivered > 0
	}, 5*time.Second, 10*time.Millisecond)
	stop()
	assert.GreaterOrEqual(t, redelivered, uint64(2))
}

func TestShardedDispatcher_StopReturnsMessagesBehindAbandonedRetry(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, string(msg.Data))
		if string(msg.Data) == "first" {
			return errors.New("store unavailable")
		}
		return nil
	}
	d := newShardedDispatcher(1, 10, time.Millisecond, 10*time.Millisecond, handler)
	d.start(context.Background())

	results := make(chan error, 2)
	d.dispatch(&Message{Subject: "jobs.a.events", Data: []byte("first")}, nil, func(err error) { results <- err })
	d.dispatch(&Message{Subject: "jobs.a.events", Data: []byte("second")}, nil, func(err error) { results <- err })
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) >= 3
	}, 5*time.Second, time.Millisecond)
	d.stop()

	assert.Error(t, <-results)
	assert.ErrorIs(t, <-results, errStopping)
	assert.NotContains(t, handled, "second")
}

func TestShardedDispatcher_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	handler := func(_ context.Context, msg *Message) error {
		calls++
		return &prominenceerrors.ErrMalformedMessage{Subject: msg.Subject, Message: "not json"}
	}
	d := newShardedDispatcher(1, 10, time.Millisecond, 10*time.Millisecond, handler)
	d.start(context.Background())

	result := make(chan error, 1)
	d.dispatch(&Message{Subject: "jobs.a.events"}, nil, func(err error) { result <- err })
	err := <-result
	d.stop()

	assert.True(t, prominenceerrors.IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestJetstreamConsumer_AcksPermanentErrors(t *testing.T) {
	_, js := natstest.Connect(t)
	require.NoError(t, EnsureStream(js, testStream))

	r := &recorder{}
	handler := func(ctx context.Context, msg *Message) error {
		_ = r.handle(ctx, msg)
		return &prominenceerrors.ErrMalformedMessage{Subject: msg.Subject, Message: "not json"}
	}
	_, err := js.Publish("jobs.a.events", []byte("not json"))
	require.NoError(t, err)

	stop := runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, handler))
	require.Eventually(t, func() bool { return r.total() == 1 }, 5*time.Second, 10*time.Millisecond)
	// Wait past the ack wait to make sure nothing is redelivered.
	time.Sleep(500 * time.Millisecond)
	stop()
	assert.Equal(t, 1, r.total())
}

func TestJetstreamConsumer_ResumesAfterRestart(t *testing.T) {
	_, js := natstest.Connect(t)
	require.NoError(t, EnsureStream(js, testStream))

	first := &recorder{}
	stop := runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, first.handle))
	_, err := js.Publish("jobs.a.events", []byte("1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.total() == 1 }, 5*time.Second, 10*time.Millisecond)
	stop()

	_, err = js.Publish("jobs.a.events", []byte("2"))
	require.NoError(t, err)

	second := &recorder{}
	stop = runConsumer(t, NewJetstreamConsumer(js, testStream.Name, testConsumerConfig(), time.Second, second.handle))
	require.Eventually(t, func() bool { return second.total() == 1 }, 5*time.Second, 10*time.Millisecond)
	stop()
	assert.Equal(t, []string{"2"}, second.received["jobs.a.events"])
}

func TestCoreConsumer(t *testing.T) {
	nc, _ := natstest.Connect(t)
	r := &recorder{}
	stop := runConsumer(t, NewCoreConsumer(nc, "worker.status.*", "worker-handler", 2, time.Second, r.handle))

	publisher := NewCorePublisher(nc)
	// The subscription is made asynchronously, keep publishing until something arrives.
	require.Eventually(t, func() bool {
		_ = publisher.Publish(context.Background(), "worker.status.w1", []byte("ready"))
		_ = nc.Flush()
		return r.total() > 0
	}, 5*time.Second, 50*time.Millisecond)
	stop()
	assert.Contains(t, r.received, "worker.status.w1")
}

func TestShardFor_Stable(t *testing.T) {
	for _, subject := range []string{"jobs.a.events", "jobs.b.events", "worker.status.w1"} {
		assert.Equal(t, shardFor(subject, 8), shardFor(subject, 8))
		assert.Less(t, shardFor(subject, 8), 8)
	}
}
