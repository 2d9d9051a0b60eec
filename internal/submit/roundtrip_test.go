package submit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/eventstream/natstest"
	"github.com/prominence-eu/prominence/internal/jobhandler"
	"github.com/prominence-eu/prominence/internal/matcher"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/registry"
	"github.com/prominence-eu/prominence/internal/repository"
	"github.com/prominence-eu/prominence/internal/submit"
	"github.com/prominence-eu/prominence/internal/workerhandler"
)

// startFakeWorker runs every job it is sent and reports it as started, then completed.
func startFakeWorker(t *testing.T, js nats.JetStreamContext, name string) {
	_, err := js.Subscribe(model.WorkerJobSubject(name), func(m *nats.Msg) {
		_ = m.Ack()
		var instruction model.WorkerInstruction
		if err := json.Unmarshal(m.Data, &instruction); err != nil || instruction.Create == nil {
			return
		}
		id := instruction.Create.Id
		for i, event := range []string{"start", "success"} {
			data := fmt.Sprintf(
				`{"id": %q, "event": %q, "epoch": %d, "worker": %q, "details": {"site": "test-site", "tasks": [{"exitCode": 0}]}}`,
				id, event, 1000+i, name)
			_, err := js.Publish(model.JobEventsSubject(id), []byte(data))
			assert.NoError(t, err)
		}
	}, nats.DeliverNew())
	require.NoError(t, err)
}

func reportReady(nc *nats.Conn, name string) {
	report := fmt.Sprintf(
		`{"name": %q, "status": "ready", "epoch": %f, "resources": {"available": {"cpus": 4, "memory": 8, "disk": 20}}}`,
		name, model.ToEpoch(time.Now()))
	_ = nc.Publish(model.WorkerStatusSubject(name), []byte(report))
}

func TestRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nc, js := natstest.Connect(t)

	require.NoError(t, eventstream.EnsureStream(js, eventstream.StreamConfig{
		Name:     "JOBS",
		Subjects: []string{model.JobEventsSubjects},
		InMemory: true,
	}))
	require.NoError(t, eventstream.EnsureStream(js, eventstream.StreamConfig{
		Name:     "WORKERS",
		Subjects: []string{model.WorkerJobSubjects},
		InMemory: true,
	}))
	kv, err := eventstream.EnsureKeyValue(js, eventstream.KeyValueConfig{Bucket: "workers", InMemory: true})
	require.NoError(t, err)

	jobs, err := repository.NewInMemoryJobRepository()
	require.NoError(t, err)
	workers := registry.NewBucketRegistry(registry.NewNatsBucket(kv))
	publisher := eventstream.NewJetstreamPublisher(js, eventstream.PublishConfig{Attempts: 3, RetryDelay: 10 * time.Millisecond})

	statusConsumer := eventstream.NewCoreConsumer(
		nc, model.WorkerStatusSubjects, "worker-handler", 2, time.Second, workerhandler.NewHandler(workers).HandleMessage)
	go func() { _ = statusConsumer.Run(ctx) }()

	eventConsumer := eventstream.NewJetstreamConsumer(js, "JOBS", eventstream.ConsumerConfig{
		Durable:    "job-handler",
		Subject:    model.JobEventsSubjects,
		AckWait:    time.Second,
		MaxDeliver: 5,
		Shards:     2,
	}, time.Second, jobhandler.NewHandler(jobs, clock.RealClock{}).HandleMessage)
	go func() { _ = eventConsumer.Run(ctx) }()

	startFakeWorker(t, js, "w1")
	// Reports published before the status subscription is made are lost, so keep reporting.
	require.Eventually(t, func() bool {
		reportReady(nc, "w1")
		w, err := workers.Get(ctx, "w1")
		return err == nil && w.IsCandidate()
	}, 5*time.Second, 100*time.Millisecond)

	service := submit.NewService(jobs, publisher, clock.RealClock{})
	job, err := service.Create(ctx, &model.Job{
		Tasks:     []model.Task{{Image: "busybox", Runtime: model.RuntimeUdocker}},
		Resources: model.Resources{Cpus: 2, Memory: 2, Disk: 2, Nodes: 1, Walltime: 5},
	})
	require.NoError(t, err)

	require.NoError(t, matcher.NewMatcher(jobs, workers, publisher, clock.RealClock{}).RunPass(ctx))

	require.Eventually(t, func() bool {
		stored, err := service.Get(ctx, job.Id)
		return err == nil && stored.Status == model.JobCompleted
	}, 5*time.Second, 20*time.Millisecond)

	stored, err := service.Get(ctx, job.Id)
	require.NoError(t, err)
	assert.Equal(t, []model.EventType{model.EventCreated, model.EventStarted, model.EventCompleted}, eventTypes(stored))
	assert.Equal(t, "w1", stored.Execution.Worker)
	assert.Equal(t, "test-site", stored.Execution.Site)
	assert.Equal(t, []model.TaskExecution{{ExitCode: 0}}, stored.Execution.Tasks)
}

func eventTypes(job *model.Job) []model.EventType {
	result := make([]model.EventType, len(job.Events))
	for i, e := range job.Events {
		result[i] = e.Type
	}
	return result
}
