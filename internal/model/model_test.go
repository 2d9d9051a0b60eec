package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := map[JobStatus]bool{
		JobPending:   false,
		JobAssigned:  false,
		JobRunning:   false,
		JobDeleting:  false,
		JobCompleted: true,
		JobFailed:    true,
		JobKilled:    true,
		JobDeleted:   true,
	}
	for status, expected := range tests {
		t.Run(string(status), func(t *testing.T) {
			assert.Equal(t, expected, status.IsTerminal())
		})
	}
}

func TestJob_CreateTimeAndQueuedSince(t *testing.T) {
	job := &Job{}
	assert.Equal(t, 0.0, job.CreateTime())
	assert.Equal(t, 0.0, job.QueuedSince())

	job.AppendEvent(EventCreated, 100)
	job.AppendEvent(EventStarted, 110)
	assert.Equal(t, 100.0, job.CreateTime())
	assert.Equal(t, 100.0, job.QueuedSince())

	job.AppendEvent(EventFailed, 120)
	job.AppendEvent(EventRetrying, 120)
	job.AppendEvent(EventStarted, 130)
	assert.Equal(t, 100.0, job.CreateTime())
	assert.Equal(t, 120.0, job.QueuedSince())
}

func TestJob_PolicyDefaults(t *testing.T) {
	job := &Job{}
	assert.Equal(t, 0, job.MaximumRetries())
	assert.Equal(t, 0, job.Priority())
	assert.Equal(t, 0, job.MaximumTimeInQueue())
	assert.Equal(t, 0, job.Retries())

	job.Policies = &Policies{MaximumRetries: 2, Priority: 5, MaximumTimeInQueue: 10}
	job.EnsureExecution().Retries = 1
	assert.Equal(t, 2, job.MaximumRetries())
	assert.Equal(t, 5, job.Priority())
	assert.Equal(t, 10, job.MaximumTimeInQueue())
	assert.Equal(t, 1, job.Retries())
}

func TestJob_DeepCopy(t *testing.T) {
	pullTime := 1.5
	job := &Job{
		Id:        "job-1",
		Tasks:     []Task{{Image: "busybox", Runtime: RuntimeSingularity, Env: map[string]string{"A": "1"}}},
		Artifacts: []Artifact{{Url: "https://example.com/input.tgz"}},
		Policies:  &Policies{MaximumRetries: 1},
		Status:    JobRunning,
		Events:    []Event{{Time: 1, Type: EventCreated}},
		Execution: &Execution{
			Worker: "worker-1",
			Cpu:    &CpuDetails{Model: "EPYC"},
			Tasks:  []TaskExecution{{ExitCode: 0, ImagePullTime: &pullTime}},
		},
	}
	cpy := job.DeepCopy()
	assert.Equal(t, job, cpy)

	cpy.Tasks[0].Env["A"] = "2"
	cpy.Artifacts[0].Url = "https://example.com/other.tgz"
	cpy.Policies.MaximumRetries = 3
	cpy.Events[0].Time = 2
	cpy.Execution.Worker = "worker-2"
	cpy.Execution.Cpu.Model = "Xeon"
	*cpy.Execution.Tasks[0].ImagePullTime = 2.5

	assert.Equal(t, "1", job.Tasks[0].Env["A"])
	assert.Equal(t, "https://example.com/input.tgz", job.Artifacts[0].Url)
	assert.Equal(t, 1, job.Policies.MaximumRetries)
	assert.Equal(t, 1.0, job.Events[0].Time)
	assert.Equal(t, "worker-1", job.Execution.Worker)
	assert.Equal(t, "EPYC", job.Execution.Cpu.Model)
	assert.Equal(t, 1.5, *job.Execution.Tasks[0].ImagePullTime)

	assert.Nil(t, (*Job)(nil).DeepCopy())
}

func TestWorkerResources_FitsAndSub(t *testing.T) {
	available := WorkerResources{Cpus: 4, Memory: 8, Disk: 10}
	assert.True(t, available.Fits(Resources{Cpus: 4, Memory: 8, Disk: 10}))
	assert.False(t, available.Fits(Resources{Cpus: 5, Memory: 1, Disk: 1}))
	assert.False(t, available.Fits(Resources{Cpus: 1, Memory: 9, Disk: 1}))
	assert.False(t, available.Fits(Resources{Cpus: 1, Memory: 1, Disk: 11}))

	available.Sub(Resources{Cpus: 1, Memory: 2, Disk: 3})
	assert.Equal(t, WorkerResources{Cpus: 3, Memory: 6, Disk: 7}, available)
}

func TestWorker_IsCandidate(t *testing.T) {
	tests := map[string]struct {
		worker   Worker
		expected bool
	}{
		"ready with capacity": {
			worker:   Worker{Status: WorkerReady, Resources: WorkerCapacity{Available: WorkerResources{Cpus: 1, Memory: 1, Disk: 1}}},
			expected: true,
		},
		"leaving": {
			worker:   Worker{Status: WorkerLeaving, Resources: WorkerCapacity{Available: WorkerResources{Cpus: 1, Memory: 1, Disk: 1}}},
			expected: false,
		},
		"no cpus left": {
			worker:   Worker{Status: WorkerReady, Resources: WorkerCapacity{Available: WorkerResources{Cpus: 0, Memory: 1, Disk: 1}}},
			expected: false,
		},
		"no disk left": {
			worker:   Worker{Status: WorkerReady, Resources: WorkerCapacity{Available: WorkerResources{Cpus: 1, Memory: 1, Disk: 0}}},
			expected: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.worker.IsCandidate())
		})
	}
}

func TestEpochConversion(t *testing.T) {
	now := time.Date(2022, 10, 1, 12, 30, 0, 500000000, time.UTC)
	epoch := ToEpoch(now)
	assert.Equal(t, float64(now.Unix())+0.5, epoch)
	assert.WithinDuration(t, now, FromEpoch(epoch), time.Microsecond)
	assert.WithinDuration(t, now, (&Worker{Epoch: epoch}).LastSeen(), time.Microsecond)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "jobs.abc.events", JobEventsSubject("abc"))
	assert.Equal(t, "jobs.*.events-test", JobSubjects("events-test"))
	assert.Equal(t, "worker.status.w1", WorkerStatusSubject("w1"))
	assert.Equal(t, "worker.job.w1", WorkerJobSubject("w1"))
}
