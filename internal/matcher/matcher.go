// Package matcher assigns pending jobs to workers. Each pass takes a snapshot of the pending jobs
// and of the workers, then walks the jobs in order and gives each to the first worker that still
// has room for it. Nothing is kept between passes.
package matcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/registry"
	"github.com/prominence-eu/prominence/internal/repository"
)

type Matcher struct {
	jobs      repository.JobRepository
	workers   registry.Registry
	publisher eventstream.Publisher
	clock     clock.Clock
}

func NewMatcher(
	jobs repository.JobRepository,
	workers registry.Registry,
	publisher eventstream.Publisher,
	clock clock.Clock,
) *Matcher {
	return &Matcher{
		jobs:      jobs,
		workers:   workers,
		publisher: publisher,
		clock:     clock,
	}
}

// candidate is a worker together with the capacity it has left in the current pass.
type candidate struct {
	name      string
	remaining model.WorkerResources
}

// RunPass runs a single matching pass. Failing to read the jobs or the workers aborts the pass.
// Failing to dispatch a job doesn't: the job stays pending, the pass moves on to the next job, and
// the failures are returned together once every job has been considered.
func (m *Matcher) RunPass(ctx context.Context) error {
	start := m.clock.Now()

	jobs, err := m.jobs.QueryJobs(ctx, repository.JobFilter{Status: model.JobPending})
	if err != nil {
		return errors.WithMessage(err, "error reading pending jobs")
	}
	// Stable, so jobs of equal priority keep their creation order.
	slices.SortStableFunc(jobs, func(a, b *model.Job) bool {
		return a.Priority() > b.Priority()
	})

	workers, err := m.workers.SnapshotAll(ctx)
	if err != nil {
		return errors.WithMessage(err, "error reading workers")
	}
	candidates := make([]*candidate, 0, len(workers))
	for _, worker := range workers {
		if worker.IsCandidate() {
			candidates = append(candidates, &candidate{name: worker.Name, remaining: worker.Resources.Available})
		}
	}
	log.Infof("Matching %d pending jobs against %d ready workers", len(jobs), len(candidates))
	pendingJobs.Set(float64(len(jobs)))
	readyWorkers.Set(float64(len(candidates)))

	var result *multierror.Error
	assigned := 0
	for _, job := range jobs {
		if m.exceededTimeInQueue(job) {
			if err := m.failQueuedJob(ctx, job); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		c := firstFit(candidates, job.Resources)
		if c == nil {
			continue
		}
		sent, err := m.dispatch(ctx, job, c.name)
		if sent {
			c.remaining.Sub(job.Resources)
		}
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		assigned++
	}

	log.Infof("Assigned %d of %d pending jobs in %s", assigned, len(jobs), m.clock.Since(start))
	return result.ErrorOrNil()
}

func firstFit(candidates []*candidate, required model.Resources) *candidate {
	for _, c := range candidates {
		if c.remaining.Fits(required) {
			return c
		}
	}
	return nil
}

// dispatch sends the job to the worker and only then marks it as assigned to that worker. It returns true once the
// worker has been sent the job, even if marking the job then fails. In that case the next pass sends it again, and
// the worker ignores the duplicate.
func (m *Matcher) dispatch(ctx context.Context, job *model.Job, worker string) (bool, error) {
	logger := log.WithField("job", job.Id).WithField("worker", worker)

	data, err := json.Marshal(model.WorkerInstruction{Create: job})
	if err != nil {
		return false, errors.WithStack(err)
	}
	if err := m.publisher.Publish(ctx, model.WorkerJobSubject(worker), data); err != nil {
		dispatchFailures.Inc()
		return false, errors.WithMessagef(err, "error sending job %s to worker %s", job.Id, worker)
	}

	_, changed, err := m.jobs.UpdateJob(ctx, job.Id, func(job *model.Job) bool {
		if job.Status != model.JobPending {
			return false
		}
		job.Status = model.JobAssigned
		job.EnsureExecution().Worker = worker
		return true
	})
	if err != nil {
		dispatchFailures.Inc()
		return true, errors.WithMessagef(err, "error marking job %s as assigned", job.Id)
	}
	if !changed {
		logger.Warn("Job left the pending state while being dispatched")
		return true, nil
	}
	logger.Info("Job matched to worker")
	jobsAssigned.Inc()
	return true, nil
}

func (m *Matcher) exceededTimeInQueue(job *model.Job) bool {
	limit := job.MaximumTimeInQueue()
	if limit <= 0 {
		return false
	}
	queuedFor := m.clock.Since(model.FromEpoch(job.QueuedSince()))
	return queuedFor > time.Duration(limit)*time.Minute
}

func (m *Matcher) failQueuedJob(ctx context.Context, job *model.Job) error {
	now := model.ToEpoch(m.clock.Now())
	_, changed, err := m.jobs.UpdateJob(ctx, job.Id, func(job *model.Job) bool {
		if job.Status != model.JobPending {
			return false
		}
		job.Status = model.JobFailed
		job.AppendEvent(model.EventFailed, now)
		return true
	})
	if err != nil {
		return errors.WithMessagef(err, "error failing job %s", job.Id)
	}
	if changed {
		log.WithField("job", job.Id).Infof("Job failed after waiting more than %d minutes in the queue", job.MaximumTimeInQueue())
		jobsTimedOut.Inc()
	}
	return nil
}
