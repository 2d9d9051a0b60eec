// Package submit creates, reads and deletes jobs on behalf of users.
package submit

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/common/util"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/repository"
)

type Service struct {
	jobs      repository.JobRepository
	publisher eventstream.Publisher
	clock     clock.Clock
	validate  *validator.Validate
}

func NewService(jobs repository.JobRepository, publisher eventstream.Publisher, clock clock.Clock) *Service {
	return &Service{
		jobs:      jobs,
		publisher: publisher,
		clock:     clock,
		validate:  newValidator(),
	}
}

// Create validates the job description and queues it. Any id, status, events or execution
// details in the request are replaced.
func (s *Service) Create(ctx context.Context, request *model.Job) (*model.Job, error) {
	if err := validateJob(s.validate, request); err != nil {
		return nil, err
	}
	job := request.DeepCopy()
	job.Id = util.NewJobId()
	job.Status = model.JobPending
	job.Events = []model.Event{{Time: model.ToEpoch(s.clock.Now()), Type: model.EventCreated}}
	job.Execution = &model.Execution{Retries: 0}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	log.WithField("job", job.Id).Info("Job created")
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// List returns the jobs with the given status, or every job if status is empty.
func (s *Service) List(ctx context.Context, status model.JobStatus) ([]*model.Job, error) {
	return s.jobs.QueryJobs(ctx, repository.JobFilter{Status: status})
}

// Delete asks for a job to be stopped and removed. A pending job, including one waiting to be
// retried after running elsewhere, is deleted immediately. Otherwise the job is marked as deleting and its worker is told to delete it;
// the worker's deleted event completes the deletion. Deleting a job that is already being deleted
// sends the instruction to the worker again, and deleting a finished job is an error.
func (s *Service) Delete(ctx context.Context, id string) (*model.Job, error) {
	now := model.ToEpoch(s.clock.Now())
	var finished bool
	job, changed, err := s.jobs.UpdateJob(ctx, id, func(job *model.Job) bool {
		finished = false
		switch {
		case job.Status == model.JobDeleting:
			return false
		case job.Status.IsTerminal():
			finished = true
			return false
		case job.Status == model.JobPending, job.Execution == nil || job.Execution.Worker == "":
			job.Status = model.JobDeleted
			job.AppendEvent(model.EventDeleted, now)
		default:
			job.Status = model.JobDeleting
			job.AppendEvent(model.EventDeleting, now)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if finished {
		return nil, errors.WithStack(&prominenceerrors.ErrInvalidArgument{
			Name:    "id",
			Value:   id,
			Message: "job has already finished with status " + string(job.Status),
		})
	}
	logger := log.WithField("job", id)
	if job.Status == model.JobDeleted {
		logger.Info("Deleted job that wasn't on any worker")
		return job, nil
	}
	if !changed {
		logger.Info("Job is already being deleted, asking its worker again")
	}

	data, err := json.Marshal(model.WorkerInstruction{Delete: job})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := s.publisher.Publish(ctx, model.WorkerJobSubject(job.Execution.Worker), data); err != nil {
		return nil, errors.WithMessagef(err, "error telling worker %s to delete job %s", job.Execution.Worker, id)
	}
	logger.Infof("Asked worker %s to delete job", job.Execution.Worker)
	return job, nil
}
