// Package repository stores job documents. Every adapter offers the same guarantees: reads return
// copies that the caller may modify, UpdateJob is an atomic read-modify-write of a single job, and
// queries return jobs ordered by creation time, then id.
package repository

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
)

// UpdateFunc modifies job in place and returns true if it should be written back.
// It may be called more than once for a single update if the job was concurrently modified,
// so it must not have side effects.
type UpdateFunc func(job *model.Job) bool

type JobFilter struct {
	// Only return jobs with this status. Empty matches every job.
	Status model.JobStatus
}

type JobRepository interface {
	// CreateJob stores a new job. Returns ErrAlreadyExists if a job with the same id exists.
	CreateJob(ctx context.Context, job *model.Job) error
	// GetJob returns the job with the given id, or ErrNotFound.
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// UpdateJob applies update to the current version of the job. It returns the resulting job and
	// whether it was written, or ErrNotFound.
	UpdateJob(ctx context.Context, id string, update UpdateFunc) (*model.Job, bool, error)
	QueryJobs(ctx context.Context, filter JobFilter) ([]*model.Job, error)
}

func (f JobFilter) matches(job *model.Job) bool {
	return f.Status == "" || job.Status == f.Status
}

func sortJobs(jobs []*model.Job) {
	slices.SortFunc(jobs, func(a, b *model.Job) bool {
		if a.CreateTime() != b.CreateTime() {
			return a.CreateTime() < b.CreateTime()
		}
		return a.Id < b.Id
	})
}

func errJobNotFound(id string) error {
	return &prominenceerrors.ErrNotFound{Type: "job", Value: id}
}

func errJobExists(id string) error {
	return &prominenceerrors.ErrAlreadyExists{Type: "job", Value: id}
}
