package repository

import (
	"context"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/prominence-eu/prominence/internal/model"
)

const (
	jobsTable   = "jobs"
	idIndex     = "id"
	statusIndex = "status"
)

type jobRecord struct {
	Id     string
	Status string
	Job    *model.Job
}

// InMemoryJobRepository keeps jobs in a go-memdb database. Write transactions are serialised,
// which makes every UpdateJob atomic.
type InMemoryJobRepository struct {
	db *memdb.MemDB
}

func NewInMemoryJobRepository() (*InMemoryJobRepository, error) {
	db, err := memdb.NewMemDB(jobsSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &InMemoryJobRepository{db: db}, nil
}

func (r *InMemoryJobRepository) CreateJob(_ context.Context, job *model.Job) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(jobsTable, idIndex, job.Id)
	if err != nil {
		return errors.WithStack(err)
	}
	if existing != nil {
		return errors.WithStack(errJobExists(job.Id))
	}
	if err := txn.Insert(jobsTable, newJobRecord(job)); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *InMemoryJobRepository) GetJob(_ context.Context, id string) (*model.Job, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	record, err := r.get(txn, id)
	if err != nil {
		return nil, err
	}
	return record.Job.DeepCopy(), nil
}

func (r *InMemoryJobRepository) UpdateJob(_ context.Context, id string, update UpdateFunc) (*model.Job, bool, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()
	record, err := r.get(txn, id)
	if err != nil {
		return nil, false, err
	}
	job := record.Job.DeepCopy()
	if !update(job) {
		return job, false, nil
	}
	// Records are immutable once inserted, so the update is stored as a new record.
	if err := txn.Insert(jobsTable, newJobRecord(job)); err != nil {
		return nil, false, errors.WithStack(err)
	}
	txn.Commit()
	return job.DeepCopy(), true, nil
}

func (r *InMemoryJobRepository) QueryJobs(_ context.Context, filter JobFilter) ([]*model.Job, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	var it memdb.ResultIterator
	var err error
	if filter.Status != "" {
		it, err = txn.Get(jobsTable, statusIndex, string(filter.Status))
	} else {
		it, err = txn.Get(jobsTable, idIndex)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	jobs := make([]*model.Job, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		jobs = append(jobs, obj.(*jobRecord).Job.DeepCopy())
	}
	sortJobs(jobs)
	return jobs, nil
}

func (r *InMemoryJobRepository) get(txn *memdb.Txn, id string) (*jobRecord, error) {
	obj, err := txn.First(jobsTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(errJobNotFound(id))
	}
	return obj.(*jobRecord), nil
}

func newJobRecord(job *model.Job) *jobRecord {
	return &jobRecord{
		Id:     job.Id,
		Status: string(job.Status),
		Job:    job.DeepCopy(),
	}
}

func jobsSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name: jobsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					statusIndex: {
						Name:         statusIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
		},
	}
}
