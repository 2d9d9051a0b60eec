package repository

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/prominence-eu/prominence/internal/model"
)

const (
	jobObjectPrefix = "Job:"
	jobStatusPrefix = "Job:Status:"
	jobAllKey       = "Job:All"
	// Number of times an update is retried when the job is modified concurrently
	maxUpdateAttempts = 10
)

// RedisJobRepository stores each job as a json document. Jobs are indexed by sorted sets scored
// by creation time, so ranges are ordered by creation time and then by id.
type RedisJobRepository struct {
	db redis.UniversalClient
}

func NewRedisJobRepository(db redis.UniversalClient) *RedisJobRepository {
	return &RedisJobRepository{db: db}
}

func (r *RedisJobRepository) CreateJob(_ context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.WithStack(err)
	}
	key := jobObjectPrefix + job.Id
	err = r.db.Watch(func(tx *redis.Tx) error {
		exists, err := tx.Exists(key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return errJobExists(job.Id)
		}
		_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
			pipe.Set(key, data, 0)
			pipe.ZAdd(jobAllKey, redis.Z{Member: job.Id, Score: job.CreateTime()})
			pipe.ZAdd(jobStatusPrefix+string(job.Status), redis.Z{Member: job.Id, Score: job.CreateTime()})
			return nil
		})
		return err
	}, key)
	return errors.WithStack(err)
}

func (r *RedisJobRepository) GetJob(_ context.Context, id string) (*model.Job, error) {
	return r.get(r.db, id)
}

func (r *RedisJobRepository) UpdateJob(_ context.Context, id string, update UpdateFunc) (*model.Job, bool, error) {
	key := jobObjectPrefix + id
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var result *model.Job
		var changed bool
		err := r.db.Watch(func(tx *redis.Tx) error {
			job, err := r.get(tx, id)
			if err != nil {
				return err
			}
			previousStatus := job.Status
			if !update(job) {
				result = job
				return nil
			}
			data, err := json.Marshal(job)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(func(pipe redis.Pipeliner) error {
				pipe.Set(key, data, 0)
				if job.Status != previousStatus {
					pipe.ZRem(jobStatusPrefix+string(previousStatus), id)
					pipe.ZAdd(jobStatusPrefix+string(job.Status), redis.Z{Member: id, Score: job.CreateTime()})
				}
				return nil
			})
			if err != nil {
				return err
			}
			result, changed = job, true
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, false, errors.WithStack(err)
		}
		return result, changed, nil
	}
	return nil, false, errors.Errorf("job %s modified concurrently %d times in a row", id, maxUpdateAttempts)
}

func (r *RedisJobRepository) QueryJobs(_ context.Context, filter JobFilter) ([]*model.Job, error) {
	key := jobAllKey
	if filter.Status != "" {
		key = jobStatusPrefix + string(filter.Status)
	}
	ids, err := r.db.ZRange(key, 0, -1).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(ids) == 0 {
		return []*model.Job{}, nil
	}

	pipe := r.db.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(jobObjectPrefix + id)
	}
	// A job deleted between the range and the get shows up as redis.Nil on its command.
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.WithStack(err)
	}

	jobs := make([]*model.Job, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return nil, errors.WithStack(err)
		}
		job := &model.Job{}
		if err := json.Unmarshal(data, job); err != nil {
			return nil, errors.WithStack(err)
		}
		// The status index is updated in the same transaction as the document, this only guards
		// against documents written by something else.
		if filter.matches(job) {
			jobs = append(jobs, job)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

type getter interface {
	Get(key string) *redis.StringCmd
}

func (r *RedisJobRepository) get(db getter, id string) (*model.Job, error) {
	data, err := db.Get(jobObjectPrefix + id).Bytes()
	if err == redis.Nil {
		return nil, errors.WithStack(errJobNotFound(id))
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	job := &model.Job{}
	if err := json.Unmarshal(data, job); err != nil {
		return nil, errors.WithStack(err)
	}
	return job, nil
}
