// Package registry is the inventory of workers, holding the most recent status report of each
// worker under its name. Writes are last-write-wins per worker, with no cross-worker transactions.
package registry

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
)

type Registry interface {
	Upsert(ctx context.Context, worker *model.Worker) error
	Remove(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*model.Worker, error)
	// SnapshotAll returns every worker, ordered by name.
	SnapshotAll(ctx context.Context) ([]*model.Worker, error)
}

type BucketRegistry struct {
	bucket Bucket
}

func NewBucketRegistry(bucket Bucket) *BucketRegistry {
	return &BucketRegistry{bucket: bucket}
}

func (r *BucketRegistry) Upsert(ctx context.Context, worker *model.Worker) error {
	if worker.Name == "" {
		return errors.WithStack(&prominenceerrors.ErrInvalidArgument{
			Name:    "name",
			Value:   worker.Name,
			Message: "worker name must be non-empty",
		})
	}
	data, err := json.Marshal(worker)
	if err != nil {
		return errors.WithStack(err)
	}
	return r.bucket.Put(ctx, worker.Name, data)
}

func (r *BucketRegistry) Remove(ctx context.Context, name string) error {
	return r.bucket.Delete(ctx, name)
}

func (r *BucketRegistry) Get(ctx context.Context, name string) (*model.Worker, error) {
	data, err := r.bucket.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	worker := &model.Worker{}
	if err := json.Unmarshal(data, worker); err != nil {
		return nil, errors.Wrapf(err, "invalid entry for worker %s", name)
	}
	return worker, nil
}

// SnapshotAll reads every entry. Entries that can't be parsed, and entries deleted between listing
// the keys and reading them, are left out.
func (r *BucketRegistry) SnapshotAll(ctx context.Context) ([]*model.Worker, error) {
	keys, err := r.bucket.Keys(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)

	workers := make([]*model.Worker, 0, len(keys))
	for _, key := range keys {
		worker, err := r.Get(ctx, key)
		if prominenceerrors.IsNotFound(err) {
			log.Debugf("Worker %s removed while taking snapshot", key)
			continue
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			log.WithError(err).Warnf("Skipping unparseable entry for worker %s", key)
			continue
		}
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, nil
}
