// Package heartbeat removes workers that have stopped reporting. A worker's last report time is
// the only liveness signal, and jobs on a removed worker are left as they are.
package heartbeat

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/registry"
)

var workersRemoved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "prominence_worker_heartbeat_workers_removed_total",
	Help: "Workers removed for not reporting in time",
})

type Reaper struct {
	workers   registry.Registry
	lostAfter time.Duration
	clock     clock.Clock
}

func NewReaper(workers registry.Registry, lostAfter time.Duration, clock clock.Clock) *Reaper {
	return &Reaper{workers: workers, lostAfter: lostAfter, clock: clock}
}

// RunPass removes every worker whose last report is more than lostAfter old.
// A worker whose report is exactly lostAfter old is kept.
func (r *Reaper) RunPass(ctx context.Context) error {
	workers, err := r.workers.SnapshotAll(ctx)
	if err != nil {
		return errors.WithMessage(err, "error reading workers")
	}

	var result *multierror.Error
	removed := 0
	for _, worker := range workers {
		if !r.isLost(worker) {
			continue
		}
		// The worker may have reported again since the snapshot was taken.
		current, err := r.workers.Get(ctx, worker.Name)
		if prominenceerrors.IsNotFound(err) {
			continue
		} else if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !r.isLost(current) {
			continue
		}
		if err := r.workers.Remove(ctx, worker.Name); err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "error removing worker %s", worker.Name))
			continue
		}
		log.WithField("worker", worker.Name).Infof("Removed worker last seen at %s", current.LastSeen().UTC().Format(time.RFC3339))
		workersRemoved.Inc()
		removed++
	}
	log.Infof("Checked %d workers, removed %d", len(workers), removed)
	return result.ErrorOrNil()
}

func (r *Reaper) isLost(worker *model.Worker) bool {
	return r.clock.Since(worker.LastSeen()) > r.lostAfter
}
