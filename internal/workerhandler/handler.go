// Package workerhandler keeps the worker registry up to date with the status reports workers
// publish on worker.status.<name>.
package workerhandler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/registry"
)

var reportsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prominence_worker_handler_reports_total",
		Help: "Worker status reports processed, by outcome",
	},
	[]string{"outcome"},
)

type Handler struct {
	workers registry.Registry
	// Epoch of the latest report accepted per worker. Nil unless stale reports are rejected.
	lastSeen *simplelru.LRU
	mu       sync.Mutex
}

// NewHandler returns a handler that stores every report as it arrives, so a report delivered late
// overwrites a newer one.
func NewHandler(workers registry.Registry) *Handler {
	return &Handler{workers: workers}
}

// NewHandlerRejectingStaleReports returns a handler that drops a report older than the latest one
// it has accepted from the same worker. Up to cacheSize workers are tracked.
func NewHandlerRejectingStaleReports(workers registry.Registry, cacheSize int) (*Handler, error) {
	lastSeen, err := simplelru.NewLRU(cacheSize, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Handler{workers: workers, lastSeen: lastSeen}, nil
}

// HandleMessage is an eventstream.MessageHandler.
func (h *Handler) HandleMessage(ctx context.Context, msg *eventstream.Message) error {
	worker := &model.Worker{}
	if err := json.Unmarshal(msg.Data, worker); err != nil {
		reportsProcessed.WithLabelValues("malformed").Inc()
		return &prominenceerrors.ErrMalformedMessage{Subject: msg.Subject, Message: "invalid worker report", Err: err}
	}
	if worker.Name == "" {
		worker.Name = strings.TrimPrefix(msg.Subject, "worker.status.")
	}
	if worker.Name == "" || strings.Contains(worker.Name, ".") {
		reportsProcessed.WithLabelValues("malformed").Inc()
		return &prominenceerrors.ErrMalformedMessage{Subject: msg.Subject, Message: "missing worker name"}
	}
	return h.HandleReport(ctx, worker)
}

func (h *Handler) HandleReport(ctx context.Context, worker *model.Worker) error {
	logger := log.WithField("worker", worker.Name)
	if h.isStale(worker) {
		logger.Debugf("Ignoring report from %s older than the latest one", worker.LastSeen())
		reportsProcessed.WithLabelValues("stale").Inc()
		return nil
	}

	if worker.Status == model.WorkerLeaving {
		if err := h.workers.Remove(ctx, worker.Name); err != nil {
			reportsProcessed.WithLabelValues("error").Inc()
			return err
		}
		logger.Info("Removed worker that is leaving")
		reportsProcessed.WithLabelValues("removed").Inc()
		return nil
	}

	if err := h.workers.Upsert(ctx, worker); err != nil {
		reportsProcessed.WithLabelValues("error").Inc()
		return err
	}
	logger.Debugf("Updated worker, available %+v", worker.Resources.Available)
	reportsProcessed.WithLabelValues("updated").Inc()
	return nil
}

// isStale records the epoch of worker and returns true if a newer report has already been seen.
func (h *Handler) isStale(worker *model.Worker) bool {
	if h.lastSeen == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if previous, ok := h.lastSeen.Get(worker.Name); ok && previous.(float64) > worker.Epoch {
		return true
	}
	h.lastSeen.Add(worker.Name, worker.Epoch)
	return false
}
