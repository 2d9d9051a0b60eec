package jobhandler

import (
	"context"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/prominence-eu/prominence/internal/common/eventstream"
	"github.com/prominence-eu/prominence/internal/common/prominenceerrors"
	"github.com/prominence-eu/prominence/internal/model"
	"github.com/prominence-eu/prominence/internal/repository"
)

// Handler applies job lifecycle events received from workers to the job store.
type Handler struct {
	jobs  repository.JobRepository
	clock clock.Clock
}

func NewHandler(jobs repository.JobRepository, clock clock.Clock) *Handler {
	return &Handler{jobs: jobs, clock: clock}
}

// HandleMessage is an eventstream.MessageHandler. Malformed messages are returned as permanent
// errors, events for jobs that don't exist are dropped, and store failures are returned so that
// the event is redelivered.
func (h *Handler) HandleMessage(ctx context.Context, msg *eventstream.Message) error {
	event, err := DecodeEvent(msg.Subject, msg.Data)
	if err != nil {
		eventsProcessed.WithLabelValues("unknown", outcomeMalformed).Inc()
		return err
	}
	return h.HandleEvent(ctx, event)
}

func (h *Handler) HandleEvent(ctx context.Context, event Event) error {
	header := event.Header()
	eventType, _ := outcome(event)
	logger := log.WithField("job", header.JobId).WithField("event", eventType)

	now := model.ToEpoch(h.clock.Now())
	job, changed, err := h.jobs.UpdateJob(ctx, header.JobId, func(job *model.Job) bool {
		return Apply(job, event, now)
	})
	if prominenceerrors.IsNotFound(err) {
		logger.Warn("Received event for job that doesn't exist")
		eventsProcessed.WithLabelValues(string(eventType), outcomeNotFound).Inc()
		return nil
	} else if err != nil {
		eventsProcessed.WithLabelValues(string(eventType), outcomeError).Inc()
		return err
	}

	if !changed {
		logger.Debug("Event already applied")
		eventsProcessed.WithLabelValues(string(eventType), outcomeDuplicate).Inc()
		return nil
	}
	if job.Status == model.JobPending {
		logger.Infof("Job will be retried (%d of %d)", job.Retries()+1, job.MaximumRetries())
		jobsRetried.Inc()
	} else {
		logger.Infof("Job status set to %s", job.Status)
	}
	eventsProcessed.WithLabelValues(string(eventType), outcomeApplied).Inc()
	return nil
}
