package jobhandler

import (
	"github.com/prominence-eu/prominence/internal/model"
)

// Apply updates job to reflect event and returns true if the job changed. now is the current time
// in seconds since the unix epoch, used to timestamp retries.
//
// An event that is already recorded in the job's event log is ignored, so redelivered events
// leave the job as it is. A start arriving after the job finished since it was last queued is
// ignored too, so a late start never moves a finished job back to running.
func Apply(job *model.Job, event Event, now float64) bool {
	header := event.Header()
	eventType, status := outcome(event)
	if hasEvent(job, eventType, header.Epoch) {
		return false
	}
	if _, ok := event.(*Started); ok && finishedSinceQueued(job) {
		return false
	}

	job.AppendEvent(eventType, header.Epoch)
	job.Status = status
	mergeExecution(job, header)

	switch event.(type) {
	case *Failed, *Killed, *Deleted:
		applyRetryPolicy(job, now)
	}
	return true
}

func outcome(event Event) (model.EventType, model.JobStatus) {
	switch event.(type) {
	case *Started:
		return model.EventStarted, model.JobRunning
	case *Succeeded:
		return model.EventCompleted, model.JobCompleted
	case *Failed:
		return model.EventFailed, model.JobFailed
	case *Killed:
		return model.EventKilled, model.JobKilled
	case *Deleted:
		return model.EventDeleted, model.JobDeleted
	}
	panic("unhandled event type")
}

func hasEvent(job *model.Job, eventType model.EventType, time float64) bool {
	for _, e := range job.Events {
		if e.Type == eventType && e.Time == time {
			return true
		}
	}
	return false
}

// finishedSinceQueued returns true if a terminal event follows the latest created or retrying event.
func finishedSinceQueued(job *model.Job) bool {
	for i := len(job.Events) - 1; i >= 0; i-- {
		switch job.Events[i].Type {
		case model.EventCreated, model.EventRetrying:
			return false
		case model.EventCompleted, model.EventFailed, model.EventKilled, model.EventDeleted:
			return true
		}
	}
	return false
}

func mergeExecution(job *model.Job, header *EventHeader) {
	execution := job.EnsureExecution()
	if header.Worker != "" {
		execution.Worker = header.Worker
	}
	details := header.Details
	if details == nil {
		return
	}
	if details.Site != "" {
		execution.Site = details.Site
	}
	if details.Cpu != nil {
		cpu := *details.Cpu
		execution.Cpu = &cpu
	}
	if len(details.Tasks) > 0 {
		execution.Tasks = append([]model.TaskExecution(nil), details.Tasks...)
	}
}

// applyRetryPolicy puts the job back in the queue if it has retries left. The retry counter is
// maintained by the execution environment, not here.
func applyRetryPolicy(job *model.Job, now float64) {
	maximumRetries := job.MaximumRetries()
	if maximumRetries > 0 && job.Retries() < maximumRetries {
		job.Status = model.JobPending
		job.AppendEvent(model.EventRetrying, now)
	}
}
