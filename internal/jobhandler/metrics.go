package jobhandler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeNotFound  = "not_found"
	outcomeMalformed = "malformed"
	outcomeError     = "error"
)

var eventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "prominence_job_handler_events_total",
		Help: "Job lifecycle events processed, by event type and outcome",
	},
	[]string{"type", "outcome"},
)

var jobsRetried = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "prominence_job_handler_retries_total",
		Help: "Jobs put back in the queue by the retry policy",
	},
)
