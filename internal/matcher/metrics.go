package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "prominence_matcher_"

var (
	pendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metricsPrefix + "pending_jobs",
		Help: "Pending jobs seen by the last pass",
	})
	readyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: metricsPrefix + "ready_workers",
		Help: "Workers with free capacity seen by the last pass",
	})
	jobsAssigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_assigned_total",
		Help: "Jobs dispatched to a worker",
	})
	jobsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "jobs_timed_out_total",
		Help: "Jobs failed for waiting in the queue longer than their policy allows",
	})
	dispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: metricsPrefix + "dispatch_failures_total",
		Help: "Jobs that could not be sent to their worker or marked as assigned",
	})
)
