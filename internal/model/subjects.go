package model

import "fmt"

// Subjects used between the scheduling services and the workers.
const (
	// JobEventsSubjects matches the lifecycle events of every job.
	JobEventsSubjects = "jobs.*.events"
	// WorkerStatusSubjects matches the status reports of every worker.
	WorkerStatusSubjects = "worker.status.*"
	// WorkerJobSubjects matches the dispatch subject of every worker.
	WorkerJobSubjects = "worker.job.*"
)

func JobEventsSubject(jobId string) string {
	return fmt.Sprintf("jobs.%s.events", jobId)
}

// JobSubjects returns the wildcard matching the given per-job subject suffix, e.g. "events".
func JobSubjects(suffix string) string {
	return fmt.Sprintf("jobs.*.%s", suffix)
}

func WorkerStatusSubject(name string) string {
	return fmt.Sprintf("worker.status.%s", name)
}

func WorkerJobSubject(name string) string {
	return fmt.Sprintf("worker.job.%s", name)
}
