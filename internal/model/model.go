package model

type JobStatus string

const (
	JobPending   JobStatus = "pending"   // waiting to be matched to a worker
	JobAssigned  JobStatus = "assigned"  // dispatched to a worker, not started yet
	JobRunning   JobStatus = "running"   // worker reported the job as started
	JobCompleted JobStatus = "completed" // finished successfully
	JobFailed    JobStatus = "failed"    // finished unsuccessfully
	JobKilled    JobStatus = "killed"    // stopped by the worker, e.g. on walltime
	JobDeleted   JobStatus = "deleted"   // removed on user request
	JobDeleting  JobStatus = "deleting"  // deletion requested, waiting on the worker
)

// IsTerminal returns true if no further lifecycle event is expected for a job in this status.
// Failed, killed and deleted jobs may still be moved back to pending by the retry policy.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobKilled, JobDeleted:
		return true
	}
	return false
}

type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventKilled    EventType = "killed"
	EventDeleted   EventType = "deleted"
	EventRetrying  EventType = "retrying"
	EventDeleting  EventType = "deleting"
)

type ContainerRuntime string

const (
	RuntimeSingularity ContainerRuntime = "singularity"
	RuntimeUdocker     ContainerRuntime = "udocker"
)

type ImagePullStatus string

const (
	ImagePullCompleted ImagePullStatus = "completed"
	ImagePullCached    ImagePullStatus = "cached"
	ImagePullFailed    ImagePullStatus = "failed"
)

// Task describes a single containerised process of a job.
type Task struct {
	Image        string            `json:"image" validate:"required"`
	Runtime      ContainerRuntime  `json:"runtime" validate:"required,oneof=singularity udocker"`
	Cmd          string            `json:"cmd,omitempty"`
	Workdir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	ProcsPerNode int               `json:"procsPerNode,omitempty" validate:"gte=0"`
}

// Resources required by a job. Memory and disk are in GB, walltime in minutes.
type Resources struct {
	Cpus     int `json:"cpus" validate:"gte=1"`
	Memory   int `json:"memory" validate:"gte=1"`
	Disk     int `json:"disk" validate:"gte=1"`
	Nodes    int `json:"nodes" validate:"gte=1"`
	Walltime int `json:"walltime" validate:"gte=1"`
}

type Artifact struct {
	Url        string `json:"url" validate:"required,url"`
	Mountpoint string `json:"mountpoint,omitempty"`
	Executable bool   `json:"executable,omitempty"`
}

// Policies are optional per-job scheduling policies. All values default to zero.
// MaximumTimeInQueue is in minutes, with zero meaning unlimited.
type Policies struct {
	MaximumRetries     int `json:"maximumRetries" validate:"gte=0"`
	MaximumTaskRetries int `json:"maximumTaskRetries" validate:"gte=0"`
	MaximumTimeInQueue int `json:"maximumTimeInQueue" validate:"gte=0"`
	Priority           int `json:"priority"`
}

// Event is a single entry of the append-only job event log. Time is seconds since the unix epoch.
type Event struct {
	Time float64   `json:"time"`
	Type EventType `json:"type"`
}

type CpuDetails struct {
	Clock  string `json:"clock"`
	Model  string `json:"model"`
	Vendor string `json:"vendor"`
}

// TaskExecution holds the execution details reported by a worker for a single task.
type TaskExecution struct {
	ExitCode             int             `json:"exitCode"`
	Retries              int             `json:"retries"`
	ImagePullStatus      ImagePullStatus `json:"imagePullStatus,omitempty"`
	ImagePullTime        *float64        `json:"imagePullTime,omitempty"`
	WallTimeUsage        float64         `json:"wallTimeUsage"`
	CpuTimeUsage         float64         `json:"cpuTimeUsage"`
	MaxResidentSetSizeKB int64           `json:"maxResidentSetSizeKB"`
}

// Execution accumulates what is known about where and how a job ran.
type Execution struct {
	Worker  string          `json:"worker,omitempty"`
	Site    string          `json:"site,omitempty"`
	Cpu     *CpuDetails     `json:"cpu,omitempty"`
	Retries int             `json:"retries"`
	Tasks   []TaskExecution `json:"tasks,omitempty"`
}

type Job struct {
	Id        string     `json:"id"`
	Name      string     `json:"name,omitempty" validate:"omitempty,max=512,jobname"`
	Tasks     []Task     `json:"tasks" validate:"required,min=1,dive"`
	Resources Resources  `json:"resources"`
	Artifacts []Artifact `json:"artifacts,omitempty" validate:"omitempty,dive"`
	Policies  *Policies  `json:"policies,omitempty"`
	Status    JobStatus  `json:"status"`
	Events    []Event    `json:"events"`
	Execution *Execution `json:"execution,omitempty"`
}

func (job *Job) AppendEvent(eventType EventType, time float64) {
	job.Events = append(job.Events, Event{Time: time, Type: eventType})
}

// CreateTime returns the time of the creation event, or zero if the job has none.
func (job *Job) CreateTime() float64 {
	for _, e := range job.Events {
		if e.Type == EventCreated {
			return e.Time
		}
	}
	return 0
}

// QueuedSince returns the time at which the job last entered the pending state,
// i.e. its most recent created or retrying event.
func (job *Job) QueuedSince() float64 {
	for i := len(job.Events) - 1; i >= 0; i-- {
		if job.Events[i].Type == EventCreated || job.Events[i].Type == EventRetrying {
			return job.Events[i].Time
		}
	}
	return 0
}

func (job *Job) MaximumRetries() int {
	if job.Policies == nil {
		return 0
	}
	return job.Policies.MaximumRetries
}

func (job *Job) Priority() int {
	if job.Policies == nil {
		return 0
	}
	return job.Policies.Priority
}

func (job *Job) MaximumTimeInQueue() int {
	if job.Policies == nil {
		return 0
	}
	return job.Policies.MaximumTimeInQueue
}

// Retries returns the number of retries recorded by the execution environment.
func (job *Job) Retries() int {
	if job.Execution == nil {
		return 0
	}
	return job.Execution.Retries
}

// EnsureExecution returns the execution block of the job, creating it if necessary.
func (job *Job) EnsureExecution() *Execution {
	if job.Execution == nil {
		job.Execution = &Execution{}
	}
	return job.Execution
}

// DeepCopy returns a copy of the job sharing no mutable state with the original.
// Stores hand out copies so that callers can mutate the result freely.
func (job *Job) DeepCopy() *Job {
	if job == nil {
		return nil
	}
	cpy := *job
	if job.Tasks != nil {
		cpy.Tasks = make([]Task, len(job.Tasks))
		for i, task := range job.Tasks {
			cpy.Tasks[i] = task
			if task.Env != nil {
				env := make(map[string]string, len(task.Env))
				for k, v := range task.Env {
					env[k] = v
				}
				cpy.Tasks[i].Env = env
			}
		}
	}
	if job.Artifacts != nil {
		cpy.Artifacts = append([]Artifact(nil), job.Artifacts...)
	}
	if job.Policies != nil {
		policies := *job.Policies
		cpy.Policies = &policies
	}
	if job.Events != nil {
		cpy.Events = append([]Event(nil), job.Events...)
	}
	if job.Execution != nil {
		execution := *job.Execution
		if job.Execution.Cpu != nil {
			cpu := *job.Execution.Cpu
			execution.Cpu = &cpu
		}
		if job.Execution.Tasks != nil {
			execution.Tasks = make([]TaskExecution, len(job.Execution.Tasks))
			for i, task := range job.Execution.Tasks {
				execution.Tasks[i] = task
				if task.ImagePullTime != nil {
					t := *task.ImagePullTime
					execution.Tasks[i].ImagePullTime = &t
				}
			}
		}
		cpy.Execution = &execution
	}
	return &cpy
}

// WorkerInstruction is the message sent to a worker on its dispatch subject.
// Exactly one of the fields is set.
type WorkerInstruction struct {
	Create *Job `json:"create,omitempty"`
	Delete *Job `json:"delete,omitempty"`
}
