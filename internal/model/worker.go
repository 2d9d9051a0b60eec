package model

import (
	"math"
	"time"
)

type WorkerStatus string

const (
	WorkerReady   WorkerStatus = "ready"
	WorkerLeaving WorkerStatus = "leaving"
)

// WorkerResources is a quantity of worker capacity. Memory and disk are in GB.
type WorkerResources struct {
	Cpus   float64 `json:"cpus"`
	Memory float64 `json:"memory"`
	Disk   float64 `json:"disk"`
}

// Fits returns true if every dimension of r is at least the corresponding requirement.
func (r WorkerResources) Fits(required Resources) bool {
	return r.Cpus >= float64(required.Cpus) &&
		r.Memory >= float64(required.Memory) &&
		r.Disk >= float64(required.Disk)
}

// Sub removes the job requirement from r in place.
func (r *WorkerResources) Sub(required Resources) {
	r.Cpus -= float64(required.Cpus)
	r.Memory -= float64(required.Memory)
	r.Disk -= float64(required.Disk)
}

func (r WorkerResources) AllPositive() bool {
	return r.Cpus > 0 && r.Memory > 0 && r.Disk > 0
}

type WorkerCapacity struct {
	Available WorkerResources  `json:"available"`
	Total     *WorkerResources `json:"total,omitempty"`
}

// Worker is the latest self-reported snapshot of an execution node.
type Worker struct {
	Name      string         `json:"name" validate:"required"`
	Status    WorkerStatus   `json:"status" validate:"required"`
	Site      string         `json:"site,omitempty"`
	Resources WorkerCapacity `json:"resources"`
	// Time of the report in seconds since the unix epoch. This is the only liveness signal.
	Epoch float64 `json:"epoch" validate:"gt=0"`
}

// LastSeen returns the time of the report as a time.Time.
func (w *Worker) LastSeen() time.Time {
	return FromEpoch(w.Epoch)
}

// IsCandidate returns true if the worker may be considered by the matcher.
func (w *Worker) IsCandidate() bool {
	return w.Status == WorkerReady && w.Resources.Available.AllPositive()
}

// ToEpoch converts t to seconds since the unix epoch, keeping sub-second precision.
func ToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func FromEpoch(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
