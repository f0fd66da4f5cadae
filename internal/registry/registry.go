// Package registry is the single source of truth for job status queries:
// a concurrency-safe store mapping a job key to job state. Callers only
// ever see snapshots, never internal references.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Kind enumerates the supported job kinds.
type Kind string

const (
	KindTWAP     Kind = "twap"
	KindOCO      Kind = "oco"
	KindGrid     Kind = "grid"
	KindStrategy Kind = "strategy"
)

// Valid reports whether k names a known job kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTWAP, KindOCO, KindGrid, KindStrategy:
		return true
	}
	return false
}

// Status is the job lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether the job can no longer transition.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusFailed
}

// Key identifies one job: unique per kind+name.
type Key struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
}

func (k Key) String() string { return string(k.Kind) + "/" + k.Name }

// Job is the externally visible job state. Reads return copies; the only
// writer is the owning orchestrator, through Update.
type Job struct {
	Key        Key            `json:"key"`
	Symbol     string         `json:"symbol"`
	Config     map[string]any `json:"config,omitempty"`
	Status     Status         `json:"status"`
	LastAction string         `json:"last_action,omitempty"`
	Warning    string         `json:"warning,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ConflictError means a job with the same key is not terminal yet.
type ConflictError struct {
	Key Key
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s already exists and is not finished", e.Key)
}

// NotFoundError means no job exists under the key.
type NotFoundError struct {
	Key Key
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.Key)
}

// Registry stores job records. Terminal records are retained so stop stays
// idempotent and operators can inspect finished jobs.
type Registry struct {
	mu   sync.RWMutex
	jobs map[Key]*Job
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{jobs: make(map[Key]*Job)}
}

// Create registers a new job in PENDING. A non-terminal job under the same
// key is a conflict; a terminal record is replaced.
func (r *Registry) Create(key Key, symbol string, config map[string]any) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[key]; ok && !existing.Status.Terminal() {
		return Job{}, &ConflictError{Key: key}
	}

	now := time.Now()
	job := &Job{
		Key:       key,
		Symbol:    symbol,
		Config:    config,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[key] = job
	return *job, nil
}

// Update mutates a job record atomically through fn. Only the owning
// orchestrator calls it, which keeps updates to one record totally ordered.
func (r *Registry) Update(key Key, fn func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[key]
	if !ok {
		return &NotFoundError{Key: key}
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

// Get returns a snapshot of a job's state.
func (r *Registry) Get(key Key) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[key]
	if !ok {
		return Job{}, &NotFoundError{Key: key}
	}
	return *job, nil
}

// List returns snapshots of all jobs, optionally filtered by kind, ordered
// by creation time.
func (r *Registry) List(kind Kind) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if kind != "" && job.Key.Kind != kind {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
