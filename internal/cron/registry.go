package cron

import (
	"context"
	"time"
)

// Report is what a job tells the scheduler about a completed run.
type Report struct {
	Affected int
}

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) (Report, error)
}

// Schedule yields the next firing time after a given instant.
type Schedule interface {
	Next(from time.Time) time.Time
}

// Entry pairs a job with its schedule.
type Entry struct {
	Job      Job
	Schedule Schedule
}

// Registry tracks registered cron jobs. It is built once per process and
// handed to the Service.
type Registry struct {
	entries []Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a job with its schedule. Nil jobs or schedules are ignored.
func (r *Registry) Register(job Job, schedule Schedule) {
	if job == nil || schedule == nil {
		return
	}
	r.entries = append(r.entries, Entry{Job: job, Schedule: schedule})
}

// Entries returns the registered entries in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Lookup finds a job by name.
func (r *Registry) Lookup(name string) (Job, bool) {
	for _, e := range r.entries {
		if e.Job.Name() == name {
			return e.Job, true
		}
	}
	return nil, false
}
