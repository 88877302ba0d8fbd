package generation

import (
	"sync"
	"sync/atomic"
)

// JobRegistry tracks detached streaming continuations and supports graceful
// draining. When draining is enabled, new streaming jobs are rejected while
// in-flight ones finish naturally.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(), preventing
// a TOCTOU race where StartDraining+Wait could be called between the draining
// check and wg.Add.
type JobRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
}

// NewJobRegistry creates a new JobRegistry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{}
}

// Add registers a new active job. Returns false if the registry is draining,
// meaning no new jobs should be started. The draining check and WaitGroup
// increment are performed atomically under a mutex.
func (jr *JobRegistry) Add() bool {
	jr.mu.Lock()
	defer jr.mu.Unlock()
	if jr.draining {
		return false
	}
	jr.wg.Add(1)
	jr.count.Add(1)
	return true
}

// Done marks a job as completed. Must be called exactly once per successful Add.
func (jr *JobRegistry) Done() {
	jr.count.Add(-1)
	jr.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
// Safe to call concurrently with Add; the mutex ensures no Add can slip
// through after StartDraining returns.
func (jr *JobRegistry) StartDraining() {
	jr.mu.Lock()
	defer jr.mu.Unlock()
	jr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (jr *JobRegistry) IsDraining() bool {
	jr.mu.Lock()
	defer jr.mu.Unlock()
	return jr.draining
}

// ActiveCount returns the number of currently active jobs.
func (jr *JobRegistry) ActiveCount() int64 {
	return jr.count.Load()
}

// Wait blocks until all active jobs have completed.
func (jr *JobRegistry) Wait() {
	jr.wg.Wait()
}
