// Package cron implements the background scheduler: a single goroutine
// ticking at a fixed period, running one-shot and "every" jobs serially,
// with overrun-skip semantics and prompt (<=100ms) shutdown.
package cron

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is one scheduled unit of work.
type Job struct {
	ID       string
	Fn       func()
	every    time.Duration // zero for one-shot
	lastExec time.Time
	oneShot  bool
	fired    bool
}

// Scheduler runs registered jobs on a single goroutine at a fixed tick
// period. All registration and execution state is guarded by mu; jobs
// themselves run serially, never concurrently with each other.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*Job
	period time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Scheduler that ticks every period. Call Start to begin
// running it.
func New(period time.Duration) *Scheduler {
	return &Scheduler{period: period}
}

// Every registers fn to run whenever now-lastExec > interval, checked each
// tick. Returns the job id, usable with Remove.
func (s *Scheduler) Every(interval time.Duration, fn func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.jobs = append(s.jobs, &Job{ID: id, Fn: fn, every: interval})
	return id
}

// Once registers fn to run at the next tick, then be removed.
func (s *Scheduler) Once(fn func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.jobs = append(s.jobs, &Job{ID: id, Fn: fn, oneShot: true})
	return id
}

// Remove unregisters a job by id, if still present.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, j := range s.jobs {
		if j.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return
		}
	}
}

// tickSlice bounds how long Start's sleep loop waits between checking the
// stop signal, so Stop returns well within 100ms of being called.
const tickSlice = 20 * time.Millisecond

// Start runs the scheduler loop on the calling goroutine's behalf (a new
// goroutine is spawned internally); call Stop to shut it down.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return // already running
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	go s.loop(stopCh, doneCh)
}

func (s *Scheduler) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	last := time.Now()
	for {
		if s.sleepUntilTickOrStop(stopCh, last) {
			return
		}
		s.runDue(time.Now())
		last = time.Now()
	}
}

// sleepUntilTickOrStop waits until period has elapsed since last, polling
// stopCh every tickSlice so shutdown is prompt even mid-wait. Returns true
// if stop was signaled.
func (s *Scheduler) sleepUntilTickOrStop(stopCh chan struct{}, last time.Time) bool {
	deadline := last.Add(s.period)
	for {
		select {
		case <-stopCh:
			return true
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		slice := tickSlice
		if remaining < slice {
			slice = remaining
		}
		select {
		case <-stopCh:
			return true
		case <-time.After(slice):
		}
	}
}

// runDue executes every job whose condition is satisfied at now, serially
// and in registration order. If a tick's jobs overrun into the next
// period, the scheduler simply resumes its sleep from "now" on return --
// the next tick is effectively skipped.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	kept := s.jobs[:0]
	for _, j := range s.jobs {
		switch {
		case j.oneShot && !j.fired:
			due = append(due, j)
			j.fired = true
		case j.oneShot:
			continue // already fired, drop
		case now.Sub(j.lastExec) > j.every:
			due = append(due, j)
			j.lastExec = now
			kept = append(kept, j)
		default:
			kept = append(kept, j)
		}
	}
	s.jobs = kept
	s.mu.Unlock()

	for _, j := range due {
		j.Fn()
	}
}

// Stop signals the scheduler loop to exit and blocks until it has, which
// happens within roughly tickSlice of the call.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
