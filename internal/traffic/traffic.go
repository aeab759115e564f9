// Package traffic keeps short sliding-window counts of provider fetch outcomes
// and rate-limit denials. Health checks read them to report degraded and
// overloaded states.
package traffic

import (
	"sync"
	"time"
)

// Retention is the longest window the tracker can answer for.
const Retention = 5 * time.Minute

const bucketCount = int(Retention / time.Second)

var defaultTracker = NewTracker(time.Now)

// RecordSuccess records a provider call that returned a usable answer, including "no such city".
func RecordSuccess() { defaultTracker.add(outcomeSuccess) }

// RecordError records a provider call that failed in transport or was short-circuited.
func RecordError() { defaultTracker.add(outcomeError) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.add(outcomeDenied) }

// ErrorRate returns (errorCount, totalCount) of provider calls within window.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// DenialCount returns the number of denials within window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeError
	outcomeDenied
)

type bucket struct {
	second  int64
	success int
	errors  int
	denied  int
}

// Tracker counts outcomes in one-second buckets over Retention.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets [bucketCount]bucket
}

// NewTracker returns a Tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// RecordSuccess records a successful provider call.
func (t *Tracker) RecordSuccess() { t.add(outcomeSuccess) }

// RecordError records a failed provider call.
func (t *Tracker) RecordError() { t.add(outcomeError) }

// RecordDenied records a rate-limit denial.
func (t *Tracker) RecordDenied() { t.add(outcomeDenied) }

func (t *Tracker) add(o outcome) {
	sec := t.now().Unix()
	t.mu.Lock()
	defer t.mu.Unlock()
	b := &t.buckets[sec%int64(bucketCount)]
	if b.second != sec {
		*b = bucket{second: sec}
	}
	switch o {
	case outcomeSuccess:
		b.success++
	case outcomeError:
		b.errors++
	case outcomeDenied:
		b.denied++
	}
}

// sum totals buckets within window (capped at Retention), current second included.
func (t *Tracker) sum(window time.Duration) bucket {
	if window > Retention {
		window = Retention
	}
	now := t.now().Unix()
	oldest := now - int64(window/time.Second) + 1
	t.mu.Lock()
	defer t.mu.Unlock()
	var total bucket
	for _, b := range t.buckets {
		if b.second >= oldest && b.second <= now {
			total.success += b.success
			total.errors += b.errors
			total.denied += b.denied
		}
	}
	return total
}

// ErrorRate returns (errorCount, totalCount) within window; denials are excluded from both.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	s := t.sum(window)
	return s.errors, s.success + s.errors
}

// DenialCount returns the number of denials within window.
func (t *Tracker) DenialCount(window time.Duration) int {
	return t.sum(window).denied
}

// Reset clears all buckets.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets = [bucketCount]bucket{}
}
