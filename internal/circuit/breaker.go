// Package circuit implements the NEVERHANG circuit breaker: a guard against
// runaway commands that keep timing out. State machine: Closed -> Open ->
// HalfOpen -> Closed.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

type failure struct {
	at          time.Time
	commandHash string
}

// Breaker is a NEVERHANG circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	state    State
	failures []failure
	openedAt time.Time
	hasOpen  bool

	failureThreshold int
	recoveryTimeout  time.Duration
	sampleWindow     time.Duration
}

// New returns a Breaker in the Closed state.
func New(failureThreshold int, recoveryTimeout, sampleWindow time.Duration) *Breaker {
	return &Breaker{
		state:            Closed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		sampleWindow:     sampleWindow,
	}
}

// RecordTimeout records a timeout failure for commandHash, trims the
// sample window, and opens the circuit once failureThreshold is reached.
func (b *Breaker) RecordTimeout(commandHash string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.failures = append(b.failures, failure{at: now, commandHash: commandHash})

	cutoff := now.Add(-b.sampleWindow)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept

	if len(b.failures) >= b.failureThreshold {
		b.state = Open
		b.openedAt = now
		b.hasOpen = true
	}
}

// RecordSuccess closes the circuit if it was HalfOpen; a no-op otherwise.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.state = Closed
		b.failures = nil
	}
}

// ShouldAllow reports whether execution should proceed, with an optional
// informational/blocking message. Transitions Open -> HalfOpen once the
// recovery timeout has elapsed.
func (b *Breaker) ShouldAllow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, ""
	case Open:
		if !b.hasOpen {
			return false, "NEVERHANG: Circuit OPEN"
		}
		elapsed := time.Since(b.openedAt)
		if elapsed > b.recoveryTimeout {
			b.state = HalfOpen
			return true, "NEVERHANG: Circuit half-open, testing recovery"
		}
		remaining := b.recoveryTimeout - elapsed
		return false, fmt.Sprintf("NEVERHANG: Circuit OPEN due to %d recent timeouts. Retry in %ds",
			len(b.failures), int64(remaining.Seconds()))
	case HalfOpen:
		return true, "NEVERHANG: Circuit half-open, monitoring"
	default:
		return true, ""
	}
}

// Reset returns the breaker to the Closed state, clearing all history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = nil
	b.hasOpen = false
}

// Status is the reportable snapshot of a Breaker, e.g. for the
// zsh_neverhang_status tool.
type Status struct {
	State            State  `json:"state"`
	RecentFailures   int    `json:"recent_failures"`
	FailureThreshold int    `json:"failure_threshold"`
	RecoveryTimeout  int64  `json:"recovery_timeout"`
	OpenedAt         *int64 `json:"opened_at,omitempty"`
	TimeUntilRetry   *int64 `json:"time_until_retry,omitempty"`
}

// GetStatus returns a point-in-time snapshot of the breaker.
func (b *Breaker) GetStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{
		State:            b.state,
		RecentFailures:   len(b.failures),
		FailureThreshold: b.failureThreshold,
		RecoveryTimeout:  int64(b.recoveryTimeout.Seconds()),
	}

	if b.hasOpen {
		openedUnix := b.openedAt.Unix()
		status.OpenedAt = &openedUnix

		remaining := b.recoveryTimeout - time.Since(b.openedAt)
		if remaining < 0 {
			remaining = 0
		}
		remainingSecs := int64(remaining.Seconds())
		status.TimeUntilRetry = &remainingSecs
	}

	return status
}
