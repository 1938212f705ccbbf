package circuit

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestInitialStateClosed(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	if b.GetStatus().State != Closed {
		t.Errorf("initial state = %v, want Closed", b.GetStatus().State)
	}
}

func TestAllowsWhenClosed(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	allowed, msg := b.ShouldAllow()
	if !allowed {
		t.Error("expected allowed=true when Closed")
	}
	if msg != "" {
		t.Errorf("expected empty message when Closed, got %q", msg)
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	b.RecordTimeout("hash1")
	b.RecordTimeout("hash2")
	if b.GetStatus().State != Closed {
		t.Errorf("state after 2 failures = %v, want Closed", b.GetStatus().State)
	}
	b.RecordTimeout("hash3")
	if b.GetStatus().State != Open {
		t.Errorf("state after 3 failures = %v, want Open", b.GetStatus().State)
	}
}

func TestBlocksWhenOpen(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordTimeout(fmt.Sprintf("hash%d", i))
	}
	allowed, msg := b.ShouldAllow()
	if allowed {
		t.Error("expected allowed=false when Open")
	}
	if !strings.Contains(msg, "NEVERHANG") {
		t.Errorf("message = %q, want to contain NEVERHANG", msg)
	}
}

func TestSuccessClosesHalfOpen(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	b.state = HalfOpen
	b.RecordSuccess()
	if b.GetStatus().State != Closed {
		t.Errorf("state = %v, want Closed", b.GetStatus().State)
	}
	if b.GetStatus().RecentFailures != 0 {
		t.Errorf("recent failures = %d, want 0", b.GetStatus().RecentFailures)
	}
}

func TestReset(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordTimeout(fmt.Sprintf("hash%d", i))
	}
	if b.GetStatus().State != Open {
		t.Fatalf("state = %v, want Open", b.GetStatus().State)
	}
	b.Reset()
	if b.GetStatus().State != Closed {
		t.Errorf("state after reset = %v, want Closed", b.GetStatus().State)
	}
	if b.GetStatus().RecentFailures != 0 {
		t.Errorf("recent failures after reset = %d, want 0", b.GetStatus().RecentFailures)
	}
}

func TestHalfOpenTransitionAfterRecovery(t *testing.T) {
	b := New(3, 10*time.Millisecond, 3600*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordTimeout(fmt.Sprintf("hash%d", i))
	}
	time.Sleep(20 * time.Millisecond)

	allowed, msg := b.ShouldAllow()
	if !allowed {
		t.Error("expected allowed=true once recovery timeout elapses")
	}
	if !strings.Contains(msg, "half-open") {
		t.Errorf("message = %q, want to mention half-open", msg)
	}
	if b.GetStatus().State != HalfOpen {
		t.Errorf("state = %v, want HalfOpen", b.GetStatus().State)
	}
}

func TestStatusReportsThreshold(t *testing.T) {
	b := New(3, 300*time.Second, 3600*time.Second)
	status := b.GetStatus()
	if status.State != Closed {
		t.Errorf("status.State = %v, want Closed", status.State)
	}
	if status.FailureThreshold != 3 {
		t.Errorf("status.FailureThreshold = %d, want 3", status.FailureThreshold)
	}
	if status.OpenedAt != nil {
		t.Error("status.OpenedAt should be nil before any failure")
	}
}
