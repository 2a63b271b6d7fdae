// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package capability

import (
	"testing"
	"time"
)

func TestCircuitOpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	if b.State() != CircuitClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != CircuitClosed {
		t.Fatalf("expected closed below threshold, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("expected open at threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("open circuit must not allow calls before cooldown")
	}
}

func TestCircuitHalfOpensAfterCooldown(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Second)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Before cooldown: still rejecting.
	now = now.Add(5 * time.Second)
	if b.Allow() {
		t.Error("expected rejection before cooldown elapsed")
	}

	// After cooldown: half-open, trial call admitted.
	now = now.Add(6 * time.Second)
	if !b.Allow() {
		t.Fatal("expected trial call after cooldown")
	}
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
}

func TestCircuitHalfOpenTransitions(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b := NewCircuitBreaker(1, time.Nanosecond)
		b.RecordFailure()
		time.Sleep(time.Millisecond)
		if !b.Allow() {
			t.Fatal("expected half-open admission")
		}
		b.RecordSuccess()
		if b.State() != CircuitClosed {
			t.Fatalf("expected closed after success, got %s", b.State())
		}
		if b.FailureCount() != 0 {
			t.Errorf("expected failure count reset, got %d", b.FailureCount())
		}
	})

	t.Run("failure re-opens with count at threshold", func(t *testing.T) {
		b := NewCircuitBreaker(4, time.Nanosecond)
		b.RecordFailure()
		b.RecordFailure()
		b.RecordFailure()
		b.RecordFailure()
		time.Sleep(time.Millisecond)
		if !b.Allow() {
			t.Fatal("expected half-open admission")
		}
		b.RecordFailure()
		if b.State() != CircuitOpen {
			t.Fatalf("expected re-open, got %s", b.State())
		}
		if b.FailureCount() != 4 {
			t.Errorf("expected failure count pinned at threshold 4, got %d", b.FailureCount())
		}
	})
}

func TestForceOpen(t *testing.T) {
	b := NewCircuitBreaker(5, time.Minute)
	b.ForceOpen()
	if b.State() != CircuitOpen {
		t.Fatalf("expected open after ForceOpen, got %s", b.State())
	}
	if b.Allow() {
		t.Error("forced-open circuit must reject calls")
	}
}

func TestCircuitDefaults(t *testing.T) {
	b := NewCircuitBreaker(0, 0)
	if b.threshold != DefaultFailureThreshold {
		t.Errorf("expected default threshold %d, got %d", DefaultFailureThreshold, b.threshold)
	}
	if b.cooldown != DefaultCooldown {
		t.Errorf("expected default cooldown %v, got %v", DefaultCooldown, b.cooldown)
	}
}
