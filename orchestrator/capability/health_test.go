// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package capability

import (
	"context"
	"testing"
	"time"
)

func TestProbeAllMarksUnavailableAndOpensCircuit(t *testing.T) {
	reg := NewRegistry()
	dead := newMockProvider("dead", withUnhealthy())
	alive := newMockProvider("alive")
	registerAll(reg, dead, alive)

	monitor := NewHealthMonitor(reg)

	// 5 consecutive failed probes push the provider to unavailable.
	for i := 0; i < 5; i++ {
		monitor.ProbeAll(context.Background())
	}

	if h, _ := reg.Health("dead"); h != HealthStateUnavailable {
		t.Fatalf("expected unavailable after 5 failed probes, got %s", h)
	}
	circuit, _ := reg.Circuit("dead")
	if circuit.State() != CircuitOpen {
		t.Fatalf("expected circuit forced open, got %s", circuit.State())
	}
	if h, _ := reg.Health("alive"); h != HealthStateHealthy {
		t.Errorf("healthy provider must stay healthy, got %s", h)
	}
}

func TestProbeRecovery(t *testing.T) {
	reg := NewRegistry()
	p := newMockProvider("flap", withUnhealthy())
	registerAll(reg, p)

	monitor := NewHealthMonitor(reg)
	for i := 0; i < 3; i++ {
		monitor.ProbeAll(context.Background())
	}
	if h, _ := reg.Health("flap"); h != HealthStateDegraded {
		t.Fatalf("expected degraded after 3 failed probes, got %s", h)
	}

	p.healthy = true
	monitor.ProbeAll(context.Background())
	if h, _ := reg.Health("flap"); h != HealthStateDegraded {
		t.Fatalf("one good probe must not recover, got %s", h)
	}
	monitor.ProbeAll(context.Background())
	if h, _ := reg.Health("flap"); h != HealthStateHealthy {
		t.Fatalf("expected healthy after 2 good probes, got %s", h)
	}
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	reg := NewRegistry()
	hang := newMockProvider("hang")
	hang.probeDelay = time.Second
	registerAll(reg, hang)

	monitor := NewHealthMonitor(reg, WithProbeTimeout(10*time.Millisecond))

	for i := 0; i < 3; i++ {
		monitor.ProbeAll(context.Background())
	}
	if h, _ := reg.Health("hang"); h != HealthStateDegraded {
		t.Fatalf("expected hung probes to count as failures, got %s", h)
	}
}

func TestMonitorStartStop(t *testing.T) {
	reg := NewRegistry()
	p := newMockProvider("p")
	registerAll(reg, p)

	monitor := NewHealthMonitor(reg, WithHealthInterval(10*time.Millisecond))
	monitor.Start(context.Background())

	// Let a few ticks fire.
	time.Sleep(50 * time.Millisecond)
	monitor.Stop()

	if p.healthCalls.Load() == 0 {
		t.Error("expected background probes to run")
	}

	calls := p.healthCalls.Load()
	time.Sleep(50 * time.Millisecond)
	if p.healthCalls.Load() != calls {
		t.Error("probes continued after Stop")
	}
}
