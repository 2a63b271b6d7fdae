// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"stratagem/core/shared/types"
)

func coordinatedRequest(content string) types.QueryRequest {
	req := types.NewQueryRequest(types.DomainTrend, content, types.ComplexityMedium)
	req.RequireCoordination = true
	return req
}

func TestCoordinateMergesMatchingBranches(t *testing.T) {
	reg := NewRegistry()
	a := newMockProvider("a")
	b := newMockProvider("b")
	a.payload = "shared answer"
	b.payload = "shared answer"
	registerAll(reg, a, b)

	router := newTestRouter(reg, WithRouterConfig(RouterConfig{FanOut: 2}))
	coord := NewCoordinator(router, nil)

	result, err := coord.Coordinate(context.Background(), coordinatedRequest("q"))
	if err != nil {
		t.Fatalf("coordinate failed: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Provider != "a" {
		t.Errorf("expected top-ranked branch to win, got %s", result.Provider)
	}
	if result.FallbackUsed {
		t.Error("top-ranked branch success must not set fallback_used")
	}
	if result.Disagreement {
		t.Error("matching payloads must not flag disagreement")
	}
	if len(result.Branches) != 2 {
		t.Fatalf("expected 2 branch records, got %d", len(result.Branches))
	}
	// Completion order must be recorded 1..n.
	for i, br := range result.Branches {
		if br.CompletionOrder != i+1 {
			t.Errorf("branch %d completion order = %d", i, br.CompletionOrder)
		}
	}
}

func TestCoordinatePartialSuccess(t *testing.T) {
	reg := NewRegistry()
	// Top-ranked branch times out; the other succeeds.
	slow := newMockProvider("slow", withDelay(5*time.Second))
	ok := newMockProvider("ok")
	registerAll(reg, slow, ok)

	router := newTestRouter(reg, WithRouterConfig(RouterConfig{FanOut: 2}))
	coord := NewCoordinator(router, nil)

	req := coordinatedRequest("q")
	req.Timeout = 3 * time.Second

	result, err := coord.Coordinate(context.Background(), req)
	if err != nil {
		t.Fatalf("partial success must not be an error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected overall success with one succeeding branch")
	}
	if result.Provider != "ok" {
		t.Errorf("expected surviving branch to win, got %s", result.Provider)
	}
	if !result.FallbackUsed {
		t.Error("top-ranked branch failed: fallback_used must be set")
	}

	var degradedNoted bool
	for _, br := range result.Branches {
		if br.Provider == "slow" && !br.Success && br.Error != "" {
			degradedNoted = true
		}
	}
	if !degradedNoted {
		t.Error("timed-out branch must be noted in branch metadata")
	}
}

func TestCoordinateDisagreementSurfacesAll(t *testing.T) {
	reg := NewRegistry()
	a := newMockProvider("a")
	b := newMockProvider("b")
	a.payload = "growth will accelerate"
	b.payload = "growth will stall"
	registerAll(reg, a, b)

	cache := newMemCache()
	router := newTestRouter(reg, WithRouterConfig(RouterConfig{FanOut: 2}), WithCache(cache))
	coord := NewCoordinator(router, nil)

	result, err := coord.Coordinate(context.Background(), coordinatedRequest("q"))
	if err != nil {
		t.Fatalf("coordinate failed: %v", err)
	}
	if !result.Disagreement {
		t.Fatal("materially different payloads must flag disagreement")
	}
	success := 0
	for _, br := range result.Branches {
		if br.Success {
			success++
			if br.Payload == "" {
				t.Error("disagreeing branches must carry their payloads")
			}
		}
	}
	if success != 2 {
		t.Errorf("expected both branch payloads surfaced, got %d", success)
	}
	// Disagreeing results must not poison the cache.
	if cache.puts != 0 {
		t.Error("disagreement must not be cached")
	}
}

func TestCoordinateAllBranchesFail(t *testing.T) {
	reg := NewRegistry()
	registerAll(reg,
		newMockProvider("a", withFailure(errors.New("down"))),
		newMockProvider("b", withFailure(errors.New("down"))),
	)

	router := newTestRouter(reg, WithRouterConfig(RouterConfig{FanOut: 2}))
	coord := NewCoordinator(router, nil)

	result, err := coord.Coordinate(context.Background(), coordinatedRequest("q"))
	if !IsCode(err, ErrCodeAllAttemptsFailed) {
		t.Fatalf("expected all_attempts_failed, got %v", err)
	}
	if result.Success {
		t.Error("expected failure result")
	}
	if len(result.Branches) != 2 {
		t.Errorf("expected branch attribution on failure, got %d", len(result.Branches))
	}
}

func TestCoordinateParentCancelPropagates(t *testing.T) {
	reg := NewRegistry()
	registerAll(reg,
		newMockProvider("a", withDelay(10*time.Second)),
		newMockProvider("b", withDelay(10*time.Second)),
	)

	router := newTestRouter(reg, WithRouterConfig(RouterConfig{FanOut: 2}))
	coord := NewCoordinator(router, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		req := coordinatedRequest("q")
		req.Timeout = time.Minute
		_, _ = coord.Coordinate(ctx, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelling the parent did not cancel in-flight branches")
	}
}

func TestCoordinateRespectsFanOutLimit(t *testing.T) {
	reg := NewRegistry()
	providers := []*mockProvider{
		newMockProvider("a"), newMockProvider("b"),
		newMockProvider("c"), newMockProvider("d"),
	}
	registerAll(reg, providers...)

	router := newTestRouter(reg, WithRouterConfig(RouterConfig{FanOut: 2}))
	coord := NewCoordinator(router, nil)

	result, err := coord.Coordinate(context.Background(), coordinatedRequest("q"))
	if err != nil {
		t.Fatalf("coordinate failed: %v", err)
	}
	if len(result.Branches) != 2 {
		t.Errorf("expected fan-out of 2, got %d branches", len(result.Branches))
	}
}
