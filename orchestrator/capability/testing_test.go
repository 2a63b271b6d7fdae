// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"stratagem/core/shared/types"
)

// mockProvider is a scriptable provider used across the package tests.
type mockProvider struct {
	name         string
	providerType ProviderType
	capabilities []string

	payload string
	err     error
	delay   time.Duration

	healthy    bool
	probeDelay time.Duration

	executeCalls atomic.Int64
	healthCalls  atomic.Int64
}

var _ Provider = (*mockProvider)(nil)

func newMockProvider(name string, opts ...func(*mockProvider)) *mockProvider {
	p := &mockProvider{
		name:         name,
		providerType: ProviderTypeReasoning,
		payload:      "answer from " + name,
		healthy:      true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func withFailure(err error) func(*mockProvider) {
	return func(p *mockProvider) { p.err = err }
}

func withDelay(d time.Duration) func(*mockProvider) {
	return func(p *mockProvider) { p.delay = d }
}

func withCapabilities(caps ...string) func(*mockProvider) {
	return func(p *mockProvider) { p.capabilities = caps }
}

func withUnhealthy() func(*mockProvider) {
	return func(p *mockProvider) { p.healthy = false }
}

func (p *mockProvider) Name() string           { return p.name }
func (p *mockProvider) Type() ProviderType     { return p.providerType }
func (p *mockProvider) Capabilities() []string { return p.capabilities }

func (p *mockProvider) Execute(ctx context.Context, req types.QueryRequest) (*Response, error) {
	p.executeCalls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Payload: p.payload, Latency: p.delay}, nil
}

func (p *mockProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	p.healthCalls.Add(1)
	if p.probeDelay > 0 {
		select {
		case <-time.After(p.probeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !p.healthy {
		return nil, errors.New("probe refused")
	}
	return &HealthCheckResult{Healthy: true, LastChecked: time.Now()}, nil
}

// memCache is a minimal in-process ResultCache for router tests.
type memCache struct {
	entries map[string]string
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *memCache) Put(_ context.Context, key, payload string, _ time.Duration) {
	c.entries[key] = payload
	c.puts++
}

// recordedCall captures a CallRecorder invocation.
type recordedCall struct {
	provider string
	latency  time.Duration
	success  bool
	fallback bool
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) RecordCall(provider string, latency time.Duration, success, fallback bool) {
	f.calls = append(f.calls, recordedCall{provider: provider, latency: latency, success: success, fallback: fallback})
}

// registerAll registers providers with uniform configs, weights descending
// by list position so ranking order is deterministic.
func registerAll(reg *Registry, providers ...*mockProvider) {
	for i, p := range providers {
		cfg := ProviderConfig{
			Name:         p.name,
			Type:         p.providerType,
			Capabilities: p.capabilities,
			Weight:       float64(len(providers) - i),
			Enabled:      true,
		}
		if err := reg.Register(cfg, p); err != nil {
			panic(err)
		}
	}
}
