// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratagem/core/shared/types"
)

const testYAML = `
default_profile: balanced
profiles:
  balanced:
    max_retries: 3
    fan_out: 3
    coordination_enabled: true
    provider_weights:
      pattern-1: 50
      reasoning-1: 30
    timeout_overrides:
      low: 300ms
      high: 2s
    cache:
      memory_capacity: 512
      result_ttl: 5m
  aggressive:
    max_retries: 1
    fan_out: 5
    coordination_enabled: true
    cache:
      result_ttl: 1m
`

func TestLoadSelectsDefaultProfile(t *testing.T) {
	m, err := LoadBytes([]byte(testYAML))
	require.NoError(t, err)

	p := m.Active()
	assert.Equal(t, "balanced", p.Name)
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 50.0, p.ProviderWeights["pattern-1"])
	assert.Equal(t, Duration(300*time.Millisecond), p.TimeoutOverrides[types.ComplexityLow])
	assert.Equal(t, Duration(2*time.Second), p.TimeoutOverrides[types.ComplexityHigh])
	assert.Equal(t, 512, p.Cache.MemoryCapacity)
}

func TestLoadRejectsUnknownDefault(t *testing.T) {
	_, err := LoadBytes([]byte("default_profile: ghost\nprofiles:\n  real:\n    max_retries: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestLoadRejectsUnknownComplexityClass(t *testing.T) {
	bad := `
default_profile: p
profiles:
  p:
    timeout_overrides:
      extreme: 1s
`
	_, err := LoadBytes([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extreme")
}

func TestSwapIsVisibleToReaders(t *testing.T) {
	m, err := LoadBytes([]byte(testYAML))
	require.NoError(t, err)

	require.NoError(t, m.Swap("aggressive"))
	p := m.Active()
	assert.Equal(t, "aggressive", p.Name)
	assert.Equal(t, 1, p.MaxRetries)
	assert.Equal(t, 5, p.FanOut)

	assert.Error(t, m.Swap("ghost"))
	assert.Equal(t, "aggressive", m.Active().Name, "failed swap must not change the active profile")
}

func TestSubscriberNotifiedOnSwap(t *testing.T) {
	m, err := LoadBytes([]byte(testYAML))
	require.NoError(t, err)

	var seen []string
	m.Subscribe(func(p Profile) {
		seen = append(seen, p.Name)
	})
	require.NoError(t, m.Swap("aggressive"))

	// Once at registration, once per swap.
	assert.Equal(t, []string{"balanced", "aggressive"}, seen)
}

func TestRouterConfigConversion(t *testing.T) {
	m, err := LoadBytes([]byte(testYAML))
	require.NoError(t, err)

	p := m.Active()
	rc := p.RouterConfig()
	assert.Equal(t, 3, rc.MaxRetries)
	assert.Equal(t, 3, rc.FanOut)
	assert.True(t, rc.CoordinationEnabled)
	assert.Equal(t, 300*time.Millisecond, rc.TimeoutOverrides[types.ComplexityLow])
	assert.Equal(t, 5*time.Minute, rc.CacheTTL)
	assert.Equal(t, 30.0, rc.Weights["reasoning-1"])
}

func TestEnvOverridesApplyToAllProfiles(t *testing.T) {
	t.Setenv(EnvProviderWeights, "pattern-1:80, reasoning-1:10")
	t.Setenv(EnvMaxRetries, "2")
	t.Setenv(EnvProfile, "aggressive")

	m, err := LoadBytes([]byte(testYAML))
	require.NoError(t, err)

	p := m.Active()
	assert.Equal(t, "aggressive", p.Name, "env selects the starting profile")
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 80.0, p.ProviderWeights["pattern-1"])

	// The override survives a swap.
	require.NoError(t, m.Swap("balanced"))
	assert.Equal(t, 2, m.Active().MaxRetries)
}

func TestEnvProfileUnknownFails(t *testing.T) {
	t.Setenv(EnvProfile, "ghost")

	_, err := LoadBytes([]byte(testYAML))
	require.Error(t, err)
}

func TestLoadParsesProviders(t *testing.T) {
	withProviders := testYAML + `
providers:
  - name: pattern-1
    type: pattern_lookup
    endpoint: http://pattern-1:9000
    capabilities: [pattern, history]
    weight: 10
    enabled: true
  - name: reasoning-1
    type: reasoning
    endpoint: http://reasoning-1:9000
    enabled: true
`
	m, err := LoadBytes([]byte(withProviders))
	require.NoError(t, err)

	providers := m.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, "pattern-1", providers[0].Name)
	assert.Equal(t, []string{"pattern", "history"}, providers[0].Capabilities)
	assert.True(t, providers[1].Enabled)
}

func TestLoadRejectsInvalidProvider(t *testing.T) {
	bad := testYAML + `
providers:
  - endpoint: http://nameless:9000
`
	_, err := LoadBytes([]byte(bad))
	require.Error(t, err)
}

func TestParseWeights(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]float64
		wantErr bool
	}{
		{"basic", "pattern:50,reasoning:30", map[string]float64{"pattern": 50, "reasoning": 30}, false},
		{"spaces", " pattern : 50 , reasoning : 30 ", map[string]float64{"pattern": 50, "reasoning": 30}, false},
		{"trailing comma", "pattern:50,", map[string]float64{"pattern": 50}, false},
		{"missing colon", "pattern50", nil, true},
		{"negative", "pattern:-1", nil, true},
		{"empty", "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWeights(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
