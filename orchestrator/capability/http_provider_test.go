// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stratagem/core/shared/types"
)

func newCapabilityServer(t *testing.T, payload string, healthStatus string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req executeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(executeResponse{Payload: payload})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthResponse{Status: healthStatus})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newHTTPTestProvider(t *testing.T, endpoint string) *HTTPProvider {
	t.Helper()
	p, err := NewHTTPProvider(ProviderConfig{
		Name:         "pattern-remote",
		Type:         ProviderTypePatternLookup,
		Endpoint:     endpoint,
		Capabilities: []string{"pattern"},
	}, nil)
	if err != nil {
		t.Fatalf("provider construction failed: %v", err)
	}
	return p
}

func TestHTTPProviderExecute(t *testing.T) {
	srv := newCapabilityServer(t, "the answer", "ok")
	p := newHTTPTestProvider(t, srv.URL)

	req := types.NewQueryRequest(types.DomainPattern, "find recurring failures", types.ComplexityLow)
	resp, err := p.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Payload != "the answer" {
		t.Errorf("wrong payload: %q", resp.Payload)
	}
	if resp.Latency <= 0 {
		t.Error("expected positive latency")
	}
}

func TestHTTPProviderExecuteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	p := newHTTPTestProvider(t, srv.URL)

	req := types.NewQueryRequest(types.DomainPattern, "anything", types.ComplexityLow)
	_, err := p.Execute(context.Background(), req)
	if !IsCode(err, ErrCodeProviderUnavailable) {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}

func TestHTTPProviderExecuteApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{Error: "capability exhausted"})
	}))
	t.Cleanup(srv.Close)
	p := newHTTPTestProvider(t, srv.URL)

	req := types.NewQueryRequest(types.DomainPattern, "anything", types.ComplexityLow)
	_, err := p.Execute(context.Background(), req)
	if !IsCode(err, ErrCodeProviderUnavailable) {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}

func TestHTTPProviderExecuteHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	p := newHTTPTestProvider(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := types.NewQueryRequest(types.DomainPattern, "anything", types.ComplexityLow)
	if _, err := p.Execute(ctx, req); err == nil {
		t.Fatal("expected context deadline to abort the call")
	}
}

func TestHTTPProviderHealthCheck(t *testing.T) {
	srv := newCapabilityServer(t, "x", "ok")
	p := newHTTPTestProvider(t, srv.URL)

	result, err := p.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if !result.Healthy {
		t.Errorf("expected healthy, got %+v", result)
	}
}

func TestHTTPProviderHealthCheckUnreachable(t *testing.T) {
	srv := newCapabilityServer(t, "x", "ok")
	url := srv.URL
	srv.Close()
	p := newHTTPTestProvider(t, url)

	result, err := p.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("unreachable server must yield a failed result, not an error: %v", err)
	}
	if result.Healthy {
		t.Error("expected unhealthy result")
	}
}

func TestHTTPProviderRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPProvider(ProviderConfig{Name: "x", Type: ProviderTypeReasoning}, nil)
	if !IsCode(err, ErrCodeInvalidConfig) {
		t.Fatalf("expected invalid_config, got %v", err)
	}
}
