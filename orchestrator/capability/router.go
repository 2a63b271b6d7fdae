// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package capability

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"stratagem/core/shared/types"
)

// DefaultMaxRetries bounds how many candidates the router attempts.
const DefaultMaxRetries = 3

// DefaultCacheTTL is the memory-tier TTL applied to routed results.
const DefaultCacheTTL = 5 * time.Minute

// ResultCache is the narrow caching interface the router consumes.
// The multi-level cache implements it; a nil cache disables caching.
type ResultCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, payload string, ttl time.Duration)
}

// CallRecorder receives one record per provider attempt, success or not.
// The metrics collector implements it; a nil recorder disables recording.
type CallRecorder interface {
	RecordCall(provider string, latency time.Duration, success, fallback bool)
}

// RouterConfig is the hot-swappable routing configuration bundle.
// The router reads it through an atomic pointer, so a swap is visible to
// the next Route call without locking.
type RouterConfig struct {
	// MaxRetries bounds how many candidates are attempted per query (0 = 3).
	MaxRetries int

	// Weights overrides per-provider ranking weights from the profile.
	Weights map[string]float64

	// TimeoutOverrides replaces the per-complexity soft budgets.
	TimeoutOverrides map[types.ComplexityClass]time.Duration

	// CacheTTL is the TTL applied when caching routed results (0 = 5m).
	CacheTTL time.Duration

	// FanOut is the coordinator's fan-out width (0 = 3).
	FanOut int

	// CoordinationEnabled gates the coordinator path.
	CoordinationEnabled bool
}

// Router selects a capability provider for each query and drives the
// attempt/fallback loop. It is safe for concurrent use.
type Router struct {
	registry *Registry
	cache    ResultCache
	metrics  CallRecorder
	config   atomic.Pointer[RouterConfig]
	logger   *log.Logger
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithCache sets the result cache consulted before routing.
func WithCache(c ResultCache) RouterOption {
	return func(r *Router) {
		r.cache = c
	}
}

// WithCallRecorder sets the metrics sink for per-attempt records.
func WithCallRecorder(m CallRecorder) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithRouterLogger sets a custom logger.
func WithRouterLogger(l *log.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// WithRouterConfig sets the initial routing configuration.
func WithRouterConfig(cfg RouterConfig) RouterOption {
	return func(r *Router) {
		r.config.Store(&cfg)
	}
}

// NewRouter creates a Router over the given registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry: registry,
		logger:   log.New(os.Stdout, "[CAP_ROUTER] ", log.LstdFlags),
	}
	r.config.Store(&RouterConfig{})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpdateConfig hot-swaps the routing configuration.
func (r *Router) UpdateConfig(cfg RouterConfig) {
	r.config.Store(&cfg)
	r.logger.Printf("Routing config swapped (retries: %d, fanout: %d, coordination: %v)",
		cfg.MaxRetries, cfg.FanOut, cfg.CoordinationEnabled)
}

// Config returns the current routing configuration.
func (r *Router) Config() RouterConfig {
	return *r.config.Load()
}

// attemptBudget returns the hard per-attempt timeout for a complexity
// class: twice the soft budget, with profile overrides applied.
func (r *Router) attemptBudget(c types.ComplexityClass) time.Duration {
	cfg := r.config.Load()
	soft := c.SoftBudget()
	if override, ok := cfg.TimeoutOverrides[c]; ok && override > 0 {
		soft = override
	}
	return 2 * soft
}

// Route answers a query: cache lookup first, then ranked provider attempts
// with circuit-aware fallback. Every attempt updates the circuit state and
// the metrics collector regardless of outcome.
//
// Only exhausted retries and deadline expiry surface as errors; a non-nil
// result is returned in every case.
func (r *Router) Route(ctx context.Context, req types.QueryRequest) (*types.OrchestrationResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return &types.OrchestrationResult{
				QueryID: req.ID,
				Success: false,
				Error:   err.Error(),
			}, &OrchestrationError{
				Code: ErrCodeInvalidRequest, QueryID: req.ID,
				Message: err.Error(), Cause: err,
			}
	}

	cfg := r.config.Load()

	// Cache lookup short-circuits routing entirely.
	if r.cache != nil {
		if payload, ok := r.cache.Get(ctx, req.CacheKey()); ok {
			return &types.OrchestrationResult{
				QueryID:      req.ID,
				Success:      true,
				Payload:      payload,
				CacheHit:     true,
				FallbackUsed: false,
				Latency:      time.Since(start),
			}, nil
		}
	}

	candidates := rankCandidates(req, r.registry.Snapshot(), cfg.Weights)
	if len(candidates) == 0 {
		err := &OrchestrationError{
			Code:    ErrCodeProviderUnavailable,
			QueryID: req.ID,
			Message: "no provider available: all circuits open or providers unavailable",
		}
		return &types.OrchestrationResult{
			QueryID:      req.ID,
			Success:      false,
			Error:        err.Message,
			FallbackUsed: true,
			Latency:      time.Since(start),
		}, err
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	attempted := make([]string, 0, maxRetries)
	attempts := 0

	for _, name := range candidates {
		if attempts >= maxRetries {
			break
		}
		if ctx.Err() != nil {
			break
		}

		circuit, err := r.registry.Circuit(name)
		if err != nil || !circuit.Allow() {
			continue
		}

		release, ok := r.registry.AcquireSlot(name)
		if !ok {
			// Saturated provider: move on without consuming a retry.
			r.logger.Printf("Provider %s at capacity, skipping (query: %s)", name, req.ID)
			continue
		}

		attempts++
		attempted = append(attempted, name)
		fallback := len(attempted) > 1

		attemptStart := time.Now()
		resp, err := r.attempt(ctx, name, req)
		release()

		if err != nil {
			r.registry.RecordFailure(name)
			if r.metrics != nil {
				// Record this attempt's own duration, not time since Route
				// entry: earlier attempts must not inflate this provider's
				// latency stats.
				r.metrics.RecordCall(name, time.Since(attemptStart), false, fallback)
			}
			r.logger.Printf("Provider %s failed for query %s: %v", name, req.ID, err)
			continue
		}

		r.registry.RecordSuccess(name, resp.Latency)
		if r.metrics != nil {
			r.metrics.RecordCall(name, resp.Latency, true, fallback)
		}

		if r.cache != nil {
			ttl := cfg.CacheTTL
			if ttl <= 0 {
				ttl = DefaultCacheTTL
			}
			r.cache.Put(ctx, req.CacheKey(), resp.Payload, ttl)
		}

		return &types.OrchestrationResult{
			QueryID:            req.ID,
			Provider:           name,
			AttemptedProviders: attempted,
			Success:            true,
			Payload:            resp.Payload,
			FallbackUsed:       fallback,
			Latency:            time.Since(start),
		}, nil
	}

	// Distinguish deadline expiry and no-attempt starvation from plain
	// retry exhaustion.
	code := ErrCodeAllAttemptsFailed
	msg := fmt.Sprintf("all %d attempt(s) failed", len(attempted))
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		code = ErrCodeTimeout
		msg = fmt.Sprintf("deadline exceeded after %d attempt(s)", len(attempted))
	case len(attempted) == 0:
		code = ErrCodeProviderUnavailable
		msg = "no provider available: every candidate skipped (open circuit or at capacity)"
	}

	err := &OrchestrationError{Code: code, QueryID: req.ID, Message: msg, Cause: ctx.Err()}
	return &types.OrchestrationResult{
		QueryID:            req.ID,
		AttemptedProviders: attempted,
		Success:            false,
		Error:              msg,
		FallbackUsed:       true,
		Latency:            time.Since(start),
	}, err
}

// attempt executes one provider call under the per-attempt hard timeout.
func (r *Router) attempt(ctx context.Context, name string, req types.QueryRequest) (*Response, error) {
	provider, err := r.registry.Get(name)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptBudget(req.Complexity))
	defer cancel()

	start := time.Now()
	resp, err := provider.Execute(attemptCtx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("provider %s returned nil response", name)
	}
	if resp.Latency == 0 {
		resp.Latency = time.Since(start)
	}
	return resp, nil
}
